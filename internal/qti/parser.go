package qti

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/pavelanni/qticsv/internal/model"
)

// ParseOptions controls how item text is carried into rows.
type ParseOptions struct {
	// PlainText strips HTML markup and entities from bodies, answers and
	// feedback. Off by default so markup survives a round trip.
	PlainText bool
}

// ParseResult is the outcome of parsing one assessment document.
type ParseResult struct {
	Title   string
	Rows    []model.Row
	Skipped []SkippedItemError
}

// Parse reads a QTI 1.2 assessment document and returns one row per supported
// item, in document order. Items are found at any depth, so question banks
// (objectbank) parse the same way as assessments.
func Parse(r io.Reader, opts ParseOptions) (*ParseResult, error) {
	res := &ParseResult{}
	dec := xml.NewDecoder(r)
	position := 0
	rootSeen := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &DocumentParseError{Err: err}
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if !rootSeen {
			if se.Name.Local != "questestinterop" {
				return nil, &DocumentParseError{Err: fmt.Errorf("root element is <%s>, want <questestinterop>", se.Name.Local)}
			}
			rootSeen = true
			continue
		}
		switch se.Name.Local {
		case "assessment", "objectbank":
			if res.Title == "" {
				res.Title = attr(se, "title")
			}
		case "item":
			var it item
			if err := dec.DecodeElement(&it, &se); err != nil {
				return nil, &DocumentParseError{Err: err}
			}
			position++
			row, err := parseItem(it, opts)
			if err != nil {
				skipped := SkippedItemError{Position: position, Ident: it.Ident, Title: it.Title, Reason: err.Error()}
				slog.Warn("skipping item", "position", position, "ident", it.Ident, "title", it.Title, "reason", err)
				res.Skipped = append(res.Skipped, skipped)
				continue
			}
			res.Rows = append(res.Rows, row)
		}
	}
	if !rootSeen {
		return nil, &DocumentParseError{Err: errors.New("no root element")}
	}
	if position == 0 {
		slog.Warn("assessment document contains no items")
	}
	return res, nil
}

// parseItem maps one item to a row. A returned error is the reason the item
// is skipped.
func parseItem(it item, opts ParseOptions) (model.Row, error) {
	text := func(s string) string {
		if opts.PlainText {
			s = PlainText(s)
		}
		return strings.TrimSpace(s)
	}

	row := model.Row{Title: strings.TrimSpace(it.Title)}

	qtype, _ := metadataValue(it.Metadata, "question_type")
	switch qtype {
	case "", metaMultipleChoice, metaTrueFalse:
		row.Type = model.TypeMC
	case metaMultipleAnswers, metaMultipleResponse:
		row.Type = model.TypeMR
	default:
		return model.Row{}, fmt.Errorf("unsupported question type %q", qtype)
	}

	rawPoints, ok := metadataValue(it.Metadata, "points_possible")
	if !ok {
		return model.Row{}, errors.New("missing point value")
	}
	points, err := strconv.ParseFloat(strings.TrimSpace(rawPoints), 64)
	if err != nil || points < 0 || math.IsNaN(points) || math.IsInf(points, 0) {
		return model.Row{}, fmt.Errorf("invalid point value %q", rawPoints)
	}
	row.Points = points

	row.Body = text(firstText(it.Presentation.Material))
	if row.Body == "" {
		return model.Row{}, errors.New("missing question body")
	}

	lid := it.Presentation.ResponseLid
	if lid == nil || len(lid.RenderChoice.Labels) == 0 {
		return model.Row{}, errors.New("no answer choices")
	}
	labels := lid.RenderChoice.Labels
	if len(labels) > model.MaxAnswers {
		return model.Row{}, fmt.Errorf("%d answer choices, at most %d are supported", len(labels), model.MaxAnswers)
	}
	if strings.EqualFold(lid.RCardinality, "Multiple") {
		row.Type = model.TypeMR
	}

	// choice ident -> 1-based position
	positions := make(map[string]int, len(labels))
	answers := make([]string, len(labels))
	for i, l := range labels {
		positions[l.Ident] = i + 1
		answers[i] = text(firstText(l.Material))
	}
	row.Answers = model.TrimAnswers(answers)

	var conditions []respCondition
	maxScore := 100.0
	if it.ResProcessing != nil {
		conditions = it.ResProcessing.Conditions
		for _, dv := range it.ResProcessing.Outcomes.DecVar {
			if v, err := strconv.ParseFloat(dv.MaxValue, 64); err == nil && v > 0 && (dv.VarName == "" || dv.VarName == scoreVar) {
				maxScore = v
			}
		}
	}

	scoring := -1
	for i, c := range conditions {
		if c.awardsFullScore(maxScore) {
			scoring = i
			break
		}
	}
	if scoring < 0 {
		return model.Row{}, errors.New("no correct answer")
	}
	for _, id := range conditions[scoring].ConditionVar.selected() {
		pos, ok := positions[id]
		if !ok {
			return model.Row{}, fmt.Errorf("correct answer references unknown choice %q", id)
		}
		if !slices.Contains(row.Correct, pos) {
			row.Correct = append(row.Correct, pos)
		}
	}
	if len(row.Correct) == 0 {
		return model.Row{}, errors.New("no correct answer")
	}
	slices.Sort(row.Correct)
	if len(row.Correct) > 1 {
		row.Type = model.TypeMR
	}
	for _, c := range row.Correct {
		if c > len(row.Answers) || row.Answers[c-1] == "" {
			return model.Row{}, fmt.Errorf("correct answer %s has no text", model.Letter(c-1))
		}
	}
	// An image-only choice loses its text; a gap would not survive import.
	for i, a := range row.Answers {
		if strings.TrimSpace(a) == "" {
			return model.Row{}, fmt.Errorf("answer %s has no text", model.Letter(i))
		}
	}

	slots := classifyFeedback(conditions, scoring, positions)
	for _, fb := range it.Feedback {
		slot, ok := slots[fb.Ident]
		if !ok {
			slot, ok = slotByConvention(fb.Ident, positions)
		}
		if !ok {
			slog.Debug("ignoring unlinked feedback", "item", it.Ident, "feedback", fb.Ident)
			continue
		}
		body := text(fb.text())
		if body == "" {
			continue
		}
		var dst *string
		switch slot.kind {
		case slotGeneral:
			dst = &row.GeneralFeedback
		case slotCorrect:
			dst = &row.CorrectFeedback
		case slotIncorrect:
			dst = &row.IncorrectFeedback
		case slotChoice:
			dst = &row.AnswerFeedback[slot.choice-1]
		}
		if *dst == "" {
			*dst = body
		}
	}
	return row, nil
}

type slotKind int

const (
	slotGeneral slotKind = iota
	slotCorrect
	slotIncorrect
	slotChoice
)

type feedbackSlot struct {
	kind   slotKind
	choice int // 1-based, for slotChoice
}

// classifyFeedback maps feedback idents to row slots by the response
// condition that displays them. A block shown for a single selected choice is
// per-choice feedback even when the same block is also linked elsewhere.
func classifyFeedback(conditions []respCondition, scoring int, positions map[string]int) map[string]feedbackSlot {
	slots := make(map[string]feedbackSlot)
	assign := func(ref string, s feedbackSlot) {
		if prev, ok := slots[ref]; ok && prev.kind == slotChoice {
			return
		}
		if _, ok := slots[ref]; ok && s.kind != slotChoice {
			return
		}
		slots[ref] = s
	}

	for i, c := range conditions {
		var s feedbackSlot
		switch {
		case i == scoring:
			s = feedbackSlot{kind: slotCorrect}
		case c.ConditionVar.Other != nil && i < scoring:
			s = feedbackSlot{kind: slotGeneral}
		case c.ConditionVar.Other != nil:
			s = feedbackSlot{kind: slotIncorrect}
		default:
			id, ok := c.ConditionVar.single()
			pos, known := positions[id]
			if !ok || !known || len(c.SetVar) > 0 {
				continue
			}
			s = feedbackSlot{kind: slotChoice, choice: pos}
		}
		for _, df := range c.DisplayFeedback {
			assign(df.LinkRefID, s)
		}
	}
	return slots
}

// slotByConvention classifies a feedback block that no condition links to by
// the ident naming used by Canvas.
func slotByConvention(ident string, positions map[string]int) (feedbackSlot, bool) {
	switch ident {
	case feedbackGeneral:
		return feedbackSlot{kind: slotGeneral}, true
	case feedbackCorrect:
		return feedbackSlot{kind: slotCorrect}, true
	case feedbackWrong:
		return feedbackSlot{kind: slotIncorrect}, true
	}
	if id, ok := strings.CutSuffix(ident, feedbackSuffix); ok {
		if pos, ok := positions[id]; ok {
			return feedbackSlot{kind: slotChoice, choice: pos}, true
		}
	}
	return feedbackSlot{}, false
}

// awardsFullScore reports whether the condition sets the score to its maximum.
func (c respCondition) awardsFullScore(maxScore float64) bool {
	for _, sv := range c.SetVar {
		if !strings.EqualFold(sv.Action, "Set") {
			continue
		}
		if sv.VarName != "" && sv.VarName != scoreVar {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(sv.Value), 64)
		if err == nil && v > 0 && v >= maxScore {
			return true
		}
	}
	return false
}

// selected returns the choice idents that must be selected for the condition
// to hold. Choices under <not> are excluded.
func (cv conditionVar) selected() []string {
	var out []string
	for _, ve := range cv.VarEqual {
		out = append(out, strings.TrimSpace(ve.Value))
	}
	if cv.And != nil {
		out = append(out, cv.And.selected()...)
	}
	return out
}

// single returns the choice ident when the condition tests exactly one choice
// and nothing else.
func (cv conditionVar) single() (string, bool) {
	if cv.Other != nil || cv.And != nil || len(cv.Not) > 0 || len(cv.VarEqual) != 1 {
		return "", false
	}
	return strings.TrimSpace(cv.VarEqual[0].Value), true
}

func attr(se xml.StartElement, name string) string {
	for _, a := range se.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}
