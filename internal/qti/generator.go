package qti

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/pavelanni/qticsv/internal/model"
)

// identNamespace seeds the name-based UUIDs used for generated identifiers.
var identNamespace = uuid.MustParse("6f1c2d3e-8a4b-4c5d-9e6f-7a8b9c0d1e2f")

var validate = validator.New()

// GenerateOptions controls package-level metadata.
type GenerateOptions struct {
	// Title names the quiz in the LMS. Identifiers are derived from it.
	Title string
	// QuizType is the Canvas quiz type; "assignment" when empty.
	QuizType string
}

// Package holds the documents of a QTI package, keyed by archive entry name.
type Package struct {
	Ident       string
	Title       string
	TotalPoints float64
	Files       map[string][]byte
}

// AssessmentPath returns the archive entry name of the assessment document.
func (p *Package) AssessmentPath() string {
	return p.Ident + "/" + p.Ident + ".xml"
}

// MetaPath returns the archive entry name of the Canvas quiz settings.
func (p *Package) MetaPath() string {
	return p.Ident + "/" + assessmentMetaName
}

// Generate builds a QTI package from rows. Identifiers are pure functions of
// the title and row position, so identical input yields identical bytes.
func Generate(rows []model.Row, opts GenerateOptions) (*Package, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		title = "Quiz"
	}
	quizType := opts.QuizType
	if quizType == "" {
		quizType = "assignment"
	}

	aid := Ident("assessment", title)
	doc := questestinterop{
		Xmlns:          NamespaceQTI,
		XmlnsXSI:       namespaceXSI,
		SchemaLocation: schemaLocation,
		Assessment: assessment{
			Ident:   aid,
			Title:   title,
			Section: section{Ident: "root_section"},
		},
	}

	var total float64
	for i, r := range rows {
		r.Correct = slices.Sorted(slices.Values(r.Correct))
		if err := ValidateRow(i, r); err != nil {
			return nil, err
		}
		doc.Assessment.Section.Items = append(doc.Assessment.Section.Items, buildItem(aid, i, r))
		total += r.Points
	}
	if len(rows) == 0 {
		slog.Warn("generating a package with no questions", "title", title)
	}

	assessmentXML, err := marshalDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal assessment: %w", err)
	}

	depID := Ident("assessment", title, "meta")
	pkg := &Package{Ident: aid, Title: title, TotalPoints: total}
	manifestXML, err := marshalDocument(buildManifest(aid, depID, title))
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	metaXML, err := marshalDocument(quizMeta{
		Xmlns:          namespaceCanvas,
		XmlnsXSI:       namespaceXSI,
		SchemaLocation: namespaceCanvas + " https://canvas.instructure.com/xsd/cccv1p0.xsd",
		Identifier:     aid,
		Title:          title,
		PointsPossible: strconv.FormatFloat(total, 'f', -1, 64),
		QuizType:       quizType,
		ShuffleAnswers: false,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal assessment meta: %w", err)
	}

	pkg.Files = map[string][]byte{
		ManifestPath:         manifestXML,
		pkg.AssessmentPath(): assessmentXML,
		pkg.MetaPath():       metaXML,
	}
	return pkg, nil
}

// Ident derives a stable identifier from its parts.
func Ident(parts ...string) string {
	id := uuid.NewSHA1(identNamespace, []byte(strings.Join(parts, "\x00")))
	return "i" + strings.ReplaceAll(id.String(), "-", "")
}

// ChoiceIdent is the identifier of answer slot j (0-based) of row i (0-based).
// Numeric like Canvas answer ids and unique across the document.
func ChoiceIdent(i, j int) string {
	return strconv.Itoa(100*(i+1) + j + 1)
}

// ValidateRow checks that row i (0-based) can be turned into an item.
func ValidateRow(i int, r model.Row) error {
	rowNum := i + 1
	if err := validate.Struct(r); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			return &InvalidRowError{Row: rowNum, Field: fieldName(ve[0]), Reason: describe(ve[0])}
		}
		return &InvalidRowError{Row: rowNum, Reason: err.Error()}
	}

	filled := 0
	for j, a := range r.Answers {
		if strings.TrimSpace(a) != "" {
			filled++
			continue
		}
		for _, later := range r.Answers[j+1:] {
			if strings.TrimSpace(later) != "" {
				return &InvalidRowError{Row: rowNum, Field: "answer " + model.Letter(j),
					Reason: "is empty but a later answer is set"}
			}
		}
	}
	if filled == 0 {
		return &InvalidRowError{Row: rowNum, Field: "answers", Reason: "are all empty"}
	}

	seen := make(map[int]bool, len(r.Correct))
	for _, c := range r.Correct {
		if seen[c] {
			return &InvalidRowError{Row: rowNum, Field: "correct answer",
				Reason: fmt.Sprintf("lists %d twice", c)}
		}
		seen[c] = true
		if c > len(r.Answers) || strings.TrimSpace(r.Answers[c-1]) == "" {
			return &InvalidRowError{Row: rowNum, Field: "correct answer",
				Reason: fmt.Sprintf("%d points at an empty answer slot (%d answers given)", c, filled)}
		}
	}
	if r.Type == model.TypeMC && len(r.Correct) != 1 {
		return &InvalidRowError{Row: rowNum, Field: "correct answer",
			Reason: fmt.Sprintf("lists %d answers but an MC question has exactly one", len(r.Correct))}
	}

	if filled < 2 {
		slog.Warn("question has fewer than two answers", "row", rowNum, "answers", filled)
	}
	for j, fb := range r.AnswerFeedback {
		if fb != "" && j >= len(r.Answers) {
			slog.Warn("dropping feedback for an empty answer slot", "row", rowNum, "answer", model.Letter(j))
		}
	}
	return nil
}

func fieldName(fe validator.FieldError) string {
	switch fe.StructField() {
	case "Type":
		return "question type"
	case "Points":
		return "point value"
	case "Body":
		return "question body"
	case "Answers":
		return "answers"
	}
	if strings.HasPrefix(fe.StructField(), "Correct") {
		return "correct answer"
	}
	return fe.Field()
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("%v is not one of %s", fe.Value(), fe.Param())
	case "min":
		return "is empty"
	case "max":
		return fmt.Sprintf("has more than %s entries", fe.Param())
	case "gte", "lte":
		return fmt.Sprintf("%v is out of range", fe.Value())
	}
	return fmt.Sprintf("fails %q", fe.Tag())
}

func buildItem(aid string, i int, r model.Row) item {
	qtype, cardinality := metaMultipleChoice, "Single"
	if r.Type == model.TypeMR {
		qtype, cardinality = metaMultipleAnswers, "Multiple"
	}

	it := item{
		Ident: Ident(aid, "item", strconv.Itoa(i)),
		Title: r.Title,
		Metadata: []metadataField{
			{Label: "question_type", Entry: qtype},
			{Label: "points_possible", Entry: strconv.FormatFloat(r.Points, 'f', -1, 64)},
		},
		Presentation: presentation{
			Material: textMaterial(textTypeHTML, r.Body),
			ResponseLid: &responseLid{
				Ident:        responseIdent,
				RCardinality: cardinality,
			},
		},
	}
	for j, a := range r.Answers {
		it.Presentation.ResponseLid.RenderChoice.Labels = append(it.Presentation.ResponseLid.RenderChoice.Labels,
			responseLabel{Ident: ChoiceIdent(i, j), Material: textMaterial(textTypePlain, a)})
	}

	rp := &resProcessing{
		Outcomes: outcomes{DecVar: []decVar{{MaxValue: scoreMax, MinValue: "0", VarName: scoreVar, VarType: "Decimal"}}},
	}
	if r.GeneralFeedback != "" {
		rp.Conditions = append(rp.Conditions, otherCondition(feedbackGeneral))
		it.Feedback = append(it.Feedback, feedbackBlock(feedbackGeneral, r.GeneralFeedback))
	}
	for j := range r.Answers {
		fb := r.AnswerFeedback[j]
		if fb == "" {
			continue
		}
		ref := ChoiceIdent(i, j) + feedbackSuffix
		rp.Conditions = append(rp.Conditions, respCondition{
			Continue:        "Yes",
			ConditionVar:    conditionVar{VarEqual: []varEqual{{RespIdent: responseIdent, Value: ChoiceIdent(i, j)}}},
			DisplayFeedback: []displayFeedback{{FeedbackType: "Response", LinkRefID: ref}},
		})
	}

	correct := respCondition{
		Continue:     "No",
		ConditionVar: correctCondition(i, r),
		SetVar:       []setVar{{Action: "Set", VarName: scoreVar, Value: scoreMax}},
	}
	if r.CorrectFeedback != "" {
		correct.DisplayFeedback = []displayFeedback{{FeedbackType: "Response", LinkRefID: feedbackCorrect}}
		it.Feedback = append(it.Feedback, feedbackBlock(feedbackCorrect, r.CorrectFeedback))
	}
	rp.Conditions = append(rp.Conditions, correct)

	if r.IncorrectFeedback != "" {
		rp.Conditions = append(rp.Conditions, otherCondition(feedbackWrong))
		it.Feedback = append(it.Feedback, feedbackBlock(feedbackWrong, r.IncorrectFeedback))
	}
	for j := range r.Answers {
		if fb := r.AnswerFeedback[j]; fb != "" {
			it.Feedback = append(it.Feedback, feedbackBlock(ChoiceIdent(i, j)+feedbackSuffix, fb))
		}
	}
	it.ResProcessing = rp
	return it
}

// correctCondition tests the single correct choice for MC rows. MR rows
// require every correct choice and none of the others.
func correctCondition(i int, r model.Row) conditionVar {
	if r.Type != model.TypeMR {
		return conditionVar{VarEqual: []varEqual{{RespIdent: responseIdent, Value: ChoiceIdent(i, r.Correct[0]-1)}}}
	}
	and := &conditionVar{}
	for j := range r.Answers {
		ve := varEqual{RespIdent: responseIdent, Value: ChoiceIdent(i, j)}
		if r.IsCorrect(j + 1) {
			and.VarEqual = append(and.VarEqual, ve)
		} else {
			and.Not = append(and.Not, conditionVar{VarEqual: []varEqual{ve}})
		}
	}
	return conditionVar{And: and}
}

func otherCondition(ref string) respCondition {
	return respCondition{
		Continue:        "Yes",
		ConditionVar:    conditionVar{Other: &struct{}{}},
		DisplayFeedback: []displayFeedback{{FeedbackType: "Response", LinkRefID: ref}},
	}
}

func feedbackBlock(ident, text string) itemFeedback {
	return itemFeedback{Ident: ident, FlowMat: &flowMat{Material: textMaterial(textTypeHTML, text)}}
}

func marshalDocument(v any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
