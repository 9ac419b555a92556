// Package table reads and writes the flat CSV form of a quiz: a header row, a
// description row, then one positional 18-column row per question.
package table

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/pavelanni/qticsv/internal/i18n"
	"github.com/pavelanni/qticsv/internal/model"
)

// metadataRows is the number of leading rows (header, description) that carry
// no question data.
const metadataRows = 2

// MalformedRowError reports a data row that cannot be turned into a Row.
type MalformedRowError struct {
	Row    int // 1-based data row, not counting header and description
	Line   int // 1-based line in the file, 0 if unknown
	Column model.Column
	Value  string
	Reason string
}

func (e *MalformedRowError) Error() string {
	loc := fmt.Sprintf("row %d", e.Row)
	if e.Line > 0 {
		loc += fmt.Sprintf(" (line %d)", e.Line)
	}
	if e.Column >= 0 && int(e.Column) < model.NumColumns {
		return fmt.Sprintf("malformed %s, column %s (%s): %s", loc,
			model.Letter(int(e.Column)), model.Columns[e.Column].Key, e.Reason)
	}
	return fmt.Sprintf("malformed %s: %s", loc, e.Reason)
}

// WriteOptions controls the written table.
type WriteOptions struct {
	// Lang selects the language of the header and description rows.
	Lang string
	// BOM prefixes the output with a UTF-8 byte order mark so spreadsheet
	// software detects the encoding.
	BOM bool
}

// Write emits the header row, the description row and one row per record.
func Write(w io.Writer, rows []model.Row, opts WriteOptions) (err error) {
	if opts.BOM {
		tw := transform.NewWriter(w, unicode.UTF8BOM.NewEncoder())
		defer func() {
			if cerr := tw.Close(); err == nil {
				err = cerr
			}
		}()
		w = tw
	}

	ctx := context.Background()
	if opts.Lang != "" {
		ctx = i18n.WithLocalizer(ctx, i18n.NewLocalizer(opts.Lang))
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(i18n.ColumnHeaders(ctx)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := cw.Write(i18n.ColumnDescriptions(ctx)); err != nil {
		return fmt.Errorf("write descriptions: %w", err)
	}
	for i, r := range rows {
		if err := cw.Write(FormatRecord(r)); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// FormatRecord lays a row out in column order.
func FormatRecord(r model.Row) []string {
	rec := make([]string, model.NumColumns)
	rec[model.ColType] = string(r.Type)
	rec[model.ColTitle] = r.Title
	rec[model.ColPoints] = FormatPoints(r.Points)
	rec[model.ColBody] = r.Body
	rec[model.ColCorrect] = FormatCorrect(r.Correct)
	for i := 0; i < model.MaxAnswers; i++ {
		if i < len(r.Answers) {
			rec[model.AnswerColumn(i)] = r.Answers[i]
		}
		rec[model.AnswerFeedbackColumn(i)] = r.AnswerFeedback[i]
	}
	rec[model.ColGeneralFeedback] = r.GeneralFeedback
	rec[model.ColCorrectFeedback] = r.CorrectFeedback
	rec[model.ColIncorrectFeedback] = r.IncorrectFeedback
	return rec
}

// FormatPoints renders a point value in its shortest exact decimal form.
func FormatPoints(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

// FormatCorrect renders 1-based answer positions as "1" or "1,3".
func FormatCorrect(correct []int) string {
	parts := make([]string, len(correct))
	for i, c := range correct {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, ",")
}

// Read parses a table written by Write, or edited from it. The first two rows
// are skipped, all-empty rows are ignored, and the first malformed row aborts
// the read.
func Read(r io.Reader) ([]model.Row, error) {
	cr := csv.NewReader(transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())))
	cr.FieldsPerRecord = -1

	var rows []model.Row
	for index := 0; ; index++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return nil, &MalformedRowError{
					Row:    index - metadataRows + 1,
					Line:   pe.StartLine,
					Column: -1,
					Reason: pe.Err.Error(),
				}
			}
			return nil, fmt.Errorf("read table: %w", err)
		}
		if index < metadataRows || blank(rec) {
			continue
		}

		row, err := ParseRecord(rec)
		if err != nil {
			var me *MalformedRowError
			if errors.As(err, &me) {
				me.Row = index - metadataRows + 1
				me.Line, _ = cr.FieldPos(0)
			}
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ParseRecord converts one positional record into a Row. Errors are
// *MalformedRowError without row numbers.
func ParseRecord(rec []string) (model.Row, error) {
	if len(rec) < model.NumColumns {
		return model.Row{}, &MalformedRowError{
			Column: -1,
			Reason: fmt.Sprintf("has %d columns, want %d", len(rec), model.NumColumns),
		}
	}
	cell := func(c model.Column) string { return strings.TrimSpace(rec[c]) }

	var row model.Row
	var err error

	if row.Type, err = model.ParseQuestionType(cell(model.ColType)); err != nil {
		return model.Row{}, malformed(model.ColType, rec, err.Error())
	}
	row.Title = cell(model.ColTitle)

	if row.Points, err = ParsePoints(cell(model.ColPoints)); err != nil {
		return model.Row{}, malformed(model.ColPoints, rec, err.Error())
	}
	row.Body = cell(model.ColBody)

	if row.Correct, err = ParseCorrect(cell(model.ColCorrect)); err != nil {
		return model.Row{}, malformed(model.ColCorrect, rec, err.Error())
	}

	answers := make([]string, model.MaxAnswers)
	for i := range answers {
		answers[i] = cell(model.AnswerColumn(i))
		row.AnswerFeedback[i] = cell(model.AnswerFeedbackColumn(i))
	}
	row.Answers = model.TrimAnswers(answers)

	row.GeneralFeedback = cell(model.ColGeneralFeedback)
	row.CorrectFeedback = cell(model.ColCorrectFeedback)
	row.IncorrectFeedback = cell(model.ColIncorrectFeedback)
	return row, nil
}

// ParsePoints parses a non-negative decimal point value.
func ParsePoints(s string) (float64, error) {
	p, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("point value %q is not a number", s)
	}
	if p < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
		return 0, fmt.Errorf("point value %q must be a non-negative number", s)
	}
	return p, nil
}

// ParseCorrect parses one or more positive 1-based answer positions separated
// by commas, semicolons or whitespace. The result is sorted and free of
// repeats.
func ParseCorrect(s string) ([]int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t'
	})
	if len(fields) == 0 {
		return nil, fmt.Errorf("correct answer is empty")
	}
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("correct answer %q is not a positive integer", f)
		}
		out = append(out, n)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

func malformed(col model.Column, rec []string, reason string) *MalformedRowError {
	return &MalformedRowError{Column: col, Value: rec[col], Reason: reason}
}

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
