package model

import (
	"fmt"
	"slices"
	"strings"
)

// QuestionType identifies how many answers of a question are correct.
type QuestionType string

const (
	// TypeMC is a multiple-choice question with a single correct answer.
	TypeMC QuestionType = "MC"
	// TypeMR is a multiple-response question with one or more correct answers.
	TypeMR QuestionType = "MR"
)

// ParseQuestionType accepts the tabular tokens for a question type, ignoring case
// and surrounding whitespace.
func ParseQuestionType(s string) (QuestionType, error) {
	switch QuestionType(strings.ToUpper(strings.TrimSpace(s))) {
	case TypeMC:
		return TypeMC, nil
	case TypeMR:
		return TypeMR, nil
	}
	return "", fmt.Errorf("unknown question type %q (want MC or MR)", s)
}

// MaxAnswers is the number of answer slots a row carries.
const MaxAnswers = 5

// Row is one question in its flat, spreadsheet-friendly form. It is the
// contract between the QTI parser, the QTI generator and the CSV table.
type Row struct {
	Type   QuestionType `validate:"oneof=MC MR"`
	Title  string
	Points float64 `validate:"gte=0"`
	Body   string  `validate:"required"`
	// Correct holds 1-based answer positions. MC rows carry exactly one.
	Correct []int `validate:"min=1,dive,gte=1,lte=5"`
	// Answers[i] is the text of choice letter 'A'+i. Trailing empty slots are
	// never stored.
	Answers           []string `validate:"min=1,max=5"`
	GeneralFeedback   string
	CorrectFeedback   string
	IncorrectFeedback string
	// AnswerFeedback[i] is shown when answer i+1 is selected.
	AnswerFeedback [MaxAnswers]string
}

// TrimAnswers drops trailing empty answer slots.
func TrimAnswers(answers []string) []string {
	n := len(answers)
	for n > 0 && strings.TrimSpace(answers[n-1]) == "" {
		n--
	}
	if n == 0 {
		return nil
	}
	return answers[:n]
}

// IsCorrect reports whether the 1-based answer position is marked correct.
func (r Row) IsCorrect(pos int) bool {
	return slices.Contains(r.Correct, pos)
}

// Letter returns the spreadsheet letter for a 0-based answer position.
func Letter(i int) string {
	return string(rune('A' + i))
}
