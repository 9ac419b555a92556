package model

// ColumnLayoutVersion is bumped whenever the positional column table changes.
// Reader and writer share the table below; header text is never interpreted.
const ColumnLayoutVersion = 1

// Column is a 0-based position in the tabular form.
type Column int

const (
	ColType Column = iota
	ColTitle
	ColPoints
	ColBody
	ColCorrect
	ColAnswer1
	ColAnswer2
	ColAnswer3
	ColAnswer4
	ColAnswer5
	ColGeneralFeedback
	ColCorrectFeedback
	ColIncorrectFeedback
	ColAnswerFeedback1
	ColAnswerFeedback2
	ColAnswerFeedback3
	ColAnswerFeedback4
	ColAnswerFeedback5

	// NumColumns is the fixed width of a data row.
	NumColumns int = iota
)

// ColumnInfo describes one column. MessageID keys the localized header; the
// description uses MessageID+"Desc". Number is substituted into templated
// messages for the repeated answer columns.
type ColumnInfo struct {
	Key       string
	MessageID string
	Number    int
}

// Columns is the positional layout shared by the table reader and writer.
var Columns = [NumColumns]ColumnInfo{
	ColType:              {Key: "type", MessageID: "ColType"},
	ColTitle:             {Key: "title", MessageID: "ColTitle"},
	ColPoints:            {Key: "points", MessageID: "ColPoints"},
	ColBody:              {Key: "body", MessageID: "ColBody"},
	ColCorrect:           {Key: "correct", MessageID: "ColCorrect"},
	ColAnswer1:           {Key: "answer_1", MessageID: "ColAnswer", Number: 1},
	ColAnswer2:           {Key: "answer_2", MessageID: "ColAnswer", Number: 2},
	ColAnswer3:           {Key: "answer_3", MessageID: "ColAnswer", Number: 3},
	ColAnswer4:           {Key: "answer_4", MessageID: "ColAnswer", Number: 4},
	ColAnswer5:           {Key: "answer_5", MessageID: "ColAnswer", Number: 5},
	ColGeneralFeedback:   {Key: "general_feedback", MessageID: "ColGeneralFeedback"},
	ColCorrectFeedback:   {Key: "correct_feedback", MessageID: "ColCorrectFeedback"},
	ColIncorrectFeedback: {Key: "incorrect_feedback", MessageID: "ColIncorrectFeedback"},
	ColAnswerFeedback1:   {Key: "feedback_1", MessageID: "ColAnswerFeedback", Number: 1},
	ColAnswerFeedback2:   {Key: "feedback_2", MessageID: "ColAnswerFeedback", Number: 2},
	ColAnswerFeedback3:   {Key: "feedback_3", MessageID: "ColAnswerFeedback", Number: 3},
	ColAnswerFeedback4:   {Key: "feedback_4", MessageID: "ColAnswerFeedback", Number: 4},
	ColAnswerFeedback5:   {Key: "feedback_5", MessageID: "ColAnswerFeedback", Number: 5},
}

// AnswerColumn returns the column holding the 0-based answer slot i.
func AnswerColumn(i int) Column { return ColAnswer1 + Column(i) }

// AnswerFeedbackColumn returns the column holding feedback for answer slot i.
func AnswerFeedbackColumn(i int) Column { return ColAnswerFeedback1 + Column(i) }
