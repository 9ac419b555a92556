package qti

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/pavelanni/qticsv/internal/model"
)

// canvasItem renders an item the way Canvas exports a multiple-choice
// question: per-choice and general feedback linked by conditions, the scoring
// condition last.
func canvasItem(ident, body string, points string, correct string, choices ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<item ident="%s" title="Question">
  <itemmetadata><qtimetadata>
    <qtimetadatafield><fieldlabel>question_type</fieldlabel><fieldentry>multiple_choice_question</fieldentry></qtimetadatafield>
    <qtimetadatafield><fieldlabel>points_possible</fieldlabel><fieldentry>%s</fieldentry></qtimetadatafield>
  </qtimetadata></itemmetadata>
  <presentation>
    <material><mattext texttype="text/html">%s</mattext></material>
    <response_lid ident="response1" rcardinality="Single"><render_choice>`, ident, points, body)
	for i, c := range choices {
		fmt.Fprintf(&b, `<response_label ident="%d"><material><mattext texttype="text/plain">%s</mattext></material></response_label>`, 1000+i, c)
	}
	fmt.Fprintf(&b, `</render_choice></response_lid>
  </presentation>
  <resprocessing>
    <outcomes><decvar maxvalue="100" minvalue="0" varname="SCORE" vartype="Decimal"/></outcomes>
    <respcondition continue="Yes"><conditionvar><other/></conditionvar><displayfeedback feedbacktype="Response" linkrefid="general_fb"/></respcondition>
    <respcondition continue="Yes"><conditionvar><varequal respident="response1">1000</varequal></conditionvar><displayfeedback feedbacktype="Response" linkrefid="1000_fb"/></respcondition>
    <respcondition continue="No"><conditionvar><varequal respident="response1">%s</varequal></conditionvar><setvar action="Set" varname="SCORE">100</setvar></respcondition>
  </resprocessing>
  <itemfeedback ident="general_fb"><flow_mat><material><mattext texttype="text/html">General</mattext></material></flow_mat></itemfeedback>
  <itemfeedback ident="1000_fb"><flow_mat><material><mattext texttype="text/html">First choice</mattext></material></flow_mat></itemfeedback>
</item>
`, correct)
	return b.String()
}

func canvasDoc(items ...string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<questestinterop xmlns="http://www.imsglobal.org/xsd/ims_qtiasiv1p2">
  <assessment ident="a1" title="Week 1">
    <qtimetadata><qtimetadatafield><fieldlabel>cc_maxattempts</fieldlabel><fieldentry>1</fieldentry></qtimetadatafield></qtimetadata>
    <section ident="root_section">
` + strings.Join(items, "") + `    </section>
  </assessment>
</questestinterop>
`
}

func parseString(t *testing.T, doc string, opts ParseOptions) *ParseResult {
	t.Helper()
	res, err := Parse(strings.NewReader(doc), opts)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return res
}

func TestParseCanvasItem(t *testing.T) {
	res := parseString(t, canvasDoc(canvasItem("q1", "&lt;p&gt;2+2=?&lt;/p&gt;", "2", "1001", "3", "4", "5")), ParseOptions{})

	if res.Title != "Week 1" {
		t.Errorf("title = %q", res.Title)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d (skipped %v)", len(res.Rows), res.Skipped)
	}
	want := model.Row{
		Type:            model.TypeMC,
		Title:           "Question",
		Points:          2,
		Body:            "<p>2+2=?</p>",
		Correct:         []int{2},
		Answers:         []string{"3", "4", "5"},
		GeneralFeedback: "General",
		AnswerFeedback:  [model.MaxAnswers]string{"First choice"},
	}
	if !reflect.DeepEqual(res.Rows[0], want) {
		t.Errorf("got %+v\nwant %+v", res.Rows[0], want)
	}
}

func TestParseSkipsIncompleteItems(t *testing.T) {
	var items []string
	for i := range 5 {
		items = append(items, canvasItem(fmt.Sprintf("ok%d", i), "body", "1", "1000", "a", "b"))
	}
	items = append(items[:3], append([]string{canvasItem("nobody", "", "1", "1000", "a", "b")}, items[3:]...)...)

	res := parseString(t, canvasDoc(items...), ParseOptions{})
	if len(res.Rows) != 5 {
		t.Errorf("expected 5 rows, got %d", len(res.Rows))
	}
	if len(res.Skipped) != 1 {
		t.Fatalf("expected 1 skipped item, got %d", len(res.Skipped))
	}
	s := res.Skipped[0]
	if s.Position != 4 || s.Ident != "nobody" || !strings.Contains(s.Reason, "body") {
		t.Errorf("unexpected diagnostic %+v", s)
	}
	if IsFatal(s) {
		t.Error("a skipped item must not be fatal")
	}
}

func TestParseSkipReasons(t *testing.T) {
	essay := strings.Replace(canvasItem("essay", "body", "1", "1000", "a"),
		"multiple_choice_question", "essay_question", 1)
	noPoints := strings.Replace(canvasItem("nopoints", "body", "1", "1000", "a"),
		"<fieldlabel>points_possible</fieldlabel><fieldentry>1</fieldentry>", "", 1)

	tests := []struct {
		name   string
		item   string
		reason string
	}{
		{"unsupported type", essay, "unsupported question type"},
		{"missing points", noPoints, "missing point value"},
		{"invalid points", canvasItem("badpoints", "body", "lots", "1000", "a"), "invalid point value"},
		{"nan points", canvasItem("nanpoints", "body", "NaN", "1000", "a"), "invalid point value"},
		{"infinite points", canvasItem("infpoints", "body", "+Inf", "1000", "a"), "invalid point value"},
		{"interior empty choice", canvasItem("gap", "body", "1", "1000", "a", "", "c"), "answer B has no text"},
		{"too many choices", canvasItem("six", "body", "1", "1000", "a", "b", "c", "d", "e", "f"), "at most 5"},
		{"unknown correct choice", canvasItem("unknown", "body", "1", "9999", "a", "b"), "unknown choice"},
		{"no choices", canvasItem("nochoices", "body", "1", "1000"), "no answer choices"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := parseString(t, canvasDoc(tt.item), ParseOptions{})
			if len(res.Rows) != 0 || len(res.Skipped) != 1 {
				t.Fatalf("expected one skipped item, got rows=%d skipped=%v", len(res.Rows), res.Skipped)
			}
			if !strings.Contains(res.Skipped[0].Reason, tt.reason) {
				t.Errorf("reason %q does not mention %q", res.Skipped[0].Reason, tt.reason)
			}
		})
	}
}

func TestParseNoScoringCondition(t *testing.T) {
	item := strings.Replace(canvasItem("q", "body", "1", "1000", "a", "b"),
		`<setvar action="Set" varname="SCORE">100</setvar>`, "", 1)
	res := parseString(t, canvasDoc(item), ParseOptions{})
	if len(res.Skipped) != 1 || res.Skipped[0].Reason != "no correct answer" {
		t.Errorf("expected skip for missing correct answer, got %v", res.Skipped)
	}
}

func TestParseMalformedDocument(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unclosed element", `<questestinterop><assessment title="x"><section>`},
		{"mismatched tags", `<questestinterop><assessment></section></questestinterop>`},
		{"broken item", canvasDoc(`<item ident="x"><presentation></item>`)},
		{"empty input", ""},
		{"plain text", "this is not xml at all"},
		{"csv named xml", "a,b,c\n1,2,3\n"},
		{"only a declaration", `<?xml version="1.0"?>` + "\n"},
		{"wrong root", `<manifest identifier="m"><resources/></manifest>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc), ParseOptions{})
			var pe *DocumentParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected DocumentParseError, got %v", err)
			}
			if !IsFatal(err) {
				t.Error("a parse error must be fatal")
			}
		})
	}
}

func TestParseMultipleResponse(t *testing.T) {
	doc := canvasDoc(`<item ident="mr" title="Primes">
  <itemmetadata><qtimetadata>
    <qtimetadatafield><fieldlabel>question_type</fieldlabel><fieldentry>multiple_answers_question</fieldentry></qtimetadatafield>
    <qtimetadatafield><fieldlabel>points_possible</fieldlabel><fieldentry>1.5</fieldentry></qtimetadatafield>
  </qtimetadata></itemmetadata>
  <presentation>
    <material><mattext texttype="text/html">Primes?</mattext></material>
    <response_lid ident="response1" rcardinality="Multiple"><render_choice>
      <response_label ident="a"><material><mattext>2</mattext></material></response_label>
      <response_label ident="b"><material><mattext>4</mattext></material></response_label>
      <response_label ident="c"><material><mattext>7</mattext></material></response_label>
    </render_choice></response_lid>
  </presentation>
  <resprocessing>
    <outcomes><decvar maxvalue="100" minvalue="0" varname="SCORE" vartype="Decimal"/></outcomes>
    <respcondition continue="No">
      <conditionvar><and>
        <varequal respident="response1">a</varequal>
        <not><varequal respident="response1">b</varequal></not>
        <varequal respident="response1">c</varequal>
      </and></conditionvar>
      <setvar action="Set" varname="SCORE">100</setvar>
      <displayfeedback feedbacktype="Response" linkrefid="correct_fb"/>
    </respcondition>
    <respcondition continue="Yes"><conditionvar><other/></conditionvar><displayfeedback feedbacktype="Response" linkrefid="general_incorrect_fb"/></respcondition>
  </resprocessing>
  <itemfeedback ident="correct_fb"><flow_mat><material><mattext>Yes</mattext></material></flow_mat></itemfeedback>
  <itemfeedback ident="general_incorrect_fb"><flow_mat><material><mattext>No</mattext></material></flow_mat></itemfeedback>
</item>
`)
	res := parseString(t, doc, ParseOptions{})
	if len(res.Rows) != 1 {
		t.Fatalf("expected 1 row, skipped %v", res.Skipped)
	}
	r := res.Rows[0]
	if r.Type != model.TypeMR || !reflect.DeepEqual(r.Correct, []int{1, 3}) {
		t.Errorf("got type %s correct %v", r.Type, r.Correct)
	}
	if r.Points != 1.5 || r.CorrectFeedback != "Yes" || r.IncorrectFeedback != "No" {
		t.Errorf("unexpected row %+v", r)
	}
}

func TestParseCorrectIsSorted(t *testing.T) {
	item := strings.Replace(canvasItem("q", "body", "1", "1002", "a", "b", "c"),
		`<varequal respident="response1">1002</varequal>`,
		`<and><varequal respident="response1">1002</varequal><varequal respident="response1">1000</varequal><varequal respident="response1">1002</varequal></and>`, 1)
	res := parseString(t, canvasDoc(item), ParseOptions{})
	if len(res.Rows) != 1 {
		t.Fatalf("expected 1 row, skipped %v", res.Skipped)
	}
	if r := res.Rows[0]; r.Type != model.TypeMR || !reflect.DeepEqual(r.Correct, []int{1, 3}) {
		t.Errorf("got type %s correct %v, want MR [1 3]", r.Type, r.Correct)
	}
}

func TestParseImageOnlyChoice(t *testing.T) {
	img := "&lt;img src=&quot;fig.png&quot;&gt;"
	doc := canvasDoc(canvasItem("img", "body", "1", "1000", "a", img, "c"))

	res := parseString(t, doc, ParseOptions{PlainText: true})
	if len(res.Rows) != 0 || len(res.Skipped) != 1 {
		t.Fatalf("expected the item to be skipped, got rows=%d skipped=%v", len(res.Rows), res.Skipped)
	}
	if !strings.Contains(res.Skipped[0].Reason, "answer B has no text") {
		t.Errorf("unexpected reason %q", res.Skipped[0].Reason)
	}

	res = parseString(t, doc, ParseOptions{})
	if len(res.Rows) != 1 || res.Rows[0].Answers[1] != `<img src="fig.png">` {
		t.Errorf("markup choice should survive without plain text, got %+v", res.Rows)
	}
}

func TestParseFeedbackByConvention(t *testing.T) {
	// No condition links the blocks; the ident names decide.
	doc := canvasDoc(`<item ident="tf" title="TF">
  <itemmetadata><qtimetadata>
    <qtimetadatafield><fieldlabel>question_type</fieldlabel><fieldentry>true_false_question</fieldentry></qtimetadatafield>
    <qtimetadatafield><fieldlabel>points_possible</fieldlabel><fieldentry>1</fieldentry></qtimetadatafield>
  </qtimetadata></itemmetadata>
  <presentation>
    <material><mattext>Sky is blue</mattext></material>
    <response_lid ident="response1"><render_choice>
      <response_label ident="t"><material><mattext>True</mattext></material></response_label>
      <response_label ident="f"><material><mattext>False</mattext></material></response_label>
    </render_choice></response_lid>
  </presentation>
  <resprocessing>
    <respcondition><conditionvar><varequal respident="response1">t</varequal></conditionvar><setvar action="Set">100</setvar></respcondition>
  </resprocessing>
  <itemfeedback ident="correct_fb"><material><mattext>Right</mattext></material></itemfeedback>
  <itemfeedback ident="general_incorrect_fb"><flow_mat><material><mattext>Wrong</mattext></material></flow_mat></itemfeedback>
  <itemfeedback ident="f_fb"><flow_mat><material><mattext>Look up</mattext></material></flow_mat></itemfeedback>
  <itemfeedback ident="stray"><flow_mat><material><mattext>ignored</mattext></material></flow_mat></itemfeedback>
</item>
`)
	res := parseString(t, doc, ParseOptions{})
	if len(res.Rows) != 1 {
		t.Fatalf("expected 1 row, skipped %v", res.Skipped)
	}
	r := res.Rows[0]
	if r.Type != model.TypeMC || !reflect.DeepEqual(r.Correct, []int{1}) {
		t.Errorf("got type %s correct %v", r.Type, r.Correct)
	}
	if r.CorrectFeedback != "Right" || r.IncorrectFeedback != "Wrong" || r.AnswerFeedback[1] != "Look up" {
		t.Errorf("unexpected feedback %+v", r)
	}
	if r.GeneralFeedback != "" {
		t.Errorf("stray block leaked into general feedback: %q", r.GeneralFeedback)
	}
}

func TestParsePerChoiceFeedbackWins(t *testing.T) {
	// The same block is shown for choice A and on the correct branch.
	item := strings.Replace(canvasItem("q", "body", "1", "1000", "a", "b"),
		`<setvar action="Set" varname="SCORE">100</setvar>`,
		`<setvar action="Set" varname="SCORE">100</setvar><displayfeedback feedbacktype="Response" linkrefid="1000_fb"/>`, 1)
	res := parseString(t, canvasDoc(item), ParseOptions{})
	if len(res.Rows) != 1 {
		t.Fatalf("expected 1 row, skipped %v", res.Skipped)
	}
	r := res.Rows[0]
	if r.AnswerFeedback[0] != "First choice" || r.CorrectFeedback != "" {
		t.Errorf("expected per-choice feedback only, got answer=%q correct=%q", r.AnswerFeedback[0], r.CorrectFeedback)
	}
}

func TestParseObjectBank(t *testing.T) {
	doc := `<questestinterop><objectbank ident="b" title="Bank">` +
		canvasItem("q", "body", "3", "1000", "a", "b") +
		`</objectbank></questestinterop>`
	res := parseString(t, doc, ParseOptions{})
	if res.Title != "Bank" || len(res.Rows) != 1 {
		t.Errorf("title %q rows %d", res.Title, len(res.Rows))
	}
}

func TestParsePlainText(t *testing.T) {
	body := "&lt;p&gt;What is &lt;b&gt;2&amp;amp;2&lt;/b&gt;?&lt;/p&gt;&lt;p&gt;Pick&amp;nbsp;one&lt;/p&gt;"
	doc := canvasDoc(canvasItem("q", body, "1", "1000", "a", "b"))

	res := parseString(t, doc, ParseOptions{PlainText: true})
	if got, want := res.Rows[0].Body, "What is 2&2?\nPick one"; got != want {
		t.Errorf("plain body = %q, want %q", got, want)
	}
	res = parseString(t, doc, ParseOptions{})
	if got := res.Rows[0].Body; !strings.HasPrefix(got, "<p>What is <b>") {
		t.Errorf("markup should be kept by default, got %q", got)
	}
}

func TestPlainText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"a<br>b<br/>c", "a\nb\nc"},
		{"<div><p>x</p>\n\n<p>y</p></div>", "x\ny"},
		{"&lt;tag&gt; &amp; &quot;q&quot;", `<tag> & "q"`},
		{"<ul><li>one</li><li>two</li></ul>", "one\ntwo"},
	}
	for _, tt := range tests {
		if got := PlainText(tt.in); got != tt.want {
			t.Errorf("PlainText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
