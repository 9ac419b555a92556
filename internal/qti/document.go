package qti

import "encoding/xml"

// Namespaces and fixed tokens of the Canvas flavour of QTI 1.2.
const (
	NamespaceQTI    = "http://www.imsglobal.org/xsd/ims_qtiasiv1p2"
	namespaceXSI    = "http://www.w3.org/2001/XMLSchema-instance"
	schemaLocation  = NamespaceQTI + " http://www.imsglobal.org/xsd/ims_qtiasiv1p2p1.xsd"
	responseIdent   = "response1"
	scoreVar        = "SCORE"
	scoreMax        = "100"
	textTypeHTML    = "text/html"
	textTypePlain   = "text/plain"
	feedbackGeneral = "general_fb"
	feedbackCorrect = "correct_fb"
	feedbackWrong   = "general_incorrect_fb"
	feedbackSuffix  = "_fb"
)

// Question type metadata values.
const (
	metaMultipleChoice   = "multiple_choice_question"
	metaTrueFalse        = "true_false_question"
	metaMultipleAnswers  = "multiple_answers_question"
	metaMultipleResponse = "multiple_response_question"
)

// The structs below are used for both reading and writing. Field order is the
// element order on output. Tags carry no namespace so documents with or
// without the QTI default namespace decode alike.

type questestinterop struct {
	XMLName        xml.Name   `xml:"questestinterop"`
	Xmlns          string     `xml:"xmlns,attr,omitempty"`
	XmlnsXSI       string     `xml:"xmlns:xsi,attr,omitempty"`
	SchemaLocation string     `xml:"xsi:schemaLocation,attr,omitempty"`
	Assessment     assessment `xml:"assessment"`
}

type assessment struct {
	Ident    string          `xml:"ident,attr"`
	Title    string          `xml:"title,attr"`
	Metadata []metadataField `xml:"qtimetadata>qtimetadatafield,omitempty"`
	Section  section         `xml:"section"`
}

type section struct {
	Ident string `xml:"ident,attr"`
	Items []item `xml:"item"`
}

type item struct {
	Ident         string          `xml:"ident,attr"`
	Title         string          `xml:"title,attr"`
	Metadata      []metadataField `xml:"itemmetadata>qtimetadata>qtimetadatafield"`
	Presentation  presentation    `xml:"presentation"`
	ResProcessing *resProcessing  `xml:"resprocessing"`
	Feedback      []itemFeedback  `xml:"itemfeedback"`
}

type metadataField struct {
	Label string `xml:"fieldlabel"`
	Entry string `xml:"fieldentry"`
}

type presentation struct {
	Material    []material   `xml:"material"`
	ResponseLid *responseLid `xml:"response_lid"`
}

type material struct {
	MatText []matText `xml:"mattext"`
}

type matText struct {
	TextType string `xml:"texttype,attr,omitempty"`
	Text     string `xml:",chardata"`
}

type responseLid struct {
	Ident        string      `xml:"ident,attr"`
	RCardinality string      `xml:"rcardinality,attr,omitempty"`
	RenderChoice renderChoice `xml:"render_choice"`
}

type renderChoice struct {
	Labels []responseLabel `xml:"response_label"`
}

type responseLabel struct {
	Ident    string     `xml:"ident,attr"`
	Material []material `xml:"material"`
}

type resProcessing struct {
	Outcomes   outcomes        `xml:"outcomes"`
	Conditions []respCondition `xml:"respcondition"`
}

type outcomes struct {
	DecVar []decVar `xml:"decvar"`
}

type decVar struct {
	MaxValue string `xml:"maxvalue,attr,omitempty"`
	MinValue string `xml:"minvalue,attr,omitempty"`
	VarName  string `xml:"varname,attr,omitempty"`
	VarType  string `xml:"vartype,attr,omitempty"`
}

type respCondition struct {
	Continue        string            `xml:"continue,attr,omitempty"`
	ConditionVar    conditionVar      `xml:"conditionvar"`
	SetVar          []setVar          `xml:"setvar"`
	DisplayFeedback []displayFeedback `xml:"displayfeedback"`
}

type conditionVar struct {
	Other    *struct{}      `xml:"other"`
	VarEqual []varEqual     `xml:"varequal"`
	Not      []conditionVar `xml:"not"`
	And      *conditionVar  `xml:"and"`
}

type varEqual struct {
	RespIdent string `xml:"respident,attr,omitempty"`
	Value     string `xml:",chardata"`
}

type setVar struct {
	Action  string `xml:"action,attr,omitempty"`
	VarName string `xml:"varname,attr,omitempty"`
	Value   string `xml:",chardata"`
}

type displayFeedback struct {
	FeedbackType string `xml:"feedbacktype,attr,omitempty"`
	LinkRefID    string `xml:"linkrefid,attr"`
}

type itemFeedback struct {
	Ident   string     `xml:"ident,attr"`
	FlowMat *flowMat   `xml:"flow_mat"`
	Direct  []material `xml:"material"`
}

type flowMat struct {
	Material []material `xml:"material"`
}

// firstText returns the first non-empty mattext payload.
func firstText(ms []material) string {
	for _, m := range ms {
		for _, t := range m.MatText {
			if t.Text != "" {
				return t.Text
			}
		}
	}
	return ""
}

func textMaterial(textType, text string) []material {
	return []material{{MatText: []matText{{TextType: textType, Text: text}}}}
}

func (f itemFeedback) text() string {
	if f.FlowMat != nil {
		if s := firstText(f.FlowMat.Material); s != "" {
			return s
		}
	}
	return firstText(f.Direct)
}

func metadataValue(fields []metadataField, label string) (string, bool) {
	for _, f := range fields {
		if f.Label == label {
			return f.Entry, true
		}
	}
	return "", false
}
