package qti

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// ManifestPath is the archive entry name of the IMS content package manifest.
const ManifestPath = "imsmanifest.xml"

const (
	assessmentMetaName = "assessment_meta.xml"
	namespaceManifest  = "http://www.imsglobal.org/xsd/imsccv1p1/imscp_v1p1"
	namespaceIMSMD     = "http://www.imsglobal.org/xsd/imsmd_v1p2"
	namespaceCanvas    = "http://canvas.instructure.com/xsd/cccv1p0"
	resourceTypeQTI    = "imsqti_xmlv1p2"
	resourceTypeMeta   = "associatedcontent/imscc_xmlv1p1/learning-application-resource"
)

// Manifest lists the resources of a QTI package.
type Manifest struct {
	Resources []ManifestResource
}

// ManifestResource is one resource entry of a manifest.
type ManifestResource struct {
	Identifier string
	Href       string
	Type       string
	Files      []string
}

type imsManifest struct {
	XMLName    xml.Name      `xml:"manifest"`
	Identifier string        `xml:"identifier,attr,omitempty"`
	Xmlns      string        `xml:"xmlns,attr,omitempty"`
	XmlnsIMSMD string        `xml:"xmlns:imsmd,attr,omitempty"`
	Metadata   *imsMetadata  `xml:"metadata"`
	Resources  []imsResource `xml:"resources>resource"`
}

type imsMetadata struct {
	Schema        string `xml:"schema"`
	SchemaVersion string `xml:"schemaversion"`
}

type imsResource struct {
	Identifier   string          `xml:"identifier,attr"`
	Type         string          `xml:"type,attr"`
	Href         string          `xml:"href,attr,omitempty"`
	Files        []imsFile       `xml:"file"`
	Dependencies []imsDependency `xml:"dependency"`
}

type imsFile struct {
	Href string `xml:"href,attr"`
}

type imsDependency struct {
	IdentifierRef string `xml:"identifierref,attr"`
}

// quizMeta is the Canvas assessment_meta.xml document.
type quizMeta struct {
	XMLName        xml.Name `xml:"quiz"`
	Xmlns          string   `xml:"xmlns,attr"`
	XmlnsXSI       string   `xml:"xmlns:xsi,attr"`
	SchemaLocation string   `xml:"xsi:schemaLocation,attr"`
	Identifier     string   `xml:"identifier,attr"`
	Title          string   `xml:"title"`
	PointsPossible string   `xml:"points_possible"`
	QuizType       string   `xml:"quiz_type"`
	ShuffleAnswers bool     `xml:"shuffle_answers"`
}

func buildManifest(aid, depID, title string) imsManifest {
	metaHref := aid + "/" + assessmentMetaName
	return imsManifest{
		Identifier: Ident("manifest", title),
		Xmlns:      namespaceManifest,
		XmlnsIMSMD: namespaceIMSMD,
		Metadata:   &imsMetadata{Schema: "IMS Content", SchemaVersion: "1.1.3"},
		Resources: []imsResource{
			{
				Identifier:   aid,
				Type:         resourceTypeQTI,
				Files:        []imsFile{{Href: aid + "/" + aid + ".xml"}},
				Dependencies: []imsDependency{{IdentifierRef: depID}},
			},
			{
				Identifier: depID,
				Type:       resourceTypeMeta,
				Href:       metaHref,
				Files:      []imsFile{{Href: metaHref}},
			},
		},
	}
}

// ParseManifest decodes an imsmanifest.xml document.
func ParseManifest(data []byte) (Manifest, error) {
	var mf imsManifest
	if err := xml.Unmarshal(data, &mf); err != nil {
		return Manifest{}, &DocumentParseError{Err: fmt.Errorf("manifest: %w", err)}
	}
	var out Manifest
	for _, r := range mf.Resources {
		res := ManifestResource{
			Identifier: r.Identifier,
			Href:       r.Href,
			Type:       r.Type,
		}
		for _, f := range r.Files {
			res.Files = append(res.Files, f.Href)
		}
		out.Resources = append(out.Resources, res)
	}
	return out, nil
}

// AssessmentHref returns the path of the first QTI assessment document the
// manifest references, or "" when there is none.
func (m Manifest) AssessmentHref() string {
	for _, r := range m.Resources {
		if !strings.HasPrefix(r.Type, "imsqti_xmlv1p2") {
			continue
		}
		if r.Href != "" && IsAssessmentCandidate(r.Href) {
			return r.Href
		}
		for _, f := range r.Files {
			if IsAssessmentCandidate(f) {
				return f
			}
		}
	}
	return ""
}

// IsAssessmentCandidate reports whether an archive entry name may hold an
// assessment document: an XML file that is neither the manifest nor Canvas
// quiz settings.
func IsAssessmentCandidate(name string) bool {
	lower := strings.ToLower(name)
	if !strings.HasSuffix(lower, ".xml") && !strings.HasSuffix(lower, ".xml.qti") {
		return false
	}
	return !strings.Contains(lower, "imsmanifest") && !strings.HasSuffix(lower, assessmentMetaName)
}
