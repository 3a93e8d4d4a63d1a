// Package core provides the execution model types for uirunner.
package core

// Attachment represents an artifact attached to a step
type Attachment struct {
	Name        string `json:"name"`        // Descriptive name: screenshot, current, template, marked
	ContentType string `json:"contentType"` // MIME type: image/png, application/json, text/plain
	Path        string `json:"path"`        // File path of a persisted artifact, if any
	Body        []byte `json:"-"`           // In-memory content (not serialized to JSON)
}

// Common attachment names
const (
	AttachmentScreenshot = "screenshot"
	AttachmentCurrent    = "current"
	AttachmentTemplate   = "template"
	AttachmentMarked     = "marked"
	AttachmentTrace      = "trace"
)

// Common content types
const (
	ContentTypePNG  = "image/png"
	ContentTypeJPEG = "image/jpeg"
	ContentTypeJSON = "application/json"
	ContentTypeText = "text/plain"
)

// NewScreenshotAttachment creates an in-memory screenshot attachment
func NewScreenshotAttachment(data []byte) Attachment {
	return Attachment{
		Name:        AttachmentScreenshot,
		ContentType: ContentTypePNG,
		Body:        data,
	}
}

// ComparisonArtifact holds the images produced by one visual assertion.
// Template and Marked are empty when no baseline existed or the images matched.
type ComparisonArtifact struct {
	Current      []byte `json:"-"`
	Template     []byte `json:"-"`
	Marked       []byte `json:"-"`
	CurrentPath  string `json:"current,omitempty"`
	TemplatePath string `json:"template,omitempty"`
	MarkedPath   string `json:"marked,omitempty"`
	DiffSize     int    `json:"diffSize"`
}

// Attachments converts the artifact into step attachments, skipping absent images.
func (a ComparisonArtifact) Attachments() []Attachment {
	var out []Attachment
	add := func(name, path string, body []byte) {
		if path == "" && len(body) == 0 {
			return
		}
		out = append(out, Attachment{Name: name, ContentType: ContentTypePNG, Path: path, Body: body})
	}
	add(AttachmentCurrent, a.CurrentPath, a.Current)
	add(AttachmentTemplate, a.TemplatePath, a.Template)
	add(AttachmentMarked, a.MarkedPath, a.Marked)
	return out
}

// Parameter is one named string parameter of a step. Order is preserved.
type Parameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Label is free-form key/value metadata attached to a test by its author.
type Label struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ParamsFromMap builds an ordered parameter list from keys in the given order.
// Keys missing from the map are skipped.
func ParamsFromMap(m map[string]string, order []string) []Parameter {
	params := make([]Parameter, 0, len(order))
	for _, k := range order {
		if v, ok := m[k]; ok {
			params = append(params, Parameter{Name: k, Value: v})
		}
	}
	return params
}
