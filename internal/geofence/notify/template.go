package notify

import (
	"bytes"
	"errors"
	"text/template"
)

const DefaultTemplate = `[Geofence {{.EventLabel}}]
Place: {{.Geofence}}
User: {{.UserID}}
Priority: {{.Priority}}
Time: {{.OccurredAt}}
Location: {{.Location}}
Current Status: {{.Status}}
{{ if .Dwell }}Dwell: {{.Dwell}}
{{ end }}{{ if .Message }}Message: {{.Message}}
{{ end }}{{ if .Confirmation }}Confirmation required
{{ end }}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Geofence     string
	GeofenceID   string
	UserID       string
	Priority     string
	OccurredAt   string
	Location     string
	Status       string
	Dwell        string
	Message      string
	Confirmation bool
	Event        string
	EventLabel   string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("geofence-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("geofence template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
