package notifications

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/bissquit/alert-relay/internal/domain"
)

// Channel body templates. Keys are ChannelType.FieldName values.
var channelTemplates = map[string]string{
	"sms":     `{{ .Title }}: {{ .Message }}`,
	"email":   "{{ .Message }}\n\nVehicle: {{ .VehicleID }}\nTime: {{ formatTime .CreatedAt }}",
	"push":    `{{ .Message }}`,
	"browser": `{{ .Message }}`,
	"ivm":     `{{ upper .Title }} {{ .Message }}`,
}

// Renderer renders alert bodies per channel type.
type Renderer struct {
	templates map[domain.ChannelType]*template.Template
}

// NewRenderer parses the channel templates.
func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"title":      titleCase,
		"upper":      strings.ToUpper,
		"formatTime": formatTime,
	}

	r := &Renderer{templates: make(map[domain.ChannelType]*template.Template)}

	for _, ct := range domain.ChannelTypes {
		name := templateName(ct)
		src, ok := channelTemplates[ct.FieldName()]
		if !ok {
			return nil, fmt.Errorf("no template for channel %s", ct)
		}
		tmpl, err := template.New(name).Funcs(funcMap).Parse(src)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		r.templates[ct] = tmpl
	}

	return r, nil
}

// Render builds the Notification for alert on ch.
func (r *Renderer) Render(alert *domain.Alert, ch domain.Channel) (Notification, error) {
	tmpl, ok := r.templates[ch.Type]
	if !ok {
		return Notification{}, fmt.Errorf("template not found: %s", ch.Type)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, alert); err != nil {
		return Notification{}, fmt.Errorf("execute template %s: %w", tmpl.Name(), err)
	}

	return Notification{
		Alert:    alert,
		Channel:  ch,
		Template: tmpl.Name(),
		Subject:  renderSubject(alert),
		Body:     strings.TrimSpace(buf.String()),
	}, nil
}

func templateName(ct domain.ChannelType) string {
	return ct.FieldName() + "_alert"
}

func renderSubject(alert *domain.Alert) string {
	if alert.Title == "" {
		return "[Alert] " + titleCase(strings.ReplaceAll(strings.ToLower(alert.EventType), "_", " "))
	}
	return "[Alert] " + titleCase(alert.Title)
}

var titleCaser = cases.Title(language.English)

func titleCase(s string) string {
	return titleCaser.String(s)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("Jan 2, 2006 15:04 UTC")
}
