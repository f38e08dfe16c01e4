package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"maps"
	"sort"
	texttemplate "text/template"
)

type emailTemplate struct {
	subject *texttemplate.Template
	body    *template.Template
}

func mustTemplate(name, subject, body string) emailTemplate {
	return emailTemplate{
		subject: texttemplate.Must(texttemplate.New(name + ".subject").Parse(subject)),
		body:    template.Must(template.New(name + ".body").Parse(layoutHead + body + layoutFoot)),
	}
}

// Keys every template may reference. They default to "" so a missing value
// renders empty instead of "<no value>".
var knownKeys = []string{
	"name", "organization", "opportunity", "reason", "shift", "date",
	"location", "incident_id", "severity", "description", "subject",
	"message", "custom_message",
}

const (
	layoutHead = `<div style="font-family:sans-serif;max-width:600px;margin:0 auto">`
	layoutFoot = `{{with .custom_message}}<p>{{.}}</p>{{end}}<p style="color:#888;font-size:12px">{{or .organization "VolunteerHub"}}</p></div>`
)

var templates = map[string]emailTemplate{
	"volunteer_welcome": mustTemplate("volunteer_welcome",
		`Welcome to {{or .organization "VolunteerHub"}}, {{.name}}!`,
		`<h1>Welcome, {{.name}}!</h1><p>Thank you for joining us. Your volunteer profile is ready and you can now sign up for shifts.</p>`),
	"application_approved": mustTemplate("application_approved",
		`Your application for {{.opportunity}} was approved`,
		`<h1>Good news, {{.name}}!</h1><p>Your application for <strong>{{.opportunity}}</strong> has been approved.</p>`),
	"application_rejected": mustTemplate("application_rejected",
		`Update on your application for {{.opportunity}}`,
		`<p>Hi {{.name}},</p><p>Thank you for applying for <strong>{{.opportunity}}</strong>. Unfortunately we cannot offer you a place this time.</p>{{with .reason}}<p>{{.}}</p>{{end}}`),
	"shift_reminder": mustTemplate("shift_reminder",
		`Reminder: {{.shift}} on {{.date}}`,
		`<p>Hi {{.name}},</p><p>This is a reminder for your shift <strong>{{.shift}}</strong> on {{.date}}{{with .location}} at {{.}}{{end}}.</p>`),
	"incident_report": mustTemplate("incident_report",
		`[{{or .severity "info"}}] Incident reported{{with .incident_id}} #{{.}}{{end}}`,
		`<h1>Incident report</h1><p>Severity: {{or .severity "info"}}</p><p>{{.description}}</p>`),
	"custom": mustTemplate("custom",
		`{{or .subject "Message from VolunteerHub"}}`,
		`{{with .message}}<p>{{.}}</p>{{end}}`),
}

// TemplateIDs lists the known template ids in sorted order.
func TemplateIDs() []string {
	ids := make([]string, 0, len(templates))
	for id := range templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Render fills the template id with data.
func Render(id string, data map[string]any) (subject, html string, err error) {
	t, ok := templates[id]
	if !ok {
		return "", "", fmt.Errorf("unknown email template %q", id)
	}
	values := make(map[string]any, len(knownKeys)+len(data))
	for _, k := range knownKeys {
		values[k] = ""
	}
	maps.Copy(values, data)

	var sb, bb bytes.Buffer
	if err := t.subject.Execute(&sb, values); err != nil {
		return "", "", fmt.Errorf("render subject of %s: %w", id, err)
	}
	if err := t.body.Execute(&bb, values); err != nil {
		return "", "", fmt.Errorf("render body of %s: %w", id, err)
	}
	return sb.String(), bb.String(), nil
}
