// Package template renders notification bodies. Templates load from the
// configured base path when present, falling back to the built-in defaults.
// Parsed templates are cached in the notification cache under
// template_<name>.
package template

import (
	"bytes"
	"os"
	"path/filepath"
	"text/template"

	"revtrail/internal/notification/cache"
	dErrors "revtrail/pkg/domain-errors"
)

// Built-in template names.
const (
	TemplateRevision = "revision"
	TemplateAlert    = "alert"
	TemplateSummary  = "summary"
	TemplateTest     = "test"
	TemplateCustom   = "custom"
)

var defaults = map[string]string{
	TemplateRevision: `Revision recorded for {{.EntityName}}#{{.EntityID}}
Type: {{.RevisionType}}
Actor: {{.Username}}
Time: {{.Timestamp}}
Changes: {{.Changes}}
{{- if .Reason}}
Reason: {{.Reason}}
{{- end}}`,
	TemplateAlert: `System alert ({{.Severity}}): {{.Message}}
{{- range $k, $v := .Detail}}
{{$k}}: {{$v}}
{{- end}}`,
	TemplateSummary: `Weekly notification summary
Sent: {{.TotalSent}}
Errors: {{.TotalErrors}}
Success rate: {{printf "%.1f" .SuccessRatePct}}%
Average delivery: {{printf "%.0f" .AverageDeliveryMs}} ms
Cache hit rate: {{printf "%.1f" .CacheHitRatePct}}%`,
	TemplateTest: `This is a test notification from revtrail.
Requested by: {{.Username}}
Time: {{.Timestamp}}`,
	TemplateCustom: `{{.Content}}`,
}

// Renderer renders named templates against a data map.
type Renderer struct {
	basePath string
	cache    *cache.Cache
}

// NewRenderer creates a renderer. basePath may be empty, in which case only
// built-in templates resolve.
func NewRenderer(basePath string, c *cache.Cache) *Renderer {
	return &Renderer{basePath: basePath, cache: c}
}

// Render executes the named template. A missing template surfaces as
// not_found; a parse or execution failure is a template_error, which is
// fatal for the send attempt and never retried.
func (r *Renderer) Render(name string, data any) (string, error) {
	t, err := r.lookup(name)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeTemplate, "template execution failed: "+name)
	}
	return buf.String(), nil
}

func (r *Renderer) lookup(name string) (*template.Template, error) {
	if t, ok := r.cache.Template(name); ok {
		return t, nil
	}

	text, err := r.load(name)
	if err != nil {
		return nil, err
	}
	t, err := template.New(name).Parse(text)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTemplate, "template parse failed: "+name)
	}
	r.cache.PutTemplate(name, t)
	return t, nil
}

// load prefers an on-disk template so operators can override the built-ins.
func (r *Renderer) load(name string) (string, error) {
	if r.basePath != "" {
		path := filepath.Join(r.basePath, name+".tmpl")
		if data, err := os.ReadFile(path); err == nil {
			return string(data), nil
		}
	}
	if text, ok := defaults[name]; ok {
		return text, nil
	}
	return "", dErrors.Newf(dErrors.CodeNotFound, "unknown template %q", name)
}
