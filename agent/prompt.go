// System prompt rendering.

package agent

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/richinex/morph/tools"
)

// DefaultPersona opens every system message unless configured otherwise.
const DefaultPersona = `I am a self-organising polymorph agent.

Criterion:
- Act on the world through tool calls every turn
- Keep code and state minimal
- Obtain capabilities and skills
- Delegate to workers when a task splits cleanly
- Keep an abstract representation of myself in memory`

const systemTemplate = `{{.Persona}}
{{- if .Nickname}}

My nickname: {{.Nickname}}{{if .Subagent}} (I am a worker; my master only sees what I send with request_master){{end}}
{{- end}}
{{- if .Tools}}

{{.Tools}}
{{- end}}

(!) Put all calls inside <{{.Tag}}>...</{{.Tag}}> tag. Each call should be a valid function call: name(arg, key=value), one per line.
`

// Renderer builds the system message from the tool table.
type Renderer struct {
	tmpl     *template.Template
	persona  string
	nickname string
	subagent bool
	tag      string
}

// NewRenderer creates a renderer that instructs the model to use the given call tag.
func NewRenderer(tag string) *Renderer {
	return &Renderer{
		tmpl:    template.Must(template.New("system").Parse(systemTemplate)),
		persona: DefaultPersona,
		tag:     tag,
	}
}

// WithPersona replaces the opening text.
func (r *Renderer) WithPersona(persona string) *Renderer {
	if strings.TrimSpace(persona) != "" {
		r.persona = strings.TrimSpace(persona)
	}
	return r
}

// WithIdentity tells the model its nickname and whether it is a worker.
func (r *Renderer) WithIdentity(nickname string, subagent bool) *Renderer {
	r.nickname = nickname
	r.subagent = subagent
	return r
}

// Render returns the system message text. Feature views are evaluated on
// every call so the model always sees current state.
func (r *Renderer) Render(table *tools.Registry) (string, error) {
	var b strings.Builder
	err := r.tmpl.Execute(&b, struct {
		Persona  string
		Nickname string
		Subagent bool
		Tools    string
		Tag      string
	}{
		Persona:  r.persona,
		Nickname: r.nickname,
		Subagent: r.subagent,
		Tools:    table.Description(),
		Tag:      r.tag,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render system prompt: %w", err)
	}
	return b.String(), nil
}
