package tools

import (
	"strings"
)

// View renders part of a feature's state for the system message.
type View func() string

// Feature is a named bundle of tools plus textual views.
type Feature struct {
	Name  string
	Tools []Tool
	Views []View
}

// Render formats the feature block included in the system message.
func (f Feature) Render() string {
	var b strings.Builder
	b.WriteString("# [BEGIN_FEATURE: " + f.Name + "]\n")
	for _, view := range f.Views {
		b.WriteString(indent(view(), "    "))
		b.WriteString("\n")
	}
	for _, t := range f.Tools {
		b.WriteString(RenderTool(t.Metadata(), "    "))
	}
	b.WriteString("[ENDFEATURE]")
	return b.String()
}

// RenderTool formats one tool as a [BEGIN_TOOL]...[END_TOOL] block.
func RenderTool(meta ToolMetadata, prefix string) string {
	var b strings.Builder
	b.WriteString(meta.Signature())
	if meta.Description != "" {
		b.WriteString("\n    " + strings.ReplaceAll(meta.Description, "\n", "\n    "))
	}
	for _, p := range meta.Parameters {
		if p.Description == "" {
			continue
		}
		b.WriteString("\n    - " + p.Name + ": " + p.Description)
	}
	return prefix + "[BEGIN_TOOL]\n" + indent(b.String(), prefix+"    ") + "\n" + prefix + "[END_TOOL]\n"
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = prefix + l
		}
	}
	return strings.Join(lines, "\n")
}
