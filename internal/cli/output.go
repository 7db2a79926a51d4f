// Package cli renders command output as text, JSON or markdown and runs
// commands against a configured node.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Format represents an output format.
type Format string

const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// ParseFormat parses a format string, defaulting to text.
func ParseFormat(s string) Format {
	switch s {
	case "json":
		return FormatJSON
	case "markdown", "md":
		return FormatMarkdown
	default:
		return FormatText
	}
}

// Meta describes a rendered result.
type Meta struct {
	Type      string    `json:"type" yaml:"type"`
	Version   string    `json:"version,omitempty" yaml:"version,omitempty"`
	Generated time.Time `json:"generated" yaml:"generated"`
	Count     int       `json:"count,omitempty" yaml:"count,omitempty"`
}

// NewMeta creates metadata with the given type and current timestamp.
func NewMeta(resultType string) Meta {
	return Meta{
		Type:      resultType,
		Version:   "v1",
		Generated: time.Now().UTC(),
	}
}

// Renderable can render itself in every format.
type Renderable interface {
	Meta() Meta
	RenderText(w io.Writer) error
	RenderJSON() any
	RenderMarkdown(w io.Writer) error
}

// Output writes renderables in one format. JSON output is wrapped in a
// {meta, data} envelope; markdown output gets YAML frontmatter.
type Output struct {
	format Format
	w      io.Writer
	color  bool
}

// NewOutput creates an output renderer. Text output is colored only when w
// is a terminal.
func NewOutput(format Format, w io.Writer) *Output {
	return &Output{format: format, w: w, color: format == FormatText && isTerminal(w)}
}

// ViperGetter is the subset of viper.Viper we need.
type ViperGetter interface {
	GetString(key string) string
}

// NewOutputFromViper reads the format from the "output" key.
func NewOutputFromViper(v ViperGetter, w io.Writer) *Output {
	return NewOutput(ParseFormat(v.GetString("output")), w)
}

func (o *Output) Format() Format { return o.format }

// Table creates a table renderer attached to this output.
func (o *Output) Table(resultType string, headers ...string) *Table {
	return &Table{out: o, meta: NewMeta(resultType), headers: headers}
}

// KV creates a key-value renderer attached to this output.
func (o *Output) KV(resultType string) *KV {
	return &KV{out: o, meta: NewMeta(resultType)}
}

// Result creates a message renderer attached to this output.
func (o *Output) Result(resultType, message string) *Result {
	return &Result{out: o, meta: NewMeta(resultType), message: message}
}

// Render outputs r in the configured format.
func (o *Output) Render(r Renderable) error {
	switch o.format {
	case FormatJSON:
		return o.renderJSON(r)
	case FormatMarkdown:
		return o.renderMarkdown(r)
	default:
		return r.RenderText(o.w)
	}
}

func (o *Output) renderJSON(r Renderable) error {
	envelope := struct {
		Meta Meta `json:"meta"`
		Data any  `json:"data"`
	}{
		Meta: r.Meta(),
		Data: r.RenderJSON(),
	}
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	return enc.Encode(envelope)
}

func (o *Output) renderMarkdown(r Renderable) error {
	if _, err := fmt.Fprintln(o.w, "---"); err != nil {
		return err
	}
	enc := yaml.NewEncoder(o.w)
	enc.SetIndent(2)
	if err := enc.Encode(r.Meta()); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if _, err := fmt.Fprint(o.w, "---\n\n"); err != nil {
		return err
	}
	return r.RenderMarkdown(o.w)
}
