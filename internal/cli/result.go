package cli

import (
	"fmt"
	"io"
)

// Result is a single message with optional ordered details.
type Result struct {
	out     *Output
	meta    Meta
	message string
	details []kvPair
}

// With adds a detail line.
func (r *Result) With(key string, value any) *Result {
	r.details = append(r.details, kvPair{key: key, value: value})
	return r
}

func (r *Result) Render() error { return r.out.Render(r) }

func (r *Result) Meta() Meta { return r.meta }

func (r *Result) RenderText(w io.Writer) error {
	if _, err := fmt.Fprintln(w, r.message); err != nil {
		return err
	}
	width := 0
	for _, d := range r.details {
		width = max(width, len(d.key)+1)
	}
	for _, d := range r.details {
		if _, err := fmt.Fprintf(w, "  %-*s  %v\n", width, d.key+":", d.value); err != nil {
			return err
		}
	}
	return nil
}

func (r *Result) RenderJSON() any {
	result := make(map[string]any, len(r.details)+1)
	result["message"] = r.message
	for _, d := range r.details {
		result[toJSONKey(d.key)] = d.value
	}
	return result
}

func (r *Result) RenderMarkdown(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "**%s**\n\n", r.message); err != nil {
		return err
	}
	for _, d := range r.details {
		if _, err := fmt.Fprintf(w, "- **%s:** %v\n", d.key, d.value); err != nil {
			return err
		}
	}
	return nil
}
