package cli

import (
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Table renders rows under fixed headers.
type Table struct {
	out     *Output
	meta    Meta
	headers []string
	rows    [][]string
}

// AddRow adds a row of values. Should match header count.
func (t *Table) AddRow(values ...string) *Table {
	t.rows = append(t.rows, values)
	t.meta.Count = len(t.rows)
	return t
}

func (t *Table) Render() error { return t.out.Render(t) }

func (t *Table) Meta() Meta { return t.meta }

// RenderText writes a light-style table, or a short note when empty.
func (t *Table) RenderText(w io.Writer) error {
	if len(t.rows) == 0 {
		_, err := io.WriteString(w, dim(t.out, "(none)")+"\n")
		return err
	}
	tw := t.writer()
	tw.SetStyle(table.StyleLight)
	_, err := io.WriteString(w, tw.Render()+"\n")
	return err
}

// RenderJSON returns the rows as objects keyed by header.
func (t *Table) RenderJSON() any {
	result := make([]map[string]string, 0, len(t.rows))
	for _, row := range t.rows {
		obj := make(map[string]string, len(t.headers))
		for i, h := range t.headers {
			if i < len(row) {
				obj[toJSONKey(h)] = row[i]
			}
		}
		result = append(result, obj)
	}
	return result
}

func (t *Table) RenderMarkdown(w io.Writer) error {
	_, err := io.WriteString(w, t.writer().RenderMarkdown()+"\n")
	return err
}

func (t *Table) writer() table.Writer {
	tw := table.NewWriter()
	header := make(table.Row, len(t.headers))
	for i, h := range t.headers {
		header[i] = h
	}
	tw.AppendHeader(header)
	for _, row := range t.rows {
		r := make(table.Row, len(row))
		for i, cell := range row {
			r[i] = cell
		}
		tw.AppendRow(r)
	}
	return tw
}

// toJSONKey converts a header to a JSON key (lowercase, underscores).
func toJSONKey(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, " ", "_"))
}
