// Package output renders CLI results as aligned tables, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"go.yaml.in/yaml/v3"
)

// Format selects how results are rendered.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("output: unknown format %q", s)
	}
}

// Table is a tabular view of a result.
type Table struct {
	Header []string
	Rows   [][]string
}

// Formatter writes results to w in one format.
type Formatter struct {
	w      io.Writer
	format Format
}

// New returns a Formatter writing to w.
func New(w io.Writer, format Format) *Formatter {
	if format == "" {
		format = FormatTable
	}
	return &Formatter{w: w, format: format}
}

// Format returns the formatter's format.
func (f *Formatter) Format() Format { return f.format }

// Value writes v. In table mode strings and fmt.Stringers are printed on their
// own line and anything else falls back to indented JSON.
func (f *Formatter) Value(v any) error {
	switch f.format {
	case FormatJSON:
		return f.json(v)
	case FormatYAML:
		return f.yaml(v)
	}
	switch x := v.(type) {
	case string:
		_, err := fmt.Fprintln(f.w, x)
		return err
	case fmt.Stringer:
		_, err := fmt.Fprintln(f.w, x.String())
		return err
	default:
		return f.json(v)
	}
}

// Table writes t in table mode and raw otherwise.
func (f *Formatter) Table(t Table, raw any) error {
	if f.format != FormatTable {
		return f.Value(raw)
	}
	tw := tabwriter.NewWriter(f.w, 0, 4, 2, ' ', 0)
	if len(t.Header) > 0 {
		fmt.Fprintln(tw, strings.Join(t.Header, "\t"))
	}
	for _, row := range t.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// Line writes one compact JSON document per call regardless of format, for
// streamed results such as watch events. YAML streams use document markers.
func (f *Formatter) Line(v any) error {
	if f.format == FormatYAML {
		if _, err := io.WriteString(f.w, "---\n"); err != nil {
			return err
		}
		return f.yaml(v)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("output: encode json: %w", err)
	}
	_, err = fmt.Fprintln(f.w, string(data))
	return err
}

func (f *Formatter) json(v any) error {
	enc := json.NewEncoder(f.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("output: encode json: %w", err)
	}
	return nil
}

func (f *Formatter) yaml(v any) error {
	enc := yaml.NewEncoder(f.w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("output: encode yaml: %w", err)
	}
	return enc.Close()
}
