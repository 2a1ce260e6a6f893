package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
	OutputFormatYAML OutputFormat = "yaml"
)

// ParseOutputFormat validates a --output value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case OutputFormatText, OutputFormatJSON, OutputFormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format: %s (want text, json or yaml)", s)
	}
}

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

func NewPrinter(format OutputFormat, writer io.Writer) *Printer {
	return &Printer{
		format: format,
		writer: writer,
	}
}

// Print writes one response. In text mode list fields are expanded one
// element per block.
func (p *Printer) Print(v map[string]any) error {
	switch p.format {
	case OutputFormatJSON:
		enc := json.NewEncoder(p.writer)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case OutputFormatYAML:
		enc := yaml.NewEncoder(p.writer)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case OutputFormatText:
		p.printText(v, "")
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

func (p *Printer) printText(v map[string]any, indent string) {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		switch val := v[k].(type) {
		case map[string]any:
			fmt.Fprintf(p.writer, "%s%s:\n", indent, k)
			p.printText(val, indent+"  ")
		case []any:
			if len(val) == 0 {
				fmt.Fprintf(p.writer, "%s%s: (none)\n", indent, k)
				continue
			}
			if !isObjectList(val) {
				fmt.Fprintf(p.writer, "%s%s: %s\n", indent, k, joinScalars(val))
				continue
			}
			for i, item := range val {
				if i > 0 {
					fmt.Fprintln(p.writer)
				}
				p.printText(item.(map[string]any), indent)
			}
		default:
			fmt.Fprintf(p.writer, "%s%s: %s\n", indent, k, scalar(val))
		}
	}
}

func isObjectList(items []any) bool {
	for _, item := range items {
		if _, ok := item.(map[string]any); !ok {
			return false
		}
	}
	return true
}

func joinScalars(items []any) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = scalar(item)
	}
	return strings.Join(parts, ", ")
}

func scalar(v any) string {
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprint(v)
}
