package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// outputFormat is a value of the --output flag.
type outputFormat string

const (
	formatTable outputFormat = "table"
	formatJSON  outputFormat = "json"
	formatYAML  outputFormat = "yaml"
)

func parseFormat(s string) (outputFormat, error) {
	switch f := outputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case formatTable, formatJSON, formatYAML:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", s)
}

// printer writes command output in the selected format.
type printer struct {
	w      io.Writer
	format outputFormat
}

// newPrinter builds the printer for cmd from the --output flag.
func newPrinter(cmd *cobra.Command) (*printer, error) {
	f, err := parseFormat(outputFmt)
	if err != nil {
		return nil, err
	}
	return &printer{w: cmd.OutOrStdout(), format: f}, nil
}

// document reports whether v should be emitted whole instead of as text.
func (p *printer) document() bool {
	return p.format != formatTable
}

// emit writes v as a JSON or YAML document.
func (p *printer) emit(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	if p.format == formatJSON {
		_, err = fmt.Fprintf(p.w, "%s\n", data)
		return err
	}

	// Decoding the JSON text as YAML keeps the json tag names and their order.
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	blockStyle(&doc)
	enc := yaml.NewEncoder(p.w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return err
	}
	return enc.Close()
}

// blockStyle clears the flow and quoting styles JSON input carries. Strings
// that would read back as another type are still quoted by the encoder.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

func (p *printer) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

// table is a set of rows under an upper-case header.
type table struct {
	header []string
	rows   [][]string
}

func newTable(columns ...string) *table {
	return &table{header: columns}
}

// add appends a row. Missing cells are left blank.
func (t *table) add(cells ...string) *table {
	row := make([]string, len(t.header))
	copy(row, cells)
	t.rows = append(t.rows, row)
	return t
}

func (p *printer) table(t *table) error {
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	head := make([]string, len(t.header))
	for i, h := range t.header {
		head[i] = strings.ToUpper(h)
	}
	fmt.Fprintln(tw, strings.Join(head, "\t"))
	for _, row := range t.rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// clip shortens s to at most width runes, marking the cut with "...".
func clip(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width <= 3 {
		return string(r[:width])
	}
	return string(r[:width-3]) + "..."
}
