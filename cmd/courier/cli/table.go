// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// columnGap separates table columns.
const columnGap = 3

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Table accumulates rows and renders them with aligned columns and a
// styled header. Widths are measured with lipgloss so styled cells
// align the same as plain ones.
type Table struct {
	headers []string
	rows    [][]string
}

// NewTable starts a table with the given column headers.
func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

// Row appends one row. Missing cells render empty; extra cells are
// dropped.
func (t *Table) Row(cells ...string) {
	row := make([]string, len(t.headers))
	copy(row, cells)
	t.rows = append(t.rows, row)
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Render writes the table to w. An empty table writes the muted
// placeholder empty instead.
func (t *Table) Render(w io.Writer, empty string) error {
	if len(t.rows) == 0 {
		_, err := fmt.Fprintln(w, mutedStyle.Render(empty))
		return err
	}

	widths := make([]int, len(t.headers))
	for i, header := range t.headers {
		widths[i] = lipgloss.Width(header)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	var builder strings.Builder
	t.renderRow(&builder, t.headers, widths, headerStyle)
	for _, row := range t.rows {
		t.renderRow(&builder, row, widths, lipgloss.NewStyle())
	}
	_, err := io.WriteString(w, builder.String())
	return err
}

func (t *Table) renderRow(builder *strings.Builder, cells []string, widths []int, style lipgloss.Style) {
	for i, cell := range cells {
		if i == len(cells)-1 {
			builder.WriteString(style.Render(cell))
			break
		}
		builder.WriteString(style.Width(widths[i] + columnGap).Render(cell))
	}
	builder.WriteString("\n")
}

// Muted renders text in the muted style, for "none" and similar
// placeholders inside cells.
func Muted(text string) string {
	return mutedStyle.Render(text)
}
