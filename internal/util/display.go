package util

import (
	"os"
	"strings"

	"github.com/mattn/go-runewidth"
	"golang.org/x/term"
)

const (
	defaultTableWidth = 100
	minTableWidth     = 40
)

// GetDisplayWidth calculates the display width of a string, accounting for
// wide and combining characters in field names.
func GetDisplayWidth(text string) int {
	return runewidth.StringWidth(text)
}

// PadRight pads text with spaces to the given display width.
func PadRight(text string, width int) string {
	w := GetDisplayWidth(text)
	if w >= width {
		return text
	}
	return text + strings.Repeat(" ", width-w)
}

// Truncate shortens text to width display cells, marking the cut with "…".
func Truncate(text string, width int) string {
	if width <= 0 {
		return ""
	}
	return runewidth.Truncate(text, width, "…")
}

// TerminalWidth returns the width of the terminal behind fd, or a default
// when fd is not a terminal.
func TerminalWidth(fd uintptr) int {
	if !term.IsTerminal(int(fd)) {
		return defaultTableWidth
	}
	width, _, err := term.GetSize(int(fd))
	if err != nil || width < minTableWidth {
		return defaultTableWidth
	}
	return width
}

// StdoutWidth is TerminalWidth for os.Stdout.
func StdoutWidth() int {
	return TerminalWidth(os.Stdout.Fd())
}

// Table lays out rows in left-aligned columns sized by display width. Rows
// longer than maxWidth are truncated.
type Table struct {
	header []string
	rows   [][]string
}

// NewTable creates a table with the given column headers.
func NewTable(header ...string) *Table {
	return &Table{header: header}
}

// AddRow appends a row; missing cells render empty.
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Render returns the table as text limited to maxWidth display cells per line.
func (t *Table) Render(maxWidth int) string {
	widths := make([]int, len(t.header))
	measure := func(cells []string) {
		for i := range widths {
			if i < len(cells) {
				if w := GetDisplayWidth(cells[i]); w > widths[i] {
					widths[i] = w
				}
			}
		}
	}
	measure(t.header)
	for _, row := range t.rows {
		measure(row)
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		parts := make([]string, len(widths))
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			if i == len(widths)-1 {
				parts[i] = cell
			} else {
				parts[i] = PadRight(cell, widths[i])
			}
		}
		line := strings.TrimRight(strings.Join(parts, "  "), " ")
		b.WriteString(Truncate(line, maxWidth))
		b.WriteByte('\n')
	}

	writeRow(t.header)
	sep := make([]string, len(widths))
	for i, w := range widths {
		sep[i] = strings.Repeat("-", w)
	}
	writeRow(sep)
	for _, row := range t.rows {
		writeRow(row)
	}
	return b.String()
}
