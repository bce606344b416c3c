package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// Alignment represents column alignment options
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// BorderStyle defines table border characters
type BorderStyle struct {
	Horizontal string
	Vertical   string
	Cross      string
}

var (
	ASCIIBorderStyle   = BorderStyle{Horizontal: "-", Vertical: "|", Cross: "+"}
	RoundedBorderStyle = BorderStyle{Horizontal: "─", Vertical: "│", Cross: "┼"}
)

// Table renders rows under a header line. Cells wider than the terminal
// allows are truncated with an ellipsis.
type Table struct {
	headers    []string
	rows       [][]string
	alignments map[int]Alignment
	border     BorderStyle
	maxWidth   int
	colors     *ColorSystem
	headColor  Color
}

// NewTable creates a table sized to the terminal. colors may be nil.
func NewTable(colors *ColorSystem, headers ...string) *Table {
	return &Table{
		headers:    headers,
		alignments: make(map[int]Alignment),
		border:     ASCIIBorderStyle,
		maxWidth:   terminalWidth(),
		colors:     colors,
		headColor:  DefaultColorTheme().Primary,
	}
}

// AddRow adds a row to the table
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// SetAlignment sets the alignment for a column
func (t *Table) SetAlignment(column int, a Alignment) {
	t.alignments[column] = a
}

// SetBorder replaces the border characters
func (t *Table) SetBorder(b BorderStyle) {
	t.border = b
}

// SetMaxWidth overrides the detected terminal width; 0 disables fitting
func (t *Table) SetMaxWidth(w int) {
	t.maxWidth = w
}

// Len returns the number of rows
func (t *Table) Len() int {
	return len(t.rows)
}

// Render returns the formatted table
func (t *Table) Render() string {
	if len(t.headers) == 0 && len(t.rows) == 0 {
		return ""
	}
	widths := t.fit(t.columnWidths())

	var b strings.Builder
	if len(t.headers) > 0 {
		b.WriteString(t.renderRow(t.headers, widths, true))
		b.WriteString(t.renderSeparator(widths))
	}
	for _, row := range t.rows {
		b.WriteString(t.renderRow(row, widths, false))
	}
	return b.String()
}

// RenderTo writes the table to w
func (t *Table) RenderTo(w io.Writer) {
	fmt.Fprint(w, t.Render())
}

func (t *Table) columnCount() int {
	n := len(t.headers)
	for _, row := range t.rows {
		if len(row) > n {
			n = len(row)
		}
	}
	return n
}

func (t *Table) columnWidths() []int {
	widths := make([]int, t.columnCount())
	for i, h := range t.headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if w := utf8.RuneCountInString(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	return widths
}

// fit shrinks the widest columns until the table fits maxWidth
func (t *Table) fit(widths []int) []int {
	if t.maxWidth <= 0 || len(widths) == 0 {
		return widths
	}
	const minWidth = 4
	for total(widths, len(t.border.Vertical)) > t.maxWidth {
		widest := 0
		for i := range widths {
			if widths[i] > widths[widest] {
				widest = i
			}
		}
		if widths[widest] <= minWidth {
			break
		}
		widths[widest]--
	}
	return widths
}

func total(widths []int, sep int) int {
	sum := 0
	for _, w := range widths {
		sum += w + 2
	}
	return sum + sep*(len(widths)-1)
}

func (t *Table) renderSeparator(widths []int) string {
	h := t.border.Horizontal
	if h == "" {
		return ""
	}
	parts := make([]string, len(widths))
	for i, w := range widths {
		parts[i] = strings.Repeat(h, w+2)
	}
	return strings.Join(parts, t.border.Cross) + "\n"
}

func (t *Table) renderRow(row []string, widths []int, header bool) string {
	cells := make([]string, len(widths))
	for i, w := range widths {
		var cell string
		if i < len(row) {
			cell = row[i]
		}
		// headers stay left aligned above right aligned columns
		if header {
			cell = t.colors.Colorize(pad(truncate(cell, w), w, AlignLeft), t.headColor)
		} else {
			cell = pad(truncate(cell, w), w, t.alignments[i])
		}
		cells[i] = " " + cell + " "
	}
	line := strings.Join(cells, t.border.Vertical)
	return strings.TrimRight(line, " ") + "\n"
}

func truncate(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	runes := []rune(s)
	if width > 3 {
		return string(runes[:width-3]) + "..."
	}
	return string(runes[:width])
}

func pad(s string, width int, a Alignment) string {
	gap := width - utf8.RuneCountInString(s)
	if gap <= 0 {
		return s
	}
	if a == AlignRight {
		return strings.Repeat(" ", gap) + s
	}
	return s + strings.Repeat(" ", gap)
}

// terminalWidth returns the width of stdout, or 0 when it is not a terminal
func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 0
	}
	return width
}
