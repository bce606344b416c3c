package display

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTable_Render(t *testing.T) {
	table := NewTable(nil, "NAME", "SIZE")
	table.SetMaxWidth(0)
	table.SetAlignment(1, AlignRight)
	table.AddRow("a.tar", "1 B")
	table.AddRow("backup", "10 KiB")

	want := " NAME   | SIZE\n" +
		"--------+--------\n" +
		" a.tar  |    1 B\n" +
		" backup | 10 KiB\n"
	if got := table.Render(); got != want {
		t.Errorf("Render() =\n%s\nwant\n%s", got, want)
	}
	if table.Len() != 2 {
		t.Errorf("Len() = %d, want 2", table.Len())
	}
}

func TestTable_FitsMaxWidth(t *testing.T) {
	table := NewTable(nil, "NAME")
	table.SetMaxWidth(20)
	table.AddRow(strings.Repeat("x", 30))

	out := table.Render()
	if !strings.Contains(out, "...") {
		t.Errorf("expected truncated cell, got %q", out)
	}
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if n := utf8.RuneCountInString(line); n > 20 {
			t.Errorf("line %q is %d runes wide", line, n)
		}
	}
}

func TestTable_Empty(t *testing.T) {
	if got := NewTable(nil).Render(); got != "" {
		t.Errorf("Render() = %q, want empty", got)
	}
}

func TestTable_RoundedBorder(t *testing.T) {
	table := NewTable(nil, "A", "B")
	table.SetMaxWidth(0)
	table.SetBorder(RoundedBorderStyle)
	table.AddRow("1", "2")

	out := table.Render()
	if !strings.Contains(out, "───┼───") {
		t.Errorf("expected rounded separator, got %q", out)
	}
}
