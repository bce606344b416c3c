package display

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
		{1 << 30, "1.0 GiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatTime(t *testing.T) {
	if got := FormatTime(time.Time{}); got != "never" {
		t.Errorf("FormatTime(zero) = %q", got)
	}
	ts := time.Date(2024, 1, 15, 10, 30, 0, 0, time.Local)
	if got := FormatTime(ts); got != "2024-01-15 10:30:00" {
		t.Errorf("FormatTime() = %q", got)
	}
}

func TestParseOutputFormat(t *testing.T) {
	tests := map[string]OutputFormat{
		"":      FormatTable,
		"table": FormatTable,
		"JSON":  FormatJSON,
		"yaml":  FormatYAML,
		"yml":   FormatYAML,
	}
	for in, want := range tests {
		got, err := ParseOutputFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseOutputFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseOutputFormat("xml"); err == nil {
		t.Error("expected an error for xml")
	}
}

func TestEncode(t *testing.T) {
	listing := ArchiveListing{
		Scope:    "local",
		Archives: []ArchiveRow{{Name: "backup-20240115-100000.tar.zst", Kind: "full", Size: 42}},
		Total:    42,
	}

	var buf bytes.Buffer
	if err := Encode(&buf, FormatJSON, listing); err != nil {
		t.Fatal(err)
	}
	var fromJSON ArchiveListing
	if err := json.Unmarshal(buf.Bytes(), &fromJSON); err != nil {
		t.Fatal(err)
	}
	if fromJSON.Archives[0].Name != listing.Archives[0].Name || fromJSON.Total != 42 {
		t.Errorf("unexpected JSON: %s", buf.String())
	}

	buf.Reset()
	if err := Encode(&buf, FormatYAML, listing); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "scope: local") {
		t.Errorf("unexpected YAML: %s", buf.String())
	}
	var fromYAML ArchiveListing
	if err := yaml.Unmarshal(buf.Bytes(), &fromYAML); err != nil {
		t.Fatal(err)
	}
	if fromYAML.Archives[0].Size != 42 {
		t.Errorf("unexpected YAML: %s", buf.String())
	}

	if err := Encode(&buf, FormatTable, listing); err == nil {
		t.Error("table is not a structured format")
	}
}
