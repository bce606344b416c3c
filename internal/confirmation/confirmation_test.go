package confirmation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"zesty-backup/internal/errors"
)

func newTestService(input string) (Service, *bytes.Buffer) {
	var out bytes.Buffer
	return NewService(strings.NewReader(input), &out, nil), &out
}

func testRequest(n int) Request {
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf("backup-2024010%d-000000.tar.zst", i)
	}
	return Request{
		Title:    "Archives to delete",
		Items:    items,
		Warning:  "Deleted archives cannot be recovered",
		Question: "Delete these archives?",
	}
}

func TestConfirmAnswers(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"maybe\ny\n", true},
		{"maybe\n", false},
	}

	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			service, _ := newTestService(tt.input)
			got, err := service.Confirm(context.Background(), testRequest(2), false)
			if err != nil {
				t.Fatalf("Confirm returned error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Confirm(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestConfirmShowsSummary(t *testing.T) {
	service, out := newTestService("n\n")
	if _, err := service.Confirm(context.Background(), testRequest(2), false); err != nil {
		t.Fatalf("Confirm returned error: %v", err)
	}

	text := out.String()
	for _, want := range []string{
		"Archives to delete",
		"  1. backup-20240100-000000.tar.zst",
		"  2. backup-20240101-000000.tar.zst",
		"Deleted archives cannot be recovered",
		"Delete these archives? [y/N/d]: ",
		"Cancelled",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestConfirmTruncatesLongListsUntilDetailsRequested(t *testing.T) {
	req := testRequest(summaryLimit + 3)
	service, out := newTestService("d\ny\n")

	ok, err := service.Confirm(context.Background(), req, false)
	if err != nil {
		t.Fatalf("Confirm returned error: %v", err)
	}
	if !ok {
		t.Error("expected approval after details")
	}

	text := out.String()
	if !strings.Contains(text, "... and 3 more (d to list all)") {
		t.Errorf("summary was not truncated:\n%s", text)
	}
	last := fmt.Sprintf("%3d. %s", len(req.Items), req.Items[len(req.Items)-1])
	if !strings.Contains(text, last) {
		t.Errorf("details did not list %q:\n%s", last, text)
	}
}

func TestConfirmAutoApprove(t *testing.T) {
	service, out := newTestService("")
	ok, err := service.Confirm(context.Background(), testRequest(1), true)
	if err != nil {
		t.Fatalf("Confirm returned error: %v", err)
	}
	if !ok {
		t.Error("auto-approve should confirm")
	}
	if strings.Contains(out.String(), "[y/N/d]") {
		t.Error("auto-approve should not prompt")
	}
}

func TestConfirmCancelledContext(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	var out bytes.Buffer
	service := NewService(r, &out, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, err := service.Confirm(ctx, testRequest(1), false)
	if ok {
		t.Error("cancelled prompt should not confirm")
	}
	if !errors.IsType(err, errors.ErrorTypeInterruption) {
		t.Errorf("expected interruption error, got %v", err)
	}
}
