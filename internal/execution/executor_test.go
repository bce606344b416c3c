package execution

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"zesty-backup/internal/errors"
)

func TestExecRunner_CapturesStdout(t *testing.T) {
	runner := NewExecRunner(nil)

	result, err := runner.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "printf hello"}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if string(result.Stdout) != "hello" {
		t.Errorf("Expected stdout %q, got %q", "hello", result.Stdout)
	}
	if result.ExitCode != 0 {
		t.Errorf("Expected exit code 0, got %d", result.ExitCode)
	}
}

func TestExecRunner_StreamsToWriter(t *testing.T) {
	var out bytes.Buffer
	runner := NewExecRunner(nil)

	result, err := runner.Run(context.Background(), Command{
		Name:   "sh",
		Args:   []string{"-c", "cat"},
		Stdin:  strings.NewReader("piped"),
		Stdout: &out,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.String() != "piped" {
		t.Errorf("Expected writer to receive %q, got %q", "piped", out.String())
	}
	if len(result.Stdout) != 0 {
		t.Errorf("Expected no captured stdout when a writer is set, got %q", result.Stdout)
	}
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	runner := NewExecRunner(nil)

	result, err := runner.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo broken >&2; exit 3"}})
	if err == nil {
		t.Fatal("Expected an error for a non-zero exit")
	}

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Expected *ExitError, got %T", err)
	}
	if exitErr.ExitCode != 3 {
		t.Errorf("Expected exit code 3, got %d", exitErr.ExitCode)
	}
	if exitErr.Stderr != "broken" {
		t.Errorf("Expected stderr %q, got %q", "broken", exitErr.Stderr)
	}
	if result == nil || result.ExitCode != 3 {
		t.Errorf("Expected result with exit code 3, got %+v", result)
	}
}

func TestExecRunner_Timeout(t *testing.T) {
	runner := NewExecRunner(nil)

	_, err := runner.Run(context.Background(), Command{Name: "sleep", Args: []string{"5"}, Timeout: 50 * time.Millisecond})
	if err == nil {
		t.Fatal("Expected a timeout error")
	}
	if !errors.IsType(err, errors.ErrorTypeTimeout) {
		t.Errorf("Expected timeout error, got %v", err)
	}
}

func TestExecRunner_LookPath(t *testing.T) {
	runner := NewExecRunner(nil)

	if _, err := runner.LookPath("sh"); err != nil {
		t.Errorf("Expected sh to be found, got %v", err)
	}
	_, err := runner.LookPath("zesty-backup-no-such-tool")
	if !errors.IsType(err, errors.ErrorTypeNotFound) {
		t.Errorf("Expected not found error, got %v", err)
	}
}

func TestCommand_StringRedactsSecrets(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{
			name: "password flag",
			cmd:  Command{Name: "mysqldump", Args: []string{"-u", "root", "-psecret", "shop"}},
			want: "mysqldump -u root -p*** shop",
		},
		{
			name: "redis auth",
			cmd:  Command{Name: "redis-cli", Args: []string{"-a", "hunter2", "--rdb", "dump.rdb"}},
			want: "redis-cli -a *** --rdb dump.rdb",
		},
		{
			name: "sensitive",
			cmd:  Command{Name: "mega-login", Args: []string{"me@example.com", "pw"}, Sensitive: true},
			want: "mega-login [arguments hidden]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cmd.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFakeRunner_LongestPrefixWins(t *testing.T) {
	fake := NewFakeRunner().
		On("mega-ls", FakeResponse{Stdout: "generic"}).
		On("mega-ls -l", FakeResponse{Stdout: "long"}).
		On("mega-rm", FakeResponse{ExitCode: 2, Stderr: "denied"})

	result, err := fake.Run(context.Background(), Command{Name: "mega-ls", Args: []string{"-l", "/backups"}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if string(result.Stdout) != "long" {
		t.Errorf("Expected the longest prefix response, got %q", result.Stdout)
	}

	_, err = fake.Run(context.Background(), Command{Name: "mega-rm", Args: []string{"-f", "x"}})
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode != 2 {
		t.Errorf("Expected exit error with code 2, got %v", err)
	}

	_, err = fake.Run(context.Background(), Command{Name: "unknown"})
	if err == nil {
		t.Error("Expected unscripted command to fail")
	}

	lines := fake.CommandLines()
	if len(lines) != 3 || lines[0] != "mega-ls -l /backups" {
		t.Errorf("Unexpected recorded calls: %v", lines)
	}
}
