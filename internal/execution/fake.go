package execution

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// FakeResponse is the scripted outcome of one command
type FakeResponse struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
	// Do runs before the response is returned, e.g. to write a file the
	// real tool would have produced
	Do func(cmd Command) error
}

// FakeRunner is a CommandRunner for tests. Responses are matched by the
// longest registered prefix of "name arg1 arg2 ...".
type FakeRunner struct {
	mu        sync.Mutex
	responses map[string]FakeResponse
	missing   map[string]bool
	Calls     []Command
}

// NewFakeRunner creates an empty fake
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		responses: make(map[string]FakeResponse),
		missing:   make(map[string]bool),
	}
}

// On registers the response for commands starting with prefix
func (f *FakeRunner) On(prefix string, resp FakeResponse) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[prefix] = resp
	return f
}

// Missing makes LookPath fail for name
func (f *FakeRunner) Missing(name string) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.missing[name] = true
	return f
}

// CommandLines returns every recorded invocation as "name args..."
func (f *FakeRunner) CommandLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := make([]string, len(f.Calls))
	for i, c := range f.Calls {
		lines[i] = commandLine(c)
	}
	return lines
}

// LookPath implements CommandRunner
func (f *FakeRunner) LookPath(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[name] {
		return "", fmt.Errorf("%s: executable file not found in $PATH", name)
	}
	return "/usr/bin/" + name, nil
}

// Run implements CommandRunner
func (f *FakeRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, cmd)
	line := commandLine(cmd)
	var (
		resp  FakeResponse
		found bool
		best  int
	)
	for prefix, r := range f.responses {
		if strings.HasPrefix(line, prefix) && len(prefix) >= best {
			resp, found, best = r, true, len(prefix)
		}
	}
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !found {
		return &Result{ExitCode: 127}, &ExitError{Command: cmd.Name, ExitCode: 127, Stderr: "command not scripted"}
	}
	if resp.Do != nil {
		if err := resp.Do(cmd); err != nil {
			return nil, err
		}
	}

	result := &Result{Stdout: []byte(resp.Stdout), Stderr: resp.Stderr, ExitCode: resp.ExitCode}
	if cmd.Stdout != nil && resp.Stdout != "" {
		if _, err := cmd.Stdout.Write([]byte(resp.Stdout)); err != nil {
			return result, err
		}
		result.Stdout = nil
	}
	if resp.Err != nil {
		return result, resp.Err
	}
	if resp.ExitCode != 0 {
		return result, &ExitError{Command: cmd.Name, ExitCode: resp.ExitCode, Stderr: resp.Stderr}
	}
	return result, nil
}

func commandLine(cmd Command) string {
	return strings.TrimSpace(cmd.Name + " " + strings.Join(cmd.Args, " "))
}
