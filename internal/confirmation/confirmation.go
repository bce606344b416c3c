package confirmation

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"zesty-backup/internal/display"
	"zesty-backup/internal/errors"
)

// summaryLimit is how many items are listed before "d" is needed to see all
const summaryLimit = 10

// Request describes a destructive operation awaiting approval
type Request struct {
	Title    string
	Items    []string
	Warning  string
	Question string
}

// Service asks the user before destructive operations
type Service interface {
	Confirm(ctx context.Context, req Request, autoApprove bool) (bool, error)
}

type confirmationService struct {
	reader *bufio.Reader
	out    io.Writer
	colors *display.ColorSystem
}

// NewService creates a Service reading answers from in and writing the
// prompt to out
func NewService(in io.Reader, out io.Writer, colors *display.ColorSystem) Service {
	return &confirmationService{
		reader: bufio.NewReader(in),
		out:    out,
		colors: colors,
	}
}

// Confirm shows the summary and waits for y/N. "d" lists every item when
// the summary was truncated. Cancelling ctx aborts the prompt.
func (cs *confirmationService) Confirm(ctx context.Context, req Request, autoApprove bool) (bool, error) {
	cs.showSummary(req, summaryLimit)

	if autoApprove {
		fmt.Fprintln(cs.out, cs.colors.Colorize("Auto-approving", display.ColorGreen))
		return true, nil
	}

	for {
		input, err := cs.prompt(ctx, req.Question)
		if err != nil {
			return false, err
		}

		switch strings.ToLower(input) {
		case "y", "yes":
			return true, nil
		case "n", "no", "":
			fmt.Fprintln(cs.out, "Cancelled")
			return false, nil
		case "d", "details":
			cs.showItems(req.Items, 0)
		default:
			fmt.Fprintf(cs.out, "Invalid input '%s'. Please enter 'y' for yes, 'n' for no, or 'd' for details.\n", input)
		}
	}
}

func (cs *confirmationService) showSummary(req Request, limit int) {
	fmt.Fprintln(cs.out, cs.colors.Colorize(req.Title, display.ColorCyan))
	fmt.Fprintln(cs.out, strings.Repeat("=", len([]rune(req.Title))))
	cs.showItems(req.Items, limit)
	if req.Warning != "" {
		fmt.Fprintln(cs.out, cs.colors.Colorize(req.Warning, display.ColorYellow))
	}
}

// showItems lists items, at most limit of them when limit > 0
func (cs *confirmationService) showItems(items []string, limit int) {
	shown := items
	if limit > 0 && len(items) > limit {
		shown = items[:limit]
	}
	for i, item := range shown {
		fmt.Fprintf(cs.out, "%3d. %s\n", i+1, item)
	}
	if rest := len(items) - len(shown); rest > 0 {
		fmt.Fprintf(cs.out, "     ... and %d more (d to list all)\n", rest)
	}
}

// prompt reads one line. The read runs in its own goroutine so an
// interrupt can end the wait.
func (cs *confirmationService) prompt(ctx context.Context, question string) (string, error) {
	fmt.Fprint(cs.out, cs.colors.Colorize(question+" [y/N/d]: ", display.ColorCyan))

	inputChan := make(chan string, 1)
	errorChan := make(chan error, 1)
	go func() {
		input, err := cs.reader.ReadString('\n')
		if err != nil && input == "" {
			errorChan <- err
			return
		}
		inputChan <- strings.TrimSpace(input)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(cs.out)
		return "", errors.NewAppError(errors.ErrorTypeInterruption, "operation cancelled by user", ctx.Err())
	case err := <-errorChan:
		if err == io.EOF {
			// closed input counts as "no"
			return "n", nil
		}
		return "", errors.WrapError(err, "failed to read user input")
	case input := <-inputChan:
		return input, nil
	}
}
