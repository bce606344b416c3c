package display

import (
	"fmt"
	"io"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner animates a message on one terminal line until stopped
type Spinner struct {
	message string
	writer  io.Writer
	colors  *ColorSystem
	frames  []string
	delay   time.Duration

	mu     sync.Mutex
	active bool
	stopCh chan struct{}
	doneCh chan struct{}
}

func newSpinner(message string, w io.Writer, colors *ColorSystem, unicode bool) *Spinner {
	frames := spinnerFrames
	if !unicode {
		frames = []string{"-", "\\", "|", "/"}
	}
	return &Spinner{
		message: message,
		writer:  w,
		colors:  colors,
		frames:  frames,
		delay:   100 * time.Millisecond,
	}
}

func (s *Spinner) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	s.active = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.animate()
}

// Update changes the message shown next to the spinner
func (s *Spinner) Update(message string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// Stop clears the line and prints finalMessage, if any. Stop on a nil
// spinner is a no-op so callers need not check whether one was started.
func (s *Spinner) Stop(finalMessage string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh
	fmt.Fprint(s.writer, "\r\033[K")
	if finalMessage != "" {
		fmt.Fprintln(s.writer, finalMessage)
	}
}

func (s *Spinner) animate() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.delay)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			msg := s.message
			s.mu.Unlock()
			frame := s.colors.Colorize(s.frames[i%len(s.frames)], DefaultColorTheme().Primary)
			fmt.Fprintf(s.writer, "\r\033[K%s %s", frame, msg)
		}
	}
}
