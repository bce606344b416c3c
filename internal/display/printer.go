package display

import (
	"fmt"
	"io"
	"strings"
)

// Printer writes command output. Status messages go to ErrWriter so that
// structured output on Writer stays parseable.
type Printer struct {
	config  *DisplayConfig
	colors  *ColorSystem
	theme   ColorTheme
	unicode bool
}

// NewPrinter creates a printer; a nil config uses the defaults
func NewPrinter(config *DisplayConfig) *Printer {
	if config == nil {
		config = DefaultDisplayConfig()
	}
	config.SetDefaults()
	return &Printer{
		config:  config,
		colors:  NewColorSystem(config.ColorEnabled),
		theme:   DefaultColorTheme(),
		unicode: config.UseIcons && detectUnicodeSupport(),
	}
}

// Config returns the printer configuration
func (p *Printer) Config() *DisplayConfig {
	return p.config
}

// Writer is where results are written
func (p *Printer) Writer() io.Writer {
	return p.config.Writer
}

// Header prints an underlined title
func (p *Printer) Header(title string) {
	if p.config.Quiet || p.config.Structured() {
		return
	}
	fmt.Fprintf(p.config.Writer, "%s\n%s\n", p.colors.Colorize(title, p.theme.Primary), strings.Repeat("=", len([]rune(title))))
}

// Success prints a success status line
func (p *Printer) Success(format string, args ...interface{}) {
	p.status("success", p.theme.Success, format, args...)
}

// Warning prints a warning status line
func (p *Printer) Warning(format string, args ...interface{}) {
	p.status("warning", p.theme.Warning, format, args...)
}

// Error prints an error status line. Errors are shown even in quiet mode.
func (p *Printer) Error(format string, args ...interface{}) {
	icon := p.colors.Colorize(renderIcon("error", p.unicode), p.theme.Error)
	fmt.Fprintf(p.config.ErrWriter, "%s %s\n", icon, fmt.Sprintf(format, args...))
}

// Info prints an informational status line
func (p *Printer) Info(format string, args ...interface{}) {
	p.status("info", p.theme.Info, format, args...)
}

func (p *Printer) status(level string, clr Color, format string, args ...interface{}) {
	if p.config.Quiet {
		return
	}
	icon := p.colors.Colorize(renderIcon(level, p.unicode), clr)
	fmt.Fprintf(p.config.ErrWriter, "%s %s\n", icon, fmt.Sprintf(format, args...))
}

// KeyValues prints aligned "key: value" pairs in the given order
func (p *Printer) KeyValues(pairs [][2]string) {
	width := 0
	for _, kv := range pairs {
		if n := len(kv[0]); n > width {
			width = n
		}
	}
	for _, kv := range pairs {
		key := p.colors.Colorize(fmt.Sprintf("%-*s", width+1, kv[0]+":"), p.theme.Muted)
		fmt.Fprintf(p.config.Writer, "%s %s\n", key, kv[1])
	}
}

// NewTable creates a table that follows the printer's color settings
func (p *Printer) NewTable(headers ...string) *Table {
	return NewTable(p.colors, headers...)
}

// Print renders v in the structured format, or calls table for table output
func (p *Printer) Print(v interface{}, table func()) error {
	if p.config.Structured() {
		return Encode(p.config.Writer, p.config.Format, v)
	}
	table()
	return nil
}

// StartSpinner shows progress for a long step. It returns nil when
// progress is off or output is structured; Spinner methods accept nil.
func (p *Printer) StartSpinner(message string) *Spinner {
	if p.config.Quiet || !p.config.ShowProgress || p.config.Structured() || !p.colors.Enabled() {
		return nil
	}
	s := newSpinner(message, p.config.ErrWriter, p.colors, p.unicode)
	s.start()
	return s
}
