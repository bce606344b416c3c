package display

import (
	"io"
	"os"
)

// DisplayConfig holds the output options shared by every command
type DisplayConfig struct {
	Format       OutputFormat
	ColorEnabled bool
	UseIcons     bool
	ShowProgress bool
	Quiet        bool
	Writer       io.Writer
	ErrWriter    io.Writer
}

// DefaultDisplayConfig returns table output on stdout with colors and
// icons where the terminal supports them
func DefaultDisplayConfig() *DisplayConfig {
	return &DisplayConfig{
		Format:       FormatTable,
		ColorEnabled: true,
		UseIcons:     true,
		ShowProgress: true,
		Writer:       os.Stdout,
		ErrWriter:    os.Stderr,
	}
}

// SetDefaults fills unset fields
func (dc *DisplayConfig) SetDefaults() {
	if dc.Format == "" {
		dc.Format = FormatTable
	}
	if dc.Writer == nil {
		dc.Writer = os.Stdout
	}
	if dc.ErrWriter == nil {
		dc.ErrWriter = os.Stderr
	}
}

// Structured reports whether output is machine-readable
func (dc *DisplayConfig) Structured() bool {
	return dc.Format == FormatJSON || dc.Format == FormatYAML
}
