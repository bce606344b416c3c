package display

import (
	"os"

	"github.com/mattn/go-isatty"
)

// Icon has a Unicode glyph and an ASCII fallback
type Icon struct {
	Unicode string
	ASCII   string
}

var icons = map[string]Icon{
	"success": {Unicode: "✓", ASCII: "[OK]"},
	"warning": {Unicode: "⚠", ASCII: "[WARN]"},
	"error":   {Unicode: "✗", ASCII: "[ERROR]"},
	"info":    {Unicode: "ℹ", ASCII: "[INFO]"},
	"archive": {Unicode: "▣", ASCII: "*"},
	"remote":  {Unicode: "☁", ASCII: "@"},
}

// detectUnicodeSupport checks if the terminal can show the glyphs
func detectUnicodeSupport() bool {
	if os.Getenv("FORCE_UNICODE") != "" {
		return true
	}
	if os.Getenv("NO_UNICODE") != "" {
		return false
	}
	if os.Getenv("LANG") == "C" || os.Getenv("LC_ALL") == "C" {
		return false
	}
	if t := os.Getenv("TERM"); t == "dumb" || t == "vt100" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

func renderIcon(name string, unicode bool) string {
	icon, ok := icons[name]
	if !ok {
		return ""
	}
	if unicode {
		return icon.Unicode
	}
	return icon.ASCII
}
