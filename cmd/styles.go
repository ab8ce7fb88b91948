package cmd

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/ttacon/chalk"
)

var tty bool

func init() {
	// Detect if we're in a TTY or not
	tty = isatty.IsTerminal(os.Stdout.Fd())
}

var (
	// Styles
	Bold = TextStyle{chalk.Bold}

	// Colors
	Red    = Color{chalk.Red}
	Green  = Color{chalk.Green}
	Yellow = Color{chalk.Yellow}
)

// A type that wraps chalk.TextStyle but adds detections for if we're in a TTY
type TextStyle struct {
	underlying chalk.TextStyle
}

// TextStyle styles s, or returns it unchanged outside a terminal
func (t TextStyle) TextStyle(s string) string {
	if !tty {
		return s
	}
	return t.underlying.TextStyle(s)
}

// A type that wraps chalk.Color but adds detections for if we're in a TTY
type Color struct {
	underlying chalk.Color
}

// Color colours s, or returns it unchanged outside a terminal
func (c Color) Color(s string) string {
	if !tty {
		return s
	}
	return c.underlying.Color(s)
}
