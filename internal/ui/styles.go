// Package ui renders coloured terminal output for the CLI.
package ui

import "fmt"

// ANSI256 colour codes.
const (
	colorAccent = 74  // blue
	colorOK     = 114 // green
	colorFail   = 203 // red
	colorMuted  = 245 // grey
)

var noColor bool

func render(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent colour.
func RenderAccent(s string) string { return render(colorAccent, s) }

// RenderOK returns s in the success colour.
func RenderOK(s string) string { return render(colorOK, s) }

// RenderFail returns s in the failure colour.
func RenderFail(s string) string { return render(colorFail, s) }

// RenderMuted returns s in the muted colour.
func RenderMuted(s string) string { return render(colorMuted, s) }

// RenderBool renders a verification flag as a coloured yes/no.
func RenderBool(ok bool) string {
	if ok {
		return RenderOK("yes")
	}
	return RenderFail("no")
}

// ForceNoColor disables colour output globally.
func ForceNoColor() {
	noColor = true
}
