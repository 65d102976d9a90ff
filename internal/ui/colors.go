// Package ui styles terminal output with ANSI sequences.
package ui

// ANSI styles
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorDim   = "\033[2m"

	ColorCyan   = "\033[36m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorWhite  = "\033[97m"
	ColorRed    = "\033[31m"
)

// Paint wraps s in the given style and resets afterwards
func Paint(style, s string) string {
	if s == "" {
		return ""
	}
	return style + s + ColorReset
}

func Bold(s string) string { return Paint(ColorBold, s) }

// Heading styles a help or report section title
func Heading(s string) string { return Paint(ColorBold+ColorWhite, s) }

// Muted is used for descriptions and secondary details
func Muted(s string) string { return Paint(ColorDim, s) }

func Success(s string) string { return Paint(ColorGreen, s) }

// Info marks a run that needs attention but did not fail, such as an
// incomplete sync
func Info(s string) string { return Paint(ColorDim+ColorYellow, s) }

func Error(s string) string { return Paint(ColorRed, s) }
