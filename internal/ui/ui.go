// Package ui prints user-facing messages for the xboxauth CLI. Prompts and
// diagnostics go to stderr so stdout stays clean for `xboxauth token`.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
)

var writer io.Writer = os.Stderr

// SetWriter overrides the stderr writer (for testing). nil restores stderr.
func SetWriter(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	writer = w
}

var colorEnabled = detectColor(os.Stderr)

func detectColor(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// SetColorEnabled overrides color detection (for testing).
func SetColorEnabled(enabled bool) {
	colorEnabled = enabled
}

func ansi(code, s string) string {
	if !colorEnabled {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

// Bold returns s in bold.
func Bold(s string) string { return ansi("1", s) }

// Dim returns s dimmed.
func Dim(s string) string { return ansi("2", s) }

// Green returns s in green.
func Green(s string) string { return ansi("32", s) }

// Warn prints a user-facing warning.
func Warn(msg string) {
	fmt.Fprintf(writer, "%s %s\n", ansi("33", "Warning:"), msg)
}

// Warnf prints a formatted user-facing warning.
func Warnf(format string, args ...any) {
	Warn(fmt.Sprintf(format, args...))
}

// Error prints a user-facing error.
func Error(msg string) {
	fmt.Fprintf(writer, "%s %s\n", ansi("31", "Error:"), msg)
}

// Errorf prints a formatted user-facing error.
func Errorf(format string, args ...any) {
	Error(fmt.Sprintf(format, args...))
}

// Info prints a message with no prefix.
func Info(msg string) {
	fmt.Fprintln(writer, msg)
}

// Infof prints a formatted message with no prefix.
func Infof(format string, args ...any) {
	fmt.Fprintf(writer, format+"\n", args...)
}

// SignInPrompt tells the user where to approve the sign-in. When
// openingBrowser is false the URL must be opened by hand.
func SignInPrompt(url, userCode string, expiresIn time.Duration, openingBrowser bool) {
	action := "Open this URL to sign in to Xbox Live:"
	if openingBrowser {
		action = "Opening your browser to sign in to Xbox Live. If it does not open, visit:"
	}
	fmt.Fprintln(writer, action)
	fmt.Fprintf(writer, "\n  %s\n\n", Bold(url))
	fmt.Fprintf(writer, "Code: %s %s\n", Bold(userCode),
		Dim(fmt.Sprintf("(expires in %s)", expiresIn.Round(time.Second))))
}

// Fields prints aligned "label: value" rows to w.
func Fields(w io.Writer, rows [][2]string) {
	width := 0
	for _, r := range rows {
		width = max(width, len(r[0]))
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%s%s %s\n", Dim(r[0]+":"), strings.Repeat(" ", width-len(r[0])), r[1])
	}
}
