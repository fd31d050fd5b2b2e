package ui

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"
)

// ASCII logo for the application
const ASCIILogo = `
    ╔════════════════════════════════════════════════════════════╗
    ║  ██████╗ ██╗  ██╗ █████╗ ██████╗ ███╗   ███╗ █████╗         ║
    ║  ██╔══██╗██║  ██║██╔══██╗██╔══██╗████╗ ████║██╔══██╗        ║
    ║  ██████╔╝███████║███████║██████╔╝██╔████╔██║███████║        ║
    ║  ██╔═══╝ ██╔══██║██╔══██║██╔══██╗██║╚██╔╝██║██╔══██║        ║
    ║  ██║     ██║  ██║██║  ██║██║  ██║██║ ╚═╝ ██║██║  ██║        ║
    ║  ╚═╝     ╚═╝  ╚═╝╚═╝  ╚═╝╚═╝  ╚═╝╚═╝     ╚═╝╚═╝  ╚═╝        ║
    ║       PRESCRIPTION COUNT CRAWLER - 47 PREFECTURES           ║
    ╚════════════════════════════════════════════════════════════╝
`

var (
	mu        sync.Mutex
	out       io.Writer = os.Stdout
	quiet     bool
	colorized = term.IsTerminal(int(os.Stdout.Fd()))
)

// Color functions for terminal output
var (
	Cyan    = colorize("\033[36m%s\033[0m")
	Yellow  = colorize("\033[33m%s\033[0m")
	Red     = colorize("\033[31m%s\033[0m")
	Green   = colorize("\033[32m%s\033[0m")
	Magenta = colorize("\033[35m%s\033[0m")
	Dim     = colorize("\033[2m%s\033[0m")
)

// colorize returns a function that wraps text with ANSI color codes when
// stdout is a terminal
func colorize(colorString string) func(string) string {
	return func(text string) string {
		mu.Lock()
		enabled := colorized
		mu.Unlock()
		if !enabled {
			return text
		}
		return fmt.Sprintf(colorString, text)
	}
}

// SetOutput redirects terminal output. Colors are only kept for terminals.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	colorized = IsTerminal(w)
}

// IsTerminal reports whether w is an interactive terminal
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// SetQuietMode suppresses all terminal output except errors
func SetQuietMode(q bool) {
	mu.Lock()
	defer mu.Unlock()
	quiet = q
}

// IsQuietMode reports whether output is suppressed
func IsQuietMode() bool {
	mu.Lock()
	defer mu.Unlock()
	return quiet
}

func printf(format string, args ...interface{}) {
	if IsQuietMode() {
		return
	}
	mu.Lock()
	w := out
	mu.Unlock()
	fmt.Fprintf(w, format, args...)
}

// PrintLogo prints the ASCII logo with color
func PrintLogo() {
	printf("%s", Cyan(ASCIILogo))
}

// PrintError prints an error message in red. Errors are printed in quiet mode too.
func PrintError(msg string, args ...interface{}) {
	if len(args) > 0 {
		msg = msg + ": " + fmt.Sprintf("%v", args[0])
	}
	mu.Lock()
	w := out
	mu.Unlock()
	fmt.Fprintln(w, Red(msg))
}

// PrintSuccess prints a success message in green
func PrintSuccess(msg string) {
	printf("%s\n", Green(msg))
}

// PrintInfo prints an info message in cyan
func PrintInfo(label string, value string) {
	printf("%s: %s\n", Cyan(label), Yellow(value))
}

// PrintWarning prints a warning message in yellow
func PrintWarning(msg string, args ...interface{}) {
	if len(args) > 0 {
		msg = msg + ": " + fmt.Sprintf("%v", args[0])
	}
	printf("%s\n", Yellow(msg))
}

// PrintHighlight prints a highlighted message in magenta
func PrintHighlight(msg string) {
	printf("%s\n", Magenta(msg))
}
