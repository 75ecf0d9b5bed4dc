package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

const (
	colorReset  = "\033[0m"
	colorDebug  = "\033[33m"
	colorGreen  = "\033[92m"
	colorYellow = "\033[93m"
	colorRed    = "\033[91m"
)

var (
	// Out receives every helper's output.
	Out io.Writer = os.Stdout
	// Color enables ANSI colors. It defaults to on when stdout is a terminal.
	Color = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
)

func colored(color, format string, a ...interface{}) {
	if Color {
		fmt.Fprint(Out, color)
		defer fmt.Fprint(Out, colorReset)
	}
	fmt.Fprintf(Out, format, a...)
}

func DebugPrintf(enabled bool, format string, a ...interface{}) {
	if enabled {
		colored(colorDebug, "[DEBUG] "+format, a...)
	}
}

func GreenPrintf(format string, a ...interface{}) { colored(colorGreen, format, a...) }

func WarningPrintf(format string, a ...interface{}) { colored(colorYellow, format, a...) }

func ErrorPrintf(format string, a ...interface{}) { colored(colorRed, format, a...) }

func ClearScreen() {
	if Color {
		fmt.Fprint(Out, "\033[2J\033[1;1H")
	}
}
