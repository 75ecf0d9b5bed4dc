package ui

import (
	"context"
	"errors"
	"fmt"
	"unicode"
)

// ErrAborted is returned when the operator presses Esc or Ctrl+C at a prompt.
var ErrAborted = errors.New("aborted by operator")

// Confirm prints prompt followed by " (y/n) " and waits for a y or n key.
func Confirm(ctx context.Context, prompt string) (bool, error) {
	DrainKeys()
	WarningPrintf("%s (y/n) ", prompt)
	return confirmFrom(ctx, StartKeyEvents())
}

func confirmFrom(ctx context.Context, keys <-chan rune) (bool, error) {
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case r, ok := <-keys:
			if !ok {
				return false, ErrAborted
			}
			switch unicode.ToLower(r) {
			case 'y':
				echo("y")
				return true, nil
			case 'n':
				echo("n")
				return false, nil
			case KeyEsc, KeyCtrlC:
				echo("")
				return false, ErrAborted
			}
		}
	}
}

// WaitEnter blocks until Enter is pressed.
func WaitEnter(ctx context.Context, prompt string) error {
	DrainKeys()
	WarningPrintf("%s", prompt)
	keys := StartKeyEvents()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-keys:
			if !ok || r == KeyEsc || r == KeyCtrlC {
				echo("")
				return ErrAborted
			}
			if r == KeyEnter {
				echo("")
				return nil
			}
		}
	}
}

func echo(s string) { fmt.Fprintln(Out, s) }
