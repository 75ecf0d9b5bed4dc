package ui

import (
	"bufio"
	"os"
	"sync"

	"github.com/eiannone/keyboard"
)

// Keys delivered for the special keys the prompts care about.
const (
	KeyEnter = '\r'
	KeyEsc   = 27
	KeyCtrlC = 3
)

var (
	keyCh     chan rune
	startOnce sync.Once
)

// StartKeyEvents returns a channel that emits single-key runes read without Enter.
// The channel is closed if the terminal stops delivering keys.
func StartKeyEvents() chan rune {
	startOnce.Do(func() {
		keyCh = make(chan rune, 64)
		if err := keyboard.Open(); err != nil {
			// No raw terminal (piped input): take the first rune of each line.
			go readLines()
			return
		}
		go func() {
			defer keyboard.Close()
			for {
				char, key, err := keyboard.GetKey()
				if err != nil {
					close(keyCh)
					return
				}
				var r rune
				switch key {
				case 0:
					r = char
				case keyboard.KeyEnter:
					r = KeyEnter
				case keyboard.KeyEsc:
					r = KeyEsc
				case keyboard.KeyCtrlC:
					r = KeyCtrlC
				default:
					continue
				}
				select {
				case keyCh <- r:
				default:
				}
			}
		}()
	})
	return keyCh
}

// DrainKeys consumes any immediately available keys to avoid accidental triggers.
func DrainKeys() {
	ch := StartKeyEvents()
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func readLines() {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if line := []rune(sc.Text()); len(line) > 0 {
			keyCh <- line[0]
		}
		keyCh <- KeyEnter
	}
	close(keyCh)
}
