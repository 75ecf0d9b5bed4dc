package serial

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/tarm/serial"
)

// DefaultReadTimeout bounds every read on ports opened by this package.
const DefaultReadTimeout = 300 * time.Millisecond

// Prober reports whether the device on an open port is the one we want.
type Prober func(rw io.ReadWriter) bool

// Open opens name as an 8N1 serial port.
func Open(name string, baud int, readTimeout time.Duration) (*serial.Port, error) {
	if name == "" {
		return nil, fmt.Errorf("serial port name is empty")
	}
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	config := &serial.Config{
		Name:        name,
		Baud:        baud,
		Parity:      serial.ParityNone,
		Size:        8,
		StopBits:    serial.Stop1,
		ReadTimeout: readTimeout,
	}
	port, err := serial.OpenPort(config)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return port, nil
}

// Candidates lists the port names worth probing on this OS.
func Candidates() []string {
	if runtime.GOOS == "windows" {
		out := make([]string, 0, 64)
		for i := 1; i <= 64; i++ {
			out = append(out, fmt.Sprintf("COM%d", i))
		}
		return out
	}
	out := make([]string, 0, 32)
	for _, pat := range []string{"/dev/ttyUSB*", "/dev/ttyACM*", "/dev/ttyS*", "/dev/cu.*"} {
		matches, _ := filepath.Glob(pat)
		for _, m := range matches {
			if _, err := os.Stat(m); err == nil {
				out = append(out, m)
			}
		}
	}
	return out
}

// AutoDetectPort returns the first candidate port whose device satisfies probe,
// skipping names in exclude. It returns "" when nothing answers.
func AutoDetectPort(baud int, probe Prober, exclude ...string) string {
	skip := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		skip[e] = true
	}
	for _, name := range Candidates() {
		if skip[name] {
			continue
		}
		if TestPort(name, baud, probe) {
			return name
		}
	}
	return ""
}

// TestPort opens name, runs probe and closes the port again.
func TestPort(name string, baud int, probe Prober) bool {
	sp, err := Open(name, baud, DefaultReadTimeout)
	if err != nil {
		return false
	}
	defer func() { _ = sp.Close() }()
	return probe(sp)
}
