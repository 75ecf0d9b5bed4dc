package daq

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrDeviceNotFound = errors.New("DAQ device not found")

// TerminalConfig is the analog input terminal configuration.
type TerminalConfig int

const (
	TerminalDefault TerminalConfig = iota
	TerminalDiff
	TerminalNRSE
	TerminalPseudoDiff
	TerminalRSE
)

var terminalNames = map[TerminalConfig]string{
	TerminalDefault:    "DEFAULT",
	TerminalDiff:       "DIFF",
	TerminalNRSE:       "NRSE",
	TerminalPseudoDiff: "PSEUDO_DIFF",
	TerminalRSE:        "RSE",
}

func (t TerminalConfig) String() string {
	if s, ok := terminalNames[t]; ok {
		return s
	}
	return fmt.Sprintf("TerminalConfig(%d)", int(t))
}

// ParseTerminalConfig accepts the names above, case-insensitively. An empty
// string is DEFAULT.
func ParseTerminalConfig(s string) (TerminalConfig, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return TerminalDefault, nil
	}
	s = strings.ReplaceAll(s, "-", "_")
	for t, name := range terminalNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("incorrect value for DAQ terminal configuration: %q", s)
}

func (t TerminalConfig) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TerminalConfig) UnmarshalText(b []byte) error {
	v, err := ParseTerminalConfig(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// differential reports whether ai<n> can be wired differentially: the first
// eight inputs of each 16-input bank.
func differential(n int) bool {
	return (n >= 0 && n < 8) || (n >= 16 && n < 24)
}

// ChannelNames builds "<device>/ai<n>" for each channel. With DIFF only the
// inputs that have a differential pair are kept, preserving order.
func ChannelNames(device string, channels []int, term TerminalConfig) []string {
	out := make([]string, 0, len(channels))
	for _, ch := range channels {
		if term == TerminalDiff && !differential(ch) {
			continue
		}
		out = append(out, fmt.Sprintf("%s/ai%d", device, ch))
	}
	return out
}

// ChannelIndex extracts n from "<device>/ai<n>".
func ChannelIndex(name string) (int, error) {
	i := strings.LastIndex(name, "/ai")
	if i < 0 {
		return 0, fmt.Errorf("invalid channel name %q", name)
	}
	n, err := strconv.Atoi(name[i+3:])
	if err != nil {
		return 0, fmt.Errorf("invalid channel name %q: %w", name, err)
	}
	return n, nil
}

// DeviceInfo describes one acquisition device visible to a Reader.
type DeviceInfo struct {
	Name         string
	ProductType  string
	SerialNumber uint32
}

// FindDevice returns the name of the device whose serial number matches the
// hexadecimal string serial (as printed on the device label).
func FindDevice(devices []DeviceInfo, serial string) (string, error) {
	want, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(serial), "0x"), 16, 32)
	if err != nil {
		return "", fmt.Errorf("invalid DAQ serial number %q: %w", serial, err)
	}
	for _, d := range devices {
		if d.SerialNumber == uint32(want) {
			return d.Name, nil
		}
	}
	return "", fmt.Errorf("%w: serial %s", ErrDeviceNotFound, serial)
}
