package daq

import (
	"context"
	"time"
)

// Acquisition is one finite read: Samples samples per channel at Rate Hz.
type Acquisition struct {
	Task     string
	Channels []string
	Rate     float64
	Samples  int
	Terminal TerminalConfig
}

// Timeout is the acquisition window plus 10 s of slack.
func (a Acquisition) Timeout() time.Duration {
	if a.Rate <= 0 {
		return 10 * time.Second
	}
	return time.Duration(float64(a.Samples)/a.Rate*float64(time.Second)) + 10*time.Second
}

// Reader acquires voltages and returns the per-channel mean, in the order of
// Acquisition.Channels.
type Reader interface {
	Devices() ([]DeviceInfo, error)
	ReadMean(ctx context.Context, acq Acquisition) ([]float64, error)
	Close() error
}
