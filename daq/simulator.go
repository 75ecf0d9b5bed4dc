package daq

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/CK6170/EposForce-go/matrix"
)

// Simulator produces strain-gauge voltages for a known load by running the
// calibration backwards: raw = pinv(M)·load + offset + noise.
type Simulator struct {
	mu     sync.Mutex
	device DeviceInfo
	toRaw  *matrix.Calibration
	rng    *rand.Rand

	// Offset is the zero-load voltage of each channel.
	Offset []float64
	// Noise is the half-width of uniform noise added to each sample, in volts.
	Noise float64
	// Load returns the calibrated load currently applied. Nil means unloaded.
	Load func() []float64
}

func NewSimulator(cal *matrix.Calibration, device DeviceInfo, seed uint64) (*Simulator, error) {
	pinv, err := cal.PseudoInverse()
	if err != nil {
		return nil, err
	}
	_, channels := cal.Dims()
	offset := make([]float64, channels)
	for i := range offset {
		offset[i] = 0.01 * float64(i+1)
	}
	return &Simulator{
		device: device,
		toRaw:  pinv,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)),
		Offset: offset,
		Noise:  0.0005,
	}, nil
}

func (s *Simulator) Devices() ([]DeviceInfo, error) { return []DeviceInfo{s.device}, nil }

func (s *Simulator) ReadMean(ctx context.Context, acq Acquisition) ([]float64, error) {
	if acq.Samples <= 0 {
		return nil, fmt.Errorf("samples must be > 0")
	}
	channels, outputs := s.toRaw.Dims()
	if len(acq.Channels) != channels {
		return nil, fmt.Errorf("%w: %s has %d channels, sensor has %d", matrix.ErrDimension, acq.Task, len(acq.Channels), channels)
	}

	load := make([]float64, outputs)
	if s.Load != nil {
		if l := s.Load(); l != nil {
			load = l
		}
	}
	clean, err := matrix.Transform(s.toRaw, load, make([]float64, outputs))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sum := make([]float64, channels)
	for k := 0; k < acq.Samples; k++ {
		if k%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for i := range sum {
			sum[i] += clean[i] + s.Offset[i] + s.Noise*(2*s.rng.Float64()-1)
		}
	}
	for i := range sum {
		sum[i] /= float64(acq.Samples)
	}
	return sum, nil
}

func (s *Simulator) Close() error { return nil }
