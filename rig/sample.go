package rig

import (
	"context"
	"fmt"
	"math"

	"github.com/CK6170/EposForce-go/daq"
	"github.com/CK6170/EposForce-go/matrix"
)

// BiasTask names the acquisition used for the zero-load baseline.
const BiasTask = "biasTask"

func (s *Session) acquisition(task string, rate, seconds float64) (daq.Acquisition, error) {
	term, err := daq.ParseTerminalConfig(s.Params.DAQ.TERMINAL)
	if err != nil {
		return daq.Acquisition{}, err
	}
	n := int(math.Round(rate * seconds))
	if n <= 0 {
		return daq.Acquisition{}, fmt.Errorf("%s: no samples at %g Hz for %g s", task, rate, seconds)
	}
	return daq.Acquisition{
		Task:     task,
		Channels: s.Channels,
		Rate:     rate,
		Samples:  n,
		Terminal: term,
	}, nil
}

func (s *Session) read(ctx context.Context, acq daq.Acquisition) ([]float64, error) {
	if s == nil || s.DAQ == nil {
		return nil, fmt.Errorf("not connected")
	}
	ctx, cancel := context.WithTimeout(ctx, acq.Timeout())
	defer cancel()
	v, err := s.DAQ.ReadMean(ctx, acq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", acq.Task, err)
	}
	return v, nil
}

// CaptureBias averages the unloaded sensor over BIASSECONDS at BIASRATE.
func CaptureBias(ctx context.Context, s *Session) ([]float64, error) {
	d := s.Params.DAQ
	acq, err := s.acquisition(BiasTask, d.BIASRATE, d.BIASSECONDS)
	if err != nil {
		return nil, err
	}
	bias, err := s.read(ctx, acq)
	if err != nil {
		return nil, err
	}
	s.Log.WithField("bias", bias).Debug("bias captured")
	return bias, nil
}

// ReadRaw averages one acquisition window of the configured task.
func ReadRaw(ctx context.Context, s *Session) ([]float64, error) {
	d := s.Params.DAQ
	acq, err := s.acquisition(d.TASK, d.RATE, d.DURATION)
	if err != nil {
		return nil, err
	}
	return s.read(ctx, acq)
}

// Reading is one calibrated sample with the stage position it was taken at.
type Reading struct {
	Counts   int32
	Position float64 // mm
	Raw      []float64
	Values   []float64
}

// LiveReading reads one window and transforms it against bias.
func LiveReading(ctx context.Context, s *Session, bias []float64) (Reading, error) {
	raw, err := ReadRaw(ctx, s)
	if err != nil {
		return Reading{}, err
	}
	values, err := matrix.Transform(s.Cal, raw, bias)
	if err != nil {
		return Reading{}, err
	}
	counts, err := s.Motor.Position()
	if err != nil {
		return Reading{}, err
	}
	return Reading{
		Counts:   counts,
		Position: s.Drive.ToMillimetres(counts),
		Raw:      raw,
		Values:   values,
	}, nil
}
