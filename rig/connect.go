package rig

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/CK6170/EposForce-go/daq"
	"github.com/CK6170/EposForce-go/epos"
	"github.com/CK6170/EposForce-go/matrix"
	"github.com/CK6170/EposForce-go/models"
)

// SimStiffness is the Fz the simulated DAQ reports per mm of stage travel.
const SimStiffness = 0.5

type Session struct {
	Params   *models.PARAMETERS
	Cal      *matrix.Calibration
	Motor    epos.Motor
	DAQ      daq.Reader
	Device   string
	Channels []string
	Drive    epos.Drivetrain
	Log      logrus.FieldLogger
}

// Connect opens the DAQ and the motor described by p. cal may be nil, in which
// case SENSOR.CALIBRATION is loaded. The channel count must match the matrix
// before any hardware is touched.
func Connect(p *models.PARAMETERS, cal *matrix.Calibration, log logrus.FieldLogger) (*Session, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.New()
	}
	if !p.EPOS.SIMULATE && strings.EqualFold(p.DAQ.DRIVER, daq.DriverSim) {
		log.WithField("driver", p.DAQ.DRIVER).Warn("real motor with a simulated DAQ: logged forces are not measured")
	}
	if cal == nil {
		if p.SENSOR == nil || p.SENSOR.CALIBRATION == "" {
			return nil, fmt.Errorf("no calibration file configured")
		}
		c, err := matrix.LoadCalibration(p.SENSOR.CALIBRATION)
		if err != nil {
			return nil, fmt.Errorf("load calibration: %w", err)
		}
		cal = c
	}
	term, err := daq.ParseTerminalConfig(p.DAQ.TERMINAL)
	if err != nil {
		return nil, err
	}

	if err := cal.Validate(len(daq.ChannelNames("", p.DAQ.CHANNELS, term))); err != nil {
		return nil, fmt.Errorf("%s channels %v: %w", term, p.DAQ.CHANNELS, err)
	}

	reader, err := daq.Open(p.DAQ, cal, log)
	if err != nil {
		return nil, err
	}
	devices, err := reader.Devices()
	if err != nil {
		_ = reader.Close()
		return nil, err
	}
	device, err := daq.FindDevice(devices, p.DAQ.SERIAL)
	if err != nil {
		_ = reader.Close()
		return nil, err
	}
	channels := daq.ChannelNames(device, p.DAQ.CHANNELS, term)
	log.WithFields(logrus.Fields{"device": device, "channels": len(channels), "terminal": term}).Info("DAQ ready")

	motor, err := epos.Open(p.EPOS, log)
	if err != nil {
		_ = reader.Close()
		return nil, err
	}
	if err := motor.ActivateProfilePosition(); err != nil {
		return nil, multierr.Combine(err, motor.Close(), reader.Close())
	}

	s := &Session{
		Params:   p,
		Cal:      cal,
		Motor:    motor,
		DAQ:      reader,
		Device:   device,
		Channels: channels,
		Drive:    epos.DrivetrainOf(p.EPOS),
		Log:      log,
	}
	if sim, ok := reader.(*daq.Simulator); ok && sim.Load == nil {
		sim.Load = springLoad(s)
	}
	return s, nil
}

// springLoad models the stage pressing into a spring: Fz grows linearly with
// travel from home. Position errors read as unloaded.
func springLoad(s *Session) func() []float64 {
	outputs, _ := s.Cal.Dims()
	return func() []float64 {
		load := make([]float64, outputs)
		counts, err := s.Motor.Position()
		if err != nil || outputs < 3 {
			return load
		}
		load[2] = -SimStiffness * s.Drive.ToMillimetres(counts)
		return load
	}
}

// Close disables the power stage and releases both devices.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	var err error
	if s.Motor != nil {
		err = multierr.Append(err, s.Motor.Disable())
		err = multierr.Append(err, s.Motor.Close())
		s.Motor = nil
	}
	if s.DAQ != nil {
		err = multierr.Append(err, s.DAQ.Close())
		s.DAQ = nil
	}
	return err
}

// Outputs is the number of calibrated values per reading.
func (s *Session) Outputs() int {
	n, _ := s.Cal.Dims()
	return n
}

// Labels names each calibrated output, padding with generic names.
func (s *Session) Labels() []string {
	n := s.Outputs()
	labels := make([]string, n)
	var cfg []string
	if s.Params != nil && s.Params.SENSOR != nil {
		cfg = s.Params.SENSOR.LABELS
	}
	for i := range labels {
		if i < len(cfg) {
			labels[i] = cfg[i]
		} else {
			labels[i] = fmt.Sprintf("Out%d", i+1)
		}
	}
	return labels
}
