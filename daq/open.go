package daq

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/CK6170/EposForce-go/matrix"
	"github.com/CK6170/EposForce-go/models"
	serialpkg "github.com/CK6170/EposForce-go/serial"
)

const (
	DriverSim    = "sim"
	DriverStream = "stream"
	DriverReplay = "replay"
)

// Open returns the Reader selected by cfg.DRIVER. The reported device carries
// the configured serial number so FindDevice resolves it.
func Open(cfg *models.DAQ, cal *matrix.Calibration, log logrus.FieldLogger) (Reader, error) {
	serial, err := strconv.ParseUint(strings.TrimPrefix(cfg.SERIAL, "0x"), 16, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid DAQ serial number %q: %w", cfg.SERIAL, err)
	}
	dev := DeviceInfo{Name: "Dev1", SerialNumber: uint32(serial)}

	switch strings.ToLower(cfg.DRIVER) {
	case DriverSim, "":
		dev.ProductType = "Simulated DAQ"
		log.WithField("serial", cfg.SERIAL).Info("using simulated DAQ")
		return NewSimulator(cal, dev, serial)
	case DriverStream:
		if cfg.PORT == "" {
			return nil, fmt.Errorf("DAQ: PORT is required for the %q driver", DriverStream)
		}
		sp, err := serialpkg.Open(cfg.PORT, cfg.BAUDRATE, serialpkg.DefaultReadTimeout)
		if err != nil {
			return nil, err
		}
		dev.ProductType = "Serial stream"
		log.WithFields(logrus.Fields{"port": cfg.PORT, "baud": cfg.BAUDRATE}).Info("DAQ stream opened")
		return NewStream(sp, dev), nil
	case DriverReplay:
		f, err := os.Open(cfg.PORT)
		if err != nil {
			return nil, err
		}
		dev.ProductType = "Replay"
		log.WithField("file", cfg.PORT).Info("replaying DAQ capture")
		return NewReplay(f, dev), nil
	default:
		return nil, fmt.Errorf("unknown DAQ driver %q", cfg.DRIVER)
	}
}
