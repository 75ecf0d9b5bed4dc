package epos

import (
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/CK6170/EposForce-go/models"
	serialpkg "github.com/CK6170/EposForce-go/serial"
)

// DrivetrainOf extracts the mechanical constants from the EPOS section.
func DrivetrainOf(cfg *models.EPOS) Drivetrain {
	return Drivetrain{ScrewLead: cfg.SCREWLEAD, GearHead: cfg.GEARHEAD, CountsPerTurn: cfg.COUNTSPERTURN}
}

// Open connects to the controller described by cfg, clears any fault and
// enables the power stage. With SIMULATE set it returns a Simulator instead.
//
// PORT must name a serial device. Vendor names such as "USB0" trigger a scan of
// the local serial ports for a node answering a statusword read.
func Open(cfg *models.EPOS, log logrus.FieldLogger) (Motor, error) {
	if cfg.SIMULATE {
		log.WithField("device", cfg.DEVICE).Info("using simulated EPOS")
		sim := NewSimulator(DrivetrainOf(cfg))
		if err := sim.Enable(); err != nil {
			return nil, err
		}
		return sim, nil
	}

	timeout := time.Duration(cfg.TIMEOUT) * time.Millisecond
	port := cfg.PORT
	if port == "" || strings.HasPrefix(strings.ToUpper(port), "USB") {
		log.WithField("port", port).Debug("scanning serial ports for EPOS node")
		port = serialpkg.AutoDetectPort(cfg.BAUDRATE, func(rw io.ReadWriter) bool {
			return Probe(rw, cfg.NODEID)
		})
		if port == "" {
			return nil, ErrNotFound
		}
	}

	sp, err := serialpkg.Open(port, cfg.BAUDRATE, timeout)
	if err != nil {
		return nil, err
	}
	dev := NewDevice(sp, cfg.NODEID)
	if err := dev.ClearFault(); err != nil {
		_ = sp.Close()
		return nil, err
	}
	if err := dev.Enable(); err != nil {
		_ = sp.Close()
		return nil, err
	}
	log.WithFields(logrus.Fields{"port": port, "node": cfg.NODEID, "baud": cfg.BAUDRATE}).Info("device is connected and enabled")
	return dev, nil
}

// Probe reads the statusword of node over rw.
func Probe(rw io.ReadWriter, node int) bool {
	dev := NewDevice(nopCloser{rw}, node)
	_, err := dev.Statusword()
	return err == nil
}

type nopCloser struct{ io.ReadWriter }

func (nopCloser) Close() error { return nil }
