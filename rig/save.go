package rig

import (
	"fmt"
	"strings"

	"github.com/CK6170/EposForce-go/daq"
	"github.com/CK6170/EposForce-go/models"
	"github.com/CK6170/EposForce-go/record"
)

// LogHeader is the metadata block written above every log of a run with p.
func LogHeader(p *models.PARAMETERS) record.Header {
	h := record.Header{}
	if p.DAQ != nil {
		h.Duration, h.Rate = p.DAQ.DURATION, p.DAQ.RATE
	}
	if p.SENSOR != nil {
		h.Labels = p.SENSOR.LABELS
	}
	h.Simulated = strings.Join(simulatedDevices(p), ", ")
	return h
}

func simulatedDevices(p *models.PARAMETERS) []string {
	var sim []string
	if p.EPOS != nil && p.EPOS.SIMULATE {
		sim = append(sim, "motor")
	}
	if p.DAQ != nil && strings.EqualFold(p.DAQ.DRIVER, daq.DriverSim) {
		sim = append(sim, "DAQ")
	}
	return sim
}

// SaveLog writes records to path in OUTPUT.FORMAT (or the format implied by
// the extension). An empty path means LogPath(p).
func SaveLog(path string, p *models.PARAMETERS, records []models.Record) (string, error) {
	if p == nil || p.DAQ == nil {
		return "", fmt.Errorf("parameters nil")
	}
	if path == "" {
		path = LogPath(p)
	}
	format := ""
	if p.OUTPUT != nil {
		format = p.OUTPUT.FORMAT
	}
	if err := record.Save(path, format, LogHeader(p), records); err != nil {
		return path, fmt.Errorf("save log: %w", err)
	}
	return path, nil
}
