package models

import "time"

// PARAMETERS is the run configuration loaded from config.json (or .yaml).
type PARAMETERS struct {
	EPOS   *EPOS   `json:"EPOS" yaml:"EPOS"`
	DAQ    *DAQ    `json:"DAQ" yaml:"DAQ"`
	MOTION *MOTION `json:"MOTION" yaml:"MOTION"`
	SENSOR *SENSOR `json:"SENSOR" yaml:"SENSOR"`
	OUTPUT *OUTPUT `json:"OUTPUT" yaml:"OUTPUT"`
	DEBUG  bool    `json:"DEBUG" yaml:"DEBUG"`
}

// EPOS describes the motor controller connection and the drivetrain behind it.
type EPOS struct {
	DEVICE        string `json:"DEVICE" yaml:"DEVICE"`
	PROTOCOL      string `json:"PROTOCOL" yaml:"PROTOCOL"`
	INTERFACE     string `json:"INTERFACE" yaml:"INTERFACE"`
	PORT          string `json:"PORT" yaml:"PORT"`
	NODEID        int    `json:"NODEID" yaml:"NODEID"`
	BAUDRATE      int    `json:"BAUDRATE" yaml:"BAUDRATE"`
	TIMEOUT       int    `json:"TIMEOUT" yaml:"TIMEOUT"` // ms
	SCREWLEAD     int    `json:"SCREWLEAD" yaml:"SCREWLEAD"`
	GEARHEAD      int    `json:"GEARHEAD" yaml:"GEARHEAD"`
	COUNTSPERTURN int    `json:"COUNTSPERTURN" yaml:"COUNTSPERTURN"`
	MAXSPEED      int    `json:"MAXSPEED" yaml:"MAXSPEED"` // rpm
	ACCEL         int    `json:"ACCEL" yaml:"ACCEL"`
	DECEL         int    `json:"DECEL" yaml:"DECEL"`
	SIMULATE      bool   `json:"SIMULATE" yaml:"SIMULATE"`
}

// DAQ describes the acquisition device and the sampling windows.
type DAQ struct {
	SERIAL      string  `json:"SERIAL" yaml:"SERIAL"`
	DRIVER      string  `json:"DRIVER" yaml:"DRIVER"` // sim | stream
	PORT        string  `json:"PORT" yaml:"PORT"`
	BAUDRATE    int     `json:"BAUDRATE" yaml:"BAUDRATE"`
	TASK        string  `json:"TASK" yaml:"TASK"`
	RATE        float64 `json:"RATE" yaml:"RATE"`         // Hz
	DURATION    float64 `json:"DURATION" yaml:"DURATION"` // s
	CHANNELS    []int   `json:"CHANNELS" yaml:"CHANNELS"`
	TERMINAL    string  `json:"TERMINAL" yaml:"TERMINAL"`
	BIASRATE    float64 `json:"BIASRATE" yaml:"BIASRATE"`
	BIASSECONDS float64 `json:"BIASSECONDS" yaml:"BIASSECONDS"`
}

// MOTION is the sweep: from INIT to TARGET in STEP increments, all in mm.
type MOTION struct {
	TARGET   float64 `json:"TARGET" yaml:"TARGET"`
	STEP     float64 `json:"STEP" yaml:"STEP"`
	INIT     float64 `json:"INIT" yaml:"INIT"`
	SPEED    int     `json:"SPEED" yaml:"SPEED"` // rpm
	ABSOLUTE bool    `json:"ABSOLUTE" yaml:"ABSOLUTE"`
	SETTLEMS int     `json:"SETTLEMS" yaml:"SETTLEMS"`
}

type SENSOR struct {
	CALIBRATION string   `json:"CALIBRATION" yaml:"CALIBRATION"`
	LABELS      []string `json:"LABELS" yaml:"LABELS"`
}

type OUTPUT struct {
	DIR    string `json:"DIR" yaml:"DIR"`
	FILE   string `json:"FILE" yaml:"FILE"`
	FORMAT string `json:"FORMAT" yaml:"FORMAT"` // csv | xlsx
}

// Record is one logged tick of a sweep.
type Record struct {
	Sample   int       `json:"sample"`
	Time     time.Time `json:"time"`
	Elapsed  float64   `json:"elapsed"` // s since sweep start
	Counts   int32     `json:"counts"`
	Position float64   `json:"position"` // mm
	Raw      []float64 `json:"raw"`
	Reading  []float64 `json:"reading"`
}

// DefaultLabels names a 6-output ATI transducer reading.
var DefaultLabels = []string{"Fx", "Fy", "Fz", "Tx", "Ty", "Tz"}
