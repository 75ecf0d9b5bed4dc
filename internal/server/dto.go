package server

import "time"

type APIError struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	OK        bool      `json:"ok"`
	Timestamp time.Time `json:"timestamp"`
}

type UploadResponse struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
	// Outputs and Channels describe an uploaded calibration matrix.
	Outputs  int `json:"outputs,omitempty"`
	Channels int `json:"channels,omitempty"`
}

type ConnectRequest struct {
	ConfigID string `json:"configId"`
	// CalibrationID overrides SENSOR.CALIBRATION when set.
	CalibrationID string `json:"calibrationId,omitempty"`
}

type ConnectResponse struct {
	Connected bool     `json:"connected"`
	Device    string   `json:"device"`
	Channels  []string `json:"channels"`
	Labels    []string `json:"labels"`
	Steps     int      `json:"steps"`
	Position  float64  `json:"position"`
}

type BiasResponse struct {
	Bias []float64 `json:"bias"`
}

type ReadingDTO struct {
	Counts   int32     `json:"counts"`
	Position float64   `json:"position"`
	Values   []float64 `json:"values"`
}

type SweepProgressDTO struct {
	Stage  string      `json:"stage"`
	Step   int         `json:"step"`
	Steps  int         `json:"steps"`
	Target float64     `json:"target"`
	Record interface{} `json:"record,omitempty"`
}

type RezeroRequest struct {
	LogID string `json:"logId"`
}

type SweepDoneDTO struct {
	Records int    `json:"records"`
	LogID   string `json:"logId,omitempty"`
	Error   string `json:"error,omitempty"`
}
