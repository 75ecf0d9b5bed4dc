package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/CK6170/EposForce-go/matrix"
	"github.com/CK6170/EposForce-go/rig"
)

type Server struct {
	mux *http.ServeMux
	log logrus.FieldLogger

	store *Store
	dev   *DeviceSession

	// WebSocket hubs
	wsSweep *WSHub
	wsLive  *WSHub
}

// New builds the API. webRoot, when non-empty, is served at "/".
func New(log logrus.FieldLogger, webRoot string) *Server {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	s := &Server{
		mux:     http.NewServeMux(),
		log:     log,
		store:   NewStore(),
		dev:     &DeviceSession{},
		wsSweep: NewWSHub(),
		wsLive:  NewWSHub(),
	}

	// API
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/upload/config", s.handleUploadConfig)
	s.mux.HandleFunc("/api/upload/calibration", s.handleUploadCalibration)
	s.mux.HandleFunc("/api/connect", s.handleConnect)
	s.mux.HandleFunc("/api/disconnect", s.handleDisconnect)
	s.mux.HandleFunc("/api/download", s.handleDownload)

	s.mux.HandleFunc("/api/bias", s.handleBias)
	s.mux.HandleFunc("/api/home", s.handleHome)

	s.mux.HandleFunc("/api/sweep/start", s.handleSweepStart)
	s.mux.HandleFunc("/api/sweep/stop", s.handleStopOp)
	s.mux.HandleFunc("/api/log/rezero", s.handleRezero)

	s.mux.HandleFunc("/api/live/start", s.handleLiveStart)
	s.mux.HandleFunc("/api/live/stop", s.handleStopOp)

	// WS
	s.mux.HandleFunc("/ws/sweep", s.handleWSSweep)
	s.mux.HandleFunc("/ws/live", s.handleWSLive)

	// Static frontend
	if webRoot != "" {
		s.mux.Handle("/", http.FileServer(http.Dir(webRoot)))
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

// Close stops any running operation and releases the hardware.
func (s *Server) Close() error {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	s.dev.cancelLocked()
	return s.dev.disconnectLocked()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	b, err := io.ReadAll(io.LimitReader(r.Body, 2<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, 200, HealthResponse{OK: true, Timestamp: time.Now()})
}

func (s *Server) handleUploadConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	raw, name, err := uploadedFile(r)
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	p, err := rig.DecodeParameters(raw, name)
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	rec, err := s.store.Put(&StoredRecord{Kind: kindConfig, Name: name, Raw: raw, P: p})
	if err != nil {
		s.writeJSON(w, 500, APIError{Error: err.Error()})
		return
	}
	s.writeJSON(w, 200, UploadResponse{ID: rec.ID, Kind: string(rec.Kind)})
}

func (s *Server) handleUploadCalibration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	raw, name, err := uploadedFile(r)
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	cal, err := matrix.ParseCalibration(bytes.NewReader(raw))
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	rec, err := s.store.Put(&StoredRecord{Kind: kindCalibration, Name: name, Raw: raw, Cal: cal})
	if err != nil {
		s.writeJSON(w, 500, APIError{Error: err.Error()})
		return
	}
	outputs, channels := cal.Dims()
	s.writeJSON(w, 200, UploadResponse{ID: rec.ID, Kind: string(rec.Kind), Outputs: outputs, Channels: channels})
}

func uploadedFile(r *http.Request) ([]byte, string, error) {
	f, hdr, err := fileFromMultipart(r, "file")
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	raw, err := io.ReadAll(io.LimitReader(f, 4<<20))
	if err != nil {
		return nil, "", err
	}
	return raw, hdr.Filename, nil
}

func fileFromMultipart(r *http.Request, field string) (multipart.File, *multipart.FileHeader, error) {
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		return nil, nil, err
	}
	f, hdr, err := r.FormFile(field)
	if err != nil {
		return nil, nil, err
	}
	return f, hdr, nil
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req ConnectRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	rec, ok := s.store.Get(req.ConfigID)
	if !ok || rec.Kind != kindConfig {
		s.writeJSON(w, 404, APIError{Error: "configId not found (upload config first)"})
		return
	}
	var cal *matrix.Calibration
	if req.CalibrationID != "" {
		calRec, ok := s.store.Get(req.CalibrationID)
		if !ok || calRec.Kind != kindCalibration {
			s.writeJSON(w, 404, APIError{Error: "calibrationId not found (upload calibration first)"})
			return
		}
		cal = calRec.Cal
	}

	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()

	s.dev.cancelLocked()
	_ = s.dev.disconnectLocked()

	sess, err := rig.Connect(rec.P, cal, s.log)
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	plan, err := rig.BuildPlan(sess.Params)
	if err != nil {
		_ = sess.Close()
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	counts, err := sess.Motor.Position()
	if err != nil {
		_ = sess.Close()
		s.writeJSON(w, 400, APIError{Error: "position probe failed: " + err.Error()})
		return
	}

	s.dev.configID = rec.ID
	s.dev.sess = sess
	s.dev.bias = nil

	s.writeJSON(w, 200, ConnectResponse{
		Connected: true,
		Device:    sess.Device,
		Channels:  sess.Channels,
		Labels:    sess.Labels(),
		Steps:     len(plan),
		Position:  sess.Drive.ToMillimetres(counts),
	})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	s.dev.cancelLocked()
	if err := s.dev.disconnectLocked(); err != nil {
		s.log.WithError(err).Warn("disconnect")
	}
	s.writeJSON(w, 200, map[string]bool{"ok": true})
}

func (s *Server) handleStopOp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	s.dev.cancelLocked()
	s.writeJSON(w, 200, map[string]bool{"ok": true})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		s.writeJSON(w, 400, APIError{Error: "missing id"})
		return
	}
	rec, ok := s.store.Get(id)
	if !ok {
		s.writeJSON(w, 404, APIError{Error: "not found"})
		return
	}
	ctype := "application/octet-stream"
	switch rec.Kind {
	case kindLog:
		ctype = "text/csv"
	case kindCalibration:
		ctype = "text/plain"
	case kindConfig:
		ctype = "application/json"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(rec.Name)))
	w.WriteHeader(200)
	_, _ = w.Write(rec.Raw)
}
