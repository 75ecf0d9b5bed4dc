package server

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/CK6170/EposForce-go/models"
	"github.com/CK6170/EposForce-go/record"
	"github.com/CK6170/EposForce-go/rig"
)

// livePeriod is the delay between two live readings.
const livePeriod = 250 * time.Millisecond

// begin starts an operation of kind on the connected session. The caller must
// call done when the operation returns, and must not take s.dev.mu before that.
func (s *Server) begin(kind string) (sess *rig.Session, bias []float64, ctx context.Context, done func(), err error) {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if s.dev.sess == nil {
		return nil, nil, nil, nil, fmt.Errorf("not connected")
	}
	ctx, done = s.dev.startLocked(kind)
	return s.dev.sess, s.dev.bias, ctx, done, nil
}

func (s *Server) setBias(sess *rig.Session, bias []float64) {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if s.dev.sess == sess {
		s.dev.bias = bias
	}
}

func (s *Server) handleBias(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	sess, _, ctx, done, err := s.begin("bias")
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	bias, err := rig.CaptureBias(ctx, sess)
	done()
	if err != nil {
		s.writeJSON(w, 500, APIError{Error: err.Error()})
		return
	}
	s.setBias(sess, bias)
	s.writeJSON(w, 200, BiasResponse{Bias: bias})
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	sess, _, ctx, done, err := s.begin("home")
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	err = rig.Home(ctx, sess)
	done()
	if err != nil {
		s.writeJSON(w, 500, APIError{Error: err.Error()})
		return
	}
	s.writeJSON(w, 200, map[string]bool{"ok": true})
}

// handleSweepStart runs MoveToStart, a fresh bias capture, the sweep and the
// return home in the background. Progress and the final log id are broadcast
// on /ws/sweep.
func (s *Server) handleSweepStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	sess, _, ctx, done, err := s.begin("sweep")
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}

	go func() {
		defer done()
		recs, err := s.runSweep(ctx, sess)
		out := SweepDoneDTO{Records: len(recs)}
		if len(recs) > 0 {
			id, serr := s.storeLog(sess.Params, recs)
			if serr != nil && err == nil {
				err = serr
			}
			out.LogID = id
		}
		if err != nil {
			out.Error = err.Error()
			s.log.WithError(err).Warn("sweep stopped")
		}
		s.wsSweep.Broadcast(WSMessage{Type: "done", Data: out})
	}()

	s.writeJSON(w, 200, map[string]bool{"ok": true})
}

func (s *Server) runSweep(ctx context.Context, sess *rig.Session) ([]models.Record, error) {
	if err := rig.MoveToStart(ctx, sess); err != nil {
		return nil, err
	}
	s.wsSweep.Broadcast(WSMessage{Type: "bias"})
	bias, err := rig.CaptureBias(ctx, sess)
	if err != nil {
		return nil, err
	}
	recs, err := rig.RunSweep(ctx, sess, bias, func(p rig.SweepProgress) {
		dto := SweepProgressDTO{Stage: string(p.Stage), Step: p.Step, Steps: p.Steps, Target: p.Target}
		if p.Record != nil {
			dto.Record = *p.Record
		}
		s.wsSweep.Broadcast(WSMessage{Type: "progress", Data: dto})
	})
	if err != nil {
		return recs, err
	}
	return recs, rig.Home(ctx, sess)
}

// storeLog keeps the sweep as a downloadable CSV.
func (s *Server) storeLog(p *models.PARAMETERS, recs []models.Record) (string, error) {
	var buf bytes.Buffer
	if err := record.WriteCSV(&buf, rig.LogHeader(p), recs); err != nil {
		return "", err
	}
	name := p.OUTPUT.FILE
	if record.FormatOf(name, "") != record.FormatCSV {
		name = "sweep.csv"
	}
	rec, err := s.store.Put(&StoredRecord{Kind: kindLog, Name: name, Raw: buf.Bytes(), Records: recs})
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

// handleLiveStart polls calibrated readings until stopped. A bias is captured
// first when none is held for the session.
func (s *Server) handleLiveStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	sess, bias, ctx, done, err := s.begin("live")
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}

	go func() {
		defer done()
		if bias == nil {
			b, err := rig.CaptureBias(ctx, sess)
			if err != nil {
				s.wsLive.Broadcast(errorMessage(err))
				return
			}
			bias = b
			s.wsLive.Broadcast(WSMessage{Type: "bias", Data: BiasResponse{Bias: bias}})
		}

		t := time.NewTicker(livePeriod)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				s.wsLive.Broadcast(WSMessage{Type: "stopped"})
				return
			case <-t.C:
				rd, err := rig.LiveReading(ctx, sess, bias)
				if err != nil {
					if ctx.Err() != nil {
						continue
					}
					s.wsLive.Broadcast(errorMessage(err))
					return
				}
				s.wsLive.Broadcast(WSMessage{
					Type: "reading",
					Data: ReadingDTO{Counts: rd.Counts, Position: rd.Position, Values: rd.Values},
				})
			}
		}
	}()

	s.writeJSON(w, 200, map[string]bool{"ok": true})
}

// handleRezero stores a copy of a sweep log with its readings recomputed
// against the bias currently held for the session.
func (s *Server) handleRezero(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req RezeroRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	rec, ok := s.store.Get(req.LogID)
	if !ok || rec.Kind != kindLog {
		s.writeJSON(w, 404, APIError{Error: "logId not found"})
		return
	}

	s.dev.mu.Lock()
	sess, bias := s.dev.sess, s.dev.bias
	s.dev.mu.Unlock()
	if sess == nil {
		s.writeJSON(w, 400, APIError{Error: "not connected"})
		return
	}
	if bias == nil {
		s.writeJSON(w, 400, APIError{Error: "no bias captured (POST /api/bias first)"})
		return
	}

	recs, err := rig.Rezero(sess.Cal, rec.Records, bias)
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	id, err := s.storeLog(sess.Params, recs)
	if err != nil {
		s.writeJSON(w, 500, APIError{Error: err.Error()})
		return
	}
	s.writeJSON(w, 200, UploadResponse{ID: id, Kind: string(kindLog)})
}
