package rig

import (
	"context"
	"fmt"
	"time"

	"github.com/CK6170/EposForce-go/matrix"
	"github.com/CK6170/EposForce-go/models"
)

type SweepStage string

const (
	SweepStageMoving   SweepStage = "moving"
	SweepStageSampling SweepStage = "sampling"
	SweepStageRecorded SweepStage = "recorded"
	SweepStageDone     SweepStage = "done"
)

type SweepProgress struct {
	Stage  SweepStage
	Step   int // 0-based
	Steps  int
	Target float64 // mm
	Record *models.Record
}

// RunSweep visits every stop of the plan, samples the sensor there and
// returns one record per stop. On error the records collected so far are
// returned with it so the caller can still save them.
func RunSweep(ctx context.Context, s *Session, bias []float64, onProgress func(SweepProgress)) ([]models.Record, error) {
	if s == nil || s.Motor == nil || s.DAQ == nil {
		return nil, fmt.Errorf("not connected")
	}
	if _, channels := s.Cal.Dims(); len(bias) != channels {
		return nil, fmt.Errorf("%w: bias has %d values, sensor has %d channels", matrix.ErrDimension, len(bias), channels)
	}
	plan, err := BuildPlan(s.Params)
	if err != nil {
		return nil, err
	}
	emit := func(pr SweepProgress) {
		if onProgress != nil {
			pr.Steps = len(plan)
			onProgress(pr)
		}
	}

	records := make([]models.Record, 0, len(plan))
	start := time.Now()
	for _, st := range plan {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		emit(SweepProgress{Stage: SweepStageMoving, Step: st.Index, Target: st.MM})
		if err := MoveTo(ctx, s, st.Target, false); err != nil {
			return records, err
		}

		emit(SweepProgress{Stage: SweepStageSampling, Step: st.Index, Target: st.MM})
		raw, err := ReadRaw(ctx, s)
		if err != nil {
			return records, err
		}
		counts, err := s.Motor.Position()
		if err != nil {
			return records, err
		}
		reading, err := matrix.Transform(s.Cal, raw, bias)
		if err != nil {
			return records, err
		}
		now := time.Now()
		rec := models.Record{
			Sample:   st.Index + 1,
			Time:     now,
			Elapsed:  now.Sub(start).Seconds(),
			Counts:   counts,
			Position: s.Drive.ToMillimetres(counts),
			Raw:      raw,
			Reading:  reading,
		}
		records = append(records, rec)
		s.Log.WithField("step", rec.Sample).WithField("mm", rec.Position).Debug("step recorded")
		emit(SweepProgress{Stage: SweepStageRecorded, Step: st.Index, Target: st.MM, Record: &records[len(records)-1]})
	}
	emit(SweepProgress{Stage: SweepStageDone, Step: len(plan) - 1})
	return records, nil
}

// Rezero recomputes the readings of recs against bias from the raw channel
// means kept in each record. recs is not modified.
func Rezero(cal *matrix.Calibration, recs []models.Record, bias []float64) ([]models.Record, error) {
	raws := make([][]float64, len(recs))
	for i, r := range recs {
		if r.Raw == nil {
			return nil, fmt.Errorf("record %d has no raw channels", r.Sample)
		}
		raws[i] = r.Raw
	}
	readings, err := matrix.TransformBatch(cal, raws, bias)
	if err != nil {
		return nil, err
	}
	out := make([]models.Record, len(recs))
	copy(out, recs)
	for i := range out {
		out[i].Reading = readings[i]
	}
	return out, nil
}
