package rig

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// moveSlack is added to the computed travel time before a move is declared stuck.
const moveSlack = 10 * time.Second

func (s *Session) moveTimeout(from, to int32, rpm uint32) time.Duration {
	cps := s.Drive.CountsPerSecond(rpm)
	if cps <= 0 {
		return moveSlack
	}
	d := float64(to - from)
	if d < 0 {
		d = -d
	}
	return time.Duration(d/cps*float64(time.Second)) + moveSlack
}

// MoveTo drives to an absolute position in counts and waits for it.
// immediately aborts any move in progress. A cancelled wait halts the axis.
func MoveTo(ctx context.Context, s *Session, target int32, immediately bool) error {
	if s == nil || s.Motor == nil {
		return fmt.Errorf("not connected")
	}
	from, err := s.Motor.Position()
	if err != nil {
		return err
	}
	pr := profile(s.Params)
	if err := s.Motor.MoveToPosition(target, pr, true, immediately); err != nil {
		return fmt.Errorf("move to %d: %w", target, err)
	}
	if err := s.Motor.WaitForTargetReached(ctx, s.moveTimeout(from, target, pr.Velocity)); err != nil {
		if ctx.Err() != nil {
			// The controller keeps driving to its setpoint unless told otherwise.
			err = multierr.Append(err, s.Motor.Halt())
		}
		return fmt.Errorf("move to %d: %w", target, err)
	}
	return nil
}

func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// MoveToStart brings the stage to INIT if it is not already there, then lets
// it settle.
func MoveToStart(ctx context.Context, s *Session) error {
	start := s.Drive.ToCounts(s.Params.MOTION.INIT)
	pos, err := s.Motor.Position()
	if err != nil {
		return err
	}
	if pos == start {
		return nil
	}
	s.Log.WithFields(logrus.Fields{"from": pos, "to": start}).Info("moving to initial position")
	if err := MoveTo(ctx, s, start, true); err != nil {
		return err
	}
	return settle(ctx, time.Duration(s.Params.MOTION.SETTLEMS)*time.Millisecond)
}

// Home returns the stage to position 0 when it is anywhere else.
func Home(ctx context.Context, s *Session) error {
	pos, err := s.Motor.Position()
	if err != nil {
		return err
	}
	if pos == 0 {
		return nil
	}
	s.Log.WithField("from", pos).Info("returning home")
	return MoveTo(ctx, s, 0, true)
}
