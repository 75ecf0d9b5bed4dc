package epos

import (
	"context"
	"math"
	"sync"
	"time"
)

// Simulator is an in-process Motor with constant-velocity moves. It is used for
// dry runs without a controller attached and in tests.
type Simulator struct {
	mu sync.Mutex

	drive   Drivetrain
	mode    int8
	enabled bool
	closed  bool

	pos    float64 // counts when the current move started
	target int32
	speed  float64 // counts per second
	start  time.Time

	// Now defaults to the wall clock. Instant makes every move complete as soon
	// as it is commanded.
	Now     func() time.Time
	Instant bool
}

func NewSimulator(d Drivetrain) *Simulator {
	return &Simulator{drive: d, Now: time.Now}
}

// SetPosition places the simulated stage without moving it.
func (s *Simulator) SetPosition(counts int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = float64(counts)
	s.target = counts
	s.speed = 0
}

func (s *Simulator) positionLocked() float64 {
	if s.speed == 0 || s.Instant {
		return float64(s.target)
	}
	travel := s.Now().Sub(s.start).Seconds() * s.speed
	remaining := float64(s.target) - s.pos
	if math.Abs(travel) >= math.Abs(remaining) {
		return float64(s.target)
	}
	return s.pos + math.Copysign(travel, remaining)
}

func (s *Simulator) Enable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = true
	return nil
}

func (s *Simulator) Disable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = s.positionLocked()
	s.target = int32(math.Round(s.pos))
	s.speed = 0
	s.enabled = false
	return nil
}

func (s *Simulator) ClearFault() error { return nil }

func (s *Simulator) ActivateProfilePosition() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = ModeProfilePosition
	return nil
}

func (s *Simulator) OperationMode() (int8, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode, nil
}

func (s *Simulator) MoveToPosition(target int32, p Profile, absolute, immediately bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModeProfilePosition {
		return ErrNotProfilePosition
	}
	if !s.enabled {
		return ErrFault
	}
	cur := s.positionLocked()
	if !absolute {
		target += int32(math.Round(cur))
	}
	s.pos = cur
	s.target = target
	s.speed = s.drive.CountsPerSecond(p.Velocity)
	s.start = s.Now()
	return nil
}

func (s *Simulator) Halt() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = s.positionLocked()
	s.target = int32(math.Round(s.pos))
	s.speed = 0
	return nil
}

func (s *Simulator) IsTargetReached() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positionLocked() == float64(s.target), nil
}

func (s *Simulator) WaitForTargetReached(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		ok, _ := s.IsTargetReached()
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (s *Simulator) Position() (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int32(math.Round(s.positionLocked())), nil
}

func (s *Simulator) TargetPosition() (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target, nil
}

func (s *Simulator) DefinePosition(ctx context.Context, pos int32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = ModeHoming
	s.pos = float64(pos)
	s.target = pos
	s.speed = 0
	return nil
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (s *Simulator) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
