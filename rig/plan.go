package rig

import (
	"fmt"

	"github.com/CK6170/EposForce-go/epos"
	"github.com/CK6170/EposForce-go/models"
)

// Step is one stop of a sweep.
type Step struct {
	Index  int   // 0-based
	Target int32 // counts
	MM     float64
}

// BuildPlan lists the stops from INIT+STEP up to TARGET. Stops are computed in
// encoder counts so the last one never overshoots TARGET by more than a step.
func BuildPlan(p *models.PARAMETERS) ([]Step, error) {
	if p == nil || p.MOTION == nil || p.EPOS == nil {
		return nil, fmt.Errorf("parameters nil")
	}
	m := p.MOTION
	if m.STEP <= 0 {
		return nil, fmt.Errorf("step must be > 0")
	}
	d := epos.DrivetrainOf(p.EPOS)
	start := d.ToCounts(m.INIT)
	stop := d.ToCounts(m.TARGET)
	step := d.ToCounts(m.STEP)
	if step <= 0 {
		return nil, fmt.Errorf("step %g mm is below one encoder count", m.STEP)
	}

	var steps []Step
	for c := start + step; c < stop+step; c += step {
		steps = append(steps, Step{Index: len(steps), Target: c, MM: d.ToMillimetres(c)})
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("empty plan: INIT %g mm, TARGET %g mm, STEP %g mm", m.INIT, m.TARGET, m.STEP)
	}
	return steps, nil
}

// Speed is the sweep velocity clamped to MAXSPEED.
func Speed(p *models.PARAMETERS) uint32 {
	v := p.MOTION.SPEED
	if p.EPOS.MAXSPEED > 0 && v > p.EPOS.MAXSPEED {
		v = p.EPOS.MAXSPEED
	}
	if v < 0 {
		v = 0
	}
	return uint32(v)
}

func profile(p *models.PARAMETERS) epos.Profile {
	pr := epos.DefaultProfile(Speed(p))
	if p.EPOS.ACCEL > 0 {
		pr.Acceleration = uint32(p.EPOS.ACCEL)
	}
	if p.EPOS.DECEL > 0 {
		pr.Deceleration = uint32(p.EPOS.DECEL)
	}
	return pr
}
