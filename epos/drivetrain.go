package epos

import "math"

// Drivetrain converts linear stage travel to encoder quadcounts.
//
// A single-start lead screw moves ScrewLead mm per screw turn, the gear head
// reduces GearHead:1, and the encoder gives 4 quadcounts per count
// (EPOS2 firmware specification, system units).
type Drivetrain struct {
	ScrewLead     int
	GearHead      int
	CountsPerTurn int
}

func (d Drivetrain) QuadCounts() int { return 4 * d.CountsPerTurn }

// ToCounts truncates toward zero.
func (d Drivetrain) ToCounts(mm float64) int32 {
	return int32(mm * float64(d.QuadCounts()*d.GearHead) / float64(d.ScrewLead))
}

// ToMillimetres returns the unsigned travel for a position in quadcounts.
func (d Drivetrain) ToMillimetres(counts int32) float64 {
	return math.Abs(float64(counts) * float64(d.ScrewLead) / float64(d.QuadCounts()*d.GearHead))
}

// CountsPerSecond converts a motor shaft speed to encoder counts per second.
func (d Drivetrain) CountsPerSecond(rpm uint32) float64 {
	return float64(rpm) / 60 * float64(d.QuadCounts())
}
