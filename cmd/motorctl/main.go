// Command motorctl performs a single Profile Position move on an EPOS axis,
// switches it to Homing Mode at the reached position and reports it.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/CK6170/EposForce-go/epos"
	"github.com/CK6170/EposForce-go/models"
	"github.com/CK6170/EposForce-go/rig"
	"github.com/CK6170/EposForce-go/ui"
)

func main() {
	var (
		config   = flag.String("config", "", "path to config.json or .yaml (defaults when empty)")
		target   = flag.Float64("target", 40, "target position in mm")
		absolute = flag.Bool("abs", false, "absolute move instead of relative to the current position (MOTION.ABSOLUTE when unset)")
		speed    = flag.Int("speed", 0, "profile velocity in rpm (MOTION.SPEED when 0)")
		home     = flag.Bool("home", true, "define the end position as home")
		sim      = flag.Bool("sim", false, "use the simulated controller")
	)
	flag.Parse()

	p, err := loadParams(*config)
	if err != nil {
		ui.ErrorPrintf("config: %v\n", err)
		os.Exit(1)
	}
	if *sim {
		p.EPOS.SIMULATE = true
	}
	if *speed > 0 {
		p.MOTION.SPEED = *speed
	}
	*absolute = absoluteMove(p, *absolute, flagSet("abs"))
	log := rig.NewLogger(nil, p.DEBUG)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	motor, err := epos.Open(p.EPOS, log)
	if err != nil {
		log.WithError(err).Fatal("connect")
	}
	code := 0
	if err := run(ctx, motor, p, *target, *absolute, *home); err != nil {
		log.WithError(err).Error("move failed")
		code = 1
	}
	if err := motor.Disable(); err != nil {
		log.WithError(err).Warn("disable")
	}
	if err := motor.Close(); err != nil {
		log.WithError(err).Warn("close")
	}
	os.Exit(code)
}

// absoluteMove is the -abs flag when given, MOTION.ABSOLUTE otherwise.
func absoluteMove(p *models.PARAMETERS, flagValue, flagGiven bool) bool {
	if flagGiven {
		return flagValue
	}
	return p.MOTION.ABSOLUTE
}

func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func loadParams(path string) (*models.PARAMETERS, error) {
	if path == "" {
		return rig.DefaultParameters(), nil
	}
	return rig.LoadParameters(path)
}

func run(ctx context.Context, m epos.Motor, p *models.PARAMETERS, mm float64, absolute, home bool) error {
	drive := epos.DrivetrainOf(p.EPOS)
	counts := drive.ToCounts(mm)
	if err := m.ActivateProfilePosition(); err != nil {
		return err
	}
	pr := epos.DefaultProfile(rig.Speed(p))
	if err := m.MoveToPosition(counts, pr, absolute, false); err != nil {
		return err
	}
	// Travel time at the profile velocity plus slack.
	travel := time.Duration(float64(abs(counts)) / drive.CountsPerSecond(pr.Velocity) * float64(time.Second))
	if err := m.WaitForTargetReached(ctx, travel+10*time.Second); err != nil {
		return err
	}
	pos, err := m.Position()
	if err != nil {
		return err
	}
	if home {
		// Homing keeps the reached position as the reference value.
		if err := m.DefinePosition(ctx, pos); err != nil {
			return err
		}
		if pos, err = m.Position(); err != nil {
			return err
		}
	}
	ui.GreenPrintf("Done. Final position is: %d\n", pos)
	return nil
}

func abs(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
