// Command ftlog steps the EPOS stage through a sweep and logs the calibrated
// force/torque reading at every stop.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"

	"github.com/CK6170/EposForce-go/daq"
	"github.com/CK6170/EposForce-go/models"
	"github.com/CK6170/EposForce-go/rig"
	"github.com/CK6170/EposForce-go/ui"
)

func main() {
	var (
		config = flag.String("config", "config.json", "path to config.json or .yaml")
		out    = flag.String("out", "", "log file (OUTPUT.DIR/OUTPUT.FILE when empty)")
		sim    = flag.Bool("sim", false, "simulate the motor and the DAQ")
		yes    = flag.Bool("y", false, "answer yes to every prompt")
	)
	flag.Parse()

	p, err := loadParams(*config)
	if err != nil {
		ui.ErrorPrintf("config: %v\n", err)
		os.Exit(1)
	}
	if *sim {
		p.EPOS.SIMULATE = true
		p.DAQ.DRIVER = daq.DriverSim
	}
	log := rig.NewLogger(nil, p.DEBUG)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	confirm := ui.Confirm
	if *yes {
		confirm = func(context.Context, string) (bool, error) { return true, nil }
	}

	s, err := rig.Connect(p, nil, log)
	if err != nil {
		log.WithError(err).Fatal("connect")
	}

	records, runErr := run(ctx, s, confirm)
	if err := s.Close(); err != nil {
		log.WithError(err).Warn("teardown")
	}
	if len(records) > 0 {
		ui.GreenPrintf("\nSaving data, please wait...\n")
		path, err := rig.SaveLog(*out, p, records)
		if err != nil {
			log.WithError(err).Error("save")
			os.Exit(1)
		}
		ui.GreenPrintf("Done saving data to %s\n", path)
	}
	if runErr != nil {
		if errors.Is(runErr, errDeclined) {
			ui.WarningPrintf("You chose to not continue.\n")
		} else {
			log.WithError(runErr).Error("run failed")
		}
		os.Exit(1)
	}
}

var errDeclined = errors.New("declined")

func loadParams(path string) (*models.PARAMETERS, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == "config.json" {
		return rig.DefaultParameters(), nil
	}
	return rig.LoadParameters(path)
}

type confirmFunc func(ctx context.Context, prompt string) (bool, error)

func ask(ctx context.Context, confirm confirmFunc, prompt string) error {
	ok, err := confirm(ctx, prompt)
	if err != nil {
		return err
	}
	if !ok {
		return errDeclined
	}
	return nil
}

// run performs the sweep and returns home. Records gathered before a failure
// are returned with the error.
func run(ctx context.Context, s *rig.Session, confirm confirmFunc) ([]models.Record, error) {
	if err := rig.MoveToStart(ctx, s); err != nil {
		return nil, err
	}

	prompt := "Getting Force Sensor bias vector, please remove any weight attached to the sensor. Do you want to continue?"
	if err := ask(ctx, confirm, prompt); err != nil {
		return nil, err
	}
	ui.WarningPrintf("Getting bias vector, please do not touch the force sensor.\n")
	if _, err := rig.CaptureBias(ctx, s); err != nil {
		return nil, err
	}
	ui.GreenPrintf("Sensor bias complete\n")

	plan, err := rig.BuildPlan(s.Params)
	if err != nil {
		return nil, err
	}
	if err := ask(ctx, confirm, "Ready to start? Do you want to continue?"); err != nil {
		return nil, err
	}
	// The sensor may have drifted while the operator was busy.
	ui.WarningPrintf("Getting bias vector, please do not touch the force sensor.\n")
	bias, err := rig.CaptureBias(ctx, s)
	if err != nil {
		return nil, err
	}
	ui.GreenPrintf("Sensor bias complete\n")

	ui.GreenPrintf("Starting motion: %d steps\n", len(plan))
	records, runErr := rig.RunSweep(ctx, s, bias, func(pr rig.SweepProgress) {
		switch pr.Stage {
		case rig.SweepStageMoving:
			ui.GreenPrintf("Step: %d/%d -> %.3f mm\n", pr.Step+1, pr.Steps, pr.Target)
		case rig.SweepStageRecorded:
			s.Log.WithFields(logrus.Fields{
				"step": pr.Record.Sample,
				"mm":   pr.Record.Position,
			}).Debug(pr.Record.Reading)
		}
	})
	if pos, err := s.Motor.Position(); err == nil {
		ui.GreenPrintf("Done. Final position is: %d\n", pos)
	}

	// Homing runs even after a failed sweep unless the operator interrupted.
	if ctx.Err() != nil {
		return records, runErr
	}
	ui.WarningPrintf("Homing motor, please wait until motor stops moving\n")
	if err := rig.Home(ctx, s); err != nil && runErr == nil {
		runErr = err
	}
	return records, runErr
}
