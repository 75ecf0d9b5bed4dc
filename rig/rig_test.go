package rig

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/CK6170/EposForce-go/daq"
	"github.com/CK6170/EposForce-go/epos"
	"github.com/CK6170/EposForce-go/matrix"
	"github.com/CK6170/EposForce-go/models"
)

func quietLog() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func simParams() *models.PARAMETERS {
	p := DefaultParameters()
	p.EPOS.SIMULATE = true
	p.DAQ.DRIVER = daq.DriverSim
	p.MOTION.TARGET = 10
	return p
}

// connectSim returns a session on simulated hardware with instant moves and a
// noiseless DAQ.
func connectSim(t *testing.T, p *models.PARAMETERS) (*Session, *epos.Simulator) {
	t.Helper()
	s, err := Connect(p, matrix.Identity(6), quietLog())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	motor, ok := s.Motor.(*epos.Simulator)
	if !ok {
		t.Fatalf("motor is %T, want *epos.Simulator", s.Motor)
	}
	motor.Instant = true
	s.DAQ.(*daq.Simulator).Noise = 0
	return s, motor
}

func TestLoadParametersJSONDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	cfg := `{"EPOS": {"NODEID": 3, "SIMULATE": true}, "MOTION": {"TARGET": 20}, "SENSOR": {"CALIBRATION": "cal.txt"}}`
	if err := os.WriteFile(path, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	p, err := LoadParameters(path)
	if err != nil {
		t.Fatalf("LoadParameters: %v", err)
	}
	if p.EPOS.NODEID != 3 || !p.EPOS.SIMULATE || p.EPOS.BAUDRATE != 115200 || p.EPOS.GEARHEAD != 29 {
		t.Errorf("EPOS = %+v", p.EPOS)
	}
	if p.MOTION.TARGET != 20 || p.MOTION.STEP != 2 || p.MOTION.SPEED != 2000 {
		t.Errorf("MOTION = %+v", p.MOTION)
	}
	if p.DAQ.TERMINAL != "DIFF" || p.DAQ.RATE != 1000 || len(p.DAQ.CHANNELS) != 12 || p.DAQ.DRIVER != daq.DriverSim {
		t.Errorf("DAQ = %+v", p.DAQ)
	}
	if p.SENSOR.CALIBRATION != filepath.Join(dir, "cal.txt") {
		t.Errorf("calibration path = %q", p.SENSOR.CALIBRATION)
	}
	if got := LogPath(p); got != filepath.Join("Force Data", "Test4SP.csv") {
		t.Errorf("LogPath = %q", got)
	}
}

func TestLoadParametersYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rig.yaml")
	cfg := "DAQ:\n  TERMINAL: RSE\n  CHANNELS: [0, 1, 2, 3, 4, 5]\nOUTPUT:\n  FORMAT: xlsx\n"
	if err := os.WriteFile(path, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	p, err := LoadParameters(path)
	if err != nil {
		t.Fatalf("LoadParameters: %v", err)
	}
	if p.DAQ.TERMINAL != "RSE" || len(p.DAQ.CHANNELS) != 6 || p.OUTPUT.FORMAT != "xlsx" {
		t.Fatalf("parsed %+v %+v", p.DAQ, p.OUTPUT)
	}
}

func TestLoadParametersRejectsBadTerminal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"DAQ": {"TERMINAL": "QUAD"}}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadParameters(path); err == nil {
		t.Fatal("bad terminal configuration accepted")
	}
}

func TestPersistParametersRoundTrip(t *testing.T) {
	for _, name := range []string{"out.json", "out.yml"} {
		path := filepath.Join(t.TempDir(), name)
		p := simParams()
		p.SENSOR.CALIBRATION = "/abs/cal.txt"
		if err := PersistParameters(path, p); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		got, err := LoadParameters(path)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if got.MOTION.TARGET != 10 || !got.EPOS.SIMULATE || got.SENSOR.CALIBRATION != "/abs/cal.txt" {
			t.Errorf("%s: round trip lost settings: %+v", name, got.MOTION)
		}
	}
}

func TestBuildPlan(t *testing.T) {
	p := DefaultParameters()
	plan, err := BuildPlan(p)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan) != 28 {
		t.Fatalf("got %d steps, want 28", len(plan))
	}
	if plan[0].Target != 29696 || plan[27].Target != 28*29696 {
		t.Fatalf("first/last = %d/%d", plan[0].Target, plan[27].Target)
	}
	for i, st := range plan {
		if st.Index != i {
			t.Fatalf("step %d has index %d", i, st.Index)
		}
	}

	p.MOTION.INIT = 10
	p.MOTION.TARGET = 10
	if _, err := BuildPlan(p); err == nil {
		t.Fatal("empty plan accepted")
	}
	p.MOTION.TARGET = 20
	p.MOTION.STEP = 1e-9
	if _, err := BuildPlan(p); err == nil {
		t.Fatal("sub-count step accepted")
	}
}

func TestSpeedClampedToMax(t *testing.T) {
	p := DefaultParameters()
	p.MOTION.SPEED = 9000
	if got := Speed(p); got != 8000 {
		t.Fatalf("Speed = %d, want 8000", got)
	}
	p.MOTION.SPEED = 1500
	if got := Speed(p); got != 1500 {
		t.Fatalf("Speed = %d, want 1500", got)
	}
}

func TestConnectChannelMismatch(t *testing.T) {
	p := simParams()
	_, err := Connect(p, matrix.Identity(12), quietLog())
	if !errors.Is(err, matrix.ErrDimension) {
		t.Fatalf("got %v, want ErrDimension", err)
	}
}

func TestConnectUnknownSerial(t *testing.T) {
	p := simParams()
	p.DAQ.SERIAL = "zz"
	if _, err := Connect(p, matrix.Identity(6), quietLog()); err == nil {
		t.Fatal("invalid serial accepted")
	}
}

func TestSessionClose(t *testing.T) {
	s, motor := connectSim(t, simParams())
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if !motor.Closed() {
		t.Fatal("motor not closed")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestCaptureBiasAndLiveReading(t *testing.T) {
	s, motor := connectSim(t, simParams())
	bias, err := CaptureBias(context.Background(), s)
	if err != nil {
		t.Fatalf("CaptureBias: %v", err)
	}
	if len(bias) != 6 {
		t.Fatalf("bias has %d values", len(bias))
	}

	motor.SetPosition(s.Drive.ToCounts(4))
	r, err := LiveReading(context.Background(), s, bias)
	if err != nil {
		t.Fatalf("LiveReading: %v", err)
	}
	if math.Abs(r.Position-4) > 1e-9 {
		t.Fatalf("position = %v mm", r.Position)
	}
	if math.Abs(r.Values[2]+SimStiffness*4) > 1e-9 {
		t.Fatalf("Fz = %v, want %v", r.Values[2], -SimStiffness*4)
	}
	for _, i := range []int{0, 1, 3, 4, 5} {
		if math.Abs(r.Values[i]) > 1e-9 {
			t.Errorf("output %d = %v, want 0", i, r.Values[i])
		}
	}
}

func TestRunSweep(t *testing.T) {
	s, _ := connectSim(t, simParams())
	bias, err := CaptureBias(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	var stages []SweepStage
	recs, err := RunSweep(context.Background(), s, bias, func(pr SweepProgress) {
		stages = append(stages, pr.Stage)
		if pr.Steps != 5 {
			t.Errorf("Steps = %d, want 5", pr.Steps)
		}
	})
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if len(recs) != 5 {
		t.Fatalf("got %d records, want 5", len(recs))
	}
	for i, rec := range recs {
		want := float64(2 * (i + 1))
		if rec.Sample != i+1 || math.Abs(rec.Position-want) > 1e-9 {
			t.Errorf("record %d = sample %d at %v mm", i, rec.Sample, rec.Position)
		}
		if math.Abs(rec.Reading[2]+SimStiffness*want) > 1e-9 {
			t.Errorf("record %d Fz = %v", i, rec.Reading[2])
		}
		if i > 0 && rec.Elapsed < recs[i-1].Elapsed {
			t.Errorf("elapsed went backwards at %d", i)
		}
	}
	if len(stages) != 16 || stages[0] != SweepStageMoving || stages[15] != SweepStageDone {
		t.Fatalf("stages = %v", stages)
	}

	if err := Home(context.Background(), s); err != nil {
		t.Fatalf("Home: %v", err)
	}
	if pos, _ := s.Motor.Position(); pos != 0 {
		t.Fatalf("position after Home = %d", pos)
	}
}

func TestRunSweepReturnsPartialRecords(t *testing.T) {
	s, _ := connectSim(t, simParams())
	bias := make([]float64, 6)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	recs, err := RunSweep(ctx, s, bias, func(pr SweepProgress) {
		if pr.Stage == SweepStageRecorded && pr.Step == 2 {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
}

func TestRunSweepRejectsShortBias(t *testing.T) {
	s, _ := connectSim(t, simParams())
	if _, err := RunSweep(context.Background(), s, []float64{0, 0}, nil); !errors.Is(err, matrix.ErrDimension) {
		t.Fatalf("got %v, want ErrDimension", err)
	}
}

func TestMoveToStart(t *testing.T) {
	p := simParams()
	p.MOTION.INIT = 6
	p.MOTION.SETTLEMS = 1
	s, _ := connectSim(t, p)
	if err := MoveToStart(context.Background(), s); err != nil {
		t.Fatalf("MoveToStart: %v", err)
	}
	pos, _ := s.Motor.Position()
	if pos != s.Drive.ToCounts(6) {
		t.Fatalf("position = %d, want %d", pos, s.Drive.ToCounts(6))
	}
	if mode, _ := s.Motor.OperationMode(); mode != epos.ModeProfilePosition {
		t.Fatalf("mode = %d", mode)
	}
}

func TestSaveLog(t *testing.T) {
	p := simParams()
	p.OUTPUT.DIR = filepath.Join(t.TempDir(), "Force Data")
	recs := []models.Record{{Sample: 1, Position: 2, Reading: []float64{1, 2, 3, 4, 5, 6}}}
	path, err := SaveLog("", p, recs)
	if err != nil {
		t.Fatalf("SaveLog: %v", err)
	}
	if filepath.Base(path) != "Test4SP.csv" {
		t.Fatalf("path = %q", path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "Sample No.,Fx,Fy,Fz,Tx,Ty,Tz,Motor Pos (mm),Elapsed (s)") {
		t.Fatalf("missing header in %q", b)
	}
}

func TestLabelsPadded(t *testing.T) {
	s := &Session{Params: simParams(), Cal: matrix.Identity(8)}
	got := s.Labels()
	if len(got) != 8 || got[5] != "Tz" || got[7] != "Out8" {
		t.Fatalf("Labels = %v", got)
	}
}

func TestDefaultDAQDriverFollowsMotor(t *testing.T) {
	p := DefaultParameters()
	if p.EPOS.SIMULATE || p.DAQ.DRIVER != daq.DriverStream {
		t.Fatalf("real motor paired with DAQ driver %q", p.DAQ.DRIVER)
	}
	sim := &models.PARAMETERS{EPOS: &models.EPOS{SIMULATE: true}}
	ApplyDefaults(sim)
	if sim.DAQ.DRIVER != daq.DriverSim {
		t.Fatalf("simulated motor paired with DAQ driver %q", sim.DAQ.DRIVER)
	}
}

func TestConnectWarnsOnSimulatedDAQWithRealMotor(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	p := DefaultParameters()
	p.DAQ.DRIVER = daq.DriverSim
	p.EPOS.PORT = filepath.Join(t.TempDir(), "no-such-tty")
	if _, err := Connect(p, matrix.Identity(6), log); err == nil {
		t.Fatal("opened a motor on a missing port")
	}
	warned := false
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && strings.Contains(e.Message, "simulated DAQ") {
			warned = true
		}
	}
	if !warned {
		t.Fatal("no warning for a real motor with a simulated DAQ")
	}
}

func TestSaveLogMarksSimulatedRun(t *testing.T) {
	p := simParams()
	p.OUTPUT.DIR = t.TempDir()
	path, err := SaveLog("", p, []models.Record{{Sample: 1, Reading: []float64{1, 2, 3, 4, 5, 6}}})
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if lines := strings.Split(string(b), "\n"); !strings.HasPrefix(lines[2], `Simulated:,"motor, DAQ"`) {
		t.Fatalf("log = %q", b)
	}
	if LogHeader(DefaultParameters()).Simulated != "" {
		t.Fatal("real hardware marked as simulated")
	}
}

func TestSweepLogKeepsEveryOutput(t *testing.T) {
	rows := make([][]float64, 8)
	for i := range rows {
		rows[i] = make([]float64, 6)
		rows[i][i%6] = 1
	}
	cal, err := matrix.NewCalibration(rows)
	if err != nil {
		t.Fatal(err)
	}
	p := simParams()
	p.MOTION.TARGET = 4
	p.OUTPUT.DIR = t.TempDir()
	s, err := Connect(p, cal, quietLog())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	s.Motor.(*epos.Simulator).Instant = true

	recs, err := RunSweep(context.Background(), s, make([]float64, 6), nil)
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	path, err := SaveLog("", p, recs)
	if err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	table, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	hdr := table[4]
	if len(hdr) != 11 || hdr[7] != "Out7" || hdr[8] != "Out8" {
		t.Fatalf("header = %v", hdr)
	}
	for _, row := range table[5:] {
		if len(row) != len(hdr) || row[7] == "" || row[8] == "" {
			t.Fatalf("row %v lost outputs", row)
		}
	}
}

func TestMoveToHaltsOnCancel(t *testing.T) {
	s, motor := connectSim(t, simParams())
	motor.Instant = false

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := MoveTo(ctx, s, s.Drive.ToCounts(40), true)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
	stopped, _ := motor.Position()
	time.Sleep(100 * time.Millisecond)
	if pos, _ := motor.Position(); pos != stopped {
		t.Fatalf("stage kept moving after cancel: %d -> %d", stopped, pos)
	}
	if tgt, _ := motor.TargetPosition(); tgt != stopped {
		t.Fatalf("target = %d, want the halt position %d", tgt, stopped)
	}
}

func TestRezero(t *testing.T) {
	recs := []models.Record{
		{Sample: 1, Raw: []float64{1, 2, 3, 4, 5, 6}, Reading: []float64{1, 2, 3, 4, 5, 6}},
		{Sample: 2, Raw: []float64{2, 2, 2, 2, 2, 2}, Reading: []float64{2, 2, 2, 2, 2, 2}},
	}
	bias := []float64{1, 1, 1, 1, 1, 1}
	got, err := Rezero(matrix.Identity(6), recs, bias)
	if err != nil {
		t.Fatalf("Rezero: %v", err)
	}
	if got[0].Reading[5] != 5 || got[1].Reading[0] != 1 || got[1].Sample != 2 {
		t.Fatalf("rezeroed = %+v", got)
	}
	if recs[0].Reading[5] != 6 {
		t.Fatal("input records modified")
	}
	if _, err := Rezero(matrix.Identity(6), []models.Record{{Sample: 1}}, bias); err == nil {
		t.Fatal("record without raw channels accepted")
	}
	if _, err := Rezero(matrix.Identity(6), recs, bias[:2]); !errors.Is(err, matrix.ErrDimension) {
		t.Fatalf("got %v, want ErrDimension", err)
	}
}
