package rig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/CK6170/EposForce-go/daq"
	"github.com/CK6170/EposForce-go/models"
)

// DefaultCalibration is the calibration file of the FT21484 transducer on the rig.
const DefaultCalibration = "Calibration Files/FT21484_cal_mat.txt"

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// LoadParameters reads a JSON or YAML config (by extension) and fills in
// defaults for everything left out. A relative SENSOR.CALIBRATION is resolved
// against the directory of the config file.
func LoadParameters(path string) (*models.PARAMETERS, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := DecodeParameters(b, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if cal := p.SENSOR.CALIBRATION; !filepath.IsAbs(cal) {
		p.SENSOR.CALIBRATION = filepath.Join(filepath.Dir(path), cal)
	}
	return p, nil
}

// DecodeParameters parses raw as YAML when name has a YAML extension and as
// JSON otherwise, then applies defaults and validates.
func DecodeParameters(raw []byte, name string) (*models.PARAMETERS, error) {
	var (
		p   models.PARAMETERS
		err error
	)
	if isYAML(name) {
		err = yaml.Unmarshal(raw, &p)
	} else {
		err = json.Unmarshal(raw, &p)
	}
	if err != nil {
		return nil, err
	}
	ApplyDefaults(&p)
	if err := Validate(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DefaultParameters is the rig configuration used when no file is given.
func DefaultParameters() *models.PARAMETERS {
	p := &models.PARAMETERS{}
	ApplyDefaults(p)
	return p
}

// ApplyDefaults fills zero values with the settings of the bench rig.
func ApplyDefaults(p *models.PARAMETERS) {
	if p.EPOS == nil {
		p.EPOS = &models.EPOS{}
	}
	e := p.EPOS
	setString(&e.DEVICE, "EPOS2")
	setString(&e.PROTOCOL, "MAXON SERIAL V2")
	setString(&e.INTERFACE, "USB")
	setString(&e.PORT, "USB0")
	setInt(&e.NODEID, 2)
	setInt(&e.BAUDRATE, 115200)
	setInt(&e.TIMEOUT, 500)
	setInt(&e.SCREWLEAD, 2)
	setInt(&e.GEARHEAD, 29)
	setInt(&e.COUNTSPERTURN, 256)
	setInt(&e.MAXSPEED, 8000)
	setInt(&e.ACCEL, 100000)
	setInt(&e.DECEL, 100000)

	if p.DAQ == nil {
		p.DAQ = &models.DAQ{}
	}
	d := p.DAQ
	setString(&d.SERIAL, "01C27A73")
	// The DAQ follows the motor: a simulated stage never drives real forces,
	// and a real stage never logs made-up ones.
	if d.DRIVER == "" {
		d.DRIVER = daq.DriverStream
		if e.SIMULATE {
			d.DRIVER = daq.DriverSim
		}
	}
	setInt(&d.BAUDRATE, 115200)
	setString(&d.TASK, "forceTask")
	setFloat(&d.RATE, 1000)
	setFloat(&d.DURATION, 1)
	if len(d.CHANNELS) == 0 {
		d.CHANNELS = []int{0, 1, 2, 3, 4, 5, 8, 9, 10, 11, 12, 13}
	}
	setString(&d.TERMINAL, daq.TerminalDiff.String())
	setFloat(&d.BIASRATE, 1000)
	setFloat(&d.BIASSECONDS, 2)

	if p.MOTION == nil {
		p.MOTION = &models.MOTION{}
	}
	m := p.MOTION
	setFloat(&m.TARGET, 55)
	setFloat(&m.STEP, 2)
	setInt(&m.SPEED, 2000)
	setInt(&m.SETTLEMS, 1000)

	if p.SENSOR == nil {
		p.SENSOR = &models.SENSOR{}
	}
	setString(&p.SENSOR.CALIBRATION, DefaultCalibration)
	if len(p.SENSOR.LABELS) == 0 {
		p.SENSOR.LABELS = append([]string(nil), models.DefaultLabels...)
	}

	if p.OUTPUT == nil {
		p.OUTPUT = &models.OUTPUT{}
	}
	setString(&p.OUTPUT.DIR, "Force Data")
	setString(&p.OUTPUT.FILE, "Test4SP.csv")
}

// Validate rejects settings that cannot produce a run.
func Validate(p *models.PARAMETERS) error {
	if p == nil || p.EPOS == nil || p.DAQ == nil || p.MOTION == nil {
		return fmt.Errorf("parameters incomplete")
	}
	if p.EPOS.SCREWLEAD <= 0 || p.EPOS.GEARHEAD <= 0 || p.EPOS.COUNTSPERTURN <= 0 {
		return fmt.Errorf("EPOS: SCREWLEAD, GEARHEAD and COUNTSPERTURN must be > 0")
	}
	if p.EPOS.NODEID < 1 || p.EPOS.NODEID > 127 {
		return fmt.Errorf("EPOS: NODEID %d out of range 1..127", p.EPOS.NODEID)
	}
	if p.DAQ.RATE <= 0 || p.DAQ.DURATION <= 0 {
		return fmt.Errorf("DAQ: RATE and DURATION must be > 0")
	}
	if p.DAQ.BIASRATE <= 0 || p.DAQ.BIASSECONDS <= 0 {
		return fmt.Errorf("DAQ: BIASRATE and BIASSECONDS must be > 0")
	}
	if _, err := daq.ParseTerminalConfig(p.DAQ.TERMINAL); err != nil {
		return fmt.Errorf("DAQ: %w", err)
	}
	if p.MOTION.STEP <= 0 {
		return fmt.Errorf("MOTION: STEP must be > 0")
	}
	if p.MOTION.SPEED <= 0 {
		return fmt.Errorf("MOTION: SPEED must be > 0")
	}
	return nil
}

func PersistParameters(path string, p *models.PARAMETERS) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(p)
	} else {
		data, err = json.MarshalIndent(p, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LogPath is OUTPUT.DIR joined with OUTPUT.FILE.
func LogPath(p *models.PARAMETERS) string {
	if p == nil || p.OUTPUT == nil {
		return ""
	}
	return filepath.Join(p.OUTPUT.DIR, p.OUTPUT.FILE)
}

func setString(v *string, def string) {
	if strings.TrimSpace(*v) == "" {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setFloat(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}
