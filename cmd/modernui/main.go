package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/CK6170/EposForce-go/models"
	"github.com/CK6170/EposForce-go/rig"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type screen int

const (
	screenEntry screen = iota
	screenSweep
	screenLive
)

type modeStatus int

const (
	statusIdle modeStatus = iota
	statusRunning
	statusDone
	statusError
)

// recentRows is how many sweep records stay on screen.
const recentRows = 8

type model struct {
	scr screen

	// entry
	configInput textinput.Model
	configPath  string

	// connection
	sess     *rig.Session
	lastErr  error
	infoLine string
	busy     bool

	// sweep state
	sweepStatus modeStatus
	sweepProg   rig.SweepProgress
	sweepRecs   []models.Record
	sweepBar    progress.Model
	sweepPath   string

	// live state
	liveStatus  modeStatus
	liveBias    []float64
	liveReading *rig.Reading
	liveLastAt  time.Time

	// cancellation for long-running mode work
	modeCtx    context.Context
	modeCancel context.CancelFunc
	sweepRunID int
	liveRunID  int
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	cellStyle  = lipgloss.NewStyle().Width(10).Align(lipgloss.Right)
)

func initialModel() model {
	in := textinput.New()
	in.Placeholder = "Path to config.json or config.yaml"
	in.Focus()
	in.CharLimit = 512
	in.Width = 60

	m := model{
		scr:         screenEntry,
		configInput: in,
		sweepBar:    progress.New(progress.WithDefaultGradient(), progress.WithWidth(50)),
	}
	// support passing config path as arg
	if len(os.Args) > 1 && strings.TrimSpace(os.Args[1]) != "" {
		m.configInput.SetValue(os.Args[1])
		m.configInput.CursorEnd()
	}
	return m
}

type errMsg struct{ err error }
type infoMsg struct{ s string }
type connectedMsg struct {
	sess       *rig.Session
	configPath string
}
type disconnectedMsg struct{}

type sweepProgMsg struct {
	runID int
	p     rig.SweepProgress
	ch    <-chan tea.Msg
}
type sweepDoneMsg struct {
	runID int
	recs  []models.Record
	path  string
	err   error
}

type liveBiasMsg struct {
	runID int
	bias  []float64
}
type liveMsg struct {
	runID int
	r     rig.Reading
}
type livePollStoppedMsg struct{ runID int }

type homedMsg struct{ err error }

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			_ = m.disconnect()
			return m, tea.Quit
		}

		switch m.scr {
		case screenEntry:
			return m.updateEntryKey(msg)
		case screenSweep:
			return m.updateSweepKey(msg)
		case screenLive:
			return m.updateLiveKey(msg)
		}

	case tea.WindowSizeMsg:
		w := msg.Width - 10
		if w > 80 {
			w = 80
		}
		if w > 10 {
			m.sweepBar.Width = w
		}
		return m, nil

	case errMsg:
		m.lastErr = msg.err
		m.busy = false
		// move mode statuses to error if currently running
		switch m.scr {
		case screenSweep:
			m.sweepStatus = statusError
		case screenLive:
			m.liveStatus = statusError
		}
		return m, nil

	case infoMsg:
		m.infoLine = msg.s
		return m, nil

	case connectedMsg:
		m.sess = msg.sess
		m.configPath = msg.configPath
		m.infoLine = fmt.Sprintf("Connected (DAQ %s, %d channels, %s)", m.sess.Device, len(m.sess.Channels), m.sess.Params.EPOS.DEVICE)
		m.lastErr = nil
		return m, nil

	case disconnectedMsg:
		m.sess = nil
		m.infoLine = "Disconnected"
		return m, nil

	case homedMsg:
		m.busy = false
		if msg.err != nil {
			m.lastErr = msg.err
			return m, nil
		}
		m.infoLine = "Stage is home."
		return m, nil

	case sweepProgMsg:
		// keep draining stale runs so their goroutine can finish
		if msg.runID != m.sweepRunID {
			return m, waitSweep(msg.ch)
		}
		m.sweepProg = msg.p
		if msg.p.Stage == rig.SweepStageRecorded && msg.p.Record != nil {
			m.sweepRecs = append(m.sweepRecs, *msg.p.Record)
		}
		return m, waitSweep(msg.ch)

	case sweepDoneMsg:
		if msg.runID != m.sweepRunID {
			return m, nil
		}
		m.sweepRecs = msg.recs
		m.sweepPath = msg.path
		m.sweepStatus = statusDone
		if msg.err != nil {
			m.lastErr = msg.err
			m.sweepStatus = statusError
		}
		if msg.path != "" {
			m.infoLine = fmt.Sprintf("Saved %d records to %s", len(msg.recs), msg.path)
		}
		return m, nil

	case liveBiasMsg:
		if msg.runID != m.liveRunID {
			return m, nil
		}
		m.liveBias = msg.bias
		m.liveStatus = statusRunning
		return m, m.nextLivePollTick(m.modeCtx, m.liveRunID)

	case liveMsg:
		if msg.runID != m.liveRunID || m.scr != screenLive {
			return m, nil
		}
		r := msg.r
		m.liveReading = &r
		m.liveLastAt = time.Now()
		return m, m.nextLivePollTick(m.modeCtx, m.liveRunID)

	case livePollStoppedMsg:
		return m, nil
	}

	// default: let inputs update
	if m.scr == screenEntry {
		var cmd tea.Cmd
		m.configInput, cmd = m.configInput.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("EPOS Force Datalogger") + "\n")
	b.WriteString(helpStyle.Render("Ctrl+C to quit. 'b' to go back from a mode.") + "\n\n")
	if m.infoLine != "" {
		b.WriteString(okStyle.Render(m.infoLine) + "\n")
	}
	if m.lastErr != nil {
		b.WriteString(errStyle.Render("Error: "+m.lastErr.Error()) + "\n")
	}
	b.WriteString("\n")

	switch m.scr {
	case screenEntry:
		b.WriteString(m.viewEntry())
	case screenSweep:
		b.WriteString(m.viewSweep())
	case screenLive:
		b.WriteString(m.viewLive())
	}
	return b.String()
}

func (m model) viewEntry() string {
	var b strings.Builder
	b.WriteString("Config:\n")
	b.WriteString(m.configInput.View() + "\n\n")
	if m.sess == nil {
		b.WriteString(helpStyle.Render("Enter a config path then press Enter to connect.") + "\n")
		return b.String()
	}
	b.WriteString(okStyle.Render("Connected.") + "\n\n")
	mo := m.sess.Params.MOTION
	b.WriteString(fmt.Sprintf("Sweep: %.2f mm -> %.2f mm in %.2f mm steps at %d rpm\n\n", mo.INIT, mo.TARGET, mo.STEP, rig.Speed(m.sess.Params)))
	b.WriteString("Select mode:\n")
	b.WriteString("  1) Sweep (bias, step through the plan, save log)\n")
	b.WriteString("  2) Live readout\n")
	b.WriteString("  h) Return home\n\n")
	if m.busy {
		b.WriteString("Working...\n")
	}
	b.WriteString(helpStyle.Render("Press 1/2/h. Press d to disconnect.") + "\n")
	return b.String()
}

func labelRow(labels []string) string {
	cells := make([]string, len(labels))
	for i, l := range labels {
		cells[i] = cellStyle.Render(l)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cells...)
}

func valueRow(values []float64) string {
	cells := make([]string, len(values))
	for i, v := range values {
		cells[i] = cellStyle.Render(fmt.Sprintf("%.4f", v))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cells...)
}

func (m model) viewSweep() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Sweep") + "\n\n")
	if m.sess == nil {
		b.WriteString(errStyle.Render("Not connected.") + "\n")
		return b.String()
	}
	switch m.sweepStatus {
	case statusIdle:
		b.WriteString("Remove any weight attached to the sensor. The bias is captured before the first step.\n\n")
		b.WriteString(helpStyle.Render("Press Enter to start. Press b to go back.") + "\n")
		return b.String()
	case statusRunning:
		pr := m.sweepProg
		done := 0.0
		if pr.Steps > 0 {
			done = float64(len(m.sweepRecs)) / float64(pr.Steps)
		}
		b.WriteString(m.sweepBar.ViewAs(done) + "\n")
		if pr.Steps == 0 {
			b.WriteString("Moving to start and capturing bias...\n\n")
		} else {
			b.WriteString(fmt.Sprintf("Step %d/%d (%s) target %.3f mm\n\n", pr.Step+1, pr.Steps, pr.Stage, pr.Target))
		}
	case statusDone:
		b.WriteString(okStyle.Render(fmt.Sprintf("Sweep complete: %d records.", len(m.sweepRecs))) + "\n\n")
	case statusError:
		b.WriteString(errStyle.Render(fmt.Sprintf("Sweep stopped after %d records.", len(m.sweepRecs))) + "\n\n")
	}

	if len(m.sweepRecs) > 0 {
		labels := append([]string{"Sample", "mm"}, m.sess.Labels()...)
		b.WriteString(labelRow(labels) + "\n")
		start := len(m.sweepRecs) - recentRows
		if start < 0 {
			start = 0
		}
		for _, rec := range m.sweepRecs[start:] {
			vals := append([]float64{float64(rec.Sample), rec.Position}, rec.Reading...)
			b.WriteString(valueRow(vals) + "\n")
		}
		b.WriteString("\n")
	}
	if m.sweepStatus == statusRunning {
		b.WriteString(helpStyle.Render("Press s to stop (records so far are saved). Press b to go back.") + "\n")
	} else {
		b.WriteString(helpStyle.Render("Press Enter to run again. Press b to go back.") + "\n")
	}
	return b.String()
}

func (m model) viewLive() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Live readout") + "\n\n")
	if m.sess == nil {
		b.WriteString(errStyle.Render("Not connected.") + "\n")
		return b.String()
	}
	switch m.liveStatus {
	case statusIdle:
		b.WriteString(helpStyle.Render("Remove any weight, then press Enter to capture the bias and start live polling.") + "\n")
	case statusRunning:
		if m.liveReading == nil {
			b.WriteString("Capturing bias...\n")
			return b.String()
		}
		r := m.liveReading
		b.WriteString(fmt.Sprintf("Position: %.3f mm (%d counts)\n\n", r.Position, r.Counts))
		b.WriteString(labelRow(m.sess.Labels()) + "\n")
		b.WriteString(valueRow(r.Values) + "\n\n")
		b.WriteString(helpStyle.Render(fmt.Sprintf("Updated %s. Press z to re-bias. Press b to go back (stops polling).", m.liveLastAt.Format("15:04:05"))) + "\n")
	default:
		b.WriteString(helpStyle.Render("Press Enter to restart. Press b to go back.") + "\n")
	}
	return b.String()
}

func (m *model) disconnect() error {
	m.stopMode()
	if m.sess != nil {
		_ = m.sess.Close()
		m.sess = nil
	}
	return nil
}

func (m model) updateEntryKey(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.String() {
	case "enter":
		if m.sess == nil {
			path := strings.TrimSpace(m.configInput.Value())
			if path == "" {
				return m, func() tea.Msg { return errMsg{err: fmt.Errorf("config path is empty")} }
			}
			return m, m.connectCmd(path)
		}
		return m, nil
	case "1":
		if m.sess == nil || m.busy {
			return m, nil
		}
		m.stopMode()
		m.sweepRunID++
		m.scr = screenSweep
		m.sweepStatus = statusIdle
		m.sweepRecs = nil
		m.sweepProg = rig.SweepProgress{}
		return m, nil
	case "2":
		if m.sess == nil || m.busy {
			return m, nil
		}
		m.stopMode()
		m.liveRunID++
		m.scr = screenLive
		m.liveStatus = statusIdle
		m.liveReading = nil
		return m, nil
	case "h":
		if m.sess == nil || m.busy {
			return m, nil
		}
		m.busy = true
		return m, m.homeCmd()
	case "d":
		_ = m.disconnect()
		return m, func() tea.Msg { return disconnectedMsg{} }
	}

	var cmd tea.Cmd
	m.configInput, cmd = m.configInput.Update(k)
	return m, cmd
}

func (m model) updateSweepKey(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.String() {
	case "b":
		m.stopMode()
		m.sweepRunID++
		m.scr = screenEntry
		m.sweepStatus = statusIdle
		return m, nil
	case "s":
		if m.sweepStatus == statusRunning {
			// the sweep goroutine saves what it has and reports back
			m.stopMode()
		}
		return m, nil
	case "enter":
		if m.sweepStatus == statusRunning {
			return m, nil
		}
		if m.sess == nil {
			return m, func() tea.Msg { return errMsg{err: fmt.Errorf("not connected")} }
		}
		m.stopMode()
		m.sweepRunID++
		m.modeCtx, m.modeCancel = context.WithCancel(context.Background())
		m.sweepStatus = statusRunning
		m.sweepRecs = nil
		m.sweepProg = rig.SweepProgress{}
		m.sweepPath = ""
		m.lastErr = nil
		return m, m.startSweepCmd(m.modeCtx, m.sweepRunID)
	}
	return m, nil
}

func (m model) updateLiveKey(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.String() {
	case "b":
		m.stopMode()
		m.liveRunID++
		m.scr = screenEntry
		m.liveStatus = statusIdle
		return m, nil
	case "enter", "z":
		if k.String() == "enter" && m.liveStatus == statusRunning {
			return m, nil
		}
		if k.String() == "z" && m.liveStatus != statusRunning {
			return m, nil
		}
		if m.sess == nil {
			return m, func() tea.Msg { return errMsg{err: fmt.Errorf("not connected")} }
		}
		// cancel polling, re-bias, then resume polling
		m.stopMode()
		m.liveRunID++
		m.modeCtx, m.modeCancel = context.WithCancel(context.Background())
		m.liveReading = nil
		m.liveStatus = statusRunning
		return m, m.captureBiasCmd(m.modeCtx, m.liveRunID)
	}
	return m, nil
}

func (m *model) stopMode() {
	if m.modeCancel != nil {
		m.modeCancel()
		m.modeCancel = nil
	}
	m.modeCtx = nil
}

func newLogger(p *models.PARAMETERS) logrus.FieldLogger {
	// The alternate screen owns the terminal; debug logs go to a file.
	if p.DEBUG {
		if f, err := os.OpenFile("modernui.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
			return rig.NewLogger(f, true)
		}
	}
	return rig.NewLogger(io.Discard, false)
}

func (m model) connectCmd(path string) tea.Cmd {
	return func() tea.Msg {
		p, err := rig.LoadParameters(path)
		if err != nil {
			return errMsg{err: err}
		}
		sess, err := rig.Connect(p, nil, newLogger(p))
		if err != nil {
			return errMsg{err: err}
		}
		return connectedMsg{sess: sess, configPath: path}
	}
}

func (m model) homeCmd() tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		return homedMsg{err: rig.Home(context.Background(), sess)}
	}
}

func waitSweep(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

// startSweepCmd runs the whole sweep in the background and streams progress
// back through a channel. Records are saved even when the sweep is stopped.
func (m model) startSweepCmd(ctx context.Context, runID int) tea.Cmd {
	sess := m.sess
	ch := make(chan tea.Msg, 16)
	go func() {
		defer close(ch)
		done := sweepDoneMsg{runID: runID}
		defer func() { ch <- done }()

		if err := rig.MoveToStart(ctx, sess); err != nil {
			done.err = err
			return
		}
		bias, err := rig.CaptureBias(ctx, sess)
		if err != nil {
			done.err = err
			return
		}
		recs, err := rig.RunSweep(ctx, sess, bias, func(p rig.SweepProgress) {
			select {
			case ch <- sweepProgMsg{runID: runID, p: p, ch: ch}:
			case <-ctx.Done():
			}
		})
		done.recs, done.err = recs, err
		if len(recs) > 0 {
			path, serr := rig.SaveLog("", sess.Params, recs)
			done.path = path
			if serr != nil && done.err == nil {
				done.err = serr
			}
		}
		if err == nil {
			done.err = rig.Home(ctx, sess)
		}
	}()
	return waitSweep(ch)
}

func (m model) captureBiasCmd(ctx context.Context, runID int) tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		if sess == nil {
			return errMsg{err: fmt.Errorf("not connected")}
		}
		bias, err := rig.CaptureBias(ctx, sess)
		if err != nil {
			return errMsg{err: err}
		}
		return liveBiasMsg{runID: runID, bias: bias}
	}
}

func (m model) nextLivePollTick(ctx context.Context, runID int) tea.Cmd {
	sess, bias := m.sess, m.liveBias
	return tea.Tick(250*time.Millisecond, func(time.Time) tea.Msg {
		if ctx == nil {
			return livePollStoppedMsg{runID: runID}
		}
		select {
		case <-ctx.Done():
			return livePollStoppedMsg{runID: runID}
		default:
		}
		if sess == nil {
			return errMsg{err: fmt.Errorf("not connected")}
		}
		r, err := rig.LiveReading(ctx, sess, bias)
		if err != nil {
			return errMsg{err: err}
		}
		return liveMsg{runID: runID, r: r}
	})
}

func main() {
	p := tea.NewProgram(initialModel(), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}
