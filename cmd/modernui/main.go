package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/CK6170/Sorensen-go/modern"
	serialpkg "github.com/CK6170/Sorensen-go/serial"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/lipgloss"
)

type screen int

const (
	screenEntry screen = iota
	screenMonitor
	screenSetpoint
)

type setpointKind int

const (
	setVoltage setpointKind = iota
	setCurrent
	setRamp
)

func (k setpointKind) prompt() string {
	switch k {
	case setVoltage:
		return "Voltage (V):"
	case setCurrent:
		return "Current (A):"
	default:
		return "Ramp target and seconds (e.g. 12 5):"
	}
}

type model struct {
	scr screen

	// entry
	configInput   textinput.Model
	setpointInput textinput.Model
	setpointKind  setpointKind

	configPath string

	// connection
	sess     *modern.Session
	idn      string
	lastErr  error
	infoLine string

	// monitor state
	snap     *modern.Snapshot
	ramp     *modern.RampProgress
	ramping  bool
	pollID   int
	rampID   int
	pollCtx  context.Context
	pollStop context.CancelFunc
	rampStop context.CancelFunc
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	flagOn     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	flagFault  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	flagOff    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func initialModel() model {
	in := textinput.New()
	in.Placeholder = "Path to config (.json or .yaml)"
	in.Focus()
	in.CharLimit = 512
	in.Width = 60

	sp := textinput.New()
	sp.CharLimit = 32
	sp.Width = 20

	m := model{
		scr:           screenEntry,
		configInput:   in,
		setpointInput: sp,
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
	sess       *modern.Session
	idn        string
	configPath string
}
type disconnectedMsg struct{}

type snapMsg struct {
	pollID int
	snap   modern.Snapshot
}
type pollStoppedMsg struct{ pollID int }

type rampProgressMsg struct {
	rampID int
	p      modern.RampProgress
	ch     <-chan tea.Msg
}
type rampDoneMsg struct {
	rampID int
	err    error
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.disconnect(true)
			return m, tea.Quit
		}
		switch m.scr {
		case screenEntry:
			return m.updateEntryKey(msg)
		case screenMonitor:
			return m.updateMonitorKey(msg)
		case screenSetpoint:
			return m.updateSetpointKey(msg)
		}

	case errMsg:
		m.lastErr = msg.err
		return m, nil

	case infoMsg:
		m.infoLine = msg.s
		m.lastErr = nil
		return m, nil

	case connectedMsg:
		m.sess = msg.sess
		m.idn = msg.idn
		m.configPath = msg.configPath
		m.infoLine = fmt.Sprintf("Connected on %s", m.sess.Params.SERIAL.PORT)
		m.lastErr = nil
		m.scr = screenMonitor
		return m, m.startPolling()

	case disconnectedMsg:
		m.infoLine = "Disconnected"
		m.scr = screenEntry
		return m, nil

	case snapMsg:
		if msg.pollID != m.pollID {
			return m, nil
		}
		m.snap = &msg.snap
		return m, m.nextPollTick(m.pollCtx, m.pollID)

	case pollStoppedMsg:
		return m, nil

	case rampProgressMsg:
		if msg.rampID != m.rampID {
			return m, nil
		}
		p := msg.p
		m.ramp = &p
		return m, waitRamp(msg.rampID, msg.ch)

	case rampDoneMsg:
		if msg.rampID != m.rampID {
			return m, nil
		}
		m.ramping = false
		m.rampStop = nil
		switch {
		case errors.Is(msg.err, context.Canceled):
			m.infoLine = "Ramp wait cancelled"
		case msg.err != nil:
			m.lastErr = msg.err
		default:
			m.infoLine = "Ramp complete"
		}
		return m, nil
	}

	// default: let inputs update
	switch m.scr {
	case screenEntry:
		var cmd tea.Cmd
		m.configInput, cmd = m.configInput.Update(msg)
		return m, cmd
	case screenSetpoint:
		var cmd tea.Cmd
		m.setpointInput, cmd = m.setpointInput.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Sorensen DCS-M9") + "\n")
	b.WriteString(helpStyle.Render("Ctrl+C to quit.") + "\n\n")
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
	case screenMonitor:
		b.WriteString(m.viewMonitor())
	case screenSetpoint:
		b.WriteString(m.viewMonitor())
		b.WriteString("\n" + m.setpointKind.prompt() + "\n")
		b.WriteString(m.setpointInput.View() + "\n")
		b.WriteString(helpStyle.Render("Enter to send, Esc to cancel.") + "\n")
	}
	return b.String()
}

func (m model) viewEntry() string {
	var b strings.Builder
	b.WriteString("Config:\n")
	b.WriteString(m.configInput.View() + "\n\n")
	b.WriteString(helpStyle.Render("Enter a config path then press Enter to connect.") + "\n")
	return b.String()
}

func flag(name string, on bool, style lipgloss.Style) string {
	if on {
		return style.Render(name)
	}
	return flagOff.Render(name)
}

func (m model) viewMonitor() string {
	var b strings.Builder
	if m.sess == nil {
		b.WriteString(errStyle.Render("Not connected.") + "\n")
		return b.String()
	}
	b.WriteString(m.idn + "\n")
	if caps, known := m.sess.Supply.Capabilities(); known {
		b.WriteString(fmt.Sprintf("%s  S/N %s  max %.3f V / %.3f A\n", caps.Model, caps.SerialNumber, caps.MaxVoltage, caps.MaxCurrent))
	} else {
		b.WriteString(errStyle.Render("Device limits unknown (no status frame yet); setpoints are blocked.") + "\n")
	}
	b.WriteString("\n")

	if m.snap == nil {
		b.WriteString("Waiting for first reading...\n")
	} else {
		volts, amps := "  ---  ", "  ---  "
		if m.snap.Voltage != nil {
			volts = fmt.Sprintf("%7.3f", *m.snap.Voltage)
		}
		if m.snap.Current != nil {
			amps = fmt.Sprintf("%7.3f", *m.snap.Current)
		}
		b.WriteString(fmt.Sprintf("Output: %s V  %s A\n", volts, amps))
		if st := m.snap.Status; st != nil {
			b.WriteString(fmt.Sprintf("Mode:   %s %s %s %s\n",
				flag("CV", st.ConstantVoltage, flagOn),
				flag("CC", st.ConstantCurrent, flagOn),
				flag("OV", st.OverVoltage, flagFault),
				flag("OT", st.OverTemperature, flagFault)))
			b.WriteString(fmt.Sprintf("Fault register %d  error register %d\n", st.FaultRegister, st.ErrorRegister))
		}
		if m.snap.Err != "" {
			b.WriteString(errStyle.Render(m.snap.Err) + "\n")
		}
		b.WriteString(helpStyle.Render("Updated "+m.snap.At.Format("15:04:05")) + "\n")
	}
	if m.ramp != nil && m.ramping {
		b.WriteString(fmt.Sprintf("\nRamp -> %.3f V: %s, measured %.3f V after %s\n",
			m.ramp.Target, m.ramp.Stage, m.ramp.Measured, m.ramp.Elapsed.Truncate(100*time.Millisecond)))
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("v) set voltage  c) set current  r) ramp  s) save snapshot  d) disconnect (local)  x) disconnect (stay remote)") + "\n")
	return b.String()
}

func (m *model) disconnect(returnToLocal bool) {
	m.stopPolling()
	if m.rampStop != nil {
		m.rampStop()
		m.rampStop = nil
	}
	m.ramping = false
	if m.sess != nil {
		_ = m.sess.Close(returnToLocal)
		m.sess = nil
	}
	m.snap = nil
}

func (m *model) startPolling() tea.Cmd {
	m.stopPolling()
	m.pollID++
	m.pollCtx, m.pollStop = context.WithCancel(context.Background())
	return m.pollNow(m.pollCtx, m.pollID)
}

func (m *model) stopPolling() {
	if m.pollStop != nil {
		m.pollStop()
		m.pollStop = nil
	}
	m.pollCtx = nil
}

func (m model) pollNow(ctx context.Context, pollID int) tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		if ctx == nil || ctx.Err() != nil || sess == nil {
			return pollStoppedMsg{pollID: pollID}
		}
		return snapMsg{pollID: pollID, snap: modern.ReadSnapshot(sess)}
	}
}

func (m model) nextPollTick(ctx context.Context, pollID int) tea.Cmd {
	sess := m.sess
	interval := 500 * time.Millisecond
	if sess != nil && sess.Params.POLL > 0 {
		interval = time.Duration(sess.Params.POLL) * time.Millisecond
	}
	return tea.Tick(interval, func(time.Time) tea.Msg {
		if ctx == nil || ctx.Err() != nil || sess == nil {
			return pollStoppedMsg{pollID: pollID}
		}
		return snapMsg{pollID: pollID, snap: modern.ReadSnapshot(sess)}
	})
}

func (m model) updateEntryKey(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	if k.String() == "enter" {
		path := strings.TrimSpace(m.configInput.Value())
		if path == "" {
			return m, func() tea.Msg { return errMsg{err: fmt.Errorf("config path is empty")} }
		}
		return m, connectCmd(path)
	}
	var cmd tea.Cmd
	m.configInput, cmd = m.configInput.Update(k)
	return m, cmd
}

func (m model) updateMonitorKey(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.String() {
	case "v", "c", "r":
		kinds := map[string]setpointKind{"v": setVoltage, "c": setCurrent, "r": setRamp}
		m.setpointKind = kinds[k.String()]
		m.setpointInput.SetValue("")
		m.setpointInput.Focus()
		m.scr = screenSetpoint
		return m, textinput.Blink
	case "s":
		if m.snap == nil {
			return m, nil
		}
		snap := *m.snap
		path := modern.SnapshotPath(m.configPath, snap.At)
		return m, func() tea.Msg {
			if err := modern.SaveSnapshotJSON(path, snap); err != nil {
				return errMsg{err: err}
			}
			return infoMsg{s: "Saved " + path}
		}
	case "d", "x":
		m.disconnect(k.String() == "d")
		return m, func() tea.Msg { return disconnectedMsg{} }
	case "esc":
		if m.rampStop != nil {
			m.rampStop()
		}
		return m, nil
	}
	return m, nil
}

func (m model) updateSetpointKey(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.String() {
	case "esc":
		m.setpointInput.Blur()
		m.scr = screenMonitor
		return m, nil
	case "enter":
		m.setpointInput.Blur()
		m.scr = screenMonitor
		if m.sess == nil {
			return m, func() tea.Msg { return errMsg{err: fmt.Errorf("not connected")} }
		}
		fields := strings.Fields(m.setpointInput.Value())
		vals := make([]float64, 0, len(fields))
		for _, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return m, func() tea.Msg { return errMsg{err: fmt.Errorf("not a number: %q", f)} }
			}
			vals = append(vals, v)
		}
		sess := m.sess
		switch m.setpointKind {
		case setVoltage, setCurrent:
			if len(vals) != 1 {
				return m, func() tea.Msg { return errMsg{err: fmt.Errorf("enter one value")} }
			}
			apply, unit := modern.ApplyVoltage, "V"
			if m.setpointKind == setCurrent {
				apply, unit = modern.ApplyCurrent, "A"
			}
			return m, func() tea.Msg {
				if err := apply(sess, vals[0]); err != nil {
					return errMsg{err: err}
				}
				return infoMsg{s: fmt.Sprintf("Sent %.3f %s", vals[0], unit)}
			}
		case setRamp:
			if len(vals) != 2 {
				return m, func() tea.Msg { return errMsg{err: fmt.Errorf("enter target volts and seconds")} }
			}
			return m.startRamp(sess, vals[0], vals[1])
		}
		return m, nil
	}
	var cmd tea.Cmd
	m.setpointInput, cmd = m.setpointInput.Update(k)
	return m, cmd
}

// startRamp sends the ramp command right away so rejections show at once,
// then follows the settling in the background.
func (m model) startRamp(sess *modern.Session, target, seconds float64) (tea.Model, tea.Cmd) {
	if err := modern.ApplyVoltageRamp(sess, target, seconds); err != nil {
		if errors.Is(err, serialpkg.ErrRejectedSetpoint) {
			m.lastErr = err
			return m, nil
		}
		return m, func() tea.Msg { return errMsg{err: err} }
	}
	if m.rampStop != nil {
		m.rampStop()
	}
	m.rampID++
	m.ramping = true
	m.ramp = nil
	ctx, cancel := context.WithCancel(context.Background())
	m.rampStop = cancel
	rampID := m.rampID

	ch := make(chan tea.Msg, 16)
	go func() {
		defer close(ch)
		_, err := modern.WaitForVoltage(ctx, sess, target, seconds, 0.05, func(p modern.RampProgress) {
			select {
			case ch <- rampProgressMsg{rampID: rampID, p: p}:
			default:
			}
		})
		select {
		case ch <- rampDoneMsg{rampID: rampID, err: err}:
		default:
		}
	}()
	m.infoLine = fmt.Sprintf("Ramping to %.3f V over %.1f s (Esc stops waiting)", target, seconds)
	return m, waitRamp(rampID, ch)
}

func waitRamp(rampID int, ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return rampDoneMsg{rampID: rampID}
		}
		if p, isProgress := msg.(rampProgressMsg); isProgress {
			p.ch = ch
			return p
		}
		return msg
	}
}

func connectCmd(path string) tea.Cmd {
	return func() tea.Msg {
		p, err := modern.LoadParameters(path)
		if err != nil {
			return errMsg{err: err}
		}
		_, err = modern.EnsureSerialPort(path, p, true)
		if err != nil {
			return errMsg{err: err}
		}
		sess, err := modern.Connect(p, nil)
		if err != nil {
			return errMsg{err: err}
		}
		idn, err := modern.ProbeIdentification(sess)
		if err != nil {
			_ = sess.Close(false)
			return errMsg{err: err}
		}
		return connectedMsg{sess: sess, idn: idn, configPath: path}
	}
}

func main() {
	p := tea.NewProgram(initialModel(), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}
