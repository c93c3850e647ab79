package serial

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/CK6170/Sorensen-go/models"
)

// DCS-M9 RS-232 command set.
const (
	CmdIdentify       = "*IDN?"
	CmdMeasureVoltage = ":MEAS:VOLT?"
	CmdMeasureCurrent = ":MEAS:CURR?"
	CmdSetVoltage     = ":SOUR:VOLT"
	CmdSetVoltageRamp = ":SOUR:VOLT:RAMP"
	CmdSetCurrent     = ":SOUR:CURR"
	CmdGetStatus      = ":SOUR:STAT:BLOC?"
	CmdReturnLocal    = ":SYST:LOCAL ON"
)

// MaxRampSeconds is exclusive.
const MaxRampSeconds = 99.0

// Capabilities is what the controller remembers from the last good status frame.
type Capabilities struct {
	Model        string  `json:"model"`
	SerialNumber string  `json:"serialNumber"`
	MaxVoltage   float64 `json:"maxVoltage"`
	MaxCurrent   float64 `json:"maxCurrent"`
}

// Sorensen drives a DCS-M9 supply through a Session.
type Sorensen struct {
	mu     sync.Mutex
	sess   *Session
	logger *slog.Logger

	caps  Capabilities
	known bool
}

func NewSorensen(sess *Session, logger *slog.Logger) *Sorensen {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sorensen{sess: sess, logger: logger}
}

// Session returns the transport the controller drives.
func (s *Sorensen) Session() *Session { return s.sess }

// Connect opens the port when needed and refreshes the cached capabilities.
// The result reflects only whether the port is open; a missing status frame
// is logged, not returned.
func (s *Sorensen) Connect() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sess.Open(); err != nil {
		return false, err
	}
	if _, err := s.statusLocked(); err != nil {
		s.logger.Warn("status refresh on connect failed", slog.Any("err", err))
	}
	return s.sess.IsOpen(), nil
}

func (s *Sorensen) Disconnect(returnToLocal bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.Close(returnToLocal)
}

func (s *Sorensen) IsConnected() bool { return s.sess.IsOpen() }

func (s *Sorensen) GetIdentification() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, err := s.sess.Exchange(CmdIdentify)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp), nil
}

func (s *Sorensen) GetOutputVoltage() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryFloatLocked(CmdMeasureVoltage)
}

func (s *Sorensen) GetOutputCurrent() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryFloatLocked(CmdMeasureCurrent)
}

func (s *Sorensen) queryFloatLocked(cmd string) (float64, error) {
	resp, err := s.sess.Exchange(cmd)
	if err != nil && !errors.Is(err, ErrNoResponse) {
		return 0, err
	}
	text := strings.TrimSpace(resp)
	if text == "" {
		return 0, &ParseError{Command: cmd, Text: text, Err: ErrNoResponse}
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, &ParseError{Command: cmd, Text: text, Err: err}
	}
	return v, nil
}

// SetOutputVoltage sends a new voltage setpoint. A nil error means the
// command was written, not that the supply applied it.
func (s *Sorensen) SetOutputVoltage(volts float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("voltage", volts, s.caps.MaxVoltage); err != nil {
		return err
	}
	return s.sess.Send(CmdSetVoltage + " " + formatFixed(volts, 3))
}

// SetOutputVoltageRamp ramps the output to volts over seconds (0 <= seconds < 99).
func (s *Sorensen) SetOutputVoltageRamp(volts, seconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("voltage", volts, s.caps.MaxVoltage); err != nil {
		return err
	}
	if !(seconds >= 0 && seconds < MaxRampSeconds) {
		return &SetpointError{Quantity: "ramp time", Value: seconds, Max: MaxRampSeconds, Reason: "out of range"}
	}
	return s.sess.Send(CmdSetVoltageRamp + " " + formatFixed(volts, 3) + " " + formatFixed(seconds, 1))
}

func (s *Sorensen) SetOutputCurrent(amps float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("current", amps, s.caps.MaxCurrent); err != nil {
		return err
	}
	return s.sess.Send(CmdSetCurrent + " " + formatFixed(amps, 3))
}

func (s *Sorensen) checkLocked(quantity string, value, max float64) error {
	if !s.known {
		return &SetpointError{Quantity: quantity, Value: value, Reason: "device limits unknown"}
	}
	// written so that NaN fails
	if !(value >= 0 && value <= max) {
		return &SetpointError{Quantity: quantity, Value: value, Max: max, Reason: "out of range"}
	}
	return nil
}

// GetStatus reads and decodes the block status. On success the cached
// capabilities are replaced; on any failure they are left as they were.
func (s *Sorensen) GetStatus() (*models.DeviceStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Sorensen) statusLocked() (*models.DeviceStatus, error) {
	resp, err := s.sess.Exchange(CmdGetStatus)
	if err != nil && !errors.Is(err, ErrNoResponse) {
		return nil, err
	}
	st, err := ParseStatus(resp)
	if err != nil {
		s.logger.Warn("unusable status frame", slog.String("resp", strings.TrimSpace(resp)), slog.Any("err", err))
		return nil, err
	}
	s.caps = Capabilities{
		Model:        st.Model,
		SerialNumber: st.SerialNumber,
		MaxVoltage:   st.VoltageCapability,
		MaxCurrent:   st.CurrentCapability,
	}
	s.known = true
	return st, nil
}

// Capabilities returns the cache without touching the device.
func (s *Sorensen) Capabilities() (Capabilities, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps, s.known
}

func (s *Sorensen) GetModel(forceUpdate bool) (string, error) {
	caps, err := s.cached(forceUpdate)
	return caps.Model, err
}

func (s *Sorensen) GetSerialNumber(forceUpdate bool) (string, error) {
	caps, err := s.cached(forceUpdate)
	return caps.SerialNumber, err
}

func (s *Sorensen) GetMaxVoltage(forceUpdate bool) (float64, error) {
	caps, err := s.cached(forceUpdate)
	return caps.MaxVoltage, err
}

func (s *Sorensen) GetMaxCurrent(forceUpdate bool) (float64, error) {
	caps, err := s.cached(forceUpdate)
	return caps.MaxCurrent, err
}

// cached refreshes when the cache is empty or forceUpdate is set. A failed
// forced refresh still returns the previous values.
func (s *Sorensen) cached(forceUpdate bool) (Capabilities, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.known && !forceUpdate {
		return s.caps, nil
	}
	if _, err := s.statusLocked(); err != nil && !s.known {
		return Capabilities{}, fmt.Errorf("refresh capabilities: %w", err)
	}
	return s.caps, nil
}

func formatFixed(v float64, digits int) string {
	return strconv.FormatFloat(v, 'f', digits, 64)
}
