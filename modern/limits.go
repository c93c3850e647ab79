package modern

import (
	"fmt"

	serialpkg "github.com/CK6170/Sorensen-go/serial"
)

// Configured LIMITS only tighten what the supply reports; the controller
// still checks its own cached maximum afterwards.

func softLimit(s *Session, quantity string, value float64) error {
	if s.Params == nil || s.Params.LIMITS == nil {
		return nil
	}
	limit := s.Params.LIMITS.VOLTAGE
	if quantity == "current" {
		limit = s.Params.LIMITS.CURRENT
	}
	if limit > 0 && value > limit {
		return &serialpkg.SetpointError{Quantity: quantity, Value: value, Max: limit, Reason: "above configured limit"}
	}
	return nil
}

func ApplyVoltage(s *Session, volts float64) error {
	if s == nil || s.Supply == nil {
		return fmt.Errorf("not connected")
	}
	if err := softLimit(s, "voltage", volts); err != nil {
		return err
	}
	return s.Supply.SetOutputVoltage(volts)
}

func ApplyCurrent(s *Session, amps float64) error {
	if s == nil || s.Supply == nil {
		return fmt.Errorf("not connected")
	}
	if err := softLimit(s, "current", amps); err != nil {
		return err
	}
	return s.Supply.SetOutputCurrent(amps)
}

func ApplyVoltageRamp(s *Session, volts, seconds float64) error {
	if s == nil || s.Supply == nil {
		return fmt.Errorf("not connected")
	}
	if err := softLimit(s, "voltage", volts); err != nil {
		return err
	}
	return s.Supply.SetOutputVoltageRamp(volts, seconds)
}
