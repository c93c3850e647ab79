package modern

import (
	"context"
	"fmt"
	"math"
	"time"
)

type RampStage string

const (
	RampStageSent     RampStage = "sent"
	RampStageSettling RampStage = "settling"
	RampStageDone     RampStage = "done"
)

type RampProgress struct {
	Stage    RampStage
	Target   float64
	Measured float64
	Elapsed  time.Duration
	Message  string
}

var (
	rampPollInterval = 250 * time.Millisecond
	rampGrace        = 2 * time.Second
)

// RampVoltage starts a voltage ramp and waits until the measured output is
// within tolerance of target. It gives up seconds+grace after the command.
// Unreadable measurements while settling are skipped.
func RampVoltage(ctx context.Context, s *Session, target, seconds, tolerance float64, onProgress func(RampProgress)) (float64, error) {
	if tolerance <= 0 {
		return 0, fmt.Errorf("tolerance must be > 0")
	}
	if err := ApplyVoltageRamp(s, target, seconds); err != nil {
		return 0, err
	}
	return WaitForVoltage(ctx, s, target, seconds, tolerance, onProgress)
}

// WaitForVoltage polls the measured output after a ramp command was sent.
func WaitForVoltage(ctx context.Context, s *Session, target, seconds, tolerance float64, onProgress func(RampProgress)) (float64, error) {
	if s == nil || s.Supply == nil {
		return 0, fmt.Errorf("not connected")
	}
	if tolerance <= 0 {
		return 0, fmt.Errorf("tolerance must be > 0")
	}

	emit := func(pr RampProgress) {
		if onProgress != nil {
			onProgress(pr)
		}
	}

	start := time.Now()
	deadline := start.Add(time.Duration(seconds*float64(time.Second)) + rampGrace)
	emit(RampProgress{Stage: RampStageSent, Target: target, Message: fmt.Sprintf("Ramping to %.3f V over %.1f s", target, seconds)})

	measured := math.NaN()
	t := time.NewTicker(rampPollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return measured, ctx.Err()
		case now := <-t.C:
			v, err := s.Supply.GetOutputVoltage()
			if err == nil {
				measured = v
				if math.Abs(v-target) <= tolerance {
					emit(RampProgress{Stage: RampStageDone, Target: target, Measured: v, Elapsed: now.Sub(start), Message: "Ramp complete"})
					return v, nil
				}
				emit(RampProgress{Stage: RampStageSettling, Target: target, Measured: v, Elapsed: now.Sub(start)})
			}
			if now.After(deadline) {
				return measured, fmt.Errorf("output did not reach %.3f V within %.1f s (last %.3f V)", target, seconds, measured)
			}
		}
	}
}
