package modern

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CK6170/Sorensen-go/models"
)

// Snapshot is one polling tick. Status is nil when the frame was unusable.
type Snapshot struct {
	At      time.Time            `json:"at"`
	Status  *models.DeviceStatus `json:"status,omitempty"`
	Voltage *float64             `json:"voltage,omitempty"`
	Current *float64             `json:"current,omitempty"`
	Err     string               `json:"error,omitempty"`
}

// ReadSnapshot queries status, voltage and current. Failures are collected
// into Err rather than aborting the snapshot.
func ReadSnapshot(s *Session) Snapshot {
	snap := Snapshot{At: time.Now()}
	var errs []error
	st, err := s.Supply.GetStatus()
	if err != nil {
		errs = append(errs, fmt.Errorf("status: %w", err))
	}
	snap.Status = st
	if v, err := s.Supply.GetOutputVoltage(); err != nil {
		errs = append(errs, err)
	} else {
		snap.Voltage = &v
	}
	if c, err := s.Supply.GetOutputCurrent(); err != nil {
		errs = append(errs, err)
	} else {
		snap.Current = &c
	}
	if err := errors.Join(errs...); err != nil {
		snap.Err = err.Error()
	}
	return snap
}

// PollStatus emits a snapshot every interval until ctx is cancelled.
func PollStatus(ctx context.Context, s *Session, interval time.Duration, onSnapshot func(Snapshot)) error {
	if s == nil || s.Supply == nil {
		return fmt.Errorf("not connected")
	}
	if interval <= 0 {
		return fmt.Errorf("interval must be > 0")
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		onSnapshot(ReadSnapshot(s))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
