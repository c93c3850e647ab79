package modern

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

type SampleUpdate struct {
	Done    int
	Target  int
	Voltage float64
	Current float64
	Err     error
}

// Stats summarises one measured quantity.
type Stats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

type OutputStats struct {
	Samples int   `json:"samples"`
	Failed  int   `json:"failed"`
	Voltage Stats `json:"voltage"`
	Current Stats `json:"current"`
}

// SampleOutputs reads voltage and current n times, interval apart, and
// summarises the readings. Readings that fail are counted, not fatal.
func SampleOutputs(ctx context.Context, s *Session, n int, interval time.Duration, onUpdate func(SampleUpdate)) (*OutputStats, error) {
	if s == nil || s.Supply == nil {
		return nil, fmt.Errorf("not connected")
	}
	if n <= 0 {
		return nil, fmt.Errorf("samples must be > 0")
	}

	volts := make([]float64, 0, n)
	amps := make([]float64, 0, n)
	failed := 0
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		v, err := s.Supply.GetOutputVoltage()
		var c float64
		if err == nil {
			c, err = s.Supply.GetOutputCurrent()
		}
		if err != nil {
			failed++
		} else {
			volts = append(volts, v)
			amps = append(amps, c)
		}
		if onUpdate != nil {
			onUpdate(SampleUpdate{Done: i + 1, Target: n, Voltage: v, Current: c, Err: err})
		}
		if i < n-1 && interval > 0 {
			time.Sleep(interval)
		}
	}
	if len(volts) == 0 {
		return nil, fmt.Errorf("no readable samples out of %d", n)
	}
	return &OutputStats{
		Samples: len(volts),
		Failed:  failed,
		Voltage: summarise(volts),
		Current: summarise(amps),
	}, nil
}

func summarise(x []float64) Stats {
	mean, std := stat.MeanStdDev(x, nil)
	if len(x) < 2 {
		std = 0
	}
	return Stats{Mean: mean, StdDev: std, Min: floats.Min(x), Max: floats.Max(x)}
}
