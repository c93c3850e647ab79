package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/CK6170/Sorensen-go/modern"
	"github.com/CK6170/Sorensen-go/ui"
)

func main() {
	var (
		configPath = flag.String("config", "dcs.json", "path to config (.json or .yaml)")
		setV       = flag.Float64("volts", -1, "voltage setpoint to apply (negative = leave)")
		setI       = flag.Float64("amps", -1, "current setpoint to apply (negative = leave)")
		monitor    = flag.Bool("monitor", false, "poll status until q or Esc is pressed")
		save       = flag.Bool("save", false, "save a status snapshot next to the config")
		keepRemote = flag.Bool("remote", false, "leave the supply in remote mode on exit")
	)
	flag.Parse()

	p, err := modern.LoadParameters(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ui.Debugf(p.DEBUG, "Loaded config: %s (DEBUG=%v)\n", *configPath, p.DEBUG)

	if changed, err := modern.EnsureSerialPort(*configPath, p, true); err != nil {
		log.Fatal(err)
	} else if changed {
		ui.Debugf(p.DEBUG, "Detected serial port: %s (saved to config)\n", p.SERIAL.PORT)
	}

	var logger *slog.Logger
	if p.DEBUG {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	sess, err := modern.Connect(p, logger)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer func() {
		if err := sess.Close(!*keepRemote); err != nil {
			log.Printf("disconnect: %v", err)
		}
	}()

	if err := run(sess, *configPath, *setV, *setI, *monitor, *save); err != nil {
		log.Print(err)
	}
}

func run(sess *modern.Session, configPath string, volts, amps float64, monitor, save bool) error {
	model, err := sess.Supply.GetModel(false)
	if err != nil {
		return fmt.Errorf("model: %w", err)
	}
	serialNumber, _ := sess.Supply.GetSerialNumber(false)
	maxV, _ := sess.Supply.GetMaxVoltage(false)
	maxI, _ := sess.Supply.GetMaxCurrent(false)
	ui.Greenf("Model: %s\n", model)
	ui.Greenf("Serial Number: %s\n", serialNumber)
	fmt.Printf("Limits: %.3f V / %.3f A\n", maxV, maxI)

	if volts >= 0 {
		if err := modern.ApplyVoltage(sess, volts); err != nil {
			return err
		}
	}
	if amps >= 0 {
		if err := modern.ApplyCurrent(sess, amps); err != nil {
			return err
		}
	}

	snap := modern.ReadSnapshot(sess)
	printSnapshot(snap)
	if save {
		path := modern.SnapshotPath(configPath, snap.At)
		if err := modern.SaveSnapshotJSON(path, snap); err != nil {
			return err
		}
		fmt.Printf("Saved %s\n", path)
	}
	if !monitor {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	keys := ui.StartKeyEvents()
	ui.DrainKeys()
	go func() {
		for k := range keys {
			if k == 'q' || k == 'Q' || k == ui.KeyEsc {
				cancel()
				return
			}
		}
	}()
	err = modern.PollStatus(ctx, sess, time.Duration(sess.Params.POLL)*time.Millisecond, func(s modern.Snapshot) {
		ui.ClearScreen()
		fmt.Printf("%s  (q/Esc to stop)\n\n", model)
		printSnapshot(s)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printSnapshot(s modern.Snapshot) {
	if s.Voltage != nil {
		fmt.Printf("Voltage: %.3f V\n", *s.Voltage)
	}
	if s.Current != nil {
		fmt.Printf("Current: %.3f A\n", *s.Current)
	}
	if s.Status != nil {
		fmt.Printf("Mode: %s  fault=%d error=%d\n", s.Status.StatusRegister, s.Status.FaultRegister, s.Status.ErrorRegister)
		if s.Status.OverVoltage || s.Status.OverTemperature {
			ui.Warningf("FAULT: over-voltage=%v over-temperature=%v\n", s.Status.OverVoltage, s.Status.OverTemperature)
		}
	}
	if s.Err != "" {
		ui.Warningf("%s\n", s.Err)
	}
}
