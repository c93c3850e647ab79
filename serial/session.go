package serial

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/CK6170/Sorensen-go/models"
	goserial "github.com/tarm/serial"
)

// MaxResponseSize bounds a single reply.
const MaxResponseSize = 200

// Opener opens the underlying port. OpenTarm is used outside of tests.
type Opener func(cfg *goserial.Config) (io.ReadWriteCloser, error)

// OpenTarm opens cfg with github.com/tarm/serial.
func OpenTarm(cfg *goserial.Config) (io.ReadWriteCloser, error) {
	port, err := goserial.OpenPort(cfg)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// Session owns one serial connection and performs strictly serialized
// write-then-read exchanges on it.
type Session struct {
	mu      sync.Mutex
	config  *goserial.Config
	timeout time.Duration
	delay   time.Duration
	opener  Opener
	port    io.ReadWriteCloser
	logger  *slog.Logger
}

// NewSession configures an 8N1 link without flow control. tarm/serial has no
// control over RTS and DTR, so those lines stay at the OS defaults after open.
func NewSession(ser *models.SERIAL, logger *slog.Logger) *Session {
	return NewSessionWithOpener(ser, OpenTarm, logger)
}

func NewSessionWithOpener(ser *models.SERIAL, opener Opener, logger *slog.Logger) *Session {
	baud := models.DefaultBaudRate
	timeout := time.Duration(models.DefaultTimeoutMs) * time.Millisecond
	var delay time.Duration
	name := ""
	if ser != nil {
		name = ser.PORT
		if ser.BAUDRATE > 0 {
			baud = ser.BAUDRATE
		}
		if ser.TIMEOUT > 0 {
			timeout = time.Duration(ser.TIMEOUT) * time.Millisecond
		}
		if ser.DELAY > 0 {
			delay = time.Duration(ser.DELAY) * time.Millisecond
		}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Session{
		config: &goserial.Config{
			Name:        name,
			Baud:        baud,
			Parity:      goserial.ParityNone,
			Size:        8,
			StopBits:    goserial.Stop1,
			ReadTimeout: timeout,
		},
		timeout: timeout,
		delay:   delay,
		opener:  opener,
		logger:  logger.With(slog.String("port", name)),
	}
}

// Name returns the configured device path.
func (s *Session) Name() string { return s.config.Name }

// Open is a no-op when the port is already open.
func (s *Session) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		return nil
	}
	if s.config.Name == "" {
		return fmt.Errorf("%w: no port configured", ErrConnection)
	}
	port, err := s.opener(s.config)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrConnection, s.config.Name, err)
	}
	s.port = port
	s.logger.Debug("port opened", slog.Int("baud", s.config.Baud), slog.Duration("timeout", s.timeout))
	return nil
}

func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port != nil
}

// Exchange waits out the inter-command delay, writes cmd followed by a
// carriage return and reads one reply line.
// The reply keeps its trailing whitespace. A reply with no bytes at all
// returns ErrNoResponse.
func (s *Session) Exchange(cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeLocked(cmd); err != nil {
		return "", err
	}
	resp, err := s.readLineLocked()
	s.logger.Debug("exchange", slog.String("cmd", cmd), slog.String("resp", resp), slog.Any("err", err))
	return resp, err
}

// Send writes cmd without waiting for a reply. Setpoint commands are not acknowledged.
func (s *Session) Send(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.writeLocked(cmd)
	s.logger.Debug("send", slog.String("cmd", cmd), slog.Any("err", err))
	return err
}

// Close optionally hands the supply back to front panel control, then closes
// the port. It reports whether a close happened.
func (s *Session) Close(returnToLocal bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return false, nil
	}
	var localErr error
	if returnToLocal {
		localErr = s.writeLocked(CmdReturnLocal)
	}
	err := s.port.Close()
	s.port = nil
	s.logger.Debug("port closed", slog.Bool("returnToLocal", returnToLocal))
	if err != nil {
		return true, fmt.Errorf("%w: close: %v", ErrConnection, err)
	}
	return true, localErr
}

func (s *Session) writeLocked(cmd string) error {
	if s.port == nil {
		return ErrNotOpen
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	// drop anything left over from an earlier reply
	if f, ok := s.port.(interface{ Flush() error }); ok {
		_ = f.Flush()
	}
	if _, err := s.port.Write([]byte(cmd + "\r")); err != nil {
		return fmt.Errorf("%w: write %q: %v", ErrConnection, cmd, err)
	}
	return nil
}

func (s *Session) readLineLocked() (string, error) {
	deadline := time.Now().Add(s.timeout)
	buf := make([]byte, MaxResponseSize)
	line := make([]byte, 0, MaxResponseSize)
	for len(line) < MaxResponseSize {
		n, err := s.port.Read(buf[:MaxResponseSize-len(line)])
		line = append(line, buf[:n]...)
		// a reply ends at CR or LF; a trailing LF is flushed before the next write
		if bytes.IndexAny(line, "\r\n") >= 0 {
			break
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return string(line), fmt.Errorf("%w: read: %v", ErrConnection, err)
		}
		// tarm/serial returns an empty read once ReadTimeout elapses
		if n == 0 || time.Now().After(deadline) {
			break
		}
	}
	if len(line) == 0 {
		return "", ErrNoResponse
	}
	return string(line), nil
}
