package serial

import (
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	goserial "github.com/tarm/serial"
)

// fakePort answers commands from a fixed reply table, the way the supply
// answers over the wire. Unknown commands get no reply (a read timeout).
type fakePort struct {
	mu       sync.Mutex
	replies  map[string]string
	written  []string
	writeAt  []time.Time
	pending  []byte
	chunk    int
	flushes  int
	closed   bool
	writeErr error
}

func newFakePort(replies map[string]string) *fakePort {
	if replies == nil {
		replies = map[string]string{}
	}
	return &fakePort{replies: replies}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	if p.closed {
		return 0, errors.New("write on closed port")
	}
	cmd := strings.TrimSuffix(string(b), "\r")
	p.written = append(p.written, cmd)
	p.writeAt = append(p.writeAt, time.Now())
	if r, ok := p.replies[cmd]; ok {
		p.pending = append(p.pending, r...)
	}
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return 0, io.EOF
	}
	max := len(b)
	if p.chunk > 0 && p.chunk < max {
		max = p.chunk
	}
	n := copy(b[:max], p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *fakePort) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushes++
	p.pending = nil
	return nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.written...)
}

func (p *fakePort) writeTimes() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Time(nil), p.writeAt...)
}

func (p *fakePort) setReply(cmd, reply string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies[cmd] = reply
}

// inject stages bytes that arrive without being asked for.
func (p *fakePort) inject(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, s...)
}

func openerFor(port io.ReadWriteCloser) Opener {
	return func(*goserial.Config) (io.ReadWriteCloser, error) { return port, nil }
}
