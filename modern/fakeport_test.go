package modern

import (
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/CK6170/Sorensen-go/models"
	"github.com/stretchr/testify/require"
	goserial "github.com/tarm/serial"
)

const statusFrame = "1,1,0,1,0,0,0,0,E1001,20.000,5.000,0,0,0,0,0,0,0,0,0,0,0,DCS20-5M9\r\n"

// scriptedPort replays queued replies per command; the last reply repeats.
type scriptedPort struct {
	mu      sync.Mutex
	replies map[string][]string
	written []string
	pending []byte
}

func (p *scriptedPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cmd := strings.TrimSuffix(string(b), "\r")
	p.written = append(p.written, cmd)
	if q := p.replies[cmd]; len(q) > 0 {
		p.pending = append(p.pending, q[0]...)
		if len(q) > 1 {
			p.replies[cmd] = q[1:]
		}
	}
	return len(b), nil
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return 0, io.EOF
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *scriptedPort) Close() error { return nil }

func (p *scriptedPort) commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.written...)
}

func connectScripted(t *testing.T, p *models.PARAMETERS, replies map[string][]string) (*Session, *scriptedPort) {
	t.Helper()
	port := &scriptedPort{replies: replies}
	if p == nil {
		p = &models.PARAMETERS{SERIAL: &models.SERIAL{PORT: "/dev/ttyFAKE0"}}
	}
	s, err := ConnectWith(p, func(*goserial.Config) (io.ReadWriteCloser, error) { return port, nil }, nil)
	require.NoError(t, err)
	return s, port
}

