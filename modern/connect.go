package modern

import (
	"fmt"
	"log/slog"

	"github.com/CK6170/Sorensen-go/models"
	serialpkg "github.com/CK6170/Sorensen-go/serial"
)

type Session struct {
	Params *models.PARAMETERS
	Supply *serialpkg.Sorensen
}

func Connect(p *models.PARAMETERS, logger *slog.Logger) (*Session, error) {
	return ConnectWith(p, serialpkg.OpenTarm, logger)
}

// ConnectWith opens the supply through opener and reads its capabilities.
func ConnectWith(p *models.PARAMETERS, opener serialpkg.Opener, logger *slog.Logger) (*Session, error) {
	if p == nil || p.SERIAL == nil {
		return nil, fmt.Errorf("missing SERIAL section")
	}
	supply := serialpkg.NewSorensen(serialpkg.NewSessionWithOpener(p.SERIAL, opener, logger), logger)
	ok, err := supply.Connect()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("port %s did not open", p.SERIAL.PORT)
	}
	return &Session{Params: p, Supply: supply}, nil
}

// Close disconnects, handing the supply back to the front panel when returnToLocal is set.
func (s *Session) Close(returnToLocal bool) error {
	if s == nil || s.Supply == nil {
		return nil
	}
	_, err := s.Supply.Disconnect(returnToLocal)
	return err
}

// ProbeIdentification checks that something answering like a DCS supply is on the port.
func ProbeIdentification(s *Session) (string, error) {
	if s == nil || s.Supply == nil {
		return "", fmt.Errorf("not connected")
	}
	idn, err := s.Supply.GetIdentification()
	if err != nil {
		return "", fmt.Errorf("identification probe: %w", err)
	}
	if !serialpkg.LooksLikeSorensen(idn) {
		return idn, fmt.Errorf("unexpected identification %q", idn)
	}
	return idn, nil
}
