package models

// SERIAL describes the RS-232 link to the supply.
// TIMEOUT and DELAY are in milliseconds.
type SERIAL struct {
	PORT     string `json:"PORT" yaml:"PORT"`
	BAUDRATE int    `json:"BAUDRATE" yaml:"BAUDRATE"`
	TIMEOUT  int    `json:"TIMEOUT" yaml:"TIMEOUT"`
	DELAY    int    `json:"DELAY" yaml:"DELAY"`
}

// LIMITS are optional operator soft limits. Zero means no limit.
type LIMITS struct {
	VOLTAGE float64 `json:"VOLTAGE" yaml:"VOLTAGE"`
	CURRENT float64 `json:"CURRENT" yaml:"CURRENT"`
}

type PARAMETERS struct {
	SERIAL *SERIAL `json:"SERIAL" yaml:"SERIAL"`
	LIMITS *LIMITS `json:"LIMITS,omitempty" yaml:"LIMITS,omitempty"`
	POLL   int     `json:"POLL" yaml:"POLL"`
	DEBUG  bool    `json:"DEBUG" yaml:"DEBUG"`
}

const (
	DefaultBaudRate  = 19200
	DefaultTimeoutMs = 100
	DefaultPollMs    = 500
)

// ApplyDefaults fills zero values with the DCS-M9 RS-232 defaults.
func (p *PARAMETERS) ApplyDefaults() {
	if p.SERIAL != nil {
		if p.SERIAL.BAUDRATE <= 0 {
			p.SERIAL.BAUDRATE = DefaultBaudRate
		}
		if p.SERIAL.TIMEOUT <= 0 {
			p.SERIAL.TIMEOUT = DefaultTimeoutMs
		}
		if p.SERIAL.DELAY < 0 {
			p.SERIAL.DELAY = 0
		}
	}
	if p.POLL <= 0 {
		p.POLL = DefaultPollMs
	}
}

// Clone returns a deep copy so callers can fill in values without touching a shared record.
func (p *PARAMETERS) Clone() *PARAMETERS {
	if p == nil {
		return nil
	}
	c := *p
	if p.SERIAL != nil {
		ser := *p.SERIAL
		c.SERIAL = &ser
	}
	if p.LIMITS != nil {
		lim := *p.LIMITS
		c.LIMITS = &lim
	}
	return &c
}
