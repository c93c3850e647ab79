package serial

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"testing"

	"github.com/CK6170/Sorensen-go/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	goserial "github.com/tarm/serial"
)

const scenarioFrame = "1,1,0,3,0,0,0,0,SN123,20.000,5.000,0,0,0,0,0,0,0,0,0,0,0,MODELX\r\n"

func newTestSorensen(t *testing.T, replies map[string]string) (*Sorensen, *fakePort) {
	t.Helper()
	port := newFakePort(replies)
	sess := NewSessionWithOpener(&models.SERIAL{PORT: "/dev/ttyFAKE0"}, openerFor(port), nil)
	return NewSorensen(sess, nil), port
}

func connected(t *testing.T, replies map[string]string) (*Sorensen, *fakePort) {
	t.Helper()
	s, port := newTestSorensen(t, replies)
	ok, err := s.Connect()
	require.NoError(t, err)
	require.True(t, ok)
	return s, port
}

func TestConnectRefreshesCapabilities(t *testing.T) {
	s, port := connected(t, map[string]string{CmdGetStatus: scenarioFrame})

	caps, known := s.Capabilities()
	require.True(t, known)
	assert.Equal(t, Capabilities{Model: "MODELX", SerialNumber: "SN123", MaxVoltage: 20, MaxCurrent: 5}, caps)
	assert.Equal(t, []string{CmdGetStatus}, port.commands())
}

func TestConnectWithoutStatusStillConnects(t *testing.T) {
	s, _ := connected(t, nil)

	_, known := s.Capabilities()
	assert.False(t, known)
	assert.True(t, s.IsConnected())
}

func TestConnectOpenFailure(t *testing.T) {
	sess := NewSessionWithOpener(&models.SERIAL{PORT: "/dev/nope"}, func(*goserial.Config) (io.ReadWriteCloser, error) {
		return nil, errors.New("busy")
	}, nil)
	s := NewSorensen(sess, nil)

	ok, err := s.Connect()
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrConnection)
}

func TestConnectTwiceOpensOnce(t *testing.T) {
	s, port := connected(t, map[string]string{CmdGetStatus: scenarioFrame})
	ok, err := s.Connect()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{CmdGetStatus, CmdGetStatus}, port.commands())
}

func TestDisconnect(t *testing.T) {
	s, port := connected(t, nil)

	closed, err := s.Disconnect(true)
	require.NoError(t, err)
	assert.True(t, closed)
	assert.Equal(t, CmdReturnLocal, port.commands()[len(port.commands())-1])

	closed, err = s.Disconnect(true)
	require.NoError(t, err)
	assert.False(t, closed)
}

func TestGetIdentification(t *testing.T) {
	s, _ := connected(t, map[string]string{CmdIdentify: "  SORENSEN, DCS20-50M9, 1234, 2.01 \r\n"})

	idn, err := s.GetIdentification()
	require.NoError(t, err)
	assert.Equal(t, "SORENSEN, DCS20-50M9, 1234, 2.01", idn)
}

func TestGetIdentificationTimeout(t *testing.T) {
	s, _ := connected(t, nil)

	_, err := s.GetIdentification()
	assert.ErrorIs(t, err, ErrNoResponse)
}

func TestGetOutputMeasurements(t *testing.T) {
	s, _ := connected(t, map[string]string{
		CmdMeasureVoltage: "12.003\r\n",
		CmdMeasureCurrent: " 0.517\r\n",
	})

	v, err := s.GetOutputVoltage()
	require.NoError(t, err)
	assert.Equal(t, 12.003, v)

	i, err := s.GetOutputCurrent()
	require.NoError(t, err)
	assert.Equal(t, 0.517, i)
}

func TestGetOutputVoltageTimeoutIsParseError(t *testing.T) {
	s, _ := connected(t, nil)

	v, err := s.GetOutputVoltage()
	assert.Zero(t, v)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, CmdMeasureVoltage, perr.Command)
	assert.ErrorIs(t, err, ErrNoResponse)
}

func TestGetOutputCurrentMalformed(t *testing.T) {
	s, _ := connected(t, map[string]string{CmdMeasureCurrent: "E-113\r\n"})

	_, err := s.GetOutputCurrent()
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "E-113", perr.Text)
	assert.NotErrorIs(t, err, ErrNoResponse)
}

func TestMeasureNotConnected(t *testing.T) {
	s, _ := newTestSorensen(t, nil)

	_, err := s.GetOutputVoltage()
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestSetOutputVoltage(t *testing.T) {
	tests := []struct {
		name  string
		volts float64
		want  string
	}{
		{name: "three decimals", volts: 3.2, want: ":SOUR:VOLT 3.200"},
		{name: "zero", volts: 0, want: ":SOUR:VOLT 0.000"},
		{name: "at max", volts: 20, want: ":SOUR:VOLT 20.000"},
		{name: "rounds", volts: 3.21049, want: ":SOUR:VOLT 3.210"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, port := connected(t, map[string]string{CmdGetStatus: scenarioFrame})
			require.NoError(t, s.SetOutputVoltage(tt.volts))
			cmds := port.commands()
			assert.Equal(t, tt.want, cmds[len(cmds)-1])
		})
	}
}

func TestSetOutputVoltageRejected(t *testing.T) {
	tests := []struct {
		name  string
		volts float64
	}{
		{name: "negative", volts: -0.001},
		{name: "above max", volts: 20.001},
		{name: "nan", volts: math.NaN()},
		{name: "inf", volts: math.Inf(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, port := connected(t, map[string]string{CmdGetStatus: scenarioFrame})
			err := s.SetOutputVoltage(tt.volts)
			assert.ErrorIs(t, err, ErrRejectedSetpoint)
			assert.Equal(t, []string{CmdGetStatus}, port.commands())
		})
	}
}

func TestSetpointsFailClosedWithoutCapabilities(t *testing.T) {
	s, port := connected(t, nil)

	var serr *SetpointError
	require.ErrorAs(t, s.SetOutputVoltage(1), &serr)
	assert.Equal(t, "device limits unknown", serr.Reason)
	assert.ErrorIs(t, s.SetOutputCurrent(0.1), ErrRejectedSetpoint)
	assert.ErrorIs(t, s.SetOutputVoltageRamp(1, 1), ErrRejectedSetpoint)
	assert.Equal(t, []string{CmdGetStatus}, port.commands())
}

func TestSetOutputCurrent(t *testing.T) {
	s, port := connected(t, map[string]string{CmdGetStatus: scenarioFrame})

	require.NoError(t, s.SetOutputCurrent(0.25))
	assert.Equal(t, ":SOUR:CURR 0.250", port.commands()[1])

	err := s.SetOutputCurrent(10.0)
	var serr *SetpointError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "current", serr.Quantity)
	assert.Equal(t, 5.0, serr.Max)
	assert.Len(t, port.commands(), 2)
}

func TestSetOutputVoltageRamp(t *testing.T) {
	tests := []struct {
		name    string
		volts   float64
		seconds float64
		want    string
		reject  bool
	}{
		{name: "integer seconds", volts: 5, seconds: 2, want: ":SOUR:VOLT:RAMP 5.000 2.0"},
		{name: "zero seconds", volts: 1.5, seconds: 0, want: ":SOUR:VOLT:RAMP 1.500 0.0"},
		{name: "just under limit", volts: 20, seconds: 98.9, want: ":SOUR:VOLT:RAMP 20.000 98.9"},
		{name: "limit is exclusive", volts: 5, seconds: 99, reject: true},
		{name: "negative seconds", volts: 5, seconds: -1, reject: true},
		{name: "voltage above max", volts: 25, seconds: 1, reject: true},
		{name: "nan seconds", volts: 5, seconds: math.NaN(), reject: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, port := connected(t, map[string]string{CmdGetStatus: scenarioFrame})
			err := s.SetOutputVoltageRamp(tt.volts, tt.seconds)
			cmds := port.commands()
			if tt.reject {
				assert.ErrorIs(t, err, ErrRejectedSetpoint)
				assert.Len(t, cmds, 1)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cmds[len(cmds)-1])
		})
	}
}

func TestGetStatusRoundTrip(t *testing.T) {
	s, _ := newTestSorensen(t, map[string]string{CmdGetStatus: sampleFrame + "\r\n"})
	require.NoError(t, s.Session().Open())

	st, err := s.GetStatus()
	require.NoError(t, err)

	maxV, err := s.GetMaxVoltage(false)
	require.NoError(t, err)
	maxI, err := s.GetMaxCurrent(false)
	require.NoError(t, err)
	assert.Equal(t, st.VoltageCapability, maxV)
	assert.Equal(t, st.CurrentCapability, maxI)
}

func TestGetStatusMalformedKeepsCache(t *testing.T) {
	s, port := connected(t, map[string]string{CmdGetStatus: scenarioFrame})

	for _, bad := range []string{"1,2,3\r\n", "", "1,1,0,3,0,0,0,0,SN9,99,9,0,0,0,0,0,0,0,0,0,0,0,0,OTHER\r\n"} {
		port.setReply(CmdGetStatus, bad)
		st, err := s.GetStatus()
		assert.Nil(t, st)
		assert.ErrorIs(t, err, ErrNoStatus)

		caps, known := s.Capabilities()
		assert.True(t, known)
		assert.Equal(t, Capabilities{Model: "MODELX", SerialNumber: "SN123", MaxVoltage: 20, MaxCurrent: 5}, caps)
	}
}

func TestGetStatusBadFieldKeepsCache(t *testing.T) {
	s, port := connected(t, map[string]string{CmdGetStatus: scenarioFrame})
	port.setReply(CmdGetStatus, "1,1,0,3,0,0,0,0,SN9,abc,9,0,0,0,0,0,0,0,0,0,0,0,OTHER\r\n")

	_, err := s.GetStatus()
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	maxV, err := s.GetMaxVoltage(false)
	require.NoError(t, err)
	assert.Equal(t, 20.0, maxV)
}

func TestAccessorsRefreshWhenUnset(t *testing.T) {
	s, port := connected(t, nil)
	port.setReply(CmdGetStatus, scenarioFrame)

	model, err := s.GetModel(false)
	require.NoError(t, err)
	assert.Equal(t, "MODELX", model)

	sn, err := s.GetSerialNumber(false)
	require.NoError(t, err)
	assert.Equal(t, "SN123", sn)

	// one status at connect, one for the first accessor, none for the cached one
	assert.Equal(t, []string{CmdGetStatus, CmdGetStatus}, port.commands())
}

func TestAccessorsStillUnset(t *testing.T) {
	s, _ := connected(t, nil)

	model, err := s.GetModel(false)
	assert.Empty(t, model)
	assert.ErrorIs(t, err, ErrNoStatus)

	maxI, err := s.GetMaxCurrent(true)
	assert.Zero(t, maxI)
	assert.ErrorIs(t, err, ErrNoStatus)
}

func TestAccessorsForceUpdate(t *testing.T) {
	s, port := connected(t, map[string]string{CmdGetStatus: scenarioFrame})
	port.setReply(CmdGetStatus, "1,1,0,1,0,0,0,0,SN124,30.000,2.500,0,0,0,0,0,0,0,0,0,0,0,MODELY\r\n")

	maxV, err := s.GetMaxVoltage(false)
	require.NoError(t, err)
	assert.Equal(t, 20.0, maxV)

	maxV, err = s.GetMaxVoltage(true)
	require.NoError(t, err)
	assert.Equal(t, 30.0, maxV)
}

func TestForcedRefreshFailureReturnsStale(t *testing.T) {
	s, port := connected(t, map[string]string{CmdGetStatus: scenarioFrame})
	port.setReply(CmdGetStatus, "")

	model, err := s.GetModel(true)
	require.NoError(t, err)
	assert.Equal(t, "MODELX", model)
}

func TestConcurrentExchanges(t *testing.T) {
	s, port := connected(t, map[string]string{
		CmdGetStatus:      scenarioFrame,
		CmdMeasureVoltage: "12.500\r\n",
		CmdMeasureCurrent: "3.250\r\n",
	})
	port.chunk = 3

	const rounds = 25
	errs := make(chan error, 4*rounds)
	var wg sync.WaitGroup
	run := func(check func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				if err := check(); err != nil {
					errs <- err
				}
			}
		}()
	}
	run(func() error {
		v, err := s.GetOutputVoltage()
		if err == nil && v != 12.5 {
			err = fmt.Errorf("voltage read %v", v)
		}
		return err
	})
	run(func() error {
		i, err := s.GetOutputCurrent()
		if err == nil && i != 3.25 {
			err = fmt.Errorf("current read %v", i)
		}
		return err
	})
	run(func() error {
		st, err := s.GetStatus()
		if err == nil && st.Model != "MODELX" {
			err = fmt.Errorf("status model %q", st.Model)
		}
		return err
	})
	run(func() error {
		v, err := s.GetMaxVoltage(true)
		if err == nil && v != 20 {
			err = fmt.Errorf("max voltage %v", v)
		}
		return err
	})
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, port.commands(), 1+4*rounds)
}
