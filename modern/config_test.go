package modern

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/CK6170/Sorensen-go/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadParametersJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dcs.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"SERIAL":{"PORT":"/dev/ttyUSB3","DELAY":5},"LIMITS":{"VOLTAGE":12},"DEBUG":true}`), 0644))

	p, err := LoadParameters(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB3", p.SERIAL.PORT)
	assert.Equal(t, 19200, p.SERIAL.BAUDRATE)
	assert.Equal(t, 100, p.SERIAL.TIMEOUT)
	assert.Equal(t, 5, p.SERIAL.DELAY)
	assert.Equal(t, 500, p.POLL)
	assert.Equal(t, 12.0, p.LIMITS.VOLTAGE)
	assert.True(t, p.DEBUG)
}

func TestLoadParametersYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dcs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("SERIAL:\n  PORT: COM4\n  BAUDRATE: 9600\n  TIMEOUT: 75\nPOLL: 250\n"), 0644))

	p, err := LoadParameters(path)
	require.NoError(t, err)
	assert.Equal(t, "COM4", p.SERIAL.PORT)
	assert.Equal(t, 9600, p.SERIAL.BAUDRATE)
	assert.Equal(t, 75, p.SERIAL.TIMEOUT)
	assert.Equal(t, 250, p.POLL)
	assert.Nil(t, p.LIMITS)
}

func TestDecodeParametersErrors(t *testing.T) {
	tests := []struct {
		name string
		file string
		raw  string
	}{
		{name: "missing serial", file: "a.json", raw: `{"POLL":100}`},
		{name: "bad json", file: "a.json", raw: `{`},
		{name: "bad yaml", file: "a.yml", raw: "SERIAL: [\n"},
		{name: "negative limit", file: "a.json", raw: `{"SERIAL":{},"LIMITS":{"CURRENT":-1}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeParameters(tt.file, []byte(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestPersistParametersRoundTrip(t *testing.T) {
	for _, name := range []string{"dcs.json", "dcs.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			in := &models.PARAMETERS{SERIAL: &models.SERIAL{PORT: "/dev/ttyACM0", BAUDRATE: 19200, TIMEOUT: 125}, POLL: 1000}
			require.NoError(t, PersistParameters(path, in))

			out, err := LoadParameters(path)
			require.NoError(t, err)
			assert.Equal(t, in, out)
		})
	}
}

func TestEnsureSerialPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dcs.json")
	p := &models.PARAMETERS{SERIAL: &models.SERIAL{}}

	changed, err := ensureSerialPort(path, p, true, func(*models.PARAMETERS) string { return "/dev/ttyUSB9" })
	require.NoError(t, err)
	assert.True(t, changed)

	saved, err := LoadParameters(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB9", saved.SERIAL.PORT)

	changed, err = ensureSerialPort(path, p, true, func(*models.PARAMETERS) string { return "unused" })
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = ensureSerialPort(path, &models.PARAMETERS{SERIAL: &models.SERIAL{}}, false, func(*models.PARAMETERS) string { return "" })
	assert.Error(t, err)
}

func TestSnapshotPath(t *testing.T) {
	at := mustTime(t, "2026-10-19T08:30:05Z")
	assert.Equal(t, "bench_status_20261019-083005.json", SnapshotPath("bench.json", at))
	assert.Equal(t, "bench_status_20261019-083005.json", SnapshotPath("bench.YAML", at))
	assert.Equal(t, "bench_status_20261019-083005.json", SnapshotPath("bench", at))
}
