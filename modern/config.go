package modern

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/CK6170/Sorensen-go/models"
	serialpkg "github.com/CK6170/Sorensen-go/serial"
	"gopkg.in/yaml.v3"
)

func isYAML(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// DecodeParameters parses a config file body. name only selects the format.
func DecodeParameters(name string, raw []byte) (*models.PARAMETERS, error) {
	var p models.PARAMETERS
	if isYAML(name) {
		if err := yaml.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("yaml: %w", err)
		}
	} else if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}
	if p.SERIAL == nil {
		return nil, fmt.Errorf("missing SERIAL section in %s", name)
	}
	if p.LIMITS != nil && (p.LIMITS.VOLTAGE < 0 || p.LIMITS.CURRENT < 0) {
		return nil, fmt.Errorf("LIMITS must not be negative")
	}
	p.ApplyDefaults()
	return &p, nil
}

func LoadParameters(path string) (*models.PARAMETERS, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeParameters(path, b)
}

func PersistParameters(path string, p *models.PARAMETERS) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(p)
	} else {
		data, err = json.MarshalIndent(p, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// EnsureSerialPort auto-detects the serial port if missing and optionally persists it back
// into the original config file.
func EnsureSerialPort(configPath string, p *models.PARAMETERS, persist bool) (changed bool, err error) {
	return ensureSerialPort(configPath, p, persist, serialpkg.AutoDetectPort)
}

func ensureSerialPort(configPath string, p *models.PARAMETERS, persist bool, detect func(*models.PARAMETERS) string) (bool, error) {
	if p == nil || p.SERIAL == nil {
		return false, fmt.Errorf("missing SERIAL section")
	}
	if strings.TrimSpace(p.SERIAL.PORT) != "" {
		return false, nil
	}
	port := detect(p)
	if port == "" {
		return false, fmt.Errorf("could not auto-detect serial port")
	}
	p.SERIAL.PORT = port
	if persist {
		if err := PersistParameters(configPath, p); err != nil {
			return true, err
		}
	}
	return true, nil
}
