package serial

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/CK6170/Sorensen-go/models"
)

// AutoDetectPort scans common serial ports for one answering *IDN? like a DCS supply.
func AutoDetectPort(parameters *models.PARAMETERS) string {
	baud := models.DefaultBaudRate
	if parameters != nil && parameters.SERIAL != nil && parameters.SERIAL.BAUDRATE > 0 {
		baud = parameters.SERIAL.BAUDRATE
	}
	if runtime.GOOS == "windows" {
		// Scan COM1..COM64
		for i := 1; i <= 64; i++ {
			portName := fmt.Sprintf("COM%d", i)
			if TestPort(portName, baud) {
				return portName
			}
		}
		return ""
	}

	// Unix-like: try common device paths.
	candidates := make([]string, 0, 32)
	for _, pat := range []string{"/dev/ttyUSB*", "/dev/ttyACM*", "/dev/ttyS*", "/dev/cu.*"} {
		matches, _ := filepath.Glob(pat)
		for _, m := range matches {
			if _, err := os.Stat(m); err == nil {
				candidates = append(candidates, m)
			}
		}
	}
	for _, portName := range candidates {
		if TestPort(portName, baud) {
			return portName
		}
	}
	return ""
}

// TestPort opens name and checks the identification reply.
func TestPort(name string, baud int) bool {
	return testPortWith(name, baud, OpenTarm)
}

func testPortWith(name string, baud int, opener Opener) bool {
	sess := NewSessionWithOpener(&models.SERIAL{PORT: name, BAUDRATE: baud}, opener, nil)
	if err := sess.Open(); err != nil {
		return false
	}
	defer func() { _, _ = sess.Close(false) }()

	resp, err := sess.Exchange(CmdIdentify)
	if err != nil {
		return false
	}
	return LooksLikeSorensen(resp)
}

// LooksLikeSorensen reports whether an identification string names a DCS supply.
func LooksLikeSorensen(idn string) bool {
	up := strings.ToUpper(idn)
	return strings.Contains(up, "SORENSEN") || strings.Contains(up, "DCS")
}
