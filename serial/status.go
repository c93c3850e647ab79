package serial

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/CK6170/Sorensen-go/models"
)

// StatusFields is the field count of a :SOUR:STAT:BLOC? reply. The device
// does not follow its interface manual here; this is what it actually sends.
const StatusFields = 23

// ParseStatus decodes one block status reply. Anything other than exactly
// StatusFields comma separated fields yields ErrNoStatus.
func ParseStatus(line string) (*models.DeviceStatus, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) != StatusFields {
		return nil, fmt.Errorf("%w: got %d fields, want %d", ErrNoStatus, len(fields), StatusFields)
	}
	d := &frameDecoder{fields: fields}
	reg := d.register(3, "statusRegister")
	st := &models.DeviceStatus{
		ChannelNumber:     d.int(0, "channelNumber"),
		OnlineStatus:      d.int(1, "onlineStatus"),
		StatusFlags:       d.int(2, "statusFlags"),
		StatusRegister:    reg,
		AccumulatedStatus: d.int(4, "accumulatedStatus"),
		FaultMask:         d.int(5, "faultMask"),
		FaultRegister:     d.int(6, "faultRegister"),
		ErrorRegister:     d.int(7, "errorRegister"),

		ConstantVoltage: reg.Has(models.StatusCV),
		ConstantCurrent: reg.Has(models.StatusCC),
		OverVoltage:     reg.Has(models.StatusOV),
		OverTemperature: reg.Has(models.StatusOT),

		SerialNumber:           d.text(8),
		VoltageCapability:      d.float(9, "voltageCapability"),
		CurrentCapability:      d.float(10, "currentCapability"),
		OverVoltageCalibration: d.float(11, "overVoltageCalibration"),
		VoltageDACGain:         d.float(12, "voltageDacGain"),
		VoltageDACOffset:       d.float(13, "voltageDacOffset"),
		CurrentDACGain:         d.float(14, "currentDacGain"),
		CurrentDACOffset:       d.float(15, "currentDacOffset"),
		ProtectionDACGain:      d.float(16, "protectionDacGain"),
		ProtectionDACOffset:    d.float(17, "protectionDacOffset"),
		VoltageADCGain:         d.float(18, "voltageAdcGain"),
		VoltageADCOffset:       d.float(19, "voltageAdcOffset"),
		CurrentADCGain:         d.float(20, "currentAdcGain"),
		CurrentADCOffset:       d.float(21, "currentAdcOffset"),
		Model:                  d.text(22),
	}
	if d.err != nil {
		return nil, d.err
	}
	return st, nil
}

// frameDecoder keeps the first conversion error so ParseStatus can decode
// field by field and check once.
type frameDecoder struct {
	fields []string
	err    error
}

func (d *frameDecoder) text(i int) string { return strings.TrimSpace(d.fields[i]) }

func (d *frameDecoder) fail(name, text string, err error) {
	if d.err == nil {
		d.err = &ParseError{Command: CmdGetStatus, Field: name, Text: text, Err: err}
	}
}

func (d *frameDecoder) int(i int, name string) int {
	s := d.text(i)
	v, err := strconv.Atoi(s)
	if err != nil {
		d.fail(name, s, err)
	}
	return v
}

func (d *frameDecoder) register(i int, name string) models.StatusRegister {
	s := d.text(i)
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		d.fail(name, s, err)
	}
	return models.StatusRegister(v)
}

func (d *frameDecoder) float(i int, name string) float64 {
	s := d.text(i)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		d.fail(name, s, err)
	}
	return v
}
