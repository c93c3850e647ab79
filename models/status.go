package models

import "strings"

// StatusRegister is the 8-bit status register reported in field 3 of the block status frame.
type StatusRegister uint8

// Bit positions, least significant first. Bits 2 and 5..7 are reserved.
const (
	StatusCV StatusRegister = 1 << 0 // constant voltage mode
	StatusCC StatusRegister = 1 << 1 // constant current mode
	StatusOV StatusRegister = 1 << 3 // over-voltage fault
	StatusOT StatusRegister = 1 << 4 // over-temperature fault
)

func (r StatusRegister) Has(flag StatusRegister) bool { return r&flag == flag }

func (r StatusRegister) String() string {
	var parts []string
	if r.Has(StatusCV) {
		parts = append(parts, "CV")
	}
	if r.Has(StatusCC) {
		parts = append(parts, "CC")
	}
	if r.Has(StatusOV) {
		parts = append(parts, "OV")
	}
	if r.Has(StatusOT) {
		parts = append(parts, "OT")
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "|")
}

// DeviceStatus is one decoded :SOUR:STAT:BLOC? frame.
type DeviceStatus struct {
	ChannelNumber     int            `json:"channelNumber"`
	OnlineStatus      int            `json:"onlineStatus"`
	StatusFlags       int            `json:"statusFlags"`
	StatusRegister    StatusRegister `json:"statusRegister"`
	AccumulatedStatus int            `json:"accumulatedStatus"`
	FaultMask         int            `json:"faultMask"`
	FaultRegister     int            `json:"faultRegister"`
	ErrorRegister     int            `json:"errorRegister"`

	ConstantVoltage bool `json:"constantVoltage"`
	ConstantCurrent bool `json:"constantCurrent"`
	OverVoltage     bool `json:"overVoltage"`
	OverTemperature bool `json:"overTemperature"`

	SerialNumber      string  `json:"serialNumber"`
	VoltageCapability float64 `json:"voltageCapability"`
	CurrentCapability float64 `json:"currentCapability"`

	// Field 11. The device labels it over-voltage as well; it is a calibration
	// value and unrelated to the OverVoltage flag above.
	OverVoltageCalibration float64 `json:"overVoltageCalibration"`

	VoltageDACGain      float64 `json:"voltageDacGain"`
	VoltageDACOffset    float64 `json:"voltageDacOffset"`
	CurrentDACGain      float64 `json:"currentDacGain"`
	CurrentDACOffset    float64 `json:"currentDacOffset"`
	ProtectionDACGain   float64 `json:"protectionDacGain"`
	ProtectionDACOffset float64 `json:"protectionDacOffset"`
	VoltageADCGain      float64 `json:"voltageAdcGain"`
	VoltageADCOffset    float64 `json:"voltageAdcOffset"`
	CurrentADCGain      float64 `json:"currentAdcGain"`
	CurrentADCOffset    float64 `json:"currentAdcOffset"`

	Model string `json:"model"`
}
