package server

import (
	"time"

	serialpkg "github.com/CK6170/Sorensen-go/serial"
)

type APIError struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	OK        bool      `json:"ok"`
	Timestamp time.Time `json:"timestamp"`
	Connected bool      `json:"connected"`
}

type UploadResponse struct {
	ConfigID string `json:"configId"`
	Name     string `json:"name"`
}

type ConnectRequest struct {
	ConfigID string `json:"configId"`
}

type ConnectResponse struct {
	Connected      bool                    `json:"connected"`
	Port           string                  `json:"port"`
	Identification string                  `json:"identification"`
	Capabilities   *serialpkg.Capabilities `json:"capabilities,omitempty"`
}

type DisconnectRequest struct {
	ReturnToLocal *bool `json:"returnToLocal,omitempty"`
}

type SetpointRequest struct {
	Value float64 `json:"value"`
}

type RampRequest struct {
	Voltage   float64 `json:"voltage"`
	Seconds   float64 `json:"seconds"`
	Tolerance float64 `json:"tolerance"`
}

type MeasureResponse struct {
	Voltage float64 `json:"voltage"`
	Current float64 `json:"current"`
}

type SampleRequest struct {
	Samples    int `json:"samples"`
	IntervalMs int `json:"intervalMs"`
}
