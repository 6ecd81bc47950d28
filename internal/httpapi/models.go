package httpapi

import (
	"github.com/srg/myoctl/internal/gesture"
	"github.com/srg/myoctl/internal/protocol"
	"github.com/srg/myoctl/internal/session"
)

// Response wraps every API reply
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type StateResponse struct {
	State   session.State              `json:"state"`
	Device  *session.DeviceHandle      `json:"device,omitempty"`
	Info    session.DeviceInfo         `json:"info"`
	Mode    protocol.ModeConfiguration `json:"mode"`
	Gesture gesture.State              `json:"gesture"`
}

type StatsResponse struct {
	session.Stats
	Uptime  string `json:"uptime"`
	Version string `json:"version"`
}

// VibrateRequest selects one of three forms: a named pattern in Type, a single
// pulse in DurationMs with optional Strength, or up to six custom Steps.
type VibrateRequest struct {
	Type       string                   `json:"type,omitempty"`
	DurationMs int                      `json:"duration_ms,omitempty"`
	Strength   *int                     `json:"strength,omitempty"`
	Steps      []protocol.VibrationStep `json:"steps,omitempty"`
}

// LEDRequest sets the logo colour and, optionally, a different status bar colour
type LEDRequest struct {
	Logo []int `json:"logo" binding:"required,len=3"`
	Line []int `json:"line,omitempty"`
}
