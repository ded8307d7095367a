package ingest

import "time"

// Sample is a raw telemetry report as it arrives on the wire. Optional
// fields are pointers so an absent field can be told apart from a zero.
type Sample struct {
	DroneID        string    `json:"droneId"`
	Timestamp      time.Time `json:"timestamp"`
	Battery        *float64  `json:"battery,omitempty"`
	Charging       bool      `json:"charging,omitempty"`
	Position       *Position `json:"position,omitempty"`
	Mode           string    `json:"mode,omitempty"`
	SignalStrength *float64  `json:"signalStrength,omitempty"`
	Errors         []string  `json:"errors"`
	CommandAck     *Ack      `json:"commandAck,omitempty"`
}

type Position struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Altitude float64 `json:"altitude"`
}

type Ack struct {
	CommandID string `json:"commandId"`
	Result    string `json:"result"`
	Detail    string `json:"detail,omitempty"`
}
