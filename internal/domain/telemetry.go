package domain

import "time"

type AckResult string

const (
	AckAccepted  AckResult = "ACCEPTED"
	AckCompleted AckResult = "COMPLETED"
	AckRejected  AckResult = "REJECTED"
	AckFailed    AckResult = "FAILED"
)

type CommandAck struct {
	CommandID string
	Result    AckResult
	Detail    string
}

// TelemetryEvent is the canonical form of a validated telemetry sample.
// Nil fields were absent from the sample and leave drone state untouched.
type TelemetryEvent struct {
	DroneID        string
	Timestamp      time.Time
	Battery        *float64
	Charging       bool
	Position       *Position
	Mode           *Mode
	SignalStrength *float64
	Errors         []string
	Ack            *CommandAck
}
