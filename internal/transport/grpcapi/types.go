package grpcapi

import "agrosentry/internal/transport"

type Empty struct{}

type TokenRequest struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

type TelemetryAccepted struct {
	DroneID   string `json:"drone_id"`
	Timestamp string `json:"timestamp"`
}

type DroneIDRequest struct {
	DroneID string `json:"drone_id"`
}

type CommandIDRequest struct {
	CommandID string `json:"command_id"`
}

type IssueCommandRequest struct {
	DroneID string `json:"drone_id"`
	transport.CommandRequest
}

type ReplanRequest struct {
	DroneID   string               `json:"drone_id"`
	Waypoints []transport.Waypoint `json:"waypoints"`
}

type ListDronesResponse struct {
	Drones []transport.DroneResponse `json:"drones"`
}
