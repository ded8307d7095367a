package transport

import (
	"fmt"
	"time"

	"agrosentry/internal/domain"
	"agrosentry/internal/fleet"
)

type Position struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Altitude float64 `json:"altitude"`
}

type Waypoint struct {
	ID       string  `json:"id"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Altitude float64 `json:"altitude"`
	Action   string  `json:"action,omitempty"`
}

type CommandResponse struct {
	ID                string     `json:"id"`
	DroneID           string     `json:"drone_id"`
	Kind              string     `json:"kind"`
	State             string     `json:"state"`
	TargetMode        string     `json:"target_mode,omitempty"`
	Waypoint          *Waypoint  `json:"waypoint,omitempty"`
	MissionOriginated bool       `json:"mission_originated"`
	Reason            string     `json:"reason,omitempty"`
	IssuedAt          time.Time  `json:"issued_at"`
	Deadline          time.Time  `json:"deadline"`
	AckedAt           *time.Time `json:"acked_at,omitempty"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
}

type DroneResponse struct {
	ID             string           `json:"id"`
	Mode           string           `json:"mode"`
	Connectivity   string           `json:"connectivity"`
	Battery        float64          `json:"battery"`
	Position       *Position        `json:"position,omitempty"`
	SignalStrength *float64         `json:"signal_strength,omitempty"`
	Errors         []string         `json:"errors"`
	LastSeenAt     time.Time        `json:"last_seen_at"`
	LastSampleAt   *time.Time       `json:"last_sample_at,omitempty"`
	ActiveCommand  *CommandResponse `json:"active_command,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

type MissionResponse struct {
	DroneID              string     `json:"drone_id"`
	Status               string     `json:"status"`
	Cursor               int        `json:"cursor"`
	Waypoints            []Waypoint `json:"waypoints"`
	ActiveCommandID      string     `json:"active_command_id,omitempty"`
	DistanceToNextMeters *float64   `json:"distance_to_next_m,omitempty"`
	ETASeconds           *int64     `json:"eta_seconds,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

type AlertResponse struct {
	ID        string    `json:"id"`
	DroneID   string    `json:"drone_id"`
	Severity  string    `json:"severity"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type SnapshotResponse struct {
	Version  uint64            `json:"version"`
	TakenAt  time.Time         `json:"taken_at"`
	Drones   []DroneResponse   `json:"drones"`
	Missions []MissionResponse `json:"missions"`
	Alerts   []AlertResponse   `json:"alerts"`
}

// CommandRequest is the wire form of IssueCommand shared by every RPC
// surface.
type CommandRequest struct {
	Kind           string    `json:"kind"`
	Waypoint       *Waypoint `json:"waypoint,omitempty"`
	TimeoutSeconds int       `json:"timeout_seconds,omitempty"`
}

func (r CommandRequest) Params() (fleet.CommandParams, error) {
	kind, err := domain.ParseCommandKind(r.Kind)
	if err != nil {
		return fleet.CommandParams{}, err
	}
	if r.TimeoutSeconds < 0 {
		return fleet.CommandParams{}, fmt.Errorf("negative timeout: %w", domain.ErrInvalid)
	}
	params := fleet.CommandParams{
		Kind:    kind,
		Timeout: time.Duration(r.TimeoutSeconds) * time.Second,
	}
	if r.Waypoint != nil {
		wp := ToWaypoint(*r.Waypoint)
		if err := domain.ValidateWaypoints([]domain.Waypoint{wp}); err != nil {
			return fleet.CommandParams{}, err
		}
		params.Waypoint = &wp
	}
	return params, nil
}

func ToWaypoint(wp Waypoint) domain.Waypoint {
	return domain.Waypoint(wp)
}

func ToWaypoints(wps []Waypoint) []domain.Waypoint {
	out := make([]domain.Waypoint, 0, len(wps))
	for _, wp := range wps {
		out = append(out, ToWaypoint(wp))
	}
	return out
}

func FromWaypoint(wp domain.Waypoint) Waypoint {
	return Waypoint(wp)
}

func FromCommand(cmd domain.Command) CommandResponse {
	resp := CommandResponse{
		ID:                cmd.ID,
		DroneID:           cmd.DroneID,
		Kind:              string(cmd.Kind),
		State:             string(cmd.State),
		TargetMode:        string(cmd.TargetMode),
		MissionOriginated: cmd.MissionOriginated,
		Reason:            cmd.Reason,
		IssuedAt:          cmd.IssuedAt,
		Deadline:          cmd.Deadline,
		AckedAt:           cmd.AckedAt,
		ResolvedAt:        cmd.ResolvedAt,
	}
	if cmd.Waypoint != nil {
		wp := FromWaypoint(*cmd.Waypoint)
		resp.Waypoint = &wp
	}
	return resp
}

func FromCommands(cmds []domain.Command) []CommandResponse {
	out := make([]CommandResponse, 0, len(cmds))
	for _, cmd := range cmds {
		out = append(out, FromCommand(cmd))
	}
	return out
}

func FromDrone(d domain.Drone) DroneResponse {
	resp := DroneResponse{
		ID:             d.ID,
		Mode:           string(d.Mode),
		Connectivity:   string(d.Connectivity),
		Battery:        d.Battery,
		SignalStrength: d.SignalStrength,
		Errors:         d.Errors,
		LastSeenAt:     d.LastSeenAt,
		CreatedAt:      d.CreatedAt,
	}
	if resp.Errors == nil {
		resp.Errors = []string{}
	}
	if d.Position != nil {
		resp.Position = &Position{Lat: d.Position.Lat, Lng: d.Position.Lng, Altitude: d.Position.Altitude}
	}
	if !d.LastSampleAt.IsZero() {
		t := d.LastSampleAt
		resp.LastSampleAt = &t
	}
	if d.ActiveCommand != nil {
		cmd := FromCommand(*d.ActiveCommand)
		resp.ActiveCommand = &cmd
	}
	return resp
}

func FromDrones(drones []domain.Drone) []DroneResponse {
	out := make([]DroneResponse, 0, len(drones))
	for _, d := range drones {
		out = append(out, FromDrone(d))
	}
	return out
}

func FromMission(m domain.Mission) MissionResponse {
	resp := MissionResponse{
		DroneID:              m.DroneID,
		Status:               string(m.Status),
		Cursor:               m.Cursor,
		Waypoints:            make([]Waypoint, 0, len(m.Waypoints)),
		ActiveCommandID:      m.ActiveCommandID,
		DistanceToNextMeters: m.DistanceToNextMeters,
		ETASeconds:           m.ETASeconds,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
	for _, wp := range m.Waypoints {
		resp.Waypoints = append(resp.Waypoints, FromWaypoint(wp))
	}
	return resp
}

func FromAlert(a domain.Alert) AlertResponse {
	return AlertResponse{
		ID:        a.ID,
		DroneID:   a.DroneID,
		Severity:  string(a.Severity),
		Code:      a.Code,
		Message:   a.Message,
		Timestamp: a.Timestamp,
	}
}

func FromAlerts(alerts []domain.Alert) []AlertResponse {
	out := make([]AlertResponse, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, FromAlert(a))
	}
	return out
}

func FromSnapshot(snap fleet.Snapshot) SnapshotResponse {
	resp := SnapshotResponse{
		Version:  snap.Version,
		TakenAt:  snap.TakenAt,
		Drones:   FromDrones(snap.Drones),
		Missions: make([]MissionResponse, 0, len(snap.Missions)),
		Alerts:   FromAlerts(snap.Alerts),
	}
	for _, m := range snap.Missions {
		resp.Missions = append(resp.Missions, FromMission(m))
	}
	return resp
}
