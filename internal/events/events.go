package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"agrosentry/internal/domain"
)

const (
	AggregateDrone   = "drone"
	AggregateCommand = "command"
)

const (
	EventAlertRaised      = "alert.raised"
	EventCommandPending   = "command.pending"
	EventCommandAcked     = "command.acked"
	EventCommandCompleted = "command.completed"
	EventCommandTimedOut  = "command.timed_out"
	EventCommandRejected  = "command.rejected"
)

type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

func NewEvent(eventType, aggregateType, aggregateID string, payload any, occurredAt time.Time) Event {
	data, _ := json.Marshal(payload)
	return Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       data,
		OccurredAt:    occurredAt,
	}
}

func NewAlertEvent(alert domain.Alert) Event {
	payload := map[string]any{
		"alert_id":  alert.ID,
		"drone_id":  alert.DroneID,
		"severity":  alert.Severity,
		"code":      alert.Code,
		"message":   alert.Message,
		"timestamp": alert.Timestamp,
	}
	return NewEvent(EventAlertRaised, AggregateDrone, alert.DroneID, payload, alert.Timestamp)
}

func NewCommandEvent(cmd domain.Command) Event {
	occurredAt := cmd.IssuedAt
	switch {
	case cmd.ResolvedAt != nil:
		occurredAt = *cmd.ResolvedAt
	case cmd.AckedAt != nil:
		occurredAt = *cmd.AckedAt
	}
	payload := map[string]any{
		"command_id":         cmd.ID,
		"drone_id":           cmd.DroneID,
		"kind":               cmd.Kind,
		"state":              cmd.State,
		"mission_originated": cmd.MissionOriginated,
		"occurred_at":        occurredAt,
	}
	if cmd.Reason != "" {
		payload["reason"] = cmd.Reason
	}
	if cmd.Waypoint != nil {
		payload["waypoint_id"] = cmd.Waypoint.ID
	}
	return NewEvent(CommandEventType(cmd.State), AggregateCommand, cmd.ID, payload, occurredAt)
}

func CommandEventType(state domain.CommandState) string {
	switch state {
	case domain.CommandAcked:
		return EventCommandAcked
	case domain.CommandCompleted:
		return EventCommandCompleted
	case domain.CommandTimedOut:
		return EventCommandTimedOut
	case domain.CommandRejected:
		return EventCommandRejected
	default:
		return EventCommandPending
	}
}
