package natsapi

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"agrosentry/internal/domain"
	"agrosentry/internal/fleet"
	"agrosentry/internal/transport"
)

// CommandMessage is what a drone receives on "<prefix>.<droneID>". The
// drone answers through the commandAck field of its next telemetry sample.
type CommandMessage struct {
	CommandID string              `json:"command_id"`
	Kind      string              `json:"kind"`
	Waypoint  *transport.Waypoint `json:"waypoint,omitempty"`
	IssuedAt  time.Time           `json:"issued_at"`
	Deadline  time.Time           `json:"deadline"`
}

// CommandPublisher delivers issued commands to drones over NATS.
type CommandPublisher struct {
	nc     *nats.Conn
	prefix string
}

func NewCommandPublisher(nc *nats.Conn, prefix string) *CommandPublisher {
	if prefix == "" {
		prefix = "fleet.commands"
	}
	return &CommandPublisher{nc: nc, prefix: prefix}
}

func (p *CommandPublisher) DeliverCommand(ctx context.Context, cmd domain.Command) error {
	data, err := json.Marshal(NewCommandMessage(cmd))
	if err != nil {
		return err
	}
	if err := p.nc.Publish(p.Subject(cmd.DroneID), data); err != nil {
		return err
	}
	return p.nc.FlushWithContext(ctx)
}

func (p *CommandPublisher) Subject(droneID string) string {
	return p.prefix + "." + droneID
}

func NewCommandMessage(cmd domain.Command) CommandMessage {
	msg := CommandMessage{
		CommandID: cmd.ID,
		Kind:      string(cmd.Kind),
		IssuedAt:  cmd.IssuedAt,
		Deadline:  cmd.Deadline,
	}
	if cmd.Waypoint != nil {
		wp := transport.FromWaypoint(*cmd.Waypoint)
		msg.Waypoint = &wp
	}
	return msg
}

var _ fleet.CommandSink = (*CommandPublisher)(nil)
