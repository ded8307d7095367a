package nats

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"

	"agrosentry/internal/events"
)

// Publisher sends each event to "<subject>.<event type>", so consumers can
// subscribe to alerts or command transitions separately.
type Publisher struct {
	nc      *nats.Conn
	subject string
	owned   bool
}

func New(url, subject string) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("fleet-outbox"))
	if err != nil {
		return nil, err
	}
	p := NewWithConn(nc, subject)
	p.owned = true
	return p, nil
}

// NewWithConn shares an existing connection; Close leaves it open.
func NewWithConn(nc *nats.Conn, subject string) *Publisher {
	if subject == "" {
		subject = "fleet.events"
	}
	return &Publisher{nc: nc, subject: subject}
}

func (p *Publisher) Publish(ctx context.Context, event events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject+"."+event.Type, data)
}

func (p *Publisher) Close() error {
	if p.nc != nil && p.owned {
		return p.nc.Drain()
	}
	return nil
}

var _ events.Publisher = (*Publisher)(nil)
