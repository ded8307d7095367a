package natsapi

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"agrosentry/internal/domain"
	"agrosentry/internal/ingest"
)

var t0 = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

type recordingSink struct {
	events []domain.TelemetryEvent
}

func (s *recordingSink) Ingest(event domain.TelemetryEvent) error {
	s.events = append(s.events, event)
	return nil
}

func newTestSubscriber() (*TelemetrySubscriber, *recordingSink) {
	sink := &recordingSink{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewTelemetrySubscriber(nil, "fleet.telemetry", ingest.NewAdapter(sink), logger), sink
}

func fptr(v float64) *float64 { return &v }

func telemetryMsg(t *testing.T, droneID, contentType string, s ingest.Sample) *nats.Msg {
	t.Helper()
	data, err := ingest.Encode(contentType, s)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg := nats.NewMsg("fleet.telemetry." + droneID)
	msg.Header.Set(headerContentType, contentType)
	msg.Data = data
	return msg
}

func TestSubmitDecodesByContentType(t *testing.T) {
	sub, sink := newTestSubscriber()
	msg := telemetryMsg(t, "d1", ingest.ContentTypeCBOR, ingest.Sample{DroneID: "d1", Timestamp: t0, Battery: fptr(42)})
	if err := sub.submit(msg); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(sink.events) != 1 || sink.events[0].DroneID != "d1" {
		t.Fatalf("unexpected events: %+v", sink.events)
	}
}

func TestSubmitTakesDroneFromSubject(t *testing.T) {
	sub, sink := newTestSubscriber()
	msg := telemetryMsg(t, "d9", ingest.ContentTypeJSON, ingest.Sample{Timestamp: t0, Battery: fptr(70)})
	if err := sub.submit(msg); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(sink.events) != 1 || sink.events[0].DroneID != "d9" {
		t.Fatalf("unexpected events: %+v", sink.events)
	}
}

func TestSubmitRejectsForeignDrone(t *testing.T) {
	sub, sink := newTestSubscriber()
	msg := telemetryMsg(t, "d2", ingest.ContentTypeJSON, ingest.Sample{DroneID: "d1", Timestamp: t0})
	if err := sub.submit(msg); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if len(sink.events) != 0 {
		t.Fatalf("sample must not reach the engine")
	}
}

func TestNewCommandMessage(t *testing.T) {
	cmd := domain.Command{
		ID:       "c1",
		DroneID:  "d1",
		Kind:     domain.CommandGotoWaypoint,
		Waypoint: &domain.Waypoint{ID: "w1", Lat: 1, Lng: 2, Altitude: 30},
		IssuedAt: t0,
		Deadline: t0.Add(30 * time.Second),
	}
	msg := NewCommandMessage(cmd)
	if msg.Kind != "GOTO_WAYPOINT" || msg.Waypoint == nil || msg.Waypoint.ID != "w1" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if p := NewCommandPublisher(nil, ""); p.Subject("d1") != "fleet.commands.d1" {
		t.Fatalf("unexpected subject %s", p.Subject("d1"))
	}
}
