package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"agrosentry/internal/domain"
)

func TestNewCommandEvent(t *testing.T) {
	issued := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	resolved := issued.Add(5 * time.Second)
	evt := NewCommandEvent(domain.Command{
		ID:         "c1",
		DroneID:    "d1",
		Kind:       domain.CommandGotoWaypoint,
		State:      domain.CommandTimedOut,
		Waypoint:   &domain.Waypoint{ID: "w3"},
		IssuedAt:   issued,
		ResolvedAt: &resolved,
	})
	if evt.Type != EventCommandTimedOut || evt.AggregateID != "c1" || !evt.OccurredAt.Equal(resolved) {
		t.Fatalf("unexpected event: %+v", evt)
	}
	var payload map[string]any
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["waypoint_id"] != "w3" || payload["drone_id"] != "d1" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

type fakeOutbox struct {
	pending []Event
	marked  []string
}

func (f *fakeOutbox) FetchPending(ctx context.Context, limit int) ([]Event, error) {
	if len(f.pending) > limit {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}

func (f *fakeOutbox) MarkPublished(ctx context.Context, ids []string) error {
	f.marked = append(f.marked, ids...)
	return nil
}

type flakyPublisher struct {
	failType string
	sent     []Event
}

func (p *flakyPublisher) Publish(ctx context.Context, event Event) error {
	if event.Type == p.failType {
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, event)
	return nil
}

func (p *flakyPublisher) Close() error { return nil }

func TestRelayOnceMarksOnlyPublished(t *testing.T) {
	now := time.Now()
	alert := NewAlertEvent(domain.Alert{ID: "a1", DroneID: "d1", Severity: domain.SeverityCritical, Code: "low_battery", Timestamp: now})
	cmd := NewCommandEvent(domain.Command{ID: "c1", DroneID: "d1", State: domain.CommandPending, IssuedAt: now})
	repo := &fakeOutbox{pending: []Event{alert, cmd}}
	pub := &flakyPublisher{failType: EventCommandPending}

	w := &OutboxWorker{Repo: repo, Publisher: pub, BatchSize: 10}
	n, err := w.RelayOnce(context.Background())
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	if n != 1 || len(repo.marked) != 1 || repo.marked[0] != alert.ID {
		t.Fatalf("expected only the alert marked, got %v", repo.marked)
	}
}
