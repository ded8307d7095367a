package sqlite

import (
	"context"
	"testing"
	"time"

	"agrosentry/internal/domain"
	"agrosentry/internal/events"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAlertsRoundTripNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	first := domain.NewAlert("d1", domain.SeverityWarning, domain.AlertWeakSignal, "signal 12", base)
	second := domain.NewAlert("d1", domain.SeverityCritical, domain.AlertLowBattery, "battery 9", base.Add(time.Second))
	other := domain.NewAlert("d2", domain.SeverityInfo, domain.AlertLinkRestored, "back", base)
	if err := store.AppendAlerts(ctx, []domain.Alert{first, second, other}); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := store.ListAlerts(ctx, "d1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 alerts for d1, got %d", len(got))
	}
	if got[0].ID != second.ID || got[0].Severity != domain.SeverityCritical {
		t.Fatalf("expected newest first, got %+v", got[0])
	}
	if !got[1].Timestamp.Equal(base) {
		t.Fatalf("timestamp lost: %v", got[1].Timestamp)
	}
}

func TestCommandHistoryKeepsEveryTransition(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	issued := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	cmd := domain.Command{
		ID:                "c1",
		DroneID:           "d1",
		Kind:              domain.CommandGotoWaypoint,
		State:             domain.CommandPending,
		Waypoint:          &domain.Waypoint{ID: "w1", Lat: 1, Lng: 2, Altitude: 30, Action: "spray"},
		MissionOriginated: true,
		IssuedAt:          issued,
		Deadline:          issued.Add(30 * time.Second),
	}
	if err := store.AppendCommand(ctx, cmd); err != nil {
		t.Fatalf("append pending: %v", err)
	}
	acked := issued.Add(2 * time.Second)
	cmd.State = domain.CommandAcked
	cmd.AckedAt = &acked
	if err := store.AppendCommand(ctx, cmd); err != nil {
		t.Fatalf("append acked: %v", err)
	}

	got, err := store.ListCommands(ctx, "d1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].State != domain.CommandAcked || got[1].State != domain.CommandPending {
		t.Fatalf("unexpected history: %+v", got)
	}
	if got[0].Waypoint == nil || got[0].Waypoint.Action != "spray" || !got[0].MissionOriginated {
		t.Fatalf("waypoint not restored: %+v", got[0])
	}
	if got[0].AckedAt == nil || !got[0].AckedAt.Equal(acked) || got[1].AckedAt != nil {
		t.Fatalf("acked_at mismatch: %+v / %+v", got[0].AckedAt, got[1].AckedAt)
	}
}

func TestOutboxFollowsAppends(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.AppendAlerts(ctx, []domain.Alert{domain.NewAlert("d1", domain.SeverityWarning, domain.AlertDroneLost, "lost", now)}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.AppendCommand(ctx, domain.Command{ID: "c1", DroneID: "d1", Kind: domain.CommandLand, State: domain.CommandPending, IssuedAt: now, Deadline: now}); err != nil {
		t.Fatalf("append command: %v", err)
	}

	pending, err := store.FetchPending(ctx, 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(pending) != 2 || pending[0].Type != events.EventAlertRaised || pending[1].Type != events.EventCommandPending {
		t.Fatalf("unexpected outbox: %+v", pending)
	}
	if err := store.MarkPublished(ctx, []string{pending[0].ID}); err != nil {
		t.Fatalf("mark: %v", err)
	}
	n, err := store.PendingCount(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 pending, got %d (%v)", n, err)
	}
}
