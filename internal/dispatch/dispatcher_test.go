package dispatch

import (
	"errors"
	"testing"
	"time"

	"agrosentry/internal/domain"
)

var t0 = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func online(mode domain.Mode) State {
	return State{Mode: mode, Connectivity: domain.ConnectivityOnline}
}

func TestTakeoffLifecycle(t *testing.T) {
	d := New("d1", 0)
	cmd, _, err := d.Issue(Request{Kind: domain.CommandTakeoff}, online(domain.ModeIdle), t0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if cmd.State != domain.CommandPending || cmd.TargetMode != domain.ModeAuto {
		t.Fatalf("unexpected command: %+v", cmd)
	}
	if !cmd.Deadline.Equal(t0.Add(DefaultTimeout)) {
		t.Fatalf("deadline = %v", cmd.Deadline)
	}

	res := d.Ack(domain.CommandAck{CommandID: cmd.ID, Result: domain.AckAccepted}, domain.ModeIdle, t0.Add(time.Second))
	if len(res.Changed) != 1 || res.Changed[0].State != domain.CommandAcked {
		t.Fatalf("expected ACKED, got %+v", res.Changed)
	}

	res = d.Observe(domain.ModeAuto, t0.Add(2*time.Second))
	if len(res.Changed) != 1 || res.Changed[0].State != domain.CommandCompleted {
		t.Fatalf("expected COMPLETED, got %+v", res.Changed)
	}
	if d.Busy() {
		t.Fatal("dispatcher should be free after completion")
	}
}

func TestBackToBackCommandsAreBusy(t *testing.T) {
	d := New("d1", 0)
	first, _, err := d.Issue(Request{Kind: domain.CommandTakeoff}, online(domain.ModeIdle), t0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	_, _, err = d.Issue(Request{Kind: domain.CommandTakeoff}, online(domain.ModeIdle), t0)
	if !errors.Is(err, domain.ErrCommandBusy) {
		t.Fatalf("expected busy, got %v", err)
	}
	if active := d.Active(); active == nil || active.ID != first.ID || active.State != domain.CommandPending {
		t.Fatalf("first command disturbed: %+v", active)
	}
}

func TestEmergencyStopPreempts(t *testing.T) {
	for _, mode := range []domain.Mode{domain.ModeIdle, domain.ModeAuto, domain.ModeRTL} {
		d := New("d1", 0)
		kind := domain.CommandLand
		if mode == domain.ModeIdle {
			kind = domain.CommandTakeoff
		}
		old, _, err := d.Issue(Request{Kind: kind}, online(mode), t0)
		if err != nil {
			t.Fatalf("%s: issue: %v", mode, err)
		}
		es, res, err := d.Issue(Request{Kind: domain.CommandEmergencyStop}, online(mode), t0.Add(time.Second))
		if err != nil {
			t.Fatalf("%s: emergency stop: %v", mode, err)
		}
		if len(res.Changed) != 2 || res.Changed[0].ID != old.ID || res.Changed[0].State != domain.CommandRejected {
			t.Fatalf("%s: old command not rejected: %+v", mode, res.Changed)
		}
		if es.State != domain.CommandPending || es.TargetMode != domain.ModeEmergencyStopped {
			t.Fatalf("%s: emergency stop not pending: %+v", mode, es)
		}
	}
}

func TestLostDroneOnlyAcceptsEmergencyStop(t *testing.T) {
	d := New("d1", 0)
	lost := State{Mode: domain.ModeAuto, Connectivity: domain.ConnectivityLost}
	_, _, err := d.Issue(Request{Kind: domain.CommandRTL}, lost, t0)
	if !errors.Is(err, domain.ErrInvalidTransition) || !errors.Is(err, domain.ErrDroneLost) {
		t.Fatalf("expected invalid transition for lost drone, got %v", err)
	}
	if _, _, err := d.Issue(Request{Kind: domain.CommandEmergencyStop}, lost, t0); err != nil {
		t.Fatalf("emergency stop while lost: %v", err)
	}
}

func TestPreconditions(t *testing.T) {
	d := New("d1", 0)
	if _, _, err := d.Issue(Request{Kind: domain.CommandPause}, online(domain.ModeIdle), t0); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("pause from idle: %v", err)
	}
	if _, _, err := d.Issue(Request{Kind: domain.CommandGotoWaypoint}, online(domain.ModeAuto), t0); !errors.Is(err, domain.ErrInvalid) {
		t.Fatalf("goto without waypoint: %v", err)
	}
	if d.Busy() {
		t.Fatal("failed issues must not occupy the slot")
	}
}

func TestGotoCompletesOnlyOnExplicitAck(t *testing.T) {
	d := New("d1", 0)
	wp := &domain.Waypoint{ID: "w1", Lat: 1, Lng: 1, Altitude: 20}
	cmd, _, err := d.Issue(Request{Kind: domain.CommandGotoWaypoint, Waypoint: wp}, online(domain.ModeAuto), t0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	d.Ack(domain.CommandAck{CommandID: cmd.ID, Result: domain.AckAccepted}, domain.ModeAuto, t0)
	if res := d.Observe(domain.ModeAuto, t0); len(res.Changed) != 0 {
		t.Fatalf("goto completed by mode observation: %+v", res.Changed)
	}
	res := d.Ack(domain.CommandAck{CommandID: cmd.ID, Result: domain.AckCompleted}, domain.ModeAuto, t0.Add(time.Second))
	last := res.Changed[len(res.Changed)-1]
	if last.State != domain.CommandCompleted || last.Waypoint == nil || last.Waypoint.ID != "w1" {
		t.Fatalf("expected completed goto, got %+v", last)
	}
}

func TestRejectedAckRaisesWarning(t *testing.T) {
	d := New("d1", 0)
	cmd, _, _ := d.Issue(Request{Kind: domain.CommandRTL}, online(domain.ModeAuto), t0)
	res := d.Ack(domain.CommandAck{CommandID: cmd.ID, Result: domain.AckFailed, Detail: "gps"}, domain.ModeAuto, t0)
	if len(res.Changed) != 1 || res.Changed[0].State != domain.CommandRejected || res.Changed[0].Reason != "gps" {
		t.Fatalf("unexpected change: %+v", res.Changed)
	}
	if len(res.Alerts) != 1 || res.Alerts[0].Severity != domain.SeverityWarning {
		t.Fatalf("expected warning, got %+v", res.Alerts)
	}
}

func TestDeadlineTimesOut(t *testing.T) {
	d := New("d1", 10*time.Second)
	cmd, _, _ := d.Issue(Request{Kind: domain.CommandLand}, online(domain.ModeAuto), t0)
	d.Ack(domain.CommandAck{CommandID: cmd.ID, Result: domain.AckAccepted}, domain.ModeAuto, t0.Add(time.Second))

	if res := d.Tick(t0.Add(9 * time.Second)); len(res.Changed) != 0 {
		t.Fatal("timed out before deadline")
	}
	res := d.Tick(t0.Add(10 * time.Second))
	if len(res.Changed) != 1 || res.Changed[0].State != domain.CommandTimedOut {
		t.Fatalf("expected TIMED_OUT, got %+v", res.Changed)
	}
	if len(res.Alerts) != 1 || res.Alerts[0].Severity != domain.SeverityCritical {
		t.Fatalf("expected critical alert, got %+v", res.Alerts)
	}
	if d.Busy() {
		t.Fatal("slot not freed after timeout")
	}
	if _, _, err := d.Issue(Request{Kind: domain.CommandRTL}, online(domain.ModeAuto), t0.Add(11*time.Second)); err != nil {
		t.Fatalf("issue after timeout: %v", err)
	}
}

func TestUnknownAckIgnored(t *testing.T) {
	d := New("d1", 0)
	cmd, _, _ := d.Issue(Request{Kind: domain.CommandTakeoff}, online(domain.ModeIdle), t0)
	if res := d.Ack(domain.CommandAck{CommandID: "other", Result: domain.AckAccepted}, domain.ModeIdle, t0); len(res.Changed) != 0 {
		t.Fatalf("foreign ack applied: %+v", res.Changed)
	}
	if res := d.Cancel(cmd.ID, "mission aborted", t0); len(res.Changed) != 1 || res.Changed[0].State != domain.CommandRejected {
		t.Fatalf("cancel failed: %+v", res.Changed)
	}
}
