package drone

import (
	"testing"
	"time"

	"agrosentry/internal/domain"
)

var t0 = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func fptr(v float64) *float64 { return &v }

func mptr(m domain.Mode) *domain.Mode { return &m }

func sample(at time.Time, battery float64, mode domain.Mode) domain.TelemetryEvent {
	return domain.TelemetryEvent{
		DroneID:   "d1",
		Timestamp: at,
		Battery:   fptr(battery),
		Mode:      mptr(mode),
		Position:  &domain.Position{Lat: 52, Lng: 4, Altitude: float64(at.Second())},
	}
}

func countAlerts(alerts []domain.Alert, code string, sev domain.Severity) int {
	n := 0
	for _, a := range alerts {
		if a.Code == code && a.Severity == sev {
			n++
		}
	}
	return n
}

func TestOutOfOrderSamplesMatchOrderedApplication(t *testing.T) {
	samples := []domain.TelemetryEvent{
		sample(t0.Add(1*time.Second), 90, domain.ModeIdle),
		sample(t0.Add(2*time.Second), 88, domain.ModeAuto),
		sample(t0.Add(3*time.Second), 85, domain.ModeAuto),
		sample(t0.Add(4*time.Second), 80, domain.ModeGuided),
	}
	orders := [][]int{{0, 1, 2, 3}, {3, 2, 1, 0}, {1, 3, 0, 2}, {2, 0, 3, 1}}

	ordered := New("d1", DefaultConfig(), t0)
	for _, s := range samples {
		ordered.Apply(s, t0.Add(5*time.Second))
	}
	want := ordered.View()

	for _, order := range orders {
		m := New("d1", DefaultConfig(), t0)
		for _, idx := range order {
			m.Apply(samples[idx], t0.Add(5*time.Second))
		}
		got := m.View()
		if got.Mode != want.Mode || got.Battery != want.Battery || !got.LastSampleAt.Equal(want.LastSampleAt) {
			t.Fatalf("order %v: got mode=%s battery=%v sampleAt=%v, want mode=%s battery=%v sampleAt=%v",
				order, got.Mode, got.Battery, got.LastSampleAt, want.Mode, want.Battery, want.LastSampleAt)
		}
		if got.Position == nil || *got.Position != *want.Position {
			t.Fatalf("order %v: position %+v, want %+v", order, got.Position, want.Position)
		}
	}
}

func TestStaleSampleRefreshesLastSeenOnly(t *testing.T) {
	m := New("d1", DefaultConfig(), t0)
	m.Apply(sample(t0.Add(10*time.Second), 70, domain.ModeAuto), t0.Add(10*time.Second))

	out := m.Apply(sample(t0.Add(5*time.Second), 60, domain.ModeManual), t0.Add(12*time.Second))
	if !out.Stale {
		t.Fatal("expected stale outcome")
	}
	v := m.View()
	if v.Battery != 70 || v.Mode != domain.ModeAuto {
		t.Fatalf("stale sample mutated state: %+v", v)
	}
	if !v.LastSeenAt.Equal(t0.Add(12 * time.Second)) {
		t.Fatalf("lastSeenAt not refreshed: %v", v.LastSeenAt)
	}

	same := m.Apply(sample(t0.Add(10*time.Second), 69, domain.ModeAuto), t0.Add(13*time.Second))
	if same.Stale || m.View().Battery != 69 {
		t.Fatal("equal timestamps must be applied")
	}
}

func TestCriticalBatteryTriggersSingleAutoRTL(t *testing.T) {
	m := New("d1", DefaultConfig(), t0)
	m.Apply(sample(t0.Add(time.Second), 80, domain.ModeAuto), t0.Add(time.Second))

	var alerts []domain.Alert
	out := m.Apply(domain.TelemetryEvent{DroneID: "d1", Timestamp: t0.Add(2 * time.Second), Battery: fptr(14)}, t0.Add(2*time.Second))
	if !out.AutoRTL || m.Mode() != domain.ModeRTL {
		t.Fatalf("expected auto RTL, got mode %s", m.Mode())
	}
	alerts = append(alerts, out.Alerts...)
	for i := 3; i < 6; i++ {
		out = m.Apply(domain.TelemetryEvent{DroneID: "d1", Timestamp: t0.Add(time.Duration(i) * time.Second), Battery: fptr(13)}, t0.Add(time.Duration(i)*time.Second))
		if out.AutoRTL {
			t.Fatal("auto RTL re-triggered")
		}
		alerts = append(alerts, out.Alerts...)
	}
	if n := countAlerts(alerts, domain.AlertLowBattery, domain.SeverityCritical); n != 1 {
		t.Fatalf("expected exactly one critical low battery alert, got %d", n)
	}
}

func TestBatteryDoesNotIncreaseInFlight(t *testing.T) {
	m := New("d1", DefaultConfig(), t0)
	m.Apply(sample(t0.Add(time.Second), 50, domain.ModeAuto), t0.Add(time.Second))
	m.Apply(domain.TelemetryEvent{DroneID: "d1", Timestamp: t0.Add(2 * time.Second), Battery: fptr(60)}, t0.Add(2*time.Second))
	if got := m.View().Battery; got != 50 {
		t.Fatalf("battery rose in flight: %v", got)
	}
	m.Apply(domain.TelemetryEvent{DroneID: "d1", Timestamp: t0.Add(3 * time.Second), Battery: fptr(60), Charging: true}, t0.Add(3*time.Second))
	if got := m.View().Battery; got != 60 {
		t.Fatalf("charging sample ignored: %v", got)
	}
}

func TestIllegalReportedModeIsIgnoredWithWarning(t *testing.T) {
	m := New("d1", DefaultConfig(), t0)
	m.ForceMode(domain.ModeEmergencyStopped)
	m.Unpin()
	out := m.Apply(sample(t0.Add(time.Second), 80, domain.ModeAuto), t0.Add(time.Second))
	if m.Mode() != domain.ModeEmergencyStopped {
		t.Fatalf("emergency stop left by report: %s", m.Mode())
	}
	if countAlerts(out.Alerts, domain.AlertModeConflict, domain.SeverityWarning) != 1 {
		t.Fatalf("expected mode conflict alert, got %+v", out.Alerts)
	}
	out = m.Apply(sample(t0.Add(2*time.Second), 80, domain.ModeAuto), t0.Add(2*time.Second))
	if countAlerts(out.Alerts, domain.AlertModeConflict, domain.SeverityWarning) != 0 {
		t.Fatal("repeated conflict should stay latched")
	}
}

func TestConnectivityIsTimeDriven(t *testing.T) {
	cfg := DefaultConfig()
	m := New("d1", cfg, t0)
	m.Apply(sample(t0, 80, domain.ModeAuto), t0)

	if alerts := m.Tick(t0.Add(cfg.DegradedAfter)); m.Connectivity() != domain.ConnectivityDegraded ||
		countAlerts(alerts, domain.AlertSignalDegraded, domain.SeverityWarning) != 1 {
		t.Fatalf("expected degraded, got %s %+v", m.Connectivity(), alerts)
	}
	if alerts := m.Tick(t0.Add(cfg.LostAfter + time.Second)); m.Connectivity() != domain.ConnectivityLost ||
		countAlerts(alerts, domain.AlertDroneLost, domain.SeverityWarning) != 1 {
		t.Fatalf("expected lost, got %s %+v", m.Connectivity(), alerts)
	}
	if alerts := m.Tick(t0.Add(cfg.LostCriticalAfter)); countAlerts(alerts, domain.AlertDroneLostLong, domain.SeverityCritical) != 1 {
		t.Fatalf("expected prolonged loss alert, got %+v", alerts)
	}
	if alerts := m.Tick(t0.Add(cfg.LostCriticalAfter + time.Minute)); len(alerts) != 0 {
		t.Fatalf("expected no repeated alerts, got %+v", alerts)
	}

	out := m.Apply(sample(t0.Add(time.Minute), 79, domain.ModeAuto), t0.Add(2*time.Minute))
	if m.Connectivity() != domain.ConnectivityOnline ||
		countAlerts(out.Alerts, domain.AlertLinkRestored, domain.SeverityInfo) != 1 {
		t.Fatalf("expected recovery, got %s %+v", m.Connectivity(), out.Alerts)
	}
}

func TestWeakSignalAndErrorAlerts(t *testing.T) {
	m := New("d1", DefaultConfig(), t0)
	out := m.Apply(domain.TelemetryEvent{DroneID: "d1", Timestamp: t0, SignalStrength: fptr(10), Errors: []string{"gps_weak"}}, t0)
	if countAlerts(out.Alerts, domain.AlertWeakSignal, domain.SeverityWarning) != 1 {
		t.Fatalf("expected weak signal alert: %+v", out.Alerts)
	}
	if countAlerts(out.Alerts, domain.AlertDroneError, domain.SeverityWarning) != 1 {
		t.Fatalf("expected error alert: %+v", out.Alerts)
	}
	out = m.Apply(domain.TelemetryEvent{DroneID: "d1", Timestamp: t0.Add(time.Second), SignalStrength: fptr(12), Errors: []string{"gps_weak", "motor_temp"}}, t0.Add(time.Second))
	if countAlerts(out.Alerts, domain.AlertWeakSignal, domain.SeverityWarning) != 0 {
		t.Fatal("weak signal alert should be latched")
	}
	if countAlerts(out.Alerts, domain.AlertDroneError, domain.SeverityWarning) != 1 {
		t.Fatalf("only the new error code should alert: %+v", out.Alerts)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg.LostAfter = cfg.DegradedAfter
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when lost threshold does not exceed degraded")
	}
}

func TestPinnedModeIgnoresLaggingReports(t *testing.T) {
	m := New("d1", DefaultConfig(), t0)
	m.ForceMode(domain.ModeEmergencyStopped)
	m.Apply(sample(t0.Add(time.Second), 80, domain.ModeEmergencyStopped), t0.Add(time.Second))

	m.ForceMode(domain.ModeIdle)
	out := m.Apply(sample(t0.Add(2*time.Second), 80, domain.ModeEmergencyStopped), t0.Add(2*time.Second))
	if m.Mode() != domain.ModeIdle {
		t.Fatalf("lagging report undid reset: %s", m.Mode())
	}
	if len(out.Alerts) != 0 {
		t.Fatalf("pinned mode should not alert: %+v", out.Alerts)
	}

	m.Unpin()
	m.Apply(sample(t0.Add(3*time.Second), 80, domain.ModeAuto), t0.Add(3*time.Second))
	if m.Mode() != domain.ModeAuto {
		t.Fatalf("reports ignored after unpin: %s", m.Mode())
	}
}
