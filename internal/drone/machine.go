// Package drone holds the authoritative per-drone state machine. A Machine
// is not safe for concurrent use; the fleet worker owning it serializes
// every call.
package drone

import (
	"fmt"
	"time"

	"agrosentry/internal/domain"
)

type Config struct {
	DegradedAfter     time.Duration
	LostAfter         time.Duration
	LostCriticalAfter time.Duration
	CriticalBattery   float64
	WeakSignal        float64
}

func DefaultConfig() Config {
	return Config{
		DegradedAfter:     5 * time.Second,
		LostAfter:         15 * time.Second,
		LostCriticalAfter: 45 * time.Second,
		CriticalBattery:   15,
		WeakSignal:        20,
	}
}

func (c Config) Validate() error {
	if c.DegradedAfter <= 0 || c.LostAfter <= 0 {
		return fmt.Errorf("connectivity thresholds must be positive: %w", domain.ErrInvalid)
	}
	if c.LostAfter <= c.DegradedAfter {
		return fmt.Errorf("lost threshold must exceed degraded threshold: %w", domain.ErrInvalid)
	}
	if c.LostCriticalAfter < c.LostAfter {
		return fmt.Errorf("lost critical threshold must not be shorter than lost threshold: %w", domain.ErrInvalid)
	}
	return nil
}

// Outcome describes what applying one telemetry event did.
type Outcome struct {
	Stale   bool
	AutoRTL bool
	Alerts  []domain.Alert
	// Ack is forwarded to the dispatcher for fresh samples only.
	Ack *domain.CommandAck
}

type Machine struct {
	cfg   Config
	state domain.Drone

	batteryKnown bool
	lowBattery   bool
	weakSignal   bool
	lostCritical bool
	conflictMode domain.Mode
	// pinned holds a command-forced mode until the drone reports it.
	pinned bool
}

// New creates the state for a drone seen for the first time.
func New(id string, cfg Config, now time.Time) *Machine {
	return &Machine{
		cfg: cfg,
		state: domain.Drone{
			ID:           id,
			Mode:         domain.ModeIdle,
			Connectivity: domain.ConnectivityOnline,
			LastSeenAt:   now,
			CreatedAt:    now,
		},
	}
}

func (m *Machine) Mode() domain.Mode                 { return m.state.Mode }
func (m *Machine) Connectivity() domain.Connectivity { return m.state.Connectivity }
func (m *Machine) LastSeenAt() time.Time             { return m.state.LastSeenAt }

func (m *Machine) Position() *domain.Position {
	if m.state.Position == nil {
		return nil
	}
	pos := *m.state.Position
	return &pos
}

// View returns a deep copy of the current drone state.
func (m *Machine) View() domain.Drone {
	return m.state.Clone()
}

// ForceMode applies a command-driven mode change that bypasses the reported
// transition table: EMERGENCY_STOP from anywhere and RESET out of
// EMERGENCY_STOPPED. Reported modes are ignored until Unpin, so a drone
// still reporting its previous mode cannot undo the change.
func (m *Machine) ForceMode(mode domain.Mode) {
	m.state.Mode = mode
	m.conflictMode = ""
	m.pinned = true
}

func (m *Machine) Unpin() {
	m.pinned = false
}

// Apply merges a telemetry event received at receivedAt.
func (m *Machine) Apply(event domain.TelemetryEvent, receivedAt time.Time) Outcome {
	var out Outcome
	m.state.LastSeenAt = receivedAt

	if !m.state.LastSampleAt.IsZero() && event.Timestamp.Before(m.state.LastSampleAt) {
		out.Stale = true
		out.Alerts = append(out.Alerts, m.refreshConnectivity(receivedAt)...)
		return out
	}
	m.state.LastSampleAt = event.Timestamp

	if event.Position != nil {
		pos := *event.Position
		m.state.Position = &pos
	}
	if event.Mode != nil {
		out.Alerts = append(out.Alerts, m.applyReportedMode(*event.Mode, receivedAt)...)
	}
	if event.Battery != nil {
		m.applyBattery(*event.Battery, event.Charging)
	}
	if alert, rtl := m.checkBattery(receivedAt); alert != nil {
		out.Alerts = append(out.Alerts, *alert)
		out.AutoRTL = rtl
	}
	if event.SignalStrength != nil {
		sig := *event.SignalStrength
		m.state.SignalStrength = &sig
		out.Alerts = append(out.Alerts, m.checkSignal(sig, receivedAt)...)
	}
	if event.Errors != nil {
		out.Alerts = append(out.Alerts, m.applyErrors(event.Errors, receivedAt)...)
	}
	out.Alerts = append(out.Alerts, m.refreshConnectivity(receivedAt)...)
	out.Ack = event.Ack
	return out
}

// Tick recomputes connectivity from the time elapsed since the last sample.
func (m *Machine) Tick(now time.Time) []domain.Alert {
	return m.refreshConnectivity(now)
}

func (m *Machine) applyReportedMode(reported domain.Mode, at time.Time) []domain.Alert {
	current := m.state.Mode
	if reported == current {
		m.conflictMode = ""
		return nil
	}
	if m.pinned {
		return nil
	}
	if domain.CanTransition(current, reported) {
		m.state.Mode = reported
		m.conflictMode = ""
		return nil
	}
	if m.conflictMode == reported {
		return nil
	}
	m.conflictMode = reported
	return []domain.Alert{domain.NewAlert(m.state.ID, domain.SeverityWarning, domain.AlertModeConflict,
		fmt.Sprintf("reported mode %s ignored while %s", reported, current), at)}
}

func (m *Machine) applyBattery(level float64, charging bool) {
	if !m.batteryKnown || charging || m.state.Mode == domain.ModeIdle || level <= m.state.Battery {
		m.state.Battery = level
		m.batteryKnown = true
	}
}

func (m *Machine) checkBattery(at time.Time) (*domain.Alert, bool) {
	if !m.batteryKnown {
		return nil, false
	}
	if m.state.Battery >= m.cfg.CriticalBattery {
		if m.state.Battery > m.cfg.CriticalBattery {
			m.lowBattery = false
		}
		return nil, false
	}
	if m.lowBattery {
		return nil, false
	}
	m.lowBattery = true
	if m.state.Mode == domain.ModeRTL || m.state.Mode == domain.ModeEmergencyStopped {
		alert := domain.NewAlert(m.state.ID, domain.SeverityWarning, domain.AlertLowBattery,
			fmt.Sprintf("battery %.0f%% below critical threshold", m.state.Battery), at)
		return &alert, false
	}
	m.state.Mode = domain.ModeRTL
	m.conflictMode = ""
	alert := domain.NewAlert(m.state.ID, domain.SeverityCritical, domain.AlertLowBattery,
		fmt.Sprintf("battery %.0f%% below critical threshold, returning to launch", m.state.Battery), at)
	return &alert, true
}

func (m *Machine) checkSignal(sig float64, at time.Time) []domain.Alert {
	if sig >= m.cfg.WeakSignal {
		m.weakSignal = false
		return nil
	}
	if m.weakSignal {
		return nil
	}
	m.weakSignal = true
	return []domain.Alert{domain.NewAlert(m.state.ID, domain.SeverityWarning, domain.AlertWeakSignal,
		fmt.Sprintf("signal strength %.0f%% is weak", sig), at)}
}

func (m *Machine) applyErrors(codes []string, at time.Time) []domain.Alert {
	known := make(map[string]struct{}, len(m.state.Errors))
	for _, code := range m.state.Errors {
		known[code] = struct{}{}
	}
	var alerts []domain.Alert
	for _, code := range codes {
		if _, ok := known[code]; ok {
			continue
		}
		known[code] = struct{}{}
		alerts = append(alerts, domain.NewAlert(m.state.ID, domain.SeverityWarning, domain.AlertDroneError,
			"drone reported error "+code, at))
	}
	m.state.Errors = append([]string{}, codes...)
	return alerts
}

func (m *Machine) connectivityAt(now time.Time) domain.Connectivity {
	elapsed := now.Sub(m.state.LastSeenAt)
	switch {
	case elapsed >= m.cfg.LostAfter:
		return domain.ConnectivityLost
	case elapsed >= m.cfg.DegradedAfter:
		return domain.ConnectivityDegraded
	default:
		return domain.ConnectivityOnline
	}
}

func (m *Machine) refreshConnectivity(now time.Time) []domain.Alert {
	prev := m.state.Connectivity
	next := m.connectivityAt(now)
	m.state.Connectivity = next

	var alerts []domain.Alert
	if next != prev {
		switch next {
		case domain.ConnectivityDegraded:
			if prev == domain.ConnectivityOnline {
				alerts = append(alerts, domain.NewAlert(m.state.ID, domain.SeverityWarning, domain.AlertSignalDegraded,
					"no telemetry for "+now.Sub(m.state.LastSeenAt).Truncate(time.Second).String(), now))
			}
		case domain.ConnectivityLost:
			alerts = append(alerts, domain.NewAlert(m.state.ID, domain.SeverityWarning, domain.AlertDroneLost,
				"drone lost, no telemetry for "+now.Sub(m.state.LastSeenAt).Truncate(time.Second).String(), now))
		case domain.ConnectivityOnline:
			m.lostCritical = false
			alerts = append(alerts, domain.NewAlert(m.state.ID, domain.SeverityInfo, domain.AlertLinkRestored,
				"telemetry link restored", now))
		}
	}
	if next == domain.ConnectivityLost && !m.lostCritical && m.cfg.LostCriticalAfter > 0 &&
		now.Sub(m.state.LastSeenAt) >= m.cfg.LostCriticalAfter {
		m.lostCritical = true
		alerts = append(alerts, domain.NewAlert(m.state.ID, domain.SeverityCritical, domain.AlertDroneLostLong,
			"drone lost for "+now.Sub(m.state.LastSeenAt).Truncate(time.Second).String(), now))
	}
	return alerts
}
