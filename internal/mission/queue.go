// Package mission keeps a drone's waypoint sequence and its forward-only
// cursor.
package mission

import (
	"fmt"
	"time"

	"agrosentry/internal/domain"
)

type Queue struct {
	droneID string
	current *domain.Mission
}

func NewQueue(droneID string) *Queue {
	return &Queue{droneID: droneID}
}

// Get returns a copy of the mission, or false when none was ever planned.
func (q *Queue) Get() (domain.Mission, bool) {
	if q.current == nil {
		return domain.Mission{}, false
	}
	return q.current.Clone(), true
}

func (q *Queue) Status() domain.MissionStatus {
	if q.current == nil {
		return ""
	}
	return q.current.Status
}

// Replan replaces the waypoints from the cursor on and keeps the visited
// prefix. A finished or absent mission is replaced by a new PLANNED one.
func (q *Queue) Replan(waypoints []domain.Waypoint, now time.Time) error {
	if len(waypoints) == 0 {
		return fmt.Errorf("mission needs at least one waypoint: %w", domain.ErrInvalid)
	}
	if q.current == nil || domain.IsTerminalMission(q.current.Status) {
		if err := domain.ValidateWaypoints(waypoints); err != nil {
			return err
		}
		q.current = &domain.Mission{
			DroneID:   q.droneID,
			Waypoints: append([]domain.Waypoint(nil), waypoints...),
			Status:    domain.MissionPlanned,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return nil
	}
	switch q.current.Status {
	case domain.MissionPlanned, domain.MissionPaused:
	default:
		return domain.Rejected(fmt.Sprintf("cannot replan a %s mission", q.current.Status))
	}
	merged := make([]domain.Waypoint, 0, q.current.Cursor+len(waypoints))
	merged = append(merged, q.current.Waypoints[:q.current.Cursor]...)
	merged = append(merged, waypoints...)
	if err := domain.ValidateWaypoints(merged); err != nil {
		return err
	}
	q.current.Waypoints = merged
	q.current.DistanceToNextMeters = nil
	q.current.ETASeconds = nil
	q.current.UpdatedAt = now
	return nil
}

// Start moves a PLANNED mission to RUNNING. The drone must be flying under
// autopilot control.
func (q *Queue) Start(mode domain.Mode, now time.Time) error {
	if q.current == nil {
		return fmt.Errorf("mission for drone %s: %w", q.droneID, domain.ErrNotFound)
	}
	if q.current.Status != domain.MissionPlanned {
		return domain.Rejected(fmt.Sprintf("cannot start a %s mission", q.current.Status))
	}
	if mode != domain.ModeAuto && mode != domain.ModeGuided {
		return domain.Rejected(fmt.Sprintf("drone must be AUTO or GUIDED to start, is %s", mode))
	}
	q.setStatus(domain.MissionRunning, now)
	return nil
}

func (q *Queue) Pause(now time.Time) error {
	if q.current == nil {
		return fmt.Errorf("mission for drone %s: %w", q.droneID, domain.ErrNotFound)
	}
	if q.current.Status != domain.MissionRunning {
		return domain.Rejected(fmt.Sprintf("cannot pause a %s mission", q.current.Status))
	}
	q.setStatus(domain.MissionPaused, now)
	return nil
}

func (q *Queue) Resume(now time.Time) error {
	if q.current == nil {
		return fmt.Errorf("mission for drone %s: %w", q.droneID, domain.ErrNotFound)
	}
	if q.current.Status != domain.MissionPaused {
		return domain.Rejected(fmt.Sprintf("cannot resume a %s mission", q.current.Status))
	}
	q.setStatus(domain.MissionRunning, now)
	return nil
}

// Abort ends the mission and returns the id of the mission command that
// must be cancelled, if one is in flight. The cursor is left untouched.
func (q *Queue) Abort(now time.Time) (string, error) {
	if q.current == nil {
		return "", fmt.Errorf("mission for drone %s: %w", q.droneID, domain.ErrNotFound)
	}
	if domain.IsTerminalMission(q.current.Status) {
		return "", domain.Rejected(fmt.Sprintf("mission already %s", q.current.Status))
	}
	cancel := q.current.ActiveCommandID
	q.current.ActiveCommandID = ""
	q.setStatus(domain.MissionAborted, now)
	return cancel, nil
}

// Next returns the waypoint the worker should dispatch, if the mission is
// running and no mission command is in flight.
func (q *Queue) Next() (domain.Waypoint, bool) {
	if q.current == nil || q.current.Status != domain.MissionRunning || q.current.ActiveCommandID != "" {
		return domain.Waypoint{}, false
	}
	return q.current.Current()
}

// Bind records the GOTO command issued for the cursor waypoint.
func (q *Queue) Bind(commandID string, now time.Time) {
	if q.current == nil {
		return
	}
	q.current.ActiveCommandID = commandID
	q.current.UpdatedAt = now
}

// OnCommand reacts to a mission command reaching a terminal state. The
// cursor advances only when the command bound to the mission completes for
// the waypoint currently under the cursor.
func (q *Queue) OnCommand(cmd domain.Command, now time.Time) []domain.Alert {
	if q.current == nil || cmd.ID == "" || cmd.ID != q.current.ActiveCommandID || !domain.IsTerminalCommand(cmd.State) {
		return nil
	}
	q.current.ActiveCommandID = ""
	q.current.UpdatedAt = now

	if cmd.State == domain.CommandCompleted {
		wp, ok := q.current.Current()
		if !ok || cmd.Waypoint == nil || cmd.Waypoint.ID != wp.ID {
			return nil
		}
		return q.Advance(now)
	}
	if q.current.Status != domain.MissionRunning {
		return nil
	}
	q.setStatus(domain.MissionPaused, now)
	return []domain.Alert{domain.NewAlert(q.droneID, domain.SeverityWarning, domain.AlertMissionPaused,
		fmt.Sprintf("mission paused at waypoint %d: goto %s", q.current.Cursor, cmd.State), now)}
}

// Advance moves the cursor past the current waypoint and completes the
// mission after the last one.
func (q *Queue) Advance(now time.Time) []domain.Alert {
	if q.current == nil || domain.IsTerminalMission(q.current.Status) || q.current.Cursor >= len(q.current.Waypoints) {
		return nil
	}
	q.current.Cursor++
	q.current.UpdatedAt = now
	q.current.DistanceToNextMeters = nil
	q.current.ETASeconds = nil
	if q.current.Cursor < len(q.current.Waypoints) {
		return nil
	}
	q.current.Status = domain.MissionCompleted
	return []domain.Alert{domain.NewAlert(q.droneID, domain.SeverityInfo, domain.AlertMissionCompleted,
		fmt.Sprintf("mission completed, %d waypoints visited", len(q.current.Waypoints)), now)}
}

// OnIssued applies the side effects of an operator or autonomous command
// on the mission status.
func (q *Queue) OnIssued(kind domain.CommandKind, now time.Time) []domain.Alert {
	if q.current == nil || domain.IsTerminalMission(q.current.Status) {
		return nil
	}
	switch kind {
	case domain.CommandEmergencyStop:
		q.current.ActiveCommandID = ""
		q.setStatus(domain.MissionAborted, now)
	case domain.CommandPause, domain.CommandRTL, domain.CommandLand:
		if q.current.Status == domain.MissionRunning {
			q.setStatus(domain.MissionPaused, now)
			return []domain.Alert{domain.NewAlert(q.droneID, domain.SeverityInfo, domain.AlertMissionPaused,
				fmt.Sprintf("mission paused by %s", kind), now)}
		}
	case domain.CommandResume:
		if q.current.Status == domain.MissionPaused {
			q.setStatus(domain.MissionRunning, now)
		}
	}
	return nil
}

// OnAutoRTL pauses a running mission when the drone turned home on its own.
func (q *Queue) OnAutoRTL(now time.Time) []domain.Alert {
	if q.current == nil || q.current.Status != domain.MissionRunning {
		return nil
	}
	q.setStatus(domain.MissionPaused, now)
	return []domain.Alert{domain.NewAlert(q.droneID, domain.SeverityWarning, domain.AlertMissionPaused,
		"mission paused by automatic return to launch", now)}
}

func (q *Queue) setStatus(status domain.MissionStatus, now time.Time) {
	q.current.Status = status
	q.current.UpdatedAt = now
}
