package domain

import (
	"fmt"
	"math"
	"strings"
)

func ValidatePosition(pos Position) error {
	for _, v := range []float64{pos.Lat, pos.Lng, pos.Altitude} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("position is not finite")
		}
	}
	if pos.Lat < -90 || pos.Lat > 90 {
		return fmt.Errorf("lat out of range")
	}
	if pos.Lng < -180 || pos.Lng > 180 {
		return fmt.Errorf("lng out of range")
	}
	return nil
}

func ValidateWaypoints(waypoints []Waypoint) error {
	seen := make(map[string]struct{}, len(waypoints))
	for i, wp := range waypoints {
		if wp.ID == "" {
			return fmt.Errorf("waypoint %d: missing id: %w", i, ErrInvalid)
		}
		if _, dup := seen[wp.ID]; dup {
			return fmt.Errorf("waypoint %s: duplicate id: %w", wp.ID, ErrInvalid)
		}
		seen[wp.ID] = struct{}{}
		if err := ValidatePosition(Position{Lat: wp.Lat, Lng: wp.Lng, Altitude: wp.Altitude}); err != nil {
			return fmt.Errorf("waypoint %s: %v: %w", wp.ID, err, ErrInvalid)
		}
		if wp.Altitude < 0 {
			return fmt.Errorf("waypoint %s: negative altitude: %w", wp.ID, ErrInvalid)
		}
	}
	return nil
}

func ValidateRole(role string) bool {
	switch role {
	case RoleAdmin, RoleOperator, RoleDrone:
		return true
	default:
		return false
	}
}

func ParseMode(s string) (Mode, error) {
	mode := Mode(strings.ToUpper(strings.TrimSpace(s)))
	switch mode {
	case ModeIdle, ModeAuto, ModeManual, ModeRTL, ModeGuided, ModeEmergencyStopped:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown mode %q: %w", s, ErrInvalid)
	}
}

func ParseCommandKind(s string) (CommandKind, error) {
	kind := CommandKind(strings.ToUpper(strings.TrimSpace(s)))
	switch kind {
	case CommandTakeoff, CommandLand, CommandPause, CommandResume, CommandRTL,
		CommandEmergencyStop, CommandGotoWaypoint, CommandReset:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown command kind %q: %w", s, ErrInvalid)
	}
}

func ParseAckResult(s string) (AckResult, error) {
	result := AckResult(strings.ToUpper(strings.TrimSpace(s)))
	switch result {
	case AckAccepted, AckCompleted, AckRejected, AckFailed:
		return result, nil
	case "":
		return AckAccepted, nil
	default:
		return "", fmt.Errorf("unknown ack result %q: %w", s, ErrInvalid)
	}
}
