package ingest

import (
	"fmt"
	"math"
	"strings"

	"agrosentry/internal/domain"
)

// Normalize validates a raw sample and converts it into a TelemetryEvent.
// Every failure wraps domain.ErrInvalid.
func Normalize(s Sample) (domain.TelemetryEvent, error) {
	droneID := strings.TrimSpace(s.DroneID)
	if droneID == "" {
		return domain.TelemetryEvent{}, fmt.Errorf("droneId required: %w", domain.ErrInvalid)
	}
	if s.Timestamp.IsZero() {
		return domain.TelemetryEvent{}, fmt.Errorf("timestamp required: %w", domain.ErrInvalid)
	}

	event := domain.TelemetryEvent{
		DroneID:   droneID,
		Timestamp: s.Timestamp.UTC(),
		Charging:  s.Charging,
	}

	if s.Battery != nil {
		if !finite(*s.Battery) || *s.Battery < 0 || *s.Battery > 100 {
			return domain.TelemetryEvent{}, fmt.Errorf("battery must be 0-100: %w", domain.ErrInvalid)
		}
		b := *s.Battery
		event.Battery = &b
	}
	if s.Position != nil {
		pos := domain.Position{Lat: s.Position.Lat, Lng: s.Position.Lng, Altitude: s.Position.Altitude}
		if err := domain.ValidatePosition(pos); err != nil {
			return domain.TelemetryEvent{}, fmt.Errorf("%v: %w", err, domain.ErrInvalid)
		}
		event.Position = &pos
	}
	if s.Mode != "" {
		mode, err := domain.ParseMode(s.Mode)
		if err != nil {
			return domain.TelemetryEvent{}, err
		}
		event.Mode = &mode
	}
	if s.SignalStrength != nil {
		if !finite(*s.SignalStrength) || *s.SignalStrength < 0 || *s.SignalStrength > 100 {
			return domain.TelemetryEvent{}, fmt.Errorf("signalStrength must be 0-100: %w", domain.ErrInvalid)
		}
		sig := *s.SignalStrength
		event.SignalStrength = &sig
	}
	if s.Errors != nil {
		codes := make([]string, 0, len(s.Errors))
		for _, code := range s.Errors {
			code = strings.TrimSpace(code)
			if code != "" {
				codes = append(codes, code)
			}
		}
		event.Errors = codes
	}
	if s.CommandAck != nil {
		if strings.TrimSpace(s.CommandAck.CommandID) == "" {
			return domain.TelemetryEvent{}, fmt.Errorf("commandAck.commandId required: %w", domain.ErrInvalid)
		}
		result, err := domain.ParseAckResult(s.CommandAck.Result)
		if err != nil {
			return domain.TelemetryEvent{}, err
		}
		event.Ack = &domain.CommandAck{
			CommandID: strings.TrimSpace(s.CommandAck.CommandID),
			Result:    result,
			Detail:    s.CommandAck.Detail,
		}
	}
	return event, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
