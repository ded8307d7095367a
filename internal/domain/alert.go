package domain

import (
	"time"

	"github.com/google/uuid"
)

func NewAlert(droneID string, severity Severity, code, message string, at time.Time) Alert {
	return Alert{
		ID:        uuid.NewString(),
		DroneID:   droneID,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: at,
	}
}
