package config

import (
	"agrosentry/internal/drone"
	"agrosentry/internal/fleet"
)

// Engine converts the fleet section into the engine configuration.
func (c Config) Engine() fleet.Config {
	cfg := fleet.DefaultConfig()
	cfg.Drone = drone.Config{
		DegradedAfter:     c.Fleet.DegradedAfter,
		LostAfter:         c.Fleet.LostAfter,
		LostCriticalAfter: c.Fleet.LostCriticalAfter,
		CriticalBattery:   c.Fleet.CriticalBattery,
		WeakSignal:        c.Fleet.WeakSignal,
	}
	if cfg.Drone.LostCriticalAfter <= 0 {
		cfg.Drone.LostCriticalAfter = 3 * cfg.Drone.LostAfter
	}
	cfg.EvictAfter = c.Fleet.EvictAfter
	cfg.CommandTimeout = c.Fleet.CommandTimeout
	cfg.TickInterval = c.Fleet.TickInterval
	cfg.SnapshotInterval = c.Fleet.SnapshotInterval
	cfg.MailboxSize = c.Fleet.MailboxSize
	cfg.SubscriberBacklog = c.Fleet.SubscriberBacklog
	cfg.AlertBuffer = c.Fleet.AlertBuffer
	cfg.CruiseSpeedMPS = c.Fleet.CruiseSpeedMPS
	return cfg
}
