package fleet

import (
	"fmt"
	"time"

	"agrosentry/internal/dispatch"
	"agrosentry/internal/domain"
	"agrosentry/internal/drone"
)

type Config struct {
	Drone drone.Config

	CommandTimeout   time.Duration
	CommandRetention time.Duration
	TickInterval     time.Duration
	SnapshotInterval time.Duration
	// EvictAfter defaults to ten times Drone.LostAfter.
	EvictAfter time.Duration

	MailboxSize       int
	UrgentSize        int
	SubscriberBacklog int
	AlertBuffer       int
	HistoryBuffer     int

	CruiseSpeedMPS float64
}

func DefaultConfig() Config {
	return Config{
		Drone:             drone.DefaultConfig(),
		CommandTimeout:    dispatch.DefaultTimeout,
		CommandRetention:  time.Hour,
		TickInterval:      time.Second,
		SnapshotInterval:  time.Second,
		MailboxSize:       256,
		UrgentSize:        8,
		SubscriberBacklog: 16,
		AlertBuffer:       1024,
		HistoryBuffer:     1024,
		CruiseSpeedMPS:    8,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Drone == (drone.Config{}) {
		c.Drone = def.Drone
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = def.CommandTimeout
	}
	if c.CommandRetention <= 0 {
		c.CommandRetention = def.CommandRetention
	}
	if c.TickInterval <= 0 {
		c.TickInterval = def.TickInterval
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = def.SnapshotInterval
	}
	if c.EvictAfter <= 0 {
		c.EvictAfter = 10 * c.Drone.LostAfter
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = def.MailboxSize
	}
	if c.UrgentSize <= 0 {
		c.UrgentSize = def.UrgentSize
	}
	if c.SubscriberBacklog <= 0 {
		c.SubscriberBacklog = def.SubscriberBacklog
	}
	if c.AlertBuffer <= 0 {
		c.AlertBuffer = def.AlertBuffer
	}
	if c.HistoryBuffer <= 0 {
		c.HistoryBuffer = def.HistoryBuffer
	}
	return c
}

func (c Config) Validate() error {
	if err := c.Drone.Validate(); err != nil {
		return err
	}
	if c.EvictAfter <= c.Drone.LostAfter {
		return fmt.Errorf("eviction window must exceed lost threshold: %w", domain.ErrInvalid)
	}
	return nil
}
