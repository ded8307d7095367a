package domain

import "time"

const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleDrone    = "drone"
)

type Mode string

const (
	ModeIdle             Mode = "IDLE"
	ModeAuto             Mode = "AUTO"
	ModeManual           Mode = "MANUAL"
	ModeRTL              Mode = "RTL"
	ModeGuided           Mode = "GUIDED"
	ModeEmergencyStopped Mode = "EMERGENCY_STOPPED"
)

type Connectivity string

const (
	ConnectivityOnline   Connectivity = "ONLINE"
	ConnectivityDegraded Connectivity = "DEGRADED"
	ConnectivityLost     Connectivity = "LOST"
)

type CommandKind string

const (
	CommandTakeoff       CommandKind = "TAKEOFF"
	CommandLand          CommandKind = "LAND"
	CommandPause         CommandKind = "PAUSE"
	CommandResume        CommandKind = "RESUME"
	CommandRTL           CommandKind = "RTL"
	CommandEmergencyStop CommandKind = "EMERGENCY_STOP"
	CommandGotoWaypoint  CommandKind = "GOTO_WAYPOINT"
	CommandReset         CommandKind = "RESET"
)

type CommandState string

const (
	CommandPending   CommandState = "PENDING"
	CommandAcked     CommandState = "ACKED"
	CommandCompleted CommandState = "COMPLETED"
	CommandTimedOut  CommandState = "TIMED_OUT"
	CommandRejected  CommandState = "REJECTED"
)

type MissionStatus string

const (
	MissionPlanned   MissionStatus = "PLANNED"
	MissionRunning   MissionStatus = "RUNNING"
	MissionPaused    MissionStatus = "PAUSED"
	MissionCompleted MissionStatus = "COMPLETED"
	MissionAborted   MissionStatus = "ABORTED"
)

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

type Position struct {
	Lat      float64
	Lng      float64
	Altitude float64
}

type Drone struct {
	ID             string
	Mode           Mode
	Connectivity   Connectivity
	Battery        float64
	Position       *Position
	SignalStrength *float64
	Errors         []string
	LastSeenAt     time.Time
	LastSampleAt   time.Time
	ActiveCommand  *Command
	CreatedAt      time.Time
}

// Clone returns a deep copy safe to hand to other goroutines.
func (d Drone) Clone() Drone {
	out := d
	if d.Position != nil {
		pos := *d.Position
		out.Position = &pos
	}
	if d.SignalStrength != nil {
		s := *d.SignalStrength
		out.SignalStrength = &s
	}
	if d.Errors != nil {
		out.Errors = append([]string(nil), d.Errors...)
	}
	if d.ActiveCommand != nil {
		cmd := d.ActiveCommand.Clone()
		out.ActiveCommand = &cmd
	}
	return out
}

type Waypoint struct {
	ID       string
	Lat      float64
	Lng      float64
	Altitude float64
	Action   string
}

type Command struct {
	ID                string
	DroneID           string
	Kind              CommandKind
	State             CommandState
	TargetMode        Mode
	Waypoint          *Waypoint
	MissionOriginated bool
	Reason            string
	IssuedAt          time.Time
	Deadline          time.Time
	AckedAt           *time.Time
	ResolvedAt        *time.Time
}

func (c Command) Clone() Command {
	out := c
	if c.Waypoint != nil {
		wp := *c.Waypoint
		out.Waypoint = &wp
	}
	if c.AckedAt != nil {
		t := *c.AckedAt
		out.AckedAt = &t
	}
	if c.ResolvedAt != nil {
		t := *c.ResolvedAt
		out.ResolvedAt = &t
	}
	return out
}

// InFlight reports whether the command still occupies the dispatcher slot.
func (c Command) InFlight() bool {
	return c.State == CommandPending || c.State == CommandAcked
}

type Mission struct {
	DroneID              string
	Waypoints            []Waypoint
	Cursor               int
	Status               MissionStatus
	ActiveCommandID      string
	DistanceToNextMeters *float64
	ETASeconds           *int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (m Mission) Clone() Mission {
	out := m
	out.Waypoints = append([]Waypoint(nil), m.Waypoints...)
	if m.DistanceToNextMeters != nil {
		d := *m.DistanceToNextMeters
		out.DistanceToNextMeters = &d
	}
	if m.ETASeconds != nil {
		eta := *m.ETASeconds
		out.ETASeconds = &eta
	}
	return out
}

// Current returns the waypoint under the cursor, if any.
func (m Mission) Current() (Waypoint, bool) {
	if m.Cursor < 0 || m.Cursor >= len(m.Waypoints) {
		return Waypoint{}, false
	}
	return m.Waypoints[m.Cursor], true
}

type Alert struct {
	ID        string
	DroneID   string
	Severity  Severity
	Code      string
	Message   string
	Timestamp time.Time
}

const (
	AlertLowBattery       = "low_battery"
	AlertWeakSignal       = "weak_signal"
	AlertSignalDegraded   = "signal_degraded"
	AlertDroneLost        = "drone_lost"
	AlertDroneLostLong    = "drone_lost_prolonged"
	AlertLinkRestored     = "link_restored"
	AlertModeConflict     = "mode_conflict"
	AlertDroneError       = "drone_error"
	AlertCommandTimedOut  = "command_timed_out"
	AlertCommandRejected  = "command_rejected"
	AlertDroneEvicted     = "drone_evicted"
	AlertMissionCompleted = "mission_completed"
	AlertMissionPaused    = "mission_paused"
)

func IsTerminalCommand(state CommandState) bool {
	switch state {
	case CommandCompleted, CommandTimedOut, CommandRejected:
		return true
	default:
		return false
	}
}

func IsTerminalMission(status MissionStatus) bool {
	return status == MissionCompleted || status == MissionAborted
}
