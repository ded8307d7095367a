// Package dispatch arbitrates command issuance for a single drone. It keeps
// at most one command in flight and drives its lifecycle from acks, mode
// observations and deadlines.
package dispatch

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"agrosentry/internal/domain"
)

const (
	DefaultTimeout = 30 * time.Second

	reasonPreempted = "preempted by emergency stop"
)

type Request struct {
	Kind              domain.CommandKind
	Waypoint          *domain.Waypoint
	Timeout           time.Duration
	MissionOriginated bool
}

// State is what the dispatcher needs to know about the drone when a
// command is issued.
type State struct {
	Mode         domain.Mode
	Connectivity domain.Connectivity
}

// Result lists commands whose state changed, in the order they changed,
// plus alerts raised along the way.
type Result struct {
	Changed []domain.Command
	Alerts  []domain.Alert
}

func (r *Result) merge(other Result) {
	r.Changed = append(r.Changed, other.Changed...)
	r.Alerts = append(r.Alerts, other.Alerts...)
}

type Dispatcher struct {
	droneID        string
	defaultTimeout time.Duration
	active         *domain.Command
	newID          func() string
}

func New(droneID string, defaultTimeout time.Duration) *Dispatcher {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Dispatcher{droneID: droneID, defaultTimeout: defaultTimeout, newID: uuid.NewString}
}

// Active returns a copy of the in-flight command, if any.
func (d *Dispatcher) Active() *domain.Command {
	if d.active == nil {
		return nil
	}
	c := d.active.Clone()
	return &c
}

func (d *Dispatcher) Busy() bool {
	return d.active != nil && d.active.InFlight()
}

// Issue validates req against the drone state and makes it the in-flight
// command. EMERGENCY_STOP preempts whatever is in flight; every other kind
// fails with ErrCommandBusy while the slot is taken.
func (d *Dispatcher) Issue(req Request, st State, now time.Time) (domain.Command, Result, error) {
	var res Result
	if req.Kind == domain.CommandGotoWaypoint && req.Waypoint == nil {
		return domain.Command{}, res, fmt.Errorf("goto waypoint requires a waypoint: %w", domain.ErrInvalid)
	}
	if req.Kind != domain.CommandEmergencyStop {
		if st.Connectivity == domain.ConnectivityLost {
			return domain.Command{}, res, fmt.Errorf("drone %s: %w: %w", d.droneID, domain.ErrDroneLost, domain.ErrInvalidTransition)
		}
		if d.Busy() {
			return domain.Command{}, res, fmt.Errorf("drone %s has command %s in flight: %w", d.droneID, d.active.ID, domain.ErrCommandBusy)
		}
	}
	target, err := domain.CommandPrecondition(req.Kind, st.Mode)
	if err != nil {
		return domain.Command{}, res, fmt.Errorf("%s not allowed in mode %s: %w", req.Kind, st.Mode, err)
	}

	if d.Busy() {
		res.merge(d.resolve(domain.CommandRejected, reasonPreempted, now))
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}
	cmd := domain.Command{
		ID:                d.newID(),
		DroneID:           d.droneID,
		Kind:              req.Kind,
		State:             domain.CommandPending,
		TargetMode:        target,
		MissionOriginated: req.MissionOriginated,
		IssuedAt:          now,
		Deadline:          now.Add(timeout),
	}
	if req.Waypoint != nil {
		wp := *req.Waypoint
		cmd.Waypoint = &wp
	}
	d.active = &cmd
	res.Changed = append(res.Changed, cmd.Clone())
	return cmd.Clone(), res, nil
}

// Ack applies a command acknowledgment. Acks for unknown or already
// resolved commands are ignored.
func (d *Dispatcher) Ack(ack domain.CommandAck, mode domain.Mode, now time.Time) Result {
	var res Result
	if !d.Busy() || d.active.ID != ack.CommandID {
		return res
	}
	switch ack.Result {
	case domain.AckRejected, domain.AckFailed:
		reason := ack.Detail
		if reason == "" {
			reason = "drone reported " + string(ack.Result)
		}
		kind := d.active.Kind
		id := d.active.ID
		res.merge(d.resolve(domain.CommandRejected, reason, now))
		res.Alerts = append(res.Alerts, domain.NewAlert(d.droneID, domain.SeverityWarning, domain.AlertCommandRejected,
			fmt.Sprintf("%s command %s rejected: %s", kind, id, reason), now))
		return res
	}

	if d.active.State == domain.CommandPending {
		at := now
		d.active.State = domain.CommandAcked
		d.active.AckedAt = &at
		res.Changed = append(res.Changed, d.active.Clone())
	}
	if ack.Result == domain.AckCompleted && d.active.Kind == domain.CommandGotoWaypoint {
		res.merge(d.resolve(domain.CommandCompleted, "", now))
		return res
	}
	res.merge(d.Observe(mode, now))
	return res
}

// Observe completes an acked mode-changing command once the drone reports
// its target mode. GOTO_WAYPOINT only completes on an explicit ack.
func (d *Dispatcher) Observe(mode domain.Mode, now time.Time) Result {
	if !d.Busy() || d.active.State != domain.CommandAcked || d.active.TargetMode == "" {
		return Result{}
	}
	if mode != d.active.TargetMode {
		return Result{}
	}
	return d.resolve(domain.CommandCompleted, "", now)
}

// Tick times out the in-flight command once its deadline has passed.
func (d *Dispatcher) Tick(now time.Time) Result {
	if !d.Busy() || now.Before(d.active.Deadline) {
		return Result{}
	}
	kind := d.active.Kind
	id := d.active.ID
	res := d.resolve(domain.CommandTimedOut, "deadline exceeded", now)
	res.Alerts = append(res.Alerts, domain.NewAlert(d.droneID, domain.SeverityCritical, domain.AlertCommandTimedOut,
		fmt.Sprintf("%s command %s timed out", kind, id), now))
	return res
}

// Cancel rejects the in-flight command if it has the given id.
func (d *Dispatcher) Cancel(commandID, reason string, now time.Time) Result {
	if commandID == "" || !d.Busy() || d.active.ID != commandID {
		return Result{}
	}
	return d.resolve(domain.CommandRejected, reason, now)
}

func (d *Dispatcher) resolve(state domain.CommandState, reason string, now time.Time) Result {
	at := now
	d.active.State = state
	d.active.Reason = reason
	d.active.ResolvedAt = &at
	done := d.active.Clone()
	d.active = nil
	return Result{Changed: []domain.Command{done}}
}
