package fleet

import (
	"sync/atomic"
	"time"

	"agrosentry/internal/dispatch"
	"agrosentry/internal/domain"
	"agrosentry/internal/drone"
	"agrosentry/internal/metrics"
	"agrosentry/internal/mission"
)

// view is an immutable copy of one drone's state. Workers replace it
// after every operation; readers never see partial updates.
type view struct {
	drone   domain.Drone
	mission *domain.Mission
}

type worker struct {
	id     string
	engine *Engine

	machine    *drone.Machine
	dispatcher *dispatch.Dispatcher
	mission    *mission.Queue

	mailbox chan func(*worker)
	urgent  chan func(*worker)
	// ticks holds at most the latest scheduler tick.
	ticks chan time.Time
	view  atomic.Pointer[view]

	evicting bool
}

func newWorker(e *Engine, id string, now time.Time) *worker {
	w := &worker{
		id:         id,
		engine:     e,
		machine:    drone.New(id, e.cfg.Drone, now),
		dispatcher: dispatch.New(id, e.cfg.CommandTimeout),
		mission:    mission.NewQueue(id),
		mailbox:    make(chan func(*worker), e.cfg.MailboxSize),
		urgent:     make(chan func(*worker), e.cfg.UrgentSize),
		ticks:      make(chan time.Time, 1),
	}
	w.publish()
	return w
}

func (w *worker) enqueue(op func(*worker), urgent bool) error {
	ch := w.mailbox
	if urgent {
		ch = w.urgent
	}
	select {
	case ch <- op:
		return nil
	default:
		return domain.ErrOverloaded
	}
}

// scheduleTick replaces any tick still waiting with now. Ticks never
// compete with telemetry for mailbox space. Only the scheduler calls it.
func (w *worker) scheduleTick(now time.Time) {
	for {
		select {
		case w.ticks <- now:
			return
		default:
		}
		select {
		case <-w.ticks:
		default:
		}
	}
}

// run drains the urgent lane, then a pending tick, before every mailbox
// item.
func (w *worker) run() {
	defer w.engine.wg.Done()
	for {
		select {
		case op := <-w.urgent:
			w.exec(op)
			continue
		default:
		}
		select {
		case now := <-w.ticks:
			w.exec(func(w *worker) { w.tick(now) })
		default:
			select {
			case <-w.engine.quit:
				return
			case op := <-w.urgent:
				w.exec(op)
			case now := <-w.ticks:
				w.exec(func(w *worker) { w.tick(now) })
			case op := <-w.mailbox:
				w.exec(op)
			}
		}
		if w.evicting {
			if w.engine.evict(w, w.engine.clock.Now()) {
				return
			}
			w.evicting = false
		}
	}
}

func (w *worker) exec(op func(*worker)) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncWorkerPanic()
			w.engine.logger.Error("drone worker panic", "drone_id", w.id, "panic", r)
		}
		w.publish()
	}()
	op(w)
}

func (w *worker) publish() {
	d := w.machine.View()
	d.ActiveCommand = w.dispatcher.Active()
	v := &view{drone: d}
	if m, ok := w.mission.Get(); ok {
		v.mission = &m
	}
	w.view.Store(v)
}

func (w *worker) applyTelemetry(event domain.TelemetryEvent, received time.Time) {
	now := w.engine.clock.Now()
	out := w.machine.Apply(event, received)
	w.engine.emit(out.Alerts...)
	if out.Stale {
		metrics.IncTelemetry(metrics.TelemetryStale)
		return
	}
	metrics.IncTelemetry(metrics.TelemetryApplied)
	metrics.ObserveApply(now.Sub(received))

	if out.AutoRTL {
		w.engine.logger.Warn("automatic return to launch", "drone_id", w.id)
		w.engine.emit(w.mission.OnAutoRTL(now)...)
	}
	if out.Ack != nil {
		w.handle(w.dispatcher.Ack(*out.Ack, w.machine.Mode(), now), now)
	}
	w.handle(w.dispatcher.Observe(w.machine.Mode(), now), now)
	w.mission.UpdateProgress(w.machine.Position(), w.engine.cfg.CruiseSpeedMPS)
	w.pump(now)
}

func (w *worker) issue(req dispatch.Request) (domain.Command, error) {
	now := w.engine.clock.Now()
	cmd, res, err := w.dispatcher.Issue(req, dispatch.State{
		Mode:         w.machine.Mode(),
		Connectivity: w.machine.Connectivity(),
	}, now)
	if err != nil {
		return domain.Command{}, err
	}
	if !req.MissionOriginated {
		w.engine.emit(w.mission.OnIssued(cmd.Kind, now)...)
	}
	w.handle(res, now)
	switch cmd.Kind {
	case domain.CommandEmergencyStop:
		w.machine.ForceMode(domain.ModeEmergencyStopped)
	case domain.CommandReset:
		w.machine.ForceMode(domain.ModeIdle)
	}
	w.engine.logger.Info("command issued", "drone_id", w.id, "command_id", cmd.ID, "kind", cmd.Kind,
		"mission", req.MissionOriginated)
	w.engine.deliver(cmd)
	// ES and RESET change the mode at issue time, so an ack alone completes them.
	w.handle(w.dispatcher.Observe(w.machine.Mode(), now), now)
	return cmd, nil
}

// handle records command changes and lets the mission react to them.
func (w *worker) handle(res dispatch.Result, now time.Time) {
	for _, cmd := range res.Changed {
		w.engine.recordCommand(cmd)
		if domain.IsTerminalCommand(cmd.State) {
			if cmd.Kind == domain.CommandEmergencyStop || cmd.Kind == domain.CommandReset {
				w.machine.Unpin()
			}
			w.engine.logger.Info("command resolved", "drone_id", w.id, "command_id", cmd.ID,
				"kind", cmd.Kind, "state", cmd.State, "reason", cmd.Reason)
			w.engine.emit(w.mission.OnCommand(cmd, now)...)
		}
	}
	w.engine.emit(res.Alerts...)
}

// pump dispatches the next mission waypoint when the mission is running
// and the dispatcher is free.
func (w *worker) pump(now time.Time) {
	if w.dispatcher.Busy() || w.machine.Connectivity() == domain.ConnectivityLost {
		return
	}
	mode := w.machine.Mode()
	if mode != domain.ModeAuto && mode != domain.ModeGuided {
		return
	}
	wp, ok := w.mission.Next()
	if !ok {
		return
	}
	cmd, err := w.issue(dispatch.Request{
		Kind:              domain.CommandGotoWaypoint,
		Waypoint:          &wp,
		MissionOriginated: true,
	})
	if err != nil {
		w.engine.logger.Warn("mission waypoint dispatch failed", "drone_id", w.id, "waypoint_id", wp.ID, "error", err)
		return
	}
	w.mission.Bind(cmd.ID, now)
}

func (w *worker) tick(now time.Time) {
	w.engine.emit(w.machine.Tick(now)...)
	w.handle(w.dispatcher.Tick(now), now)
	if now.Sub(w.machine.LastSeenAt()) >= w.engine.cfg.EvictAfter {
		w.evicting = true
		return
	}
	w.pump(now)
}
