// Package fleet owns the set of known drones. Each drone is served by one
// worker goroutine that applies telemetry, commands and mission operations
// strictly in order; reads go through immutable views published by the
// workers.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"agrosentry/internal/dispatch"
	"agrosentry/internal/domain"
	"agrosentry/internal/metrics"
)

type Engine struct {
	cfg     Config
	clock   clockwork.Clock
	logger  *slog.Logger
	history History
	sink    CommandSink

	mu      sync.RWMutex
	workers map[string]*worker
	closed  bool

	commandsMu sync.RWMutex
	commands   map[string]domain.Command

	alertsMu sync.Mutex
	alerts   []domain.Alert

	publisher *publisher

	quit        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
	historyCh   chan historyItem
	historyDone chan struct{}
}

type Option func(*Engine)

func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithHistory(h History) Option {
	return func(e *Engine) { e.history = h }
}

func WithCommandSink(s CommandSink) Option {
	return func(e *Engine) { e.sink = s }
}

type CommandParams struct {
	Kind     domain.CommandKind
	Waypoint *domain.Waypoint
	Timeout  time.Duration
}

func New(cfg Config, opts ...Option) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:      cfg,
		clock:    clockwork.NewRealClock(),
		logger:   slog.Default(),
		workers:  make(map[string]*worker),
		commands: make(map[string]domain.Command),
		quit:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.publisher = newPublisher(cfg.SubscriberBacklog)
	if e.history != nil {
		e.historyCh = make(chan historyItem, cfg.HistoryBuffer)
		e.historyDone = make(chan struct{})
		go e.runHistory()
	}
	return e, nil
}

// Run drives the scheduler and the snapshot loop until ctx is done, then
// stops every worker.
func (e *Engine) Run(ctx context.Context) error {
	tick := e.clock.NewTicker(e.cfg.TickInterval)
	defer tick.Stop()
	snap := e.clock.NewTicker(e.cfg.SnapshotInterval)
	defer snap.Stop()

	e.logger.Info("fleet engine started",
		"tick_interval", e.cfg.TickInterval,
		"snapshot_interval", e.cfg.SnapshotInterval,
		"evict_after", e.cfg.EvictAfter)
	for {
		select {
		case <-ctx.Done():
			e.Close()
			return nil
		case <-e.quit:
			return nil
		case now := <-tick.Chan():
			e.Tick(now)
		case <-snap.Chan():
			e.PublishSnapshot()
		}
	}
}

// Close stops all workers, flushes pending history and ends every
// subscription. It is safe to call more than once.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		close(e.quit)
		e.wg.Wait()
		if e.historyCh != nil {
			close(e.historyCh)
			<-e.historyDone
		}
		e.publisher.closeAll()
	})
}

// Ingest hands a normalized telemetry event to the drone's worker without
// blocking. A drone is created on its first event.
func (e *Engine) Ingest(event domain.TelemetryEvent) error {
	if event.DroneID == "" {
		return fmt.Errorf("telemetry without drone id: %w", domain.ErrInvalid)
	}
	received := e.clock.Now()
	return e.submit(event.DroneID, true, false, func(w *worker) {
		w.applyTelemetry(event, received)
	})
}

// IssueCommand validates and dispatches a command. It returns once the
// drone's worker has accepted or refused it; the outcome is observed via
// CommandStatus or snapshots.
func (e *Engine) IssueCommand(ctx context.Context, droneID string, params CommandParams) (domain.Command, error) {
	var issued domain.Command
	urgent := params.Kind == domain.CommandEmergencyStop
	err := e.call(ctx, droneID, urgent, func(w *worker) error {
		cmd, err := w.issue(dispatch.Request{
			Kind:     params.Kind,
			Waypoint: params.Waypoint,
			Timeout:  params.Timeout,
		})
		issued = cmd
		return err
	})
	result := "accepted"
	if err != nil {
		result = errorLabel(err)
	}
	metrics.IncCommandRequest(string(params.Kind), result)
	return issued, err
}

func (e *Engine) QueryDrone(droneID string) (domain.Drone, error) {
	w, err := e.lookup(droneID)
	if err != nil {
		return domain.Drone{}, err
	}
	return w.view.Load().drone.Clone(), nil
}

// ListDrones returns every known drone sorted by id.
func (e *Engine) ListDrones() []domain.Drone {
	views := e.views()
	out := make([]domain.Drone, 0, len(views))
	for _, v := range views {
		out = append(out, v.drone.Clone())
	}
	return out
}

func (e *Engine) Size() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.workers)
}

func (e *Engine) CommandStatus(commandID string) (domain.Command, error) {
	e.commandsMu.RLock()
	defer e.commandsMu.RUnlock()
	cmd, ok := e.commands[commandID]
	if !ok {
		return domain.Command{}, fmt.Errorf("command %s: %w", commandID, domain.ErrNotFound)
	}
	return cmd.Clone(), nil
}

func (e *Engine) GetMission(droneID string) (domain.Mission, error) {
	w, err := e.lookup(droneID)
	if err != nil {
		return domain.Mission{}, err
	}
	v := w.view.Load()
	if v.mission == nil {
		return domain.Mission{}, fmt.Errorf("mission for drone %s: %w", droneID, domain.ErrNotFound)
	}
	return v.mission.Clone(), nil
}

func (e *Engine) ReplanMission(ctx context.Context, droneID string, waypoints []domain.Waypoint) (domain.Mission, error) {
	return e.missionOp(ctx, droneID, func(w *worker) error {
		return w.mission.Replan(waypoints, e.clock.Now())
	})
}

func (e *Engine) StartMission(ctx context.Context, droneID string) (domain.Mission, error) {
	return e.missionOp(ctx, droneID, func(w *worker) error {
		return w.mission.Start(w.machine.Mode(), e.clock.Now())
	})
}

func (e *Engine) PauseMission(ctx context.Context, droneID string) (domain.Mission, error) {
	return e.missionOp(ctx, droneID, func(w *worker) error {
		return w.mission.Pause(e.clock.Now())
	})
}

func (e *Engine) ResumeMission(ctx context.Context, droneID string) (domain.Mission, error) {
	return e.missionOp(ctx, droneID, func(w *worker) error {
		return w.mission.Resume(e.clock.Now())
	})
}

func (e *Engine) AbortMission(ctx context.Context, droneID string) (domain.Mission, error) {
	return e.missionOp(ctx, droneID, func(w *worker) error {
		now := e.clock.Now()
		cancel, err := w.mission.Abort(now)
		if err != nil {
			return err
		}
		w.handle(w.dispatcher.Cancel(cancel, "mission aborted", now), now)
		return nil
	})
}

func (e *Engine) missionOp(ctx context.Context, droneID string, fn func(w *worker) error) (domain.Mission, error) {
	var out domain.Mission
	err := e.call(ctx, droneID, false, func(w *worker) error {
		if err := fn(w); err != nil {
			return err
		}
		w.pump(e.clock.Now())
		m, ok := w.mission.Get()
		if !ok {
			return fmt.Errorf("mission for drone %s: %w", droneID, domain.ErrNotFound)
		}
		out = m
		return nil
	})
	return out, err
}

// Tick enqueues a scheduler tick to every worker and prunes resolved
// commands past their retention.
func (e *Engine) Tick(now time.Time) {
	e.mu.RLock()
	for _, w := range e.workers {
		w.scheduleTick(now)
	}
	e.mu.RUnlock()
	e.pruneCommands(now)
}

// PublishSnapshot builds a snapshot from the current drone views plus the
// alerts buffered since the previous one and fans it out.
func (e *Engine) PublishSnapshot() Snapshot {
	return e.publisher.publish(func() Snapshot {
		views := e.views()
		snap := Snapshot{
			TakenAt: e.clock.Now(),
			Drones:  make([]domain.Drone, 0, len(views)),
			Alerts:  e.drainAlerts(),
		}
		for _, v := range views {
			snap.Drones = append(snap.Drones, v.drone)
			if v.mission != nil {
				snap.Missions = append(snap.Missions, *v.mission)
			}
		}
		return snap
	})
}

func (e *Engine) Subscribe() *Subscription {
	return e.publisher.subscribe()
}

func (e *Engine) lookup(droneID string) (*worker, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	w, ok := e.workers[droneID]
	if !ok {
		return nil, fmt.Errorf("drone %s: %w", droneID, domain.ErrNotFound)
	}
	return w, nil
}

func (e *Engine) views() []*view {
	e.mu.RLock()
	out := make([]*view, 0, len(e.workers))
	for _, w := range e.workers {
		out = append(out, w.view.Load())
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].drone.ID < out[j].drone.ID })
	return out
}

// submit enqueues op without blocking. The registry lock is held while
// enqueueing so a worker is never evicted with work in its mailbox.
func (e *Engine) submit(droneID string, create, urgent bool, op func(*worker)) error {
	e.mu.RLock()
	w, ok := e.workers[droneID]
	closed := e.closed
	if ok && !closed {
		err := w.enqueue(op, urgent)
		e.mu.RUnlock()
		return err
	}
	e.mu.RUnlock()
	if closed {
		return domain.ErrClosed
	}
	if !create {
		return fmt.Errorf("drone %s: %w", droneID, domain.ErrNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return domain.ErrClosed
	}
	w, ok = e.workers[droneID]
	if !ok {
		w = newWorker(e, droneID, e.clock.Now())
		e.workers[droneID] = w
		e.wg.Add(1)
		go w.run()
		e.logger.Info("drone registered", "drone_id", droneID)
	}
	return w.enqueue(op, urgent)
}

// call runs fn on the drone's worker and waits for its result. fn is
// skipped when ctx is done before the worker reaches it, so a caller that
// gave up never has its operation applied behind its back.
func (e *Engine) call(ctx context.Context, droneID string, urgent bool, fn func(*worker) error) error {
	done := make(chan error, 1)
	err := e.submit(droneID, false, urgent, func(w *worker) {
		if ctx.Err() != nil {
			done <- ctx.Err()
			return
		}
		finished := false
		defer func() {
			if !finished {
				done <- fmt.Errorf("drone %s: worker fault", droneID)
			}
		}()
		err := fn(w)
		finished = true
		// callers read views right after returning
		w.publish()
		done <- err
	})
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.quit:
		return domain.ErrClosed
	}
}

// evict removes w if it has no queued work. It reports whether the worker
// should stop.
func (e *Engine) evict(w *worker, now time.Time) bool {
	e.mu.Lock()
	if len(w.mailbox) > 0 || len(w.urgent) > 0 || e.workers[w.id] != w {
		e.mu.Unlock()
		return false
	}
	delete(e.workers, w.id)
	e.mu.Unlock()

	metrics.IncEviction()
	e.logger.Warn("drone evicted", "drone_id", w.id, "last_seen_at", w.machine.LastSeenAt())
	e.emit(domain.NewAlert(w.id, domain.SeverityWarning, domain.AlertDroneEvicted,
		"drone evicted after "+now.Sub(w.machine.LastSeenAt()).Truncate(time.Second).String()+" of silence", now))
	return true
}

func (e *Engine) emit(alerts ...domain.Alert) {
	if len(alerts) == 0 {
		return
	}
	dropped := 0
	e.alertsMu.Lock()
	for _, a := range alerts {
		metrics.IncAlert(string(a.Severity))
		if len(e.alerts) >= e.cfg.AlertBuffer {
			e.alerts = e.alerts[1:]
			dropped++
		}
		e.alerts = append(e.alerts, a)
	}
	e.alertsMu.Unlock()
	metrics.IncAlertsDropped(dropped)

	for _, a := range alerts {
		level := slog.LevelInfo
		switch a.Severity {
		case domain.SeverityWarning:
			level = slog.LevelWarn
		case domain.SeverityCritical:
			level = slog.LevelError
		}
		e.logger.Log(context.Background(), level, "alert",
			"drone_id", a.DroneID, "code", a.Code, "severity", a.Severity, "message", a.Message)
	}
	e.recordHistory(historyItem{alerts: append([]domain.Alert(nil), alerts...)})
}

func (e *Engine) drainAlerts() []domain.Alert {
	e.alertsMu.Lock()
	defer e.alertsMu.Unlock()
	out := e.alerts
	e.alerts = nil
	return out
}

func (e *Engine) recordCommand(cmd domain.Command) {
	e.commandsMu.Lock()
	e.commands[cmd.ID] = cmd.Clone()
	e.commandsMu.Unlock()
	if domain.IsTerminalCommand(cmd.State) {
		metrics.IncCommandResult(string(cmd.State))
	}
	c := cmd.Clone()
	e.recordHistory(historyItem{command: &c})
}

func (e *Engine) pruneCommands(now time.Time) {
	cutoff := now.Add(-e.cfg.CommandRetention)
	e.commandsMu.Lock()
	defer e.commandsMu.Unlock()
	for id, cmd := range e.commands {
		if cmd.ResolvedAt != nil && cmd.ResolvedAt.Before(cutoff) {
			delete(e.commands, id)
		}
	}
}

func (e *Engine) deliver(cmd domain.Command) {
	if e.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.sink.DeliverCommand(ctx, cmd); err != nil {
		e.logger.Warn("command delivery failed", "drone_id", cmd.DroneID, "command_id", cmd.ID, "kind", cmd.Kind, "error", err)
	}
}

func errorLabel(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, domain.ErrCommandBusy):
		return "busy"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalid):
		return "invalid"
	case errors.Is(err, domain.ErrOverloaded):
		return "overloaded"
	default:
		return "error"
	}
}
