package fleet

import (
	"sync"
	"sync/atomic"
	"time"

	"agrosentry/internal/domain"
	"agrosentry/internal/metrics"
)

// Snapshot is an immutable point-in-time view of the fleet. Alerts holds
// the alerts emitted since the previous snapshot.
type Snapshot struct {
	Version  uint64
	TakenAt  time.Time
	Drones   []domain.Drone
	Missions []domain.Mission
	Alerts   []domain.Alert
}

// Subscription receives snapshots on C until Close. Its backlog is
// bounded; a slow reader loses the oldest queued snapshots.
type Subscription struct {
	ch  chan Snapshot
	pub *publisher

	closeOnce sync.Once
}

func (s *Subscription) C() <-chan Snapshot {
	return s.ch
}

func (s *Subscription) Close() {
	s.pub.unsubscribe(s)
}

// deliver never blocks. Only the publisher calls it, under its lock.
func (s *Subscription) deliver(snap Snapshot) {
	select {
	case s.ch <- snap:
		return
	default:
	}
	select {
	case <-s.ch:
		metrics.IncSnapshotDropped()
	default:
	}
	select {
	case s.ch <- snap:
	default:
		metrics.IncSnapshotDropped()
	}
}

type publisher struct {
	backlog int

	buildMu sync.Mutex
	version uint64
	last    atomic.Pointer[Snapshot]

	subsMu sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

func newPublisher(backlog int) *publisher {
	return &publisher{backlog: backlog, subs: make(map[*Subscription]struct{})}
}

// publish serializes snapshot construction so versions reach subscribers
// in order.
func (p *publisher) publish(build func() Snapshot) Snapshot {
	p.buildMu.Lock()
	defer p.buildMu.Unlock()

	snap := build()
	p.version++
	snap.Version = p.version
	p.last.Store(&snap)

	p.subsMu.Lock()
	for sub := range p.subs {
		sub.deliver(snap)
	}
	p.subsMu.Unlock()
	metrics.IncSnapshotPublished()
	return snap
}

// subscribe primes the new subscription with the latest snapshot so a
// late observer does not wait a full interval for fleet state.
func (p *publisher) subscribe() *Subscription {
	sub := &Subscription{ch: make(chan Snapshot, p.backlog), pub: p}
	p.subsMu.Lock()
	defer p.subsMu.Unlock()
	if p.closed {
		close(sub.ch)
		sub.closeOnce.Do(func() {})
		return sub
	}
	if last := p.last.Load(); last != nil {
		primed := *last
		primed.Alerts = nil
		sub.ch <- primed
	}
	p.subs[sub] = struct{}{}
	return sub
}

func (p *publisher) unsubscribe(sub *Subscription) {
	p.subsMu.Lock()
	defer p.subsMu.Unlock()
	sub.closeOnce.Do(func() {
		delete(p.subs, sub)
		close(sub.ch)
	})
}

func (p *publisher) closeAll() {
	p.subsMu.Lock()
	defer p.subsMu.Unlock()
	p.closed = true
	for sub := range p.subs {
		sub.closeOnce.Do(func() { close(sub.ch) })
	}
	p.subs = make(map[*Subscription]struct{})
}
