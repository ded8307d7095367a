package events

import (
	"context"
	"log/slog"
	"time"
)

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type OutboxRepository interface {
	FetchPending(ctx context.Context, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, ids []string) error
}

// OutboxWorker relays persisted events to a Publisher. Events that fail
// to publish stay pending and are retried on the next poll.
type OutboxWorker struct {
	Repo         OutboxRepository
	Publisher    Publisher
	PollInterval time.Duration
	BatchSize    int
	Logger       *slog.Logger
}

func (w *OutboxWorker) Start(ctx context.Context) error {
	if w.PollInterval <= 0 {
		w.PollInterval = time.Second
	}
	if w.BatchSize <= 0 {
		w.BatchSize = 50
	}

	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.RelayOnce(ctx); err != nil {
				w.logger().Warn("outbox relay failed", "error", err)
			}
		}
	}
}

func (w *OutboxWorker) logger() *slog.Logger {
	if w.Logger == nil {
		return slog.Default()
	}
	return w.Logger
}

// RelayOnce publishes one batch and returns how many events were marked.
func (w *OutboxWorker) RelayOnce(ctx context.Context) (int, error) {
	evts, err := w.Repo.FetchPending(ctx, w.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(evts) == 0 {
		return 0, nil
	}
	published := make([]string, 0, len(evts))
	for _, evt := range evts {
		if err := w.Publisher.Publish(ctx, evt); err != nil {
			w.logger().Warn("publish failed", "event_id", evt.ID, "type", evt.Type, "error", err)
			continue
		}
		published = append(published, evt.ID)
	}
	if len(published) == 0 {
		return 0, nil
	}
	if err := w.Repo.MarkPublished(ctx, published); err != nil {
		return 0, err
	}
	return len(published), nil
}
