package fleet

import (
	"context"
	"time"

	"agrosentry/internal/domain"
	"agrosentry/internal/metrics"
)

// History is optional append-only persistence for alerts and command
// state changes. The engine works without it.
type History interface {
	AppendAlerts(ctx context.Context, alerts []domain.Alert) error
	AppendCommand(ctx context.Context, cmd domain.Command) error
}

// HistoryReader serves persisted history to the API.
type HistoryReader interface {
	ListAlerts(ctx context.Context, droneID string, limit int) ([]domain.Alert, error)
	ListCommands(ctx context.Context, droneID string, limit int) ([]domain.Command, error)
}

// CommandSink delivers newly issued commands to the drone link.
type CommandSink interface {
	DeliverCommand(ctx context.Context, cmd domain.Command) error
}

type historyItem struct {
	alerts  []domain.Alert
	command *domain.Command
}

const historyWriteTimeout = 5 * time.Second

func (e *Engine) recordHistory(item historyItem) {
	if e.history == nil {
		return
	}
	select {
	case e.historyCh <- item:
	default:
		metrics.IncHistoryFailure("shed")
	}
}

func (e *Engine) runHistory() {
	defer close(e.historyDone)
	for item := range e.historyCh {
		ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
		var err error
		if item.command != nil {
			err = e.history.AppendCommand(ctx, *item.command)
		} else {
			err = e.history.AppendAlerts(ctx, item.alerts)
		}
		cancel()
		if err != nil {
			metrics.IncHistoryFailure("write")
			e.logger.Warn("history write failed", "error", err)
		}
	}
}
