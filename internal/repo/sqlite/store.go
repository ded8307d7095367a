package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"agrosentry/internal/domain"
	"agrosentry/internal/events"
	"agrosentry/internal/fleet"
)

const defaultListLimit = 100

// Store is the single-node history backend. It mirrors the Postgres
// store: appends write history rows and outbox events in one transaction.
type Store struct {
	db *sql.DB
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) AppendAlerts(ctx context.Context, alerts []domain.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, alert := range alerts {
			_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO alerts (id, drone_id, severity, code, message, raised_at)
VALUES (?,?,?,?,?,?)`,
				alert.ID, alert.DroneID, string(alert.Severity), alert.Code, alert.Message, alert.Timestamp.UTC())
			if err != nil {
				return err
			}
			if err := enqueue(ctx, tx, events.NewAlertEvent(alert)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) AppendCommand(ctx context.Context, cmd domain.Command) error {
	var waypoint sql.NullString
	if cmd.Waypoint != nil {
		data, err := json.Marshal(waypointJSON(*cmd.Waypoint))
		if err != nil {
			return err
		}
		waypoint = sql.NullString{String: string(data), Valid: true}
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO command_history (
  command_id, drone_id, kind, state, target_mode, waypoint, mission_originated,
  reason, issued_at, deadline, acked_at, resolved_at
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
			cmd.ID, cmd.DroneID, string(cmd.Kind), string(cmd.State),
			nullString(string(cmd.TargetMode)), waypoint, cmd.MissionOriginated,
			nullString(cmd.Reason), cmd.IssuedAt.UTC(), cmd.Deadline.UTC(),
			nullTime(cmd.AckedAt), nullTime(cmd.ResolvedAt))
		if err != nil {
			return err
		}
		return enqueue(ctx, tx, events.NewCommandEvent(cmd))
	})
}

func (s *Store) ListAlerts(ctx context.Context, droneID string, limit int) ([]domain.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, drone_id, severity, code, message, raised_at
FROM alerts WHERE drone_id = ? ORDER BY seq DESC LIMIT ?`, droneID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []domain.Alert
	for rows.Next() {
		var (
			alert    domain.Alert
			severity string
		)
		if err := rows.Scan(&alert.ID, &alert.DroneID, &severity, &alert.Code, &alert.Message, &alert.Timestamp); err != nil {
			return nil, err
		}
		alert.Severity = domain.Severity(severity)
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

func (s *Store) ListCommands(ctx context.Context, droneID string, limit int) ([]domain.Command, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT command_id, drone_id, kind, state, target_mode, waypoint,
  mission_originated, reason, issued_at, deadline, acked_at, resolved_at
FROM command_history WHERE drone_id = ? ORDER BY seq DESC LIMIT ?`, droneID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []domain.Command
	for rows.Next() {
		var (
			cmd         domain.Command
			kind, state string
			targetMode  sql.NullString
			waypoint    sql.NullString
			reason      sql.NullString
			ackedAt     sql.NullTime
			resolvedAt  sql.NullTime
		)
		if err := rows.Scan(&cmd.ID, &cmd.DroneID, &kind, &state, &targetMode, &waypoint,
			&cmd.MissionOriginated, &reason, &cmd.IssuedAt, &cmd.Deadline, &ackedAt, &resolvedAt); err != nil {
			return nil, err
		}
		cmd.Kind = domain.CommandKind(kind)
		cmd.State = domain.CommandState(state)
		cmd.TargetMode = domain.Mode(targetMode.String)
		cmd.Reason = reason.String
		if waypoint.Valid {
			var wp waypointJSON
			if err := json.Unmarshal([]byte(waypoint.String), &wp); err != nil {
				return nil, err
			}
			w := domain.Waypoint(wp)
			cmd.Waypoint = &w
		}
		if ackedAt.Valid {
			cmd.AckedAt = &ackedAt.Time
		}
		if resolvedAt.Valid {
			cmd.ResolvedAt = &resolvedAt.Time
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *Store) FetchPending(ctx context.Context, limit int) ([]events.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, event_type, aggregate_type, aggregate_id, payload, occurred_at
FROM outbox_events WHERE published_at IS NULL ORDER BY seq LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evts []events.Event
	for rows.Next() {
		var (
			evt     events.Event
			payload []byte
		)
		if err := rows.Scan(&evt.ID, &evt.Type, &evt.AggregateType, &evt.AggregateID, &payload, &evt.OccurredAt); err != nil {
			return nil, err
		}
		evt.Payload = payload
		evts = append(evts, evt)
	}
	return evts, rows.Err()
}

func (s *Store) MarkPublished(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, time.Now().UTC())
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	_, err := s.db.ExecContext(ctx, `UPDATE outbox_events SET published_at = ? WHERE id IN (`+placeholders+`)`, args...)
	return err
}

func (s *Store) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM outbox_events WHERE published_at IS NULL`).Scan(&n)
	return n, err
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func enqueue(ctx context.Context, tx *sql.Tx, evt events.Event) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO outbox_events (id, event_type, aggregate_type, aggregate_id, payload, occurred_at)
VALUES (?,?,?,?,?,?)`, evt.ID, evt.Type, evt.AggregateType, evt.AggregateID, []byte(evt.Payload), evt.OccurredAt.UTC())
	return err
}

type waypointJSON struct {
	ID       string  `json:"id"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Altitude float64 `json:"altitude"`
	Action   string  `json:"action,omitempty"`
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultListLimit
	}
	return limit
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: v.UTC(), Valid: true}
}

var (
	_ fleet.History           = (*Store)(nil)
	_ fleet.HistoryReader     = (*Store)(nil)
	_ events.OutboxRepository = (*Store)(nil)
)
