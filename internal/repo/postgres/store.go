package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"agrosentry/internal/domain"
	"agrosentry/internal/events"
	"agrosentry/internal/fleet"
)

const defaultListLimit = 100

// Store persists alert and command history. Every append also enqueues the
// matching outbox event in the same transaction.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

func (s *Store) AppendAlerts(ctx context.Context, alerts []domain.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *Tx) error {
		for _, alert := range alerts {
			if err := tx.InsertAlert(ctx, alert); err != nil {
				return err
			}
			if err := tx.EnqueueEvent(ctx, events.NewAlertEvent(alert)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) AppendCommand(ctx context.Context, cmd domain.Command) error {
	return s.withTx(ctx, func(tx *Tx) error {
		if err := tx.InsertCommand(ctx, cmd); err != nil {
			return err
		}
		return tx.EnqueueEvent(ctx, events.NewCommandEvent(cmd))
	})
}

func (s *Store) ListAlerts(ctx context.Context, droneID string, limit int) ([]domain.Alert, error) {
	rows, err := s.pool.Query(ctx, alertListSQL, droneID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []domain.Alert
	for rows.Next() {
		var alert domain.Alert
		if err := rows.Scan(&alert.ID, &alert.DroneID, &alert.Severity, &alert.Code, &alert.Message, &alert.Timestamp); err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func (s *Store) ListCommands(ctx context.Context, droneID string, limit int) ([]domain.Command, error) {
	rows, err := s.pool.Query(ctx, commandListSQL, droneID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []domain.Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return cmds, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type Tx struct {
	tx pgx.Tx
}

func (t *Tx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *Tx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

func (t *Tx) InsertAlert(ctx context.Context, alert domain.Alert) error {
	_, err := t.tx.Exec(ctx, alertInsertSQL,
		alert.ID,
		alert.DroneID,
		alert.Severity,
		alert.Code,
		alert.Message,
		alert.Timestamp,
	)
	return err
}

func (t *Tx) InsertCommand(ctx context.Context, cmd domain.Command) error {
	waypoint, err := marshalWaypoint(cmd.Waypoint)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, commandInsertSQL,
		cmd.ID,
		cmd.DroneID,
		cmd.Kind,
		cmd.State,
		nullString(string(cmd.TargetMode)),
		waypoint,
		cmd.MissionOriginated,
		nullString(cmd.Reason),
		cmd.IssuedAt,
		cmd.Deadline,
		nullTime(cmd.AckedAt),
		nullTime(cmd.ResolvedAt),
	)
	return err
}

func (t *Tx) EnqueueEvent(ctx context.Context, event events.Event) error {
	_, err := t.tx.Exec(ctx, outboxInsertSQL,
		event.ID,
		event.Type,
		event.AggregateType,
		event.AggregateID,
		event.Payload,
		event.OccurredAt,
	)
	return err
}

type waypointJSON struct {
	ID       string  `json:"id"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Altitude float64 `json:"altitude"`
	Action   string  `json:"action,omitempty"`
}

func marshalWaypoint(wp *domain.Waypoint) ([]byte, error) {
	if wp == nil {
		return nil, nil
	}
	return json.Marshal(waypointJSON(*wp))
}

func scanCommand(row pgx.Row) (domain.Command, error) {
	var (
		cmd        domain.Command
		targetMode sql.NullString
		waypoint   []byte
		reason     sql.NullString
		ackedAt    sql.NullTime
		resolvedAt sql.NullTime
	)
	err := row.Scan(
		&cmd.ID,
		&cmd.DroneID,
		&cmd.Kind,
		&cmd.State,
		&targetMode,
		&waypoint,
		&cmd.MissionOriginated,
		&reason,
		&cmd.IssuedAt,
		&cmd.Deadline,
		&ackedAt,
		&resolvedAt,
	)
	if err != nil {
		return domain.Command{}, err
	}
	cmd.TargetMode = domain.Mode(targetMode.String)
	cmd.Reason = reason.String
	if len(waypoint) > 0 {
		var wp waypointJSON
		if err := json.Unmarshal(waypoint, &wp); err != nil {
			return domain.Command{}, err
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
	return cmd, nil
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
	return sql.NullTime{Time: *v, Valid: true}
}

var (
	_ fleet.History       = (*Store)(nil)
	_ fleet.HistoryReader = (*Store)(nil)
)
