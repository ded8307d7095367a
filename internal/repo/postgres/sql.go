package postgres

const alertInsertSQL = `
INSERT INTO alerts (id, drone_id, severity, code, message, raised_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO NOTHING
`

const alertListSQL = `
SELECT id, drone_id, severity, code, message, raised_at
FROM alerts
WHERE drone_id = $1
ORDER BY raised_at DESC
LIMIT $2
`

const commandInsertSQL = `
INSERT INTO command_history (
  command_id, drone_id, kind, state, target_mode, waypoint, mission_originated,
  reason, issued_at, deadline, acked_at, resolved_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,
  $8,$9,$10,$11,$12
)
`

const commandListSQL = `
SELECT command_id, drone_id, kind, state, target_mode, waypoint, mission_originated,
       reason, issued_at, deadline, acked_at, resolved_at
FROM command_history
WHERE drone_id = $1
ORDER BY seq DESC
LIMIT $2
`

const outboxInsertSQL = `
INSERT INTO outbox_events (
  id, event_type, aggregate_type, aggregate_id, payload, occurred_at
) VALUES ($1,$2,$3,$4,$5,$6)
`

const outboxFetchPendingSQL = `
SELECT id, event_type, aggregate_type, aggregate_id, payload, occurred_at
FROM outbox_events
WHERE published_at IS NULL
ORDER BY occurred_at
LIMIT $1
`

const outboxMarkPublishedSQL = `
UPDATE outbox_events
SET published_at = now()
WHERE id = ANY($1::uuid[])
`

const outboxPendingCountSQL = `
SELECT count(*) FROM outbox_events WHERE published_at IS NULL
`
