package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/wellbeing-platform/internal/detection"
)

// PgxPool is the subset of *pgxpool.Pool used by the repository.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores events in crisis_events and their history in
// crisis_event_status_history. Updates are guarded by the version column.
type PostgresRepository struct {
	pool PgxPool
}

var _ Repository = (*PostgresRepository)(nil)

func NewPostgresRepository(pool PgxPool) *PostgresRepository {
	if pool == nil {
		panic("escalation: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

const eventColumns = `id::text, user_id, source, detection_id, detected_at, flag_level, status, confidence, notes, version, updated_at`

func (r *PostgresRepository) Create(ctx context.Context, event CrisisEvent) error {
	notes, err := json.Marshal(event.Notes)
	if err != nil {
		return fmt.Errorf("escalation: marshal notes: %w", err)
	}
	query := `
		INSERT INTO crisis_events (id, user_id, source, detection_id, detected_at, flag_level, status, confidence, notes, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT DO NOTHING
	`
	ct, err := r.pool.Exec(ctx, query,
		event.ID, event.UserID, string(event.Source), event.DetectionID, event.DetectedAt,
		event.FlagLevel.String(), string(event.Status), event.Confidence, notes, event.Version, event.UpdatedAt,
	)
	if err != nil {
		return classifyPgError(fmt.Errorf("escalation: insert event: %w", err))
	}
	if ct.RowsAffected() == 0 {
		return ErrDuplicateEvent
	}
	return nil
}

// Get looks the event up by primary key. Ids that are not UUIDs cannot be
// stored, so they are reported as missing without a query.
func (r *PostgresRepository) Get(ctx context.Context, id string) (CrisisEvent, error) {
	if _, err := uuid.Parse(id); err != nil {
		return CrisisEvent{}, ErrEventNotFound
	}
	row := r.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM crisis_events WHERE id = $1::uuid`, id)
	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CrisisEvent{}, ErrEventNotFound
		}
		return CrisisEvent{}, classifyPgError(fmt.Errorf("escalation: get event: %w", err))
	}
	history, err := r.loadHistory(ctx, []string{event.ID})
	if err != nil {
		return CrisisEvent{}, err
	}
	event.StatusHistory = history[event.ID]
	return event, nil
}

func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]CrisisEvent, error) {
	filter = filter.normalized()
	query := `SELECT ` + eventColumns + ` FROM crisis_events WHERE 1=1`
	args := []any{}
	argIdx := 1
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}
	query += fmt.Sprintf(" ORDER BY detected_at DESC, id LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classifyPgError(fmt.Errorf("escalation: list events: %w", err))
	}
	defer rows.Close()

	events := []CrisisEvent{}
	ids := []string{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("escalation: scan event: %w", err)
		}
		events = append(events, event)
		ids = append(ids, event.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPgError(fmt.Errorf("escalation: list events: %w", err))
	}
	if len(ids) == 0 {
		return events, nil
	}

	history, err := r.loadHistory(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range events {
		events[i].StatusHistory = history[events[i].ID]
	}
	return events, nil
}

func (r *PostgresRepository) Update(ctx context.Context, next CrisisEvent, expectedVersion int64) error {
	entry, ok := next.LastEntry()
	if !ok {
		return fmt.Errorf("escalation: update without history entry for %s", next.ID)
	}
	notes, err := json.Marshal(next.Notes)
	if err != nil {
		return fmt.Errorf("escalation: marshal notes: %w", err)
	}
	entryNotes, err := marshalEntryNotes(entry.Notes)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return classifyPgError(fmt.Errorf("escalation: begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	ct, err := tx.Exec(ctx, `
		UPDATE crisis_events
		SET status = $1, notes = $2, version = $3, updated_at = $4
		WHERE id = $5::uuid AND version = $6
	`, string(next.Status), notes, next.Version, next.UpdatedAt, next.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("escalation: update event: %w", err)
	}
	if ct.RowsAffected() == 0 {
		var version int64
		err := tx.QueryRow(ctx, `SELECT version FROM crisis_events WHERE id = $1::uuid`, next.ID).Scan(&version)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrEventNotFound
		}
		if err != nil {
			return fmt.Errorf("escalation: check version: %w", err)
		}
		return ErrConflict
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO crisis_event_status_history (event_id, seq, from_status, to_status, actor, occurred_at, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, next.ID, len(next.StatusHistory), string(entry.From), string(entry.To), entry.Actor, entry.At, entryNotes); err != nil {
		return fmt.Errorf("escalation: append status history: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("escalation: commit transition: %w", err)
	}
	return nil
}

func (r *PostgresRepository) loadHistory(ctx context.Context, ids []string) (map[string][]StatusEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT event_id::text, from_status, to_status, actor, occurred_at, notes
		FROM crisis_event_status_history
		WHERE event_id = ANY($1::uuid[])
		ORDER BY event_id, seq
	`, ids)
	if err != nil {
		return nil, classifyPgError(fmt.Errorf("escalation: load history: %w", err))
	}
	defer rows.Close()

	out := make(map[string][]StatusEntry, len(ids))
	for rows.Next() {
		var (
			eventID, from, to string
			entry             StatusEntry
			notes             []byte
		)
		if err := rows.Scan(&eventID, &from, &to, &entry.Actor, &entry.At, &notes); err != nil {
			return nil, fmt.Errorf("escalation: scan history: %w", err)
		}
		entry.From, entry.To = Status(from), Status(to)
		entry.At = entry.At.UTC()
		if len(notes) > 0 && string(notes) != "null" {
			var n Notes
			if err := json.Unmarshal(notes, &n); err != nil {
				return nil, fmt.Errorf("escalation: decode history notes: %w", err)
			}
			entry.Notes = &n
		}
		out[eventID] = append(out[eventID], entry)
	}
	return out, rows.Err()
}

func scanEvent(row pgx.Row) (CrisisEvent, error) {
	var (
		event                 CrisisEvent
		source, level, status string
		notes                 []byte
		detectedAt, updatedAt time.Time
	)
	if err := row.Scan(&event.ID, &event.UserID, &source, &event.DetectionID, &detectedAt,
		&level, &status, &event.Confidence, &notes, &event.Version, &updatedAt); err != nil {
		return CrisisEvent{}, err
	}
	sev, err := detection.ParseSeverity(level)
	if err != nil {
		return CrisisEvent{}, err
	}
	event.Source = Source(source)
	event.FlagLevel = sev
	event.Status = Status(status)
	event.DetectedAt = detectedAt.UTC()
	event.UpdatedAt = updatedAt.UTC()
	if len(notes) > 0 {
		if err := json.Unmarshal(notes, &event.Notes); err != nil {
			return CrisisEvent{}, fmt.Errorf("decode notes: %w", err)
		}
	}
	return event, nil
}

func marshalEntryNotes(n *Notes) ([]byte, error) {
	if n == nil {
		return nil, nil
	}
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("escalation: marshal entry notes: %w", err)
	}
	return data, nil
}

// classifyPgError marks connection loss, timeouts, serialization failures
// and deadlocks as transient.
func classifyPgError(err error) error {
	if err == nil {
		return nil
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return Transient(err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"), pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "57P03":
			return Transient(err)
		}
	}
	return err
}
