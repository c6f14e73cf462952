package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/habitsync/habitsync/internal/record"
)

// AppendEvent writes a progress event to the outbox.
// Uses ON CONFLICT DO NOTHING on operation_id for idempotency - replaying
// the same logical action is silently ignored.
func (s *Store) AppendEvent(ctx context.Context, e record.ProgressEvent) error {
	if err := e.Validate(); err != nil {
		return err
	}
	var deletedAt any
	if e.DeletedAt != nil {
		deletedAt = toMillis(*e.DeletedAt)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO progress_events
		(id, user_id, habit_id, date_key, operation_id, kind, amount, created_at, synced, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		e.ID, e.UserID, e.HabitID, e.DateKey, e.OperationID,
		string(e.Kind), e.Amount, toMillis(e.CreatedAt), boolToInt(e.Synced), deletedAt,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListUnsyncedEvents returns the outbox backlog for the user, oldest first.
func (s *Store) ListUnsyncedEvents(ctx context.Context, userID string) ([]record.ProgressEvent, error) {
	return s.queryEvents(ctx, `
		SELECT id, user_id, habit_id, date_key, operation_id, kind, amount, created_at, synced, deleted_at
		FROM progress_events WHERE user_id = ? AND synced = 0
		ORDER BY created_at, id
	`, userID)
}

// CountUnsyncedEvents returns the outbox backlog size for the user.
func (s *Store) CountUnsyncedEvents(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM progress_events WHERE user_id = ? AND synced = 0`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unsynced events: %w", err)
	}
	return n, nil
}

// HasUnsyncedEvents reports whether any in-flight local intent exists for
// one (habit, day). The pull merge consults this before letting a remote
// snapshot overwrite local state.
func (s *Store) HasUnsyncedEvents(ctx context.Context, userID, habitID, dateKey string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM progress_events
		WHERE user_id = ? AND habit_id = ? AND date_key = ? AND synced = 0
	`, userID, habitID, dateKey).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check unsynced events: %w", err)
	}
	return n > 0, nil
}

// MarkEventsSynced flips the synced flag for the given event ids in one
// transaction. The flag only ever goes false -> true.
func (s *Store) MarkEventsSynced(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx,
				`UPDATE progress_events SET synced = 1 WHERE id = ?`, id); err != nil {
				return fmt.Errorf("mark event synced: %w", err)
			}
		}
		return nil
	})
}

// HasEventWithOperationID reports whether an event with the given
// idempotency token already exists locally.
func (s *Store) HasEventWithOperationID(ctx context.Context, operationID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM progress_events WHERE operation_id = ?`, operationID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check operation id: %w", err)
	}
	return n > 0, nil
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]record.ProgressEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []record.ProgressEvent
	for rows.Next() {
		var e record.ProgressEvent
		var kind string
		var synced int
		var created int64
		var deletedAt sql.NullInt64
		err := rows.Scan(&e.ID, &e.UserID, &e.HabitID, &e.DateKey, &e.OperationID,
			&kind, &e.Amount, &created, &synced, &deletedAt)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = record.EventKind(kind)
		e.Synced = synced != 0
		e.CreatedAt = fromMillis(created)
		if deletedAt.Valid {
			t := fromMillis(deletedAt.Int64)
			e.DeletedAt = &t
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
