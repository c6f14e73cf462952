package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/habitsync/habitsync/internal/record"
)

// UpsertCompletion inserts or updates the materialized daily state for one
// (user, habit, day). The primary key makes repeated upserts converge on a
// single row.
func (s *Store) UpsertCompletion(ctx context.Context, c record.CompletionRecord) error {
	if err := c.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO completions
		(user_id, habit_id, date_key, is_completed, progress, created_at, updated_at, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, habit_id, date_key) DO UPDATE SET
			is_completed = excluded.is_completed,
			progress = excluded.progress,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			synced = excluded.synced
	`,
		c.UserID, c.HabitID, c.DateKey, boolToInt(c.IsCompleted), c.Progress,
		toMillis(c.CreatedAt), toMillis(c.UpdatedAt), boolToInt(c.Synced),
	)
	if err != nil {
		return fmt.Errorf("upsert completion: %w", err)
	}
	return nil
}

// GetCompletion returns the completion row for one (user, habit, day), or
// ErrNotFound.
func (s *Store) GetCompletion(ctx context.Context, userID, habitID, dateKey string) (record.CompletionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, habit_id, date_key, is_completed, progress, created_at, updated_at, synced
		FROM completions WHERE user_id = ? AND habit_id = ? AND date_key = ?
	`, userID, habitID, dateKey)
	c, err := scanCompletion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.CompletionRecord{}, ErrNotFound
	}
	return c, err
}

// ListUnsyncedCompletions returns all completion rows awaiting upload for the
// user, oldest update first so batches drain in a stable order.
func (s *Store) ListUnsyncedCompletions(ctx context.Context, userID string) ([]record.CompletionRecord, error) {
	return s.queryCompletions(ctx, `
		SELECT user_id, habit_id, date_key, is_completed, progress, created_at, updated_at, synced
		FROM completions WHERE user_id = ? AND synced = 0
		ORDER BY updated_at, habit_id, date_key
	`, userID)
}

// ListCompletionsForHabit returns every completion row for one habit.
func (s *Store) ListCompletionsForHabit(ctx context.Context, userID, habitID string) ([]record.CompletionRecord, error) {
	return s.queryCompletions(ctx, `
		SELECT user_id, habit_id, date_key, is_completed, progress, created_at, updated_at, synced
		FROM completions WHERE user_id = ? AND habit_id = ?
		ORDER BY date_key
	`, userID, habitID)
}

// ListCompletionsForDate returns every completion row for one calendar day.
// Used by the award validation gate.
func (s *Store) ListCompletionsForDate(ctx context.Context, userID, dateKey string) ([]record.CompletionRecord, error) {
	return s.queryCompletions(ctx, `
		SELECT user_id, habit_id, date_key, is_completed, progress, created_at, updated_at, synced
		FROM completions WHERE user_id = ? AND date_key = ?
		ORDER BY habit_id
	`, userID, dateKey)
}

// MarkCompletionsSynced flips the synced flag for the given (habit, day)
// pairs in one transaction.
func (s *Store) MarkCompletionsSynced(ctx context.Context, userID string, recs []record.CompletionRecord) error {
	if len(recs) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, c := range recs {
			if _, err := tx.ExecContext(ctx, `
				UPDATE completions SET synced = 1
				WHERE user_id = ? AND habit_id = ? AND date_key = ?
			`, userID, c.HabitID, c.DateKey); err != nil {
				return fmt.Errorf("mark completion synced: %w", err)
			}
		}
		return nil
	})
}

// DeleteCompletionsForHabit removes all completion rows for one habit.
func (s *Store) DeleteCompletionsForHabit(ctx context.Context, userID, habitID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM completions WHERE user_id = ? AND habit_id = ?`, userID, habitID)
	if err != nil {
		return fmt.Errorf("delete completions: %w", err)
	}
	return nil
}

func (s *Store) queryCompletions(ctx context.Context, query string, args ...any) ([]record.CompletionRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query completions: %w", err)
	}
	defer rows.Close()

	var recs []record.CompletionRecord
	for rows.Next() {
		c, err := scanCompletion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan completion: %w", err)
		}
		recs = append(recs, c)
	}
	return recs, rows.Err()
}

func scanCompletion(r rowScanner) (record.CompletionRecord, error) {
	var c record.CompletionRecord
	var completed, synced int
	var created, updated int64
	err := r.Scan(&c.UserID, &c.HabitID, &c.DateKey, &completed, &c.Progress, &created, &updated, &synced)
	if err != nil {
		return record.CompletionRecord{}, err
	}
	c.IsCompleted = completed != 0
	c.Synced = synced != 0
	c.CreatedAt = fromMillis(created)
	c.UpdatedAt = fromMillis(updated)
	return c, nil
}
