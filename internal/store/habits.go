package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/habitsync/habitsync/internal/record"
)

// ErrNotFound is returned by point lookups when no row matches.
var ErrNotFound = errors.New("store: not found")

// UpsertHabit inserts or replaces a habit definition.
func (s *Store) UpsertHabit(ctx context.Context, h record.Habit) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO habits
		(user_id, habit_id, name, goal, days_of_week, created_at, updated_at, last_synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, habit_id) DO UPDATE SET
			name = excluded.name,
			goal = excluded.goal,
			days_of_week = excluded.days_of_week,
			updated_at = excluded.updated_at,
			last_synced_at = excluded.last_synced_at
	`,
		h.UserID, h.HabitID, h.Name, h.Goal, int(h.DaysOfWeek),
		toMillis(h.CreatedAt), toMillis(h.UpdatedAt), toMillis(h.LastSyncedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert habit: %w", err)
	}
	return nil
}

// GetHabit returns one habit, or ErrNotFound.
func (s *Store) GetHabit(ctx context.Context, userID, habitID string) (record.Habit, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, habit_id, name, goal, days_of_week, created_at, updated_at, last_synced_at
		FROM habits WHERE user_id = ? AND habit_id = ?
	`, userID, habitID)
	h, err := scanHabit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Habit{}, ErrNotFound
	}
	return h, err
}

// ListHabitIDs returns all habit ids for the user, in habit_id order.
func (s *Store) ListHabitIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT habit_id FROM habits WHERE user_id = ? ORDER BY habit_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list habit ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list habit ids: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListHabits returns all habits for the user.
func (s *Store) ListHabits(ctx context.Context, userID string) ([]record.Habit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, habit_id, name, goal, days_of_week, created_at, updated_at, last_synced_at
		FROM habits WHERE user_id = ? ORDER BY habit_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list habits: %w", err)
	}
	defer rows.Close()

	var habits []record.Habit
	for rows.Next() {
		h, err := scanHabit(rows)
		if err != nil {
			return nil, fmt.Errorf("list habits: %w", err)
		}
		habits = append(habits, h)
	}
	return habits, rows.Err()
}

// CountHabits returns the number of habits stored for the user. A zero count
// is how the pull pipeline detects a first sync on a fresh install.
func (s *Store) CountHabits(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM habits WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count habits: %w", err)
	}
	return n, nil
}

// DeleteHabit removes a habit and all of its local completion records in one
// transaction, so a crash cannot leave orphan completions behind.
func (s *Store) DeleteHabit(ctx context.Context, userID, habitID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM completions WHERE user_id = ? AND habit_id = ?`, userID, habitID); err != nil {
			return fmt.Errorf("delete habit completions: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM habits WHERE user_id = ? AND habit_id = ?`, userID, habitID); err != nil {
			return fmt.Errorf("delete habit: %w", err)
		}
		return nil
	})
}

// TouchHabitSynced stamps last_synced_at after a confirmed remote merge.
func (s *Store) TouchHabitSynced(ctx context.Context, userID, habitID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE habits SET last_synced_at = ? WHERE user_id = ? AND habit_id = ?`,
		toMillis(at), userID, habitID)
	if err != nil {
		return fmt.Errorf("touch habit: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHabit(r rowScanner) (record.Habit, error) {
	var h record.Habit
	var days int
	var created, updated, synced int64
	err := r.Scan(&h.UserID, &h.HabitID, &h.Name, &h.Goal, &days, &created, &updated, &synced)
	if err != nil {
		return record.Habit{}, err
	}
	h.DaysOfWeek = uint8(days)
	h.CreatedAt = fromMillis(created)
	h.UpdatedAt = fromMillis(updated)
	h.LastSyncedAt = fromMillis(synced)
	return h, nil
}
