package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/habitsync/habitsync/internal/record"
)

// UpsertAward inserts or updates the daily award ledger entry for one
// (user, day).
func (s *Store) UpsertAward(ctx context.Context, a record.DailyAward) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_awards
		(user_id, date_key, xp_granted, all_habits_completed, created_at, synced)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, date_key) DO UPDATE SET
			xp_granted = excluded.xp_granted,
			all_habits_completed = excluded.all_habits_completed,
			created_at = excluded.created_at,
			synced = excluded.synced
	`,
		a.UserID, a.DateKey, a.XPGranted, boolToInt(a.AllHabitsCompleted),
		toMillis(a.CreatedAt), boolToInt(a.Synced),
	)
	if err != nil {
		return fmt.Errorf("upsert award: %w", err)
	}
	return nil
}

// GetAward returns the award for one (user, day), or ErrNotFound.
func (s *Store) GetAward(ctx context.Context, userID, dateKey string) (record.DailyAward, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, date_key, xp_granted, all_habits_completed, created_at, synced
		FROM daily_awards WHERE user_id = ? AND date_key = ?
	`, userID, dateKey)
	a, err := scanAward(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.DailyAward{}, ErrNotFound
	}
	return a, err
}

// ListUnsyncedAwards returns all awards awaiting upload, oldest first.
func (s *Store) ListUnsyncedAwards(ctx context.Context, userID string) ([]record.DailyAward, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, date_key, xp_granted, all_habits_completed, created_at, synced
		FROM daily_awards WHERE user_id = ? AND synced = 0
		ORDER BY created_at, date_key
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list unsynced awards: %w", err)
	}
	defer rows.Close()

	var awards []record.DailyAward
	for rows.Next() {
		a, err := scanAward(rows)
		if err != nil {
			return nil, fmt.Errorf("scan award: %w", err)
		}
		awards = append(awards, a)
	}
	return awards, rows.Err()
}

// MarkAwardsSynced flips the synced flag for the given date keys.
func (s *Store) MarkAwardsSynced(ctx context.Context, userID string, dateKeys []string) error {
	if len(dateKeys) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, key := range dateKeys {
			if _, err := tx.ExecContext(ctx,
				`UPDATE daily_awards SET synced = 1 WHERE user_id = ? AND date_key = ?`,
				userID, key); err != nil {
				return fmt.Errorf("mark award synced: %w", err)
			}
		}
		return nil
	})
}

// DeleteAward removes one award row. Used when a remote award fails the
// validation gate and has already been deleted remotely.
func (s *Store) DeleteAward(ctx context.Context, userID, dateKey string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM daily_awards WHERE user_id = ? AND date_key = ?`, userID, dateKey)
	if err != nil {
		return fmt.Errorf("delete award: %w", err)
	}
	return nil
}

func scanAward(r rowScanner) (record.DailyAward, error) {
	var a record.DailyAward
	var all, synced int
	var created int64
	err := r.Scan(&a.UserID, &a.DateKey, &a.XPGranted, &all, &created, &synced)
	if err != nil {
		return record.DailyAward{}, err
	}
	a.AllHabitsCompleted = all != 0
	a.Synced = synced != 0
	a.CreatedAt = fromMillis(created)
	return a, nil
}
