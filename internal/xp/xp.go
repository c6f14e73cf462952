// Package xp is the XP business-rule service the sync engine calls into.
// The engine itself never computes XP: it asks this service to apply an
// award inside a remote transaction and to resync the shared snapshot after
// importing an award some other device granted.
package xp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/habitsync/habitsync/internal/idkey"
	"github.com/habitsync/habitsync/internal/record"
	"github.com/habitsync/habitsync/internal/remote"
)

// XPPerLevel is the flat per-level XP requirement.
const XPPerLevel = 500

// Service reads and mutates the shared XP-state document.
type Service struct {
	Remote remote.Store

	// OnState, when set, receives every fresh snapshot (after Resync or an
	// award application). The UI facade subscribes here.
	OnState func(record.XPState)

	// ledger ids are client-generated so retried appends are idempotent.
	IDs idkey.OperationIDGenerator
}

// NewService creates an XP service over the given remote store.
func NewService(r remote.Store) *Service {
	return &Service{Remote: r, IDs: idkey.UUIDv7Generator{}}
}

// Snapshot reads the shared XP state. A missing document is a zero state,
// not an error.
func (s *Service) Snapshot(ctx context.Context, userID string) (record.XPState, error) {
	data, err := s.Remote.Get(ctx, remote.XPStatePath(userID))
	if errors.Is(err, remote.ErrDocNotFound) {
		return record.XPState{}, nil
	}
	if err != nil {
		return record.XPState{}, fmt.Errorf("read xp state: %w", err)
	}
	return remote.DecodeXPState(data)
}

// Resync re-reads the shared snapshot and republishes it locally. Called
// after importing an award granted on another device so XP never diverges
// across devices.
func (s *Service) Resync(ctx context.Context, userID string) error {
	state, err := s.Snapshot(ctx, userID)
	if err != nil {
		return err
	}
	if s.OnState != nil {
		s.OnState(state)
	}
	return nil
}

// ApplyAward folds one award into the shared XP-state document and appends
// the parallel ledger entry, all inside the caller's transaction. The push
// pipeline calls this from RunTransaction so the award document, the ledger
// entry, and the XP update land in one atomic unit.
func (s *Service) ApplyAward(tx remote.Tx, userID string, award record.DailyAward, now time.Time) error {
	var state record.XPState
	cur, err := tx.Get(remote.XPStatePath(userID))
	if err == nil {
		state, err = remote.DecodeXPState(cur)
		if err != nil {
			return fmt.Errorf("apply award: %w", err)
		}
	} else if !errors.Is(err, remote.ErrDocNotFound) {
		return fmt.Errorf("apply award: %w", err)
	}

	state.TotalXP += award.XPGranted
	state.Level = state.TotalXP/XPPerLevel + 1
	state.CurrentLevelXP = state.TotalXP % XPPerLevel
	state.LastUpdated = now

	data, err := remote.EncodeXPState(state)
	if err != nil {
		return fmt.Errorf("apply award: %w", err)
	}
	tx.Set(remote.XPStatePath(userID), data, true)

	ledger, err := s.ledgerEntry(award, now)
	if err != nil {
		return err
	}
	tx.Set(remote.XPLedgerPath(userID, s.IDs.Generate()), ledger, false)

	if s.OnState != nil {
		s.OnState(state)
	}
	return nil
}

func (s *Service) ledgerEntry(award record.DailyAward, now time.Time) (json.RawMessage, error) {
	entry := struct {
		SchemaVersion int    `json:"schemaVersion"`
		DateKey       string `json:"dateKey"`
		XPGranted     int    `json:"xpGranted"`
		Reason        string `json:"reason"`
		GrantedAt     int64  `json:"grantedAt"`
	}{
		SchemaVersion: remote.CurrentSchemaVersion,
		DateKey:       award.DateKey,
		XPGranted:     award.XPGranted,
		Reason:        "daily_award",
		GrantedAt:     now.UnixMilli(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("ledger entry: %w", err)
	}
	return data, nil
}
