package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-unibus/internal/unibus/scratchpad"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500

	historyTimeFormat = "2006-01-02T15:04:05.000Z"
)

// History sources.
const (
	SourceBus    = "bus"
	SourceRS485  = "rs485"
	SourceManual = "manual"
)

// HistoryEntry is one recorded slot change.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	Key       Key       `json:"-"`
	Reading   float64   `json:"reading"`
	NoData    bool      `json:"no_data"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryRepository stores slot changes in the state_history table.
type HistoryRepository struct {
	db *sql.DB
}

// NewHistoryRepository creates a history repository on an open, migrated
// SQLite connection.
func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// RecordStateChange appends a slot change.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - key: Slot that changed
//   - value: New value
//   - source: Origin of the change (bus, rs485, manual)
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (r *HistoryRepository) RecordStateChange(ctx context.Context, key Key, value Value, source string) error {
	if source == "" {
		source = SourceBus
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO state_history (module, category, slot_index, reading, no_data, source)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		int(key.Module), int(key.Category), int(key.Index),
		value.Reading, boolToInt(value.NoData), source,
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}
	return nil
}

// GetHistory returns recent entries for a slot, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - key: Slot to query
//   - limit: Maximum entries to return (default 50, max 500)
//
// Returns:
//   - []HistoryEntry: Entries ordered by created_at DESC
//   - error: nil on success, otherwise the underlying query error
func (r *HistoryRepository) GetHistory(ctx context.Context, key Key, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, module, category, slot_index, reading, no_data, source, created_at
		 FROM state_history
		 WHERE module = ? AND category = ? AND slot_index = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		int(key.Module), int(key.Category), int(key.Index), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var (
			entry              HistoryEntry
			module, cat, index int
			noData             int
			createdAt          string
		)
		if err := rows.Scan(&entry.ID, &module, &cat, &index, &entry.Reading, &noData, &entry.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		entry.Key = Key{
			Module:   scratchpad.SensorType(module),
			Category: scratchpad.SensorType(cat),
			Index:    uint8(index),
		}
		entry.NoData = noData != 0

		ts, err := parseHistoryTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		entry.CreatedAt = ts

		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}

	return entries, nil
}

// PruneHistory deletes entries older than the given duration.
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (r *HistoryRepository) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(historyTimeFormat)
	result, err := r.db.ExecContext(ctx, "DELETE FROM state_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting state history: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func parseHistoryTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return ts, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
