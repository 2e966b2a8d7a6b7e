package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-unibus/internal/unibus/scratchpad"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/state"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// handleStateHistory returns recorded changes of one slot.
//
// Query parameters: module (required), category (defaults to module),
// index (required), limit, since (RFC3339).
func (s *Server) handleStateHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	key, err := parseKeyParams(q)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	limit, err := parseHistoryLimit(q.Get("limit"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	since, err := parseSinceParam(q.Get("since"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid since timestamp")
		return
	}

	if _, ok := s.store.GetState(key); !ok {
		writeError(w, r, http.StatusNotFound, "state slot not found")
		return
	}

	if s.history == nil {
		writeError(w, r, http.StatusServiceUnavailable, "state history unavailable")
		return
	}

	entries, err := s.history.GetHistory(r.Context(), key, limit)
	if err != nil {
		s.logger.Error("loading state history failed", "key", key.String(), "error", err)
		writeError(w, r, http.StatusInternalServerError, "failed to load state history")
		return
	}

	if !since.IsZero() {
		filtered := entries[:0]
		for _, entry := range entries {
			if entry.CreatedAt.After(since) {
				filtered = append(filtered, entry)
			}
		}
		entries = filtered
	}
	if entries == nil {
		entries = []state.HistoryEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"state":   newKeyView(key),
		"history": entries,
		"count":   len(entries),
	})
}

// parseKeyParams builds a slot key from module, category and index.
func parseKeyParams(q url.Values) (state.Key, error) {
	module, err := scratchpad.ParseSensorType(q.Get("module"))
	if err != nil {
		return state.Key{}, fmt.Errorf("invalid module")
	}

	category := module
	if raw := q.Get("category"); raw != "" {
		if category, err = scratchpad.ParseSensorType(raw); err != nil {
			return state.Key{}, fmt.Errorf("invalid category")
		}
	}

	raw := q.Get("index")
	if raw == "" {
		return state.Key{}, fmt.Errorf("index is required")
	}
	index, err := strconv.ParseUint(raw, 10, 8)
	if err != nil || index >= uint64(scratchpad.NoSensorRegistered) {
		return state.Key{}, fmt.Errorf("invalid index")
	}

	return state.Key{Module: module, Category: category, Index: uint8(index)}, nil
}

// parseHistoryLimit parses the limit parameter with bounds checking.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if limit > maxHistoryLimit {
		return 0, fmt.Errorf("limit exceeds maximum")
	}

	return limit, nil
}

// parseSinceParam parses the since parameter as RFC3339/RFC3339Nano.
func parseSinceParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}
