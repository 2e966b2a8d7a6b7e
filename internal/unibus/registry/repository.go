package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-unibus/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/scratchpad"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/state"
)

// SQLiteRepository persists the mapping in the controller_identity,
// uni_sensor_counts and uni_sensor_states tables.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Load implements Repository.
func (r *SQLiteRepository) Load(ctx context.Context) (Mapping, error) {
	m := Mapping{
		Counts: make(map[scratchpad.SensorType]uint8),
		States: make(map[Sensor]SensorStates),
	}

	var (
		rawUUID       string
		busID, nextRF int
	)
	err := r.db.QueryRowContext(ctx,
		"SELECT uuid, bus_id, next_rf_id FROM controller_identity WHERE id = 1",
	).Scan(&rawUUID, &busID, &nextRF)
	if errors.Is(err, sql.ErrNoRows) {
		return Mapping{}, ErrPersistenceMiss
	}
	if err != nil {
		return Mapping{}, fmt.Errorf("querying controller identity: %w", err)
	}

	id, err := uuid.Parse(rawUUID)
	if err != nil {
		return Mapping{}, fmt.Errorf("parsing controller uuid: %w", err)
	}
	m.Identity = Identity{UUID: id, BusID: byte(busID), NextRFID: byte(nextRF)}

	if err := r.loadCounts(ctx, m.Counts); err != nil {
		return Mapping{}, err
	}
	if err := r.loadStates(ctx, m.States); err != nil {
		return Mapping{}, err
	}
	return m, nil
}

func (r *SQLiteRepository) loadCounts(ctx context.Context, counts map[scratchpad.SensorType]uint8) error {
	rows, err := r.db.QueryContext(ctx, "SELECT sensor_type, sensor_count FROM uni_sensor_counts")
	if err != nil {
		return fmt.Errorf("querying sensor counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t, n int
		if err := rows.Scan(&t, &n); err != nil {
			return fmt.Errorf("scanning sensor count: %w", err)
		}
		counts[scratchpad.SensorType(t)] = uint8(n)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating sensor counts: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) loadStates(ctx context.Context, states map[Sensor]SensorStates) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT sensor_type, sensor_index,
		        primary_module, primary_category, primary_index,
		        secondary_module, secondary_category, secondary_index
		 FROM uni_sensor_states`)
	if err != nil {
		return fmt.Errorf("querying sensor states: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			t, idx           int
			pMod, pCat, pIdx int
			sMod, sCat, sIdx sql.NullInt64
		)
		if err := rows.Scan(&t, &idx, &pMod, &pCat, &pIdx, &sMod, &sCat, &sIdx); err != nil {
			return fmt.Errorf("scanning sensor state: %w", err)
		}

		st := SensorStates{Primary: key(pMod, pCat, pIdx)}
		if sMod.Valid && sCat.Valid && sIdx.Valid {
			st.Secondary = key(int(sMod.Int64), int(sCat.Int64), int(sIdx.Int64))
			st.HasSecondary = true
		}
		states[Sensor{Type: scratchpad.SensorType(t), Index: uint8(idx)}] = st
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating sensor states: %w", err)
	}
	return nil
}

func key(module, category, index int) state.Key {
	return state.Key{
		Module:   scratchpad.SensorType(module),
		Category: scratchpad.SensorType(category),
		Index:    uint8(index),
	}
}

// Save implements Repository. Rows are upserted, never deleted.
func (r *SQLiteRepository) Save(ctx context.Context, m Mapping) error {
	return database.RunInTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO controller_identity (id, uuid, bus_id, next_rf_id) VALUES (1, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET next_rf_id = excluded.next_rf_id`,
			m.Identity.UUID.String(), int(m.Identity.BusID), int(m.Identity.NextRFID),
		)
		if err != nil {
			return fmt.Errorf("saving controller identity: %w", err)
		}

		for t, n := range m.Counts {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO uni_sensor_counts (sensor_type, sensor_count) VALUES (?, ?)
				 ON CONFLICT(sensor_type) DO UPDATE SET sensor_count = max(sensor_count, excluded.sensor_count)`,
				int(t), int(n),
			)
			if err != nil {
				return fmt.Errorf("saving %s count: %w", t, err)
			}
		}

		for s, st := range m.States {
			var sMod, sCat, sIdx any
			if st.HasSecondary {
				sMod, sCat, sIdx = int(st.Secondary.Module), int(st.Secondary.Category), int(st.Secondary.Index)
			}
			_, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO uni_sensor_states (
					sensor_type, sensor_index,
					primary_module, primary_category, primary_index,
					secondary_module, secondary_category, secondary_index
				 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				int(s.Type), int(s.Index),
				int(st.Primary.Module), int(st.Primary.Category), int(st.Primary.Index),
				sMod, sCat, sIdx,
			)
			if err != nil {
				return fmt.Errorf("saving %s/%d association: %w", s.Type, s.Index, err)
			}
		}
		return nil
	})
}
