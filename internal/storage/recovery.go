package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// recover runs when the prior session did not close cleanly (the dirty
// marker from the previous Open survived). Per spec.md §4.4: "on
// corruption, rebuild derived tables (vector index projection, callers
// index, pack content-hash map) from primary tables." The callers index
// and vector-index projection are computed on demand from cie_reference
// and cie_embedding respectively (no separate materialized table), so
// recovery here focuses on the one materialized derived table this store
// keeps: cie_pack_trigger, rebuilt from each pack's invalidation_triggers.
func (s *Store) recover(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cie_pack_trigger`); err != nil {
		return fmt.Errorf("recovery: clear pack_trigger: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `SELECT pack_id, invalidation_triggers FROM cie_pack`)
	if err != nil {
		return fmt.Errorf("recovery: scan packs: %w", err)
	}

	type rebuild struct {
		packID   string
		triggers []InvalidationTrigger
	}
	var toInsert []rebuild
	for rows.Next() {
		var packID, raw string
		if err := rows.Scan(&packID, &raw); err != nil {
			rows.Close()
			return fmt.Errorf("recovery: scan pack row: %w", err)
		}
		var triggers []InvalidationTrigger
		if err := unmarshalLenient(raw, &triggers); err != nil {
			continue // corrupted row: skip, leaves the pack without rebuilt triggers
		}
		toInsert = append(toInsert, rebuild{packID: packID, triggers: triggers})
	}
	rows.Close()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO cie_pack_trigger(pack_id, trigger_kind, trigger_key) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range toInsert {
		for _, t := range r.triggers {
			if _, err := stmt.ExecContext(ctx, r.packID, t.Kind, t.Key); err != nil {
				return fmt.Errorf("recovery: reinsert trigger: %w", err)
			}
		}
	}

	return tx.Commit()
}

func unmarshalLenient(raw string, out any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}
