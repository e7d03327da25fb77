package store

import (
	"fmt"

	"eve-market-intel/internal/market"
)

// ReadTypeCatalog loads the full reference type_catalog table, populated
// out of band (e.g. from a static-data export). Returns a map keyed by
// type id for O(1) lookup.
func (s *Store) ReadTypeCatalog() (map[int32]market.TypeInfo, error) {
	rows, err := s.sql.Query(`SELECT type_id, type_name, group_id, group_name, category_id, category_name FROM type_catalog`)
	if err != nil {
		return nil, fmt.Errorf("read type_catalog: %w", err)
	}
	defer rows.Close()

	out := make(map[int32]market.TypeInfo)
	for rows.Next() {
		var info market.TypeInfo
		if err := rows.Scan(&info.TypeID, &info.TypeName, &info.GroupID, &info.GroupName, &info.CategoryID, &info.CategoryName); err != nil {
			return nil, fmt.Errorf("scan type_catalog row: %w", err)
		}
		out[info.TypeID] = info
	}
	return out, rows.Err()
}

// SeedTypeCatalog loads reference rows into type_catalog, used by tests
// and by out-of-band static-data import tooling. Existing rows for the
// same type_id are replaced.
func (s *Store) SeedTypeCatalog(infos []market.TypeInfo) error {
	if len(infos) == 0 {
		return nil
	}
	return withRetry(func() error {
		tx, err := s.sql.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT INTO type_catalog (type_id, type_name, group_id, group_name, category_id, category_name)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(type_id) DO UPDATE SET
				type_name = excluded.type_name, group_id = excluded.group_id,
				group_name = excluded.group_name, category_id = excluded.category_id,
				category_name = excluded.category_name`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, info := range infos {
			if _, err := stmt.Exec(info.TypeID, info.TypeName, info.GroupID, info.GroupName, info.CategoryID, info.CategoryName); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}
