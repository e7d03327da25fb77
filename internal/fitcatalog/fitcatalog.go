// Package fitcatalog is a minimal SQLite-backed reference implementation
// of the FitCatalog collaborator (spec §6.5). A production deployment
// typically points this interface at an external fitting-editor
// database instead; this package exists so the pipeline is runnable
// end to end without one.
package fitcatalog

import (
	"context"
	"database/sql"
	"fmt"

	"eve-market-intel/internal/market"

	_ "modernc.org/sqlite"
)

// Catalog reads active fits from a small local schema: one "fits" row
// per fit plus one "fit_components" row per BOM line.
type Catalog struct {
	db *sql.DB
}

// Open opens (or creates) the fit catalog database at path and ensures
// its schema exists.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open fit catalog: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping fit catalog: %w", err)
	}
	c := &Catalog{db: db}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate fit catalog: %w", err)
	}
	return c, nil
}

func (c *Catalog) migrate() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS fits (
			fit_id         INTEGER PRIMARY KEY,
			fit_name       TEXT NOT NULL,
			ship_type_id   INTEGER NOT NULL,
			ship_type_name TEXT NOT NULL DEFAULT '',
			doctrine_id    INTEGER NOT NULL DEFAULT 0,
			doctrine_name  TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS fit_components (
			fit_id   INTEGER NOT NULL,
			type_id  INTEGER NOT NULL,
			quantity INTEGER NOT NULL,
			FOREIGN KEY (fit_id) REFERENCES fits(fit_id)
		);
		CREATE INDEX IF NOT EXISTS idx_fit_components_fit ON fit_components(fit_id);
	`)
	return err
}

// Close closes the underlying connection.
func (c *Catalog) Close() error { return c.db.Close() }

// ListActiveFits returns every fit whose name does not carry the
// retired-fit sentinel prefix.
func (c *Catalog) ListActiveFits(ctx context.Context) ([]market.Fit, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT fit_id, fit_name, ship_type_id, ship_type_name, doctrine_id, doctrine_name FROM fits`)
	if err != nil {
		return nil, fmt.Errorf("list fits: %w", err)
	}
	defer rows.Close()

	fitsByID := make(map[int64]*market.Fit)
	var order []int64
	for rows.Next() {
		var f market.Fit
		if err := rows.Scan(&f.FitID, &f.FitName, &f.ShipTypeID, &f.ShipTypeName, &f.DoctrineID, &f.DoctrineName); err != nil {
			return nil, fmt.Errorf("scan fit row: %w", err)
		}
		if len(f.FitName) >= len(market.RetiredPrefix) && f.FitName[:len(market.RetiredPrefix)] == market.RetiredPrefix {
			continue
		}
		fitsByID[f.FitID] = &f
		order = append(order, f.FitID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	compRows, err := c.db.QueryContext(ctx, `SELECT fit_id, type_id, quantity FROM fit_components`)
	if err != nil {
		return nil, fmt.Errorf("list fit components: %w", err)
	}
	defer compRows.Close()
	for compRows.Next() {
		var fitID int64
		var comp market.Component
		if err := compRows.Scan(&fitID, &comp.TypeID, &comp.Quantity); err != nil {
			return nil, fmt.Errorf("scan fit component row: %w", err)
		}
		if f, ok := fitsByID[fitID]; ok {
			f.Components = append(f.Components, comp)
		}
	}
	if err := compRows.Err(); err != nil {
		return nil, err
	}

	out := make([]market.Fit, 0, len(order))
	for _, id := range order {
		out = append(out, *fitsByID[id])
	}
	return out, nil
}

// ReferencedTypes returns the set of type ids appearing as a fit's hull
// or as a BOM component, across active fits only.
func (c *Catalog) ReferencedTypes(ctx context.Context) ([]int32, error) {
	fits, err := c.ListActiveFits(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[int32]bool)
	for _, f := range fits {
		seen[f.ShipTypeID] = true
		for _, comp := range f.Components {
			seen[comp.TypeID] = true
		}
	}
	out := make([]int32, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out, nil
}
