// Package typecatalog provides the in-memory type_id -> TypeInfo lookup
// used to denormalize names/groups/categories onto stats and doctrine
// rows. It is read-only after Load: any number of concurrent readers,
// no locking required.
package typecatalog

import (
	"fmt"
	"sync"

	"eve-market-intel/internal/logger"
	"eve-market-intel/internal/market"
)

// Source is the subset of Store this package depends on — an interface
// seam so typecatalog never imports the concrete store package.
type Source interface {
	ReadTypeCatalog() (map[int32]market.TypeInfo, error)
}

// Catalog is a preloaded, read-only type_id -> TypeInfo index.
type Catalog struct {
	byID map[int32]market.TypeInfo

	mu     sync.Mutex
	warned map[int32]bool // unknown ids already logged this cycle
}

// Load preloads the catalog from the given source (typically the Store's
// type_catalog table, populated out of band).
func Load(src Source) (*Catalog, error) {
	byID, err := src.ReadTypeCatalog()
	if err != nil {
		return nil, err
	}
	logger.Info("CATALOG", fmt.Sprintf("loaded %d type entries", len(byID)))
	return &Catalog{byID: byID, warned: make(map[int32]bool)}, nil
}

// ResetWarnings clears the per-cycle unknown-id dedup set. Call once at
// the start of each pipeline cycle.
func (c *Catalog) ResetWarnings() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warned = make(map[int32]bool)
}

// Lookup returns the TypeInfo for typeID, or the zero value and false if
// unknown. A miss is not fatal; callers keep the row with blank names.
func (c *Catalog) Lookup(typeID int32) (market.TypeInfo, bool) {
	info, ok := c.byID[typeID]
	if !ok {
		c.warnOnce(typeID)
	}
	return info, ok
}

func (c *Catalog) warnOnce(typeID int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.warned[typeID] {
		return
	}
	c.warned[typeID] = true
	logger.Warn("CATALOG", fmt.Sprintf("unknown type_id %d", typeID))
}

// EnrichStat left-joins name/group/category fields onto a Stat in place.
func (c *Catalog) EnrichStat(s *market.Stat) {
	info, ok := c.Lookup(s.TypeID)
	if !ok {
		return
	}
	s.TypeName = info.TypeName
	s.GroupID = info.GroupID
	s.GroupName = info.GroupName
	s.CategoryID = info.CategoryID
	s.CategoryName = info.CategoryName
}

// EnrichDoctrineRow left-joins name/group/category fields for the
// component type_id onto a DoctrineRow in place. The ship hull name is
// filled separately by the caller since hull lookups key off a
// different field (ShipTypeID).
func (c *Catalog) EnrichDoctrineRow(r *market.DoctrineRow) {
	info, ok := c.Lookup(r.TypeID)
	if !ok {
		return
	}
	r.TypeName = info.TypeName
	r.GroupID = info.GroupID
	r.GroupName = info.GroupName
	r.CategoryID = info.CategoryID
	r.CategoryName = info.CategoryName
}

// ShipName returns the hull's type name, or "" if unknown. A fit whose
// hull is unknown to the catalog is still emitted (spec §4.6 failure
// semantics) with a blank name.
func (c *Catalog) ShipName(shipTypeID int32) string {
	info, ok := c.Lookup(shipTypeID)
	if !ok {
		return ""
	}
	return info.TypeName
}

// TypeNames returns a type_id -> type_name map for the given ids,
// skipping unknown ids (left as absent rather than blank-stringed) —
// used by Store writers that denormalize type_name onto rows.
func (c *Catalog) TypeNames(typeIDs []int32) map[int32]string {
	out := make(map[int32]string, len(typeIDs))
	for _, id := range typeIDs {
		if info, ok := c.byID[id]; ok {
			out[id] = info.TypeName
		}
	}
	return out
}

