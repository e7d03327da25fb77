package typecatalog

import (
	"testing"

	"eve-market-intel/internal/market"
)

type fakeSource struct {
	byID map[int32]market.TypeInfo
}

func (f fakeSource) ReadTypeCatalog() (map[int32]market.TypeInfo, error) {
	return f.byID, nil
}

func TestLoad_And_Lookup(t *testing.T) {
	src := fakeSource{byID: map[int32]market.TypeInfo{
		1: {TypeID: 1, TypeName: "Tritanium"},
	}}
	c, err := Load(src)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	info, ok := c.Lookup(1)
	if !ok || info.TypeName != "Tritanium" {
		t.Errorf("Lookup(1) = %+v, %v", info, ok)
	}

	if _, ok := c.Lookup(999); ok {
		t.Error("expected miss for unknown type id")
	}
}

func TestEnrichStat(t *testing.T) {
	src := fakeSource{byID: map[int32]market.TypeInfo{
		1: {TypeID: 1, TypeName: "Tritanium", GroupID: 18, GroupName: "Mineral"},
	}}
	c, _ := Load(src)

	s := &market.Stat{TypeID: 1}
	c.EnrichStat(s)
	if s.TypeName != "Tritanium" || s.GroupName != "Mineral" {
		t.Errorf("EnrichStat left %+v unenriched", s)
	}
}

func TestShipName_UnknownReturnsEmpty(t *testing.T) {
	c, _ := Load(fakeSource{byID: map[int32]market.TypeInfo{}})
	if got := c.ShipName(123); got != "" {
		t.Errorf("ShipName(unknown) = %q, want empty", got)
	}
}

func TestResetWarnings_AllowsReWarning(t *testing.T) {
	c, _ := Load(fakeSource{byID: map[int32]market.TypeInfo{}})
	c.Lookup(5)
	if !c.warned[5] {
		t.Fatal("expected 5 to be marked warned")
	}
	c.ResetWarnings()
	if c.warned[5] {
		t.Error("expected warnings cleared after ResetWarnings")
	}
}
