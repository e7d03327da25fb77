package config

import (
	"os"
	"testing"
)

func TestDefault_Values(t *testing.T) {
	c := Default()
	if c.DoctrineTarget != 20 {
		t.Errorf("DoctrineTarget = %v, want 20", c.DoctrineTarget)
	}
	if c.HistoryLookbackDays != 30 {
		t.Errorf("HistoryLookbackDays = %v, want 30", c.HistoryLookbackDays)
	}
	if c.HistoryConcurrency != 8 {
		t.Errorf("HistoryConcurrency = %v, want 8", c.HistoryConcurrency)
	}
	if c.RequestTimeoutSeconds != 10 {
		t.Errorf("RequestTimeoutSeconds = %v, want 10", c.RequestTimeoutSeconds)
	}
	if c.MaxRetriesPerPage != 5 {
		t.Errorf("MaxRetriesPerPage = %v, want 5", c.MaxRetriesPerPage)
	}
	if c.RetryBackoffSeconds != 3 {
		t.Errorf("RetryBackoffSeconds = %v, want 3", c.RetryBackoffSeconds)
	}
}

func TestLoadFromEnv_RequiresStructureAndRegion(t *testing.T) {
	os.Unsetenv("EMI_STRUCTURE_ID")
	os.Unsetenv("EMI_REGION_ID")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error when EMI_STRUCTURE_ID is unset")
	}
}

func TestLoadFromEnv_OverridesAndClamps(t *testing.T) {
	os.Setenv("EMI_STRUCTURE_ID", "1234567890")
	os.Setenv("EMI_REGION_ID", "10000002")
	os.Setenv("EMI_HISTORY_CONCURRENCY", "99")
	os.Setenv("EMI_DOCTRINE_TARGET", "50")
	defer func() {
		os.Unsetenv("EMI_STRUCTURE_ID")
		os.Unsetenv("EMI_REGION_ID")
		os.Unsetenv("EMI_HISTORY_CONCURRENCY")
		os.Unsetenv("EMI_DOCTRINE_TARGET")
	}()

	c, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if c.StructureID != 1234567890 {
		t.Errorf("StructureID = %v, want 1234567890", c.StructureID)
	}
	if c.RegionID != 10000002 {
		t.Errorf("RegionID = %v, want 10000002", c.RegionID)
	}
	if c.HistoryConcurrency != 16 {
		t.Errorf("HistoryConcurrency = %v, want clamped to 16", c.HistoryConcurrency)
	}
	if c.DoctrineTarget != 50 {
		t.Errorf("DoctrineTarget = %v, want 50", c.DoctrineTarget)
	}
}
