package config

import (
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()

	if cfg.Addr != ":8090" {
		t.Fatalf("default addr: %q", cfg.Addr)
	}
	if cfg.CellColumn != "cell" {
		t.Fatalf("default cell column: %q", cfg.CellColumn)
	}
	if cfg.Resolution != 8 {
		t.Fatalf("default resolution: %d", cfg.Resolution)
	}
	if cfg.Containment != "center" {
		t.Fatalf("default containment: %q", cfg.Containment)
	}
	if cfg.CacheTTL != time.Hour {
		t.Fatalf("default cache ttl: %v", cfg.CacheTTL)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("H3_RES", "11")
	t.Setenv("CELL_COLUMN", "hex")
	t.Setenv("CONTAINMENT", "overlapping")
	t.Setenv("COMPACT", "true")
	t.Setenv("CACHE_TTL", "5m")

	cfg := FromEnv()
	if cfg.Resolution != 11 || cfg.CellColumn != "hex" || cfg.Containment != "overlapping" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if !cfg.Compact {
		t.Fatalf("compact override not applied")
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Fatalf("ttl override not applied: %v", cfg.CacheTTL)
	}
}

func TestFromEnv_ResolutionClamped(t *testing.T) {
	t.Setenv("H3_RES", "99")
	if cfg := FromEnv(); cfg.Resolution != 15 {
		t.Fatalf("resolution should clamp to 15, got %d", cfg.Resolution)
	}
	t.Setenv("H3_RES", "-3")
	if cfg := FromEnv(); cfg.Resolution != 0 {
		t.Fatalf("resolution should clamp to 0, got %d", cfg.Resolution)
	}
}
