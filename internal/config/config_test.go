package config

import (
	"strings"
	"testing"
)

func TestParseFormExports_Valid(t *testing.T) {
	exports, err := ParseFormExports("demo_case:event, demo_register:data_set")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(exports) != 2 {
		t.Fatalf("expected 2 exports, got %d", len(exports))
	}
	if exports[0].Name != "demo_case" || exports[0].Class != ClassEvent {
		t.Errorf("unexpected first export: %+v", exports[0])
	}
	if exports[1].Name != "demo_register" || exports[1].Class != ClassDataSet {
		t.Errorf("unexpected second export: %+v", exports[1])
	}
}

func TestParseFormExports_Empty(t *testing.T) {
	exports, err := ParseFormExports("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exports != nil {
		t.Errorf("expected nil exports, got %+v", exports)
	}
}

func TestParseFormExports_UnknownClass(t *testing.T) {
	_, err := ParseFormExports("demo_case:tracker")
	if err == nil {
		t.Fatal("expected error for unknown class")
	}
	if !strings.Contains(err.Error(), "class must be") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParseFormExports_MissingSeparator(t *testing.T) {
	if _, err := ParseFormExports("demo_case"); err == nil {
		t.Fatal("expected error for missing class separator")
	}
}

func TestValidate_RequiresRemotes(t *testing.T) {
	cfg := &Config{MeerkatAPIURL: "http://nginx/api", ExportWorkers: 4, ExportQueueSize: 64, UIDBatchSize: 100}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when DHIS2_URL is empty")
	}
	cfg.DHIS2URL = "http://dhis2-web:8080"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	cfg.MeerkatAPIURL = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when MEERKAT_API_URL is empty")
	}
}

func TestValidate_PositiveBounds(t *testing.T) {
	cfg := &Config{DHIS2URL: "http://dhis2-web:8080", MeerkatAPIURL: "http://nginx/api", ExportWorkers: 0, ExportQueueSize: 64, UIDBatchSize: 100}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero workers")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if cfg.CountryLocationID != 1 {
		t.Errorf("expected default country location id 1, got %d", cfg.CountryLocationID)
	}
	if cfg.UIDBatchSize != 100 {
		t.Errorf("expected default uid batch size 100, got %d", cfg.UIDBatchSize)
	}
}
