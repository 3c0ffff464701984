package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "escrowd.yaml")
	content := []byte(`
server:
  address: ":9090"
directory:
  driver: static
  seed_file: agents.yaml
escrow:
  owner: "0xowner"
  platform_fee_bps: 250
  dispute_window: 48h
validation:
  slash_percent_bps: 500
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Fatalf("unexpected address %q", cfg.Server.Address)
	}
	if cfg.Storage.Driver != "memory" || cfg.Ledger.Driver != "memory" {
		t.Fatalf("expected memory drivers, got %q/%q", cfg.Storage.Driver, cfg.Ledger.Driver)
	}
	if cfg.Directory.SeedFile != filepath.Join(dir, "agents.yaml") {
		t.Fatalf("seed file not resolved: %q", cfg.Directory.SeedFile)
	}
	if cfg.Escrow.PlatformFee != 250 || cfg.Escrow.DisputeWindow != 48*time.Hour {
		t.Fatalf("escrow values not honoured: %+v", cfg.Escrow)
	}
	if cfg.Escrow.AcceptanceTimeout != 48*time.Hour {
		t.Fatalf("unexpected acceptance timeout default %s", cfg.Escrow.AcceptanceTimeout)
	}
	if cfg.Validation.SlashPercent != 500 || cfg.Validation.SlashRecipient != "burn" {
		t.Fatalf("unexpected validation config %+v", cfg.Validation)
	}
	if cfg.Validation.Symbol != "ETH" {
		t.Fatalf("validation symbol should inherit ledger symbol, got %q", cfg.Validation.Symbol)
	}
}

func TestLoadRejectsEmptyPath(t *testing.T) {
	if _, err := Load(" "); err == nil {
		t.Fatal("expected error for empty path")
	}
}
