package main

import (
	"testing"

	"AgentEscrow-Chain/internal/auth"
	"AgentEscrow-Chain/internal/config"
	"AgentEscrow-Chain/internal/validation"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "migrate"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("subcommand %s not registered: %v", name, err)
		}
	}
	if root.PersistentFlags().Lookup("config") == nil {
		t.Fatal("config flag missing")
	}
}

func TestAuthModeRequiresMemoryLedgerForTrusted(t *testing.T) {
	cfg, err := config.Parse([]byte("server:\n  auth_mode: trusted\n"), t.TempDir())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if mode, err := authMode(cfg); err != nil || mode != auth.ModeTrusted {
		t.Fatalf("memory ledger: mode=%s err=%v", mode, err)
	}
	cfg.Ledger.Driver = "evm"
	if _, err := authMode(cfg); err == nil {
		t.Fatal("expected trusted mode to be refused on the evm ledger")
	}
	cfg.Server.AuthMode = "open"
	if _, err := authMode(cfg); err == nil {
		t.Fatal("expected unknown mode to be refused")
	}
}

func TestEngineConfigsFollowFileDefaults(t *testing.T) {
	cfg, err := config.Parse([]byte("escrow:\n  owner: ops\nvalidation:\n  owner: ops\n  challenge_stake: 50\n"), t.TempDir())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ec := escrowConfig(cfg)
	if ec.Symbol != cfg.Ledger.Symbol || ec.PlatformFee != 100 {
		t.Fatalf("escrow config %+v", ec)
	}
	if err := ec.Validate(); err != nil {
		t.Fatalf("escrow config invalid: %v", err)
	}
	vc := validationConfig(cfg)
	if vc.SlashRecipient != validation.SlashBurn || vc.ChallengeStake != 50 {
		t.Fatalf("validation config %+v", vc)
	}
	if err := vc.Validate(); err != nil {
		t.Fatalf("validation config invalid: %v", err)
	}
}
