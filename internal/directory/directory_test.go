package directory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	xerrors "AgentEscrow-Chain/internal/errors"
)

func TestStaticLookupIsCaseInsensitive(t *testing.T) {
	d := NewStatic(Agent{Account: "0xAbC0000000000000000000000000000000000001", Active: true})

	agent, err := d.GetAgent(context.Background(), "0xabc0000000000000000000000000000000000001")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if !agent.Active {
		t.Fatal("agent should be active")
	}
	if _, err := d.GetAgent(context.Background(), "0xdead"); !xerrors.HasCode(err, xerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRequireActive(t *testing.T) {
	d := NewStatic(
		Agent{Account: "alpha", Active: true},
		Agent{Account: "beta", Active: false},
	)
	ctx := context.Background()

	cases := []struct {
		account string
		wantErr bool
	}{
		{"alpha", false},
		{"beta", true},
		{"gamma", true},
	}
	for _, tc := range cases {
		err := RequireActive(ctx, d, tc.account)
		if (err != nil) != tc.wantErr {
			t.Fatalf("RequireActive(%s) err=%v wantErr=%v", tc.account, err, tc.wantErr)
		}
		if err != nil && !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
			t.Fatalf("RequireActive(%s) code=%s", tc.account, xerrors.CodeOf(err))
		}
	}
}

func TestLoadStaticSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	content := "agents:\n  - account: translator\n    name: Translator Bot\n    active: true\n  - account: retired\n    active: false\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	d, err := LoadStatic(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	agent, err := d.GetAgent(context.Background(), "translator")
	if err != nil || agent.Name != "Translator Bot" || !agent.Active {
		t.Fatalf("unexpected agent %+v err=%v", agent, err)
	}
	if err := RequireActive(context.Background(), d, "retired"); err == nil {
		t.Fatal("retired agent should be rejected")
	}
}
