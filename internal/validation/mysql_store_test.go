package validation

import (
	"context"
	"testing"
	"time"

	xerrors "AgentEscrow-Chain/internal/errors"
	"AgentEscrow-Chain/internal/storage/mysql/mysqltest"
)

func TestMySQLStoreValidatorRoundTrip(t *testing.T) {
	registered := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	db, drv := mysqltest.New(t,
		mysqltest.Begin(),
		mysqltest.Exec("", mysqltest.Result{AffectedRows: 1}),
		mysqltest.Commit(),
		mysqltest.Query(`SELECT `+validatorColumns+` FROM validators WHERE account = ?`, mysqltest.Rows{
			Columns: []string{"account", "method", "specializations", "stake", "active", "accuracy_score",
				"total_validations", "incorrect_validations", "pending_challenges", "unstake_amount",
				"unstake_requested_at", "registered_at", "updated_at"},
			Values: [][]any{{
				"0xabc", "llm", "code,legal", int64(2500), int64(1), int64(9000), int64(10), int64(1), int64(0),
				int64(0), int64(0), registered.Unix(), registered.Unix(),
			}},
		}),
		mysqltest.Query("", mysqltest.Rows{}),
	)
	store := NewMySQLStore(db)
	ctx := context.Background()

	err := store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.SaveValidator(ctx, Validator{
			Account: "0xabc", Method: "llm", Specializations: []string{"code", "legal"}, Stake: 2500,
			Active: true, AccuracyScore: 9000, RegisteredAt: registered, UpdatedAt: registered,
		})
	})
	if err != nil {
		t.Fatalf("save validator: %v", err)
	}
	saved := drv.Calls()[0].Args
	if saved[2] != "code,legal" || saved[4] != int64(1) {
		t.Fatalf("unexpected insert args %v", saved)
	}

	v, err := store.GetValidator(ctx, "0xabc")
	if err != nil {
		t.Fatalf("get validator: %v", err)
	}
	if len(v.Specializations) != 2 || !v.Active || v.AccuracyScore != 9000 || !v.UnstakeRequestedAt.IsZero() {
		t.Fatalf("unexpected validator %+v", v)
	}

	if _, err := store.GetChallenge(ctx, 9); !xerrors.HasCode(err, xerrors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	drv.AssertConsumed(t)
}
