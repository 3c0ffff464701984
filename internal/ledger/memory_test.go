package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	xerrors "AgentEscrow-Chain/internal/errors"
)

func TestMemoryLedgerBatchIsAllOrNothing(t *testing.T) {
	l := NewMemoryLedger()
	l.Credit("custody", "ETH", 100)

	err := l.TransferBatch(context.Background(), []Transfer{
		{From: "custody", To: "alice", Amount: 60, Symbol: "ETH"},
		{From: "custody", To: "bob", Amount: 50, Symbol: "ETH"},
	})
	if !xerrors.HasCode(err, xerrors.CodeLedgerFailure) {
		t.Fatalf("expected ledger failure, got %v", err)
	}
	if got := l.Balance("custody", "ETH"); got != 100 {
		t.Fatalf("custody balance changed on failed batch: %d", got)
	}
	if len(l.History()) != 0 {
		t.Fatalf("history should be empty, got %+v", l.History())
	}
}

func TestSettleSkipsZeroAndUsesBatch(t *testing.T) {
	l := NewMemoryLedger()
	l.Credit("custody", "ETH", 100)

	err := Settle(context.Background(), l, []Transfer{
		{From: "custody", To: "fee", Amount: 0, Symbol: "ETH"},
		{From: "custody", To: "agent", Amount: 99, Symbol: "ETH"},
		{From: "custody", To: "owner", Amount: 1, Symbol: "ETH"},
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if got := len(l.History()); got != 2 {
		t.Fatalf("expected 2 transfers, got %d", got)
	}
	if l.Balance("agent", "ETH") != 99 || l.Balance("owner", "ETH") != 1 {
		t.Fatalf("unexpected balances agent=%d owner=%d", l.Balance("agent", "ETH"), l.Balance("owner", "ETH"))
	}
}

func TestMemoryLedgerFailNextAndClock(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	l := NewMemoryLedger(WithStartTime(start))
	l.Credit("a", "ETH", 10)
	l.FailNext(errors.New("rpc down"))

	if err := l.Transfer(context.Background(), Transfer{From: "a", To: "b", Amount: 1, Symbol: "ETH"}); err == nil {
		t.Fatal("expected injected failure")
	}
	if err := l.Transfer(context.Background(), Transfer{From: "a", To: "b", Amount: 1, Symbol: "ETH"}); err != nil {
		t.Fatalf("second transfer should succeed: %v", err)
	}
	l.Advance(time.Hour)
	if !l.Now(context.Background()).Equal(start.Add(time.Hour)) {
		t.Fatalf("clock did not advance")
	}
	ok, _ := l.AccountExists(context.Background(), "b")
	if !ok {
		t.Fatal("recipient should exist after transfer")
	}
}
