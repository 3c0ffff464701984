package evm

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"
	"time"

	xerrors "AgentEscrow-Chain/internal/errors"
	"AgentEscrow-Chain/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
)

var oneEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

type chainFixture struct {
	backend *simulated.Backend
	ledger  *Ledger
	user    *ecdsa.PrivateKey
}

func newChainFixture(t *testing.T) *chainFixture {
	t.Helper()
	custodyKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	userKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	backend := simulated.NewBackend(types.GenesisAlloc{
		crypto.PubkeyToAddress(custodyKey.PublicKey): {Balance: oneEther},
		crypto.PubkeyToAddress(userKey.PublicKey):    {Balance: oneEther},
	})
	t.Cleanup(func() { _ = backend.Close() })

	l, err := New(context.Background(), backend.Client(), Config{Key: custodyKey, Symbol: "ETH"})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return &chainFixture{backend: backend, ledger: l, user: userKey}
}

func TestLedgerTransferBatchMovesValue(t *testing.T) {
	f := newChainFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	agent := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	owner := common.HexToAddress("0x00000000000000000000000000000000000000b2")

	err := f.ledger.TransferBatch(ctx, []ledger.Transfer{
		{From: f.ledger.Custody(), To: agent.Hex(), Amount: 990, Symbol: "ETH", Memo: "job:1 payout"},
		{From: f.ledger.Custody(), To: owner.Hex(), Amount: 10, Symbol: "ETH", Memo: "job:1 fee"},
	})
	if err != nil {
		t.Fatalf("transfer batch: %v", err)
	}
	f.backend.Commit()

	got, err := f.ledger.Balance(ctx, agent.Hex())
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got.Uint64() != 990 {
		t.Fatalf("agent balance = %s, want 990", got)
	}
	exists, err := f.ledger.AccountExists(ctx, owner.Hex())
	if err != nil || !exists {
		t.Fatalf("owner should exist after payout: %v %v", exists, err)
	}
	exists, err = f.ledger.AccountExists(ctx, "0x00000000000000000000000000000000000000c3")
	if err != nil || exists {
		t.Fatalf("untouched address should not exist: %v %v", exists, err)
	}
}

func TestLedgerRejectsForeignSenderAndSymbol(t *testing.T) {
	f := newChainFixture(t)
	ctx := context.Background()
	to := "0x00000000000000000000000000000000000000a1"

	err := f.ledger.Transfer(ctx, ledger.Transfer{From: to, To: to, Amount: 1, Symbol: "ETH"})
	if !xerrors.HasCode(err, xerrors.CodeLedgerFailure) {
		t.Fatalf("expected ledger failure for foreign sender, got %v", err)
	}
	err = f.ledger.Transfer(ctx, ledger.Transfer{From: f.ledger.Custody(), To: to, Amount: 1, Symbol: "USDC"})
	if !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument for symbol, got %v", err)
	}
}

func TestLedgerNowFollowsBlockTime(t *testing.T) {
	f := newChainFixture(t)
	ctx := context.Background()

	before := f.ledger.Now(ctx)
	if err := f.backend.AdjustTime(time.Hour); err != nil {
		t.Fatalf("adjust time: %v", err)
	}
	f.backend.Commit()
	after := f.ledger.Now(ctx)
	if after.Sub(before) < time.Hour {
		t.Fatalf("expected block time to advance by an hour, before=%s after=%s", before, after)
	}
}

func TestWatcherDeliversCustodyDeposits(t *testing.T) {
	f := newChainFixture(t)
	ctx := context.Background()
	client := f.backend.Client()

	var seen []ledger.Deposit
	w := NewWatcher(f.ledger, func(_ context.Context, d ledger.Deposit) error {
		seen = append(seen, d)
		return nil
	})

	nonce, err := client.PendingNonceAt(ctx, crypto.PubkeyToAddress(f.user.PublicKey))
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		t.Fatalf("gas price: %v", err)
	}
	custody := common.HexToAddress(f.ledger.Custody())
	data := []byte("fund:7")
	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &custody,
		Value:    big.NewInt(500),
		Gas:      IntrinsicGas(data),
		GasPrice: gasPrice,
		Data:     data,
	}), types.LatestSignerForChainID(f.ledger.ChainID()), f.user)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := client.SendTransaction(ctx, tx); err != nil {
		t.Fatalf("send: %v", err)
	}
	f.backend.Commit()

	n, err := w.Poll(ctx)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if n != 1 || len(seen) != 1 {
		t.Fatalf("expected one deposit, got %d (%+v)", n, seen)
	}
	d := seen[0]
	if d.Memo != "fund:7" || d.Amount != 500 || d.Reference != tx.Hash().Hex() {
		t.Fatalf("unexpected deposit %+v", d)
	}
	if d.From != crypto.PubkeyToAddress(f.user.PublicKey).Hex() {
		t.Fatalf("unexpected sender %s", d.From)
	}

	n, err = w.Poll(ctx)
	if err != nil || n != 0 {
		t.Fatalf("second poll should be empty, got %d %v", n, err)
	}
}

func TestIntrinsicGas(t *testing.T) {
	if got := IntrinsicGas([]byte{0, 1}); got != 21_000+4+16 {
		t.Fatalf("IntrinsicGas = %d", got)
	}
}
