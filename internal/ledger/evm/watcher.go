package evm

import (
	"context"
	"math/big"
	"sync"
	"time"

	xerrors "AgentEscrow-Chain/internal/errors"
	"AgentEscrow-Chain/internal/ledger"
	"AgentEscrow-Chain/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// DepositHandler receives inbound transfers to the custody account.
type DepositHandler func(ctx context.Context, d ledger.Deposit) error

// Watcher scans new blocks for value transfers into the custody account.
type Watcher struct {
	backend  Backend
	custody  common.Address
	signer   types.Signer
	symbol   string
	interval time.Duration
	handler  DepositHandler

	mu   sync.Mutex
	next uint64
}

// WatcherOption customises a Watcher.
type WatcherOption func(*Watcher)

// WithPollInterval overrides the default block polling interval.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithStartBlock begins scanning at the given height instead of the head.
func WithStartBlock(n uint64) WatcherOption {
	return func(w *Watcher) {
		w.next = n
	}
}

// NewWatcher builds a watcher for the ledger's custody account.
func NewWatcher(l *Ledger, handler DepositHandler, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		backend:  l.backend,
		custody:  l.custody,
		signer:   l.signer,
		symbol:   l.symbol,
		interval: 5 * time.Second,
		handler:  handler,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if _, err := w.Poll(ctx); err != nil {
			logger.Named("ledger.watcher").Error("poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll processes every block up to the current head and returns the number of
// deposits delivered. A handler error stops the scan at the failing block so
// it is retried on the next poll.
func (w *Watcher) Poll(ctx context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	head, err := w.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeLedgerFailure, err, "fetch head", xerrors.WithRetryable(true))
	}
	delivered := 0
	for n := w.next; n <= head.Number.Uint64(); n++ {
		block, err := w.backend.BlockByNumber(ctx, new(big.Int).SetUint64(n))
		if err != nil {
			return delivered, xerrors.Wrap(xerrors.CodeLedgerFailure, err, "fetch block", xerrors.WithRetryable(true))
		}
		deposits := w.extract(block)
		for _, d := range deposits {
			if err := w.handler(ctx, d); err != nil {
				return delivered, err
			}
			delivered++
		}
		w.next = n + 1
	}
	return delivered, nil
}

func (w *Watcher) extract(block *types.Block) []ledger.Deposit {
	var out []ledger.Deposit
	observed := time.Unix(int64(block.Time()), 0).UTC()
	for _, tx := range block.Transactions() {
		to := tx.To()
		if to == nil || *to != w.custody || tx.Value().Sign() == 0 {
			continue
		}
		if !tx.Value().IsUint64() {
			logger.Named("ledger.watcher").Warn("deposit exceeds amount range", "tx", tx.Hash().Hex())
			continue
		}
		from, err := types.Sender(w.signer, tx)
		if err != nil {
			logger.Named("ledger.watcher").Warn("cannot recover sender", "tx", tx.Hash().Hex(), "error", err)
			continue
		}
		out = append(out, ledger.Deposit{
			Reference: tx.Hash().Hex(),
			Transfer: ledger.Transfer{
				From:   from.Hex(),
				To:     w.custody.Hex(),
				Amount: tx.Value().Uint64(),
				Symbol: w.symbol,
				Memo:   string(tx.Data()),
			},
			ObservedAt: observed,
		})
	}
	return out
}
