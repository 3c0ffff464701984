// Package ledger defines the token-movement boundary of the settlement engines.
// Engines never touch balances directly; they describe transfers and hand them
// to a Ledger once every precondition of an operation has been checked.
package ledger

import (
	"context"
	"fmt"
	"time"

	"AgentEscrow-Chain/internal/auth"
	xerrors "AgentEscrow-Chain/internal/errors"
)

// Transfer is a single outbound or inbound token movement.
type Transfer struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
	Symbol string `json:"symbol"`
	Memo   string `json:"memo"`
}

// Deposit is an inbound transfer observed on the ledger.
type Deposit struct {
	Reference string
	Transfer
	ObservedAt time.Time
}

// Ledger is the adapter consumed by the engines.
type Ledger interface {
	Transfer(ctx context.Context, t Transfer) error
	AccountExists(ctx context.Context, account string) (bool, error)
	Authorize(ctx context.Context, account string) error
	Now(ctx context.Context) time.Time
}

// BatchTransferer is implemented by ledgers able to apply several transfers
// all-or-nothing.
type BatchTransferer interface {
	TransferBatch(ctx context.Context, transfers []Transfer) error
}

// Settle executes transfers in order, skipping zero amounts.
func Settle(ctx context.Context, l Ledger, transfers []Transfer) error {
	pending := make([]Transfer, 0, len(transfers))
	for _, t := range transfers {
		if t.Amount > 0 {
			pending = append(pending, t)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	if batch, ok := l.(BatchTransferer); ok {
		if err := batch.TransferBatch(ctx, pending); err != nil {
			return wrapLedgerErr(err, "batch transfer failed")
		}
		return nil
	}
	for i, t := range pending {
		if err := l.Transfer(ctx, t); err != nil {
			return wrapLedgerErr(err, fmt.Sprintf("transfer %d of %d to %s failed", i+1, len(pending), t.To))
		}
	}
	return nil
}

// AuthorizeFromContext is the shared Authorize implementation: the caller must
// be the principal verified by the API layer.
func AuthorizeFromContext(ctx context.Context, account string) error {
	return auth.Require(ctx, account)
}

func wrapLedgerErr(err error, msg string) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(xerrors.CodeLedgerFailure, err, msg)
}
