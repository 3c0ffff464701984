package escrow

import (
	"context"

	"AgentEscrow-Chain/internal/ledger"
	"AgentEscrow-Chain/internal/memo"
)

// RegisterRoutes binds the escrow inbound payment memos on r.
func (e *Engine) RegisterRoutes(r *memo.Router) {
	r.Handle(memo.KindFund, func(ctx context.Context, m memo.Memo, in ledger.Transfer) error {
		_, err := e.Fund(ctx, m.ID, in)
		return err
	})
	r.Handle(memo.KindArbitratorStake, func(ctx context.Context, _ memo.Memo, in ledger.Transfer) error {
		_, err := e.StakeArbitrator(ctx, in)
		return err
	})
}
