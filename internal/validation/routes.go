package validation

import (
	"context"

	"AgentEscrow-Chain/internal/ledger"
	"AgentEscrow-Chain/internal/memo"
)

// RegisterRoutes binds the validation inbound payment memos on r.
func (e *Engine) RegisterRoutes(r *memo.Router) {
	r.Handle(memo.KindStake, func(ctx context.Context, _ memo.Memo, in ledger.Transfer) error {
		_, err := e.Stake(ctx, in)
		return err
	})
	r.Handle(memo.KindChallenge, func(ctx context.Context, m memo.Memo, in ledger.Transfer) error {
		_, err := e.FundChallenge(ctx, m.ID, in)
		return err
	})
}
