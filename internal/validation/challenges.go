package validation

import (
	"context"
	"strings"

	"AgentEscrow-Chain/internal/auth"
	xerrors "AgentEscrow-Chain/internal/errors"
	"AgentEscrow-Chain/internal/ledger"
)

// CreateChallengeRequest objects to a validation.
type CreateChallengeRequest struct {
	Challenger   string `json:"challenger"`
	ValidationID uint64 `json:"validation_id"`
	Reason       string `json:"reason"`
	Evidence     string `json:"evidence,omitempty"`
}

// CreateChallenge opens an unfunded challenge. The validation is not marked
// challenged until the challenge is funded.
func (e *Engine) CreateChallenge(ctx context.Context, req CreateChallengeRequest) (Challenge, error) {
	caller := auth.Normalize(req.Challenger)

	var c Challenge
	err := e.execute(ctx, "create_challenge", func(ctx context.Context, tx Tx, op *operation) error {
		if err := e.ledger.Authorize(ctx, caller); err != nil {
			return err
		}
		cfg, err := tx.GetConfig(ctx)
		if err != nil {
			return err
		}
		if cfg.Paused {
			return errPaused()
		}
		val, err := tx.GetValidation(ctx, req.ValidationID)
		if err != nil {
			return err
		}
		if val.Validator == caller {
			return xerrors.New(xerrors.CodeInvalidArgument, "validators cannot challenge their own validations")
		}
		if strings.TrimSpace(req.Reason) == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "challenge reason is required")
		}
		if op.now.Sub(val.CreatedAt) > cfg.ChallengeWindow {
			return xerrors.Newf(xerrors.CodeTiming, "challenge window for validation %d has closed", val.ID)
		}
		id, err := tx.NextID(ctx, EntityChallenge)
		if err != nil {
			return err
		}
		c = Challenge{
			ID:              id,
			ValidationID:    val.ID,
			Validator:       val.Validator,
			Challenger:      caller,
			Reason:          req.Reason,
			Evidence:        req.Evidence,
			Status:          StatusPendingUnfunded,
			FundingDeadline: op.now.Add(cfg.FundingPeriod),
			CreatedAt:       op.now,
		}
		op.annotate("challenge_id", id, "validation_id", val.ID, "challenger", caller)
		return tx.SaveChallenge(ctx, c)
	})
	if err != nil {
		return Challenge{}, err
	}
	return c, nil
}

// FundChallenge applies an inbound challenge payment. Funding marks the
// validation challenged and counts against the validator until resolution.
func (e *Engine) FundChallenge(ctx context.Context, challengeID uint64, in ledger.Transfer) (Challenge, error) {
	sender := auth.Normalize(in.From)

	var c Challenge
	err := e.execute(ctx, "fund_challenge", func(ctx context.Context, tx Tx, op *operation) error {
		cfg, err := tx.GetConfig(ctx)
		if err != nil {
			return err
		}
		if cfg.Paused {
			return errPaused()
		}
		c, err = tx.GetChallenge(ctx, challengeID)
		if err != nil {
			return err
		}
		if c.Status != StatusPendingUnfunded {
			return xerrors.Newf(xerrors.CodeInvalidState, "challenge %d is %s", c.ID, c.Status)
		}
		if op.now.After(c.FundingDeadline) {
			return xerrors.Newf(xerrors.CodeTiming, "funding deadline for challenge %d has passed", c.ID)
		}
		if c.Challenger != sender {
			return xerrors.Newf(xerrors.CodeUnauthorized, "challenge %d can only be funded by its challenger", c.ID)
		}
		if !strings.EqualFold(in.Symbol, cfg.Symbol) {
			return xerrors.Newf(xerrors.CodeInvalidArgument, "challenge stake must be paid in %s, received %s", cfg.Symbol, in.Symbol)
		}
		if in.Amount == 0 || in.Amount < cfg.ChallengeStake {
			return xerrors.Newf(xerrors.CodeEconomicInvariant, "challenge stake %d is below the required %d", in.Amount, cfg.ChallengeStake)
		}
		val, err := tx.GetValidation(ctx, c.ValidationID)
		if err != nil {
			return err
		}
		if val.Challenged {
			return xerrors.Newf(xerrors.CodeInvalidState, "validation %d already has a funded challenge", val.ID)
		}
		v, err := tx.GetValidator(ctx, c.Validator)
		if err != nil {
			return err
		}

		c.Stake = in.Amount
		c.Status = StatusFundedPending
		c.FundedAt = op.now
		val.Challenged = true
		v.PendingChallenges++
		v.UpdatedAt = op.now
		op.annotate("challenge_id", c.ID, "stake", in.Amount, "validator", v.Account)
		if err := tx.SaveValidation(ctx, val); err != nil {
			return err
		}
		if err := tx.SaveValidator(ctx, v); err != nil {
			return err
		}
		return tx.SaveChallenge(ctx, c)
	})
	if err != nil {
		return Challenge{}, err
	}
	return c, nil
}

// ExpireUnfundedChallenge closes a challenge whose funding deadline passed.
// Nothing else changes since the validation was never marked.
func (e *Engine) ExpireUnfundedChallenge(ctx context.Context, caller string, challengeID uint64) (Challenge, error) {
	caller = auth.Normalize(caller)

	var c Challenge
	err := e.execute(ctx, "expire_unfunded_challenge", func(ctx context.Context, tx Tx, op *operation) error {
		if err := e.ledger.Authorize(ctx, caller); err != nil {
			return err
		}
		var err error
		c, err = tx.GetChallenge(ctx, challengeID)
		if err != nil {
			return err
		}
		if c.Status != StatusPendingUnfunded {
			return xerrors.Newf(xerrors.CodeInvalidState, "challenge %d is %s", c.ID, c.Status)
		}
		if !op.now.After(c.FundingDeadline) {
			return xerrors.Newf(xerrors.CodeTiming, "challenge %d can still be funded", c.ID)
		}
		c.Status = StatusExpiredUnfunded
		c.ResolvedAt = op.now
		op.annotate("challenge_id", c.ID)
		return tx.SaveChallenge(ctx, c)
	})
	if err != nil {
		return Challenge{}, err
	}
	return c, nil
}

// ResolveChallengeRequest is the owner's ruling on a funded challenge.
type ResolveChallengeRequest struct {
	Caller      string `json:"caller"`
	ChallengeID uint64 `json:"challenge_id"`
	Upheld      bool   `json:"upheld"`
	Notes       string `json:"notes,omitempty"`
}

// ResolveChallenge rules on a funded challenge once the dispute period since
// funding has elapsed. An upheld challenge slashes the validator and returns
// the challenge stake; a rejected one forfeits the stake to the validator.
func (e *Engine) ResolveChallenge(ctx context.Context, req ResolveChallengeRequest) (Challenge, error) {
	caller := auth.Normalize(req.Caller)

	var c Challenge
	err := e.execute(ctx, "resolve_challenge", func(ctx context.Context, tx Tx, op *operation) error {
		cfg, err := e.ownerConfig(ctx, tx, caller)
		if err != nil {
			return err
		}
		c, err = tx.GetChallenge(ctx, req.ChallengeID)
		if err != nil {
			return err
		}
		if c.Status != StatusFundedPending {
			return xerrors.Newf(xerrors.CodeInvalidState, "challenge %d is %s", c.ID, c.Status)
		}
		if op.now.Before(c.FundedAt.Add(cfg.DisputePeriod)) {
			return xerrors.Newf(xerrors.CodeTiming, "dispute period for challenge %d has not elapsed", c.ID)
		}
		val, err := tx.GetValidation(ctx, c.ValidationID)
		if err != nil {
			return err
		}
		v, err := tx.GetValidator(ctx, c.Validator)
		if err != nil {
			return err
		}

		if req.Upheld {
			slash := ledger.Portion(v.Stake, cfg.SlashPercent)
			v.Stake -= slash
			v.IncorrectValidations++
			c.Status = StatusResolvedUpheld
			c.SlashedAmount = slash
			op.slashed = slash
			op.pay(PayoutChallengeRefund, c.Challenger, c.Stake, cfg.Symbol, payoutMemo("challenge-refund", c.ID))
			switch cfg.SlashRecipient {
			case SlashChallenger:
				op.pay(PayoutSlash, c.Challenger, slash, cfg.Symbol, payoutMemo("slash", c.ID))
			case SlashOwner:
				op.pay(PayoutSlash, cfg.Owner, slash, cfg.Symbol, payoutMemo("slash", c.ID))
			}
		} else {
			v.Stake += c.Stake
			c.Status = StatusResolvedRejected
		}
		settleChallenge(op, &c, &val, &v)
		c.Resolver = caller
		c.Notes = req.Notes
		op.annotate("challenge_id", c.ID, "status", string(c.Status), "validator", v.Account,
			"slashed", c.SlashedAmount, "stake", v.Stake)
		if err := tx.SaveValidation(ctx, val); err != nil {
			return err
		}
		if err := tx.SaveValidator(ctx, v); err != nil {
			return err
		}
		return tx.SaveChallenge(ctx, c)
	})
	if err != nil {
		return Challenge{}, err
	}
	return c, nil
}

// ReclaimStaleChallenge refunds a funded challenge the owner never resolved
// within the funded challenge timeout.
func (e *Engine) ReclaimStaleChallenge(ctx context.Context, caller string, challengeID uint64) (Challenge, error) {
	caller = auth.Normalize(caller)

	var c Challenge
	err := e.execute(ctx, "reclaim_stale_challenge", func(ctx context.Context, tx Tx, op *operation) error {
		if err := e.ledger.Authorize(ctx, caller); err != nil {
			return err
		}
		cfg, err := tx.GetConfig(ctx)
		if err != nil {
			return err
		}
		c, err = tx.GetChallenge(ctx, challengeID)
		if err != nil {
			return err
		}
		if c.Status != StatusFundedPending {
			return xerrors.Newf(xerrors.CodeInvalidState, "challenge %d is %s", c.ID, c.Status)
		}
		if op.now.Before(c.FundedAt.Add(cfg.FundedChallengeTimeout)) {
			return xerrors.Newf(xerrors.CodeTiming, "challenge %d is not stale yet", c.ID)
		}
		val, err := tx.GetValidation(ctx, c.ValidationID)
		if err != nil {
			return err
		}
		v, err := tx.GetValidator(ctx, c.Validator)
		if err != nil {
			return err
		}
		c.Status = StatusExpiredFunded
		op.pay(PayoutChallengeRefund, c.Challenger, c.Stake, cfg.Symbol, payoutMemo("challenge-refund", c.ID))
		settleChallenge(op, &c, &val, &v)
		op.annotate("challenge_id", c.ID, "refunded", c.Stake)
		if err := tx.SaveValidation(ctx, val); err != nil {
			return err
		}
		if err := tx.SaveValidator(ctx, v); err != nil {
			return err
		}
		return tx.SaveChallenge(ctx, c)
	})
	if err != nil {
		return Challenge{}, err
	}
	return c, nil
}

// settleChallenge releases the validation and the validator's pending count.
func settleChallenge(op *operation, c *Challenge, val *Validation, v *Validator) {
	c.ResolvedAt = op.now
	val.Challenged = false
	if v.PendingChallenges > 0 {
		v.PendingChallenges--
	}
	v.recomputeAccuracy()
	v.UpdatedAt = op.now
}
