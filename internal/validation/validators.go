package validation

import (
	"context"
	"slices"
	"strings"
	"time"

	"AgentEscrow-Chain/internal/auth"
	"AgentEscrow-Chain/internal/directory"
	xerrors "AgentEscrow-Chain/internal/errors"
	"AgentEscrow-Chain/internal/ledger"
)

// RegisterValidator registers caller, or updates the method and
// specializations of an existing registration.
func (e *Engine) RegisterValidator(ctx context.Context, caller, method string, specializations []string) (Validator, Registration, error) {
	caller = auth.Normalize(caller)
	specs := normalizeSpecializations(specializations)

	var (
		v       Validator
		outcome Registration
	)
	err := e.execute(ctx, "register_validator", func(ctx context.Context, tx Tx, op *operation) error {
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
		v, err = tx.GetValidator(ctx, caller)
		switch {
		case err == nil:
			outcome = RegistrationUpdated
			v.Method = method
			v.Specializations = specs
			v.UpdatedAt = op.now
		case xerrors.HasCode(err, xerrors.CodeNotFound):
			outcome = RegistrationCreated
			v = Validator{
				Account:         caller,
				Method:          method,
				Specializations: specs,
				Active:          true,
				AccuracyScore:   FullAccuracy,
				RegisteredAt:    op.now,
				UpdatedAt:       op.now,
			}
		default:
			return err
		}
		op.annotate("validator", caller, "registration", string(outcome))
		return tx.SaveValidator(ctx, v)
	})
	if err != nil {
		return Validator{}, "", err
	}
	return v, outcome, nil
}

func normalizeSpecializations(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(strings.ReplaceAll(s, ",", " "))
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Stake credits an inbound stake payment to the sending validator.
func (e *Engine) Stake(ctx context.Context, in ledger.Transfer) (Validator, error) {
	sender := auth.Normalize(in.From)

	var v Validator
	err := e.execute(ctx, "stake", func(ctx context.Context, tx Tx, op *operation) error {
		cfg, err := tx.GetConfig(ctx)
		if err != nil {
			return err
		}
		if cfg.Paused {
			return errPaused()
		}
		if !strings.EqualFold(in.Symbol, cfg.Symbol) {
			return xerrors.Newf(xerrors.CodeInvalidArgument, "stake must be paid in %s, received %s", cfg.Symbol, in.Symbol)
		}
		if in.Amount == 0 {
			return xerrors.New(xerrors.CodeEconomicInvariant, "stake amount must be positive")
		}
		v, err = tx.GetValidator(ctx, sender)
		if err != nil {
			return err
		}
		stake, ok := ledger.Add(v.Stake, in.Amount)
		if !ok {
			return xerrors.New(xerrors.CodeEconomicInvariant, "stake would overflow")
		}
		v.Stake = stake
		v.UpdatedAt = op.now
		op.annotate("validator", sender, "amount", in.Amount, "stake", v.Stake)
		return tx.SaveValidator(ctx, v)
	})
	if err != nil {
		return Validator{}, err
	}
	return v, nil
}

// SetValidatorStatus toggles caller's active flag.
func (e *Engine) SetValidatorStatus(ctx context.Context, caller string, active bool) (Validator, error) {
	return e.updateValidator(ctx, "set_validator_status", caller, func(_ *operation, _ Config, v *Validator) error {
		v.Active = active
		return nil
	})
}

// RequestUnstake starts the unstake delay for amount of caller's stake. The
// amount stays slashable until withdrawn.
func (e *Engine) RequestUnstake(ctx context.Context, caller string, amount uint64) (Validator, error) {
	return e.updateValidator(ctx, "request_unstake", caller, func(op *operation, _ Config, v *Validator) error {
		if v.PendingChallenges > 0 {
			return xerrors.Newf(xerrors.CodeInvalidState, "validator %s has %d pending challenges", v.Account, v.PendingChallenges)
		}
		if amount == 0 || amount > v.Stake {
			return xerrors.Newf(xerrors.CodeEconomicInvariant, "cannot unstake %d from stake %d", amount, v.Stake)
		}
		v.UnstakeAmount = amount
		v.UnstakeRequestedAt = op.now
		op.annotate("unstake_amount", amount)
		return nil
	})
}

// WithdrawStake pays out a matured unstake request.
func (e *Engine) WithdrawStake(ctx context.Context, caller string) (Validator, error) {
	return e.updateValidator(ctx, "withdraw_stake", caller, func(op *operation, cfg Config, v *Validator) error {
		if v.UnstakeAmount == 0 {
			return xerrors.Newf(xerrors.CodeInvalidState, "validator %s has no unstake request", v.Account)
		}
		if op.now.Before(v.UnstakeRequestedAt.Add(cfg.UnstakeDelay)) {
			return xerrors.Newf(xerrors.CodeTiming, "unstake delay for %s has not elapsed", v.Account)
		}
		if v.PendingChallenges > 0 {
			return xerrors.Newf(xerrors.CodeInvalidState, "validator %s has %d pending challenges", v.Account, v.PendingChallenges)
		}
		amount := min(v.UnstakeAmount, v.Stake)
		v.Stake -= amount
		v.UnstakeAmount = 0
		v.UnstakeRequestedAt = time.Time{}
		op.pay(PayoutUnstake, v.Account, amount, cfg.Symbol, "unstake")
		op.annotate("withdrawn", amount)
		return nil
	})
}

func (e *Engine) updateValidator(ctx context.Context, name, caller string,
	apply func(op *operation, cfg Config, v *Validator) error) (Validator, error) {
	caller = auth.Normalize(caller)

	var v Validator
	err := e.execute(ctx, name, func(ctx context.Context, tx Tx, op *operation) error {
		if err := e.ledger.Authorize(ctx, caller); err != nil {
			return err
		}
		cfg, err := tx.GetConfig(ctx)
		if err != nil {
			return err
		}
		v, err = tx.GetValidator(ctx, caller)
		if err != nil {
			return err
		}
		if err := apply(op, cfg, &v); err != nil {
			return err
		}
		v.UpdatedAt = op.now
		op.annotate("validator", v.Account, "active", v.Active, "stake", v.Stake)
		return tx.SaveValidator(ctx, v)
	})
	if err != nil {
		return Validator{}, err
	}
	return v, nil
}

// SubmitValidationRequest is an attestation about an agent's work.
type SubmitValidationRequest struct {
	Validator  string `json:"validator"`
	Agent      string `json:"agent"`
	JobRef     string `json:"job_ref"`
	Result     Result `json:"result"`
	Confidence uint64 `json:"confidence"`
	Evidence   string `json:"evidence,omitempty"`
}

// SubmitValidation records an attestation by an active, sufficiently staked
// validator about an active agent.
func (e *Engine) SubmitValidation(ctx context.Context, req SubmitValidationRequest) (Validation, error) {
	caller := auth.Normalize(req.Validator)
	agent := auth.Normalize(req.Agent)

	var val Validation
	err := e.execute(ctx, "submit_validation", func(ctx context.Context, tx Tx, op *operation) error {
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
		v, err := tx.GetValidator(ctx, caller)
		if err != nil {
			return err
		}
		if !v.Active {
			return xerrors.Newf(xerrors.CodeInvalidState, "validator %s is not active", caller)
		}
		if v.Stake < cfg.MinStake {
			return xerrors.Newf(xerrors.CodeEconomicInvariant, "stake %d is below the minimum %d", v.Stake, cfg.MinStake)
		}
		if cfg.ValidationFee > v.Stake-cfg.MinStake {
			return xerrors.Newf(xerrors.CodeEconomicInvariant,
				"validation fee %d would leave stake %d below the minimum %d", cfg.ValidationFee, v.Stake, cfg.MinStake)
		}
		if !req.Result.valid() {
			return xerrors.Newf(xerrors.CodeInvalidArgument, "unknown result %q", req.Result)
		}
		if req.Confidence > MaxConfidence {
			return xerrors.Newf(xerrors.CodeInvalidArgument, "confidence %d exceeds %d", req.Confidence, MaxConfidence)
		}
		if err := directory.RequireActive(ctx, e.directory, agent); err != nil {
			return err
		}
		id, err := tx.NextID(ctx, EntityValidation)
		if err != nil {
			return err
		}
		val = Validation{
			ID:         id,
			Validator:  caller,
			Agent:      agent,
			JobRef:     req.JobRef,
			Result:     req.Result,
			Confidence: uint8(req.Confidence),
			Evidence:   req.Evidence,
			CreatedAt:  op.now,
		}
		v.Stake -= cfg.ValidationFee
		op.pay(PayoutValidationFee, cfg.Owner, cfg.ValidationFee, cfg.Symbol, payoutMemo("validation-fee", id))
		v.TotalValidations++
		v.recomputeAccuracy()
		v.UpdatedAt = op.now
		op.annotate("validation_id", id, "validator", caller, "agent", agent, "result", string(req.Result),
			"fee", cfg.ValidationFee)
		if err := tx.SaveValidator(ctx, v); err != nil {
			return err
		}
		return tx.SaveValidation(ctx, val)
	})
	if err != nil {
		return Validation{}, err
	}
	return val, nil
}
