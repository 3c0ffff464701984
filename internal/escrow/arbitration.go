package escrow

import (
	"context"
	"strings"

	"AgentEscrow-Chain/internal/auth"
	xerrors "AgentEscrow-Chain/internal/errors"
	"AgentEscrow-Chain/internal/ledger"
)

// RaiseDispute moves a job in progress or freshly delivered into DISPUTED.
// Submitted milestones are frozen as disputed.
func (e *Engine) RaiseDispute(ctx context.Context, caller string, jobID uint64, reason, evidence string) (Dispute, error) {
	caller = auth.Normalize(caller)

	var dispute Dispute
	_, err := e.updateJob(ctx, jobStep{
		name:   "raise_dispute",
		caller: caller,
		jobID:  jobID,
		party:  partyEither,
		apply: func(ctx context.Context, tx Tx, op *operation, cfg Config, job *Job) error {
			if err := requireState(*job, StateInProgress, StateDelivered); err != nil {
				return err
			}
			if job.State == StateDelivered && op.now.Sub(job.UpdatedAt) > cfg.DisputeWindow {
				return errTiming("dispute window for job %d has closed", job.ID)
			}
			if strings.TrimSpace(reason) == "" {
				return errArgument("dispute reason is required")
			}
			milestones, err := tx.ListMilestones(ctx, job.ID)
			if err != nil {
				return err
			}
			for _, m := range milestones {
				if m.State != MilestoneSubmitted {
					continue
				}
				m.State = MilestoneDisputed
				if err := tx.SaveMilestone(ctx, m); err != nil {
					return err
				}
			}
			id, err := tx.NextID(ctx, EntityDispute)
			if err != nil {
				return err
			}
			dispute = Dispute{
				ID:         id,
				JobID:      job.ID,
				RaisedBy:   caller,
				Reason:     reason,
				Evidence:   evidence,
				Resolution: ResolutionPending,
				CreatedAt:  op.now,
			}
			op.transition(job, StateDisputed)
			op.annotate("dispute_id", id, "raised_by", caller)
			return tx.SaveDispute(ctx, dispute)
		},
	})
	if err != nil {
		return Dispute{}, err
	}
	return dispute, nil
}

// ArbitrateRequest settles a dispute.
type ArbitrateRequest struct {
	Caller        string `json:"caller"`
	DisputeID     uint64 `json:"dispute_id"`
	ClientPercent uint64 `json:"client_percent"`
	Notes         string `json:"notes,omitempty"`
}

// ArbitrateDispute pays out everything still held for the disputed job. The
// arbitrator fee is paid first, then the client share, then the agent share.
func (e *Engine) ArbitrateDispute(ctx context.Context, req ArbitrateRequest) (Dispute, error) {
	caller := auth.Normalize(req.Caller)

	var dispute Dispute
	err := e.execute(ctx, "arbitrate_dispute", func(ctx context.Context, tx Tx, op *operation) error {
		if err := e.ledger.Authorize(ctx, caller); err != nil {
			return err
		}
		cfg, err := tx.GetConfig(ctx)
		if err != nil {
			return err
		}
		dispute, err = tx.GetDispute(ctx, req.DisputeID)
		if err != nil {
			return err
		}
		job, err := tx.GetJob(ctx, dispute.JobID)
		if err != nil {
			return err
		}
		designated := job.Arbitrator != "" && job.Arbitrator == caller
		if !designated && caller != cfg.Owner {
			return errUnauthorized("%s may not arbitrate job %d", caller, job.ID)
		}
		if dispute.Resolution != ResolutionPending {
			return errState("dispute %d is already resolved", dispute.ID)
		}
		if err := requireState(job, StateDisputed); err != nil {
			return err
		}
		if req.ClientPercent > maxClientPercent {
			return errArgument("client percent %d exceeds %d", req.ClientPercent, maxClientPercent)
		}

		remaining := job.Remaining()
		var fee uint64
		registered, err := tx.GetArbitrator(ctx, caller)
		isRegistered := err == nil
		switch {
		case isRegistered:
			fee = ledger.Portion(remaining, registered.FeePercent)
		case !xerrors.HasCode(err, xerrors.CodeNotFound):
			return err
		}
		distributable := remaining - fee
		clientAmount := ledger.MulDiv(distributable, req.ClientPercent, maxClientPercent)
		agentAmount := distributable - clientAmount

		memo := payoutMemo("arbitration", dispute.ID)
		op.pay(PayoutArbitratorFee, caller, fee, job.Symbol, memo)
		op.pay(PayoutClientShare, job.Client, clientAmount, job.Symbol, memo)
		op.pay(PayoutAgentShare, job.Agent, agentAmount, job.Symbol, memo)

		// The case counts for whoever resolved it and took the fee. It is
		// successful only when that resolver was the designated arbitrator.
		if isRegistered {
			registered.TotalCases++
			if designated {
				registered.SuccessfulCases++
			}
			if err := tx.SaveArbitrator(ctx, registered); err != nil {
				return err
			}
		}

		dispute.ClientAmount = clientAmount
		dispute.AgentAmount = agentAmount
		dispute.ArbitratorFee = fee
		dispute.Resolution = resolutionFor(req.ClientPercent)
		dispute.Resolver = caller
		dispute.Notes = req.Notes
		dispute.ResolvedAt = op.now
		if err := tx.SaveDispute(ctx, dispute); err != nil {
			return err
		}

		job.ReleasedAmount = job.FundedAmount
		op.transition(&job, StateArbitrated)
		op.annotate("job_id", job.ID, "dispute_id", dispute.ID, "resolution", string(dispute.Resolution),
			"client_amount", clientAmount, "agent_amount", agentAmount, "arbitrator_fee", fee)
		return tx.SaveJob(ctx, job)
	})
	if err != nil {
		return Dispute{}, err
	}
	return dispute, nil
}

func resolutionFor(clientPercent uint64) Resolution {
	switch clientPercent {
	case maxClientPercent:
		return ResolutionClientWins
	case 0:
		return ResolutionAgentWins
	default:
		return ResolutionSplit
	}
}

// RegisterArbitrator self-registers caller as an inactive, unstaked
// arbitrator charging feeBps on the cases it settles.
func (e *Engine) RegisterArbitrator(ctx context.Context, caller string, feeBps uint64) (Arbitrator, error) {
	caller = auth.Normalize(caller)

	var arb Arbitrator
	err := e.execute(ctx, "register_arbitrator", func(ctx context.Context, tx Tx, op *operation) error {
		if err := e.ledger.Authorize(ctx, caller); err != nil {
			return err
		}
		if feeBps > MaxArbitratorFee {
			return errArgument("arbitrator fee %d bps exceeds %d", feeBps, MaxArbitratorFee)
		}
		if _, err := tx.GetArbitrator(ctx, caller); err == nil {
			return xerrors.Newf(xerrors.CodeConflict, "arbitrator %s is already registered", caller)
		} else if !xerrors.HasCode(err, xerrors.CodeNotFound) {
			return err
		}
		arb = Arbitrator{Account: caller, FeePercent: feeBps, RegisteredAt: op.now}
		op.annotate("arbitrator", caller, "fee_bps", feeBps)
		return tx.SaveArbitrator(ctx, arb)
	})
	if err != nil {
		return Arbitrator{}, err
	}
	return arb, nil
}

// StakeArbitrator credits an inbound arbstake payment to the sender's stake.
func (e *Engine) StakeArbitrator(ctx context.Context, in ledger.Transfer) (Arbitrator, error) {
	sender := auth.Normalize(in.From)

	var arb Arbitrator
	err := e.execute(ctx, "stake_arbitrator", func(ctx context.Context, tx Tx, op *operation) error {
		cfg, err := tx.GetConfig(ctx)
		if err != nil {
			return err
		}
		if !strings.EqualFold(in.Symbol, cfg.Symbol) {
			return errArgument("stake must be paid in %s, received %s", cfg.Symbol, in.Symbol)
		}
		if in.Amount == 0 {
			return errEconomic("stake amount must be positive")
		}
		arb, err = tx.GetArbitrator(ctx, sender)
		if err != nil {
			return err
		}
		stake, ok := ledger.Add(arb.Stake, in.Amount)
		if !ok {
			return errEconomic("stake would overflow")
		}
		arb.Stake = stake
		op.annotate("arbitrator", sender, "amount", in.Amount, "stake", arb.Stake)
		return tx.SaveArbitrator(ctx, arb)
	})
	if err != nil {
		return Arbitrator{}, err
	}
	return arb, nil
}

// ActivateArbitrator makes caller eligible for new jobs once its stake clears
// the configured minimum.
func (e *Engine) ActivateArbitrator(ctx context.Context, caller string) (Arbitrator, error) {
	return e.updateArbitrator(ctx, "activate_arbitrator", caller,
		func(_ context.Context, _ Tx, _ *operation, cfg Config, arb *Arbitrator) error {
			if arb.Stake < cfg.MinArbitratorStake {
				return errEconomic("stake %d is below the minimum %d", arb.Stake, cfg.MinArbitratorStake)
			}
			arb.Active = true
			return nil
		})
}

// DeactivateArbitrator withdraws caller from new jobs.
func (e *Engine) DeactivateArbitrator(ctx context.Context, caller string) (Arbitrator, error) {
	return e.updateArbitrator(ctx, "deactivate_arbitrator", caller,
		func(_ context.Context, _ Tx, _ *operation, _ Config, arb *Arbitrator) error {
			arb.Active = false
			return nil
		})
}

// WithdrawArbitratorStake returns amount of an inactive arbitrator's stake.
// Zero withdraws everything. Jobs still designating the arbitrator block the
// withdrawal.
func (e *Engine) WithdrawArbitratorStake(ctx context.Context, caller string, amount uint64) (Arbitrator, error) {
	return e.updateArbitrator(ctx, "withdraw_arbitrator_stake", caller,
		func(ctx context.Context, tx Tx, op *operation, cfg Config, arb *Arbitrator) error {
			if arb.Active {
				return errState("arbitrator %s must be deactivated before withdrawing", arb.Account)
			}
			open, err := tx.ListJobs(ctx, JobFilter{Arbitrator: arb.Account, States: openStates})
			if err != nil {
				return err
			}
			if len(open) > 0 {
				return errState("arbitrator %s is designated on %d open jobs", arb.Account, len(open))
			}
			if amount == 0 {
				amount = arb.Stake
			}
			if amount == 0 || amount > arb.Stake {
				return errEconomic("cannot withdraw %d from stake %d", amount, arb.Stake)
			}
			arb.Stake -= amount
			op.pay(PayoutStakeWithdraw, arb.Account, amount, cfg.Symbol, "arbstake:withdraw")
			op.annotate("withdrawn", amount)
			return nil
		})
}

var openStates = []JobState{
	StateCreated, StateFunded, StateAccepted, StateInProgress, StateDelivered, StateDisputed,
}

func (e *Engine) updateArbitrator(ctx context.Context, name, caller string,
	apply func(ctx context.Context, tx Tx, op *operation, cfg Config, arb *Arbitrator) error) (Arbitrator, error) {
	caller = auth.Normalize(caller)

	var arb Arbitrator
	err := e.execute(ctx, name, func(ctx context.Context, tx Tx, op *operation) error {
		if err := e.ledger.Authorize(ctx, caller); err != nil {
			return err
		}
		cfg, err := tx.GetConfig(ctx)
		if err != nil {
			return err
		}
		arb, err = tx.GetArbitrator(ctx, caller)
		if err != nil {
			return err
		}
		if err := apply(ctx, tx, op, cfg, &arb); err != nil {
			return err
		}
		op.annotate("arbitrator", arb.Account, "active", arb.Active, "stake", arb.Stake)
		return tx.SaveArbitrator(ctx, arb)
	})
	if err != nil {
		return Arbitrator{}, err
	}
	return arb, nil
}
