package escrow

import (
	"context"
	"strings"
	"time"

	"AgentEscrow-Chain/internal/auth"
	"AgentEscrow-Chain/internal/directory"
	"AgentEscrow-Chain/internal/ledger"
)

// CreateJobRequest describes a new job.
type CreateJobRequest struct {
	Client string `json:"client"`
	Agent  string `json:"agent"`
	Terms
	Amount uint64 `json:"amount"`
	// Deadline zero selects now plus the configured default.
	Deadline   time.Time `json:"deadline,omitzero"`
	Arbitrator string    `json:"arbitrator,omitempty"`
}

// AddMilestoneRequest describes a milestone appended to a CREATED job.
type AddMilestoneRequest struct {
	Caller      string `json:"caller"`
	JobID       uint64 `json:"job_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Amount      uint64 `json:"amount"`
	Order       uint32 `json:"order"`
}

func validateTitle(title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return errArgument("title is required")
	}
	if len(title) > MaxTitleLength {
		return errArgument("title exceeds %d bytes", MaxTitleLength)
	}
	return nil
}

// CreateJob records a new unfunded job between a client and an active agent.
func (e *Engine) CreateJob(ctx context.Context, req CreateJobRequest) (Job, error) {
	client := auth.Normalize(req.Client)
	agent := auth.Normalize(req.Agent)
	arbitrator := auth.Normalize(req.Arbitrator)

	var job Job
	err := e.execute(ctx, "create_job", func(ctx context.Context, tx Tx, op *operation) error {
		if err := e.ledger.Authorize(ctx, client); err != nil {
			return err
		}
		cfg, err := tx.GetConfig(ctx)
		if err != nil {
			return err
		}
		if cfg.Paused {
			return errPaused()
		}
		if agent == "" {
			return errArgument("agent is required")
		}
		if client == agent {
			return errArgument("client and agent must differ")
		}
		if err := validateTitle(req.Title); err != nil {
			return err
		}
		if req.Amount == 0 || req.Amount < cfg.MinJobAmount {
			return errEconomic("job amount %d is below the minimum %d", req.Amount, cfg.MinJobAmount)
		}
		deadline := req.Deadline
		if deadline.IsZero() {
			deadline = op.now.Add(cfg.DefaultDeadline)
		} else if !deadline.After(op.now) {
			return errTiming("deadline %s is not in the future", deadline.UTC().Format(time.RFC3339))
		}
		if err := directory.RequireActive(ctx, e.directory, agent); err != nil {
			return err
		}
		if arbitrator != "" {
			arb, err := tx.GetArbitrator(ctx, arbitrator)
			if err != nil {
				return err
			}
			if !arb.Active {
				return errArgument("arbitrator %s is not active", arbitrator)
			}
		}
		id, err := tx.NextID(ctx, EntityJob)
		if err != nil {
			return err
		}
		job = Job{
			ID:           id,
			Client:       client,
			Agent:        agent,
			Title:        strings.TrimSpace(req.Title),
			Description:  req.Description,
			Deliverables: req.Deliverables,
			Amount:       req.Amount,
			Symbol:       cfg.Symbol,
			State:        StateCreated,
			Deadline:     deadline,
			Arbitrator:   arbitrator,
			CreatedAt:    op.now,
			UpdatedAt:    op.now,
		}
		op.states = append(op.states, StateCreated)
		op.annotate("job_id", id, "client", client, "agent", agent, "amount", req.Amount)
		return tx.SaveJob(ctx, job)
	})
	if err != nil {
		return Job{}, err
	}
	return job, nil
}

// AddMilestone appends a milestone to a job that has not been funded yet.
func (e *Engine) AddMilestone(ctx context.Context, req AddMilestoneRequest) (Milestone, error) {
	caller := auth.Normalize(req.Caller)

	var m Milestone
	err := e.execute(ctx, "add_milestone", func(ctx context.Context, tx Tx, op *operation) error {
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
		job, err := tx.GetJob(ctx, req.JobID)
		if err != nil {
			return err
		}
		if job.Client != caller {
			return errUnauthorized("only the client may add milestones to job %d", job.ID)
		}
		if job.State != StateCreated {
			return errState("job %d is %s, milestones require CREATED", job.ID, job.State)
		}
		if err := validateTitle(req.Title); err != nil {
			return err
		}
		if req.Amount == 0 {
			return errArgument("milestone amount must be positive")
		}
		existing, err := tx.ListMilestones(ctx, job.ID)
		if err != nil {
			return err
		}
		var committed uint64
		for _, prev := range existing {
			if prev.Amount > job.Amount-committed {
				return errEconomic("existing milestones exceed job amount %d", job.Amount)
			}
			committed += prev.Amount
		}
		if req.Amount > job.Amount-committed {
			return errEconomic("milestone amount %d exceeds the %d left of job amount %d",
				req.Amount, job.Amount-committed, job.Amount)
		}
		id, err := tx.NextID(ctx, EntityMilestone)
		if err != nil {
			return err
		}
		m = Milestone{
			ID:          id,
			JobID:       job.ID,
			Title:       strings.TrimSpace(req.Title),
			Description: req.Description,
			Amount:      req.Amount,
			Order:       req.Order,
			State:       MilestonePending,
			CreatedAt:   op.now,
		}
		op.annotate("job_id", job.ID, "milestone_id", id, "amount", req.Amount)
		return tx.SaveMilestone(ctx, m)
	})
	if err != nil {
		return Milestone{}, err
	}
	return m, nil
}

// Fund applies an inbound payment carrying a fund memo. The payment must come
// from the client in the job symbol and cover the job amount; any excess is
// held with the job.
func (e *Engine) Fund(ctx context.Context, jobID uint64, in ledger.Transfer) (Job, error) {
	sender := auth.Normalize(in.From)

	var job Job
	err := e.execute(ctx, "fund_job", func(ctx context.Context, tx Tx, op *operation) error {
		cfg, err := tx.GetConfig(ctx)
		if err != nil {
			return err
		}
		if cfg.Paused {
			return errPaused()
		}
		job, err = tx.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job.State != StateCreated {
			return errState("job %d is %s, funding requires CREATED", job.ID, job.State)
		}
		if job.Client != sender {
			return errUnauthorized("job %d can only be funded by its client", job.ID)
		}
		if !strings.EqualFold(in.Symbol, job.Symbol) {
			return errArgument("job %d is priced in %s, received %s", job.ID, job.Symbol, in.Symbol)
		}
		if in.Amount < job.Amount {
			return errEconomic("payment %d does not cover job amount %d", in.Amount, job.Amount)
		}
		job.FundedAmount = in.Amount
		op.transition(&job, StateFunded)
		op.annotate("job_id", job.ID, "funded", in.Amount)
		return tx.SaveJob(ctx, job)
	})
	if err != nil {
		return Job{}, err
	}
	return job, nil
}

type party int

const (
	partyClient party = iota
	partyAgent
	partyEither
)

// jobStep is a single-job transition performed by one of its parties.
type jobStep struct {
	name        string
	caller      string
	jobID       uint64
	party       party
	allowPaused bool
	apply       func(ctx context.Context, tx Tx, op *operation, cfg Config, job *Job) error
}

func (e *Engine) updateJob(ctx context.Context, step jobStep) (Job, error) {
	caller := auth.Normalize(step.caller)

	var job Job
	err := e.execute(ctx, step.name, func(ctx context.Context, tx Tx, op *operation) error {
		if err := e.ledger.Authorize(ctx, caller); err != nil {
			return err
		}
		cfg, err := tx.GetConfig(ctx)
		if err != nil {
			return err
		}
		if cfg.Paused && !step.allowPaused {
			return errPaused()
		}
		job, err = tx.GetJob(ctx, step.jobID)
		if err != nil {
			return err
		}
		if err := requireParty(job, caller, step.party); err != nil {
			return err
		}
		if err := step.apply(ctx, tx, op, cfg, &job); err != nil {
			return err
		}
		op.annotate("job_id", job.ID, "state", job.State.String())
		return tx.SaveJob(ctx, job)
	})
	if err != nil {
		return Job{}, err
	}
	return job, nil
}

func requireParty(job Job, caller string, p party) error {
	switch p {
	case partyClient:
		if job.Client != caller {
			return errUnauthorized("%s is not the client of job %d", caller, job.ID)
		}
	case partyAgent:
		if job.Agent != caller {
			return errUnauthorized("%s is not the agent of job %d", caller, job.ID)
		}
	case partyEither:
		if job.Client != caller && job.Agent != caller {
			return errUnauthorized("%s is not a party to job %d", caller, job.ID)
		}
	}
	return nil
}

func requireState(job Job, allowed ...JobState) error {
	for _, s := range allowed {
		if job.State == s {
			return nil
		}
	}
	return errState("job %d is %s", job.ID, job.State)
}

// AcceptJob is the agent's acknowledgement of a funded job.
func (e *Engine) AcceptJob(ctx context.Context, caller string, jobID uint64) (Job, error) {
	return e.updateJob(ctx, jobStep{
		name:   "accept_job",
		caller: caller,
		jobID:  jobID,
		party:  partyAgent,
		apply: func(_ context.Context, _ Tx, op *operation, _ Config, job *Job) error {
			if err := requireState(*job, StateFunded); err != nil {
				return err
			}
			op.transition(job, StateAccepted)
			return nil
		},
	})
}

// StartJob moves an accepted job into progress.
func (e *Engine) StartJob(ctx context.Context, caller string, jobID uint64) (Job, error) {
	return e.updateJob(ctx, jobStep{
		name:   "start_job",
		caller: caller,
		jobID:  jobID,
		party:  partyAgent,
		apply: func(_ context.Context, _ Tx, op *operation, _ Config, job *Job) error {
			if err := requireState(*job, StateAccepted); err != nil {
				return err
			}
			op.transition(job, StateInProgress)
			return nil
		},
	})
}

// DeliverJob records the agent's final delivery evidence.
func (e *Engine) DeliverJob(ctx context.Context, caller string, jobID uint64, evidence string) (Job, error) {
	return e.updateJob(ctx, jobStep{
		name:   "deliver_job",
		caller: caller,
		jobID:  jobID,
		party:  partyAgent,
		apply: func(_ context.Context, _ Tx, op *operation, _ Config, job *Job) error {
			if err := requireState(*job, StateInProgress); err != nil {
				return err
			}
			job.DeliveryEvidence = evidence
			op.transition(job, StateDelivered)
			return nil
		},
	})
}

// ApproveDelivery releases everything still held for a delivered job.
func (e *Engine) ApproveDelivery(ctx context.Context, caller string, jobID uint64) (Job, error) {
	return e.updateJob(ctx, jobStep{
		name:   "approve_delivery",
		caller: caller,
		jobID:  jobID,
		party:  partyClient,
		apply: func(_ context.Context, _ Tx, op *operation, cfg Config, job *Job) error {
			if err := requireState(*job, StateDelivered); err != nil {
				return err
			}
			if err := release(op, cfg, job, job.Remaining()); err != nil {
				return err
			}
			op.transition(job, StateCompleted)
			return nil
		},
	})
}

// CancelJob lets the client withdraw before the agent accepts. Funded
// amounts are refunded in full.
func (e *Engine) CancelJob(ctx context.Context, caller string, jobID uint64) (Job, error) {
	return e.updateJob(ctx, jobStep{
		name:        "cancel_job",
		caller:      caller,
		jobID:       jobID,
		party:       partyClient,
		allowPaused: true,
		apply: func(_ context.Context, _ Tx, op *operation, _ Config, job *Job) error {
			if err := requireState(*job, StateCreated, StateFunded); err != nil {
				return err
			}
			refund(op, job)
			op.transition(job, StateRefunded)
			return nil
		},
	})
}

// ClaimTimeout settles a job whose deadline has passed. A delivered job pays
// the agent, anything earlier refunds the client.
func (e *Engine) ClaimTimeout(ctx context.Context, caller string, jobID uint64) (Job, error) {
	caller = auth.Normalize(caller)
	return e.updateJob(ctx, jobStep{
		name:        "claim_timeout",
		caller:      caller,
		jobID:       jobID,
		party:       partyEither,
		allowPaused: true,
		apply: func(_ context.Context, _ Tx, op *operation, cfg Config, job *Job) error {
			if err := requireState(*job, StateFunded, StateAccepted, StateInProgress, StateDelivered); err != nil {
				return err
			}
			if !op.now.After(job.Deadline) {
				return errTiming("job %d deadline has not passed", job.ID)
			}
			if job.State == StateDelivered {
				if err := requireParty(*job, caller, partyAgent); err != nil {
					return err
				}
				if err := release(op, cfg, job, job.Remaining()); err != nil {
					return err
				}
				op.transition(job, StateCompleted)
				return nil
			}
			if err := requireParty(*job, caller, partyClient); err != nil {
				return err
			}
			refund(op, job)
			op.transition(job, StateRefunded)
			return nil
		},
	})
}

// ClaimAcceptanceTimeout refunds a funded job the agent never accepted.
func (e *Engine) ClaimAcceptanceTimeout(ctx context.Context, caller string, jobID uint64) (Job, error) {
	return e.updateJob(ctx, jobStep{
		name:        "claim_acceptance_timeout",
		caller:      caller,
		jobID:       jobID,
		party:       partyClient,
		allowPaused: true,
		apply: func(_ context.Context, _ Tx, op *operation, cfg Config, job *Job) error {
			if err := requireState(*job, StateFunded); err != nil {
				return err
			}
			if op.now.Before(job.UpdatedAt.Add(cfg.AcceptanceTimeout)) {
				return errTiming("job %d is still within the acceptance window", job.ID)
			}
			refund(op, job)
			op.transition(job, StateRefunded)
			return nil
		},
	})
}

// SubmitMilestone records evidence for a pending milestone.
func (e *Engine) SubmitMilestone(ctx context.Context, caller string, milestoneID uint64, evidence string) (Milestone, error) {
	return e.updateMilestone(ctx, "submit_milestone", caller, milestoneID, partyAgent,
		func(op *operation, _ Config, job *Job, m *Milestone) error {
			if err := requireState(*job, StateInProgress); err != nil {
				return err
			}
			if m.State != MilestonePending {
				return errState("milestone %d is %s", m.ID, m.State)
			}
			m.State = MilestoneSubmitted
			m.Evidence = evidence
			m.SubmittedAt = op.now
			return nil
		})
}

// ApproveMilestone releases a submitted milestone to the agent.
func (e *Engine) ApproveMilestone(ctx context.Context, caller string, milestoneID uint64) (Milestone, error) {
	return e.updateMilestone(ctx, "approve_milestone", caller, milestoneID, partyClient,
		func(op *operation, cfg Config, job *Job, m *Milestone) error {
			if err := requireState(*job, StateInProgress, StateDelivered); err != nil {
				return err
			}
			if m.State != MilestoneSubmitted {
				return errState("milestone %d is %s", m.ID, m.State)
			}
			if err := release(op, cfg, job, m.Amount); err != nil {
				return err
			}
			m.State = MilestoneApproved
			m.ApprovedAt = op.now
			job.UpdatedAt = op.now
			return nil
		})
}

func (e *Engine) updateMilestone(ctx context.Context, name, caller string, milestoneID uint64, p party,
	apply func(op *operation, cfg Config, job *Job, m *Milestone) error) (Milestone, error) {
	caller = auth.Normalize(caller)

	var m Milestone
	err := e.execute(ctx, name, func(ctx context.Context, tx Tx, op *operation) error {
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
		m, err = tx.GetMilestone(ctx, milestoneID)
		if err != nil {
			return err
		}
		job, err := tx.GetJob(ctx, m.JobID)
		if err != nil {
			return err
		}
		if err := requireParty(job, caller, p); err != nil {
			return err
		}
		if err := apply(op, cfg, &job, &m); err != nil {
			return err
		}
		op.annotate("job_id", job.ID, "milestone_id", m.ID, "milestone_state", string(m.State))
		if err := tx.SaveMilestone(ctx, m); err != nil {
			return err
		}
		return tx.SaveJob(ctx, job)
	})
	if err != nil {
		return Milestone{}, err
	}
	return m, nil
}

// release pays amount to the agent minus the platform fee. It is the only
// path that moves funds to the agent outside arbitration.
func release(op *operation, cfg Config, job *Job, amount uint64) error {
	if amount > job.Remaining() {
		return errEconomic("release of %d exceeds the %d held for job %d", amount, job.Remaining(), job.ID)
	}
	fee := ledger.Portion(amount, cfg.PlatformFee)
	op.pay(PayoutAgent, job.Agent, amount-fee, job.Symbol, payoutMemo("release", job.ID))
	op.pay(PayoutPlatformFee, cfg.Owner, fee, job.Symbol, payoutMemo("fee", job.ID))
	job.ReleasedAmount += amount
	op.annotate("released", amount, "platform_fee", fee)
	return nil
}

// refund returns everything still held to the client without a fee.
func refund(op *operation, job *Job) {
	amount := job.Remaining()
	op.pay(PayoutRefund, job.Client, amount, job.Symbol, payoutMemo("refund", job.ID))
	job.ReleasedAmount = job.FundedAmount
	op.annotate("refunded", amount)
}
