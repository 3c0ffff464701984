// Package escrow implements the job escrow state machine: funding through
// inbound payments, milestone and delivery releases, disputes settled by
// arbitrators, and timeout refunds. Every operation runs under a single
// sequencer and commits state and custody transfers together.
package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"AgentEscrow-Chain/internal/auth"
	"AgentEscrow-Chain/internal/directory"
	xerrors "AgentEscrow-Chain/internal/errors"
	"AgentEscrow-Chain/internal/ledger"
	"AgentEscrow-Chain/internal/observability/alerting"
	"AgentEscrow-Chain/internal/observability/metrics"
	"AgentEscrow-Chain/pkg/logger"
)

const engineName = "escrow"

// Payout kinds reported to metrics.
const (
	PayoutAgent         = "agent"
	PayoutPlatformFee   = "platform_fee"
	PayoutRefund        = "refund"
	PayoutArbitratorFee = "arbitrator_fee"
	PayoutClientShare   = "client_share"
	PayoutAgentShare    = "agent_share"
	PayoutStakeWithdraw = "arbitrator_stake"
)

type payout struct {
	kind string
	ledger.Transfer
}

// operation collects the side effects of one engine call until it commits.
type operation struct {
	name    string
	now     time.Time
	payouts []payout
	states  []JobState
	attrs   []any
}

func (op *operation) pay(kind, to string, amount uint64, symbol, memo string) {
	if amount == 0 {
		return
	}
	op.payouts = append(op.payouts, payout{
		kind:     kind,
		Transfer: ledger.Transfer{To: to, Amount: amount, Symbol: symbol, Memo: memo},
	})
}

func (op *operation) transition(job *Job, to JobState) {
	job.State = to
	job.UpdatedAt = op.now
	op.states = append(op.states, to)
}

func (op *operation) annotate(attrs ...any) {
	op.attrs = append(op.attrs, attrs...)
}

// Engine is the escrow state machine.
type Engine struct {
	store     Store
	ledger    ledger.Ledger
	directory directory.Directory
	custody   string
	recorder  metrics.Recorder
	alerts    alerting.Dispatcher
	log       *slog.Logger

	mu sync.Mutex
}

// Option customises an Engine.
type Option func(*Engine)

// WithRecorder reports operations and payouts to r.
func WithRecorder(r metrics.Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithAlertDispatcher raises alerts when custody transfers fail.
func WithAlertDispatcher(d alerting.Dispatcher) Option {
	return func(e *Engine) {
		e.alerts = d
	}
}

// WithLogger overrides the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEngine wires the engine to its collaborators. custody is the ledger
// account holding escrowed funds.
func NewEngine(store Store, l ledger.Ledger, dir directory.Directory, custody string, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		ledger:    l,
		directory: dir,
		custody:   custody,
		recorder:  metrics.Nop{},
		log:       logger.Named("escrow"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Custody returns the account holding escrowed funds.
func (e *Engine) Custody() string { return e.custody }

// Bootstrap persists cfg unless a configuration already exists, and returns
// the effective configuration.
func (e *Engine) Bootstrap(ctx context.Context, cfg Config) (Config, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	existing, err := e.store.GetConfig(ctx)
	if err == nil {
		return existing, nil
	}
	if !xerrors.HasCode(err, xerrors.CodeNotFound) {
		return Config{}, err
	}
	cfg.Owner = auth.Normalize(cfg.Owner)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	err = e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.SaveConfig(ctx, cfg)
	})
	if err != nil {
		return Config{}, err
	}
	e.log.Info("escrow configuration initialised", "owner", cfg.Owner, "platform_fee_bps", cfg.PlatformFee)
	return cfg, nil
}

// execute runs fn under the sequencer inside a store transaction. Payouts
// collected by fn are transferred before the transaction commits; a failed
// transfer rolls the state back.
func (e *Engine) execute(ctx context.Context, name string, fn func(ctx context.Context, tx Tx, op *operation) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	op := &operation{name: name, now: e.ledger.Now(ctx)}
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := fn(ctx, tx, op); err != nil {
			return err
		}
		return e.settle(ctx, op)
	})
	e.finish(ctx, op, err)
	return err
}

func (e *Engine) settle(ctx context.Context, op *operation) error {
	if len(op.payouts) == 0 {
		return nil
	}
	transfers := make([]ledger.Transfer, 0, len(op.payouts))
	for _, p := range op.payouts {
		t := p.Transfer
		t.From = e.custody
		transfers = append(transfers, t)
	}
	if err := ledger.Settle(ctx, e.ledger, transfers); err != nil {
		if e.alerts != nil {
			event := alerting.EventFromError(op.name, err)
			if notifyErr := e.alerts.Notify(ctx, event); notifyErr != nil {
				e.log.Warn("alert dispatch failed", "error", notifyErr)
			}
		}
		return err
	}
	return nil
}

func (e *Engine) finish(ctx context.Context, op *operation, err error) {
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = outcomeOf(err)
		attrs := append([]any{"operation", op.name, "code", string(xerrors.CodeOf(err)), "error", err.Error()}, op.attrs...)
		e.log.DebugContext(ctx, "escrow operation rejected", attrs...)
		e.recorder.ObserveOperation(engineName, op.name, outcome)
		return
	}
	e.recorder.ObserveOperation(engineName, op.name, outcome)
	for _, p := range op.payouts {
		e.recorder.ObservePayout(p.kind, p.Amount)
	}
	for _, s := range op.states {
		e.recorder.ObserveJobState(s.String())
	}
	attrs := append([]any{"engine", engineName, "operation", op.name}, op.attrs...)
	if principal, ok := auth.PrincipalFromContext(ctx); ok {
		attrs = append(attrs, "principal", principal)
	}
	logger.Audit().InfoContext(ctx, "settlement_operation", attrs...)
}

func outcomeOf(err error) string {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeStorageFailure, xerrors.CodeLedgerFailure, xerrors.CodeQueueFailure, xerrors.CodeUnknown:
		return metrics.OutcomeFailed
	}
	return metrics.OutcomeRejected
}

func errPaused() error {
	return xerrors.New(xerrors.CodeInvalidState, "escrow is paused")
}

func errState(format string, args ...any) error {
	return xerrors.Newf(xerrors.CodeInvalidState, format, args...)
}

func errUnauthorized(format string, args ...any) error {
	return xerrors.Newf(xerrors.CodeUnauthorized, format, args...)
}

func errArgument(format string, args ...any) error {
	return xerrors.Newf(xerrors.CodeInvalidArgument, format, args...)
}

func errEconomic(format string, args ...any) error {
	return xerrors.Newf(xerrors.CodeEconomicInvariant, format, args...)
}

func errTiming(format string, args ...any) error {
	return xerrors.Newf(xerrors.CodeTiming, format, args...)
}

func payoutMemo(kind string, id uint64) string {
	return fmt.Sprintf("%s:%d", kind, id)
}

// SetOwner transfers ownership of the escrow configuration.
func (e *Engine) SetOwner(ctx context.Context, caller, newOwner string) (Config, error) {
	caller, newOwner = auth.Normalize(caller), auth.Normalize(newOwner)
	var out Config
	err := e.execute(ctx, "set_owner", func(ctx context.Context, tx Tx, op *operation) error {
		cfg, err := e.ownerConfig(ctx, tx, caller)
		if err != nil {
			return err
		}
		if newOwner == "" {
			return errArgument("new owner is required")
		}
		cfg.Owner = newOwner
		op.annotate("previous_owner", caller, "owner", newOwner)
		out = cfg
		return tx.SaveConfig(ctx, cfg)
	})
	if err != nil {
		return Config{}, err
	}
	return out, nil
}

// SetConfig replaces the tunable knobs. Owner and paused flag are kept.
func (e *Engine) SetConfig(ctx context.Context, caller string, next Config) (Config, error) {
	caller = auth.Normalize(caller)
	var out Config
	err := e.execute(ctx, "set_config", func(ctx context.Context, tx Tx, op *operation) error {
		cfg, err := e.ownerConfig(ctx, tx, caller)
		if err != nil {
			return err
		}
		next.Owner = cfg.Owner
		next.Paused = cfg.Paused
		if next.Symbol == "" {
			next.Symbol = cfg.Symbol
		}
		if err := next.Validate(); err != nil {
			return err
		}
		op.annotate("platform_fee_bps", next.PlatformFee, "min_job_amount", next.MinJobAmount)
		out = next
		return tx.SaveConfig(ctx, next)
	})
	if err != nil {
		return Config{}, err
	}
	return out, nil
}

// SetPaused toggles the pause flag.
func (e *Engine) SetPaused(ctx context.Context, caller string, paused bool) (Config, error) {
	caller = auth.Normalize(caller)
	var out Config
	err := e.execute(ctx, "set_paused", func(ctx context.Context, tx Tx, op *operation) error {
		cfg, err := e.ownerConfig(ctx, tx, caller)
		if err != nil {
			return err
		}
		cfg.Paused = paused
		op.annotate("paused", paused)
		out = cfg
		return tx.SaveConfig(ctx, cfg)
	})
	if err != nil {
		return Config{}, err
	}
	return out, nil
}

func (e *Engine) ownerConfig(ctx context.Context, tx Tx, caller string) (Config, error) {
	if err := e.ledger.Authorize(ctx, caller); err != nil {
		return Config{}, err
	}
	cfg, err := tx.GetConfig(ctx)
	if err != nil {
		return Config{}, err
	}
	if cfg.Owner != caller {
		return Config{}, errUnauthorized("%s is not the escrow owner", caller)
	}
	return cfg, nil
}

// GetConfig returns the escrow configuration.
func (e *Engine) GetConfig(ctx context.Context) (Config, error) {
	return e.store.GetConfig(ctx)
}

// GetJob returns a job by id.
func (e *Engine) GetJob(ctx context.Context, id uint64) (Job, error) {
	return e.store.GetJob(ctx, id)
}

// GetMilestone returns a milestone by id.
func (e *Engine) GetMilestone(ctx context.Context, id uint64) (Milestone, error) {
	return e.store.GetMilestone(ctx, id)
}

// GetDispute returns a dispute by id.
func (e *Engine) GetDispute(ctx context.Context, id uint64) (Dispute, error) {
	return e.store.GetDispute(ctx, id)
}

// GetArbitrator returns an arbitrator by account.
func (e *Engine) GetArbitrator(ctx context.Context, account string) (Arbitrator, error) {
	return e.store.GetArbitrator(ctx, auth.Normalize(account))
}

// ListJobsByClient returns the jobs created by client.
func (e *Engine) ListJobsByClient(ctx context.Context, client string) ([]Job, error) {
	return e.store.ListJobs(ctx, JobFilter{Client: auth.Normalize(client)})
}

// ListJobsByAgent returns the jobs assigned to agent.
func (e *Engine) ListJobsByAgent(ctx context.Context, agent string) ([]Job, error) {
	return e.store.ListJobs(ctx, JobFilter{Agent: auth.Normalize(agent)})
}

// ListMilestones returns the milestones of a job.
func (e *Engine) ListMilestones(ctx context.Context, jobID uint64) ([]Milestone, error) {
	if _, err := e.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return e.store.ListMilestones(ctx, jobID)
}

// ListDisputes returns the disputes opened on a job.
func (e *Engine) ListDisputes(ctx context.Context, jobID uint64) ([]Dispute, error) {
	if _, err := e.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return e.store.ListDisputes(ctx, jobID)
}
