// Package validation implements validator staking, attestations about agent
// work, staked challenges against those attestations and stake slashing.
package validation

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

const engineName = "validation"

// Payout kinds reported to metrics.
const (
	PayoutChallengeRefund = "challenge_refund"
	PayoutSlash           = "slash"
	PayoutUnstake         = "unstake"
	PayoutValidationFee   = "validation_fee"
)

type payout struct {
	kind string
	ledger.Transfer
}

type operation struct {
	name    string
	now     time.Time
	payouts []payout
	slashed uint64
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

func (op *operation) annotate(attrs ...any) {
	op.attrs = append(op.attrs, attrs...)
}

// Engine is the validation state machine.
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

// WithRecorder reports operations, payouts and slashes to r.
func WithRecorder(r metrics.Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithAlertDispatcher raises alerts when custody transfers fail.
func WithAlertDispatcher(d alerting.Dispatcher) Option {
	return func(e *Engine) { e.alerts = d }
}

// WithLogger overrides the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEngine wires the engine to its collaborators.
func NewEngine(store Store, l ledger.Ledger, dir directory.Directory, custody string, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		ledger:    l,
		directory: dir,
		custody:   custody,
		recorder:  metrics.Nop{},
		log:       logger.Named("validation"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Bootstrap persists cfg unless a configuration already exists.
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
	if cfg.SlashRecipient == "" {
		cfg.SlashRecipient = SlashBurn
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	if err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.SaveConfig(ctx, cfg)
	}); err != nil {
		return Config{}, err
	}
	e.log.Info("validation configuration initialised", "owner", cfg.Owner, "slash_recipient", cfg.SlashRecipient)
	return cfg, nil
}

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

	if err != nil {
		e.log.DebugContext(ctx, "validation operation rejected",
			append([]any{"operation", name, "code", string(xerrors.CodeOf(err)), "error", err.Error()}, op.attrs...)...)
		e.recorder.ObserveOperation(engineName, name, outcomeOf(err))
		return err
	}
	e.recorder.ObserveOperation(engineName, name, metrics.OutcomeSuccess)
	for _, p := range op.payouts {
		e.recorder.ObservePayout(p.kind, p.Amount)
	}
	if op.slashed > 0 {
		e.recorder.ObserveSlash(op.slashed)
	}
	attrs := append([]any{"engine", engineName, "operation", name}, op.attrs...)
	if principal, ok := auth.PrincipalFromContext(ctx); ok {
		attrs = append(attrs, "principal", principal)
	}
	logger.Audit().InfoContext(ctx, "settlement_operation", attrs...)
	return nil
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
	err := ledger.Settle(ctx, e.ledger, transfers)
	if err != nil && e.alerts != nil {
		if notifyErr := e.alerts.Notify(ctx, alerting.EventFromError(op.name, err)); notifyErr != nil {
			e.log.Warn("alert dispatch failed", "error", notifyErr)
		}
	}
	return err
}

func outcomeOf(err error) string {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeStorageFailure, xerrors.CodeLedgerFailure, xerrors.CodeQueueFailure, xerrors.CodeUnknown:
		return metrics.OutcomeFailed
	}
	return metrics.OutcomeRejected
}

func errPaused() error {
	return xerrors.New(xerrors.CodeInvalidState, "validation is paused")
}

func payoutMemo(kind string, id uint64) string {
	return fmt.Sprintf("%s:%d", kind, id)
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
		return Config{}, xerrors.Newf(xerrors.CodeUnauthorized, "%s is not the validation owner", caller)
	}
	return cfg, nil
}

func (e *Engine) updateConfig(ctx context.Context, name, caller string, apply func(cfg *Config) error) (Config, error) {
	caller = auth.Normalize(caller)
	var out Config
	err := e.execute(ctx, name, func(ctx context.Context, tx Tx, op *operation) error {
		cfg, err := e.ownerConfig(ctx, tx, caller)
		if err != nil {
			return err
		}
		if err := apply(&cfg); err != nil {
			return err
		}
		op.annotate("owner", cfg.Owner, "paused", cfg.Paused)
		out = cfg
		return tx.SaveConfig(ctx, cfg)
	})
	if err != nil {
		return Config{}, err
	}
	return out, nil
}

// SetOwner transfers ownership.
func (e *Engine) SetOwner(ctx context.Context, caller, newOwner string) (Config, error) {
	newOwner = auth.Normalize(newOwner)
	return e.updateConfig(ctx, "set_owner", caller, func(cfg *Config) error {
		if newOwner == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "new owner is required")
		}
		cfg.Owner = newOwner
		return nil
	})
}

// SetConfig replaces the tunable knobs, keeping owner and paused flag.
func (e *Engine) SetConfig(ctx context.Context, caller string, next Config) (Config, error) {
	return e.updateConfig(ctx, "set_config", caller, func(cfg *Config) error {
		next.Owner = cfg.Owner
		next.Paused = cfg.Paused
		if next.Symbol == "" {
			next.Symbol = cfg.Symbol
		}
		if next.SlashRecipient == "" {
			next.SlashRecipient = cfg.SlashRecipient
		}
		if err := next.Validate(); err != nil {
			return err
		}
		*cfg = next
		return nil
	})
}

// SetPaused toggles the pause flag.
func (e *Engine) SetPaused(ctx context.Context, caller string, paused bool) (Config, error) {
	return e.updateConfig(ctx, "set_paused", caller, func(cfg *Config) error {
		cfg.Paused = paused
		return nil
	})
}

// GetConfig returns the validation configuration.
func (e *Engine) GetConfig(ctx context.Context) (Config, error) {
	return e.store.GetConfig(ctx)
}

// GetValidator returns a validator by account.
func (e *Engine) GetValidator(ctx context.Context, account string) (Validator, error) {
	return e.store.GetValidator(ctx, auth.Normalize(account))
}

// GetValidation returns a validation by id.
func (e *Engine) GetValidation(ctx context.Context, id uint64) (Validation, error) {
	return e.store.GetValidation(ctx, id)
}

// GetChallenge returns a challenge by id.
func (e *Engine) GetChallenge(ctx context.Context, id uint64) (Challenge, error) {
	return e.store.GetChallenge(ctx, id)
}

// ListValidationsByValidator returns the validations submitted by validator.
func (e *Engine) ListValidationsByValidator(ctx context.Context, validator string) ([]Validation, error) {
	return e.store.ListValidationsByValidator(ctx, auth.Normalize(validator))
}

// ListChallengesByValidation returns the challenges raised against a validation.
func (e *Engine) ListChallengesByValidation(ctx context.Context, validationID uint64) ([]Challenge, error) {
	if _, err := e.store.GetValidation(ctx, validationID); err != nil {
		return nil, err
	}
	return e.store.ListChallengesByValidation(ctx, validationID)
}
