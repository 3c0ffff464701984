package payments

import (
	"context"
	"log/slog"
	"strings"

	xerrors "AgentEscrow-Chain/internal/errors"
	"AgentEscrow-Chain/internal/ledger"
	"AgentEscrow-Chain/internal/memo"
	"AgentEscrow-Chain/internal/observability/alerting"
	"AgentEscrow-Chain/internal/observability/metrics"
	"AgentEscrow-Chain/pkg/logger"

	"github.com/google/uuid"
)

// Status is the outcome of one payment.
type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusBounced   Status = "bounced"
	StatusDuplicate Status = "duplicate"
)

// Receipt reports what happened to a payment.
type Receipt struct {
	PaymentID uuid.UUID    `json:"payment_id"`
	Status    Status       `json:"status"`
	Code      xerrors.Code `json:"code,omitempty"`
	Reason    string       `json:"reason,omitempty"`
}

// Processor settles payments by memo and bounces the ones the engines reject.
type Processor struct {
	router      *memo.Router
	ledger      ledger.Ledger
	custody     string
	consumer    Consumer
	producer    Producer
	seen        IdempotencyStore
	workerCount int
	recorder    metrics.Recorder
	alerter     alerting.Dispatcher
	logger      *slog.Logger
}

// ProcessorOption customises a Processor.
type ProcessorOption func(*Processor)

// WithProcessorLogger overrides the processor logger.
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithWorkerCount sets the number of queue workers.
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithQueue consumes from and publishes deposits to q.
func WithQueue(q Queue) ProcessorOption {
	return func(p *Processor) {
		p.consumer = q
		p.producer = q
	}
}

// WithIdempotencyStore replaces the in-memory deduplication.
func WithIdempotencyStore(s IdempotencyStore) ProcessorOption {
	return func(p *Processor) {
		if s != nil {
			p.seen = s
		}
	}
}

// WithRecorder reports payment outcomes.
func WithRecorder(r metrics.Recorder) ProcessorOption {
	return func(p *Processor) {
		if r != nil {
			p.recorder = r
		}
	}
}

// WithAlertDispatcher raises alerts when a bounce fails.
func WithAlertDispatcher(d alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = d
	}
}

// NewProcessor builds a processor routing through router. Bounces are paid
// from custody on l.
func NewProcessor(router *memo.Router, l ledger.Ledger, custody string, opts ...ProcessorOption) *Processor {
	p := &Processor{
		router:      router,
		ledger:      l,
		custody:     custody,
		seen:        NewMemoryIdempotency(),
		workerCount: 1,
		recorder:    metrics.Nop{},
		logger:      logger.Named("payments"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start consumes the queue until ctx is cancelled.
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitialization, "payment queue not configured")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

// Deposit enqueues an observed ledger deposit, or settles it inline when no
// queue is configured. It matches the deposit handler of the ledger watcher.
func (p *Processor) Deposit(ctx context.Context, d ledger.Deposit) error {
	payment := FromDeposit(d)
	if p.producer == nil {
		_, err := p.Receive(ctx, payment)
		return err
	}
	if err := p.producer.Publish(ctx, payment); err != nil {
		return err
	}
	p.logger.Debug("deposit queued", "payment_id", payment.ID, "reference", d.Reference)
	return nil
}

// Pay moves in.Amount from the authenticated sender into custody and settles
// it synchronously. It needs a ledger able to debit the sender, such as the
// in-memory ledger.
func (p *Processor) Pay(ctx context.Context, in ledger.Transfer) (Receipt, error) {
	if in.To != "" && !strings.EqualFold(in.To, p.custody) {
		return Receipt{}, xerrors.Newf(xerrors.CodeInvalidArgument, "payments must be sent to %s", p.custody)
	}
	if in.Amount == 0 {
		return Receipt{}, xerrors.New(xerrors.CodeInvalidArgument, "payment amount must be positive")
	}
	if err := p.ledger.Authorize(ctx, in.From); err != nil {
		return Receipt{}, err
	}
	in.To = p.custody
	if err := p.ledger.Transfer(ctx, in); err != nil {
		return Receipt{}, err
	}
	return p.Receive(ctx, NewPayment(in, p.ledger.Now(ctx)))
}

// Receive settles a payment already held in custody. Duplicates are
// acknowledged without effect. A payment rejected by its handler is returned
// to the sender; the receipt carries the rejection.
func (p *Processor) Receive(ctx context.Context, payment Payment) (Receipt, error) {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	receipt := Receipt{PaymentID: payment.ID}

	fresh, err := p.seen.Claim(ctx, payment.ID)
	if err != nil {
		p.recorder.ObservePayment(metrics.OutcomeFailed)
		return Receipt{}, err
	}
	if !fresh {
		p.logger.Debug("skipping duplicate payment", "payment_id", payment.ID)
		p.recorder.ObservePayment(metrics.OutcomeDuplicate)
		receipt.Status = StatusDuplicate
		return receipt, nil
	}

	routeErr := p.router.Route(ctx, payment.Transfer())
	if routeErr == nil {
		logger.Audit().Info("payment_settled",
			slog.String("payment_id", payment.ID.String()),
			slog.String("from", payment.From),
			slog.Uint64("amount", payment.Amount),
			slog.String("symbol", payment.Symbol),
			slog.String("memo", payment.Memo),
		)
		p.recorder.ObservePayment(metrics.OutcomeSuccess)
		receipt.Status = StatusAccepted
		return receipt, nil
	}

	if err := p.bounce(ctx, payment); err != nil {
		p.recorder.ObservePayment(metrics.OutcomeFailed)
		p.emitAlert(ctx, payment, err, routeErr)
		if relErr := p.seen.Release(ctx, payment.ID); relErr != nil {
			p.logger.Error("release payment claim failed", "payment_id", payment.ID, "error", relErr)
		}
		return Receipt{}, err
	}
	logger.Audit().Warn("payment_bounced",
		slog.String("payment_id", payment.ID.String()),
		slog.String("from", payment.From),
		slog.Uint64("amount", payment.Amount),
		slog.String("symbol", payment.Symbol),
		slog.String("memo", payment.Memo),
		slog.String("error_code", string(xerrors.CodeOf(routeErr))),
		slog.String("reason", routeErr.Error()),
	)
	p.recorder.ObservePayment(metrics.OutcomeRejected)
	receipt.Status = StatusBounced
	receipt.Code = xerrors.CodeOf(routeErr)
	receipt.Reason = routeErr.Error()
	return receipt, nil
}

func (p *Processor) handle(ctx context.Context, payment Payment) error {
	_, err := p.Receive(ctx, payment)
	return err
}

func (p *Processor) bounce(ctx context.Context, payment Payment) error {
	return ledger.Settle(ctx, p.ledger, []ledger.Transfer{{
		From:   p.custody,
		To:     payment.From,
		Amount: payment.Amount,
		Symbol: payment.Symbol,
		Memo:   "bounce:" + payment.ID.String(),
	}})
}

func (p *Processor) emitAlert(ctx context.Context, payment Payment, cause, rejection error) {
	if p.alerter == nil {
		return
	}
	event := alerting.EventFromError("payment "+payment.ID.String(), cause)
	if event.Metadata == nil {
		event.Metadata = make(map[string]string)
	}
	event.Metadata["stage"] = "bounce"
	event.Metadata["sender"] = payment.From
	event.Metadata["rejection"] = rejection.Error()
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("alert notification failed", "payment_id", payment.ID, "error", err)
	}
}
