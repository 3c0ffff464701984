package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"AgentEscrow-Chain/internal/auth"
	xerrors "AgentEscrow-Chain/internal/errors"
	"AgentEscrow-Chain/internal/ledger"
	"AgentEscrow-Chain/internal/memo"
	"AgentEscrow-Chain/internal/observability/alerting"
	"AgentEscrow-Chain/pkg/logger"

	"github.com/google/uuid"
)

const (
	custody = "custody"
	sender  = "client"
	symbol  = "USDC"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (d *recordingDispatcher) Notify(_ context.Context, ev alerting.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

func newTestProcessor(t *testing.T, handler memo.Handler, opts ...ProcessorOption) (*Processor, *ledger.MemoryLedger) {
	t.Helper()
	logger.Discard()
	l := ledger.NewMemoryLedger(ledger.WithStartTime(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
	router := memo.NewRouter()
	router.Handle(memo.KindFund, handler)
	return NewProcessor(router, l, custody, opts...), l
}

// arrived simulates a transfer that already reached custody.
func arrived(l *ledger.MemoryLedger, amount uint64, memoText string) Payment {
	l.Credit(custody, symbol, amount)
	return NewPayment(ledger.Transfer{From: sender, To: custody, Amount: amount, Symbol: symbol, Memo: memoText}, l.Now(context.Background()))
}

func TestReceiveSettlesOnce(t *testing.T) {
	var calls atomic.Int32
	p, l := newTestProcessor(t, func(_ context.Context, m memo.Memo, in ledger.Transfer) error {
		if m.ID != 7 || in.Amount != 500 || in.From != sender {
			return fmt.Errorf("unexpected payment %+v %+v", m, in)
		}
		calls.Add(1)
		return nil
	})
	payment := arrived(l, 500, "fund:7")

	receipt, err := p.Receive(context.Background(), payment)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if receipt.Status != StatusAccepted || receipt.PaymentID != payment.ID {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	again, err := p.Receive(context.Background(), payment)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if again.Status != StatusDuplicate {
		t.Fatalf("expected duplicate, got %s", again.Status)
	}
	if calls.Load() != 1 {
		t.Fatalf("handler called %d times", calls.Load())
	}
	if got := l.Balance(custody, symbol); got != 500 {
		t.Fatalf("custody balance %d, want 500", got)
	}
}

func TestReceiveBouncesRejectedPayments(t *testing.T) {
	p, l := newTestProcessor(t, func(context.Context, memo.Memo, ledger.Transfer) error {
		return xerrors.New(xerrors.CodeInvalidState, "job is not awaiting funds")
	})

	cases := []struct {
		memo string
		code xerrors.Code
	}{
		{memo: "fund:3", code: xerrors.CodeInvalidState},
		{memo: "tip", code: xerrors.CodeMemoProtocol},
		{memo: "stake", code: xerrors.CodeMemoProtocol},
	}
	for _, tc := range cases {
		payment := arrived(l, 250, tc.memo)
		receipt, err := p.Receive(context.Background(), payment)
		if err != nil {
			t.Fatalf("%s: receive: %v", tc.memo, err)
		}
		if receipt.Status != StatusBounced || receipt.Code != tc.code {
			t.Fatalf("%s: unexpected receipt %+v", tc.memo, receipt)
		}
	}
	if got := l.Balance(custody, symbol); got != 0 {
		t.Fatalf("custody kept %d", got)
	}
	if got := l.Balance(sender, symbol); got != 750 {
		t.Fatalf("sender balance %d, want 750", got)
	}
	history := l.History()
	last := history[len(history)-1]
	if last.From != custody || last.To != sender || last.Memo[:7] != "bounce:" {
		t.Fatalf("unexpected bounce transfer %+v", last)
	}
}

func TestFailedBounceAlertsAndAllowsRedelivery(t *testing.T) {
	alerts := &recordingDispatcher{}
	p, l := newTestProcessor(t, func(context.Context, memo.Memo, ledger.Transfer) error {
		return xerrors.New(xerrors.CodeNotFound, "job not found")
	}, WithAlertDispatcher(alerts))
	payment := arrived(l, 100, "fund:9")

	l.FailNext(errors.New("node unavailable"))
	if _, err := p.Receive(context.Background(), payment); !xerrors.HasCode(err, xerrors.CodeLedgerFailure) {
		t.Fatalf("expected ledger failure, got %v", err)
	}
	if alerts.count() != 1 {
		t.Fatalf("expected one alert, got %d", alerts.count())
	}
	if got := alerts.events[0].Metadata["stage"]; got != "bounce" {
		t.Fatalf("alert stage %q", got)
	}

	receipt, err := p.Receive(context.Background(), payment)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if receipt.Status != StatusBounced {
		t.Fatalf("expected bounce on redelivery, got %s", receipt.Status)
	}
	if got := l.Balance(sender, symbol); got != 100 {
		t.Fatalf("sender balance %d, want 100", got)
	}
}

func TestPayDebitsSender(t *testing.T) {
	var received ledger.Transfer
	p, l := newTestProcessor(t, func(_ context.Context, _ memo.Memo, in ledger.Transfer) error {
		received = in
		return nil
	})
	l.Credit(sender, symbol, 1000)

	ctx := auth.WithPrincipal(context.Background(), sender)
	receipt, err := p.Pay(ctx, ledger.Transfer{From: sender, Amount: 400, Symbol: symbol, Memo: "fund:1"})
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if receipt.Status != StatusAccepted {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if received.To != custody || received.Amount != 400 {
		t.Fatalf("handler saw %+v", received)
	}
	if l.Balance(sender, symbol) != 600 || l.Balance(custody, symbol) != 400 {
		t.Fatalf("balances sender=%d custody=%d", l.Balance(sender, symbol), l.Balance(custody, symbol))
	}

	impostor := auth.WithPrincipal(context.Background(), "mallory")
	if _, err := p.Pay(impostor, ledger.Transfer{From: sender, Amount: 1, Symbol: symbol, Memo: "fund:1"}); !xerrors.HasCode(err, xerrors.CodeUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := p.Pay(ctx, ledger.Transfer{From: sender, To: "elsewhere", Amount: 1, Symbol: symbol}); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if _, err := p.Pay(ctx, ledger.Transfer{From: sender, Symbol: symbol, Memo: "fund:1"}); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument for zero amount, got %v", err)
	}
}

func TestProcessorDrainsQueue(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var settled atomic.Int32
	queue := NewMemoryQueue(256)
	p, l := newTestProcessor(t, func(context.Context, memo.Memo, ledger.Transfer) error {
		settled.Add(1)
		return nil
	}, WithQueue(queue), WithWorkerCount(4))

	done := make(chan error, 1)
	go func() { done <- p.Start(ctx) }()

	total := 50
	for i := 0; i < total; i++ {
		l.Credit(custody, symbol, 10)
		d := ledger.Deposit{
			Reference:  fmt.Sprintf("0x%064x", i),
			Transfer:   ledger.Transfer{From: sender, To: custody, Amount: 10, Symbol: symbol, Memo: fmt.Sprintf("fund:%d", i+1)},
			ObservedAt: time.Now(),
		}
		if err := p.Deposit(ctx, d); err != nil {
			t.Fatalf("deposit %d: %v", i, err)
		}
		if i == 0 {
			// Redelivered by the watcher after a restart.
			if err := p.Deposit(ctx, d); err != nil {
				t.Fatalf("redelivered deposit: %v", err)
			}
		}
	}

	deadline := time.After(5 * time.Second)
	for int(settled.Load()) < total {
		select {
		case <-deadline:
			t.Fatalf("only %d payments settled", settled.Load())
		case <-time.After(20 * time.Millisecond):
		}
	}
	// Give the duplicate a chance to be processed before counting.
	time.Sleep(50 * time.Millisecond)
	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("processor exited: %v", err)
	}
	if got := settled.Load(); int(got) != total {
		t.Fatalf("settled %d payments, want %d", got, total)
	}
}

func TestFromDepositDerivesStableIDs(t *testing.T) {
	d := ledger.Deposit{Reference: "0xABCDEF", Transfer: ledger.Transfer{From: sender, Amount: 1}}
	first := FromDeposit(d)
	d.Reference = "0xabcdef"
	second := FromDeposit(d)
	if first.ID != second.ID {
		t.Fatalf("ids differ: %s vs %s", first.ID, second.ID)
	}
	if first.ID.Version() != 5 {
		t.Fatalf("expected a name based id, got version %d", first.ID.Version())
	}
	other := FromDeposit(ledger.Deposit{Reference: "0x01"})
	if other.ID == first.ID {
		t.Fatal("distinct references share an id")
	}
}

func TestDecodeRejectsMissingID(t *testing.T) {
	body, err := encode(Payment{Amount: 1})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := decode(body); xerrors.RetryableError(err) || !xerrors.HasCode(err, xerrors.CodeQueueFailure) {
		t.Fatalf("expected permanent queue failure, got %v", err)
	}
	p := Payment{ID: uuid.New(), From: sender, Amount: 5, Memo: "stake"}
	body, _ = encode(p)
	got, err := decode(body)
	if err != nil || got.ID != p.ID || got.Memo != "stake" {
		t.Fatalf("decode: %+v %v", got, err)
	}
}
