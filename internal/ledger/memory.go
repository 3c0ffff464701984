package ledger

import (
	"context"
	"sync"
	"time"

	xerrors "AgentEscrow-Chain/internal/errors"
)

type balanceKey struct {
	account string
	symbol  string
}

// MemoryLedger keeps balances in process. It backs the memory driver and tests.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[balanceKey]uint64
	accounts map[string]struct{}
	history  []Transfer
	now      time.Time
	clock    func() time.Time
	failNext error
}

// MemoryOption configures a MemoryLedger.
type MemoryOption func(*MemoryLedger)

// WithClock uses clock instead of a manually advanced time.
func WithClock(clock func() time.Time) MemoryOption {
	return func(m *MemoryLedger) {
		m.clock = clock
	}
}

// WithStartTime sets the initial manual time.
func WithStartTime(t time.Time) MemoryOption {
	return func(m *MemoryLedger) {
		m.now = t
	}
}

// NewMemoryLedger builds an empty ledger whose clock starts at the current time.
func NewMemoryLedger(opts ...MemoryOption) *MemoryLedger {
	m := &MemoryLedger{
		balances: make(map[balanceKey]uint64),
		accounts: make(map[string]struct{}),
		now:      time.Now().Truncate(time.Second),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Credit mints amount to account. Used for seeding balances.
func (m *MemoryLedger) Credit(account, symbol string, amount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account] = struct{}{}
	m.balances[balanceKey{account, symbol}] += amount
}

// Open registers account without a balance.
func (m *MemoryLedger) Open(account string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account] = struct{}{}
}

// Balance returns the balance of account in symbol.
func (m *MemoryLedger) Balance(account, symbol string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[balanceKey{account, symbol}]
}

// History returns a copy of every applied transfer.
func (m *MemoryLedger) History() []Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Transfer(nil), m.history...)
}

// Advance moves the manual clock forward.
func (m *MemoryLedger) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// SetTime pins the manual clock.
func (m *MemoryLedger) SetTime(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// FailNext makes the next transfer fail with err.
func (m *MemoryLedger) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

// Transfer implements Ledger.
func (m *MemoryLedger) Transfer(_ context.Context, t Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	if err := m.check([]Transfer{t}); err != nil {
		return err
	}
	m.apply(t)
	return nil
}

// TransferBatch implements BatchTransferer.
func (m *MemoryLedger) TransferBatch(_ context.Context, transfers []Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	if err := m.check(transfers); err != nil {
		return err
	}
	for _, t := range transfers {
		m.apply(t)
	}
	return nil
}

func (m *MemoryLedger) takeFailure() error {
	if m.failNext == nil {
		return nil
	}
	err := m.failNext
	m.failNext = nil
	return xerrors.Wrap(xerrors.CodeLedgerFailure, err, "transfer rejected")
}

// check verifies that all transfers can be applied in sequence.
func (m *MemoryLedger) check(transfers []Transfer) error {
	spent := make(map[balanceKey]uint64)
	for _, t := range transfers {
		if t.From == "" || t.To == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "transfer requires both accounts")
		}
		key := balanceKey{t.From, t.Symbol}
		available := m.balances[key] - spent[key]
		if t.Amount > available {
			return xerrors.Newf(xerrors.CodeLedgerFailure, "insufficient %s balance on %s: have %d, need %d",
				t.Symbol, t.From, available, t.Amount)
		}
		spent[key] += t.Amount
	}
	return nil
}

func (m *MemoryLedger) apply(t Transfer) {
	m.balances[balanceKey{t.From, t.Symbol}] -= t.Amount
	m.balances[balanceKey{t.To, t.Symbol}] += t.Amount
	m.accounts[t.To] = struct{}{}
	m.history = append(m.history, t)
}

// AccountExists implements Ledger.
func (m *MemoryLedger) AccountExists(_ context.Context, account string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.accounts[account]
	return ok, nil
}

// Authorize implements Ledger.
func (m *MemoryLedger) Authorize(ctx context.Context, account string) error {
	return AuthorizeFromContext(ctx, account)
}

// Now implements Ledger.
func (m *MemoryLedger) Now(context.Context) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clock != nil {
		return m.clock()
	}
	return m.now
}

var (
	_ Ledger          = (*MemoryLedger)(nil)
	_ BatchTransferer = (*MemoryLedger)(nil)
)
