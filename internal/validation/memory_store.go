package validation

import (
	"context"
	"sync"

	xerrors "AgentEscrow-Chain/internal/errors"
	"AgentEscrow-Chain/internal/storage/memory"
)

type memoryState struct {
	config      *Config
	validators  *memory.Table[string, Validator]
	validations *memory.Table[uint64, Validation]
	challenges  *memory.Table[uint64, Challenge]
	seq         memory.Sequence
}

func (s *memoryState) clone() *memoryState {
	out := &memoryState{
		validators:  s.validators.Clone(),
		validations: s.validations.Clone(),
		challenges:  s.challenges.Clone(),
		seq:         s.seq.Clone(),
	}
	if s.config != nil {
		cfg := *s.config
		out.config = &cfg
	}
	return out
}

func (s *memoryState) GetConfig(context.Context) (Config, error) {
	if s.config == nil {
		return Config{}, xerrors.New(xerrors.CodeNotFound, "validation config not initialised")
	}
	return *s.config, nil
}

func (s *memoryState) GetValidator(_ context.Context, account string) (Validator, error) {
	v, ok := s.validators.Get(account)
	if !ok {
		return Validator{}, xerrors.Newf(xerrors.CodeNotFound, "validator %s not found", account)
	}
	return v, nil
}

func (s *memoryState) GetValidation(_ context.Context, id uint64) (Validation, error) {
	v, ok := s.validations.Get(id)
	if !ok {
		return Validation{}, xerrors.Newf(xerrors.CodeNotFound, "validation %d not found", id)
	}
	return v, nil
}

func (s *memoryState) GetChallenge(_ context.Context, id uint64) (Challenge, error) {
	c, ok := s.challenges.Get(id)
	if !ok {
		return Challenge{}, xerrors.Newf(xerrors.CodeNotFound, "challenge %d not found", id)
	}
	return c, nil
}

func (s *memoryState) ListValidationsByValidator(_ context.Context, validator string) ([]Validation, error) {
	return s.validations.Select(func(v Validation) bool { return v.Validator == validator }), nil
}

func (s *memoryState) ListChallengesByValidation(_ context.Context, validationID uint64) ([]Challenge, error) {
	return s.challenges.Select(func(c Challenge) bool { return c.ValidationID == validationID }), nil
}

func (s *memoryState) NextID(_ context.Context, entity string) (uint64, error) {
	return s.seq.Next(entity), nil
}

func (s *memoryState) SaveConfig(_ context.Context, cfg Config) error {
	s.config = &cfg
	return nil
}

func (s *memoryState) SaveValidator(_ context.Context, v Validator) error {
	s.validators.Put(v.Account, v)
	return nil
}

func (s *memoryState) SaveValidation(_ context.Context, v Validation) error {
	s.validations.Put(v.ID, v)
	return nil
}

func (s *memoryState) SaveChallenge(_ context.Context, c Challenge) error {
	s.challenges.Put(c.ID, c)
	return nil
}

// MemoryStore keeps validation state in process with copy-on-write
// transactions.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memoryState
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memoryState{
		validators:  memory.NewTable[string, Validator](cloneValidator),
		validations: memory.NewTable[uint64, Validation](nil),
		challenges:  memory.NewTable[uint64, Challenge](nil),
		seq:         memory.Sequence{},
	}}
}

// WithinTx implements Store.
func (m *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.state.clone()
	if err := fn(ctx, work); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *MemoryStore) read() *memoryState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *MemoryStore) GetConfig(ctx context.Context) (Config, error) {
	return m.read().GetConfig(ctx)
}

func (m *MemoryStore) GetValidator(ctx context.Context, account string) (Validator, error) {
	return m.read().GetValidator(ctx, account)
}

func (m *MemoryStore) GetValidation(ctx context.Context, id uint64) (Validation, error) {
	return m.read().GetValidation(ctx, id)
}

func (m *MemoryStore) GetChallenge(ctx context.Context, id uint64) (Challenge, error) {
	return m.read().GetChallenge(ctx, id)
}

func (m *MemoryStore) ListValidationsByValidator(ctx context.Context, validator string) ([]Validation, error) {
	return m.read().ListValidationsByValidator(ctx, validator)
}

func (m *MemoryStore) ListChallengesByValidation(ctx context.Context, validationID uint64) ([]Challenge, error) {
	return m.read().ListChallengesByValidation(ctx, validationID)
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

var (
	_ Store = (*MemoryStore)(nil)
	_ Tx    = (*memoryState)(nil)
)
