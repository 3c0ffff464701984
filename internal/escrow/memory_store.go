package escrow

import (
	"cmp"
	"context"
	"slices"
	"sync"

	xerrors "AgentEscrow-Chain/internal/errors"
	"AgentEscrow-Chain/internal/storage/memory"
)

type memoryState struct {
	config      *Config
	jobs        *memory.Table[uint64, Job]
	milestones  *memory.Table[uint64, Milestone]
	disputes    *memory.Table[uint64, Dispute]
	arbitrators *memory.Table[string, Arbitrator]
	seq         memory.Sequence
}

func newMemoryState() *memoryState {
	return &memoryState{
		jobs:        memory.NewTable[uint64, Job](nil),
		milestones:  memory.NewTable[uint64, Milestone](nil),
		disputes:    memory.NewTable[uint64, Dispute](nil),
		arbitrators: memory.NewTable[string, Arbitrator](nil),
		seq:         memory.Sequence{},
	}
}

func (s *memoryState) clone() *memoryState {
	out := &memoryState{
		jobs:        s.jobs.Clone(),
		milestones:  s.milestones.Clone(),
		disputes:    s.disputes.Clone(),
		arbitrators: s.arbitrators.Clone(),
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
		return Config{}, xerrors.New(xerrors.CodeNotFound, "escrow is not configured")
	}
	return *s.config, nil
}

func (s *memoryState) GetJob(_ context.Context, id uint64) (Job, error) {
	job, ok := s.jobs.Get(id)
	if !ok {
		return Job{}, xerrors.Newf(xerrors.CodeNotFound, "job %d not found", id)
	}
	return job, nil
}

func (s *memoryState) GetMilestone(_ context.Context, id uint64) (Milestone, error) {
	m, ok := s.milestones.Get(id)
	if !ok {
		return Milestone{}, xerrors.Newf(xerrors.CodeNotFound, "milestone %d not found", id)
	}
	return m, nil
}

func (s *memoryState) GetDispute(_ context.Context, id uint64) (Dispute, error) {
	d, ok := s.disputes.Get(id)
	if !ok {
		return Dispute{}, xerrors.Newf(xerrors.CodeNotFound, "dispute %d not found", id)
	}
	return d, nil
}

func (s *memoryState) GetArbitrator(_ context.Context, account string) (Arbitrator, error) {
	a, ok := s.arbitrators.Get(account)
	if !ok {
		return Arbitrator{}, xerrors.Newf(xerrors.CodeNotFound, "arbitrator %s not found", account)
	}
	return a, nil
}

func (s *memoryState) ListJobs(_ context.Context, filter JobFilter) ([]Job, error) {
	return s.jobs.Select(filter.matches), nil
}

func (s *memoryState) ListMilestones(_ context.Context, jobID uint64) ([]Milestone, error) {
	out := s.milestones.Select(func(m Milestone) bool { return m.JobID == jobID })
	slices.SortStableFunc(out, func(a, b Milestone) int { return cmp.Compare(a.Order, b.Order) })
	return out, nil
}

func (s *memoryState) ListDisputes(_ context.Context, jobID uint64) ([]Dispute, error) {
	return s.disputes.Select(func(d Dispute) bool { return d.JobID == jobID }), nil
}

func (s *memoryState) NextID(_ context.Context, entity string) (uint64, error) {
	return s.seq.Next(entity), nil
}

func (s *memoryState) SaveConfig(_ context.Context, cfg Config) error {
	s.config = &cfg
	return nil
}

func (s *memoryState) SaveJob(_ context.Context, job Job) error {
	s.jobs.Put(job.ID, job)
	return nil
}

func (s *memoryState) SaveMilestone(_ context.Context, m Milestone) error {
	s.milestones.Put(m.ID, m)
	return nil
}

func (s *memoryState) SaveDispute(_ context.Context, d Dispute) error {
	s.disputes.Put(d.ID, d)
	return nil
}

func (s *memoryState) SaveArbitrator(_ context.Context, a Arbitrator) error {
	s.arbitrators.Put(a.Account, a)
	return nil
}

// MemoryStore keeps escrow state in process. Transactions work on a private
// copy that replaces the live state on success.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memoryState
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState()}
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

// Reads use the committed state pointer; committed states are never mutated.

func (m *MemoryStore) GetConfig(ctx context.Context) (Config, error) {
	return m.read().GetConfig(ctx)
}

func (m *MemoryStore) GetJob(ctx context.Context, id uint64) (Job, error) {
	return m.read().GetJob(ctx, id)
}

func (m *MemoryStore) GetMilestone(ctx context.Context, id uint64) (Milestone, error) {
	return m.read().GetMilestone(ctx, id)
}

func (m *MemoryStore) GetDispute(ctx context.Context, id uint64) (Dispute, error) {
	return m.read().GetDispute(ctx, id)
}

func (m *MemoryStore) GetArbitrator(ctx context.Context, account string) (Arbitrator, error) {
	return m.read().GetArbitrator(ctx, account)
}

func (m *MemoryStore) ListJobs(ctx context.Context, filter JobFilter) ([]Job, error) {
	return m.read().ListJobs(ctx, filter)
}

func (m *MemoryStore) ListMilestones(ctx context.Context, jobID uint64) ([]Milestone, error) {
	return m.read().ListMilestones(ctx, jobID)
}

func (m *MemoryStore) ListDisputes(ctx context.Context, jobID uint64) ([]Dispute, error) {
	return m.read().ListDisputes(ctx, jobID)
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

var (
	_ Store = (*MemoryStore)(nil)
	_ Tx    = (*memoryState)(nil)
)
