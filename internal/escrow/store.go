package escrow

import "context"

// Entity names used for id allocation.
const (
	EntityJob       = "job"
	EntityMilestone = "milestone"
	EntityDispute   = "dispute"
)

// JobFilter selects jobs by participant. Empty fields match everything.
type JobFilter struct {
	Client     string
	Agent      string
	Arbitrator string
	States     []JobState
}

func (f JobFilter) matches(j Job) bool {
	if f.Client != "" && j.Client != f.Client {
		return false
	}
	if f.Agent != "" && j.Agent != f.Agent {
		return false
	}
	if f.Arbitrator != "" && j.Arbitrator != f.Arbitrator {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if j.State == s {
			return true
		}
	}
	return false
}

// Reader is the read side of the escrow tables. Missing rows are NOT_FOUND.
type Reader interface {
	GetConfig(ctx context.Context) (Config, error)
	GetJob(ctx context.Context, id uint64) (Job, error)
	GetMilestone(ctx context.Context, id uint64) (Milestone, error)
	GetDispute(ctx context.Context, id uint64) (Dispute, error)
	GetArbitrator(ctx context.Context, account string) (Arbitrator, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]Job, error)
	ListMilestones(ctx context.Context, jobID uint64) ([]Milestone, error)
	ListDisputes(ctx context.Context, jobID uint64) ([]Dispute, error)
}

// Tx is a unit of work. Writes become visible only if the enclosing
// WithinTx callback returns nil.
type Tx interface {
	Reader
	NextID(ctx context.Context, entity string) (uint64, error)
	SaveConfig(ctx context.Context, cfg Config) error
	SaveJob(ctx context.Context, job Job) error
	SaveMilestone(ctx context.Context, m Milestone) error
	SaveDispute(ctx context.Context, d Dispute) error
	SaveArbitrator(ctx context.Context, a Arbitrator) error
}

// Store persists escrow entities.
type Store interface {
	Reader
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}
