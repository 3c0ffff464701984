package escrow

import (
	"fmt"
	"strings"
	"time"

	xerrors "AgentEscrow-Chain/internal/errors"
)

// JobState is the escrow lifecycle state. The numeric values are stable and
// persisted.
type JobState uint8

const (
	StateCreated JobState = iota
	StateFunded
	StateAccepted
	StateInProgress
	StateDelivered
	StateDisputed
	StateCompleted
	StateRefunded
	StateArbitrated
)

var stateNames = [...]string{
	StateCreated:    "CREATED",
	StateFunded:     "FUNDED",
	StateAccepted:   "ACCEPTED",
	StateInProgress: "INPROGRESS",
	StateDelivered:  "DELIVERED",
	StateDisputed:   "DISPUTED",
	StateCompleted:  "COMPLETED",
	StateRefunded:   "REFUNDED",
	StateArbitrated: "ARBITRATED",
}

func (s JobState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("JobState(%d)", uint8(s))
}

// Terminal reports whether no further transition is possible.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateRefunded || s == StateArbitrated
}

func (s JobState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *JobState) UnmarshalText(text []byte) error {
	name := strings.ToUpper(strings.TrimSpace(string(text)))
	for i, n := range stateNames {
		if n == name {
			*s = JobState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown job state %q", text)
}

// MilestoneState tracks a partial-payment checkpoint.
type MilestoneState string

const (
	MilestonePending   MilestoneState = "pending"
	MilestoneSubmitted MilestoneState = "submitted"
	MilestoneApproved  MilestoneState = "approved"
	MilestoneDisputed  MilestoneState = "disputed"
)

// Resolution is the outcome of a dispute.
type Resolution string

const (
	ResolutionPending    Resolution = "pending"
	ResolutionClientWins Resolution = "client-wins"
	ResolutionAgentWins  Resolution = "agent-wins"
	ResolutionSplit      Resolution = "split"
)

// Terms is the opaque text describing a job or milestone.
type Terms struct {
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	Deliverables string `json:"deliverables,omitempty"`
}

// Job is a unit of paid work.
type Job struct {
	ID               uint64    `json:"id"`
	Client           string    `json:"client"`
	Agent            string    `json:"agent"`
	Title            string    `json:"title"`
	Description      string    `json:"description,omitempty"`
	Deliverables     string    `json:"deliverables,omitempty"`
	Amount           uint64    `json:"amount"`
	Symbol           string    `json:"symbol"`
	FundedAmount     uint64    `json:"funded_amount"`
	ReleasedAmount   uint64    `json:"released_amount"`
	State            JobState  `json:"state"`
	Deadline         time.Time `json:"deadline"`
	Arbitrator       string    `json:"arbitrator,omitempty"`
	DeliveryEvidence string    `json:"delivery_evidence,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Remaining is the balance still held in custody for the job.
func (j Job) Remaining() uint64 { return j.FundedAmount - j.ReleasedAmount }

// Milestone is a partial payment within a job.
type Milestone struct {
	ID          uint64         `json:"id"`
	JobID       uint64         `json:"job_id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Amount      uint64         `json:"amount"`
	Order       uint32         `json:"order"`
	State       MilestoneState `json:"state"`
	Evidence    string         `json:"evidence,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at,omitzero"`
	ApprovedAt  time.Time      `json:"approved_at,omitzero"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Dispute is an arbitration case opened on a job.
type Dispute struct {
	ID            uint64     `json:"id"`
	JobID         uint64     `json:"job_id"`
	RaisedBy      string     `json:"raised_by"`
	Reason        string     `json:"reason"`
	Evidence      string     `json:"evidence,omitempty"`
	ClientAmount  uint64     `json:"client_amount"`
	AgentAmount   uint64     `json:"agent_amount"`
	ArbitratorFee uint64     `json:"arbitrator_fee"`
	Resolution    Resolution `json:"resolution"`
	Resolver      string     `json:"resolver,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ResolvedAt    time.Time  `json:"resolved_at,omitzero"`
}

// Arbitrator is a staked third party able to split disputed funds.
type Arbitrator struct {
	Account         string    `json:"account"`
	Stake           uint64    `json:"stake"`
	FeePercent      uint64    `json:"fee_bps"`
	TotalCases      uint64    `json:"total_cases"`
	SuccessfulCases uint64    `json:"successful_cases"`
	Active          bool      `json:"active"`
	RegisteredAt    time.Time `json:"registered_at"`
}

// Safety ceilings in basis points.
const (
	MaxPlatformFee     = 1000
	MaxArbitratorFee   = 1000
	MaxTitleLength     = 128
	maxClientPercent   = 100
	configSingletonKey = 1
)

// Config is the escrow singleton.
type Config struct {
	Owner              string        `json:"owner"`
	DirectoryRef       string        `json:"directory_ref,omitempty"`
	OracleRef          string        `json:"oracle_ref,omitempty"`
	Symbol             string        `json:"symbol"`
	PlatformFee        uint64        `json:"platform_fee_bps"`
	MinJobAmount       uint64        `json:"min_job_amount"`
	DefaultDeadline    time.Duration `json:"default_deadline"`
	DisputeWindow      time.Duration `json:"dispute_window"`
	AcceptanceTimeout  time.Duration `json:"acceptance_timeout"`
	MinArbitratorStake uint64        `json:"min_arbitrator_stake"`
	Paused             bool          `json:"paused"`
}

// Validate checks the owner-settable knobs.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Owner) == "":
		return xerrors.New(xerrors.CodeInvalidArgument, "owner is required")
	case strings.TrimSpace(c.Symbol) == "":
		return xerrors.New(xerrors.CodeInvalidArgument, "symbol is required")
	case c.PlatformFee > MaxPlatformFee:
		return xerrors.Newf(xerrors.CodeInvalidArgument, "platform fee %d bps exceeds %d", c.PlatformFee, MaxPlatformFee)
	case c.DefaultDeadline <= 0:
		return xerrors.New(xerrors.CodeInvalidArgument, "default deadline must be positive")
	case c.DisputeWindow <= 0:
		return xerrors.New(xerrors.CodeInvalidArgument, "dispute window must be positive")
	case c.AcceptanceTimeout <= 0:
		return xerrors.New(xerrors.CodeInvalidArgument, "acceptance timeout must be positive")
	}
	return nil
}
