package validation

import (
	"slices"
	"strings"
	"time"

	xerrors "AgentEscrow-Chain/internal/errors"
)

// Result is a validator's verdict on an agent's work.
type Result string

const (
	ResultFail    Result = "fail"
	ResultPass    Result = "pass"
	ResultPartial Result = "partial"
)

func (r Result) valid() bool {
	return r == ResultFail || r == ResultPass || r == ResultPartial
}

// ChallengeStatus tracks a challenge from creation to settlement.
type ChallengeStatus string

const (
	StatusPendingUnfunded  ChallengeStatus = "pending-unfunded"
	StatusFundedPending    ChallengeStatus = "funded-pending"
	StatusResolvedUpheld   ChallengeStatus = "resolved-upheld"
	StatusResolvedRejected ChallengeStatus = "resolved-rejected"
	StatusExpiredUnfunded  ChallengeStatus = "expired-unfunded"
	StatusExpiredFunded    ChallengeStatus = "expired-funded"
)

// Terminal reports whether the challenge is settled.
func (s ChallengeStatus) Terminal() bool {
	return s != StatusPendingUnfunded && s != StatusFundedPending
}

// SlashRecipient selects where slashed stake goes.
type SlashRecipient string

const (
	SlashBurn       SlashRecipient = "burn"
	SlashChallenger SlashRecipient = "challenger"
	SlashOwner      SlashRecipient = "owner"
)

// Registration tells a first registration apart from a metadata update.
type Registration string

const (
	RegistrationCreated Registration = "created"
	RegistrationUpdated Registration = "updated"
)

const (
	// FullAccuracy is a perfect accuracy score in basis points.
	FullAccuracy = 10_000
	// AccuracyThreshold is the number of validations before accuracy moves.
	AccuracyThreshold = 5
	MaxConfidence     = 100
	MaxSlashPercent   = 10_000

	configSingletonKey = 1
)

// Validator is a staked attester.
type Validator struct {
	Account              string    `json:"account"`
	Method               string    `json:"method,omitempty"`
	Specializations      []string  `json:"specializations,omitempty"`
	Stake                uint64    `json:"stake"`
	Active               bool      `json:"active"`
	AccuracyScore        uint64    `json:"accuracy_score"`
	TotalValidations     uint64    `json:"total_validations"`
	IncorrectValidations uint64    `json:"incorrect_validations"`
	PendingChallenges    uint64    `json:"pending_challenges"`
	UnstakeAmount        uint64    `json:"unstake_amount,omitempty"`
	UnstakeRequestedAt   time.Time `json:"unstake_requested_at,omitzero"`
	RegisteredAt         time.Time `json:"registered_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func cloneValidator(v Validator) Validator {
	v.Specializations = slices.Clone(v.Specializations)
	return v
}

// recomputeAccuracy applies the scoring rule: full marks below the threshold,
// otherwise the share of validations that were never upheld against.
func (v *Validator) recomputeAccuracy() {
	if v.TotalValidations < AccuracyThreshold {
		v.AccuracyScore = FullAccuracy
		return
	}
	if v.IncorrectValidations >= v.TotalValidations {
		v.AccuracyScore = 0
		return
	}
	v.AccuracyScore = (v.TotalValidations - v.IncorrectValidations) * FullAccuracy / v.TotalValidations
}

// Validation is one attestation about an agent's work.
type Validation struct {
	ID         uint64    `json:"id"`
	Validator  string    `json:"validator"`
	Agent      string    `json:"agent"`
	JobRef     string    `json:"job_ref"`
	Result     Result    `json:"result"`
	Confidence uint8     `json:"confidence"`
	Evidence   string    `json:"evidence,omitempty"`
	Challenged bool      `json:"challenged"`
	CreatedAt  time.Time `json:"created_at"`
}

// Challenge is a staked objection to a validation.
type Challenge struct {
	ID              uint64          `json:"id"`
	ValidationID    uint64          `json:"validation_id"`
	Validator       string          `json:"validator"`
	Challenger      string          `json:"challenger"`
	Reason          string          `json:"reason"`
	Evidence        string          `json:"evidence,omitempty"`
	Stake           uint64          `json:"stake"`
	Status          ChallengeStatus `json:"status"`
	FundingDeadline time.Time       `json:"funding_deadline"`
	FundedAt        time.Time       `json:"funded_at,omitzero"`
	Resolver        string          `json:"resolver,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	SlashedAmount   uint64          `json:"slashed_amount,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ResolvedAt      time.Time       `json:"resolved_at,omitzero"`
}

// Config is the validation singleton. ValidationFee is taken from the
// validator's stake and paid to the owner on every submitted validation.
type Config struct {
	Owner                  string         `json:"owner"`
	DirectoryRef           string         `json:"directory_ref,omitempty"`
	Symbol                 string         `json:"symbol"`
	MinStake               uint64         `json:"min_stake"`
	ChallengeStake         uint64         `json:"challenge_stake"`
	UnstakeDelay           time.Duration  `json:"unstake_delay"`
	ChallengeWindow        time.Duration  `json:"challenge_window"`
	FundingPeriod          time.Duration  `json:"funding_period"`
	SlashPercent           uint64         `json:"slash_percent_bps"`
	SlashRecipient         SlashRecipient `json:"slash_recipient"`
	DisputePeriod          time.Duration  `json:"dispute_period"`
	FundedChallengeTimeout time.Duration  `json:"funded_challenge_timeout"`
	ValidationFee          uint64         `json:"validation_fee"`
	Paused                 bool           `json:"paused"`
}

// Validate checks the owner-settable knobs.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Owner) == "":
		return xerrors.New(xerrors.CodeInvalidArgument, "owner is required")
	case strings.TrimSpace(c.Symbol) == "":
		return xerrors.New(xerrors.CodeInvalidArgument, "symbol is required")
	case c.SlashPercent > MaxSlashPercent:
		return xerrors.Newf(xerrors.CodeInvalidArgument, "slash percent %d bps exceeds %d", c.SlashPercent, MaxSlashPercent)
	case c.SlashRecipient != SlashBurn && c.SlashRecipient != SlashChallenger && c.SlashRecipient != SlashOwner:
		return xerrors.Newf(xerrors.CodeInvalidArgument, "unknown slash recipient %q", c.SlashRecipient)
	case c.ChallengeWindow <= 0 || c.FundingPeriod <= 0:
		return xerrors.New(xerrors.CodeInvalidArgument, "challenge window and funding period must be positive")
	case c.UnstakeDelay < 0 || c.DisputePeriod < 0:
		return xerrors.New(xerrors.CodeInvalidArgument, "unstake delay and dispute period must not be negative")
	case c.FundedChallengeTimeout <= c.DisputePeriod:
		return xerrors.New(xerrors.CodeInvalidArgument, "funded challenge timeout must exceed the dispute period")
	}
	return nil
}
