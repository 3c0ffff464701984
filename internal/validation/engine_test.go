package validation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"AgentEscrow-Chain/internal/auth"
	"AgentEscrow-Chain/internal/directory"
	xerrors "AgentEscrow-Chain/internal/errors"
	"AgentEscrow-Chain/internal/ledger"
	"AgentEscrow-Chain/internal/memo"
	"AgentEscrow-Chain/pkg/logger"
)

const (
	owner      = "owner"
	validator  = "validator"
	challenger = "challenger"
	agent      = "agent"
	custody    = "custody"
	symbol     = "USDC"
)

var genesis = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

type harness struct {
	t      require.TestingT
	engine *Engine
	ledger *ledger.MemoryLedger
}

func testConfig() Config {
	return Config{
		Owner:                  owner,
		Symbol:                 symbol,
		MinStake:               1000,
		ChallengeStake:         500,
		UnstakeDelay:           24 * time.Hour,
		ChallengeWindow:        72 * time.Hour,
		FundingPeriod:          24 * time.Hour,
		SlashPercent:           1000,
		SlashRecipient:         SlashBurn,
		DisputePeriod:          48 * time.Hour,
		FundedChallengeTimeout: 30 * 24 * time.Hour,
	}
}

func newHarness(t require.TestingT, mutate ...func(*Config)) *harness {
	logger.Discard()
	l := ledger.NewMemoryLedger(ledger.WithStartTime(genesis))
	dir := directory.NewStatic(directory.Agent{Account: agent, Active: true})
	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}
	e := NewEngine(NewMemoryStore(), l, dir, custody)
	_, err := e.Bootstrap(context.Background(), cfg)
	require.NoError(t, err)
	return &harness{t: t, engine: e, ledger: l}
}

func as(account string) context.Context {
	return auth.WithPrincipal(context.Background(), account)
}

func (h *harness) deposit(from string, amount uint64) ledger.Transfer {
	h.ledger.Credit(custody, symbol, amount)
	return ledger.Transfer{From: from, To: custody, Amount: amount, Symbol: symbol}
}

func (h *harness) stakedValidator(stake uint64) Validator {
	_, outcome, err := h.engine.RegisterValidator(as(validator), validator, "llm-review", []string{"code"})
	require.NoError(h.t, err)
	require.Equal(h.t, RegistrationCreated, outcome)
	v, err := h.engine.Stake(context.Background(), h.deposit(validator, stake))
	require.NoError(h.t, err)
	return v
}

func (h *harness) validate() Validation {
	val, err := h.engine.SubmitValidation(as(validator), SubmitValidationRequest{
		Validator: validator, Agent: agent, JobRef: "job:1", Result: ResultPass, Confidence: 90,
	})
	require.NoError(h.t, err)
	return val
}

func (h *harness) fundedChallenge(val Validation) Challenge {
	c, err := h.engine.CreateChallenge(as(challenger), CreateChallengeRequest{
		Challenger: challenger, ValidationID: val.ID, Reason: "output is wrong",
	})
	require.NoError(h.t, err)
	c, err = h.engine.FundChallenge(context.Background(), c.ID, h.deposit(challenger, 500))
	require.NoError(h.t, err)
	return c
}

func requireCode(t require.TestingT, err error, code xerrors.Code) {
	require.Error(t, err)
	require.Equal(t, code, xerrors.CodeOf(err), "unexpected error: %v", err)
}

func TestScenarioUpheldChallengeSlashes(t *testing.T) {
	h := newHarness(t)
	h.stakedValidator(100000)
	val := h.validate()

	c, err := h.engine.CreateChallenge(as(challenger), CreateChallengeRequest{
		Challenger: challenger, ValidationID: val.ID, Reason: "hallucinated citations",
	})
	require.NoError(t, err)
	require.Equal(t, StatusPendingUnfunded, c.Status)
	require.Zero(t, c.Stake)

	val, err = h.engine.GetValidation(context.Background(), val.ID)
	require.NoError(t, err)
	require.False(t, val.Challenged)

	c, err = h.engine.FundChallenge(context.Background(), c.ID, h.deposit(challenger, 500))
	require.NoError(t, err)
	require.Equal(t, StatusFundedPending, c.Status)

	v, err := h.engine.GetValidator(context.Background(), validator)
	require.NoError(t, err)
	require.EqualValues(t, 1, v.PendingChallenges)

	_, err = h.engine.ResolveChallenge(as(owner), ResolveChallengeRequest{Caller: owner, ChallengeID: c.ID, Upheld: true})
	requireCode(t, err, xerrors.CodeTiming)

	h.ledger.Advance(48 * time.Hour)
	_, err = h.engine.ResolveChallenge(as(challenger), ResolveChallengeRequest{Caller: challenger, ChallengeID: c.ID, Upheld: true})
	requireCode(t, err, xerrors.CodeUnauthorized)

	c, err = h.engine.ResolveChallenge(as(owner), ResolveChallengeRequest{Caller: owner, ChallengeID: c.ID, Upheld: true})
	require.NoError(t, err)
	require.Equal(t, StatusResolvedUpheld, c.Status)
	require.EqualValues(t, 10000, c.SlashedAmount)

	v, err = h.engine.GetValidator(context.Background(), validator)
	require.NoError(t, err)
	require.EqualValues(t, 90000, v.Stake)
	require.EqualValues(t, 1, v.IncorrectValidations)
	require.EqualValues(t, FullAccuracy, v.AccuracyScore)
	require.Zero(t, v.PendingChallenges)

	val, err = h.engine.GetValidation(context.Background(), val.ID)
	require.NoError(t, err)
	require.False(t, val.Challenged)

	require.EqualValues(t, 500, h.ledger.Balance(challenger, symbol))
	require.EqualValues(t, 100000, h.ledger.Balance(custody, symbol))
}

func TestRejectedChallengeForfeitsStake(t *testing.T) {
	h := newHarness(t)
	h.stakedValidator(5000)
	c := h.fundedChallenge(h.validate())

	h.ledger.Advance(49 * time.Hour)
	c, err := h.engine.ResolveChallenge(as(owner), ResolveChallengeRequest{Caller: owner, ChallengeID: c.ID, Notes: "validation holds"})
	require.NoError(t, err)
	require.Equal(t, StatusResolvedRejected, c.Status)
	require.Equal(t, owner, c.Resolver)

	v, err := h.engine.GetValidator(context.Background(), validator)
	require.NoError(t, err)
	require.EqualValues(t, 5500, v.Stake)
	require.Zero(t, v.IncorrectValidations)
	require.Zero(t, h.ledger.Balance(challenger, symbol))
}

func TestSlashRecipients(t *testing.T) {
	tests := []struct {
		recipient SlashRecipient
		account   string
		want      uint64
	}{
		{SlashBurn, challenger, 500},
		{SlashChallenger, challenger, 1500},
		{SlashOwner, owner, 1000},
	}
	for _, tt := range tests {
		t.Run(string(tt.recipient), func(t *testing.T) {
			h := newHarness(t, func(c *Config) { c.SlashRecipient = tt.recipient })
			h.stakedValidator(10000)
			c := h.fundedChallenge(h.validate())
			h.ledger.Advance(48 * time.Hour)
			_, err := h.engine.ResolveChallenge(as(owner), ResolveChallengeRequest{Caller: owner, ChallengeID: c.ID, Upheld: true})
			require.NoError(t, err)
			require.Equal(t, tt.want, h.ledger.Balance(tt.account, symbol))
		})
	}
}

func TestUnfundedChallengeExpiresWithoutSideEffects(t *testing.T) {
	h := newHarness(t)
	h.stakedValidator(5000)
	val := h.validate()

	c, err := h.engine.CreateChallenge(as(challenger), CreateChallengeRequest{
		Challenger: challenger, ValidationID: val.ID, Reason: "spam",
	})
	require.NoError(t, err)
	require.Equal(t, genesis.Add(24*time.Hour), c.FundingDeadline)

	_, err = h.engine.ExpireUnfundedChallenge(as(validator), validator, c.ID)
	requireCode(t, err, xerrors.CodeTiming)

	h.ledger.Advance(24*time.Hour + time.Second)
	_, err = h.engine.FundChallenge(context.Background(), c.ID, h.deposit(challenger, 500))
	requireCode(t, err, xerrors.CodeTiming)

	c, err = h.engine.ExpireUnfundedChallenge(as(validator), validator, c.ID)
	require.NoError(t, err)
	require.Equal(t, StatusExpiredUnfunded, c.Status)

	v, err := h.engine.GetValidator(context.Background(), validator)
	require.NoError(t, err)
	require.Zero(t, v.PendingChallenges)
	require.Zero(t, v.IncorrectValidations)
	val, err = h.engine.GetValidation(context.Background(), val.ID)
	require.NoError(t, err)
	require.False(t, val.Challenged)
}

func TestFundChallengeRejections(t *testing.T) {
	h := newHarness(t)
	h.stakedValidator(5000)
	val := h.validate()
	c, err := h.engine.CreateChallenge(as(challenger), CreateChallengeRequest{
		Challenger: challenger, ValidationID: val.ID, Reason: "wrong",
	})
	require.NoError(t, err)

	_, err = h.engine.FundChallenge(context.Background(), c.ID, h.deposit(challenger, 499))
	requireCode(t, err, xerrors.CodeEconomicInvariant)
	_, err = h.engine.FundChallenge(context.Background(), c.ID, h.deposit("someone", 500))
	requireCode(t, err, xerrors.CodeUnauthorized)

	_, err = h.engine.FundChallenge(context.Background(), c.ID, h.deposit(challenger, 500))
	require.NoError(t, err)

	second, err := h.engine.CreateChallenge(as("other"), CreateChallengeRequest{
		Challenger: "other", ValidationID: val.ID, Reason: "also wrong",
	})
	require.NoError(t, err)
	_, err = h.engine.FundChallenge(context.Background(), second.ID, h.deposit("other", 500))
	requireCode(t, err, xerrors.CodeInvalidState)

	_, err = h.engine.CreateChallenge(as(validator), CreateChallengeRequest{
		Challenger: validator, ValidationID: val.ID, Reason: "self",
	})
	requireCode(t, err, xerrors.CodeInvalidArgument)

	h.ledger.Advance(73 * time.Hour)
	_, err = h.engine.CreateChallenge(as(challenger), CreateChallengeRequest{
		Challenger: challenger, ValidationID: val.ID, Reason: "late",
	})
	requireCode(t, err, xerrors.CodeTiming)
}

func TestReclaimStaleChallenge(t *testing.T) {
	h := newHarness(t)
	h.stakedValidator(5000)
	c := h.fundedChallenge(h.validate())

	h.ledger.Advance(29 * 24 * time.Hour)
	_, err := h.engine.ReclaimStaleChallenge(as(challenger), challenger, c.ID)
	requireCode(t, err, xerrors.CodeTiming)

	h.ledger.Advance(24 * time.Hour)
	c, err = h.engine.ReclaimStaleChallenge(as(challenger), challenger, c.ID)
	require.NoError(t, err)
	require.Equal(t, StatusExpiredFunded, c.Status)
	require.EqualValues(t, 500, h.ledger.Balance(challenger, symbol))

	v, err := h.engine.GetValidator(context.Background(), validator)
	require.NoError(t, err)
	require.Zero(t, v.PendingChallenges)
	require.EqualValues(t, 5000, v.Stake)

	_, err = h.engine.ResolveChallenge(as(owner), ResolveChallengeRequest{Caller: owner, ChallengeID: c.ID, Upheld: true})
	requireCode(t, err, xerrors.CodeInvalidState)
}

func TestRegisterValidatorIsTagged(t *testing.T) {
	h := newHarness(t)

	v, outcome, err := h.engine.RegisterValidator(as(validator), validator, "manual", []string{"code", " code ", "legal"})
	require.NoError(t, err)
	require.Equal(t, RegistrationCreated, outcome)
	require.True(t, v.Active)
	require.EqualValues(t, FullAccuracy, v.AccuracyScore)
	require.Equal(t, []string{"code", "legal"}, v.Specializations)

	_, err = h.engine.Stake(context.Background(), h.deposit(validator, 700))
	require.NoError(t, err)

	v, outcome, err = h.engine.RegisterValidator(as(validator), validator, "llm", []string{"math"})
	require.NoError(t, err)
	require.Equal(t, RegistrationUpdated, outcome)
	require.Equal(t, "llm", v.Method)
	require.Equal(t, []string{"math"}, v.Specializations)
	require.EqualValues(t, 700, v.Stake)

	_, err = h.engine.Stake(context.Background(), h.deposit("stranger", 10))
	requireCode(t, err, xerrors.CodeNotFound)
}

func TestSubmitValidationRejections(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.engine.RegisterValidator(as(validator), validator, "", nil)
	require.NoError(t, err)

	req := SubmitValidationRequest{Validator: validator, Agent: agent, Result: ResultPass, Confidence: 50}
	_, err = h.engine.SubmitValidation(as(validator), req)
	requireCode(t, err, xerrors.CodeEconomicInvariant)

	_, err = h.engine.Stake(context.Background(), h.deposit(validator, 1000))
	require.NoError(t, err)

	bad := req
	bad.Confidence = 101
	_, err = h.engine.SubmitValidation(as(validator), bad)
	requireCode(t, err, xerrors.CodeInvalidArgument)

	bad = req
	bad.Result = "maybe"
	_, err = h.engine.SubmitValidation(as(validator), bad)
	requireCode(t, err, xerrors.CodeInvalidArgument)

	bad = req
	bad.Agent = "ghost"
	_, err = h.engine.SubmitValidation(as(validator), bad)
	requireCode(t, err, xerrors.CodeInvalidArgument)

	_, err = h.engine.SetValidatorStatus(as(validator), validator, false)
	require.NoError(t, err)
	_, err = h.engine.SubmitValidation(as(validator), req)
	requireCode(t, err, xerrors.CodeInvalidState)

	_, err = h.engine.SetValidatorStatus(as(validator), validator, true)
	require.NoError(t, err)
	val, err := h.engine.SubmitValidation(as(validator), req)
	require.NoError(t, err)
	require.EqualValues(t, 50, val.Confidence)

	list, err := h.engine.ListValidationsByValidator(context.Background(), validator)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestSubmitValidationChargesFee(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.ValidationFee = 100 })
	h.stakedValidator(1150)

	val := h.validate()
	v, err := h.engine.GetValidator(context.Background(), validator)
	require.NoError(t, err)
	require.EqualValues(t, 1050, v.Stake)
	require.EqualValues(t, 1, v.TotalValidations)
	require.EqualValues(t, 100, h.ledger.Balance(owner, symbol))

	history := h.ledger.History()
	last := history[len(history)-1]
	require.Equal(t, custody, last.From)
	require.Equal(t, owner, last.To)
	require.Equal(t, fmt.Sprintf("validation-fee:%d", val.ID), last.Memo)

	_, err = h.engine.SubmitValidation(as(validator), SubmitValidationRequest{
		Validator: validator, Agent: agent, JobRef: "job:2", Result: ResultPass, Confidence: 90,
	})
	requireCode(t, err, xerrors.CodeEconomicInvariant)

	v, err = h.engine.GetValidator(context.Background(), validator)
	require.NoError(t, err)
	require.EqualValues(t, 1050, v.Stake)
	require.EqualValues(t, 1, v.TotalValidations)
	require.EqualValues(t, 100, h.ledger.Balance(owner, symbol))
}

func TestUnstakeLifecycle(t *testing.T) {
	h := newHarness(t)
	h.stakedValidator(5000)
	c := h.fundedChallenge(h.validate())

	_, err := h.engine.RequestUnstake(as(validator), validator, 1000)
	requireCode(t, err, xerrors.CodeInvalidState)

	h.ledger.Advance(48 * time.Hour)
	_, err = h.engine.ResolveChallenge(as(owner), ResolveChallengeRequest{Caller: owner, ChallengeID: c.ID})
	require.NoError(t, err)

	_, err = h.engine.RequestUnstake(as(validator), validator, 10_000)
	requireCode(t, err, xerrors.CodeEconomicInvariant)
	v, err := h.engine.RequestUnstake(as(validator), validator, 2000)
	require.NoError(t, err)
	require.EqualValues(t, 2000, v.UnstakeAmount)

	_, err = h.engine.WithdrawStake(as(validator), validator)
	requireCode(t, err, xerrors.CodeTiming)

	h.ledger.Advance(24 * time.Hour)
	v, err = h.engine.WithdrawStake(as(validator), validator)
	require.NoError(t, err)
	require.EqualValues(t, 3500, v.Stake)
	require.Zero(t, v.UnstakeAmount)
	require.True(t, v.UnstakeRequestedAt.IsZero())
	require.EqualValues(t, 2000, h.ledger.Balance(validator, symbol))

	_, err = h.engine.WithdrawStake(as(validator), validator)
	requireCode(t, err, xerrors.CodeInvalidState)
}

func TestAccuracyAfterThreshold(t *testing.T) {
	h := newHarness(t)
	h.stakedValidator(100000)
	var first Validation
	for i := 0; i < 5; i++ {
		val := h.validate()
		if i == 0 {
			first = val
		}
	}
	c := h.fundedChallenge(first)
	h.ledger.Advance(48 * time.Hour)
	_, err := h.engine.ResolveChallenge(as(owner), ResolveChallengeRequest{Caller: owner, ChallengeID: c.ID, Upheld: true})
	require.NoError(t, err)

	v, err := h.engine.GetValidator(context.Background(), validator)
	require.NoError(t, err)
	require.EqualValues(t, 5, v.TotalValidations)
	require.EqualValues(t, 8000, v.AccuracyScore)
}

func TestAccuracyFormula(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		total := rapid.Uint64Range(0, 1_000_000).Draw(t, "total")
		incorrect := rapid.Uint64Range(0, total).Draw(t, "incorrect")
		v := Validator{TotalValidations: total, IncorrectValidations: incorrect}
		v.recomputeAccuracy()

		if total < AccuracyThreshold {
			if v.AccuracyScore != FullAccuracy {
				t.Fatalf("accuracy %d below threshold, want %d", v.AccuracyScore, FullAccuracy)
			}
			return
		}
		if want := (total - incorrect) * FullAccuracy / total; v.AccuracyScore != want {
			t.Fatalf("accuracy %d, want %d", v.AccuracyScore, want)
		}
	})
}

func TestMemoRoutes(t *testing.T) {
	h := newHarness(t)
	router := memo.NewRouter()
	h.engine.RegisterRoutes(router)

	_, _, err := h.engine.RegisterValidator(as(validator), validator, "", nil)
	require.NoError(t, err)
	in := h.deposit(validator, 1500)
	in.Memo = "stake"
	require.NoError(t, router.Route(context.Background(), in))

	val := h.validate()
	c, err := h.engine.CreateChallenge(as(challenger), CreateChallengeRequest{
		Challenger: challenger, ValidationID: val.ID, Reason: "wrong",
	})
	require.NoError(t, err)
	in = h.deposit(challenger, 500)
	in.Memo = memo.Challenge(c.ID)
	require.NoError(t, router.Route(context.Background(), in))

	c, err = h.engine.GetChallenge(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFundedPending, c.Status)

	challenges, err := h.engine.ListChallengesByValidation(context.Background(), val.ID)
	require.NoError(t, err)
	require.Len(t, challenges, 1)
}

func TestPausedRejectsNewWork(t *testing.T) {
	h := newHarness(t)
	h.stakedValidator(5000)
	c := h.fundedChallenge(h.validate())

	_, err := h.engine.SetPaused(as(owner), owner, true)
	require.NoError(t, err)
	_, err = h.engine.SubmitValidation(as(validator), SubmitValidationRequest{
		Validator: validator, Agent: agent, Result: ResultFail,
	})
	requireCode(t, err, xerrors.CodeInvalidState)

	h.ledger.Advance(48 * time.Hour)
	_, err = h.engine.ResolveChallenge(as(owner), ResolveChallengeRequest{Caller: owner, ChallengeID: c.ID, Upheld: true})
	require.NoError(t, err)

	cfg, err := h.engine.SetConfig(as(owner), owner, Config{
		MinStake: 1, ChallengeWindow: time.Hour, FundingPeriod: time.Hour, FundedChallengeTimeout: 2 * time.Hour,
	})
	require.NoError(t, err)
	require.True(t, cfg.Paused)
	require.Equal(t, SlashBurn, cfg.SlashRecipient)
	require.Equal(t, symbol, cfg.Symbol)
}
