package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"AgentEscrow-Chain/internal/auth"
	"AgentEscrow-Chain/internal/directory"
	"AgentEscrow-Chain/internal/escrow"
	xerrors "AgentEscrow-Chain/internal/errors"
	"AgentEscrow-Chain/internal/ledger"
	"AgentEscrow-Chain/internal/memo"
	"AgentEscrow-Chain/internal/observability/metrics"
	"AgentEscrow-Chain/internal/payments"
	"AgentEscrow-Chain/internal/validation"
	"AgentEscrow-Chain/pkg/logger"
)

const (
	owner   = "owner"
	client  = "client"
	agent   = "agent"
	custody = "custody"
	symbol  = "USDC"
)

type fixture struct {
	handler http.Handler
	ledger  *ledger.MemoryLedger
}

func newFixture(t *testing.T, mode auth.Mode) *fixture {
	t.Helper()
	logger.Discard()
	l := ledger.NewMemoryLedger(ledger.WithStartTime(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
	dir := directory.NewStatic(directory.Agent{Account: agent, Active: true})
	m := metrics.New()

	esc := escrow.NewEngine(escrow.NewMemoryStore(), l, dir, custody, escrow.WithRecorder(m))
	if _, err := esc.Bootstrap(context.Background(), escrow.Config{
		Owner:              owner,
		Symbol:             symbol,
		PlatformFee:        100,
		MinJobAmount:       100,
		DefaultDeadline:    7 * 24 * time.Hour,
		DisputeWindow:      72 * time.Hour,
		AcceptanceTimeout:  48 * time.Hour,
		MinArbitratorStake: 1000,
	}); err != nil {
		t.Fatalf("bootstrap escrow: %v", err)
	}
	val := validation.NewEngine(validation.NewMemoryStore(), l, dir, custody, validation.WithRecorder(m))
	if _, err := val.Bootstrap(context.Background(), validation.Config{
		Owner:                  owner,
		Symbol:                 symbol,
		MinStake:               1000,
		ChallengeStake:         500,
		UnstakeDelay:           24 * time.Hour,
		ChallengeWindow:        72 * time.Hour,
		FundingPeriod:          24 * time.Hour,
		SlashPercent:           1000,
		SlashRecipient:         validation.SlashBurn,
		DisputePeriod:          48 * time.Hour,
		FundedChallengeTimeout: 30 * 24 * time.Hour,
	}); err != nil {
		t.Fatalf("bootstrap validation: %v", err)
	}

	router := memo.NewRouter()
	esc.RegisterRoutes(router)
	val.RegisterRoutes(router)
	processor := payments.NewProcessor(router, l, custody, payments.WithRecorder(m))

	server := NewServer(":0", esc, val,
		WithPayments(processor),
		WithMetrics(m),
		WithAuth(auth.MiddlewareConfig{Mode: mode}),
	)
	return &fixture{handler: server.Handler(), ledger: l}
}

func (f *fixture) do(t *testing.T, method, path, account string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if account != "" {
		req.Header.Set(auth.HeaderAccount, account)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code xerrors.Code) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	var body ErrorBody
	decodeInto(t, rec, &body)
	if body.Code != code {
		t.Fatalf("expected code %s, got %s", code, body.Code)
	}
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t, auth.ModeTrusted)
	f.ledger.Credit(client, symbol, 5000)

	rec := f.do(t, http.MethodPost, "/api/v1/jobs", client, map[string]any{
		"agent":  agent,
		"title":  "summarise filings",
		"amount": 1000,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create job: %d %s", rec.Code, rec.Body.String())
	}
	var job escrow.Job
	decodeInto(t, rec, &job)
	if job.ID != 1 || job.Client != client || job.State != escrow.StateCreated {
		t.Fatalf("unexpected job %+v", job)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/payments", client, map[string]any{
		"amount": 1000, "symbol": symbol, "memo": "fund:1",
	})
	var receipt payments.Receipt
	decodeInto(t, rec, &receipt)
	if rec.Code != http.StatusOK || receipt.Status != payments.StatusAccepted {
		t.Fatalf("pay: %d %+v", rec.Code, receipt)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/jobs/1/accept", agent, nil)
	decodeInto(t, rec, &job)
	if rec.Code != http.StatusOK || job.State != escrow.StateAccepted {
		t.Fatalf("accept: %d %+v", rec.Code, job)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/jobs?client="+client, "", nil)
	var jobs []escrow.Job
	decodeInto(t, rec, &jobs)
	if len(jobs) != 1 || jobs[0].FundedAmount != 1000 {
		t.Fatalf("list jobs: %+v", jobs)
	}

	// A second funding payment is rejected and returned to the client.
	rec = f.do(t, http.MethodPost, "/api/v1/payments", client, map[string]any{
		"amount": 700, "symbol": symbol, "memo": "fund:1",
	})
	decodeInto(t, rec, &receipt)
	if receipt.Status != payments.StatusBounced || receipt.Code != xerrors.CodeInvalidState {
		t.Fatalf("expected bounced payment, got %+v", receipt)
	}
	if got := f.ledger.Balance(client, symbol); got != 4000 {
		t.Fatalf("client balance %d, want 4000", got)
	}
	if got := f.ledger.Balance(custody, symbol); got != 1000 {
		t.Fatalf("custody balance %d, want 1000", got)
	}
}

func TestErrorsRenderByCode(t *testing.T) {
	f := newFixture(t, auth.ModeTrusted)

	expectError(t, f.do(t, http.MethodPost, "/api/v1/jobs", "", map[string]any{"agent": agent}),
		http.StatusUnauthorized, xerrors.CodeUnauthorized)
	expectError(t, f.do(t, http.MethodGet, "/api/v1/jobs/99", "", nil),
		http.StatusNotFound, xerrors.CodeNotFound)
	expectError(t, f.do(t, http.MethodGet, "/api/v1/jobs/abc", "", nil),
		http.StatusBadRequest, xerrors.CodeInvalidArgument)
	expectError(t, f.do(t, http.MethodGet, "/api/v1/jobs", "", nil),
		http.StatusBadRequest, xerrors.CodeInvalidArgument)
	expectError(t, f.do(t, http.MethodPost, "/api/v1/jobs", client, map[string]any{"agent": agent, "title": "x", "amount": 10}),
		http.StatusUnprocessableEntity, xerrors.CodeEconomicInvariant)
	expectError(t, f.do(t, http.MethodPost, "/api/v1/jobs", client, map[string]any{"unexpected": true}),
		http.StatusBadRequest, xerrors.CodeInvalidArgument)
	expectError(t, f.do(t, http.MethodPost, "/api/v1/escrow/pause", client, map[string]any{"paused": true}),
		http.StatusUnauthorized, xerrors.CodeUnauthorized)
}

func TestValidatorRegistrationOverHTTP(t *testing.T) {
	f := newFixture(t, auth.ModeTrusted)

	rec := f.do(t, http.MethodPost, "/api/v1/validators", "validator", map[string]any{"method": "manual-review"})
	var first registrationResponse
	decodeInto(t, rec, &first)
	if rec.Code != http.StatusOK || first.Registration != validation.RegistrationCreated {
		t.Fatalf("register: %d %s", rec.Code, rec.Body.String())
	}
	rec = f.do(t, http.MethodPost, "/api/v1/validators", "validator", map[string]any{"method": "benchmark"})
	var second registrationResponse
	decodeInto(t, rec, &second)
	if second.Registration != validation.RegistrationUpdated || second.Validator.Method != "benchmark" {
		t.Fatalf("re-register: %+v", second)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/validators/validator", "", nil)
	var v validation.Validator
	decodeInto(t, rec, &v)
	if v.Account != "validator" {
		t.Fatalf("get validator: %+v", v)
	}
}

func TestSignatureModeRejectsUnsignedRequests(t *testing.T) {
	f := newFixture(t, auth.ModeSignature)
	expectError(t, f.do(t, http.MethodPost, "/api/v1/jobs", client, map[string]any{"agent": agent}),
		http.StatusUnauthorized, xerrors.CodeUnauthorized)

	// Reads stay anonymous.
	rec := f.do(t, http.MethodGet, "/api/v1/escrow/config", "", nil)
	var cfg escrow.Config
	decodeInto(t, rec, &cfg)
	if rec.Code != http.StatusOK || cfg.Owner != owner {
		t.Fatalf("config: %d %+v", rec.Code, cfg)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, auth.ModeTrusted)
	if rec := f.do(t, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
	f.do(t, http.MethodGet, "/api/v1/jobs/1", "", nil)

	rec := f.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "escrow_http_requests_total") {
		t.Fatalf("metrics output lacks request counter:\n%s", rec.Body.String())
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[xerrors.Code]int{
		xerrors.CodeUnauthorized:      http.StatusUnauthorized,
		xerrors.CodeNotFound:          http.StatusNotFound,
		xerrors.CodeInvalidState:      http.StatusConflict,
		xerrors.CodeConflict:          http.StatusConflict,
		xerrors.CodeMemoProtocol:      http.StatusBadRequest,
		xerrors.CodeTiming:            http.StatusUnprocessableEntity,
		xerrors.CodeLedgerFailure:     http.StatusServiceUnavailable,
		xerrors.CodeUnknown:           http.StatusInternalServerError,
		xerrors.CodeEconomicInvariant: http.StatusUnprocessableEntity,
	}
	for code, want := range cases {
		if got := StatusFor(code); got != want {
			t.Errorf("StatusFor(%s) = %d, want %d", code, got, want)
		}
	}
}
