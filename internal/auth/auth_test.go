package auth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	xerrors "AgentEscrow-Chain/internal/errors"
)

func TestRequire(t *testing.T) {
	ctx := WithPrincipal(context.Background(), "0xAbC0000000000000000000000000000000000001")
	if err := Require(ctx, "0xabc0000000000000000000000000000000000001"); err != nil {
		t.Fatalf("expected hex accounts to match case-insensitively: %v", err)
	}
	if err := Require(ctx, "0xabc0000000000000000000000000000000000002"); !xerrors.HasCode(err, xerrors.CodeUnauthorized) {
		t.Fatalf("expected UNAUTHORIZED, got %v", err)
	}
	if err := Require(context.Background(), "alice"); !xerrors.HasCode(err, xerrors.CodeUnauthorized) {
		t.Fatalf("expected UNAUTHORIZED without principal, got %v", err)
	}
}

func TestSignAndVerify(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	account := crypto.PubkeyToAddress(key.PublicKey).Hex()
	msg := CanonicalMessage("post", "/api/v1/jobs", 1700000000, []byte(`{"title":"x"}`))

	sig, err := Sign(key, msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := VerifySignature(account, msg, sig); err != nil {
		t.Fatalf("verify: %v", err)
	}
	tampered := CanonicalMessage("post", "/api/v1/jobs", 1700000000, []byte(`{"title":"y"}`))
	if err := VerifySignature(account, tampered, sig); err == nil {
		t.Fatal("expected verification failure on tampered body")
	}
}

func TestMiddlewareSignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	account := crypto.PubkeyToAddress(key.PublicKey).Hex()
	now := time.Unix(1700000000, 0)

	var seen string
	handler := Middleware(MiddlewareConfig{Mode: ModeSignature, Now: func() time.Time { return now }})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen, _ = PrincipalFromContext(r.Context())
			body, _ := io.ReadAll(r.Body)
			_, _ = w.Write(body)
		}))

	body := `{"job_id":1}`
	sig, err := Sign(key, CanonicalMessage(http.MethodPost, "/api/v1/jobs/1/accept", now.Unix(), []byte(body)))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/1/accept", strings.NewReader(body))
	req.Header.Set(HeaderAccount, account)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(now.Unix(), 10))
	req.Header.Set(HeaderSignature, sig)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if seen != account {
		t.Fatalf("principal not propagated: %q", seen)
	}
	if rec.Body.String() != body {
		t.Fatalf("body not restored for handler: %q", rec.Body.String())
	}

	stale := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/1/accept", strings.NewReader(body))
	stale.Header.Set(HeaderAccount, account)
	stale.Header.Set(HeaderTimestamp, strconv.FormatInt(now.Add(-time.Hour).Unix(), 10))
	stale.Header.Set(HeaderSignature, sig)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, stale)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for stale request, got %d", rec.Code)
	}
}
