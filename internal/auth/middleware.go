package auth

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "AgentEscrow-Chain/internal/errors"
	"AgentEscrow-Chain/pkg/logger"
)

// Mode selects how callers are authenticated.
type Mode string

const (
	// ModeSignature requires an EIP-191 signature on every mutating request.
	ModeSignature Mode = "signature"
	// ModeTrusted accepts X-Account as-is. Only for local memory-ledger setups.
	ModeTrusted Mode = "trusted"
)

// MiddlewareConfig configures request authentication.
type MiddlewareConfig struct {
	Mode         Mode
	MaxClockSkew time.Duration
	MaxBodyBytes int64
	Now          func() time.Time
	// OnError renders authentication failures.
	OnError func(w http.ResponseWriter, err error)
}

// Middleware authenticates the caller and stores it with WithPrincipal.
// Requests without X-Account pass through anonymously so read endpoints stay open.
func Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	if cfg.MaxClockSkew <= 0 {
		cfg.MaxClockSkew = 5 * time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.OnError == nil {
		cfg.OnError = func(w http.ResponseWriter, err error) {
			http.Error(w, err.Error(), http.StatusUnauthorized)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account := strings.TrimSpace(r.Header.Get(HeaderAccount))
			if account == "" {
				next.ServeHTTP(w, r)
				return
			}
			if cfg.Mode != ModeTrusted {
				if err := verifyRequest(r, account, cfg); err != nil {
					logger.Audit().Warn("access_denied",
						slog.String("path", r.URL.Path),
						slog.String("method", r.Method),
						slog.String("account", account),
						slog.String("error", err.Error()),
					)
					cfg.OnError(w, err)
					return
				}
			}
			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r.WithContext(WithPrincipal(r.Context(), account)))
			logger.Audit().Info("api_request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", aw.status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("account", account),
			)
		})
	}
}

func verifyRequest(r *http.Request, account string, cfg MiddlewareConfig) error {
	ts, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(HeaderTimestamp)), 10, 64)
	if err != nil {
		return xerrors.New(xerrors.CodeUnauthorized, "missing or malformed timestamp")
	}
	if err := CheckFreshness(ts, cfg.Now(), cfg.MaxClockSkew); err != nil {
		return err
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, cfg.MaxBodyBytes))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "read request body")
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	message := CanonicalMessage(r.Method, r.URL.Path, ts, body)
	return VerifySignature(account, message, r.Header.Get(HeaderSignature))
}

// auditWriter captures the response status for audit records.
type auditWriter struct {
	http.ResponseWriter
	status int
}

func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
