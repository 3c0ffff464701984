package auth

import (
	"context"
	"strings"

	xerrors "AgentEscrow-Chain/internal/errors"
)

// principalKey is the context key under which the verified caller is stored.
type principalKey struct{}

// WithPrincipal stores the verified caller account in ctx.
func WithPrincipal(ctx context.Context, account string) context.Context {
	account = strings.TrimSpace(account)
	if account == "" {
		return ctx
	}
	return context.WithValue(ctx, principalKey{}, account)
}

// PrincipalFromContext returns the verified caller, if any.
func PrincipalFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	account, ok := ctx.Value(principalKey{}).(string)
	return account, ok && account != ""
}

// Require fails with UNAUTHORIZED unless ctx carries account as its principal.
func Require(ctx context.Context, account string) error {
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		return xerrors.New(xerrors.CodeUnauthorized, "request is not authenticated")
	}
	if !SameAccount(principal, account) {
		return xerrors.New(xerrors.CodeUnauthorized, "caller is not "+account,
			xerrors.WithMetadata("principal", principal))
	}
	return nil
}

// SameAccount compares account identifiers. Hex addresses compare without case.
func SameAccount(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	if strings.HasPrefix(a, "0x") && strings.HasPrefix(b, "0x") {
		return strings.EqualFold(a, b)
	}
	return a == b
}

// Normalize returns the canonical form of an account: trimmed, with hex
// addresses lowercased.
func Normalize(account string) string {
	account = strings.TrimSpace(account)
	if strings.HasPrefix(account, "0x") || strings.HasPrefix(account, "0X") {
		return strings.ToLower(account)
	}
	return account
}
