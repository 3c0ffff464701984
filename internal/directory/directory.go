// Package directory answers whether an account is a registered, active agent.
// The engines only depend on the Directory interface; where the registry lives
// is a deployment choice.
package directory

import (
	"context"

	"AgentEscrow-Chain/internal/auth"
	xerrors "AgentEscrow-Chain/internal/errors"
)

// Agent is the directory entry consulted by the engines.
type Agent struct {
	Account string `json:"account" yaml:"account"`
	Name    string `json:"name,omitempty" yaml:"name"`
	Active  bool   `json:"active" yaml:"active"`
}

// Directory looks up agents by account.
type Directory interface {
	GetAgent(ctx context.Context, account string) (Agent, error)
}

// RequireActive fails unless account is a registered, active agent.
func RequireActive(ctx context.Context, d Directory, account string) error {
	agent, err := d.GetAgent(ctx, account)
	if err != nil {
		if xerrors.HasCode(err, xerrors.CodeNotFound) {
			return xerrors.Newf(xerrors.CodeInvalidArgument, "%s is not a registered agent", account)
		}
		return err
	}
	if !agent.Active {
		return xerrors.Newf(xerrors.CodeInvalidArgument, "agent %s is not active", account)
	}
	return nil
}

func notFound(account string) error {
	return xerrors.Newf(xerrors.CodeNotFound, "agent %s not found", account)
}

func normalize(account string) string { return auth.Normalize(account) }
