// Package memo parses the memo attached to inbound transfers into the custody
// account and dispatches each payment to the engine that owns it.
package memo

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	xerrors "AgentEscrow-Chain/internal/errors"
	"AgentEscrow-Chain/internal/ledger"
)

// Kind identifies what an inbound transfer pays for.
type Kind string

const (
	KindFund            Kind = "fund"
	KindArbitratorStake Kind = "arbstake"
	KindStake           Kind = "stake"
	KindChallenge       Kind = "challenge"
)

// Memo is a parsed inbound memo. ID is zero for kinds without a reference.
type Memo struct {
	Kind Kind
	ID   uint64
}

func (m Memo) String() string {
	if m.Kind == KindFund || m.Kind == KindChallenge {
		return fmt.Sprintf("%s:%d", m.Kind, m.ID)
	}
	return string(m.Kind)
}

// Fund builds the memo a client attaches when funding a job.
func Fund(jobID uint64) string { return Memo{Kind: KindFund, ID: jobID}.String() }

// Challenge builds the memo a challenger attaches when funding a challenge.
func Challenge(challengeID uint64) string {
	return Memo{Kind: KindChallenge, ID: challengeID}.String()
}

// Parse decodes raw. Prefixes are case-sensitive; ids are decimal.
func Parse(raw string) (Memo, error) {
	text := strings.TrimSpace(raw)
	switch Kind(text) {
	case KindArbitratorStake, KindStake:
		return Memo{Kind: Kind(text)}, nil
	}
	prefix, rest, ok := strings.Cut(text, ":")
	if !ok {
		return Memo{}, unrecognized(raw)
	}
	kind := Kind(prefix)
	if kind != KindFund && kind != KindChallenge {
		return Memo{}, unrecognized(raw)
	}
	if rest == "" || strings.TrimLeft(rest, "0123456789") != "" {
		return Memo{}, unrecognized(raw)
	}
	id, err := strconv.ParseUint(rest, 10, 64)
	if err != nil || id == 0 {
		return Memo{}, unrecognized(raw)
	}
	return Memo{Kind: kind, ID: id}, nil
}

func unrecognized(raw string) error {
	return xerrors.Newf(xerrors.CodeMemoProtocol, "unrecognized memo %q", raw)
}

// Handler settles one inbound transfer.
type Handler func(ctx context.Context, m Memo, in ledger.Transfer) error

// Router dispatches payments to the handler registered for the memo kind.
type Router struct {
	mu       sync.RWMutex
	handlers map[Kind]Handler
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{handlers: make(map[Kind]Handler)}
}

// Handle registers h for kind, replacing any previous handler.
func (r *Router) Handle(kind Kind, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// Route parses in.Memo and invokes the matching handler.
func (r *Router) Route(ctx context.Context, in ledger.Transfer) error {
	m, err := Parse(in.Memo)
	if err != nil {
		return err
	}
	r.mu.RLock()
	h, ok := r.handlers[m.Kind]
	r.mu.RUnlock()
	if !ok {
		return xerrors.Newf(xerrors.CodeMemoProtocol, "no handler for memo kind %s", m.Kind)
	}
	return h(ctx, m, in)
}
