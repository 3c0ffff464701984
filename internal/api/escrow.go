package api

import (
	"context"
	"net/http"

	"AgentEscrow-Chain/internal/escrow"
	xerrors "AgentEscrow-Chain/internal/errors"
)

type evidenceBody struct {
	Evidence string `json:"evidence"`
}

type disputeBody struct {
	Reason   string `json:"reason"`
	Evidence string `json:"evidence,omitempty"`
}

type arbitratorBody struct {
	FeeBps uint64 `json:"fee_bps"`
}

type amountBody struct {
	Amount uint64 `json:"amount"`
}

type ownerBody struct {
	Owner string `json:"owner"`
}

type pauseBody struct {
	Paused bool `json:"paused"`
}

// jobAction adapts the engine calls that take only a caller and a job id.
func (s *Server) jobAction(fn func(ctx context.Context, caller string, jobID uint64) (escrow.Job, error)) http.Handler {
	return s.mutation(func(ctx context.Context, caller string, r *http.Request) (any, error) {
		id, err := pathID(r)
		if err != nil {
			return nil, err
		}
		return fn(ctx, caller, id)
	})
}

func (s *Server) escrowRoutes(mux *http.ServeMux) {
	e := s.escrow

	s.route(mux, "POST /api/v1/jobs", s.mutation(func(ctx context.Context, caller string, r *http.Request) (any, error) {
		var req escrow.CreateJobRequest
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		req.Client = caller
		return e.CreateJob(ctx, req)
	}))
	s.route(mux, "GET /api/v1/jobs", s.read(func(ctx context.Context, r *http.Request) (any, error) {
		q := r.URL.Query()
		switch {
		case q.Get("client") != "":
			return e.ListJobsByClient(ctx, q.Get("client"))
		case q.Get("agent") != "":
			return e.ListJobsByAgent(ctx, q.Get("agent"))
		default:
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "client or agent filter required")
		}
	}))
	s.route(mux, "GET /api/v1/jobs/{id}", s.read(func(ctx context.Context, r *http.Request) (any, error) {
		id, err := pathID(r)
		if err != nil {
			return nil, err
		}
		return e.GetJob(ctx, id)
	}))
	s.route(mux, "POST /api/v1/jobs/{id}/accept", s.jobAction(e.AcceptJob))
	s.route(mux, "POST /api/v1/jobs/{id}/start", s.jobAction(e.StartJob))
	s.route(mux, "POST /api/v1/jobs/{id}/approve", s.jobAction(e.ApproveDelivery))
	s.route(mux, "POST /api/v1/jobs/{id}/cancel", s.jobAction(e.CancelJob))
	s.route(mux, "POST /api/v1/jobs/{id}/claim-timeout", s.jobAction(e.ClaimTimeout))
	s.route(mux, "POST /api/v1/jobs/{id}/claim-acceptance-timeout", s.jobAction(e.ClaimAcceptanceTimeout))
	s.route(mux, "POST /api/v1/jobs/{id}/deliver", s.mutation(func(ctx context.Context, caller string, r *http.Request) (any, error) {
		id, err := pathID(r)
		if err != nil {
			return nil, err
		}
		var body evidenceBody
		if err := decode(r, &body); err != nil {
			return nil, err
		}
		return e.DeliverJob(ctx, caller, id, body.Evidence)
	}))

	s.route(mux, "POST /api/v1/jobs/{id}/milestones", s.mutation(func(ctx context.Context, caller string, r *http.Request) (any, error) {
		id, err := pathID(r)
		if err != nil {
			return nil, err
		}
		var req escrow.AddMilestoneRequest
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		req.Caller, req.JobID = caller, id
		return e.AddMilestone(ctx, req)
	}))
	s.route(mux, "GET /api/v1/jobs/{id}/milestones", s.read(func(ctx context.Context, r *http.Request) (any, error) {
		id, err := pathID(r)
		if err != nil {
			return nil, err
		}
		return e.ListMilestones(ctx, id)
	}))
	s.route(mux, "GET /api/v1/milestones/{id}", s.read(func(ctx context.Context, r *http.Request) (any, error) {
		id, err := pathID(r)
		if err != nil {
			return nil, err
		}
		return e.GetMilestone(ctx, id)
	}))
	s.route(mux, "POST /api/v1/milestones/{id}/submit", s.mutation(func(ctx context.Context, caller string, r *http.Request) (any, error) {
		id, err := pathID(r)
		if err != nil {
			return nil, err
		}
		var body evidenceBody
		if err := decode(r, &body); err != nil {
			return nil, err
		}
		return e.SubmitMilestone(ctx, caller, id, body.Evidence)
	}))
	s.route(mux, "POST /api/v1/milestones/{id}/approve", s.mutation(func(ctx context.Context, caller string, r *http.Request) (any, error) {
		id, err := pathID(r)
		if err != nil {
			return nil, err
		}
		return e.ApproveMilestone(ctx, caller, id)
	}))

	s.route(mux, "POST /api/v1/jobs/{id}/disputes", s.mutation(func(ctx context.Context, caller string, r *http.Request) (any, error) {
		id, err := pathID(r)
		if err != nil {
			return nil, err
		}
		var body disputeBody
		if err := decode(r, &body); err != nil {
			return nil, err
		}
		return e.RaiseDispute(ctx, caller, id, body.Reason, body.Evidence)
	}))
	s.route(mux, "GET /api/v1/jobs/{id}/disputes", s.read(func(ctx context.Context, r *http.Request) (any, error) {
		id, err := pathID(r)
		if err != nil {
			return nil, err
		}
		return e.ListDisputes(ctx, id)
	}))
	s.route(mux, "GET /api/v1/disputes/{id}", s.read(func(ctx context.Context, r *http.Request) (any, error) {
		id, err := pathID(r)
		if err != nil {
			return nil, err
		}
		return e.GetDispute(ctx, id)
	}))
	s.route(mux, "POST /api/v1/disputes/{id}/arbitrate", s.mutation(func(ctx context.Context, caller string, r *http.Request) (any, error) {
		id, err := pathID(r)
		if err != nil {
			return nil, err
		}
		var req escrow.ArbitrateRequest
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		req.Caller, req.DisputeID = caller, id
		return e.ArbitrateDispute(ctx, req)
	}))

	s.route(mux, "POST /api/v1/arbitrators", s.mutation(func(ctx context.Context, caller string, r *http.Request) (any, error) {
		var body arbitratorBody
		if err := decode(r, &body); err != nil {
			return nil, err
		}
		return e.RegisterArbitrator(ctx, caller, body.FeeBps)
	}))
	s.route(mux, "GET /api/v1/arbitrators/{account}", s.read(func(ctx context.Context, r *http.Request) (any, error) {
		return e.GetArbitrator(ctx, r.PathValue("account"))
	}))
	s.route(mux, "POST /api/v1/arbitrators/activate", s.mutation(func(ctx context.Context, caller string, _ *http.Request) (any, error) {
		return e.ActivateArbitrator(ctx, caller)
	}))
	s.route(mux, "POST /api/v1/arbitrators/deactivate", s.mutation(func(ctx context.Context, caller string, _ *http.Request) (any, error) {
		return e.DeactivateArbitrator(ctx, caller)
	}))
	s.route(mux, "POST /api/v1/arbitrators/withdraw", s.mutation(func(ctx context.Context, caller string, r *http.Request) (any, error) {
		var body amountBody
		if err := decode(r, &body); err != nil {
			return nil, err
		}
		return e.WithdrawArbitratorStake(ctx, caller, body.Amount)
	}))

	s.route(mux, "GET /api/v1/escrow/config", s.read(func(ctx context.Context, _ *http.Request) (any, error) {
		return e.GetConfig(ctx)
	}))
	s.route(mux, "PUT /api/v1/escrow/config", s.mutation(func(ctx context.Context, caller string, r *http.Request) (any, error) {
		var cfg escrow.Config
		if err := decode(r, &cfg); err != nil {
			return nil, err
		}
		return e.SetConfig(ctx, caller, cfg)
	}))
	s.route(mux, "POST /api/v1/escrow/owner", s.mutation(func(ctx context.Context, caller string, r *http.Request) (any, error) {
		var body ownerBody
		if err := decode(r, &body); err != nil {
			return nil, err
		}
		return e.SetOwner(ctx, caller, body.Owner)
	}))
	s.route(mux, "POST /api/v1/escrow/pause", s.mutation(func(ctx context.Context, caller string, r *http.Request) (any, error) {
		var body pauseBody
		if err := decode(r, &body); err != nil {
			return nil, err
		}
		return e.SetPaused(ctx, caller, body.Paused)
	}))
}
