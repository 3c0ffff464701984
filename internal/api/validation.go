package api

import (
	"context"
	"net/http"

	"AgentEscrow-Chain/internal/ledger"
	"AgentEscrow-Chain/internal/validation"
)

type registerValidatorBody struct {
	Method          string   `json:"method"`
	Specializations []string `json:"specializations,omitempty"`
}

type registrationResponse struct {
	Validator    validation.Validator    `json:"validator"`
	Registration validation.Registration `json:"registration"`
}

type statusBody struct {
	Active bool `json:"active"`
}

type paymentBody struct {
	Amount uint64 `json:"amount"`
	Symbol string `json:"symbol"`
	Memo   string `json:"memo"`
}

func (s *Server) challengeAction(fn func(ctx context.Context, caller string, challengeID uint64) (validation.Challenge, error)) http.Handler {
	return s.mutation(func(ctx context.Context, caller string, r *http.Request) (any, error) {
		id, err := pathID(r)
		if err != nil {
			return nil, err
		}
		return fn(ctx, caller, id)
	})
}

func (s *Server) validationRoutes(mux *http.ServeMux) {
	v := s.validation

	s.route(mux, "POST /api/v1/validators", s.mutation(func(ctx context.Context, caller string, r *http.Request) (any, error) {
		var body registerValidatorBody
		if err := decode(r, &body); err != nil {
			return nil, err
		}
		validator, reg, err := v.RegisterValidator(ctx, caller, body.Method, body.Specializations)
		if err != nil {
			return nil, err
		}
		return registrationResponse{Validator: validator, Registration: reg}, nil
	}))
	s.route(mux, "GET /api/v1/validators/{account}", s.read(func(ctx context.Context, r *http.Request) (any, error) {
		return v.GetValidator(ctx, r.PathValue("account"))
	}))
	s.route(mux, "GET /api/v1/validators/{account}/validations", s.read(func(ctx context.Context, r *http.Request) (any, error) {
		return v.ListValidationsByValidator(ctx, r.PathValue("account"))
	}))
	s.route(mux, "POST /api/v1/validators/status", s.mutation(func(ctx context.Context, caller string, r *http.Request) (any, error) {
		var body statusBody
		if err := decode(r, &body); err != nil {
			return nil, err
		}
		return v.SetValidatorStatus(ctx, caller, body.Active)
	}))
	s.route(mux, "POST /api/v1/validators/unstake", s.mutation(func(ctx context.Context, caller string, r *http.Request) (any, error) {
		var body amountBody
		if err := decode(r, &body); err != nil {
			return nil, err
		}
		return v.RequestUnstake(ctx, caller, body.Amount)
	}))
	s.route(mux, "POST /api/v1/validators/withdraw", s.mutation(func(ctx context.Context, caller string, _ *http.Request) (any, error) {
		return v.WithdrawStake(ctx, caller)
	}))

	s.route(mux, "POST /api/v1/validations", s.mutation(func(ctx context.Context, caller string, r *http.Request) (any, error) {
		var req validation.SubmitValidationRequest
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		req.Validator = caller
		return v.SubmitValidation(ctx, req)
	}))
	s.route(mux, "GET /api/v1/validations/{id}", s.read(func(ctx context.Context, r *http.Request) (any, error) {
		id, err := pathID(r)
		if err != nil {
			return nil, err
		}
		return v.GetValidation(ctx, id)
	}))
	s.route(mux, "GET /api/v1/validations/{id}/challenges", s.read(func(ctx context.Context, r *http.Request) (any, error) {
		id, err := pathID(r)
		if err != nil {
			return nil, err
		}
		return v.ListChallengesByValidation(ctx, id)
	}))

	s.route(mux, "POST /api/v1/challenges", s.mutation(func(ctx context.Context, caller string, r *http.Request) (any, error) {
		var req validation.CreateChallengeRequest
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		req.Challenger = caller
		return v.CreateChallenge(ctx, req)
	}))
	s.route(mux, "GET /api/v1/challenges/{id}", s.read(func(ctx context.Context, r *http.Request) (any, error) {
		id, err := pathID(r)
		if err != nil {
			return nil, err
		}
		return v.GetChallenge(ctx, id)
	}))
	s.route(mux, "POST /api/v1/challenges/{id}/expire", s.challengeAction(v.ExpireUnfundedChallenge))
	s.route(mux, "POST /api/v1/challenges/{id}/reclaim", s.challengeAction(v.ReclaimStaleChallenge))
	s.route(mux, "POST /api/v1/challenges/{id}/resolve", s.mutation(func(ctx context.Context, caller string, r *http.Request) (any, error) {
		id, err := pathID(r)
		if err != nil {
			return nil, err
		}
		var req validation.ResolveChallengeRequest
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		req.Caller, req.ChallengeID = caller, id
		return v.ResolveChallenge(ctx, req)
	}))

	s.route(mux, "GET /api/v1/validation/config", s.read(func(ctx context.Context, _ *http.Request) (any, error) {
		return v.GetConfig(ctx)
	}))
	s.route(mux, "PUT /api/v1/validation/config", s.mutation(func(ctx context.Context, caller string, r *http.Request) (any, error) {
		var cfg validation.Config
		if err := decode(r, &cfg); err != nil {
			return nil, err
		}
		return v.SetConfig(ctx, caller, cfg)
	}))
	s.route(mux, "POST /api/v1/validation/owner", s.mutation(func(ctx context.Context, caller string, r *http.Request) (any, error) {
		var body ownerBody
		if err := decode(r, &body); err != nil {
			return nil, err
		}
		return v.SetOwner(ctx, caller, body.Owner)
	}))
	s.route(mux, "POST /api/v1/validation/pause", s.mutation(func(ctx context.Context, caller string, r *http.Request) (any, error) {
		var body pauseBody
		if err := decode(r, &body); err != nil {
			return nil, err
		}
		return v.SetPaused(ctx, caller, body.Paused)
	}))
}

// pay collects a payment from the caller into custody and settles it.
func (s *Server) pay(ctx context.Context, caller string, r *http.Request) (any, error) {
	var body paymentBody
	if err := decode(r, &body); err != nil {
		return nil, err
	}
	return s.payments.Pay(ctx, ledger.Transfer{
		From:   caller,
		Amount: body.Amount,
		Symbol: body.Symbol,
		Memo:   body.Memo,
	})
}
