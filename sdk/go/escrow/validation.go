package escrow

import (
	"context"
	"fmt"

	"AgentEscrow-Chain/internal/validation"
)

type (
	Validator             = validation.Validator
	Validation            = validation.Validation
	Challenge             = validation.Challenge
	ValidationRequest     = validation.SubmitValidationRequest
	ValidatorRegistration = validation.Registration
)

// RegisterValidator registers or updates the calling validator.
func (c *Client) RegisterValidator(ctx context.Context, method string, specializations []string) (Validator, ValidatorRegistration, error) {
	var out struct {
		Validator    Validator             `json:"validator"`
		Registration ValidatorRegistration `json:"registration"`
	}
	err := c.post(ctx, "/api/v1/validators", map[string]any{"method": method, "specializations": specializations}, &out)
	return out.Validator, out.Registration, err
}

// GetValidator fetches a validator.
func (c *Client) GetValidator(ctx context.Context, account string) (Validator, error) {
	var v Validator
	err := c.get(ctx, "/api/v1/validators/"+account, nil, &v)
	return v, err
}

// SubmitValidation records an attestation by the calling validator.
func (c *Client) SubmitValidation(ctx context.Context, req ValidationRequest) (Validation, error) {
	var v Validation
	err := c.post(ctx, "/api/v1/validations", req, &v)
	return v, err
}

// CreateChallenge opens a challenge against a validation. It must then be
// funded with a `challenge:<id>` payment.
func (c *Client) CreateChallenge(ctx context.Context, validationID uint64, reason, evidence string) (Challenge, error) {
	var ch Challenge
	err := c.post(ctx, "/api/v1/challenges", map[string]any{
		"validation_id": validationID,
		"reason":        reason,
		"evidence":      evidence,
	}, &ch)
	return ch, err
}

// GetChallenge fetches a challenge.
func (c *Client) GetChallenge(ctx context.Context, id uint64) (Challenge, error) {
	var ch Challenge
	err := c.get(ctx, fmt.Sprintf("/api/v1/challenges/%d", id), nil, &ch)
	return ch, err
}

// ResolveChallenge rules on a funded challenge. Owner only.
func (c *Client) ResolveChallenge(ctx context.Context, id uint64, upheld bool, notes string) (Challenge, error) {
	var ch Challenge
	err := c.post(ctx, fmt.Sprintf("/api/v1/challenges/%d/resolve", id), map[string]any{"upheld": upheld, "notes": notes}, &ch)
	return ch, err
}

// RequestUnstake starts the unstake delay for amount.
func (c *Client) RequestUnstake(ctx context.Context, amount uint64) (Validator, error) {
	var v Validator
	err := c.post(ctx, "/api/v1/validators/unstake", map[string]uint64{"amount": amount}, &v)
	return v, err
}

// WithdrawStake pays out a pending unstake once the delay elapsed.
func (c *Client) WithdrawStake(ctx context.Context) (Validator, error) {
	var v Validator
	err := c.post(ctx, "/api/v1/validators/withdraw", nil, &v)
	return v, err
}
