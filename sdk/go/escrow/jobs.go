package escrow

import (
	"context"
	"fmt"
	"net/url"

	core "AgentEscrow-Chain/internal/escrow"
	"AgentEscrow-Chain/internal/payments"
)

// Re-exported views returned by the API.
type (
	Job        = core.Job
	Milestone  = core.Milestone
	Dispute    = core.Dispute
	Arbitrator = core.Arbitrator
	Config     = core.Config
	Receipt    = payments.Receipt
)

// JobRequest describes a new job. The client is the calling account.
type JobRequest = core.CreateJobRequest

// MilestoneRequest describes a milestone added to a job.
type MilestoneRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Amount      uint64 `json:"amount"`
	Order       uint32 `json:"order"`
}

func jobPath(id uint64, action string) string {
	if action == "" {
		return fmt.Sprintf("/api/v1/jobs/%d", id)
	}
	return fmt.Sprintf("/api/v1/jobs/%d/%s", id, action)
}

// CreateJob opens a job for the calling client.
func (c *Client) CreateJob(ctx context.Context, req JobRequest) (Job, error) {
	var job Job
	err := c.post(ctx, "/api/v1/jobs", req, &job)
	return job, err
}

// GetJob fetches a job.
func (c *Client) GetJob(ctx context.Context, id uint64) (Job, error) {
	var job Job
	err := c.get(ctx, jobPath(id, ""), nil, &job)
	return job, err
}

// ListJobsByClient lists the jobs opened by client.
func (c *Client) ListJobsByClient(ctx context.Context, client string) ([]Job, error) {
	var jobs []Job
	err := c.get(ctx, "/api/v1/jobs", url.Values{"client": {client}}, &jobs)
	return jobs, err
}

// ListJobsByAgent lists the jobs assigned to agent.
func (c *Client) ListJobsByAgent(ctx context.Context, agent string) ([]Job, error) {
	var jobs []Job
	err := c.get(ctx, "/api/v1/jobs", url.Values{"agent": {agent}}, &jobs)
	return jobs, err
}

func (c *Client) jobAction(ctx context.Context, id uint64, action string, payload any) (Job, error) {
	var job Job
	err := c.post(ctx, jobPath(id, action), payload, &job)
	return job, err
}

// AcceptJob is called by the agent of a funded job.
func (c *Client) AcceptJob(ctx context.Context, id uint64) (Job, error) {
	return c.jobAction(ctx, id, "accept", nil)
}

// StartJob moves an accepted job into progress.
func (c *Client) StartJob(ctx context.Context, id uint64) (Job, error) {
	return c.jobAction(ctx, id, "start", nil)
}

// DeliverJob submits the agent's delivery evidence.
func (c *Client) DeliverJob(ctx context.Context, id uint64, evidence string) (Job, error) {
	return c.jobAction(ctx, id, "deliver", map[string]string{"evidence": evidence})
}

// ApproveDelivery releases the remaining escrow to the agent.
func (c *Client) ApproveDelivery(ctx context.Context, id uint64) (Job, error) {
	return c.jobAction(ctx, id, "approve", nil)
}

// CancelJob refunds a job that was not accepted yet.
func (c *Client) CancelJob(ctx context.Context, id uint64) (Job, error) {
	return c.jobAction(ctx, id, "cancel", nil)
}

// ClaimTimeout refunds a job whose deadline passed.
func (c *Client) ClaimTimeout(ctx context.Context, id uint64) (Job, error) {
	return c.jobAction(ctx, id, "claim-timeout", nil)
}

// ClaimAcceptanceTimeout refunds a funded job the agent never accepted.
func (c *Client) ClaimAcceptanceTimeout(ctx context.Context, id uint64) (Job, error) {
	return c.jobAction(ctx, id, "claim-acceptance-timeout", nil)
}

// AddMilestone appends a milestone to a job that is not funded yet.
func (c *Client) AddMilestone(ctx context.Context, jobID uint64, req MilestoneRequest) (Milestone, error) {
	var m Milestone
	err := c.post(ctx, jobPath(jobID, "milestones"), req, &m)
	return m, err
}

// ListMilestones lists a job's milestones in order.
func (c *Client) ListMilestones(ctx context.Context, jobID uint64) ([]Milestone, error) {
	var ms []Milestone
	err := c.get(ctx, jobPath(jobID, "milestones"), nil, &ms)
	return ms, err
}

// SubmitMilestone is called by the agent when a milestone is done.
func (c *Client) SubmitMilestone(ctx context.Context, id uint64, evidence string) (Milestone, error) {
	var m Milestone
	err := c.post(ctx, fmt.Sprintf("/api/v1/milestones/%d/submit", id), map[string]string{"evidence": evidence}, &m)
	return m, err
}

// ApproveMilestone releases a submitted milestone.
func (c *Client) ApproveMilestone(ctx context.Context, id uint64) (Milestone, error) {
	var m Milestone
	err := c.post(ctx, fmt.Sprintf("/api/v1/milestones/%d/approve", id), nil, &m)
	return m, err
}

// RaiseDispute freezes a job for arbitration.
func (c *Client) RaiseDispute(ctx context.Context, jobID uint64, reason, evidence string) (Dispute, error) {
	var d Dispute
	err := c.post(ctx, jobPath(jobID, "disputes"), map[string]string{"reason": reason, "evidence": evidence}, &d)
	return d, err
}

// ArbitrateDispute splits the remaining escrow, clientPercent going to the client.
func (c *Client) ArbitrateDispute(ctx context.Context, disputeID, clientPercent uint64, notes string) (Dispute, error) {
	var d Dispute
	err := c.post(ctx, fmt.Sprintf("/api/v1/disputes/%d/arbitrate", disputeID),
		map[string]any{"client_percent": clientPercent, "notes": notes}, &d)
	return d, err
}

// RegisterArbitrator registers the caller with a fee in basis points.
func (c *Client) RegisterArbitrator(ctx context.Context, feeBps uint64) (Arbitrator, error) {
	var a Arbitrator
	err := c.post(ctx, "/api/v1/arbitrators", map[string]uint64{"fee_bps": feeBps}, &a)
	return a, err
}

// EscrowConfig returns the escrow configuration.
func (c *Client) EscrowConfig(ctx context.Context) (Config, error) {
	var cfg Config
	err := c.get(ctx, "/api/v1/escrow/config", nil, &cfg)
	return cfg, err
}

// Pay sends amount from the caller into custody with memo. Only servers on
// the in-memory ledger expose this endpoint.
func (c *Client) Pay(ctx context.Context, amount uint64, symbol, memo string) (Receipt, error) {
	var r Receipt
	err := c.post(ctx, "/api/v1/payments", map[string]any{"amount": amount, "symbol": symbol, "memo": memo}, &r)
	return r, err
}
