// Package payments delivers inbound transfers to the settlement engines.
// Payments arrive through a queue (memory, Redis or RabbitMQ) or synchronously
// from the HTTP API, are deduplicated by id and routed by memo. A payment the
// engines reject is bounced back to its sender from custody.
package payments

import (
	"encoding/json"
	"strings"
	"time"

	xerrors "AgentEscrow-Chain/internal/errors"
	"AgentEscrow-Chain/internal/ledger"

	"github.com/google/uuid"
)

// depositNamespace derives stable payment ids from on-chain references.
var depositNamespace = uuid.MustParse("6f1d3c8e-2b7a-4e59-9a0c-5d4e8f7b1a23")

// Payment is a transfer that already landed in custody.
type Payment struct {
	ID         uuid.UUID `json:"id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Amount     uint64    `json:"amount"`
	Symbol     string    `json:"symbol"`
	Memo       string    `json:"memo"`
	ReceivedAt time.Time `json:"received_at"`
}

// NewPayment assigns a random id to an inbound transfer.
func NewPayment(in ledger.Transfer, receivedAt time.Time) Payment {
	return Payment{
		ID:         uuid.New(),
		From:       in.From,
		To:         in.To,
		Amount:     in.Amount,
		Symbol:     in.Symbol,
		Memo:       in.Memo,
		ReceivedAt: receivedAt.UTC(),
	}
}

// FromDeposit converts an observed ledger deposit. The id is derived from the
// deposit reference so a redelivered deposit maps to the same payment.
func FromDeposit(d ledger.Deposit) Payment {
	return Payment{
		ID:         uuid.NewSHA1(depositNamespace, []byte(strings.ToLower(d.Reference))),
		From:       d.From,
		To:         d.To,
		Amount:     d.Amount,
		Symbol:     d.Symbol,
		Memo:       d.Memo,
		ReceivedAt: d.ObservedAt.UTC(),
	}
}

// Transfer returns the ledger view handed to memo handlers.
func (p Payment) Transfer() ledger.Transfer {
	return ledger.Transfer{From: p.From, To: p.To, Amount: p.Amount, Symbol: p.Symbol, Memo: p.Memo}
}

func encode(p Payment) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "encode payment")
	}
	return body, nil
}

func decode(body []byte) (Payment, error) {
	var p Payment
	if err := json.Unmarshal(body, &p); err != nil {
		return Payment{}, xerrors.Wrap(xerrors.CodeQueueFailure, err, "decode payment",
			xerrors.WithRetryable(false))
	}
	if p.ID == uuid.Nil {
		return Payment{}, xerrors.New(xerrors.CodeQueueFailure, "payment without id",
			xerrors.WithRetryable(false))
	}
	return p, nil
}
