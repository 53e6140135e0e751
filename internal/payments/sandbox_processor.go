package payments

import (
	"context"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Sandbox tokens select a deterministic outcome. Anything else is rejected.
const (
	SandboxTokenApproved = "tok_approved"
	SandboxTokenPending  = "tok_pending"
)

// SandboxProcessor is an in-process Processor for local runs. It never moves money.
type SandboxProcessor struct {
	mu      sync.Mutex
	charges map[string]ChargeResult
	newID   func() string
}

func NewSandboxProcessor() *SandboxProcessor {
	return &SandboxProcessor{
		charges: make(map[string]ChargeResult),
		newID:   func() string { return "sbx_" + ulid.Make().String() },
	}
}

func (p *SandboxProcessor) Charge(_ context.Context, req ChargeRequest) (ChargeResult, error) {
	result := ChargeResult{
		PaymentID: p.newID(),
		Amount:    req.Amount,
		Currency:  strings.ToUpper(req.Currency),
	}
	switch strings.TrimSpace(req.Token) {
	case SandboxTokenApproved:
		result.Status, result.StatusDetail = StatusApproved, "accredited"
	case SandboxTokenPending:
		result.Status, result.StatusDetail = StatusPending, "pending_contingency"
	default:
		result.Status, result.StatusDetail = StatusRejected, "cc_rejected_other_reason"
	}

	p.mu.Lock()
	p.charges[result.PaymentID] = result
	p.mu.Unlock()
	return result, nil
}

// Lookup returns the recorded outcome. Pending sandbox charges stay pending.
func (p *SandboxProcessor) Lookup(_ context.Context, paymentID string) (ChargeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	result, ok := p.charges[paymentID]
	if !ok {
		return ChargeResult{}, ErrPaymentNotFound
	}
	return result, nil
}
