package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerConfig tunes the circuit breaker placed in front of a Processor.
type BreakerConfig struct {
	Name string
	// ConsecutiveFailures trips the breaker once reached.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before letting a trial call through.
	OpenTimeout time.Duration
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// BreakerProcessor short-circuits calls to a failing processor. Only transport failures count;
// declines are normal results and never trip it.
type BreakerProcessor struct {
	next    Processor
	charges *gobreaker.CircuitBreaker[ChargeResult]
}

// NewBreakerProcessor wraps next.
func NewBreakerProcessor(next Processor, cfg BreakerConfig) (*BreakerProcessor, error) {
	if next == nil {
		return nil, errors.New("payments: breaker requires a processor")
	}
	failures := cfg.ConsecutiveFailures
	if failures == 0 {
		failures = 5
	}
	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	name := cfg.Name
	if name == "" {
		name = "psp"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrPaymentNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger(context.Background(), "payments.breaker.state_changed", map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	}
	return &BreakerProcessor{
		next:    next,
		charges: gobreaker.NewCircuitBreaker[ChargeResult](settings),
	}, nil
}

func (b *BreakerProcessor) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	result, err := b.charges.Execute(func() (ChargeResult, error) {
		return b.next.Charge(ctx, req)
	})
	return result, translateBreakerError(err)
}

func (b *BreakerProcessor) Lookup(ctx context.Context, paymentID string) (ChargeResult, error) {
	result, err := b.charges.Execute(func() (ChargeResult, error) {
		return b.next.Lookup(ctx, paymentID)
	})
	return result, translateBreakerError(err)
}

// State exposes the breaker state for readiness reporting.
func (b *BreakerProcessor) State() string {
	return b.charges.State().String()
}

func translateBreakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrProcessorUnavailable, err)
	}
	return err
}
