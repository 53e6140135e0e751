package checkout

import (
	"errors"
	"fmt"
)

var (
	// ErrWidgetSDKUnavailable is returned when no widget SDK is present.
	ErrWidgetSDKUnavailable = errors.New("checkout: payment widget sdk unavailable")
	// ErrWidgetContainerMissing is returned when the widget container cannot be located.
	ErrWidgetContainerMissing = errors.New("checkout: payment widget container missing")
	// ErrEmptyIntent is returned when create-payment answers without an amount or reference.
	ErrEmptyIntent = errors.New("checkout: payment intent is empty")
	// ErrSubmissionInFlight is returned for a submission while another one is processing.
	ErrSubmissionInFlight = errors.New("checkout: a payment is already being processed")
	// ErrCheckoutInProgress is returned by Start while an intent is being requested.
	ErrCheckoutInProgress = errors.New("checkout: already starting")
	// ErrNotReady is returned for a submission before the widget is ready.
	ErrNotReady = errors.New("checkout: not awaiting a submission")
	// ErrSuperseded marks work from a checkout generation that was restarted or closed.
	ErrSuperseded = errors.New("checkout: superseded")
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("checkout: closed")
)

// PaymentRejectedError reports a process-payment outcome other than approved or pending.
type PaymentRejectedError struct {
	PaymentID    string
	Status       string
	StatusDetail string
}

func (e *PaymentRejectedError) Error() string {
	if e.StatusDetail == "" {
		return fmt.Sprintf("checkout: payment %s", e.Status)
	}
	return fmt.Sprintf("checkout: payment %s (%s)", e.Status, e.StatusDetail)
}

// BackendError is a non-2xx answer from the payment functions.
type BackendError struct {
	Operation  string
	StatusCode int
	Code       string
	Message    string
}

func (e *BackendError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("checkout: %s failed with status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("checkout: %s failed with status %d: %s", e.Operation, e.StatusCode, e.Message)
}

// Temporary reports whether retrying the call may succeed.
func (e *BackendError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}
