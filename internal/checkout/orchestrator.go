package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gamevault/api/internal/domain"
)

// State is a checkout lifecycle state.
type State string

const (
	StateIdle               State = "IDLE"
	StateRequestingIntent   State = "REQUESTING_INTENT"
	StateWidgetMounting     State = "WIDGET_MOUNTING"
	StateAwaitingSubmission State = "AWAITING_SUBMISSION"
	StateProcessing         State = "PROCESSING"
	StateSucceeded          State = "SUCCEEDED"
)

const (
	defaultContainerID = "paymentBrick_container"
	defaultWidgetKind  = "payment"
	defaultResultURL   = "/checkout/result"
)

// Deps wires the orchestrator to its collaborators. WidgetSDK may be nil, in which case every
// mount fails with ErrWidgetSDKUnavailable.
type Deps struct {
	Cart       Cart
	Backend    Backend
	WidgetSDK  WidgetSDK
	Containers Containers
	Navigator  Navigator
	Notifier   Notifier

	ContainerID string
	WidgetKind  string
	ResultURL   string
	PayerEmail  string
	Locale      language.Tag

	IdempotencyKey func() string
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

// Orchestrator drives one checkout lifetime: intent, widget mount, submission and outcome.
// Every Start and Close begins a new generation; late callbacks and responses from an older
// generation are discarded.
type Orchestrator struct {
	cart       Cart
	backend    Backend
	sdk        WidgetSDK
	containers Containers
	navigator  Navigator
	notifier   Notifier

	containerID string
	widgetKind  string
	resultURL   string
	payerEmail  string
	locale      language.Tag
	printer     *message.Printer
	newKey      func() string
	logger      func(context.Context, string, map[string]any)

	mu      sync.Mutex
	state   State
	gen     uint64
	closed  bool
	intent  domain.PaymentIntent
	items   []domain.CartItem
	handle  WidgetHandle
	lastErr error
}

// New validates deps and returns an idle orchestrator.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Cart == nil {
		return nil, errors.New("checkout: cart is required")
	}
	if deps.Backend == nil {
		return nil, errors.New("checkout: backend is required")
	}
	if deps.Containers == nil {
		return nil, errors.New("checkout: containers are required")
	}
	if deps.Navigator == nil {
		return nil, errors.New("checkout: navigator is required")
	}

	o := &Orchestrator{
		cart:        deps.Cart,
		backend:     deps.Backend,
		sdk:         deps.WidgetSDK,
		containers:  deps.Containers,
		navigator:   deps.Navigator,
		notifier:    deps.Notifier,
		containerID: strings.TrimSpace(deps.ContainerID),
		widgetKind:  strings.TrimSpace(deps.WidgetKind),
		resultURL:   strings.TrimSpace(deps.ResultURL),
		payerEmail:  strings.TrimSpace(deps.PayerEmail),
		newKey:      deps.IdempotencyKey,
		logger:      deps.Logger,
		state:       StateIdle,
	}
	if o.containerID == "" {
		o.containerID = defaultContainerID
	}
	if o.widgetKind == "" {
		o.widgetKind = defaultWidgetKind
	}
	if o.resultURL == "" {
		o.resultURL = defaultResultURL
	}
	if _, err := url.Parse(o.resultURL); err != nil {
		return nil, fmt.Errorf("checkout: invalid result url: %w", err)
	}
	if o.newKey == nil {
		o.newKey = func() string { return ulid.Make().String() }
	}
	if o.logger == nil {
		o.logger = func(context.Context, string, map[string]any) {}
	}
	if o.notifier == nil {
		o.notifier = discardNotifier{}
	}
	o.locale = deps.Locale
	if o.locale == language.Und {
		o.locale = language.Spanish
	}
	o.printer = newPrinter(o.locale)
	return o, nil
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Intent returns the intent bound to the current generation, if any.
func (o *Orchestrator) Intent() domain.PaymentIntent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.intent
}

// Err returns the most recent failure surfaced to the user.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Start requests an intent for the current cart and mounts the widget. An empty cart is a no-op.
// Failures return the orchestrator to IDLE and notify the user. Calling Start again after a
// failure, or while awaiting a submission, remounts with a fresh intent.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	switch {
	case o.closed:
		o.mu.Unlock()
		return ErrClosed
	case o.state == StateProcessing:
		o.mu.Unlock()
		return ErrSubmissionInFlight
	case o.state == StateRequestingIntent:
		o.mu.Unlock()
		return ErrCheckoutInProgress
	}
	items := o.cart.Items()
	if len(items) == 0 {
		o.mu.Unlock()
		return nil
	}
	o.gen++
	gen := o.gen
	o.state = StateRequestingIntent
	o.intent = domain.PaymentIntent{}
	o.items = items
	o.lastErr = nil
	o.mu.Unlock()

	o.logger(ctx, "checkout.intent_requested", map[string]any{"generation": gen, "lines": len(items)})
	intent, err := o.backend.CreatePayment(ctx, CreatePaymentRequest{Items: items, PayerEmail: o.payerEmail})

	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return ErrSuperseded
	}
	if err != nil {
		notice := o.failLocked(ctx, StateIdle, NoticeError, o.printer.Sprintf(msgIntentFailed), err)
		o.mu.Unlock()
		o.notifier.Notify(notice)
		return err
	}
	if intent.Empty() {
		notice := o.failLocked(ctx, StateIdle, NoticeError, o.printer.Sprintf(msgEmptyIntent), ErrEmptyIntent)
		o.mu.Unlock()
		o.notifier.Notify(notice)
		return ErrEmptyIntent
	}
	o.intent = intent
	o.state = StateWidgetMounting
	o.mu.Unlock()

	return o.mount(ctx, gen, intent)
}

func (o *Orchestrator) mount(ctx context.Context, gen uint64, intent domain.PaymentIntent) error {
	if o.sdk == nil {
		return o.abortMount(ctx, gen, ErrWidgetSDKUnavailable)
	}
	if !o.containers.Exists(o.containerID) {
		return o.abortMount(ctx, gen, ErrWidgetContainerMissing)
	}

	o.mu.Lock()
	previous := o.handle
	o.handle = nil
	o.mu.Unlock()
	o.unmount(ctx, previous)

	payer := intent.PayerEmail
	if payer == "" {
		payer = o.payerEmail
	}
	handle, err := o.sdk.Mount(ctx, o.containerID, WidgetConfig{
		Kind:       o.widgetKind,
		Amount:     intent.Amount,
		Currency:   intent.Currency,
		PayerEmail: payer,
		Locale:     o.locale.String(),
		Callbacks:  o.callbacks(gen),
	})
	if err != nil {
		return o.abortMount(ctx, gen, fmt.Errorf("checkout: mount widget: %w", err))
	}

	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		o.unmount(ctx, handle)
		return ErrSuperseded
	}
	o.handle = handle
	o.mu.Unlock()
	o.logger(ctx, "checkout.widget_mounted", map[string]any{"generation": gen, "externalReference": intent.ExternalReference})
	return nil
}

func (o *Orchestrator) abortMount(ctx context.Context, gen uint64, err error) error {
	msg := describeError(o.printer, err)
	if !errors.Is(err, ErrWidgetSDKUnavailable) && !errors.Is(err, ErrWidgetContainerMissing) {
		msg = o.printer.Sprintf(msgMountFailed)
	}
	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return ErrSuperseded
	}
	notice := o.failLocked(ctx, StateIdle, NoticeError, msg, err)
	o.mu.Unlock()
	o.notifier.Notify(notice)
	return err
}

func (o *Orchestrator) callbacks(gen uint64) WidgetCallbacks {
	return WidgetCallbacks{
		OnReady: func() { o.onReady(gen) },
		OnSubmit: func(ctx context.Context, data SubmitData) SubmitAck {
			return o.onSubmit(ctx, gen, data)
		},
		OnError: func(err error) { o.onWidgetError(gen, err) },
	}
}

func (o *Orchestrator) onReady(gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen || o.state != StateWidgetMounting {
		return
	}
	o.state = StateAwaitingSubmission
}

func (o *Orchestrator) onSubmit(ctx context.Context, gen uint64, data SubmitData) SubmitAck {
	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return SubmitAck{Status: AckError, Message: describeError(o.printer, ErrSuperseded)}
	}
	switch o.state {
	case StateAwaitingSubmission:
	case StateProcessing:
		o.mu.Unlock()
		o.logger(ctx, "checkout.submission_rejected_in_flight", map[string]any{"generation": gen})
		return SubmitAck{Status: AckError, Message: o.printer.Sprintf(msgInFlight)}
	default:
		o.mu.Unlock()
		return SubmitAck{Status: AckError, Message: o.printer.Sprintf(msgNotReady)}
	}
	o.state = StateProcessing
	intent := o.intent
	items := o.items
	o.mu.Unlock()

	if strings.TrimSpace(data.PayerEmail) == "" {
		data.PayerEmail = intent.PayerEmail
	}
	outcome, err := o.backend.ProcessPayment(ctx, ProcessPaymentRequest{
		SubmitData:        data,
		TransactionAmount: intent.Amount,
		Description:       intent.Description,
		ExternalReference: intent.ExternalReference,
		Items:             items,
		IdempotencyKey:    o.newKey(),
	})

	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		o.logger(ctx, "checkout.stale_response", map[string]any{
			"generation":        gen,
			"externalReference": intent.ExternalReference,
			"status":            string(outcome.Status),
		})
		return SubmitAck{Status: AckError, Message: describeError(o.printer, ErrSuperseded)}
	}
	if err != nil {
		msg := o.printer.Sprintf(msgProcessFailed)
		notice := o.failLocked(ctx, StateAwaitingSubmission, NoticeError, msg, err)
		o.mu.Unlock()
		o.notifier.Notify(notice)
		return SubmitAck{Status: AckError, Message: msg}
	}

	switch outcome.Status {
	case domain.PaymentStatusApproved:
		o.state = StateSucceeded
		o.lastErr = nil
		o.mu.Unlock()
		o.cart.Clear(ctx)
		o.logger(ctx, "checkout.approved", map[string]any{
			"generation":        gen,
			"paymentID":         outcome.ID,
			"externalReference": intent.ExternalReference,
		})
		o.navigator.Navigate(o.resultLocation(outcome))
		return SubmitAck{Status: AckSuccess, Message: o.printer.Sprintf(msgApproved)}
	case domain.PaymentStatusPending:
		o.state = StateAwaitingSubmission
		o.lastErr = nil
		o.mu.Unlock()
		msg := o.printer.Sprintf(msgPending)
		o.notifier.Notify(Notice{Level: NoticeInfo, Message: msg})
		return SubmitAck{Status: AckSuccess, Message: msg}
	default:
		rejected := &PaymentRejectedError{PaymentID: outcome.ID, Status: string(outcome.Status), StatusDetail: outcome.StatusDetail}
		msg := describeError(o.printer, rejected)
		notice := o.failLocked(ctx, StateAwaitingSubmission, NoticeError, msg, rejected)
		o.mu.Unlock()
		o.notifier.Notify(notice)
		return SubmitAck{Status: AckError, Message: msg}
	}
}

func (o *Orchestrator) onWidgetError(gen uint64, err error) {
	o.mu.Lock()
	current := gen == o.gen
	o.mu.Unlock()
	if !current {
		return
	}
	fields := map[string]any{"generation": gen}
	if err != nil {
		fields["error"] = err.Error()
	}
	o.logger(context.Background(), "checkout.widget_error", fields)
	o.notifier.Notify(Notice{Level: NoticeError, Message: o.printer.Sprintf(msgWidgetError)})
}

// Close ends the checkout lifetime. In-flight work is abandoned and the widget unmounted.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.gen++
	o.closed = true
	o.state = StateIdle
	handle := o.handle
	o.handle = nil
	o.mu.Unlock()
	o.unmount(context.Background(), handle)
}

// failLocked records err and moves to next. Callers hold o.mu and deliver the returned notice
// after unlocking.
func (o *Orchestrator) failLocked(ctx context.Context, next State, level NoticeLevel, msg string, err error) Notice {
	o.state = next
	o.lastErr = err
	o.logger(ctx, "checkout.failed", map[string]any{
		"generation": o.gen,
		"state":      string(next),
		"error":      err.Error(),
	})
	return Notice{Level: level, Message: msg}
}

func (o *Orchestrator) unmount(ctx context.Context, handle WidgetHandle) {
	if handle == nil {
		return
	}
	if err := handle.Unmount(); err != nil {
		o.logger(ctx, "checkout.unmount_failed", map[string]any{"error": err.Error()})
	}
}

// resultLocation appends payment_id and status to the result URL, keeping any existing query.
func (o *Orchestrator) resultLocation(outcome domain.PaymentOutcome) string {
	u, err := url.Parse(o.resultURL)
	if err != nil {
		u = &url.URL{Path: defaultResultURL}
	}
	q := u.Query()
	q.Set("payment_id", outcome.ID)
	q.Set("status", string(outcome.Status))
	u.RawQuery = q.Encode()
	return u.String()
}

type discardNotifier struct{}

func (discardNotifier) Notify(Notice) {}
