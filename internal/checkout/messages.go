package checkout

import (
	"errors"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

const (
	msgIntentFailed     = "intent_failed"
	msgEmptyIntent      = "empty_intent"
	msgWidgetSDKMissing = "widget_sdk_missing"
	msgContainerMissing = "container_missing"
	msgMountFailed      = "mount_failed"
	msgInFlight         = "in_flight"
	msgNotReady         = "not_ready"
	msgPending          = "pending"
	msgRejected         = "rejected"
	msgRejectedDetail   = "rejected_detail"
	msgProcessFailed    = "process_failed"
	msgWidgetError      = "widget_error"
	msgApproved         = "approved"
)

var supportedLocales = []language.Tag{language.Spanish, language.English}

var localeMatcher = language.NewMatcher(supportedLocales)

var messages = func() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.Spanish))
	set := func(tag language.Tag, key, msg string) {
		_ = b.SetString(tag, key, msg)
	}
	set(language.Spanish, msgIntentFailed, "No pudimos iniciar el pago. Intentá de nuevo.")
	set(language.Spanish, msgEmptyIntent, "No recibimos los datos del pago. Intentá de nuevo.")
	set(language.Spanish, msgWidgetSDKMissing, "El formulario de pago no está disponible.")
	set(language.Spanish, msgContainerMissing, "No encontramos dónde mostrar el formulario de pago.")
	set(language.Spanish, msgMountFailed, "No pudimos mostrar el formulario de pago.")
	set(language.Spanish, msgInFlight, "Ya estamos procesando tu pago.")
	set(language.Spanish, msgNotReady, "El formulario de pago todavía no está listo.")
	set(language.Spanish, msgPending, "Tu pago quedó pendiente de confirmación.")
	set(language.Spanish, msgRejected, "El pago fue rechazado.")
	set(language.Spanish, msgRejectedDetail, "El pago fue rechazado: %s")
	set(language.Spanish, msgProcessFailed, "No pudimos procesar el pago. Tu carrito sigue intacto.")
	set(language.Spanish, msgWidgetError, "Hubo un problema con el formulario de pago.")
	set(language.Spanish, msgApproved, "¡Pago aprobado!")

	set(language.English, msgIntentFailed, "We could not start the payment. Please try again.")
	set(language.English, msgEmptyIntent, "Payment details were missing. Please try again.")
	set(language.English, msgWidgetSDKMissing, "The payment form is unavailable.")
	set(language.English, msgContainerMissing, "Could not find where to show the payment form.")
	set(language.English, msgMountFailed, "We could not show the payment form.")
	set(language.English, msgInFlight, "Your payment is already being processed.")
	set(language.English, msgNotReady, "The payment form is not ready yet.")
	set(language.English, msgPending, "Your payment is pending confirmation.")
	set(language.English, msgRejected, "The payment was rejected.")
	set(language.English, msgRejectedDetail, "The payment was rejected: %s")
	set(language.English, msgProcessFailed, "We could not process the payment. Your cart is unchanged.")
	set(language.English, msgWidgetError, "The payment form reported a problem.")
	set(language.English, msgApproved, "Payment approved!")
	return b
}()

// MatchLocale picks the closest supported locale for an Accept-Language style preference.
func MatchLocale(preferences ...string) language.Tag {
	tags := make([]language.Tag, 0, len(preferences))
	for _, pref := range preferences {
		parsed, _, err := language.ParseAcceptLanguage(pref)
		if err != nil {
			continue
		}
		tags = append(tags, parsed...)
	}
	if len(tags) == 0 {
		return language.Spanish
	}
	_, idx, _ := localeMatcher.Match(tags...)
	return supportedLocales[idx]
}

func newPrinter(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag, message.Catalog(messages))
}

// describeError turns an orchestrator failure into a user-facing message.
func describeError(p *message.Printer, err error) string {
	var rejected *PaymentRejectedError
	switch {
	case errors.As(err, &rejected):
		if rejected.StatusDetail != "" {
			return p.Sprintf(msgRejectedDetail, rejected.StatusDetail)
		}
		return p.Sprintf(msgRejected)
	case errors.Is(err, ErrWidgetSDKUnavailable):
		return p.Sprintf(msgWidgetSDKMissing)
	case errors.Is(err, ErrWidgetContainerMissing):
		return p.Sprintf(msgContainerMissing)
	case errors.Is(err, ErrEmptyIntent):
		return p.Sprintf(msgEmptyIntent)
	case errors.Is(err, ErrSubmissionInFlight):
		return p.Sprintf(msgInFlight)
	case errors.Is(err, ErrNotReady):
		return p.Sprintf(msgNotReady)
	default:
		return p.Sprintf(msgProcessFailed)
	}
}
