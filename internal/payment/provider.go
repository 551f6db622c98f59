// Package payment implements the checkout flow: provider selection, payment
// creation, the checkout affordance handed to the front end, status polling
// and session recovery.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Provider identifies a payment gateway.
type Provider string

const (
	ProviderYooKassa      Provider = "yookassa"
	ProviderAlfabank      Provider = "alfabank"
	ProviderRobokassa     Provider = "robokassa"
	ProviderCloudPayments Provider = "cloudpayments"
)

// ParseProvider validates a provider name coming from a request.
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderYooKassa, ProviderAlfabank, ProviderRobokassa, ProviderCloudPayments:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
	}
}

var (
	// ErrUnknownProvider is returned for provider names outside the known set.
	ErrUnknownProvider = errors.New("payment: unknown provider")
	// ErrProviderUnsupported marks providers that are configured but not yet
	// wired to a live gateway. No network call is made for these.
	ErrProviderUnsupported = errors.New("payment: provider not yet supported")
	// ErrNoPaymentMethods is the gateway telling us the shop has no payment
	// methods enabled. Surfaced to the user with a dedicated message.
	ErrNoPaymentMethods = errors.New("payment: no payment methods available for this shop")
	// ErrSessionNotFound is returned when recovery finds no persisted session.
	ErrSessionNotFound = errors.New("payment: no active session")
	// ErrPollInFlight means another poll currently owns this payment.
	ErrPollInFlight = errors.New("payment: poll already in flight")
)

// CreateRequest is the input to gateway payment creation. Method is the
// instrument the user pre-selected; it narrows the hosted widget to that
// instrument and is ignored by gateways without one.
type CreateRequest struct {
	Amount         string
	Email          string
	Method         string
	Description    string
	IdempotencyKey string
}

// CreateResult is the gateway's answer: the payment identifier plus the
// affordance the front end renders to collect the money.
type CreateResult struct {
	PaymentID  string
	Affordance Affordance
}

// Affordance is a tagged union describing what the front end should render.
// Exactly one of the variant pointers is set, matching Kind.
type Affordance struct {
	Kind   string            `json:"kind"`
	Widget *WidgetAffordance `json:"widget,omitempty"`
	Script *ScriptAffordance `json:"script,omitempty"`
}

const (
	AffordanceWidget = "widget"
	AffordanceScript = "script"
)

// WidgetAffordance renders the hosted payment widget inside the page. The
// widget reports success|fail|modal_close|complete back through the events
// endpoint.
type WidgetAffordance struct {
	ConfirmationToken string `json:"confirmationToken"`
	PaymentMethod     string `json:"paymentMethod,omitempty"`
}

// ScriptAffordance renders a gateway-provided pay button via an injected
// script tag. All values become data attributes on that tag.
type ScriptAffordance struct {
	Src         string `json:"src"`
	Token       string `json:"token"`
	Environment string `json:"environment"`
	Stages      int    `json:"stages"`
	Language    string `json:"language"`
	ReturnURL   string `json:"returnUrl"`
	FailURL     string `json:"failUrl"`
	Amount      string `json:"amount"`
	AmountUnit  string `json:"amountUnit"`
}

// StatusResult is one gateway status probe.
type StatusResult struct {
	Status string `json:"status"`
	Paid   bool   `json:"paid"`
	Amount string `json:"amount,omitempty"`
}

// Terminal reports whether this status ends polling, and with which phase.
func (s StatusResult) Terminal() (Phase, bool) {
	if s.Paid || s.Status == "succeeded" {
		return PhaseOK, true
	}
	if s.Status == "canceled" {
		return PhaseFail, true
	}
	return PhaseChecking, false
}

// Gateway is the per-provider strategy. Implementations must be safe for
// concurrent use.
type Gateway interface {
	CreatePayment(ctx context.Context, req CreateRequest) (CreateResult, error)
	Status(ctx context.Context, paymentID string) (StatusResult, error)
}

// YooKassaConfig holds the shop credentials for the hosted widget gateway.
type YooKassaConfig struct {
	ShopID        string
	SecretKey     string
	PaymentMethod string
	WebhookSecret string
}

// AlfabankConfig drives the script pay-button affordance.
type AlfabankConfig struct {
	Token         string
	Environment   string // "test" or "prod"
	Stages        int
	Language      string
	ReturnURL     string
	FailURL       string
	AmountInMinor bool
}

// ConfigSource resolves the currently active provider and per-provider
// credentials. Implemented by the settings service so admin changes take
// effect without restarts.
type ConfigSource interface {
	ActiveProvider(ctx context.Context) (Provider, error)
	YooKassa(ctx context.Context) (YooKassaConfig, error)
	Alfabank(ctx context.Context) (AlfabankConfig, error)
}
