package payment

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Script endpoints for the pay button. The test endpoint renders a sandbox
// button that never charges.
const (
	alfabankScriptProd = "https://pay.alfabank.ru/assets/alfa-payment.js"
	alfabankScriptTest = "https://testpay.alfabank.ru/assets/alfa-payment.js"
)

// AlfabankGateway renders the gateway's script pay button. Payment creation
// is local: the button script carries the whole checkout, so no API call is
// made here.
type AlfabankGateway struct {
	cfg ConfigSource
}

func NewAlfabankGateway(cfg ConfigSource) *AlfabankGateway {
	return &AlfabankGateway{cfg: cfg}
}

func (g *AlfabankGateway) CreatePayment(ctx context.Context, req CreateRequest) (CreateResult, error) {
	conf, err := g.cfg.Alfabank(ctx)
	if err != nil {
		return CreateResult{}, fmt.Errorf("alfabank config: %w", err)
	}
	src := alfabankScriptProd
	if strings.EqualFold(conf.Environment, "test") {
		src = alfabankScriptTest
	}
	amount, unit, err := alfabankAmount(req.Amount, conf.AmountInMinor)
	if err != nil {
		return CreateResult{}, err
	}
	language := conf.Language
	if language == "" {
		language = "ru"
	}
	stages := conf.Stages
	if stages <= 0 {
		stages = 1
	}
	return CreateResult{
		PaymentID: "alfa-" + uuid.NewString(),
		Affordance: Affordance{
			Kind: AffordanceScript,
			Script: &ScriptAffordance{
				Src:         src,
				Token:       conf.Token,
				Environment: strings.ToLower(conf.Environment),
				Stages:      stages,
				Language:    language,
				ReturnURL:   conf.ReturnURL,
				FailURL:     conf.FailURL,
				Amount:      amount,
				AmountUnit:  unit,
			},
		},
	}, nil
}

// Status is not available for the pay button: the script redirects to the
// configured return or fail URL instead of exposing a polling API.
func (g *AlfabankGateway) Status(_ context.Context, paymentID string) (StatusResult, error) {
	return StatusResult{}, fmt.Errorf("alfabank: no status API for payment %s", paymentID)
}

// HasStatusAPI tells the orchestrator not to schedule reconcile polls for
// pay-button payments.
func (g *AlfabankGateway) HasStatusAPI() bool { return false }

// alfabankAmount converts the decimal ruble amount to the representation the
// button expects: kopecks when the minor-units flag is set.
func alfabankAmount(amount string, inMinor bool) (string, string, error) {
	if !inMinor {
		return amount, "rub", nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(amount), 64)
	if err != nil {
		return "", "", fmt.Errorf("alfabank: bad amount %q: %w", amount, err)
	}
	kopecks := int64(math.Round(v * 100))
	return strconv.FormatInt(kopecks, 10), "kopecks", nil
}
