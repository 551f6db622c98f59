package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/amoria-lab/backend-amoria/internal/resilience"
)

const yooKassaDefaultBaseURL = "https://api.yookassa.ru"

// YooKassaGateway creates hosted-widget payments against the YooKassa v3 API.
// Credentials are resolved per call so admin settings changes apply without a
// restart.
type YooKassaGateway struct {
	http    resilience.HTTPClient
	baseURL string
	cfg     ConfigSource
}

func NewYooKassaGateway(client resilience.HTTPClient, baseURL string, cfg ConfigSource) *YooKassaGateway {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = yooKassaDefaultBaseURL
	}
	return &YooKassaGateway{http: client, baseURL: strings.TrimRight(baseURL, "/"), cfg: cfg}
}

type yooKassaAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type yooKassaCreateBody struct {
	Amount       yooKassaAmount    `json:"amount"`
	Capture      bool              `json:"capture"`
	Confirmation map[string]string `json:"confirmation"`
	Description  string            `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type yooKassaPayment struct {
	ID           string         `json:"id"`
	Status       string         `json:"status"`
	Paid         bool           `json:"paid"`
	Amount       yooKassaAmount `json:"amount"`
	Confirmation struct {
		ConfirmationToken string `json:"confirmation_token"`
	} `json:"confirmation"`
}

type yooKassaError struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (g *YooKassaGateway) CreatePayment(ctx context.Context, req CreateRequest) (CreateResult, error) {
	conf, err := g.cfg.YooKassa(ctx)
	if err != nil {
		return CreateResult{}, fmt.Errorf("yookassa config: %w", err)
	}
	body := yooKassaCreateBody{
		Amount:       yooKassaAmount{Value: req.Amount, Currency: "RUB"},
		Capture:      true,
		Confirmation: map[string]string{"type": "embedded"},
		Description:  req.Description,
		Metadata:     map[string]string{"email": req.Email},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return CreateResult{}, err
	}
	idemKey := req.IdempotencyKey
	if idemKey == "" {
		idemKey = uuid.NewString()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v3/payments", bytes.NewReader(data))
	if err != nil {
		return CreateResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotence-Key", idemKey)
	httpReq.SetBasicAuth(conf.ShopID, conf.SecretKey)

	resp, err := g.http.Do(ctx, httpReq)
	if err != nil {
		return CreateResult{}, fmt.Errorf("yookassa create: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return CreateResult{}, decodeYooKassaError(resp)
	}
	var payment yooKassaPayment
	if err := json.NewDecoder(resp.Body).Decode(&payment); err != nil {
		return CreateResult{}, fmt.Errorf("yookassa create decode: %w", err)
	}
	if payment.Confirmation.ConfirmationToken == "" {
		return CreateResult{}, fmt.Errorf("yookassa create: empty confirmation token for payment %s", payment.ID)
	}
	// The instrument the user picked narrows the widget; without one the
	// shop-wide default from the admin settings applies.
	method := req.Method
	if method == "" {
		method = conf.PaymentMethod
	}
	return CreateResult{
		PaymentID: payment.ID,
		Affordance: Affordance{
			Kind: AffordanceWidget,
			Widget: &WidgetAffordance{
				ConfirmationToken: payment.Confirmation.ConfirmationToken,
				PaymentMethod:     method,
			},
		},
	}, nil
}

func (g *YooKassaGateway) Status(ctx context.Context, paymentID string) (StatusResult, error) {
	conf, err := g.cfg.YooKassa(ctx)
	if err != nil {
		return StatusResult{}, fmt.Errorf("yookassa config: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/v3/payments/"+paymentID, nil)
	if err != nil {
		return StatusResult{}, err
	}
	httpReq.SetBasicAuth(conf.ShopID, conf.SecretKey)

	resp, err := g.http.Do(ctx, httpReq)
	if err != nil {
		return StatusResult{}, fmt.Errorf("yookassa status: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return StatusResult{}, decodeYooKassaError(resp)
	}
	var payment yooKassaPayment
	if err := json.NewDecoder(resp.Body).Decode(&payment); err != nil {
		return StatusResult{}, fmt.Errorf("yookassa status decode: %w", err)
	}
	return StatusResult{
		Status: payment.Status,
		Paid:   payment.Paid,
		Amount: payment.Amount.Value,
	}, nil
}

func decodeYooKassaError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	var apiErr yooKassaError
	if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Code != "" {
		if apiErr.Code == "no_payment_methods_to_display" {
			return ErrNoPaymentMethods
		}
		return fmt.Errorf("yookassa api error %s: %s", apiErr.Code, apiErr.Description)
	}
	return fmt.Errorf("yookassa api: unexpected status %d", resp.StatusCode)
}
