package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// CheckoutRequest asks the payment provider for a hosted checkout session.
type CheckoutRequest struct {
	PayerReference string
	Amount         int64
	Currency       string
	CallbackURL    string
	InvoiceNumber  string
}

// CheckoutSession is the provider's answer: where to send the payer and the
// payment id its callback will carry.
type CheckoutSession struct {
	PaymentID   string
	CheckoutURL string
	Token       string
}

// PaymentGateway is the external mobile-payment provider.
type PaymentGateway interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
}

// GatewayConfig configures the hosted checkout client.
type GatewayConfig struct {
	BaseURL  string
	AppKey   string
	Username string
	Password string
	Timeout  time.Duration
}

// HTTPGateway talks to a tokenized hosted-checkout API.
type HTTPGateway struct {
	config GatewayConfig
	client *http.Client
}

func NewHTTPGateway(cfg GatewayConfig) *HTTPGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPGateway{config: cfg, client: &http.Client{Timeout: timeout}}
}

func (g *HTTPGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	body, err := json.Marshal(map[string]string{
		"mode":                  "0011",
		"payerReference":        req.PayerReference,
		"callbackURL":           req.CallbackURL,
		"amount":                strconv.FormatInt(req.Amount, 10),
		"currency":              req.Currency,
		"intent":                "sale",
		"merchantInvoiceNumber": req.InvoiceNumber,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.BaseURL+"/checkout/create", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-App-Key", g.config.AppKey)
	httpReq.Header.Set("username", g.config.Username)
	httpReq.Header.Set("password", g.config.Password)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		log.Error().Err(err).Str("invoice", req.InvoiceNumber).Msg("payment gateway request failed")
		return nil, fmt.Errorf("payment gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Error().Int("status", resp.StatusCode).Str("invoice", req.InvoiceNumber).Msg("payment gateway returned non-OK status")
		return nil, fmt.Errorf("payment gateway returned status %d", resp.StatusCode)
	}

	var result struct {
		PaymentID string `json:"paymentID"`
		URL       string `json:"bkashURL"`
		Token     string `json:"paymentCreateTime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode gateway response: %w", err)
	}
	if result.PaymentID == "" || result.URL == "" {
		return nil, fmt.Errorf("payment gateway did not return a checkout URL")
	}

	return &CheckoutSession{PaymentID: result.PaymentID, CheckoutURL: result.URL, Token: result.Token}, nil
}
