package backend

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Payments creates payment intents. It implements checkout.PaymentIntents.
type Payments struct{ c *Client }

// Payments returns the payment endpoints.
func (c *Client) Payments() *Payments { return &Payments{c: c} }

// CreateIntent creates a card payment intent for amount and returns its
// client secret.
func (p *Payments) CreateIntent(ctx context.Context, amount decimal.Decimal) (string, error) {
	req := struct {
		Amount decimal.Decimal `json:"amount"`
	}{Amount: amount}
	var resp struct {
		ClientSecret string `json:"clientSecret"`
	}
	if err := p.c.call(ctx, "payment.create_intent", http.MethodPost, "/api/payment/create-intent", req, &resp); err != nil {
		return "", err
	}
	if resp.ClientSecret == "" {
		return "", errors.New("backend returned no client secret")
	}
	return resp.ClientSecret, nil
}
