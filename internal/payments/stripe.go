package payments

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/paymentintent"
)

// StripeProvider settles booking fees with Stripe PaymentIntents. The intent
// id stands in for the payment hash and the client secret for the payment
// request, so the booking workflow stays provider-agnostic.
type StripeProvider struct {
	secretKey string
}

func NewStripeProvider(secretKey string) *StripeProvider {
	return &StripeProvider{secretKey: strings.TrimSpace(secretKey)}
}

// Currencies Stripe charges in whole units rather than hundredths.
var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true,
	"kmf": true, "krw": true, "mga": true, "pyg": true, "rwf": true,
	"ugx": true, "vnd": true, "vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// minorUnits converts a decimal amount to Stripe's integer minor unit,
// rounding rather than truncating so 4.56 becomes 456 and not 455.
func minorUnits(amount float64, currency string) int64 {
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		return int64(math.Round(amount))
	}
	return int64(math.Round(amount * 100))
}

func (p *StripeProvider) CreateInvoice(ctx context.Context, amount float64, currency, memo string) (Invoice, error) {
	stripe.Key = p.secretKey

	minor := minorUnits(amount, currency)
	if minor <= 0 {
		return Invoice{}, fmt.Errorf("amount %v is below the provider minimum", amount)
	}

	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(minor),
		Currency:    stripe.String(strings.ToLower(currency)),
		Description: stripe.String(memo),
	}
	params.Context = ctx

	pi, err := paymentintent.New(params)
	if err != nil {
		return Invoice{}, err
	}
	return Invoice{PaymentHash: pi.ID, PaymentRequest: pi.ClientSecret}, nil
}

func (p *StripeProvider) IsPaid(ctx context.Context, hash string) (bool, error) {
	stripe.Key = p.secretKey

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(hash, params)
	if err != nil {
		if stripeErr, ok := err.(*stripe.Error); ok && stripeErr.HTTPStatusCode == 404 {
			return false, ErrPaymentNotFound
		}
		return false, err
	}
	return pi.Status == stripe.PaymentIntentStatusSucceeded, nil
}

func (p *StripeProvider) Currencies(context.Context) ([]string, error) {
	return []string{"usd", "eur", "gbp", "chf", "jpy"}, nil
}
