// Package payments abstracts the external payment collaborator. A provider
// issues a payment handle (request + hash) for a booking fee and later
// answers whether that handle has settled. The core never guesses: an
// unsettled or unknown payment leaves the appointment pending.
package payments

import (
	"context"
	"errors"
)

var ErrPaymentNotFound = errors.New("payment not found")

// Invoice is the payment handle returned to a booking client. PaymentHash
// identifies the payment to the provider; PaymentRequest is what the client
// pays (a bolt11 invoice, a Stripe client secret, ...).
type Invoice struct {
	PaymentHash    string
	PaymentRequest string
}

type Provider interface {
	// CreateInvoice issues a payment request for amount in the given
	// currency. memo is shown to the payer.
	CreateInvoice(ctx context.Context, amount float64, currency, memo string) (Invoice, error)

	// IsPaid reports whether the payment behind hash has settled.
	IsPaid(ctx context.Context, hash string) (bool, error)

	// Currencies lists the denominations the provider accepts.
	Currencies(ctx context.Context) ([]string, error)
}
