package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLNbitsClient_CreateInvoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/payments" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "invoice-key" {
			t.Fatalf("missing invoice key header")
		}
		var req lnbitsCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Out || req.Amount != 1000 || req.Unit != "sat" {
			t.Fatalf("unexpected request body: %+v", req)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"payment_hash":    "abc123",
			"payment_request": "lnbc10n1...",
		})
	}))
	defer srv.Close()

	client := NewLNbitsClient(srv.URL, "invoice-key")
	inv, err := client.CreateInvoice(context.Background(), 1000, "sat", "Consultations")
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	if inv.PaymentHash != "abc123" || inv.PaymentRequest != "lnbc10n1..." {
		t.Fatalf("unexpected invoice: %+v", inv)
	}
}

func TestLNbitsClient_IsPaid(t *testing.T) {
	paid := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/payments/abc123" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]bool{"paid": paid})
	}))
	defer srv.Close()

	client := NewLNbitsClient(srv.URL, "invoice-key")

	got, err := client.IsPaid(context.Background(), "abc123")
	if err != nil || got {
		t.Fatalf("expected unpaid, got paid=%v err=%v", got, err)
	}

	paid = true
	got, err = client.IsPaid(context.Background(), "abc123")
	if err != nil || !got {
		t.Fatalf("expected paid, got paid=%v err=%v", got, err)
	}
}

func TestLNbitsClient_IsPaid_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := NewLNbitsClient(srv.URL, "invoice-key")
	if _, err := client.IsPaid(context.Background(), "missing"); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}
