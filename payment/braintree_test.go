package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cart-svc/circuitbreaker"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func setupBraintreeTest(t *testing.T, handler http.HandlerFunc) *BraintreeClient {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &BraintreeClient{
		endpoint:       srv.URL,
		publicKey:      "public",
		privateKey:     "private",
		httpClient:     srv.Client(),
		circuitBreaker: circuitbreaker.NewCircuitBreaker("braintree", 5, time.Minute),
		logger:         zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel)),
	}
}

func TestBraintreeClient_Sale_Success(t *testing.T) {
	var got graphQLRequest
	client := setupBraintreeTest(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "public" || pass != "private" {
			t.Errorf("Expected basic auth with the configured keys")
		}
		if r.Header.Get("Braintree-Version") != braintreeAPIVersion {
			t.Errorf("Expected Braintree-Version header, got %q", r.Header.Get("Braintree-Version"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Failed to decode request: %v", err)
			return
		}
		w.Write([]byte(`{"data":{"chargePaymentMethod":{"transaction":{"id":"dHJhbnNhY3Rpb25fMTIz","status":"SUBMITTED_FOR_SETTLEMENT"}}}}`))
	})

	result, err := client.Sale(context.Background(), NonceSale{
		Amount:              decimal.RequireFromString("19.99"),
		PaymentMethodNonce:  "fake-valid-nonce",
		SubmitForSettlement: true,
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !result.Success || result.Transaction == nil {
		t.Fatalf("Expected a successful transaction, got %+v", result)
	}
	if result.Transaction.ID != "dHJhbnNhY3Rpb25fMTIz" {
		t.Errorf("Unexpected transaction id %s", result.Transaction.ID)
	}

	input := got.Variables["input"].(map[string]any)
	if input["paymentMethodId"] != "fake-valid-nonce" {
		t.Errorf("Expected nonce to be forwarded, got %v", input["paymentMethodId"])
	}
	tx := input["transaction"].(map[string]any)
	if tx["amount"] != "19.99" {
		t.Errorf("Expected amount 19.99, got %v", tx["amount"])
	}
}

func TestBraintreeClient_Sale_ValidationErrors(t *testing.T) {
	client := setupBraintreeTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"data": {"chargePaymentMethod": null},
			"errors": [
				{"message": "Unknown or expired payment_method_nonce.", "extensions": {"errorClass": "VALIDATION", "legacyCode": "91565", "inputPath": ["input", "paymentMethodId"]}},
				{"message": "Amount must be greater than zero.", "extensions": {"errorClass": "VALIDATION", "legacyCode": "81531", "inputPath": ["input", "transaction", "amount"]}}
			]
		}`))
	})

	result, err := client.Sale(context.Background(), NonceSale{
		Amount:              decimal.Zero,
		PaymentMethodNonce:  "expired",
		SubmitForSettlement: true,
	})
	if err != nil {
		t.Fatalf("Expected validation errors in the result, got error %v", err)
	}
	if result.Success {
		t.Error("Expected failure")
	}
	if len(result.DeepErrors) != 2 {
		t.Fatalf("Expected 2 deep errors, got %d", len(result.DeepErrors))
	}
	if result.DeepErrors[0].Attribute != "input.paymentMethodId" || result.DeepErrors[0].Code != "91565" {
		t.Errorf("Unexpected first deep error %+v", result.DeepErrors[0])
	}
}

func TestBraintreeClient_Sale_DeclinedTransaction(t *testing.T) {
	client := setupBraintreeTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"chargePaymentMethod":{"transaction":{"id":"tx1","status":"PROCESSOR_DECLINED"}}}}`))
	})

	result, err := client.Sale(context.Background(), NonceSale{
		Amount:              decimal.RequireFromString("2000.00"),
		PaymentMethodNonce:  "fake-processor-declined-visa-nonce",
		SubmitForSettlement: true,
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if result.Success || result.Transaction != nil {
		t.Errorf("Expected a declined transaction not to count as a transaction, got %+v", result)
	}
	if len(result.DeepErrors) != 1 {
		t.Errorf("Expected one deep error for the decline, got %d", len(result.DeepErrors))
	}
}

func TestBraintreeClient_ServerErrorTripsBreaker(t *testing.T) {
	calls := 0
	client := setupBraintreeTest(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	})
	client.circuitBreaker = circuitbreaker.NewCircuitBreaker("braintree", 2, time.Minute)
	core, logs := observer.New(zap.ErrorLevel)
	client.logger = zap.New(core)

	for i := 0; i < 3; i++ {
		if _, err := client.ClientToken(context.Background()); err == nil {
			t.Fatalf("Expected error on attempt %d", i+1)
		}
	}
	if calls != 2 {
		t.Errorf("Expected breaker to stop calls after 2 failures, got %d calls", calls)
	}

	entries := logs.FilterMessage("Braintree request failed").All()
	if len(entries) != 3 {
		t.Fatalf("Expected 3 failure logs, got %d", len(entries))
	}
	last := entries[2].ContextMap()
	if last["breaker"] != "braintree" || last["circuit_state"] != "open" {
		t.Errorf("Expected breaker name and open state in log, got %v", last)
	}
}

func TestBraintreeClient_ClientToken(t *testing.T) {
	client := setupBraintreeTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"createClientToken":{"clientToken":"eyJ2ZXJzaW9uIjoyfQ=="}}}`))
	})

	token, err := client.ClientToken(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if token != "eyJ2ZXJzaW9uIjoyfQ==" {
		t.Errorf("Unexpected client token %s", token)
	}
}
