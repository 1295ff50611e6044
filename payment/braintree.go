package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cart-svc/circuitbreaker"
	"cart-svc/config"

	"go.uber.org/zap"
)

const (
	braintreeSandboxURL    = "https://payments.sandbox.braintree-api.com/graphql"
	braintreeProductionURL = "https://payments.braintree-api.com/graphql"
	braintreeAPIVersion    = "2019-01-01"
)

const chargeMutation = `mutation ChargePaymentMethod($input: ChargePaymentMethodInput!) {
  chargePaymentMethod(input: $input) {
    transaction { id status }
  }
}`

const authorizeMutation = `mutation AuthorizePaymentMethod($input: AuthorizePaymentMethodInput!) {
  authorizePaymentMethod(input: $input) {
    transaction { id status }
  }
}`

const clientTokenMutation = `mutation CreateClientToken($input: CreateClientTokenInput) {
  createClientToken(input: $input) {
    clientToken
  }
}`

// Transaction statuses that mean the payment did not go through.
var failedTransactionStatuses = map[string]bool{
	"FAILED":              true,
	"GATEWAY_REJECTED":    true,
	"PROCESSOR_DECLINED":  true,
	"SETTLEMENT_DECLINED": true,
	"VOIDED":              true,
}

type BraintreeClient struct {
	endpoint          string
	publicKey         string
	privateKey        string
	merchantAccountID string
	httpClient        *http.Client
	circuitBreaker    *circuitbreaker.CircuitBreaker
	logger            *zap.Logger
}

func NewBraintreeClient(cfg config.BraintreeConfig, timeout time.Duration, logger *zap.Logger) *BraintreeClient {
	endpoint := braintreeSandboxURL
	if strings.EqualFold(cfg.Environment, "production") {
		endpoint = braintreeProductionURL
	}
	return &BraintreeClient{
		endpoint:          endpoint,
		publicKey:         cfg.PublicKey,
		privateKey:        cfg.PrivateKey,
		merchantAccountID: cfg.MerchantAccountID,
		httpClient:        newHTTPClient(timeout),
		circuitBreaker:    circuitbreaker.NewCircuitBreaker("braintree", 5, 30*time.Second),
		logger:            logger,
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		ErrorClass string   `json:"errorClass"`
		LegacyCode string   `json:"legacyCode"`
		InputPath  []string `json:"inputPath"`
	} `json:"extensions"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

type transactionPayload struct {
	Transaction *struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"transaction"`
}

// Sale charges the nonce. Validation failures come back in the result, not as an error; an
// error means the provider could not be reached or answered unexpectedly.
func (c *BraintreeClient) Sale(ctx context.Context, sale NonceSale) (*NonceResult, error) {
	txInput := map[string]any{
		"amount": sale.Amount.StringFixed(2),
	}
	if c.merchantAccountID != "" {
		txInput["merchantAccountId"] = c.merchantAccountID
	}

	query, field := authorizeMutation, "authorizePaymentMethod"
	if sale.SubmitForSettlement {
		query, field = chargeMutation, "chargePaymentMethod"
	}

	resp, err := c.do(ctx, graphQLRequest{
		Query: query,
		Variables: map[string]any{
			"input": map[string]any{
				"paymentMethodId": sale.PaymentMethodNonce,
				"transaction":     txInput,
			},
		},
	})
	if err != nil {
		return nil, err
	}

	result := &NonceResult{}
	for _, gqlErr := range resp.Errors {
		result.DeepErrors = append(result.DeepErrors, DeepError{
			Attribute: strings.Join(gqlErr.Extensions.InputPath, "."),
			Code:      gqlErr.Extensions.LegacyCode,
			Message:   gqlErr.Message,
		})
	}

	var data map[string]transactionPayload
	if len(resp.Data) > 0 && string(resp.Data) != "null" {
		if err := json.Unmarshal(resp.Data, &data); err != nil {
			return nil, fmt.Errorf("decode braintree transaction: %w", err)
		}
	}

	if payload, ok := data[field]; ok && payload.Transaction != nil {
		tx := payload.Transaction
		if failedTransactionStatuses[tx.Status] {
			result.DeepErrors = append(result.DeepErrors, DeepError{
				Attribute: "transaction.status",
				Code:      tx.Status,
				Message:   fmt.Sprintf("Transaction %s: %s", tx.ID, strings.ToLower(strings.ReplaceAll(tx.Status, "_", " "))),
			})
		} else {
			result.Transaction = &NonceTransaction{ID: tx.ID, Status: tx.Status}
		}
	}

	result.Success = len(result.DeepErrors) == 0 && result.Transaction != nil
	if !result.Success {
		c.logger.Info("Braintree sale not accepted", zap.Int("errors", len(result.DeepErrors)))
	}
	return result, nil
}

// ClientToken generates a token for the client-side payment widget.
func (c *BraintreeClient) ClientToken(ctx context.Context) (string, error) {
	input := map[string]any{}
	if c.merchantAccountID != "" {
		input["clientToken"] = map[string]any{"merchantAccountId": c.merchantAccountID}
	}

	resp, err := c.do(ctx, graphQLRequest{
		Query:     clientTokenMutation,
		Variables: map[string]any{"input": input},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Errors) > 0 {
		return "", fmt.Errorf("braintree client token: %s", resp.Errors[0].Message)
	}

	var data struct {
		CreateClientToken struct {
			ClientToken string `json:"clientToken"`
		} `json:"createClientToken"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return "", fmt.Errorf("decode braintree client token: %w", err)
	}
	return data.CreateClientToken.ClientToken, nil
}

func (c *BraintreeClient) do(ctx context.Context, gqlReq graphQLRequest) (*graphQLResponse, error) {
	body, err := json.Marshal(gqlReq)
	if err != nil {
		return nil, fmt.Errorf("encode braintree request: %w", err)
	}

	var resp graphQLResponse
	err = c.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.SetBasicAuth(c.publicKey, c.privateKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Braintree-Version", braintreeAPIVersion)

		httpResp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer httpResp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
		if err != nil {
			return err
		}
		if httpResp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("braintree returned %d", httpResp.StatusCode)
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			return fmt.Errorf("braintree returned %d with undecodable body: %w", httpResp.StatusCode, err)
		}
		return nil
	})
	if err != nil {
		c.logger.Error("Braintree request failed",
			zap.String("breaker", c.circuitBreaker.Name()),
			zap.String("circuit_state", c.circuitBreaker.GetState().String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("braintree request: %w", err)
	}
	return &resp, nil
}
