package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var _ Gateway = (*HTTPGateway)(nil)

const defaultHTTPTimeout = 10 * time.Second

// IdempotencyKeyHeader carries the deduplication key to the gateway.
const IdempotencyKeyHeader = "Idempotency-Key"

// HTTPGateway talks to a remote payment gateway.
type HTTPGateway struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPGateway creates an HTTP-backed gateway.
func NewHTTPGateway(opts Options) (*HTTPGateway, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("provider: base url is required for http strategy")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	return &HTTPGateway{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type chargeRequestBody struct {
	OrderID     string `json:"order_id"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
}

type chargeResponseBody struct {
	ChargeID string `json:"charge_id"`
	Error    string `json:"error"`
}

func (g *HTTPGateway) Capture(ctx context.Context, request ChargeRequest) (Charge, error) {
	payload, err := json.Marshal(chargeRequestBody{
		OrderID:     request.OrderID,
		AmountMinor: request.AmountMinor,
		Currency:    request.Currency,
	})
	if err != nil {
		return Charge{}, fmt.Errorf("provider: failed to encode charge request: %w", err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/charges", bytes.NewReader(payload))
	if err != nil {
		return Charge{}, fmt.Errorf("provider: failed to build charge request: %w", err)
	}

	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set(IdempotencyKeyHeader, request.IdempotencyKey)

	response, err := g.httpClient.Do(httpRequest)
	if err != nil {
		// Network-shaped failures are ambiguous: the charge may exist.
		return Charge{}, fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return Charge{}, fmt.Errorf("%w: failed to read response: %v", ErrTimeout, err)
	}

	switch {
	case response.StatusCode >= 200 && response.StatusCode < 300:
		var decoded chargeResponseBody
		if err := json.Unmarshal(body, &decoded); err != nil {
			return Charge{}, fmt.Errorf("provider: malformed gateway response: %w", err)
		}
		if decoded.ChargeID == "" {
			return Charge{}, errors.New("provider: gateway response missing charge_id")
		}
		return Charge{ChargeID: decoded.ChargeID}, nil

	case response.StatusCode == http.StatusRequestTimeout,
		response.StatusCode == http.StatusTooManyRequests,
		response.StatusCode >= 500:
		return Charge{}, fmt.Errorf("%w: gateway returned status %d", ErrTimeout, response.StatusCode)

	default:
		var decoded chargeResponseBody
		_ = json.Unmarshal(body, &decoded)
		if decoded.Error != "" {
			return Charge{}, fmt.Errorf("%w: %s", ErrRejected, decoded.Error)
		}
		return Charge{}, fmt.Errorf("%w: gateway returned status %d", ErrRejected, response.StatusCode)
	}
}
