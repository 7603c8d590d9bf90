package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"rangemark.org/internal/obs"
)

const defaultBackoffBase = 200 * time.Millisecond

// Client talks to the processor over HTTPS. Transient failures (network
// errors, 5xx) are retried with exponential backoff up to MaxAttempts;
// declined/already-captured/already-voided are surfaced immediately.
type Client struct {
	BaseURL     string
	APIKey      string
	HTTPClient  *http.Client
	MaxAttempts int

	// backoffBase is overridable in tests to keep retries fast.
	backoffBase time.Duration
}

var _ Adapter = (*Client)(nil)

// NewClient constructs a Client with sane defaults.
func NewClient(baseURL, apiKey string, timeout time.Duration, maxAttempts int) *Client {
	if maxAttempts <= 0 {
		maxAttempts = 4
	}
	return &Client{
		BaseURL:     baseURL,
		APIKey:      apiKey,
		HTTPClient:  &http.Client{Timeout: timeout},
		MaxAttempts: maxAttempts,
		backoffBase: defaultBackoffBase,
	}
}

type authorizeBody struct {
	AmountCents int64          `json:"amount_cents"`
	Currency    string         `json:"currency"`
	Details     PaymentDetails `json:"payment_details"`
}

type gatewayResponse struct {
	TransactionID string `json:"transaction_id"`
	Code          string `json:"code"`
	Message       string `json:"message"`
}

func (c *Client) Authorize(ctx context.Context, req AuthorizeRequest) (Result, error) {
	body := authorizeBody{AmountCents: req.AmountCents, Currency: req.Currency, Details: req.Details}
	resp, err := c.call(ctx, "authorize", "/v1/authorizations", req.IdempotencyKey, body)
	if err != nil {
		return Result{}, err
	}
	return Result{TransactionID: resp.TransactionID}, nil
}

func (c *Client) Capture(ctx context.Context, authTransactionID string) (Result, error) {
	path := "/v1/authorizations/" + authTransactionID + "/capture"
	resp, err := c.call(ctx, "capture", path, authTransactionID, nil)
	if err != nil {
		return Result{}, err
	}
	return Result{TransactionID: resp.TransactionID}, nil
}

func (c *Client) Void(ctx context.Context, authTransactionID string) error {
	path := "/v1/authorizations/" + authTransactionID + "/void"
	_, err := c.call(ctx, "void", path, authTransactionID, nil)
	return err
}

func (c *Client) call(ctx context.Context, kind, path, idemKey string, body any) (*gatewayResponse, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", kind, err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.backoffBase << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			case <-time.After(backoff):
			}
		}

		resp, retryable, err := c.do(ctx, kind, path, idemKey, payload)
		if err == nil {
			obs.ObserveGatewayCall(kind, "approved")
			return resp, nil
		}
		if !retryable {
			obs.ObserveGatewayCall(kind, "rejected")
			return nil, err
		}
		lastErr = err
		obs.Warn("gateway call retrying", map[string]any{
			"kind":    kind,
			"attempt": attempt + 1,
			"error":   err.Error(),
		})
	}
	obs.ObserveGatewayCall(kind, "unavailable")
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

// do performs one HTTP round trip. The second return value reports whether
// the failure is transient and worth retrying.
func (c *Client) do(ctx context.Context, kind, path, idemKey string, payload []byte) (*gatewayResponse, bool, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, reader)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idemKey)
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	httpResp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, true, err
	}

	if httpResp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("%s: gateway returned %d", kind, httpResp.StatusCode)
	}

	var decoded gatewayResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, false, fmt.Errorf("decode %s response: %w", kind, err)
		}
	}

	switch httpResp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return &decoded, false, nil
	case http.StatusPaymentRequired:
		return nil, false, ErrDeclined
	case http.StatusConflict:
		switch decoded.Code {
		case "already_captured":
			return nil, false, ErrAlreadyCaptured
		case "already_voided":
			return nil, false, ErrAlreadyVoided
		}
		return nil, false, fmt.Errorf("%s: conflict: %s", kind, decoded.Message)
	default:
		return nil, false, fmt.Errorf("%s: gateway returned %d: %s", kind, httpResp.StatusCode, decoded.Message)
	}
}
