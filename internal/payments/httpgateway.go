package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// HTTPGateway is the client adapter for the external card-payment service.
type HTTPGateway struct {
	baseURL string
	key     string
	client  *http.Client
}

func NewHTTPGateway(baseURL, key string) *HTTPGateway {
	return &HTTPGateway{baseURL: baseURL, key: key, client: &http.Client{}}
}

func (g *HTTPGateway) Charge(ctx context.Context, req ChargeRequest) (string, error) {
	return g.post(ctx, "/v1/charges", req)
}

func (g *HTTPGateway) Refund(ctx context.Context, chargeID string, amount int64) (string, error) {
	return g.post(ctx, "/v1/refunds", map[string]any{
		"charge": chargeID,
		"amount": amount,
	})
}

func (g *HTTPGateway) post(ctx context.Context, path string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.key)

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", &GatewayError{Code: CodeTimeout, Message: "gateway call timed out"}
		}
		return "", &GatewayError{Code: CodeUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var ok struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&ok); err != nil {
			return "", &GatewayError{Code: CodeUnavailable, Message: "malformed gateway response"}
		}
		return ok.ID, nil
	}

	var fail struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&fail)

	code := fail.Error.Code
	if code == "" {
		switch resp.StatusCode {
		case http.StatusPaymentRequired:
			code = CodeCardDeclined
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			code = CodeInvalidRequest
		case http.StatusUnauthorized, http.StatusForbidden:
			code = CodeAuthFailed
		case http.StatusTooManyRequests:
			code = CodeRateLimited
		default:
			code = CodeUnavailable
		}
	}
	return "", &GatewayError{Code: code, Message: fail.Error.Message}
}
