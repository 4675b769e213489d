package payments

import (
	"context"
	"fmt"
)

// Gateway is the external card-payment collaborator. Calls are not
// idempotent: a retry without an upstream guard can double-charge, so the
// lifecycle only ever invokes Capture once per order.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (chargeID string, err error)
	Refund(ctx context.Context, chargeID string, amount int64) (refundID string, err error)
}

type ChargeRequest struct {
	Amount             int64  `json:"amount"` // minor units
	Currency           string `json:"currency"`
	SourceToken        string `json:"source_token"`
	DestinationAccount string `json:"destination_account"`
}

// Gateway error codes.
const (
	CodeCardDeclined   = "card_declined"
	CodeInvalidRequest = "invalid_request"
	CodeRateLimited    = "rate_limited"
	CodeAuthFailed     = "auth_failed"
	CodeUnavailable    = "unavailable"
	CodeTimeout        = "timeout"
)

type GatewayError struct {
	Code    string
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error %s: %s", e.Code, e.Message)
}
