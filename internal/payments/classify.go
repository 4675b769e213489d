package payments

import (
	"context"
	"errors"
	"net/http"
)

// Classification tells the lifecycle what to attach to a payment_failed
// transition: card problems are the user's to fix, everything else is an
// operator concern hidden behind a generic message.
type Classification struct {
	UserFacing  bool
	UserMessage string
	HTTPStatus  int
}

const genericFailureMsg = "We were unable to take your payment. Please try again later."

func Classify(err error) Classification {
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case CodeCardDeclined:
			return Classification{UserFacing: true, UserMessage: "Your card was declined.", HTTPStatus: http.StatusPaymentRequired}
		case CodeInvalidRequest:
			return Classification{UserFacing: true, UserMessage: "Your payment details were not accepted.", HTTPStatus: http.StatusBadRequest}
		case CodeRateLimited:
			return Classification{UserFacing: false, UserMessage: genericFailureMsg, HTTPStatus: http.StatusServiceUnavailable}
		case CodeAuthFailed, CodeUnavailable, CodeTimeout:
			return Classification{UserFacing: false, UserMessage: genericFailureMsg, HTTPStatus: http.StatusBadGateway}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{UserFacing: false, UserMessage: genericFailureMsg, HTTPStatus: http.StatusGatewayTimeout}
	}
	return Classification{UserFacing: false, UserMessage: genericFailureMsg, HTTPStatus: http.StatusBadGateway}
}
