package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		userFacing bool
		message    string
		httpStatus int
	}{
		{
			name:       "card declined",
			err:        &GatewayError{Code: CodeCardDeclined, Message: "insufficient funds"},
			userFacing: true,
			message:    "Your card was declined.",
			httpStatus: http.StatusPaymentRequired,
		},
		{
			name:       "invalid request",
			err:        &GatewayError{Code: CodeInvalidRequest, Message: "bad token"},
			userFacing: true,
			message:    "Your payment details were not accepted.",
			httpStatus: http.StatusBadRequest,
		},
		{
			name:       "rate limited",
			err:        &GatewayError{Code: CodeRateLimited},
			userFacing: false,
			message:    genericFailureMsg,
			httpStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "auth failed stays internal",
			err:        &GatewayError{Code: CodeAuthFailed},
			userFacing: false,
			message:    genericFailureMsg,
			httpStatus: http.StatusBadGateway,
		},
		{
			name:       "deadline exceeded",
			err:        context.DeadlineExceeded,
			userFacing: false,
			message:    genericFailureMsg,
			httpStatus: http.StatusGatewayTimeout,
		},
		{
			name:       "unknown error",
			err:        errors.New("connection reset"),
			userFacing: false,
			message:    genericFailureMsg,
			httpStatus: http.StatusBadGateway,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cls := Classify(tc.err)
			assert.Equal(t, tc.userFacing, cls.UserFacing)
			assert.Equal(t, tc.message, cls.UserMessage)
			assert.Equal(t, tc.httpStatus, cls.HTTPStatus)
		})
	}
}

func TestClassify_WrappedGatewayError(t *testing.T) {
	err := fmt.Errorf("capture order o1: %w", &GatewayError{Code: CodeCardDeclined})
	cls := Classify(err)
	assert.True(t, cls.UserFacing)
	assert.Equal(t, "Your card was declined.", cls.UserMessage)
}
