package chat

import (
	"errors"
	"net/http"

	"github.com/serenoapp/sereno/internal/llm"
	"github.com/serenoapp/sereno/internal/session"
)

// classifySubmitError maps a failed submit onto an HTTP status, a
// machine-readable code and a user-facing message. Provider diagnostics stay
// in the logs; users get the generic connection message.
func classifySubmitError(err error) (status int, code, message string) {
	switch {
	case errors.Is(err, session.ErrEmptyMessage):
		return http.StatusBadRequest, "empty_message", "write something first"
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict, "conversation_busy", "wait for the current reply to finish"
	case errors.Is(err, session.ErrQuotaExceeded):
		return http.StatusTooManyRequests, "daily_quota_exceeded", "you have reached today's conversations, come back tomorrow"
	case errors.Is(err, session.ErrInterrupted):
		return http.StatusGatewayTimeout, "conversation_interrupted", "that took too long, please try again"
	case errors.Is(err, llm.ErrRateLimited):
		return http.StatusTooManyRequests, "provider_rate_limited", "the assistant is catching its breath, try again in a moment"
	case errors.Is(err, llm.ErrBilling):
		return http.StatusPaymentRequired, "provider_billing", "the service is temporarily unavailable, please contact support"
	default:
		// ProviderError, ErrEmptyResponse and anything unexpected.
		return http.StatusBadGateway, "provider_unavailable", "couldn't reach the assistant, please try again"
	}
}
