package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited means the provider returned 429. The user should wait
	// and try again; no automatic retry happens here.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrBilling means the provider returned 402 (quota/billing exhausted).
	ErrBilling = errors.New("provider billing exhausted")

	// ErrEmptyResponse means the provider answered successfully but returned
	// no usable text content.
	ErrEmptyResponse = errors.New("provider returned empty response")
)

// ProviderError wraps any other non-success provider status. The message is
// preserved for diagnostics but surfaced to users as a generic failure.
type ProviderError struct {
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider request failed: status=%d message=%s", e.Status, e.Message)
}
