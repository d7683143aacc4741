package craw

import "errors"

var (
	// ErrAuthentication means the credential was rejected; never retried.
	ErrAuthentication = errors.New("authentication rejected")

	// ErrRateLimitExceeded is returned once throttling outlasts the retry budget.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrTransientNetwork covers connection failures, timeouts and 5xx responses.
	ErrTransientNetwork = errors.New("transient network error")

	// ErrMalformedResponse means the body did not have the expected structure.
	ErrMalformedResponse = errors.New("malformed response")
)

func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimitExceeded) || errors.Is(err, ErrTransientNetwork)
}

// IsFatalForRun reports errors that will fail every following request too.
func IsFatalForRun(err error) bool {
	return errors.Is(err, ErrAuthentication) || errors.Is(err, ErrRateLimitExceeded)
}
