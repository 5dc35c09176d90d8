package geo

import (
	"context"
	"errors"
	"fmt"

	"github.com/rahulxs/geo-dashboard/internal/ratelimit"
)

// Sentinel errors forming the failure taxonomy. Provider clients wrap these so
// the orchestrator can classify failures without inspecting transport details.
var (
	// ErrValidation marks bad input; never retried.
	ErrValidation = errors.New("geo: invalid query")

	// ErrAllProvidersFailed is returned when every provider in the query's
	// minimum-required set failed.
	ErrAllProvidersFailed = errors.New("geo: all required providers failed")

	// ErrDeadlineExceeded is returned when the per-request deadline elapsed
	// before the required provider set resolved. Background fetches continue.
	ErrDeadlineExceeded = errors.New("geo: request deadline exceeded")

	// ErrCircuitOpen marks a call rejected by an open circuit breaker.
	ErrCircuitOpen = errors.New("geo: provider circuit open")

	// ErrUpstreamRateLimited marks a 429 from the upstream service.
	ErrUpstreamRateLimited = errors.New("geo: upstream rate limited")

	// ErrUpstream marks a transient upstream failure (5xx, timeout, reset)
	// that survived local retries.
	ErrUpstream = errors.New("geo: upstream failure")

	// ErrNotFound marks an upstream "no result" answer (e.g. unknown address).
	ErrNotFound = errors.New("geo: no result")
)

// FailureKind categorizes a provider failure for callers.
type FailureKind string

const (
	FailureCircuitOpen      FailureKind = "circuit_open"
	FailureRateLimitTimeout FailureKind = "rate_limit_timeout"
	FailureRateLimited      FailureKind = "rate_limited"
	FailureUpstream         FailureKind = "upstream"
	FailureNotFound         FailureKind = "not_found"
	FailureDeadline         FailureKind = "deadline"
	FailureDependency       FailureKind = "dependency_unresolved"
)

// Failure is the typed failure half of a ProviderResult.
type Failure struct {
	Provider  string      `json:"provider"`
	Kind      FailureKind `json:"kind"`
	Retryable bool        `json:"retryable"`
	Message   string      `json:"message"`

	err error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("provider %s: %s: %s", f.Provider, f.Kind, f.Message)
}

func (f *Failure) Unwrap() error { return f.err }

// failureFrom classifies an error from a provider call into a Failure.
// Retryable means the orchestrator may serve stale cache or retry later;
// non-retryable failures are terminal for this request.
func failureFrom(provider string, err error) *Failure {
	f := &Failure{Provider: provider, Message: err.Error(), err: err}
	switch {
	case errors.Is(err, ErrCircuitOpen):
		f.Kind = FailureCircuitOpen
	case errors.Is(err, ratelimit.ErrRateLimitTimeout):
		f.Kind = FailureRateLimitTimeout
		f.Retryable = true
	case errors.Is(err, ErrUpstreamRateLimited):
		f.Kind = FailureRateLimited
		f.Retryable = true
	case errors.Is(err, ErrNotFound):
		f.Kind = FailureNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrDeadlineExceeded):
		f.Kind = FailureDeadline
	default:
		f.Kind = FailureUpstream
		f.Retryable = true
	}
	return f
}

// dependencyFailure marks a provider that could not be attempted because an
// upstream dependency (e.g. endpoint geocoding) failed first.
func dependencyFailure(provider string, cause error) *Failure {
	return &Failure{
		Provider: provider,
		Kind:     FailureDependency,
		Message:  fmt.Sprintf("dependency failed: %v", cause),
		err:      cause,
	}
}
