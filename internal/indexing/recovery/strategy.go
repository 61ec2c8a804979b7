package recovery

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/vietddude/marketmonitor/internal/core/domain"
)

// FailureCategory tells a strategy whether an error is worth retrying.
type FailureCategory int

const (
	CategoryTransient FailureCategory = iota
	CategoryPermanent
)

// Classifier maps an error to a FailureCategory.
type Classifier func(err error) FailureCategory

// ClassifyDomain treats provider and storage outages as transient. Decode
// failures, checkpoint regressions and cancellation are permanent.
func ClassifyDomain(err error) FailureCategory {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, domain.ErrDecode),
		errors.Is(err, domain.ErrCheckpointRegression):
		return CategoryPermanent
	default:
		return CategoryTransient
	}
}

// RetryStrategy defines how retries should be handled.
type RetryStrategy interface {
	// GetDelay returns the delay for the given attempt (0-indexed).
	GetDelay(attempt int) time.Duration

	// ShouldRetry checks if we should retry based on the error and attempt count.
	ShouldRetry(err error, attempt int) bool
}

// ExponentialBackoff implements a standard backoff strategy.
// MaxAttempts <= 0 retries forever.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	Classifier   Classifier
}

// DefaultBackoff returns sensible defaults for chain ingestion.
// 2s, 4s, 8s, 16s, 32s (Max 60s)
func DefaultBackoff(classifier Classifier) *ExponentialBackoff {
	if classifier == nil {
		classifier = ClassifyDomain
	}
	return &ExponentialBackoff{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		MaxAttempts:  5,
		Classifier:   classifier,
	}
}

// Unbounded returns a backoff that never gives up on transient errors.
// Used for subscription reconnects.
func Unbounded(initial, max time.Duration) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialDelay: initial,
		MaxDelay:     max,
		Classifier:   ClassifyDomain,
	}
}

// GetDelay calculates delay: InitialDelay * 2^attempt
func (s *ExponentialBackoff) GetDelay(attempt int) time.Duration {
	delay := float64(s.InitialDelay) * math.Pow(2, float64(attempt))
	if delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}

// ShouldRetry checks if error is transient and max attempts not exceeded.
// attempt counts failures so far, starting at 1.
func (s *ExponentialBackoff) ShouldRetry(err error, attempt int) bool {
	if s.MaxAttempts > 0 && attempt >= s.MaxAttempts {
		return false
	}
	classify := s.Classifier
	if classify == nil {
		classify = ClassifyDomain
	}
	return classify(err) == CategoryTransient
}
