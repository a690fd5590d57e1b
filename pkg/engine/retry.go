package engine

import (
	"math"
	"time"
)

// RetryPolicy bounds how often and how fast a retryable node is re-run
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	MaxDelay    time.Duration
}

// DefaultRetryPolicy allows 3 attempts with 1s, 2s backoff capped at 30s
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Factor:      2,
		MaxDelay:    30 * time.Second,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	q := p
	if q.MaxAttempts <= 0 {
		q.MaxAttempts = 1
	}
	if q.BaseDelay < 0 {
		q.BaseDelay = 0
	}
	if q.Factor < 1 {
		q.Factor = 1
	}
	if q.MaxDelay < q.BaseDelay {
		q.MaxDelay = q.BaseDelay
	}
	return q
}

// Backoff returns the wait before the attempt following a failed attempt n (1-based)
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.Factor, float64(n-1))
	if d > float64(p.MaxDelay) || math.IsInf(d, 0) {
		return p.MaxDelay
	}
	return time.Duration(d)
}
