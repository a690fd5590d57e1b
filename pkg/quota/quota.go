// Package quota enforces organization-level token budgets for AI nodes.
package quota

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/go-redis/redis/v8"

	"github.com/Ingenimax/workflow-engine/pkg/logging"
)

// ErrQuotaExceeded is matched by errors.Is on every ExceededError
var ErrQuotaExceeded = errors.New("token quota exceeded")

// ExceededError reports an organization that cannot spend the tokens it asked for.
// It is permanent: retrying the same node cannot free quota.
type ExceededError struct {
	OrgID     string
	Used      int64
	Limit     int64
	Remaining int64
	Required  int64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("token quota exceeded for org %q: used %d/%d, remaining %d, required %d",
		e.OrgID, e.Used, e.Limit, e.Remaining, e.Required)
}

// Is matches ErrQuotaExceeded
func (e *ExceededError) Is(target error) bool { return target == ErrQuotaExceeded }

// Permanent reports true
func (e *ExceededError) Permanent() bool { return true }

// Status is a snapshot of an organization's quota
type Status struct {
	OrgID          string  `json:"orgId"`
	Used           int64   `json:"used"`
	Limit          int64   `json:"limit"`
	Remaining      int64   `json:"remaining"`
	PercentageUsed float64 `json:"percentageUsed"`
}

// Limiter keeps per-organization counters in Redis:
// tokens:{org}:used is incremented atomically and tokens:{org}:limit
// overrides the default limit.
type Limiter struct {
	client        redis.Cmdable
	defaultLimit  int64
	reserveBuffer float64
	logger        logging.Logger
}

// Option configures a Limiter
type Option func(*Limiter)

// WithDefaultLimit sets the limit of organizations without an override
func WithDefaultLimit(limit int64) Option {
	return func(l *Limiter) {
		l.defaultLimit = limit
	}
}

// WithReserveBuffer inflates estimates by the given fraction, e.g. 0.1 for 10%
func WithReserveBuffer(fraction float64) Option {
	return func(l *Limiter) {
		l.reserveBuffer = fraction
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// NewLimiter creates a Redis-backed limiter
func NewLimiter(client redis.Cmdable, opts ...Option) *Limiter {
	l := &Limiter{client: client, defaultLimit: 1_000_000, reserveBuffer: 0.1, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func usedKey(orgID string) string  { return "tokens:" + orgID + ":used" }
func limitKey(orgID string) string { return "tokens:" + orgID + ":limit" }

// Status returns the organization's current usage
func (l *Limiter) Status(ctx context.Context, orgID string) (*Status, error) {
	values, err := l.client.MGet(ctx, usedKey(orgID), limitKey(orgID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read quota: %w", err)
	}

	used, err := parseCounter(values[0], 0)
	if err != nil {
		return nil, fmt.Errorf("invalid usage counter for org %q: %w", orgID, err)
	}
	limit, err := parseCounter(values[1], l.defaultLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid limit for org %q: %w", orgID, err)
	}

	s := &Status{OrgID: orgID, Used: used, Limit: limit, Remaining: limit - used, PercentageUsed: 100}
	if s.Remaining < 0 {
		s.Remaining = 0
	}
	if limit > 0 {
		s.PercentageUsed = math.Round(float64(used)/float64(limit)*10000) / 100
	}
	return s, nil
}

// Check implements QuotaLimiter
func (l *Limiter) Check(ctx context.Context, orgID string, estimated int) error {
	s, err := l.Status(ctx, orgID)
	if err != nil {
		return err
	}

	required := int64(float64(estimated) * (1 + l.reserveBuffer))
	if s.Remaining < required {
		l.logger.Warn(ctx, "Token quota exceeded", map[string]interface{}{
			"org_id":    orgID,
			"remaining": s.Remaining,
			"required":  required,
		})
		return &ExceededError{OrgID: orgID, Used: s.Used, Limit: s.Limit, Remaining: s.Remaining, Required: required}
	}
	return nil
}

// Record implements QuotaLimiter
func (l *Limiter) Record(ctx context.Context, orgID string, used int) error {
	total, err := l.client.IncrBy(ctx, usedKey(orgID), int64(used)).Result()
	if err != nil {
		return fmt.Errorf("failed to record token usage: %w", err)
	}
	l.logger.Debug(ctx, "Token usage recorded", map[string]interface{}{
		"org_id": orgID,
		"tokens": used,
		"total":  total,
	})
	return nil
}

// SetLimit overrides the limit of one organization
func (l *Limiter) SetLimit(ctx context.Context, orgID string, limit int64) error {
	if err := l.client.Set(ctx, limitKey(orgID), limit, 0).Err(); err != nil {
		return fmt.Errorf("failed to set limit: %w", err)
	}
	return nil
}

// Reset zeroes the usage counter, e.g. at the start of a billing cycle
func (l *Limiter) Reset(ctx context.Context, orgID string) error {
	if err := l.client.Set(ctx, usedKey(orgID), 0, 0).Err(); err != nil {
		return fmt.Errorf("failed to reset usage: %w", err)
	}
	return nil
}

func parseCounter(v interface{}, fallback int64) (int64, error) {
	s, ok := v.(string)
	if !ok || s == "" {
		return fallback, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
