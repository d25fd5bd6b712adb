// Package idempotency derives creation keys that make template and instance
// generation requests safely repeatable.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidKey is returned when a supplied idempotency key has an illegal shape.
var ErrInvalidKey = errors.New("invalid idempotency key")

const (
	businessPrefix = "biz-"
	maxKeyLen      = 64

	// Sentinels substituted for nil optional fields before hashing, so a
	// template with no cap and a template with cap 0 hash differently.
	nilTimeSentinel = "-"
	nilIntSentinel  = "x"
)

// KeyFields is the normalized business tuple a deterministic key is derived
// from. Two templates with an identical tuple are considered the same
// creation request.
type KeyFields struct {
	FromUserID    int64
	ToUserID      int64
	Title         string
	Rule          string
	ReminderType  string
	ValidFrom     *time.Time
	ValidUntil    *time.Time
	MaxExecutions *int
}

// BusinessKey derives a deterministic key from the business fields. Identical
// normalized tuples always yield identical keys, enabling create-if-absent
// semantics across retried or concurrent requests.
func BusinessKey(f KeyFields) string {
	parts := []string{
		fmt.Sprintf("%d", f.FromUserID),
		fmt.Sprintf("%d", f.ToUserID),
		strings.TrimSpace(f.Title),
		strings.TrimSpace(f.Rule),
		f.ReminderType,
		canonTime(f.ValidFrom),
		canonTime(f.ValidUntil),
		canonInt(f.MaxExecutions),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	// 24 hex chars keeps the key well under maxKeyLen with the prefix.
	return businessPrefix + hex.EncodeToString(sum[:12])
}

// RandomKey issues a UUID-shaped key for callers that explicitly want
// multiple independent templates with otherwise identical fields.
func RandomKey() string {
	return uuid.NewString()
}

// IsBusinessKey reports whether the key was derived from business fields,
// so callers can branch without extra state.
func IsBusinessKey(key string) bool {
	return strings.HasPrefix(key, businessPrefix)
}

// Validate checks the key shape: non-empty, bounded length, and restricted
// to alphanumerics, '-' and '_'.
func Validate(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if len(key) > maxKeyLen {
		return fmt.Errorf("%w: longer than %d chars", ErrInvalidKey, maxKeyLen)
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return fmt.Errorf("%w: illegal character %q", ErrInvalidKey, r)
		}
	}
	return nil
}

func canonTime(t *time.Time) string {
	if t == nil {
		return nilTimeSentinel
	}
	return t.UTC().Format(time.RFC3339)
}

func canonInt(n *int) string {
	if n == nil {
		return nilIntSentinel
	}
	return fmt.Sprintf("%d", *n)
}
