// Package ratelimit implements fixed-window request limits per operation class
// and identity over a pluggable counter store.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"
)

type Class string

const (
	ClassInvite  Class = "invite"
	ClassBulk    Class = "bulk"
	ClassProject Class = "project"
	ClassTask    Class = "task"
	ClassComment Class = "comment"
)

type Rule struct {
	Limit  int
	Window time.Duration
}

// Decision is the outcome of counting one request.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds the wait up to whole seconds, never below one.
func (d Decision) RetryAfterSeconds() int {
	seconds := int(math.Ceil(d.RetryAfter.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

// Store counts hits for a key inside a fixed window. Implementations must make
// the read-compare-increment step atomic per key.
type Store interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

func DefaultRules() map[Class]Rule {
	return map[Class]Rule{
		ClassInvite:  {Limit: 10, Window: 15 * time.Minute},
		ClassBulk:    {Limit: 20, Window: 5 * time.Minute},
		ClassProject: {Limit: 30, Window: time.Minute},
		ClassTask:    {Limit: 50, Window: time.Minute},
		ClassComment: {Limit: 30, Window: time.Minute},
	}
}

type Limiter struct {
	store Store
	rules map[Class]Rule
}

func New(store Store, rules map[Class]Rule) *Limiter {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Limiter{store: store, rules: rules}
}

// Allow records one request for identity in class. Classes without a rule are
// not limited.
func (l *Limiter) Allow(ctx context.Context, class Class, identity string) (Decision, error) {
	rule, ok := l.rules[class]
	if !ok || rule.Limit <= 0 || rule.Window <= 0 {
		return Decision{Allowed: true}, nil
	}
	decision, err := l.store.Hit(ctx, Key(class, identity), rule.Limit, rule.Window)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", class, err)
	}
	return decision, nil
}

func (l *Limiter) Rule(class Class) (Rule, bool) {
	rule, ok := l.rules[class]
	return rule, ok
}

func Key(class Class, identity string) string {
	return string(class) + ":" + identity
}
