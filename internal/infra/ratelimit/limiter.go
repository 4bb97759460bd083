package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/datalode/ledgersync/internal/domain/ratelimit"
)

// UluleChecker implements the domain Checker on top of ulule/limiter's
// in-memory sliding window store. One limiter per class, all sharing a
// store; the class name is part of the key so classes never bleed into
// each other.
type UluleChecker struct {
	store limiter.Store

	mu       sync.Mutex
	limiters map[string]*limiter.Limiter
}

func NewChecker() *UluleChecker {
	return &UluleChecker{
		store:    memory.NewStore(),
		limiters: make(map[string]*limiter.Limiter),
	}
}

// Check peeks first and only increments on allow, so a rejected request
// costs the principal nothing.
func (c *UluleChecker) Check(ctx context.Context, principal ratelimit.Principal, class ratelimit.Class) error {
	lim := c.limiterFor(class)
	key := fmt.Sprintf("%s:%s", class.Name, principal)

	peeked, err := lim.Peek(ctx, key)
	if err != nil {
		return err
	}
	if peeked.Remaining <= 0 {
		retryAfter := time.Until(time.Unix(peeked.Reset, 0))
		if retryAfter < 0 {
			retryAfter = 0
		}
		return ratelimit.RateLimited{
			Principal:  principal,
			Class:      class.Name,
			RetryAfter: retryAfter,
		}
	}
	if _, err := lim.Increment(ctx, key, 1); err != nil {
		return err
	}
	return nil
}

func (c *UluleChecker) limiterFor(class ratelimit.Class) *limiter.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if lim, ok := c.limiters[class.Name]; ok {
		return lim
	}
	lim := limiter.New(c.store, limiter.Rate{
		Period: class.Period,
		Limit:  class.Limit,
	})
	c.limiters[class.Name] = lim
	return lim
}
