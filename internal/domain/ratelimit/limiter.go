package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Principal identifies the caller whose demand is being bounded; quotas are
// tracked per principal, so one caller's burst never consumes another's.
type Principal string

// Class is one independent limit class. Ingestion triggers and general
// authenticated reads carry different classes with different rates.
type Class struct {
	Name   string
	Limit  int64
	Period time.Duration
}

// Checker bounds aggregate demand per principal per class.
type Checker interface {
	// Check records one request from the principal under the class.
	//
	// Fails with RateLimited when the principal's quota for the class is
	// exhausted. The counter is only incremented on allow, so callers that
	// back off correctly are not penalized for probing.
	Check(ctx context.Context, principal Principal, class Class) error
}

// RateLimited is the caller-visible rejection; the HTTP layer translates it
// into a 429 with a Retry-After header.
type RateLimited struct {
	Principal  Principal
	Class      string
	RetryAfter time.Duration
}

func (e RateLimited) Error() string {
	return fmt.Sprintf("Rate limit for [%v] under class [%s] exhausted; retry after %v", e.Principal, e.Class, e.RetryAfter)
}
