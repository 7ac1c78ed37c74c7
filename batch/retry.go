// Copyright 2022 MatrixOrigin.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package batch

import (
	"net/http"
	"sync"
	"time"
)

const (
	// MaxPartitionKeyRangeGoneRetries retries granted per operation for stale routing
	MaxPartitionKeyRangeGoneRetries = 1

	defaultThrottleMaxAttempts = 9
	defaultThrottleMaxWaitTime = time.Second * 30
)

// RetryInput is what a retry policy decides on: the status of a failed
// operation or of a failed dispatch.
type RetryInput struct {
	StatusCode    int
	SubStatusCode int
	RetryAfter    time.Duration
	Diagnostics   string
	Err           error
}

func retryInputFromError(err error) RetryInput {
	se := toStoreError(err)
	return RetryInput{
		StatusCode:    se.StatusCode,
		SubStatusCode: se.SubStatusCode,
		RetryAfter:    se.RetryAfter,
		Diagnostics:   se.Diagnostics,
		Err:           err,
	}
}

// RetryDecision tells the batcher whether and when to retry an operation
type RetryDecision struct {
	Retry   bool
	Backoff time.Duration
	// RefreshRouting is set when the routing map must be reloaded before the
	// operation is routed again.
	RefreshRouting bool
}

// RetryPolicy decides whether a failed operation is retried. A policy
// instance belongs to exactly one operation.
type RetryPolicy interface {
	ShouldRetry(in RetryInput) RetryDecision
}

// RetryPolicyFunc adapts a function to RetryPolicy
type RetryPolicyFunc func(in RetryInput) RetryDecision

// ShouldRetry implements RetryPolicy
func (f RetryPolicyFunc) ShouldRetry(in RetryInput) RetryDecision {
	return f(in)
}

// NoRetry never retries
var NoRetry RetryPolicy = RetryPolicyFunc(func(RetryInput) RetryDecision { return RetryDecision{} })

// RetryPolicyFactory creates the policy of a newly submitted operation
type RetryPolicyFactory func() RetryPolicy

// RangeGoneRetryPolicyFactory retries stale routing once, every other
// failure keeps its own result. Streamers use it unless configured.
func RangeGoneRetryPolicyFactory() RetryPolicy {
	return NewPartitionKeyRangeGoneRetryPolicy(NoRetry)
}

// DefaultRetryPolicyFactory retries stale routing once and throttling with
// the default throttle limits. BulkExecutor uses it unless configured.
func DefaultRetryPolicyFactory() RetryPolicy {
	return NewPartitionKeyRangeGoneRetryPolicy(NewThrottleRetryPolicy(defaultThrottleMaxAttempts, defaultThrottleMaxWaitTime))
}

// PartitionKeyRangeGoneRetryPolicy retries an operation once, immediately,
// when the store reports that the range it was routed to has split, moved
// or is unknown to the store's name cache. Everything else goes to the
// wrapped policy.
type PartitionKeyRangeGoneRetryPolicy struct {
	next RetryPolicy

	mu struct {
		sync.Mutex
		attempts int
	}
}

// NewPartitionKeyRangeGoneRetryPolicy returns the policy, next may be nil
func NewPartitionKeyRangeGoneRetryPolicy(next RetryPolicy) *PartitionKeyRangeGoneRetryPolicy {
	if next == nil {
		next = NoRetry
	}
	return &PartitionKeyRangeGoneRetryPolicy{next: next}
}

// ShouldRetry implements RetryPolicy
func (p *PartitionKeyRangeGoneRetryPolicy) ShouldRetry(in RetryInput) RetryDecision {
	if isStaleRouting(in) {
		p.mu.Lock()
		if p.mu.attempts < MaxPartitionKeyRangeGoneRetries {
			p.mu.attempts++
			p.mu.Unlock()
			return RetryDecision{Retry: true, RefreshRouting: true}
		}
		p.mu.Unlock()
	}
	return p.next.ShouldRetry(in)
}

func isStaleRouting(in RetryInput) bool {
	if in.StatusCode != http.StatusGone {
		return false
	}
	switch in.SubStatusCode {
	case SubStatusPartitionKeyRangeGone,
		SubStatusCompletingSplit,
		SubStatusNameCacheIsStale,
		SubStatusCompletingPartitionMigration:
		return true
	}
	return false
}

// ThrottleRetryPolicy retries throttled operations after the delay the store
// asked for, until either the attempt or the cumulative wait budget is spent.
type ThrottleRetryPolicy struct {
	maxAttempts int
	maxWaitTime time.Duration

	mu struct {
		sync.Mutex
		attempts int
		waited   time.Duration
	}
}

// NewThrottleRetryPolicy returns the policy
func NewThrottleRetryPolicy(maxAttempts int, maxWaitTime time.Duration) *ThrottleRetryPolicy {
	return &ThrottleRetryPolicy{
		maxAttempts: maxAttempts,
		maxWaitTime: maxWaitTime,
	}
}

// ShouldRetry implements RetryPolicy
func (p *ThrottleRetryPolicy) ShouldRetry(in RetryInput) RetryDecision {
	if in.StatusCode != http.StatusTooManyRequests {
		return RetryDecision{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.mu.attempts >= p.maxAttempts {
		return RetryDecision{}
	}
	if p.mu.waited+in.RetryAfter > p.maxWaitTime {
		return RetryDecision{}
	}
	p.mu.attempts++
	p.mu.waited += in.RetryAfter
	return RetryDecision{Retry: true, Backoff: in.RetryAfter}
}
