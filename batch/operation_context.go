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
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/matrixorigin/cubebatch/components/log"
)

// operationContext tracks which batcher currently owns an operation. Only
// the owner may complete, fail or retry it, so a stale batcher can never
// finish an operation that was moved to another batcher.
type operationContext struct {
	logger      *zap.Logger
	rangeID     string
	retryPolicy RetryPolicy
	future      *Future

	mu struct {
		sync.Mutex
		owner          *Batcher
		refreshRouting bool
	}
}

func newOperationContext(rangeID string, policy RetryPolicy, logger *zap.Logger) *operationContext {
	if policy == nil {
		policy = NoRetry
	}
	return &operationContext{
		logger:      log.Adjust(logger),
		rangeID:     rangeID,
		retryPolicy: policy,
	}
}

func (c *operationContext) setOwner(b *Batcher) {
	c.mu.Lock()
	c.mu.owner = b
	c.mu.Unlock()
}

func (c *operationContext) owner() *Batcher {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mu.owner
}

func (c *operationContext) setRangeID(id string) {
	c.mu.Lock()
	c.rangeID = id
	c.mu.Unlock()
}

func (c *operationContext) getRangeID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rangeID
}

// complete sets a result on behalf of batcher b, returns false if b is not
// the owner.
func (c *operationContext) complete(b *Batcher, result OperationResult) bool {
	if !c.checkOwner(b) {
		return false
	}
	c.future.done(result, nil)
	return true
}

// fail sets err on behalf of batcher b, returns false if b is not the owner.
func (c *operationContext) fail(b *Batcher, err error) bool {
	if !c.checkOwner(b) {
		return false
	}
	c.future.done(OperationResult{}, err)
	return true
}

// failDetached fails an operation not owned by any batcher, e.g. one that
// was rejected before it was queued.
func (c *operationContext) failDetached(err error) {
	c.future.done(OperationResult{}, err)
}

// shouldRetry consults the retry policy on behalf of batcher b. A batcher
// that does not own the operation never gets a retry.
func (c *operationContext) shouldRetry(b *Batcher, in RetryInput) RetryDecision {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mu.owner != b {
		return RetryDecision{}
	}
	decision := c.retryPolicy.ShouldRetry(in)
	if decision.Retry && decision.RefreshRouting {
		c.mu.refreshRouting = true
	}
	return decision
}

// takeRefreshRouting returns and clears the routing refresh flag
func (c *operationContext) takeRefreshRouting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.mu.refreshRouting
	c.mu.refreshRouting = false
	return v
}

// close cancels the future if it has no result yet and drops the owner.
func (c *operationContext) close() {
	c.future.cancel()
	c.setOwner(nil)
}

func (c *operationContext) checkOwner(b *Batcher) bool {
	owner := c.owner()
	if owner == b {
		return true
	}

	err := errors.Wrapf(ErrOwnerMismatch, "pk-range %s, completing batcher %p, owner %p", c.getRangeID(), b, owner)
	c.logger.Error("operation completed by a batcher that does not own it",
		log.PartitionKeyRangeField(c.getRangeID()),
		zap.Error(err))
	c.future.done(OperationResult{}, err)
	return false
}
