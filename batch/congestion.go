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
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/matrixorigin/cubebatch/components/log"
)

var (
	// MaxCatchUpIterations bounds the number of windows evaluated by one
	// congestion tick.
	MaxCatchUpIterations = 8

	defaultWaitThreshold        = time.Millisecond * 100
	waitThresholdIncrement      = time.Millisecond * 100
	maxDegreeDecrease     int64 = 5
	decreaseAcquireTimeout      = time.Second
)

// congestionController adapts the number of batches of one partition key
// range that may be in flight. The limiter is sized at the max degree and
// the controller holds every permit that is not currently grantable.
type congestionController struct {
	logger    *zap.Logger
	rangeID   string
	metric    *PartitionMetric
	limiter   *semaphore.Weighted
	maxDegree int64
	sink      CongestionSink
	clock     func() time.Time

	mu struct {
		sync.Mutex
		degree        int64
		waitThreshold time.Duration
		windowStart   time.Time
		previous      MetricSnapshot
	}
}

func newCongestionController(rangeID string, metric *PartitionMetric, o *options) *congestionController {
	c := &congestionController{
		logger:    o.logger.Named("congestion").With(log.PartitionKeyRangeField(rangeID)),
		rangeID:   rangeID,
		metric:    metric,
		limiter:   semaphore.NewWeighted(o.maxDegree),
		maxDegree: o.maxDegree,
		sink:      o.sink,
		clock:     o.clock,
	}
	c.mu.degree = o.initialDegree
	if held := o.maxDegree - o.initialDegree; held > 0 {
		if !c.limiter.TryAcquire(held) {
			c.logger.Error("failed to hold the permits above the initial degree",
				log.DegreeOfConcurrencyField(o.initialDegree),
				zap.Int64("held", held))
			c.mu.degree = o.maxDegree
		}
	}
	c.mu.waitThreshold = o.waitThreshold
	c.mu.windowStart = o.clock()
	c.mu.previous = metric.Snapshot()
	return c
}

// acquire blocks until one dispatch may start
func (c *congestionController) acquire(ctx context.Context) error {
	return c.limiter.Acquire(ctx, 1)
}

func (c *congestionController) release() {
	c.limiter.Release(1)
}

func (c *congestionController) degree() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mu.degree
}

func (c *congestionController) waitThreshold() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mu.waitThreshold
}

// tick evaluates every window that elapsed since the last evaluated one.
// Throttles in a window shrink the degree of concurrency and widen the
// window, traffic without throttles grows the degree by one.
func (c *congestionController) tick(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	iterations := 0
	for now.Sub(c.mu.windowStart) >= c.mu.waitThreshold {
		if iterations >= MaxCatchUpIterations {
			c.mu.windowStart = now
			break
		}
		iterations++

		threshold := c.mu.waitThreshold
		current := c.metric.Snapshot()
		diff := current.Sub(c.mu.previous)
		if diff.NumberOfThrottles > 0 {
			c.decrease(ctx)
		} else if diff.NumberOfItemsOperatedOn > 0 && c.mu.degree+1 <= c.maxDegree {
			c.limiter.Release(1)
			c.mu.degree++
		}
		c.mu.previous = current
		c.mu.windowStart = c.mu.windowStart.Add(threshold)

		c.sink.OnCongestionWindow(c.rangeID, c.mu.degree, c.mu.waitThreshold,
			diff.NumberOfThrottles, diff.NumberOfItemsOperatedOn)
		if ce := c.logger.Check(zap.DebugLevel, "congestion window evaluated"); ce != nil {
			ce.Write(log.DegreeOfConcurrencyField(c.mu.degree),
				log.WaitThresholdField(c.mu.waitThreshold),
				zap.Int64("throttles", diff.NumberOfThrottles),
				zap.Int64("items", diff.NumberOfItemsOperatedOn))
		}
	}
}

func (c *congestionController) decrease(ctx context.Context) {
	c.mu.waitThreshold += waitThresholdIncrement

	n := c.mu.degree / 2
	if n > maxDegreeDecrease {
		n = maxDegreeDecrease
	}
	if n <= 0 {
		return
	}

	// permits held by in-flight dispatches come back when they finish
	actx, cancel := context.WithTimeout(ctx, decreaseAcquireTimeout)
	defer cancel()
	if err := c.limiter.Acquire(actx, n); err != nil {
		c.logger.Warn("failed to reduce degree of concurrency",
			log.DegreeOfConcurrencyField(c.mu.degree),
			zap.Int64("decrease", n),
			zap.Error(err))
		return
	}
	c.mu.degree -= n
}
