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
	"time"

	"go.uber.org/zap"

	"github.com/matrixorigin/cubebatch/components/log"
	"github.com/matrixorigin/cubebatch/util"
)

var (
	defaultMaxOperationCount                = 100
	defaultMaxBatchBytes                    = 220 * 1024
	defaultDispatchInterval                 = time.Millisecond * 100
	defaultCongestionControlInterval        = time.Second
	defaultInitialDegreeOfConcurrency int64 = 1
	defaultMaxDegreeOfConcurrency     int64 = 50
	defaultTimerTick                        = time.Millisecond * 10
)

type options struct {
	logger                    *zap.Logger
	maxOperationCount         int
	maxBatchBytes             int
	dispatchInterval          time.Duration
	congestionControlInterval time.Duration
	initialDegree             int64
	waitThreshold             time.Duration
	maxDegree                 int64
	requestTimeout            time.Duration
	scheduler                 util.Scheduler
	sink                      CongestionSink
	retryPolicyFactory        RetryPolicyFactory
	promoteOperationStatus    bool
	clock                     func() time.Time
}

func newOptions(opts ...Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	o.adjust()
	return o
}

func (o *options) adjust() {
	o.logger = log.Adjust(o.logger)
	if o.maxOperationCount <= 0 {
		o.maxOperationCount = defaultMaxOperationCount
	}
	if o.maxBatchBytes <= 0 {
		o.maxBatchBytes = defaultMaxBatchBytes
	}
	if o.dispatchInterval <= 0 {
		o.dispatchInterval = defaultDispatchInterval
	}
	if o.congestionControlInterval <= 0 {
		o.congestionControlInterval = defaultCongestionControlInterval
	}
	if o.maxDegree <= 0 {
		o.maxDegree = defaultMaxDegreeOfConcurrency
	}
	if o.initialDegree <= 0 {
		o.initialDegree = defaultInitialDegreeOfConcurrency
	}
	if o.initialDegree > o.maxDegree {
		o.initialDegree = o.maxDegree
	}
	if o.waitThreshold <= 0 {
		o.waitThreshold = defaultWaitThreshold
	}
	if o.sink == nil {
		o.sink = noopSink{}
	}
	if o.retryPolicyFactory == nil {
		o.retryPolicyFactory = RangeGoneRetryPolicyFactory
	}
	if o.clock == nil {
		o.clock = time.Now
	}
}

// Option configures a Streamer or a BulkExecutor
type Option func(*options)

// WithLogger set the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMaxOperationCount set the max number of operations in one request
func WithMaxOperationCount(n int) Option {
	return func(o *options) {
		o.maxOperationCount = n
	}
}

// WithMaxBatchBytes set the max request body size
func WithMaxBatchBytes(n int) Option {
	return func(o *options) {
		o.maxBatchBytes = n
	}
}

// WithDispatchInterval set the period after which a partially filled batch
// is sent anyway
func WithDispatchInterval(d time.Duration) Option {
	return func(o *options) {
		o.dispatchInterval = d
	}
}

// WithCongestionControlInterval set the period of the congestion controller
func WithCongestionControlInterval(d time.Duration) Option {
	return func(o *options) {
		o.congestionControlInterval = d
	}
}

// WithDegreeOfConcurrency set the initial and the max number of concurrent
// dispatches per partition key range
func WithDegreeOfConcurrency(initial, max int64) Option {
	return func(o *options) {
		o.initialDegree = initial
		o.maxDegree = max
	}
}

// WithWaitThreshold set the initial length of a congestion control window
func WithWaitThreshold(d time.Duration) Option {
	return func(o *options) {
		o.waitThreshold = d
	}
}

// WithRequestTimeout bounds every round trip, 0 means no bound
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) {
		o.requestTimeout = d
	}
}

// WithScheduler set the scheduler running the dispatch, congestion and retry
// timers. The caller owns it. Without one every Streamer and BulkExecutor
// runs and stops its own.
func WithScheduler(scheduler util.Scheduler) Option {
	return func(o *options) {
		o.scheduler = scheduler
	}
}

// WithCongestionSink set the telemetry sink
func WithCongestionSink(sink CongestionSink) Option {
	return func(o *options) {
		o.sink = sink
	}
}

// WithRetryPolicyFactory set the factory creating each operation's policy
func WithRetryPolicyFactory(factory RetryPolicyFactory) Option {
	return func(o *options) {
		o.retryPolicyFactory = factory
	}
}

// WithThrottleRetry retries throttled operations up to maxAttempts times
// within maxWaitTime, on top of the stale routing retry.
func WithThrottleRetry(maxAttempts int, maxWaitTime time.Duration) Option {
	return func(o *options) {
		o.retryPolicyFactory = func() RetryPolicy {
			return NewPartitionKeyRangeGoneRetryPolicy(NewThrottleRetryPolicy(maxAttempts, maxWaitTime))
		}
	}
}

// WithStatusPromotion enables promoting the first real failure of a
// multi-status response to the response status
func WithStatusPromotion(enabled bool) Option {
	return func(o *options) {
		o.promoteOperationStatus = enabled
	}
}

func withClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// ownScheduler creates a scheduler when none was injected, the returned
// wheel is nil if the caller owns the scheduler.
func (o *options) ownScheduler() *util.WheelScheduler {
	if o.scheduler != nil {
		return nil
	}
	owned := util.NewScheduler(defaultTimerTick)
	o.scheduler = owned
	return owned
}
