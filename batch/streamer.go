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
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/matrixorigin/cubebatch/components/log"
	"github.com/matrixorigin/cubebatch/util"
	"github.com/matrixorigin/cubebatch/util/stop"
)

// Streamer turns a stream of operations for one partition key range into
// batches. A batch is sent as soon as it is full, or when the dispatch timer
// fires while it is partially filled. The number of batches in flight is
// limited by the congestion controller.
type Streamer struct {
	logger     *zap.Logger
	rangeID    string
	executor   Executor
	retrier    Retrier
	opts       *options
	metric     *PartitionMetric
	congestion *congestionController
	runner     *stop.Stopper
	// nil when the scheduler was injected
	ownedScheduler *util.WheelScheduler

	atomic struct {
		dispatched uint64
	}

	mu struct {
		sync.Mutex
		closed          bool
		current         *Batcher
		dispatchTimer   util.Timeout
		congestionTimer util.Timeout
	}
}

// NewStreamer returns a running streamer for the partition key range rangeID
func NewStreamer(rangeID string, executor Executor, retrier Retrier, opts ...Option) *Streamer {
	o := newOptions(opts...)
	owned := o.ownScheduler()
	s := newStreamer(rangeID, executor, retrier, o)
	s.ownedScheduler = owned
	return s
}

func newStreamer(rangeID string, executor Executor, retrier Retrier, o *options) *Streamer {
	logger := o.logger.Named("streamer").With(log.PartitionKeyRangeField(rangeID))
	metric := NewPartitionMetric()
	s := &Streamer{
		logger:     logger,
		rangeID:    rangeID,
		executor:   executor,
		retrier:    retrier,
		opts:       o,
		metric:     metric,
		congestion: newCongestionController(rangeID, metric, o),
		runner:     stop.NewStopper("streamer-"+rangeID, o.logger),
	}

	s.mu.Lock()
	s.mu.current = s.newBatcher()
	s.scheduleDispatchLocked()
	s.scheduleCongestionLocked()
	s.mu.Unlock()
	return s
}

// RangeID returns the partition key range served by the streamer
func (s *Streamer) RangeID() string {
	return s.rangeID
}

// Metric returns the traffic counters of the streamer
func (s *Streamer) Metric() *PartitionMetric {
	return s.metric
}

// DegreeOfConcurrency returns the current number of batches allowed in flight
func (s *Streamer) DegreeOfConcurrency() int64 {
	return s.congestion.degree()
}

// DispatchCount returns the number of batches handed to dispatch so far
func (s *Streamer) DispatchCount() uint64 {
	return atomic.LoadUint64(&s.atomic.dispatched)
}

// Add queues op into the current batch. A full batch is replaced by a fresh
// one and dispatched. Failures are reported through the operation's future.
func (s *Streamer) Add(op *Operation) {
	if op.ctx == nil {
		op.attach(newOperationContext(s.rangeID, s.opts.retryPolicyFactory(), s.opts.logger))
	} else {
		op.ctx.setRangeID(s.rangeID)
	}
	if err := op.Validate(); err != nil {
		op.ctx.failDetached(errors.Wrapf(err, "operation %d", op.Index))
		return
	}
	if _, err := op.size(); err != nil {
		op.ctx.failDetached(errors.Wrap(err, "encode operation"))
		return
	}

	s.mu.Lock()
	if s.mu.closed {
		s.mu.Unlock()
		op.ctx.failDetached(ErrStreamerClosed)
		return
	}

	var full *Batcher
	if !s.mu.current.TryAdd(op) {
		full = s.mu.current
		s.mu.current = s.newBatcher()
		// an empty batcher takes any encodable operation
		s.mu.current.TryAdd(op)
	}
	s.mu.Unlock()

	if full != nil {
		s.dispatch(full)
	}
}

// Close stops both timers and the detached task runner. Operations of the
// batch that was not dispatched yet are closed, batches in flight complete
// on their own.
func (s *Streamer) Close() {
	s.mu.Lock()
	if s.mu.closed {
		s.mu.Unlock()
		return
	}
	s.mu.closed = true
	if s.mu.dispatchTimer != nil {
		s.mu.dispatchTimer.Stop()
	}
	if s.mu.congestionTimer != nil {
		s.mu.congestionTimer.Stop()
	}
	abandoned := s.mu.current
	s.mu.Unlock()

	abandoned.abort(ErrOperationClosed)
	s.runner.Cancel()
	if s.ownedScheduler != nil {
		s.ownedScheduler.Stop()
	}
	s.logger.Info("streamer closed",
		zap.Uint64("dispatched", s.DispatchCount()))
}

func (s *Streamer) newBatcher() *Batcher {
	return newBatcher(s.rangeID, s.executor, s.retrier, s.runner, s.opts)
}

// dispatch sends b from a detached task, the caller never waits for it
func (s *Streamer) dispatch(b *Batcher) {
	atomic.AddUint64(&s.atomic.dispatched, 1)
	if err := s.runner.RunDetached("dispatch-batch", func(ctx context.Context) error {
		if err := s.congestion.acquire(ctx); err != nil {
			return errors.Wrap(err, "acquire dispatch permit")
		}
		defer s.congestion.release()
		// the round trip outlives Close
		return b.Dispatch(context.Background(), s.metric)
	}, func(err error) {
		s.logger.Error("failed to dispatch batch",
			log.BatchSizeField(b.Size()),
			zap.Error(err))
		b.abort(err)
	}); err != nil {
		b.abort(ErrStreamerClosed)
	}
}

func (s *Streamer) scheduleDispatchLocked() {
	t, err := s.opts.scheduler.Schedule(s.opts.dispatchInterval, s.onDispatchTimer)
	if err != nil {
		s.logger.Error("failed to schedule dispatch timer", zap.Error(err))
		return
	}
	s.mu.dispatchTimer = t
}

func (s *Streamer) scheduleCongestionLocked() {
	t, err := s.opts.scheduler.Schedule(s.opts.congestionControlInterval, s.onCongestionTimer)
	if err != nil {
		s.logger.Error("failed to schedule congestion timer", zap.Error(err))
		return
	}
	s.mu.congestionTimer = t
}

func (s *Streamer) onDispatchTimer() {
	s.mu.Lock()
	if s.mu.closed {
		s.mu.Unlock()
		return
	}
	var partial *Batcher
	if !s.mu.current.IsEmpty() {
		partial = s.mu.current
		s.mu.current = s.newBatcher()
	}
	s.scheduleDispatchLocked()
	s.mu.Unlock()

	if partial != nil {
		s.dispatch(partial)
	}
}

func (s *Streamer) onCongestionTimer() {
	s.mu.Lock()
	if s.mu.closed {
		s.mu.Unlock()
		return
	}
	s.scheduleCongestionLocked()
	s.mu.Unlock()

	if err := s.runner.RunNamedTask("congestion-control", s.congestion.tick); err != nil {
		s.logger.Debug("congestion control skipped", zap.Error(err))
	}
}
