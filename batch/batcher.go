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
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/matrixorigin/cubebatch/components/log"
	"github.com/matrixorigin/cubebatch/util"
	"github.com/matrixorigin/cubebatch/util/stop"
)

// Batcher accumulates operations for one partition key range until it is
// full, then sends them as one request. A batcher is dispatched at most once
// and discarded afterwards.
type Batcher struct {
	logger         *zap.Logger
	rangeID        string
	executor       Executor
	retrier        Retrier
	scheduler      util.Scheduler
	runner         *stop.Stopper
	sink           CongestionSink
	promote        bool
	requestTimeout time.Duration
	clock          func() time.Time

	mu struct {
		sync.Mutex
		builder    *builder
		dispatched bool
	}
}

func newBatcher(rangeID string, executor Executor, retrier Retrier, runner *stop.Stopper, o *options) *Batcher {
	b := &Batcher{
		logger:         o.logger.Named("batcher"),
		rangeID:        rangeID,
		executor:       executor,
		retrier:        retrier,
		scheduler:      o.scheduler,
		runner:         runner,
		sink:           o.sink,
		promote:        o.promoteOperationStatus,
		requestTimeout: o.requestTimeout,
		clock:          o.clock,
	}
	b.mu.builder = newBuilder(o.maxOperationCount, o.maxBatchBytes)
	return b
}

// NewBatcher returns a standalone batcher for the given partition key range.
// Operations that need a retry are handed to retrier. Without a retrier every
// operation keeps its own result and overflow operations fail. A retry
// backoff needs WithScheduler.
func NewBatcher(rangeID string, executor Executor, retrier Retrier, opts ...Option) *Batcher {
	return newBatcher(rangeID, executor, retrier, nil, newOptions(opts...))
}

// TryAdd adds op to the batch. It returns false, leaving the batcher
// unchanged, when op does not fit or the batch was already dispatched.
func (b *Batcher) TryAdd(op *Operation) bool {
	if op.ctx == nil {
		op.attach(newOperationContext(b.rangeID, NoRetry, b.logger))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.mu.dispatched {
		return false
	}
	ok, err := b.mu.builder.tryAdd(op)
	if err != nil {
		b.logger.Error("failed to encode operation",
			log.OperationTypeField(op.Type.String()),
			log.ItemIDField(op.ID),
			zap.Error(err))
		return false
	}
	if ok {
		op.ctx.setOwner(b)
	}
	return ok
}

// IsEmpty returns true if no operation was accepted
func (b *Batcher) IsEmpty() bool {
	return b.Size() == 0
}

// Size returns the number of accepted operations
func (b *Batcher) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mu.builder.len()
}

// Dispatch sends the batch and completes every accepted operation. The
// metric is updated with the traffic of the batch whatever the outcome.
// ErrBatcherDispatched is returned on every call but the first.
func (b *Batcher) Dispatch(ctx context.Context, metric *PartitionMetric) error {
	if !b.markDispatched() {
		return ErrBatcherDispatched
	}

	start := b.clock()
	req, overflow, err := b.mu.builder.build(b.rangeID)
	if err != nil {
		if errors.Is(err, ErrEmptyBatch) {
			return nil
		}
		b.failAll(b.mu.builder.ops, err)
		metric.Add(int64(b.mu.builder.len()), b.clock().Sub(start).Milliseconds(), 0)
		return nil
	}
	for _, op := range overflow {
		b.retry(op, RetryDecision{Retry: true})
	}

	if b.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.requestTimeout)
		defer cancel()
	}

	result, execErr := b.executor.ExecuteBatch(ctx, req)
	resp, err := parseResponse(b.logger, req, result, execErr, b.promote)
	if err != nil {
		resp = failedResponse(req, &StoreError{
			StatusCode:  http.StatusInternalServerError,
			Diagnostics: result.Diagnostics,
			cause:       err,
		})
	}
	elapsed := b.clock().Sub(start)

	throttles := b.complete(req, resp)
	metric.Add(int64(len(req.Operations)), elapsed.Milliseconds(), throttles)
	b.sink.OnBatchDispatched(b.rangeID, len(req.Operations), resp.StatusCode, elapsed)

	if ce := b.logger.Check(zap.DebugLevel, "batch dispatched"); ce != nil {
		ce.Write(log.PartitionKeyRangeField(b.rangeID),
			log.ActivityIDField(req.ActivityID),
			log.BatchSizeField(len(req.Operations)),
			log.BatchBytesField(len(req.Body)),
			log.StatusCodeField(resp.StatusCode),
			zap.Duration("elapsed", elapsed))
	}
	return nil
}

// abort fails every accepted operation if the batch was never dispatched
func (b *Batcher) abort(err error) bool {
	if !b.markDispatched() {
		return false
	}
	b.failAll(b.mu.builder.ops, err)
	return true
}

func (b *Batcher) markDispatched() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mu.dispatched {
		return false
	}
	b.mu.dispatched = true
	return true
}

// complete resolves every operation of req from resp, returns the number of
// throttled operations.
func (b *Batcher) complete(req *Request, resp *Response) int64 {
	var throttles int64
	for i, op := range req.Operations {
		r := resp.Results[i]
		if r.isThrottled() {
			throttles++
		}

		if resp.Err != nil {
			if b.retrier != nil {
				if d := op.ctx.shouldRetry(b, retryInputFromError(resp.Err)); d.Retry {
					b.retry(op, d)
					continue
				}
			}
			if op.ctx.fail(b, resp.Err) {
				op.ctx.close()
			}
			continue
		}

		// without a retrier every operation keeps its own result
		if !r.IsSuccess() && b.retrier != nil {
			if d := op.ctx.shouldRetry(b, r.retryInput()); d.Retry {
				b.retry(op, d)
				continue
			}
		}
		if op.ctx.complete(b, r) {
			op.ctx.close()
		}
	}
	return throttles
}

func (b *Batcher) failAll(ops []*Operation, err error) {
	for _, op := range ops {
		if op.ctx.fail(b, err) {
			op.ctx.close()
		}
	}
}

// retry detaches op from this batcher and hands it to the retrier once the
// backoff elapsed. Overflow operations have no result yet, they fail with
// ErrNoRetrier when there is no retrier.
func (b *Batcher) retry(op *Operation, d RetryDecision) {
	if b.retrier == nil {
		if op.ctx.fail(b, ErrNoRetrier) {
			op.ctx.close()
		}
		return
	}
	if op.ctx.owner() != b {
		return
	}
	op.ctx.setOwner(nil)

	if ce := b.logger.Check(zap.DebugLevel, "retry operation"); ce != nil {
		ce.Write(log.PartitionKeyRangeField(b.rangeID),
			log.OperationIndexField(op.Index),
			log.ItemIDField(op.ID),
			zap.Duration("backoff", d.Backoff))
	}

	if d.Backoff <= 0 {
		b.doRetry(context.Background(), op)
		return
	}
	if b.scheduler == nil {
		op.ctx.failDetached(errors.Wrap(ErrNoScheduler, "schedule retry"))
		return
	}
	if _, err := b.scheduler.Schedule(d.Backoff, func() {
		b.runRetry(op)
	}); err != nil {
		op.ctx.failDetached(errors.Wrap(err, "schedule retry"))
	}
}

// runRetry leaves the scheduler goroutine, a retry may refresh routing
func (b *Batcher) runRetry(op *Operation) {
	if b.runner == nil {
		go b.doRetry(context.Background(), op)
		return
	}
	if err := b.runner.RunDetached("retry-operation", func(ctx context.Context) error {
		b.doRetry(ctx, op)
		return nil
	}, nil); err != nil {
		op.ctx.failDetached(ErrStreamerClosed)
	}
}

func (b *Batcher) doRetry(ctx context.Context, op *Operation) {
	if err := b.retrier.Retry(ctx, op); err != nil {
		op.ctx.failDetached(errors.Wrap(err, "retry operation"))
	}
}
