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
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/matrixorigin/cubebatch/components/log"
	"github.com/matrixorigin/cubebatch/routing"
	"github.com/matrixorigin/cubebatch/util"
)

// BulkExecutor routes independent operations to one Streamer per partition
// key range. It is the Retrier of its streamers: a retried operation is
// routed again, after a routing refresh if its retry policy asked for one.
type BulkExecutor struct {
	logger   *zap.Logger
	executor Executor
	resolver routing.Resolver
	opts     *options
	// nil when the scheduler was injected
	ownedScheduler *util.WheelScheduler

	atomic struct {
		index int64
	}

	mu struct {
		sync.RWMutex
		closed    bool
		streamers map[string]*Streamer
	}
}

var _ Retrier = (*BulkExecutor)(nil)

// NewBulkExecutor returns a bulk executor sending batches with executor
func NewBulkExecutor(executor Executor, resolver routing.Resolver, opts ...Option) *BulkExecutor {
	o := newOptions(append([]Option{WithRetryPolicyFactory(DefaultRetryPolicyFactory)}, opts...)...)
	e := &BulkExecutor{
		logger:         o.logger.Named("bulk"),
		executor:       executor,
		resolver:       resolver,
		opts:           o,
		ownedScheduler: o.ownScheduler(),
	}
	e.mu.streamers = make(map[string]*Streamer)
	return e
}

// Submit queues op and returns its future. Validation and routing failures
// are reported through the future.
func (e *BulkExecutor) Submit(ctx context.Context, op *Operation) *Future {
	if op.ctx != nil {
		f := newFuture()
		f.done(OperationResult{}, ErrOperationAttached)
		return f
	}

	f := op.Future()
	if err := op.Validate(); err != nil {
		f.done(OperationResult{}, err)
		return f
	}
	op.attach(newOperationContext("", e.opts.retryPolicyFactory(), e.opts.logger))
	op.Index = int(atomic.AddInt64(&e.atomic.index, 1) - 1)

	if err := e.route(ctx, op); err != nil {
		op.ctx.failDetached(err)
	}
	return f
}

// Retry implements Retrier
func (e *BulkExecutor) Retry(ctx context.Context, op *Operation) error {
	if op.ctx == nil {
		return errors.New("retry of an operation that was never submitted")
	}
	if op.ctx.takeRefreshRouting() {
		if err := e.resolver.Refresh(ctx); err != nil {
			return errors.Wrap(err, "refresh routing")
		}
	}
	return e.route(ctx, op)
}

// ExecuteTransactionalBatch executes tb atomically with the executor and the
// limits of the bulk executor.
func (e *BulkExecutor) ExecuteTransactionalBatch(ctx context.Context, tb *TransactionalBatch) (*Response, error) {
	return executeTransactionalBatch(ctx, e.executor, tb, e.opts)
}

// Streamer returns the streamer of a partition key range, nil if the range
// got no operation yet.
func (e *BulkExecutor) Streamer(rangeID string) *Streamer {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mu.streamers[rangeID]
}

// Ranges returns the sorted ids of the partition key ranges with a streamer
func (e *BulkExecutor) Ranges() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.mu.streamers))
	for id := range e.mu.streamers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close closes every streamer, later submissions fail with ErrStreamerClosed
func (e *BulkExecutor) Close() {
	e.mu.Lock()
	if e.mu.closed {
		e.mu.Unlock()
		return
	}
	e.mu.closed = true
	streamers := e.mu.streamers
	e.mu.streamers = make(map[string]*Streamer)
	e.mu.Unlock()

	for _, s := range streamers {
		s.Close()
	}
	if e.ownedScheduler != nil {
		e.ownedScheduler.Stop()
	}
	e.logger.Info("bulk executor closed",
		zap.Int("streamers", len(streamers)))
}

func (e *BulkExecutor) route(ctx context.Context, op *Operation) error {
	rangeID, err := e.resolve(ctx, op)
	if err != nil {
		return err
	}
	s, err := e.getStreamer(rangeID)
	if err != nil {
		return err
	}
	s.Add(op)
	return nil
}

func (e *BulkExecutor) resolve(ctx context.Context, op *Operation) (string, error) {
	epk := op.EffectivePartitionKey
	if epk == "" {
		v, err := op.PartitionKey.EffectivePartitionKey(e.resolver.Definition())
		if err != nil {
			return "", errors.Wrapf(err, "operation %d", op.Index)
		}
		epk = v
	}
	rangeID, err := e.resolver.ResolveRangeID(ctx, epk)
	if err != nil {
		return "", errors.Wrapf(err, "operation %d", op.Index)
	}
	return rangeID, nil
}

func (e *BulkExecutor) getStreamer(rangeID string) (*Streamer, error) {
	e.mu.RLock()
	s, ok := e.mu.streamers[rangeID]
	closed := e.mu.closed
	e.mu.RUnlock()
	if ok {
		return s, nil
	}
	if closed {
		return nil, ErrStreamerClosed
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mu.closed {
		return nil, ErrStreamerClosed
	}
	if s, ok := e.mu.streamers[rangeID]; ok {
		return s, nil
	}
	s = newStreamer(rangeID, e.executor, e, e.opts)
	e.mu.streamers[rangeID] = s
	e.logger.Info("streamer created",
		log.PartitionKeyRangeField(rangeID))
	return s, nil
}
