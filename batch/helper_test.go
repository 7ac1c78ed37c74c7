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
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/cubebatch/routing"
	"github.com/matrixorigin/cubebatch/util"
)

var (
	testDispatchInterval   = time.Millisecond * 100
	testCongestionInterval = time.Hour
)

// manualScheduler runs callbacks only when the test fires them
type manualScheduler struct {
	mu      sync.Mutex
	pending []*manualTimeout
}

type manualTimeout struct {
	s     *manualScheduler
	after time.Duration
	fn    func()
}

func (s *manualScheduler) Schedule(after time.Duration, fn func()) (util.Timeout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimeout{s: s, after: after, fn: fn}
	s.pending = append(s.pending, t)
	return t, nil
}

func (t *manualTimeout) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i, p := range t.s.pending {
		if p == t {
			t.s.pending = append(t.s.pending[:i], t.s.pending[i+1:]...)
			return true
		}
	}
	return false
}

// fire runs every pending callback scheduled with the given delay
func (s *manualScheduler) fire(after time.Duration) int {
	s.mu.Lock()
	var due, kept []*manualTimeout
	for _, t := range s.pending {
		if t.after == after {
			due = append(due, t)
		} else {
			kept = append(kept, t)
		}
	}
	s.pending = kept
	s.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
	return len(due)
}

func (s *manualScheduler) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// timerScheduler runs callbacks on runtime timers
type timerScheduler struct{}

func (timerScheduler) Schedule(after time.Duration, fn func()) (util.Timeout, error) {
	return time.AfterFunc(after, fn), nil
}

type testExecutor struct {
	sync.Mutex
	requests []*Request
	fn       func(ctx context.Context, req *Request) (ExecutionResult, error)
}

func newTestExecutor(fn func(ctx context.Context, req *Request) (ExecutionResult, error)) *testExecutor {
	return &testExecutor{fn: fn}
}

func (e *testExecutor) ExecuteBatch(ctx context.Context, req *Request) (ExecutionResult, error) {
	e.Lock()
	e.requests = append(e.requests, req)
	e.Unlock()
	return e.fn(ctx, req)
}

func (e *testExecutor) getRequests() []*Request {
	e.Lock()
	defer e.Unlock()
	return append([]*Request(nil), e.requests...)
}

type testRetrier struct {
	sync.Mutex
	ops []*Operation
	err error
}

func (r *testRetrier) Retry(ctx context.Context, op *Operation) error {
	r.Lock()
	defer r.Unlock()
	r.ops = append(r.ops, op)
	return r.err
}

func (r *testRetrier) getOps() []*Operation {
	r.Lock()
	defer r.Unlock()
	return append([]*Operation(nil), r.ops...)
}

func newTestOperation(id string) *Operation {
	return NewOperation(Upsert, id, routing.NewPartitionKey("pk-"+id), []byte(`{"id":"`+id+`"}`))
}

func newTestOperations(n int) []*Operation {
	ops := make([]*Operation, 0, n)
	for i := 0; i < n; i++ {
		ops = append(ops, newTestOperation(fmt.Sprintf("item-%d", i)))
	}
	return ops
}

func testResults(t *testing.T, statusCode int, records ...ResultRecord) ExecutionResult {
	body, err := EncodeResults(records)
	require.NoError(t, err)
	return ExecutionResult{
		StatusCode: statusCode,
		Headers:    map[string]string{},
		Body:       body,
	}
}

// successExecutor answers every operation with 200
func successExecutor(t *testing.T) *testExecutor {
	return newTestExecutor(func(ctx context.Context, req *Request) (ExecutionResult, error) {
		records := make([]ResultRecord, 0, len(req.Operations))
		for range req.Operations {
			records = append(records, ResultRecord{StatusCode: http.StatusOK, RequestCharge: 1})
		}
		return testResults(t, http.StatusOK, records...), nil
	})
}

func waitFuture(t *testing.T, f *Future) (OperationResult, error) {
	select {
	case <-f.Done():
	case <-time.After(time.Second * 5):
		require.FailNow(t, "wait future timeout")
	}
	return f.Get(context.Background())
}

func waitUntil(t *testing.T, cond func() bool) {
	deadline := time.Now().Add(time.Second * 5)
	for !cond() {
		if time.Now().After(deadline) {
			require.FailNow(t, "wait condition timeout")
		}
		time.Sleep(time.Millisecond)
	}
}

func newTestStreamer(executor Executor, retrier Retrier, scheduler util.Scheduler, opts ...Option) *Streamer {
	opts = append([]Option{
		WithScheduler(scheduler),
		WithDispatchInterval(testDispatchInterval),
		WithCongestionControlInterval(testCongestionInterval),
	}, opts...)
	return NewStreamer("0", executor, retrier, opts...)
}
