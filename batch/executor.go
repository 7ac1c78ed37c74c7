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
	"time"
)

// ExecutionResult is the raw outcome of one batch round trip
type ExecutionResult struct {
	StatusCode  int
	Headers     map[string]string
	Body        []byte
	Diagnostics string
}

// Executor sends one packed batch request to the partitioned store. A
// transport failure, or a failure of the request as a whole, is returned as
// an error, preferably a *StoreError.
type Executor interface {
	ExecuteBatch(ctx context.Context, req *Request) (ExecutionResult, error)
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, req *Request) (ExecutionResult, error)

// ExecuteBatch implements Executor
func (f ExecutorFunc) ExecuteBatch(ctx context.Context, req *Request) (ExecutionResult, error) {
	return f(ctx, req)
}

// Retrier re-submits a single operation outside of the batch it failed in.
// On success the operation is owned by whichever batcher accepted it.
type Retrier interface {
	Retry(ctx context.Context, op *Operation) error
}

// CongestionSink receives the telemetry of batch dispatching and of the
// congestion controller.
type CongestionSink interface {
	// OnBatchDispatched is called once per dispatched batch
	OnBatchDispatched(rangeID string, operations int, statusCode int, elapsed time.Duration)
	// OnCongestionWindow is called once per evaluated congestion window
	OnCongestionWindow(rangeID string, degree int64, waitThreshold time.Duration, throttles, items int64)
}

type noopSink struct{}

func (noopSink) OnBatchDispatched(string, int, int, time.Duration) {}
func (noopSink) OnCongestionWindow(string, int64, time.Duration, int64, int64) {}
