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
)

// Future is the result slot of an operation, set at most once.
type Future struct {
	c      chan struct{}
	result OperationResult
	err    error

	mu struct {
		sync.Mutex
		done bool
	}
}

func newFuture() *Future {
	return &Future{c: make(chan struct{})}
}

// Get blocks until the result is set or ctx is done.
func (f *Future) Get(ctx context.Context) (OperationResult, error) {
	select {
	case <-ctx.Done():
		return OperationResult{}, ctx.Err()
	case <-f.c:
		return f.result, f.err
	}
}

// Done returns a channel closed once the result is set
func (f *Future) Done() <-chan struct{} {
	return f.c
}

// IsDone returns true if the result is set
func (f *Future) IsDone() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mu.done
}

// done sets the result, returns false if it was already set
func (f *Future) done(result OperationResult, err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.mu.done {
		return false
	}
	f.result = result
	f.err = err
	f.mu.done = true
	close(f.c)
	return true
}

func (f *Future) cancel() bool {
	return f.done(OperationResult{}, ErrOperationClosed)
}
