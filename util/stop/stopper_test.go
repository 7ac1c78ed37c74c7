// Copyright 2021 MatrixOrigin.
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
package stop

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestRunTaskOnNotRunning(t *testing.T) {
	s := NewStopper("test", nil)
	s.Stop()
	assert.Equal(t, ErrUnavailable, s.RunTask(func(ctx context.Context) {

	}))
}

func TestRunTask(t *testing.T) {
	s := NewStopper("test", nil)
	defer s.Stop()

	c := make(chan struct{})
	s.RunTask(func(ctx context.Context) {
		close(c)
	})
	select {
	case <-c:
		break
	case <-time.After(time.Second):
		assert.Fail(t, "run task timeout")
	}
}

func TestRunTaskWithTimeout(t *testing.T) {
	s := NewStopper("test", nil)

	s.RunNamedTask("timeout", func(ctx context.Context) {
		time.Sleep(time.Second)
	})

	names, err := s.StopWithTimeout(time.Millisecond * 10)
	assert.Error(t, err)
	assert.Equal(t, 1, len(names))
	assert.Equal(t, "timeout", names[0])
}

func TestRunDetachedErrorIsHandled(t *testing.T) {
	s := NewStopper("test", nil)
	defer s.Stop()

	errC := make(chan error, 1)
	errBoom := errors.New("boom")
	assert.NoError(t, s.RunDetached("failed", func(ctx context.Context) error {
		return errBoom
	}, func(err error) {
		errC <- err
	}))

	select {
	case err := <-errC:
		assert.True(t, errors.Is(err, errBoom))
	case <-time.After(time.Second):
		assert.Fail(t, "error handler not called")
	}
}

func TestRunDetachedPanicIsHandled(t *testing.T) {
	s := NewStopper("test", nil)
	defer s.Stop()

	errC := make(chan error, 1)
	assert.NoError(t, s.RunDetached("panic", func(ctx context.Context) error {
		panic("bad")
	}, func(err error) {
		errC <- err
	}))

	select {
	case err := <-errC:
		assert.True(t, errors.Is(err, ErrTaskPanic))
	case <-time.After(time.Second):
		assert.Fail(t, "error handler not called")
	}
}

func TestCancelDoesNotWait(t *testing.T) {
	s := NewStopper("test", nil)

	release := make(chan struct{})
	defer close(release)
	s.RunNamedTask("blocked", func(ctx context.Context) {
		<-release
	})

	done := make(chan struct{})
	go func() {
		s.Cancel()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		assert.Fail(t, "cancel blocked on running task")
	}
	assert.Equal(t, ErrUnavailable, s.RunTask(func(ctx context.Context) {}))
}
