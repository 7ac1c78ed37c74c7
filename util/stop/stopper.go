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
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/matrixorigin/cubebatch/components/log"
)

var (
	// ErrUnavailable stopper is not running
	ErrUnavailable = errors.New("runner is unavailable")
	// ErrTaskPanic a detached task panicked
	ErrTaskPanic = errors.New("detached task panicked")
)

var (
	defaultWaitStoppedTimeout = time.Minute
)

type state int

const (
	running  = state(0)
	stopping = state(1)
	stopped  = state(2)
)

// Stopper runs detached tasks, each in its own goroutine. The caller that
// spawns a task never waits for it, but a task's error is never dropped: it
// is handed to the task's error handler, or logged when there is none.
// When Stop is called, all task contexts are cancelled and tasks that do not
// exit within the timeout are reported by name.
type Stopper struct {
	name    string
	logger  *zap.Logger
	stopC   chan struct{}
	cancels sync.Map // id -> cancelFunc
	tasks   sync.Map // id -> name

	atomic struct {
		lastID    uint64
		taskCount int64
	}

	mu struct {
		sync.RWMutex
		state state
	}
}

// NewStopper create a stopper
func NewStopper(name string, logger *zap.Logger) *Stopper {
	s := &Stopper{
		name:   name,
		logger: log.Adjust(logger).Named(name),
		stopC:  make(chan struct{}),
	}
	s.mu.state = running
	return s
}

// RunTask run a task that can be cancelled. See RunDetached.
func (s *Stopper) RunTask(task func(context.Context)) error {
	return s.RunNamedTask("undefined", task)
}

// RunNamedTask run a named task that returns nothing.
func (s *Stopper) RunNamedTask(name string, task func(context.Context)) error {
	return s.RunDetached(name, func(ctx context.Context) error {
		task(ctx)
		return nil
	}, nil)
}

// RunDetached runs task in a new goroutine. A non-nil error returned by the
// task, or a recovered panic, is passed to onError. ErrUnavailable is
// returned if the stopper is not running, in which case the task never runs.
func (s *Stopper) RunDetached(name string, task func(context.Context) error, onError func(error)) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.mu.state != running {
		return ErrUnavailable
	}

	id, ctx := s.allocate()
	s.setupTask(id, name)
	go func() {
		defer s.shutdownTask(id)

		if err := s.runRecovered(ctx, name, task); err != nil {
			if onError != nil {
				onError(err)
				return
			}
			s.logger.Error("detached task failed",
				zap.String("task", name),
				zap.Error(err))
		}
	}()
	return nil
}

func (s *Stopper) runRecovered(ctx context.Context, name string, task func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(ErrTaskPanic, "task %s: %v", name, r)
		}
	}()
	return task(ctx)
}

// Stop stop all task in default timeout. If some tasks do not exit within the specified time,
// the names of these tasks will be returned for analysis.
func (s *Stopper) Stop() ([]string, error) {
	return s.StopWithTimeout(defaultWaitStoppedTimeout)
}

// Cancel cancels every running task and rejects new ones without waiting
// for running tasks to exit.
func (s *Stopper) Cancel() {
	if !s.beginStop() {
		return
	}
	s.cancelAll()
	s.mu.Lock()
	s.mu.state = stopped
	s.mu.Unlock()
	close(s.stopC)
}

// StopWithTimeout stop all task in specified timeout. If some tasks do not exit within the specified time,
// the names of these tasks will be returned for analysis.
func (s *Stopper) StopWithTimeout(timeout time.Duration) ([]string, error) {
	if !s.beginStop() {
		<-s.stopC // wait concurrent stop completed
		return s.runningTasks(), nil
	}

	defer func() {
		s.mu.Lock()
		s.mu.state = stopped
		s.mu.Unlock()
		close(s.stopC)
	}()

	s.cancelAll()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return s.runningTasks(), errors.Newf("%s: waiting for tasks complete timeout", s.name)
		default:
			if s.TaskCount() == 0 {
				return nil, nil
			}
		}

		time.Sleep(time.Millisecond * 5)
	}
}

// TaskCount returns the number of running tasks
func (s *Stopper) TaskCount() int64 {
	return atomic.LoadInt64(&s.atomic.taskCount)
}

// beginStop moves the stopper to stopping, returns false if another caller
// already did.
func (s *Stopper) beginStop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mu.state != running {
		return false
	}
	s.mu.state = stopping
	return true
}

func (s *Stopper) cancelAll() {
	s.cancels.Range(func(key, value interface{}) bool {
		cancel := value.(context.CancelFunc)
		cancel()
		return true
	})
}

func (s *Stopper) runningTasks() []string {
	if s.TaskCount() == 0 {
		return nil
	}

	var tasks []string
	s.tasks.Range(func(key, value interface{}) bool {
		tasks = append(tasks, value.(string))
		return true
	})
	return tasks
}

func (s *Stopper) setupTask(id uint64, name string) {
	s.tasks.Store(id, name)
	atomic.AddInt64(&s.atomic.taskCount, 1)
}

func (s *Stopper) shutdownTask(id uint64) {
	if cancel, ok := s.cancels.LoadAndDelete(id); ok {
		cancel.(context.CancelFunc)()
	}
	s.tasks.Delete(id)
	atomic.AddInt64(&s.atomic.taskCount, -1)
}

func (s *Stopper) allocate() (uint64, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	id := atomic.AddUint64(&s.atomic.lastID, 1)
	s.cancels.Store(id, cancel)
	return id, ctx
}
