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

package util

import (
	"time"

	"github.com/fagongzi/goetty"
)

// Scheduler runs callbacks once after a delay. Callbacks run on the
// scheduler's own goroutine and must not block.
type Scheduler interface {
	// Schedule arranges for fn to run after the given delay.
	Schedule(after time.Duration, fn func()) (Timeout, error)
}

// Timeout is a scheduled callback that has not fired yet.
type Timeout interface {
	// Stop prevents the callback from running, returns false if it already
	// ran or was stopped.
	Stop() bool
}

// WheelScheduler is a Scheduler backed by a goetty timeout wheel
type WheelScheduler struct {
	tw *goetty.TimeoutWheel
}

// NewScheduler returns a scheduler whose resolution is the given tick
func NewScheduler(tick time.Duration) *WheelScheduler {
	return &WheelScheduler{
		tw: goetty.NewTimeoutWheel(goetty.WithTickInterval(tick)),
	}
}

// Schedule implements Scheduler
func (s *WheelScheduler) Schedule(after time.Duration, fn func()) (Timeout, error) {
	t, err := s.tw.Schedule(after, func(interface{}) { fn() }, nil)
	if err != nil {
		return nil, err
	}
	return &wheelTimeout{t: t}, nil
}

// Stop stops the wheel, pending callbacks never run
func (s *WheelScheduler) Stop() {
	s.tw.Stop()
}

type wheelTimeout struct {
	t goetty.Timeout
}

func (w *wheelTimeout) Stop() bool {
	return w.t.Stop()
}
