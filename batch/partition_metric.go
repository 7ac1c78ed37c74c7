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
	"sync/atomic"
)

// PartitionMetric accumulates the traffic of one partition key range. The
// counters only grow, the congestion controller diffs snapshots to get the
// traffic of a window.
type PartitionMetric struct {
	atomic struct {
		items     int64
		timeMs    int64
		throttles int64
	}
}

// MetricSnapshot is a point in time copy of a PartitionMetric
type MetricSnapshot struct {
	NumberOfItemsOperatedOn int64
	TimeTakenInMilliseconds int64
	NumberOfThrottles       int64
}

// NewPartitionMetric returns a zero metric
func NewPartitionMetric() *PartitionMetric {
	return &PartitionMetric{}
}

// Add merges the deltas of one dispatched batch, negative deltas are ignored
func (m *PartitionMetric) Add(items, timeMs, throttles int64) {
	if items > 0 {
		atomic.AddInt64(&m.atomic.items, items)
	}
	if timeMs > 0 {
		atomic.AddInt64(&m.atomic.timeMs, timeMs)
	}
	if throttles > 0 {
		atomic.AddInt64(&m.atomic.throttles, throttles)
	}
}

// Snapshot returns the current counters
func (m *PartitionMetric) Snapshot() MetricSnapshot {
	return MetricSnapshot{
		NumberOfItemsOperatedOn: atomic.LoadInt64(&m.atomic.items),
		TimeTakenInMilliseconds: atomic.LoadInt64(&m.atomic.timeMs),
		NumberOfThrottles:       atomic.LoadInt64(&m.atomic.throttles),
	}
}

// Sub returns s - previous
func (s MetricSnapshot) Sub(previous MetricSnapshot) MetricSnapshot {
	return MetricSnapshot{
		NumberOfItemsOperatedOn: s.NumberOfItemsOperatedOn - previous.NumberOfItemsOperatedOn,
		TimeTakenInMilliseconds: s.TimeTakenInMilliseconds - previous.TimeTakenInMilliseconds,
		NumberOfThrottles:       s.NumberOfThrottles - previous.NumberOfThrottles,
	}
}
