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

package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	batchCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cubebatch",
			Subsystem: "bulk",
			Name:      "batch_dispatched_total",
			Help:      "Total number of dispatched batch requests.",
		}, []string{"range", "status"})

	batchOperationsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cubebatch",
			Subsystem: "bulk",
			Name:      "operation_dispatched_total",
			Help:      "Total number of operations sent in batch requests.",
		}, []string{"range"})

	throttledOperationsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cubebatch",
			Subsystem: "congestion",
			Name:      "operation_throttled_total",
			Help:      "Total number of throttled operations seen by the congestion controller.",
		}, []string{"range"})

	congestionWindowCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cubebatch",
			Subsystem: "congestion",
			Name:      "window_total",
			Help:      "Total number of evaluated congestion windows.",
		}, []string{"range", "type"})
)
