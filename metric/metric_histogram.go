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
	batchSizeHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "cubebatch",
			Subsystem: "bulk",
			Name:      "batch_operations",
			Help:      "Bucketed histogram of the number of operations per batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2.0, 8),
		})

	batchDurationHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "cubebatch",
			Subsystem: "bulk",
			Name:      "batch_duration_seconds",
			Help:      "Bucketed histogram of batch round trip duration.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2.0, 20),
		})
)
