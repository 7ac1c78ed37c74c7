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
	degreeOfConcurrencyGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "cubebatch",
			Subsystem: "congestion",
			Name:      "degree_of_concurrency",
			Help:      "Number of batches of a range allowed in flight.",
		}, []string{"range"})

	waitThresholdGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "cubebatch",
			Subsystem: "congestion",
			Name:      "wait_threshold_seconds",
			Help:      "Length of the congestion control window of a range.",
		}, []string{"range"})
)
