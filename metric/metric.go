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
	registry = prometheus.NewRegistry()
)

func init() {
	registry.MustRegister(batchOperationsCounter)
	registry.MustRegister(batchCounter)
	registry.MustRegister(throttledOperationsCounter)
	registry.MustRegister(congestionWindowCounter)

	registry.MustRegister(degreeOfConcurrencyGauge)
	registry.MustRegister(waitThresholdGauge)

	registry.MustRegister(batchSizeHistogram)
	registry.MustRegister(batchDurationHistogram)
}

// Registry returns the registry holding every batch metric
func Registry() *prometheus.Registry {
	return registry
}
