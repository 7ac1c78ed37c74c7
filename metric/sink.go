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
	"net/http"
	"time"

	"github.com/fagongzi/util/format"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matrixorigin/cubebatch/batch"
)

// Sink reports batch and congestion telemetry to prometheus
type Sink struct {
	durations prometheus.Observer
	sizes     prometheus.Observer
}

var _ batch.CongestionSink = (*Sink)(nil)

// NewSink returns a sink writing to the metrics of this package
func NewSink() *Sink {
	return &Sink{
		durations: batchDurationHistogram,
		sizes:     batchSizeHistogram,
	}
}

// OnBatchDispatched implements batch.CongestionSink
func (s *Sink) OnBatchDispatched(rangeID string, operations int, statusCode int, elapsed time.Duration) {
	batchCounter.WithLabelValues(rangeID, format.Int64ToString(int64(statusCode))).Inc()
	batchOperationsCounter.WithLabelValues(rangeID).Add(float64(operations))
	s.sizes.Observe(float64(operations))
	s.durations.Observe(elapsed.Seconds())
}

// OnCongestionWindow implements batch.CongestionSink
func (s *Sink) OnCongestionWindow(rangeID string, degree int64, waitThreshold time.Duration, throttles, items int64) {
	degreeOfConcurrencyGauge.WithLabelValues(rangeID).Set(float64(degree))
	waitThresholdGauge.WithLabelValues(rangeID).Set(waitThreshold.Seconds())

	window := "idle"
	switch {
	case throttles > 0:
		window = "throttled"
		throttledOperationsCounter.WithLabelValues(rangeID).Add(float64(throttles))
	case items > 0:
		window = "ok"
	}
	congestionWindowCounter.WithLabelValues(rangeID, window).Inc()
}

// Handler returns an http handler serving the registry
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
