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
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"

	"github.com/matrixorigin/cubebatch/components/log"
	"github.com/matrixorigin/cubebatch/util/stop"
)

// StartPush pushes the registry to the gateway every cfg.Interval until the
// stopper is stopped.
func StartPush(cfg Cfg, stopper *stop.Stopper, logger *zap.Logger) error {
	logger = log.Adjust(logger).Named("metric")
	if !cfg.Enabled() {
		logger.Info("metric push disabled")
		return nil
	}

	logger.Info("start push metric to prometheus pushgateway",
		zap.String("job", cfg.Job),
		zap.String("addr", cfg.Addr),
		zap.Duration("interval", cfg.Interval.Duration))

	pusher := push.New(cfg.Addr, cfg.Job).
		Gatherer(registry).
		Grouping("instance", cfg.instance())
	return stopper.RunNamedTask("metric-push", func(ctx context.Context) {
		timer := time.NewTicker(cfg.Interval.Duration)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				if err := pusher.PushContext(ctx); err != nil {
					logger.Error("failed to push metric",
						zap.String("addr", cfg.Addr),
						zap.Error(err))
				}
			}
		}
	})
}
