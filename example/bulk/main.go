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

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lni/goutils/syncutil"
	"github.com/montanaflynn/stats"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/matrixorigin/cubebatch/batch"
	"github.com/matrixorigin/cubebatch/components/log"
	"github.com/matrixorigin/cubebatch/config"
	"github.com/matrixorigin/cubebatch/metric"
	"github.com/matrixorigin/cubebatch/routing"
	"github.com/matrixorigin/cubebatch/storage/mem"
	"github.com/matrixorigin/cubebatch/util/stop"
)

var (
	file       = flag.String("cfg", "", "toml config file")
	operations = flag.Int("ops", 100000, "number of operations")
	workers    = flag.Int("workers", 8, "number of submitting workers")
	tenants    = flag.Int("tenants", 1000, "number of distinct partition keys")
	qps        = flag.Float64("qps", 20000, "submit rate, 0 means unlimited")
	ranges     = flag.Int("ranges", 4, "initial partition key ranges of the store")
	throughput = flag.Float64("throughput", 50000, "store request units per second per range")
	splitAfter = flag.Int("split", 0, "split the first range after this many operations, 0 disables")
	metricAddr = flag.String("metric", "", "address to serve prometheus metrics")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		panic(err)
	}
	logger := log.GetDefaultZapLoggerWithLevel(log.ParseLevel(cfg.LogLevel))
	log.UseLogger(logger)

	def := routing.Definition{Paths: []string{"/tenant"}}
	store := mem.NewStore(def,
		mem.WithLogger(logger),
		mem.WithRanges(*ranges),
		mem.WithThroughput(*throughput))
	resolver := routing.NewRoutingMap(def, store.PartitionKeyRanges, logger)

	sink := metric.NewSink()
	opts, scheduler := cfg.Options(logger, sink)
	defer scheduler.Stop()

	runner := stop.NewStopper("bulk-example", logger)
	defer runner.Stop()
	if cfg.Metric.Enabled() {
		if err := metric.StartPush(cfg.Metric, runner, logger); err != nil {
			logger.Fatal("failed to start metric pusher", zap.Error(err))
		}
	}
	if *metricAddr != "" {
		go func() {
			if err := http.ListenAndServe(*metricAddr, metric.Handler()); err != nil {
				logger.Error("metric server stopped", zap.Error(err))
			}
		}()
	}

	executor := batch.NewBulkExecutor(store, resolver, opts...)
	defer executor.Close()

	r := newReport()
	limiter := rate.NewLimiter(rate.Inf, 1)
	if *qps > 0 {
		limiter = rate.NewLimiter(rate.Limit(*qps), *workers)
	}

	var next int64
	start := time.Now()
	stopper := syncutil.NewStopper()
	for i := 0; i < *workers; i++ {
		stopper.RunWorker(func() {
			ctx := context.Background()
			for {
				n := atomic.AddInt64(&next, 1)
				if n > int64(*operations) {
					return
				}
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				if *splitAfter > 0 && n == int64(*splitAfter) {
					split(store, executor, logger)
				}
				op := newOperation(n)
				submitted := time.Now()
				f := executor.Submit(ctx, op)
				stopper.RunWorker(func() {
					result, err := f.Get(ctx)
					r.add(time.Since(submitted), result, err)
				})
			}
		})
	}
	stopper.Stop()

	r.print(time.Since(start), store.Stats(), executor)
}

func loadConfig() (*config.Config, error) {
	if *file != "" {
		return config.Load(*file)
	}
	cfg := &config.Config{}
	cfg.Adjust()
	return cfg, cfg.Validate()
}

func newOperation(n int64) *batch.Operation {
	tenant := fmt.Sprintf("tenant-%d", n%int64(*tenants))
	id := fmt.Sprintf("item-%d", n)
	body := []byte(fmt.Sprintf(`{"id":%q,"tenant":%q,"seq":%d}`, id, tenant, n))
	return batch.NewOperation(batch.Upsert, id, routing.NewPartitionKey(tenant), body)
}

func split(store *mem.Store, executor *batch.BulkExecutor, logger *zap.Logger) {
	ids := executor.Ranges()
	if len(ids) == 0 {
		return
	}
	children, err := store.Split(ids[0])
	if err != nil {
		logger.Error("failed to split range",
			log.PartitionKeyRangeField(ids[0]),
			zap.Error(err))
		return
	}
	logger.Info("range split",
		log.PartitionKeyRangeField(ids[0]),
		zap.Strings("children", children))
}

type report struct {
	sync.Mutex
	latencies stats.Float64Data
	statuses  map[int]int
	charge    float64
	failed    int
}

func newReport() *report {
	return &report{statuses: make(map[int]int)}
}

func (r *report) add(elapsed time.Duration, result batch.OperationResult, err error) {
	r.Lock()
	defer r.Unlock()

	r.latencies = append(r.latencies, float64(elapsed.Microseconds())/1000)
	if err != nil {
		r.failed++
		return
	}
	r.statuses[result.StatusCode]++
	r.charge += result.RequestCharge
}

func (r *report) print(elapsed time.Duration, s mem.Stats, executor *batch.BulkExecutor) {
	r.Lock()
	defer r.Unlock()

	fmt.Printf("operations: %d in %s (%.0f ops/s)\n",
		len(r.latencies), elapsed, float64(len(r.latencies))/elapsed.Seconds())
	fmt.Printf("failed: %d, statuses: %v, request charge: %.2f\n",
		r.failed, r.statuses, r.charge)
	fmt.Printf("store requests: %d, operations: %d, throttled: %d, gone: %d\n",
		s.Requests, s.Operations, s.Throttled, s.Gone)
	for _, p := range []float64{50, 90, 99, 99.9} {
		v, err := stats.Percentile(r.latencies, p)
		if err != nil {
			continue
		}
		fmt.Printf("p%v: %.2fms\n", p, v)
	}
	for _, id := range executor.Ranges() {
		streamer := executor.Streamer(id)
		if streamer == nil {
			continue
		}
		m := streamer.Metric().Snapshot()
		fmt.Printf("range %s: degree %d, batches %d, items %d, throttles %d\n",
			id, streamer.DegreeOfConcurrency(), streamer.DispatchCount(),
			m.NumberOfItemsOperatedOn, m.NumberOfThrottles)
	}
}
