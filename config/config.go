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

package config

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/matrixorigin/cubebatch/batch"
	"github.com/matrixorigin/cubebatch/metric"
	"github.com/matrixorigin/cubebatch/util"
	"github.com/matrixorigin/cubebatch/util/typeutil"
)

var (
	kb = 1024

	defaultLogLevel                        = "info"
	defaultMaxOperationCount               = 100
	defaultMaxBatchBytes                   = 220 * kb
	defaultDispatchInterval                = time.Millisecond * 100
	defaultCongestionInterval              = time.Second
	defaultInitialDegree             int64 = 1
	defaultMaxDegree                 int64 = 50
	defaultWaitThreshold                   = time.Millisecond * 100
	defaultTimerTick                       = time.Millisecond * 10
	defaultThrottleMaxAttempts             = 9
	defaultThrottleMaxWaitTime             = time.Second * 30
)

// Config bulk executor config
type Config struct {
	LogLevel   string           `toml:"log-level"`
	Batch      BatchConfig      `toml:"batch"`
	Congestion CongestionConfig `toml:"congestion"`
	Retry      RetryConfig      `toml:"retry"`
	Timer      TimerConfig      `toml:"timer"`
	// Metric Config
	Metric metric.Cfg `toml:"metric"`
}

// Load reads a toml config file and fills the defaults
func Load(file string) (*Config, error) {
	c := &Config{}
	if _, err := toml.DecodeFile(file, c); err != nil {
		return nil, errors.Wrapf(err, "load config %s", file)
	}
	c.Adjust()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Parse reads a toml config and fills the defaults
func Parse(data string) (*Config, error) {
	c := &Config{}
	if _, err := toml.Decode(data, c); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	c.Adjust()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Adjust adjust
func (c *Config) Adjust() {
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}

	(&c.Batch).adjust()
	(&c.Congestion).adjust()
	(&c.Retry).adjust()
	(&c.Timer).adjust()
}

// Validate returns an error for settings that can not work together
func (c *Config) Validate() error {
	if c.Congestion.InitialDegree > c.Congestion.MaxDegree {
		return errors.Newf("initial degree of concurrency %d exceeds max %d",
			c.Congestion.InitialDegree, c.Congestion.MaxDegree)
	}
	if c.Timer.Tick.Duration > c.Batch.DispatchInterval.Duration {
		return errors.Newf("timer tick %s is coarser than the dispatch interval %s",
			c.Timer.Tick.Duration, c.Batch.DispatchInterval.Duration)
	}
	return nil
}

// Options returns the batch options described by the config. The scheduler
// runs on a timeout wheel with the configured tick.
func (c *Config) Options(logger *zap.Logger, sink batch.CongestionSink) ([]batch.Option, *util.WheelScheduler) {
	scheduler := util.NewScheduler(c.Timer.Tick.Duration)
	opts := []batch.Option{
		batch.WithLogger(logger),
		batch.WithScheduler(scheduler),
		batch.WithMaxOperationCount(c.Batch.MaxOperationCount),
		batch.WithMaxBatchBytes(int(c.Batch.MaxBatchBytes)),
		batch.WithDispatchInterval(c.Batch.DispatchInterval.Duration),
		batch.WithRequestTimeout(c.Batch.RequestTimeout.Duration),
		batch.WithStatusPromotion(c.Batch.PromoteOperationStatus),
		batch.WithCongestionControlInterval(c.Congestion.Interval.Duration),
		batch.WithDegreeOfConcurrency(c.Congestion.InitialDegree, c.Congestion.MaxDegree),
		batch.WithWaitThreshold(c.Congestion.WaitThreshold.Duration),
		batch.WithThrottleRetry(c.Retry.ThrottleMaxAttempts, c.Retry.ThrottleMaxWaitTime.Duration),
	}
	if sink != nil {
		opts = append(opts, batch.WithCongestionSink(sink))
	}
	return opts, scheduler
}

// BatchConfig batch packing config
type BatchConfig struct {
	MaxOperationCount      int               `toml:"max-operation-count"`
	MaxBatchBytes          typeutil.ByteSize `toml:"max-batch-bytes"`
	DispatchInterval       typeutil.Duration `toml:"dispatch-interval"`
	RequestTimeout         typeutil.Duration `toml:"request-timeout"`
	PromoteOperationStatus bool              `toml:"promote-operation-status"`
}

func (c *BatchConfig) adjust() {
	if c.MaxOperationCount == 0 {
		c.MaxOperationCount = defaultMaxOperationCount
	}

	if c.MaxBatchBytes == 0 {
		c.MaxBatchBytes = typeutil.ByteSize(defaultMaxBatchBytes)
	}

	if c.DispatchInterval.Duration == 0 {
		c.DispatchInterval.Duration = defaultDispatchInterval
	}
}

// CongestionConfig congestion control config
type CongestionConfig struct {
	Interval      typeutil.Duration `toml:"interval"`
	InitialDegree int64             `toml:"initial-degree"`
	MaxDegree     int64             `toml:"max-degree"`
	WaitThreshold typeutil.Duration `toml:"wait-threshold"`
}

func (c *CongestionConfig) adjust() {
	if c.Interval.Duration == 0 {
		c.Interval.Duration = defaultCongestionInterval
	}

	if c.InitialDegree == 0 {
		c.InitialDegree = defaultInitialDegree
	}

	if c.MaxDegree == 0 {
		c.MaxDegree = defaultMaxDegree
	}

	if c.WaitThreshold.Duration == 0 {
		c.WaitThreshold.Duration = defaultWaitThreshold
	}
}

// RetryConfig retry config
type RetryConfig struct {
	ThrottleMaxAttempts int               `toml:"throttle-max-attempts"`
	ThrottleMaxWaitTime typeutil.Duration `toml:"throttle-max-wait-time"`
}

func (c *RetryConfig) adjust() {
	if c.ThrottleMaxAttempts == 0 {
		c.ThrottleMaxAttempts = defaultThrottleMaxAttempts
	}

	if c.ThrottleMaxWaitTime.Duration == 0 {
		c.ThrottleMaxWaitTime.Duration = defaultThrottleMaxWaitTime
	}
}

// TimerConfig timer config
type TimerConfig struct {
	Tick typeutil.Duration `toml:"tick"`
}

func (c *TimerConfig) adjust() {
	if c.Tick.Duration == 0 {
		c.Tick.Duration = defaultTimerTick
	}
}
