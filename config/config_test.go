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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdjust(t *testing.T) {
	c := &Config{}
	c.Adjust()
	assert.NoError(t, c.Validate())

	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, 100, c.Batch.MaxOperationCount)
	assert.Equal(t, uint64(220*1024), uint64(c.Batch.MaxBatchBytes))
	assert.Equal(t, time.Millisecond*100, c.Batch.DispatchInterval.Duration)
	assert.Equal(t, time.Second, c.Congestion.Interval.Duration)
	assert.Equal(t, int64(1), c.Congestion.InitialDegree)
	assert.Equal(t, int64(50), c.Congestion.MaxDegree)
	assert.Equal(t, time.Millisecond*100, c.Congestion.WaitThreshold.Duration)
	assert.Equal(t, time.Millisecond*10, c.Timer.Tick.Duration)
	assert.Equal(t, 9, c.Retry.ThrottleMaxAttempts)
	assert.Equal(t, time.Second*30, c.Retry.ThrottleMaxWaitTime.Duration)
}

func TestParse(t *testing.T) {
	c, err := Parse(`
log-level = "debug"

[batch]
max-operation-count = 10
max-batch-bytes = "64KiB"
dispatch-interval = "50ms"
promote-operation-status = true

[congestion]
initial-degree = 4
max-degree = 8

[metric]
addr = "127.0.0.1:9091"
interval = "15s"
job = "bulk"
`)
	require.NoError(t, err)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, 10, c.Batch.MaxOperationCount)
	assert.Equal(t, uint64(64*1024), uint64(c.Batch.MaxBatchBytes))
	assert.Equal(t, time.Millisecond*50, c.Batch.DispatchInterval.Duration)
	assert.True(t, c.Batch.PromoteOperationStatus)
	assert.Equal(t, int64(4), c.Congestion.InitialDegree)
	assert.Equal(t, int64(8), c.Congestion.MaxDegree)
	assert.Equal(t, time.Second, c.Congestion.Interval.Duration)
	assert.True(t, c.Metric.Enabled())
	assert.Equal(t, time.Second*15, c.Metric.Interval.Duration)
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse(`
[congestion]
initial-degree = 10
max-degree = 2
`)
	assert.Error(t, err)

	_, err = Parse(`
[batch]
dispatch-interval = "5ms"
[timer]
tick = "50ms"
`)
	assert.Error(t, err)

	_, err = Parse(`[batch`)
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bulk.toml")
	require.NoError(t, os.WriteFile(file, []byte("[batch]\nmax-operation-count = 7\n"), 0644))

	c, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, 7, c.Batch.MaxOperationCount)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestOptions(t *testing.T) {
	c := &Config{}
	c.Adjust()
	opts, scheduler := c.Options(nil, nil)
	defer scheduler.Stop()
	assert.Equal(t, 11, len(opts))
}
