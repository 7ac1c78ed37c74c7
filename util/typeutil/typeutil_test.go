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

package typeutil

import (
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
)

func TestByteSizeFromToml(t *testing.T) {
	var v struct {
		Size ByteSize `toml:"size"`
	}
	_, err := toml.Decode(`size = "220KiB"`, &v)
	assert.NoError(t, err)
	assert.Equal(t, ByteSize(220*1024), v.Size)
}

func TestByteSizeJSON(t *testing.T) {
	b := ByteSize(1024)
	data, err := b.MarshalJSON()
	assert.NoError(t, err)

	var v ByteSize
	assert.NoError(t, v.UnmarshalJSON(data))
	assert.Equal(t, b, v)
}

func TestDurationFromToml(t *testing.T) {
	var v struct {
		Interval Duration `toml:"interval"`
	}
	_, err := toml.Decode(`interval = "150ms"`, &v)
	assert.NoError(t, err)
	assert.Equal(t, time.Millisecond*150, v.Interval.Duration)

	assert.Error(t, v.Interval.UnmarshalText([]byte("soon")))
}
