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

package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("unknown"))
}

func TestAdjust(t *testing.T) {
	logger := zap.NewNop()
	assert.Equal(t, logger, Adjust(logger))
	assert.NotNil(t, Adjust(nil))
}

func TestIndexesField(t *testing.T) {
	f := IndexesField("indexes", []int{1, 2, 3})
	assert.Equal(t, "indexes", f.Key)
	assert.Equal(t, "[1,2,3]", f.String)

	f = IndexesField("indexes", nil)
	assert.Equal(t, "[]", f.String)
}
