// Copyright 2020 MatrixOrigin.
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
	"bytes"
	"time"

	"github.com/fagongzi/util/format"
	"github.com/fagongzi/util/hack"
	"go.uber.org/zap"
)

// ReasonField returns zap.StringField
func ReasonField(why string) zap.Field {
	return zap.String("reason", why)
}

// PartitionKeyRangeField returns the partition key range id field
func PartitionKeyRangeField(id string) zap.Field {
	return zap.String("pk-range", id)
}

// ActivityIDField returns the batch activity id field
func ActivityIDField(id string) zap.Field {
	return zap.String("activity-id", id)
}

// OperationIndexField returns zap.IntField
func OperationIndexField(index int) zap.Field {
	return zap.Int("operation-index", index)
}

// OperationTypeField returns zap.StringField
func OperationTypeField(tp string) zap.Field {
	return zap.String("operation-type", tp)
}

// ItemIDField returns zap.StringField
func ItemIDField(id string) zap.Field {
	return zap.String("item-id", id)
}

// BatchSizeField returns zap.IntField
func BatchSizeField(n int) zap.Field {
	return zap.Int("batch-size", n)
}

// BatchBytesField returns zap.IntField
func BatchBytesField(n int) zap.Field {
	return zap.Int("batch-bytes", n)
}

// StatusCodeField returns zap.IntField
func StatusCodeField(code int) zap.Field {
	return zap.Int("status-code", code)
}

// SubStatusCodeField returns zap.IntField
func SubStatusCodeField(code int) zap.Field {
	return zap.Int("sub-status-code", code)
}

// DegreeOfConcurrencyField returns zap.IntField
func DegreeOfConcurrencyField(degree int64) zap.Field {
	return zap.Int64("degree-of-concurrency", degree)
}

// WaitThresholdField returns zap.DurationField
func WaitThresholdField(d time.Duration) zap.Field {
	return zap.Duration("wait-threshold", d)
}

// AttemptField returns zap.IntField
func AttemptField(n int) zap.Field {
	return zap.Int("attempt", n)
}

// IndexesField formats operation indexes as "[1,2,3]"
func IndexesField(key string, indexes []int) zap.Field {
	var info bytes.Buffer
	info.WriteString("[")
	for i, idx := range indexes {
		if i > 0 {
			info.WriteString(",")
		}
		info.WriteString(format.Int64ToString(int64(idx)))
	}
	info.WriteString("]")
	return zap.String(key, hack.SliceToString(info.Bytes()))
}
