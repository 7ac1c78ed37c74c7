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

package batch

import (
	"fmt"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
)

// Sub-status codes reported by the store along with http.StatusGone when the
// routing information the client used is stale.
const (
	SubStatusUnknown                      = 0
	SubStatusNameCacheIsStale             = 1000
	SubStatusPartitionKeyRangeGone        = 1002
	SubStatusCompletingSplit              = 1007
	SubStatusCompletingPartitionMigration = 1008
)

// Response headers consulted by the response parser.
const (
	HeaderSubStatus     = "x-ms-substatus"
	HeaderRetryAfterMs  = "x-ms-retry-after-ms"
	HeaderRequestCharge = "x-ms-request-charge"
	HeaderActivityID    = "x-ms-activity-id"
)

var (
	// ErrConflictingPartitionKey both partition key and effective partition key are set
	ErrConflictingPartitionKey = errors.New("partition key and effective partition key are mutually exclusive")
	// ErrMissingPartitionKey neither partition key nor effective partition key is set
	ErrMissingPartitionKey = errors.New("missing partition key")
	// ErrInvalidResourceBody the resource body is not valid JSON
	ErrInvalidResourceBody = errors.New("resource body is not valid JSON")
	// ErrBatchTooLarge an atomic batch exceeds the operation count or byte size limit
	ErrBatchTooLarge = errors.New("atomic batch exceeds size limits")
	// ErrEmptyBatch a batch request without operations
	ErrEmptyBatch = errors.New("batch has no operations")
	// ErrBatcherDispatched a batcher is dispatched at most once
	ErrBatcherDispatched = errors.New("batcher already dispatched")
	// ErrOwnerMismatch an operation was completed by a batcher that does not own it
	ErrOwnerMismatch = errors.New("operation completed by a batcher that does not own it")
	// ErrOperationClosed the operation was closed before a result was set
	ErrOperationClosed = errors.New("operation closed before completion")
	// ErrOperationAttached the operation was already submitted
	ErrOperationAttached = errors.New("operation already submitted")
	// ErrInvariantViolation the response does not have one result per operation
	ErrInvariantViolation = errors.New("batch response result count does not match the request")
	// ErrStreamerClosed the streamer no longer accepts operations
	ErrStreamerClosed = errors.New("streamer is closed")
	// ErrNoRetrier an operation needs a retry but no retrier is configured
	ErrNoRetrier = errors.New("no retrier configured")
	// ErrNoScheduler a retry needs a backoff but the batcher has no scheduler
	ErrNoScheduler = errors.New("no scheduler configured")
)

// StoreError is a failure reported by the partitioned store, or a transport
// failure mapped onto the store's status space.
type StoreError struct {
	StatusCode    int
	SubStatusCode int
	RetryAfter    time.Duration
	Diagnostics   string
	cause         error
}

// NewStoreError returns a store error
func NewStoreError(statusCode, subStatusCode int, diagnostics string) *StoreError {
	return &StoreError{
		StatusCode:    statusCode,
		SubStatusCode: subStatusCode,
		Diagnostics:   diagnostics,
	}
}

func (e *StoreError) Error() string {
	msg := fmt.Sprintf("store error, status %d, sub-status %d", e.StatusCode, e.SubStatusCode)
	if e.Diagnostics != "" {
		msg += ", " + e.Diagnostics
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

// Unwrap returns the underlying transport error if any
func (e *StoreError) Unwrap() error {
	return e.cause
}

// toStoreError returns the StoreError in err's chain, or wraps err as a
// service unavailable store error.
func toStoreError(err error) *StoreError {
	var se *StoreError
	if errors.As(err, &se) {
		return se
	}
	return &StoreError{
		StatusCode:  http.StatusServiceUnavailable,
		Diagnostics: "transport failure",
		cause:       err,
	}
}

func isSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode <= 299
}
