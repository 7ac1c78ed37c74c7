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
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/matrixorigin/cubebatch/routing"
)

// OperationType is the kind of a single item operation
type OperationType int

const (
	// Create creates an item, fails with 409 if it exists
	Create OperationType = iota
	// Read reads an item
	Read
	// Replace replaces an existing item
	Replace
	// Delete deletes an existing item
	Delete
	// Upsert creates or replaces an item
	Upsert
	// Patch merges the top level fields of the body into an existing item
	Patch
)

var operationTypeNames = map[OperationType]string{
	Create:  "Create",
	Read:    "Read",
	Replace: "Replace",
	Delete:  "Delete",
	Upsert:  "Upsert",
	Patch:   "Patch",
}

func (t OperationType) String() string {
	if name, ok := operationTypeNames[t]; ok {
		return name
	}
	return "Unknown"
}

// ParseOperationType returns the type named s
func ParseOperationType(s string) (OperationType, bool) {
	for tp, name := range operationTypeNames {
		if name == s {
			return tp, true
		}
	}
	return 0, false
}

// IsWrite returns true for every type except Read
func (t OperationType) IsWrite() bool {
	return t != Read
}

// RequestOptions are optional per operation conditions
type RequestOptions struct {
	IfMatchETag     string
	IfNoneMatchETag string
}

// OperationResult is the outcome of one operation reported by the store.
// A non-2xx result is still a result: only failed dispatches produce errors.
type OperationResult struct {
	StatusCode    int
	SubStatusCode int
	RequestCharge float64
	ETag          string
	RetryAfter    time.Duration
	ResourceBody  jsoniter.RawMessage
	Diagnostics   string
}

// IsSuccess returns true for 2xx results
func (r OperationResult) IsSuccess() bool {
	return isSuccess(r.StatusCode)
}

func (r OperationResult) isThrottled() bool {
	return r.StatusCode == http.StatusTooManyRequests
}

func (r OperationResult) retryInput() RetryInput {
	return RetryInput{
		StatusCode:    r.StatusCode,
		SubStatusCode: r.SubStatusCode,
		RetryAfter:    r.RetryAfter,
		Diagnostics:   r.Diagnostics,
	}
}

// Operation is a single unit of work addressed to one partition.
type Operation struct {
	// Index orders the operation within its originating submission
	Index        int
	Type         OperationType
	ID           string
	ResourceBody jsoniter.RawMessage
	Options      *RequestOptions
	// PartitionKey and EffectivePartitionKey are mutually exclusive
	PartitionKey          routing.PartitionKey
	EffectivePartitionKey string

	future  *Future
	ctx     *operationContext
	encoded []byte
}

// NewOperation returns an operation addressed by a logical partition key
func NewOperation(tp OperationType, id string, pk routing.PartitionKey, body []byte) *Operation {
	return &Operation{
		Type:         tp,
		ID:           id,
		PartitionKey: pk,
		ResourceBody: body,
		future:       newFuture(),
	}
}

// Future returns the result slot of the operation
func (op *Operation) Future() *Future {
	if op.future == nil {
		op.future = newFuture()
	}
	return op.future
}

// Validate checks the addressing and the body of the operation
func (op *Operation) Validate() error {
	hasPK := !op.PartitionKey.IsEmpty()
	hasEPK := op.EffectivePartitionKey != ""
	if hasPK && hasEPK {
		return ErrConflictingPartitionKey
	}
	if !hasPK && !hasEPK {
		return ErrMissingPartitionKey
	}
	if len(op.ResourceBody) > 0 && !json.Valid(op.ResourceBody) {
		return ErrInvalidResourceBody
	}
	return nil
}

// size returns the number of bytes the operation adds to a request body,
// including its separator.
func (op *Operation) size() (int, error) {
	if op.encoded == nil {
		data, err := encodeOperation(op)
		if err != nil {
			return 0, err
		}
		op.encoded = data
	}
	return len(op.encoded) + 1, nil
}

// attach binds a fresh context to the operation, an operation is submitted
// at most once.
func (op *Operation) attach(c *operationContext) bool {
	if op.ctx != nil {
		return false
	}
	c.future = op.Future()
	op.ctx = c
	return true
}
