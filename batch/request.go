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
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/matrixorigin/cubebatch/routing"
)

// Request is one server batch request: ordered operations sharing a routing
// destination.
type Request struct {
	// PartitionKeyRangeID is set for bulk requests
	PartitionKeyRangeID string
	// PartitionKey is set for transactional requests
	PartitionKey routing.PartitionKey
	// Atomic requests succeed or fail as a whole
	Atomic bool
	// ContinueOnError lets the store execute the remaining operations after
	// one failed
	ContinueOnError bool
	ActivityID      string
	Operations      []*Operation
	Body            []byte
}

// builder packs operations into one request honoring the count and byte
// limits. The first operation is always accepted so that an oversized
// operation still reaches the store and gets a proper error.
type builder struct {
	maxCount int
	maxBytes int
	bytes    int
	ops      []*Operation
}

func newBuilder(maxCount, maxBytes int) *builder {
	return &builder{
		maxCount: maxCount,
		maxBytes: maxBytes,
	}
}

func (b *builder) len() int {
	return len(b.ops)
}

// tryAdd returns false, leaving the builder untouched, if op does not fit.
func (b *builder) tryAdd(op *Operation) (bool, error) {
	if len(b.ops) >= b.maxCount {
		return false, nil
	}
	n, err := op.size()
	if err != nil {
		return false, err
	}
	// the request body is one byte longer than its operations: brackets
	// minus the last separator
	if len(b.ops) > 0 && 1+b.bytes+n > b.maxBytes {
		return false, nil
	}

	b.ops = append(b.ops, op)
	b.bytes += n
	return true, nil
}

// build encodes a best effort request. Operations that no longer fit the
// byte limit are returned as overflow, to be routed into another request.
func (b *builder) build(rangeID string) (*Request, []*Operation, error) {
	if len(b.ops) == 0 {
		return nil, nil, ErrEmptyBatch
	}

	var encoded [][]byte
	var overflow []*Operation
	// brackets
	size := 2
	for i, op := range b.ops {
		n, err := op.size()
		if err != nil {
			return nil, nil, err
		}
		if i > 0 && size+n > b.maxBytes+1 {
			overflow = append(overflow, b.ops[i:]...)
			break
		}
		encoded = append(encoded, op.encoded)
		size += n
	}

	ops := b.ops[:len(encoded)]
	return &Request{
		PartitionKeyRangeID: rangeID,
		ContinueOnError:     true,
		ActivityID:          uuid.New().String(),
		Operations:          ops,
		Body:                encodeBody(encoded),
	}, overflow, nil
}

// buildAtomicRequest packs ops into a single atomic request for pk, failing
// instead of splitting when the limits are exceeded.
func buildAtomicRequest(pk routing.PartitionKey, ops []*Operation, maxCount, maxBytes int) (*Request, error) {
	if len(ops) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(ops) > maxCount {
		return nil, errors.Wrapf(ErrBatchTooLarge, "%d operations, limit %d", len(ops), maxCount)
	}

	encoded := make([][]byte, 0, len(ops))
	size := 2
	for i, op := range ops {
		op.Index = i
		n, err := op.size()
		if err != nil {
			return nil, err
		}
		encoded = append(encoded, op.encoded)
		size += n
	}
	if size-1 > maxBytes {
		return nil, errors.Wrapf(ErrBatchTooLarge, "%d bytes, limit %d", size-1, maxBytes)
	}

	return &Request{
		PartitionKey: pk,
		Atomic:       true,
		ActivityID:   uuid.New().String(),
		Operations:   ops,
		Body:         encodeBody(encoded),
	}, nil
}
