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
	"context"
	"net/http"

	"github.com/matrixorigin/cubebatch/routing"
)

// TransactionalBatch is a group of operations on one logical partition that
// the store executes atomically: all of them take effect or none does.
type TransactionalBatch struct {
	pk  routing.PartitionKey
	ops []*Operation
}

// NewTransactionalBatch returns an empty batch for partition key pk
func NewTransactionalBatch(pk routing.PartitionKey) *TransactionalBatch {
	return &TransactionalBatch{pk: pk}
}

// PartitionKey returns the partition key shared by the operations
func (tb *TransactionalBatch) PartitionKey() routing.PartitionKey {
	return tb.pk
}

// Operations returns the operations in execution order
func (tb *TransactionalBatch) Operations() []*Operation {
	return tb.ops
}

// Create adds a create operation
func (tb *TransactionalBatch) Create(body []byte) *TransactionalBatch {
	return tb.add(Create, "", body, nil)
}

// Read adds a read operation
func (tb *TransactionalBatch) Read(id string) *TransactionalBatch {
	return tb.add(Read, id, nil, nil)
}

// Replace adds a replace operation
func (tb *TransactionalBatch) Replace(id string, body []byte, options *RequestOptions) *TransactionalBatch {
	return tb.add(Replace, id, body, options)
}

// Upsert adds an upsert operation
func (tb *TransactionalBatch) Upsert(body []byte) *TransactionalBatch {
	return tb.add(Upsert, "", body, nil)
}

// Delete adds a delete operation
func (tb *TransactionalBatch) Delete(id string, options *RequestOptions) *TransactionalBatch {
	return tb.add(Delete, id, nil, options)
}

// Patch adds a patch operation, body is merged into the stored item
func (tb *TransactionalBatch) Patch(id string, body []byte, options *RequestOptions) *TransactionalBatch {
	return tb.add(Patch, id, body, options)
}

func (tb *TransactionalBatch) add(tp OperationType, id string, body []byte, options *RequestOptions) *TransactionalBatch {
	tb.ops = append(tb.ops, &Operation{
		Type:         tp,
		ID:           id,
		ResourceBody: body,
		Options:      options,
		future:       newFuture(),
	})
	return tb
}

// ExecuteTransactionalBatch sends tb as one atomic request. The response
// takes the status of the operation that made the batch fail. A nil error
// does not mean success, check Response.IsSuccess.
func ExecuteTransactionalBatch(ctx context.Context, executor Executor, tb *TransactionalBatch, opts ...Option) (*Response, error) {
	return executeTransactionalBatch(ctx, executor, tb, newOptions(opts...))
}

func executeTransactionalBatch(ctx context.Context, executor Executor, tb *TransactionalBatch, o *options) (*Response, error) {
	if tb.pk.IsEmpty() {
		return nil, ErrMissingPartitionKey
	}
	req, err := buildAtomicRequest(tb.pk, tb.ops, o.maxOperationCount, o.maxBatchBytes)
	if err != nil {
		return nil, err
	}
	if o.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.requestTimeout)
		defer cancel()
	}

	result, execErr := executor.ExecuteBatch(ctx, req)
	resp, err := parseResponse(o.logger, req, result, execErr, true)
	if err != nil {
		return nil, err
	}
	for i, op := range req.Operations {
		if resp.Err != nil {
			op.Future().done(resp.Results[i], resp.Err)
			continue
		}
		op.Future().done(resp.Results[i], nil)
	}
	if resp.StatusCode == http.StatusMultiStatus {
		o.logger.Warn("atomic batch answered with a multi-status")
	}
	return resp, nil
}
