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
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/cubebatch/routing"
)

func TestBuilderAlwaysAcceptsFirstOperation(t *testing.T) {
	b := newBuilder(10, 1)
	ok, err := b.tryAdd(newTestOperation("big"))
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.tryAdd(newTestOperation("next"))
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, b.len())
}

func TestBuilderCountLimit(t *testing.T) {
	b := newBuilder(3, 1024*1024)
	for _, op := range newTestOperations(3) {
		ok, err := b.tryAdd(op)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := b.tryAdd(newTestOperation("x"))
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, b.len())
}

func TestBuilderByteLimit(t *testing.T) {
	ops := newTestOperations(3)
	n, err := ops[0].size()
	require.NoError(t, err)

	// room for exactly two operations
	b := newBuilder(100, 1+2*n)
	for _, op := range ops[:2] {
		ok, err := b.tryAdd(op)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := b.tryAdd(ops[2])
	assert.NoError(t, err)
	assert.False(t, ok)

	req, overflow, err := b.build("1")
	require.NoError(t, err)
	assert.Empty(t, overflow)
	assert.Equal(t, 2, len(req.Operations))
	assert.True(t, len(req.Body) <= 1+2*n)
}

func TestBuildEncodesOperationsInOrder(t *testing.T) {
	ops := newTestOperations(5)
	ops[2].Options = &RequestOptions{IfMatchETag: "etag-2"}
	b := newBuilder(100, 1024*1024)
	for _, op := range ops {
		ok, err := b.tryAdd(op)
		require.NoError(t, err)
		require.True(t, ok)
	}

	req, overflow, err := b.build("7")
	require.NoError(t, err)
	assert.Empty(t, overflow)
	assert.Equal(t, "7", req.PartitionKeyRangeID)
	assert.True(t, req.ContinueOnError)
	assert.False(t, req.Atomic)
	assert.NotEmpty(t, req.ActivityID)

	records, err := DecodeRequestBody(req.Body)
	require.NoError(t, err)
	require.Equal(t, len(ops), len(records))
	for i, r := range records {
		assert.Equal(t, ops[i].ID, r.ID)
		assert.Equal(t, "Upsert", r.OperationType)
		assert.Equal(t, `["pk-`+ops[i].ID+`"]`, r.PartitionKey)
	}
	assert.Equal(t, "etag-2", records[2].IfMatch)
}

func TestBuildEmptyBatch(t *testing.T) {
	_, _, err := newBuilder(10, 10).build("0")
	assert.True(t, errors.Is(err, ErrEmptyBatch))
}

func TestBuildAtomicRequest(t *testing.T) {
	ops := []*Operation{
		{Type: Create, ResourceBody: []byte(`{"id":"1"}`)},
		{Type: Read, ID: "2"},
	}
	pk := routing.NewPartitionKey("tenant")
	req, err := buildAtomicRequest(pk, ops, 100, 1024)
	require.NoError(t, err)
	assert.True(t, req.Atomic)
	assert.False(t, req.ContinueOnError)
	assert.Equal(t, pk, req.PartitionKey)
	assert.Equal(t, 0, ops[0].Index)
	assert.Equal(t, 1, ops[1].Index)

	_, err = buildAtomicRequest(pk, ops, 1, 1024)
	assert.True(t, errors.Is(err, ErrBatchTooLarge))

	_, err = buildAtomicRequest(pk, ops, 100, 10)
	assert.True(t, errors.Is(err, ErrBatchTooLarge))

	_, err = buildAtomicRequest(pk, nil, 100, 10)
	assert.True(t, errors.Is(err, ErrEmptyBatch))
}

func TestOperationValidate(t *testing.T) {
	op := newTestOperation("1")
	assert.NoError(t, op.Validate())

	op.EffectivePartitionKey = "05C1"
	assert.Equal(t, ErrConflictingPartitionKey, op.Validate())

	op = NewOperation(Read, "1", routing.PartitionKey{}, nil)
	assert.Equal(t, ErrMissingPartitionKey, op.Validate())

	op.EffectivePartitionKey = "05C1"
	assert.NoError(t, op.Validate())

	op.ResourceBody = []byte("{bad")
	assert.Equal(t, ErrInvalidResourceBody, op.Validate())
}

func TestParseOperationType(t *testing.T) {
	for _, tp := range []OperationType{Create, Read, Replace, Delete, Upsert, Patch} {
		v, ok := ParseOperationType(tp.String())
		assert.True(t, ok)
		assert.Equal(t, tp, v)
	}
	_, ok := ParseOperationType("Merge")
	assert.False(t, ok)
	assert.False(t, Read.IsWrite())
	assert.True(t, Patch.IsWrite())
}
