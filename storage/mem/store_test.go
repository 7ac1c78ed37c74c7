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

package mem

import (
	"context"
	"net/http"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/fagongzi/util/format"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/cubebatch/batch"
	"github.com/matrixorigin/cubebatch/routing"
)

var (
	testDef = routing.Definition{Paths: []string{"/tenant"}}
)

func decode(t *testing.T, body []byte) []batch.ResultRecord {
	var records []batch.ResultRecord
	require.NoError(t, json.Unmarshal(body, &records))
	return records
}

func encodeRequest(t *testing.T, records ...batch.OperationRecord) []byte {
	body, err := json.Marshal(records)
	require.NoError(t, err)
	return body
}

func pkJSON(t *testing.T, v string) string {
	data, err := routing.NewPartitionKey(v).MarshalJSON()
	require.NoError(t, err)
	return string(data)
}

func rangeOf(t *testing.T, s *Store, v string) string {
	epk, err := routing.NewPartitionKey(v).EffectivePartitionKey(testDef)
	require.NoError(t, err)
	ranges, err := s.PartitionKeyRanges(context.Background())
	require.NoError(t, err)
	for _, r := range ranges {
		if r.Contains(epk) {
			return r.ID
		}
	}
	require.FailNow(t, "no range")
	return ""
}

func TestNewStoreCoversKeySpace(t *testing.T) {
	s := NewStore(testDef, WithRanges(4))
	ranges, err := s.PartitionKeyRanges(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, len(ranges))
	assert.Equal(t, "", ranges[0].MinInclusive)
	assert.Equal(t, "", ranges[3].MaxExclusive)
	for i := 1; i < len(ranges); i++ {
		assert.Equal(t, ranges[i-1].MaxExclusive, ranges[i].MinInclusive)
		assert.Equal(t, 16, len(ranges[i].MinInclusive))
	}
	assert.Equal(t, "4000000000000000", ranges[1].MinInclusive)
}

func TestExecuteBatch(t *testing.T) {
	s := NewStore(testDef)
	pk := pkJSON(t, "a")
	req := &batch.Request{
		PartitionKeyRangeID: "0",
		ActivityID:          "act",
		Body: encodeRequest(t,
			batch.OperationRecord{OperationType: "Create", PartitionKey: pk, ResourceBody: []byte(`{"id":"1","v":1}`)},
			batch.OperationRecord{OperationType: "Create", PartitionKey: pk, ResourceBody: []byte(`{"id":"1","v":2}`)},
			batch.OperationRecord{OperationType: "Read", ID: "1", PartitionKey: pk},
			batch.OperationRecord{OperationType: "Patch", ID: "1", PartitionKey: pk, ResourceBody: []byte(`{"w":3}`)},
			batch.OperationRecord{OperationType: "Read", ID: "2", PartitionKey: pk},
			batch.OperationRecord{OperationType: "Delete", ID: "1", PartitionKey: pk, IfMatch: "stale"},
		),
	}

	result, err := s.ExecuteBatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusMultiStatus, result.StatusCode)
	assert.Equal(t, "act", result.Headers[batch.HeaderActivityID])
	charge, err := format.ParseStrFloat64(result.Headers[batch.HeaderRequestCharge])
	require.NoError(t, err)
	assert.Equal(t, float64(22), charge)

	records := decode(t, result.Body)
	require.Equal(t, 6, len(records))
	assert.Equal(t, http.StatusCreated, records[0].StatusCode)
	assert.Equal(t, http.StatusConflict, records[1].StatusCode)
	assert.Equal(t, http.StatusOK, records[2].StatusCode)
	assert.JSONEq(t, `{"id":"1","v":1}`, string(records[2].ResourceBody))
	assert.Equal(t, http.StatusOK, records[3].StatusCode)
	assert.Equal(t, http.StatusNotFound, records[4].StatusCode)
	assert.Equal(t, http.StatusPreconditionFailed, records[5].StatusCode)

	body, etag, ok := s.Get(routing.NewPartitionKey("a"), "1")
	require.True(t, ok)
	assert.Equal(t, records[3].ETag, etag)
	assert.JSONEq(t, `{"id":"1","v":1,"w":3}`, string(body))
	assert.Equal(t, 1, s.ItemCount())
}

func TestExecuteBatchThrottles(t *testing.T) {
	s := NewStore(testDef, WithThroughput(10))
	pk := pkJSON(t, "a")
	req := &batch.Request{
		PartitionKeyRangeID: "0",
		Body: encodeRequest(t,
			batch.OperationRecord{OperationType: "Upsert", PartitionKey: pk, ResourceBody: []byte(`{"id":"1"}`)},
			batch.OperationRecord{OperationType: "Upsert", PartitionKey: pk, ResourceBody: []byte(`{"id":"2"}`)},
			batch.OperationRecord{OperationType: "Upsert", PartitionKey: pk, ResourceBody: []byte(`{"id":"3"}`)},
		),
	}

	result, err := s.ExecuteBatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusMultiStatus, result.StatusCode)
	records := decode(t, result.Body)
	assert.Equal(t, http.StatusCreated, records[0].StatusCode)
	assert.Equal(t, http.StatusCreated, records[1].StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, records[2].StatusCode)
	assert.True(t, records[2].RetryAfterMilliseconds > 0)
	assert.Equal(t, uint64(1), s.Stats().Throttled)
}

func TestExecuteBatchAfterSplit(t *testing.T) {
	s := NewStore(testDef)
	pk := pkJSON(t, "a")
	create := &batch.Request{
		PartitionKeyRangeID: "0",
		Body: encodeRequest(t,
			batch.OperationRecord{OperationType: "Create", PartitionKey: pk, ResourceBody: []byte(`{"id":"1"}`)}),
	}
	_, err := s.ExecuteBatch(context.Background(), create)
	require.NoError(t, err)

	ids, err := s.Split("0")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)
	assert.Equal(t, 1, s.ItemCount())

	_, err = s.ExecuteBatch(context.Background(), create)
	var se *batch.StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusGone, se.StatusCode)
	assert.Equal(t, batch.SubStatusPartitionKeyRangeGone, se.SubStatusCode)

	read := &batch.Request{
		PartitionKeyRangeID: rangeOf(t, s, "a"),
		Body: encodeRequest(t,
			batch.OperationRecord{OperationType: "Read", ID: "1", PartitionKey: pk}),
	}
	result, err := s.ExecuteBatch(context.Background(), read)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.StatusCode)

	_, err = s.Split("0")
	assert.True(t, errors.Is(err, ErrRangeNotFound))
}

func TestExecuteBatchWrongRange(t *testing.T) {
	s := NewStore(testDef, WithRanges(2))
	other := "0"
	if rangeOf(t, s, "a") == "0" {
		other = "1"
	}
	req := &batch.Request{
		PartitionKeyRangeID: other,
		Body: encodeRequest(t,
			batch.OperationRecord{OperationType: "Read", ID: "1", PartitionKey: pkJSON(t, "a")}),
	}
	result, err := s.ExecuteBatch(context.Background(), req)
	require.NoError(t, err)
	records := decode(t, result.Body)
	assert.Equal(t, http.StatusGone, records[0].StatusCode)
}

func TestExecuteAtomicBatchRollsBack(t *testing.T) {
	s := NewStore(testDef)
	pk := routing.NewPartitionKey("a")
	req := &batch.Request{
		PartitionKey: pk,
		Atomic:       true,
		Body: encodeRequest(t,
			batch.OperationRecord{OperationType: "Create", ResourceBody: []byte(`{"id":"1"}`)},
			batch.OperationRecord{OperationType: "Create", ResourceBody: []byte(`{"id":"2"}`)},
			batch.OperationRecord{OperationType: "Replace", ID: "3", ResourceBody: []byte(`{"id":"3"}`)},
		),
	}

	result, err := s.ExecuteBatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusMultiStatus, result.StatusCode)
	records := decode(t, result.Body)
	require.Equal(t, 3, len(records))
	assert.Equal(t, http.StatusFailedDependency, records[0].StatusCode)
	assert.Equal(t, http.StatusFailedDependency, records[1].StatusCode)
	assert.Equal(t, http.StatusNotFound, records[2].StatusCode)
	assert.Equal(t, 0, s.ItemCount())

	req.Body = encodeRequest(t,
		batch.OperationRecord{OperationType: "Create", ResourceBody: []byte(`{"id":"1"}`)},
		batch.OperationRecord{OperationType: "Upsert", ResourceBody: []byte(`{"id":"2"}`)})
	result, err = s.ExecuteBatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, 2, s.ItemCount())
}

func TestTransactionalBatchAgainstStore(t *testing.T) {
	s := NewStore(testDef)
	pk := routing.NewPartitionKey("a")

	tb := batch.NewTransactionalBatch(pk).
		Create([]byte(`{"id":"1"}`)).
		Create([]byte(`{"id":"2"}`))
	resp, err := batch.ExecuteTransactionalBatch(context.Background(), s, tb)
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())

	tb = batch.NewTransactionalBatch(pk).
		Delete("1", nil).
		Create([]byte(`{"id":"2"}`))
	resp, err = batch.ExecuteTransactionalBatch(context.Background(), s, tb)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, 2, s.ItemCount())
}

func TestExecuteBatchTooLarge(t *testing.T) {
	s := NewStore(testDef, WithMaxBodySize(10))
	req := &batch.Request{
		PartitionKeyRangeID: "0",
		Body: encodeRequest(t,
			batch.OperationRecord{OperationType: "Read", ID: "1", PartitionKey: pkJSON(t, "a")}),
	}
	_, err := s.ExecuteBatch(context.Background(), req)
	var se *batch.StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusRequestEntityTooLarge, se.StatusCode)
}

func TestBulkExecutorAgainstStore(t *testing.T) {
	s := NewStore(testDef, WithRanges(2))
	resolver := routing.NewRoutingMap(testDef, s.PartitionKeyRanges, nil)
	be := batch.NewBulkExecutor(s, resolver)
	defer be.Close()

	var futures []*batch.Future
	for _, tenant := range []string{"a", "b", "c", "d", "e", "f"} {
		op := batch.NewOperation(batch.Create, "", routing.NewPartitionKey(tenant), []byte(`{"id":"`+tenant+`"}`))
		futures = append(futures, be.Submit(context.Background(), op))
	}
	// ranges are split while operations are queued
	_, err := s.Split("0")
	require.NoError(t, err)

	for _, f := range futures {
		r, err := f.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, http.StatusCreated, r.StatusCode)
	}
	assert.Equal(t, 6, s.ItemCount())
}
