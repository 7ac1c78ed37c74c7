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
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/fagongzi/util/format"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/matrixorigin/cubebatch/batch"
	"github.com/matrixorigin/cubebatch/components/log"
	"github.com/matrixorigin/cubebatch/routing"
)

var (
	json = jsoniter.ConfigCompatibleWithStandardLibrary
)

const (
	readCharge  int64 = 1
	writeCharge int64 = 5
)

// undo restores the state of one item before an operation
type undo struct {
	p   *partition
	epk string
	id  string
	old *item
}

// ExecuteBatch implements batch.Executor
func (s *Store) ExecuteBatch(ctx context.Context, req *batch.Request) (batch.ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return batch.ExecutionResult{}, err
	}
	atomic.AddUint64(&s.stats.Requests, 1)

	if s.opts.maxBodySize > 0 && len(req.Body) > s.opts.maxBodySize {
		return batch.ExecutionResult{}, batch.NewStoreError(http.StatusRequestEntityTooLarge, 0,
			fmt.Sprintf("request body %d bytes, limit %d", len(req.Body), s.opts.maxBodySize))
	}
	records, err := batch.DecodeRequestBody(req.Body)
	if err != nil {
		return batch.ExecutionResult{}, batch.NewStoreError(http.StatusBadRequest, 0, err.Error())
	}
	atomic.AddUint64(&s.stats.Operations, uint64(len(records)))

	s.mu.Lock()
	defer s.mu.Unlock()

	var results []batch.ResultRecord
	if req.Atomic {
		results, err = s.executeAtomicLocked(req, records)
	} else {
		results, err = s.executeLocked(req, records)
	}
	if err != nil {
		return batch.ExecutionResult{}, err
	}

	status := http.StatusOK
	var charge float64
	for _, r := range results {
		if r.StatusCode < 200 || r.StatusCode > 299 {
			status = http.StatusMultiStatus
		}
		charge += r.RequestCharge
	}
	body, err := batch.EncodeResults(results)
	if err != nil {
		return batch.ExecutionResult{}, err
	}

	if ce := s.logger.Check(zap.DebugLevel, "batch executed"); ce != nil {
		ce.Write(log.PartitionKeyRangeField(req.PartitionKeyRangeID),
			log.ActivityIDField(req.ActivityID),
			log.BatchSizeField(len(records)),
			log.StatusCodeField(status))
	}
	return batch.ExecutionResult{
		StatusCode: status,
		Headers: map[string]string{
			batch.HeaderRequestCharge: format.Float64ToString(charge),
			batch.HeaderActivityID:    req.ActivityID,
		},
		Body: body,
	}, nil
}

// executeLocked runs every operation independently
func (s *Store) executeLocked(req *batch.Request, records []batch.OperationRecord) ([]batch.ResultRecord, error) {
	p, err := s.partitionLocked(req.PartitionKeyRangeID)
	if err != nil {
		return nil, err
	}

	results := make([]batch.ResultRecord, 0, len(records))
	for _, r := range records {
		tp, ok := batch.ParseOperationType(r.OperationType)
		if !ok {
			results = append(results, batch.ResultRecord{StatusCode: http.StatusBadRequest})
			continue
		}

		epk, err := s.effectivePartitionKey(r)
		if err != nil {
			results = append(results, batch.ResultRecord{StatusCode: http.StatusBadRequest})
			continue
		}
		if !p.r.Contains(epk) {
			atomic.AddUint64(&s.stats.Gone, 1)
			results = append(results, batch.ResultRecord{
				StatusCode:    http.StatusGone,
				SubStatusCode: batch.SubStatusPartitionKeyRangeGone,
			})
			continue
		}

		cost := chargeOf(tp)
		if !p.charge(cost) {
			atomic.AddUint64(&s.stats.Throttled, 1)
			results = append(results, batch.ResultRecord{
				StatusCode:             http.StatusTooManyRequests,
				RetryAfterMilliseconds: int(retryAfter(p.bucket, cost).Milliseconds()),
			})
			continue
		}

		result, _ := apply(p, tp, epk, r)
		result.RequestCharge = float64(cost)
		results = append(results, result)
	}
	return results, nil
}

// executeAtomicLocked runs the operations as one transaction. On the first
// failure every change is rolled back, the failed operation keeps its status
// and every other operation reports 424.
func (s *Store) executeAtomicLocked(req *batch.Request, records []batch.OperationRecord) ([]batch.ResultRecord, error) {
	epk, err := req.PartitionKey.EffectivePartitionKey(s.def)
	if err != nil {
		return nil, batch.NewStoreError(http.StatusBadRequest, 0, err.Error())
	}
	p := s.findPartitionLocked(epk)
	if p == nil {
		return nil, batch.NewStoreError(http.StatusServiceUnavailable, 0, "no partition key range for "+epk)
	}

	var total int64
	types := make([]batch.OperationType, 0, len(records))
	for _, r := range records {
		tp, ok := batch.ParseOperationType(r.OperationType)
		if !ok {
			return nil, batch.NewStoreError(http.StatusBadRequest, 0, "unknown operation type "+r.OperationType)
		}
		types = append(types, tp)
		total += chargeOf(tp)
	}
	if !p.charge(total) {
		atomic.AddUint64(&s.stats.Throttled, 1)
		se := batch.NewStoreError(http.StatusTooManyRequests, 0, "request rate is large")
		se.RetryAfter = retryAfter(p.bucket, total)
		return nil, se
	}

	results := make([]batch.ResultRecord, 0, len(records))
	undos := make([]undo, 0, len(records))
	failed := -1
	for i, r := range records {
		result, u := apply(p, types[i], epk, r)
		result.RequestCharge = float64(chargeOf(types[i]))
		results = append(results, result)
		if u != nil {
			undos = append(undos, *u)
		}
		if result.StatusCode < 200 || result.StatusCode > 299 {
			failed = i
			break
		}
	}
	if failed < 0 {
		return results, nil
	}

	for i := len(undos) - 1; i >= 0; i-- {
		u := undos[i]
		if u.old == nil {
			u.p.delete(u.epk, u.id)
		} else {
			u.p.put(u.old)
		}
	}

	rolledBack := make([]batch.ResultRecord, len(records))
	for i := range rolledBack {
		if i == failed {
			rolledBack[i] = results[failed]
			rolledBack[i].ResourceBody = nil
			continue
		}
		rolledBack[i] = batch.ResultRecord{StatusCode: http.StatusFailedDependency}
	}
	return rolledBack, nil
}

func (s *Store) partitionLocked(rangeID string) (*partition, error) {
	if s.isGoneLocked(rangeID) {
		atomic.AddUint64(&s.stats.Gone, 1)
		return nil, batch.NewStoreError(http.StatusGone, batch.SubStatusPartitionKeyRangeGone,
			"partition key range "+rangeID+" is gone")
	}
	p, ok := s.mu.partitions[rangeID]
	if !ok {
		return nil, batch.NewStoreError(http.StatusGone, batch.SubStatusNameCacheIsStale,
			"partition key range "+rangeID+" is unknown")
	}
	return p, nil
}

func (s *Store) effectivePartitionKey(r batch.OperationRecord) (string, error) {
	if r.EffectivePartitionKey != "" {
		return r.EffectivePartitionKey, nil
	}
	var pk routing.PartitionKey
	if err := pk.UnmarshalJSON([]byte(r.PartitionKey)); err != nil {
		return "", err
	}
	return pk.EffectivePartitionKey(s.def)
}

func chargeOf(tp batch.OperationType) int64 {
	if tp.IsWrite() {
		return writeCharge
	}
	return readCharge
}

// apply runs one operation against p, returns its result and how to revert it
func apply(p *partition, tp batch.OperationType, epk string, r batch.OperationRecord) (batch.ResultRecord, *undo) {
	id := r.ID
	if id == "" && len(r.ResourceBody) > 0 {
		id = jsoniter.Get(r.ResourceBody, "id").ToString()
	}
	if id == "" {
		return batch.ResultRecord{StatusCode: http.StatusBadRequest}, nil
	}

	existing := p.get(epk, id)
	if r.IfMatch != "" && (existing == nil || existing.etag != r.IfMatch) {
		return batch.ResultRecord{StatusCode: http.StatusPreconditionFailed}, nil
	}
	if r.IfNoneMatch == "*" && existing != nil && tp != batch.Read {
		return batch.ResultRecord{StatusCode: http.StatusPreconditionFailed}, nil
	}

	switch tp {
	case batch.Read:
		if existing == nil {
			return batch.ResultRecord{StatusCode: http.StatusNotFound}, nil
		}
		if r.IfNoneMatch != "" && r.IfNoneMatch == existing.etag {
			return batch.ResultRecord{StatusCode: http.StatusNotModified, ETag: existing.etag}, nil
		}
		return batch.ResultRecord{StatusCode: http.StatusOK, ETag: existing.etag, ResourceBody: existing.body}, nil
	case batch.Create:
		if existing != nil {
			return batch.ResultRecord{StatusCode: http.StatusConflict}, nil
		}
		return write(p, epk, id, r.ResourceBody, nil, http.StatusCreated)
	case batch.Replace:
		if existing == nil {
			return batch.ResultRecord{StatusCode: http.StatusNotFound}, nil
		}
		return write(p, epk, id, r.ResourceBody, existing, http.StatusOK)
	case batch.Upsert:
		if existing == nil {
			return write(p, epk, id, r.ResourceBody, nil, http.StatusCreated)
		}
		return write(p, epk, id, r.ResourceBody, existing, http.StatusOK)
	case batch.Patch:
		if existing == nil {
			return batch.ResultRecord{StatusCode: http.StatusNotFound}, nil
		}
		merged, err := merge(existing.body, r.ResourceBody)
		if err != nil {
			return batch.ResultRecord{StatusCode: http.StatusBadRequest}, nil
		}
		return write(p, epk, id, merged, existing, http.StatusOK)
	case batch.Delete:
		if existing == nil {
			return batch.ResultRecord{StatusCode: http.StatusNotFound}, nil
		}
		p.delete(epk, id)
		return batch.ResultRecord{StatusCode: http.StatusNoContent},
			&undo{p: p, epk: epk, id: id, old: existing}
	}
	return batch.ResultRecord{StatusCode: http.StatusBadRequest}, nil
}

func write(p *partition, epk, id string, body []byte, old *item, status int) (batch.ResultRecord, *undo) {
	it := &item{
		epk:  epk,
		id:   id,
		etag: uuid.New().String(),
		body: append([]byte(nil), body...),
	}
	p.put(it)
	return batch.ResultRecord{StatusCode: status, ETag: it.etag, ResourceBody: it.body},
		&undo{p: p, epk: epk, id: id, old: old}
}

// merge sets the top level fields of patch on doc
func merge(doc, patch []byte) ([]byte, error) {
	var base map[string]interface{}
	if err := json.Unmarshal(doc, &base); err != nil {
		return nil, err
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(patch, &fields); err != nil {
		return nil, err
	}
	if base == nil {
		base = make(map[string]interface{})
	}
	for k, v := range fields {
		base[k] = v
	}
	return json.Marshal(base)
}
