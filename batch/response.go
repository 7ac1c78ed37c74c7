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

	"github.com/cockroachdb/errors"
	"github.com/fagongzi/util/format"
	"go.uber.org/zap"

	"github.com/matrixorigin/cubebatch/components/log"
)

var (
	errHybridRowNotImplemented = errors.New("hybrid row response encoding is not implemented")
)

// Response is a batch response reconciled with its request: Results holds
// exactly one entry per request operation, in request order.
type Response struct {
	StatusCode    int
	SubStatusCode int
	RetryAfter    time.Duration
	RequestCharge float64
	ActivityID    string
	Diagnostics   string
	Results       []OperationResult
	// Err is the dispatch failure all results derive from, nil if the store
	// answered.
	Err error
}

// IsSuccess returns true for a 2xx overall status
func (r *Response) IsSuccess() bool {
	return isSuccess(r.StatusCode)
}

// parseResponse turns the outcome of one round trip into a Response. With
// promote set, a multi-status response takes the status of its first result
// that did not fail only because of another operation.
func parseResponse(logger *zap.Logger, req *Request, result ExecutionResult, execErr error, promote bool) (*Response, error) {
	n := len(req.Operations)
	if execErr != nil {
		return failedResponse(req, execErr), nil
	}

	resp := &Response{
		StatusCode:    result.StatusCode,
		SubStatusCode: int(headerInt64(result.Headers, HeaderSubStatus)),
		RequestCharge: headerFloat64(result.Headers, HeaderRequestCharge),
		ActivityID:    req.ActivityID,
		Diagnostics:   result.Diagnostics,
	}
	if id, ok := result.Headers[HeaderActivityID]; ok && id != "" {
		resp.ActivityID = id
	}
	retryAfter := time.Duration(headerInt64(result.Headers, HeaderRetryAfterMs)) * time.Millisecond
	if resp.StatusCode == http.StatusTooManyRequests {
		resp.RetryAfter = retryAfter
	}

	if len(result.Body) > 0 {
		results, err := parseBody(result.Body)
		if err != nil {
			logger.Error("failed to parse batch response body",
				log.ActivityIDField(resp.ActivityID),
				zap.Error(err))
			resp.StatusCode = http.StatusInternalServerError
			resp.SubStatusCode = SubStatusUnknown
			results = nil
		}
		resp.Results = results
	}

	if len(resp.Results) != n {
		if resp.IsSuccess() {
			logger.Error("successful batch response with mismatched result count",
				log.ActivityIDField(resp.ActivityID),
				zap.Int("results", len(resp.Results)),
				zap.Int("operations", n))
			resp.StatusCode = http.StatusInternalServerError
			resp.SubStatusCode = SubStatusUnknown
		}

		for i := len(resp.Results); i < n; i++ {
			r := OperationResult{
				StatusCode:    resp.StatusCode,
				SubStatusCode: resp.SubStatusCode,
				Diagnostics:   resp.Diagnostics,
			}
			if resp.StatusCode == http.StatusTooManyRequests {
				r.RetryAfter = retryAfter
			}
			resp.Results = append(resp.Results, r)
		}
	}

	if promote && resp.StatusCode == http.StatusMultiStatus {
		for _, r := range resp.Results {
			if r.StatusCode != http.StatusFailedDependency {
				resp.StatusCode = r.StatusCode
				resp.SubStatusCode = r.SubStatusCode
				break
			}
		}
	}

	if len(resp.Results) != n {
		err := errors.Wrapf(ErrInvariantViolation, "activity %s: %d results for %d operations",
			resp.ActivityID, len(resp.Results), n)
		logger.Error("batch response invariant violated",
			log.ActivityIDField(resp.ActivityID),
			zap.Error(err))
		return nil, err
	}
	return resp, nil
}

// failedResponse propagates a dispatch failure to every operation
func failedResponse(req *Request, err error) *Response {
	se := toStoreError(err)
	resp := &Response{
		StatusCode:    se.StatusCode,
		SubStatusCode: se.SubStatusCode,
		RetryAfter:    se.RetryAfter,
		ActivityID:    req.ActivityID,
		Diagnostics:   se.Diagnostics,
		Results:       make([]OperationResult, 0, len(req.Operations)),
		Err:           err,
	}
	for range req.Operations {
		resp.Results = append(resp.Results, OperationResult{
			StatusCode:    se.StatusCode,
			SubStatusCode: se.SubStatusCode,
			RetryAfter:    se.RetryAfter,
			Diagnostics:   se.Diagnostics,
		})
	}
	return resp
}

func parseBody(body []byte) ([]OperationResult, error) {
	if body[0] == hybridRowVersion {
		return nil, errHybridRowNotImplemented
	}
	return decodeResults(body)
}

func headerInt64(headers map[string]string, key string) int64 {
	v, ok := headers[key]
	if !ok || v == "" {
		return 0
	}
	n, err := format.ParseStrInt64(v)
	if err != nil {
		return 0
	}
	return n
}

func headerFloat64(headers map[string]string, key string) float64 {
	v, ok := headers[key]
	if !ok || v == "" {
		return 0
	}
	n, err := format.ParseStrFloat64(v)
	if err != nil {
		return 0
	}
	return n
}
