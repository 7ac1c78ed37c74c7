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
	"bytes"
	"time"

	"github.com/cockroachdb/errors"
	jsoniter "github.com/json-iterator/go"
)

var (
	json = jsoniter.ConfigCompatibleWithStandardLibrary
)

// hybridRowVersion is the leading byte of a binary encoded response body.
// The binary encoding is not supported.
const hybridRowVersion byte = 0x81

// OperationRecord is the wire form of one operation in a request body
type OperationRecord struct {
	OperationType         string              `json:"operationType"`
	ID                    string              `json:"id,omitempty"`
	PartitionKey          string              `json:"partitionKey,omitempty"`
	EffectivePartitionKey string              `json:"effectivePartitionKey,omitempty"`
	IfMatch               string              `json:"ifMatch,omitempty"`
	IfNoneMatch           string              `json:"ifNoneMatch,omitempty"`
	ResourceBody          jsoniter.RawMessage `json:"resourceBody,omitempty"`
}

// ResultRecord is the wire form of one operation result in a response body
type ResultRecord struct {
	StatusCode             int                 `json:"statusCode"`
	SubStatusCode          int                 `json:"subStatusCode,omitempty"`
	RequestCharge          float64             `json:"requestCharge,omitempty"`
	RetryAfterMilliseconds int                 `json:"retryAfterMilliseconds,omitempty"`
	ETag                   string              `json:"etag,omitempty"`
	ResourceBody           jsoniter.RawMessage `json:"resourceBody,omitempty"`
}

func encodeOperation(op *Operation) ([]byte, error) {
	if len(op.ResourceBody) > 0 && !json.Valid(op.ResourceBody) {
		return nil, errors.Wrapf(ErrInvalidResourceBody, "operation %d", op.Index)
	}
	record := OperationRecord{
		OperationType:         op.Type.String(),
		ID:                    op.ID,
		EffectivePartitionKey: op.EffectivePartitionKey,
		ResourceBody:          op.ResourceBody,
	}
	if !op.PartitionKey.IsEmpty() {
		pk, err := op.PartitionKey.MarshalJSON()
		if err != nil {
			return nil, err
		}
		record.PartitionKey = string(pk)
	}
	if op.Options != nil {
		record.IfMatch = op.Options.IfMatchETag
		record.IfNoneMatch = op.Options.IfNoneMatchETag
	}

	data, err := json.Marshal(&record)
	if err != nil {
		return nil, errors.Wrapf(err, "encode operation %d", op.Index)
	}
	return data, nil
}

// encodeBody joins encoded operations into a JSON array
func encodeBody(encoded [][]byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	buf.Write(bytes.Join(encoded, []byte{','}))
	buf.WriteByte(']')
	return buf.Bytes()
}

// DecodeRequestBody decodes the operations of a request body
func DecodeRequestBody(body []byte) ([]OperationRecord, error) {
	var records []OperationRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, errors.Wrap(err, "decode batch request body")
	}
	return records, nil
}

// EncodeResults encodes the per operation results of a response body
func EncodeResults(records []ResultRecord) ([]byte, error) {
	if records == nil {
		records = []ResultRecord{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, errors.Wrap(err, "encode batch response body")
	}
	return data, nil
}

func decodeResults(body []byte) ([]OperationResult, error) {
	var records []ResultRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, errors.Wrap(err, "decode batch response body")
	}

	results := make([]OperationResult, 0, len(records))
	for _, r := range records {
		results = append(results, OperationResult{
			StatusCode:    r.StatusCode,
			SubStatusCode: r.SubStatusCode,
			RequestCharge: r.RequestCharge,
			ETag:          r.ETag,
			RetryAfter:    time.Duration(r.RetryAfterMilliseconds) * time.Millisecond,
			ResourceBody:  r.ResourceBody,
		})
	}
	return results, nil
}
