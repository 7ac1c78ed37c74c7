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

package routing

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	jsoniter "github.com/json-iterator/go"
)

var (
	json = jsoniter.ConfigCompatibleWithStandardLibrary

	// ErrPartitionKeyMismatch the partition key does not match the definition
	ErrPartitionKeyMismatch = errors.New("partition key does not match the partition key definition")
	// ErrUnsupportedComponent a partition key component is not a string, number, bool or nil
	ErrUnsupportedComponent = errors.New("unsupported partition key component")
)

// Definition is the partition key schema of a collection.
type Definition struct {
	// Paths are the document paths forming the key, e.g. "/tenantId".
	Paths []string `toml:"paths" json:"paths"`
}

// PartitionKey is a logical partition key value. Each component is a
// string, a number, a bool or nil.
type PartitionKey struct {
	values []interface{}
}

// NewPartitionKey returns a partition key made of the given components
func NewPartitionKey(values ...interface{}) PartitionKey {
	return PartitionKey{values: values}
}

// IsEmpty returns true if the key has no component
func (pk PartitionKey) IsEmpty() bool {
	return len(pk.values) == 0
}

// Values returns the key components
func (pk PartitionKey) Values() []interface{} {
	return pk.values
}

// MarshalJSON encodes the key in its wire form, a JSON array.
func (pk PartitionKey) MarshalJSON() ([]byte, error) {
	if err := pk.validate(); err != nil {
		return nil, err
	}
	if pk.values == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(pk.values)
}

// UnmarshalJSON decodes the wire form.
func (pk *PartitionKey) UnmarshalJSON(data []byte) error {
	var values []interface{}
	if err := json.Unmarshal(data, &values); err != nil {
		return errors.Wrap(err, "decode partition key")
	}
	pk.values = values
	return nil
}

func (pk PartitionKey) String() string {
	data, err := pk.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("%v", pk.values)
	}
	return string(data)
}

// EffectivePartitionKey hashes the key into the string space the partition
// key ranges are defined over.
func (pk PartitionKey) EffectivePartitionKey(def Definition) (string, error) {
	if len(pk.values) != len(def.Paths) {
		return "", errors.Wrapf(ErrPartitionKeyMismatch, "key %v has %d components, definition %s has %d",
			pk.values, len(pk.values), strings.Join(def.Paths, ","), len(def.Paths))
	}

	data, err := pk.MarshalJSON()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%016X", xxhash.Sum64(data)), nil
}

func (pk PartitionKey) validate() error {
	for _, v := range pk.values {
		switch v.(type) {
		case nil, string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64:
		default:
			return errors.Wrapf(ErrUnsupportedComponent, "%T", v)
		}
	}
	return nil
}
