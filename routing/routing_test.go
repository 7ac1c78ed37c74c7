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
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

var (
	testDefinition = Definition{Paths: []string{"/tenant"}}
)

func TestEffectivePartitionKeyIsStable(t *testing.T) {
	pk := NewPartitionKey("t1")
	epk1, err := pk.EffectivePartitionKey(testDefinition)
	assert.NoError(t, err)
	epk2, err := NewPartitionKey("t1").EffectivePartitionKey(testDefinition)
	assert.NoError(t, err)
	assert.Equal(t, epk1, epk2)
	assert.Equal(t, 16, len(epk1))

	epk3, err := NewPartitionKey("t2").EffectivePartitionKey(testDefinition)
	assert.NoError(t, err)
	assert.NotEqual(t, epk1, epk3)
}

func TestEffectivePartitionKeyMismatch(t *testing.T) {
	_, err := NewPartitionKey("a", "b").EffectivePartitionKey(testDefinition)
	assert.True(t, errors.Is(err, ErrPartitionKeyMismatch))

	_, err = NewPartitionKey(struct{}{}).EffectivePartitionKey(testDefinition)
	assert.True(t, errors.Is(err, ErrUnsupportedComponent))
}

func TestPartitionKeyJSON(t *testing.T) {
	pk := NewPartitionKey("a", 1.5, true, nil)
	data, err := pk.MarshalJSON()
	assert.NoError(t, err)
	assert.Equal(t, `["a",1.5,true,null]`, string(data))

	var v PartitionKey
	assert.NoError(t, v.UnmarshalJSON(data))
	assert.Equal(t, pk.String(), v.String())
}

func TestRangeTreeSearch(t *testing.T) {
	tree := NewRangeTree()
	tree.Update(PartitionKeyRange{ID: "0", MinInclusive: "", MaxExclusive: "4000000000000000"})
	tree.Update(PartitionKeyRange{ID: "1", MinInclusive: "4000000000000000", MaxExclusive: "8000000000000000"})
	tree.Update(PartitionKeyRange{ID: "2", MinInclusive: "8000000000000000", MaxExclusive: ""})
	assert.Equal(t, 3, tree.Len())

	r, ok := tree.Search("0000000000000001")
	assert.True(t, ok)
	assert.Equal(t, "0", r.ID)

	r, ok = tree.Search("4000000000000000")
	assert.True(t, ok)
	assert.Equal(t, "1", r.ID)

	r, ok = tree.Search("FFFFFFFFFFFFFFFF")
	assert.True(t, ok)
	assert.Equal(t, "2", r.ID)

	var ids []string
	tree.Ascend(func(r PartitionKeyRange) bool {
		ids = append(ids, r.ID)
		return true
	})
	assert.Equal(t, []string{"0", "1", "2"}, ids)
}

func TestRangeTreeUpdateRemovesOverlaps(t *testing.T) {
	tree := NewRangeTree()
	tree.Update(PartitionKeyRange{ID: "0", MinInclusive: "", MaxExclusive: ""})
	tree.Update(PartitionKeyRange{ID: "1", MinInclusive: "", MaxExclusive: "8000000000000000"})
	assert.Equal(t, 1, tree.Len())

	tree.Update(PartitionKeyRange{ID: "2", MinInclusive: "8000000000000000", MaxExclusive: ""})
	assert.Equal(t, 2, tree.Len())

	r, ok := tree.Search("9000000000000000")
	assert.True(t, ok)
	assert.Equal(t, "2", r.ID)
}

func TestRoutingMapRefreshAfterSplit(t *testing.T) {
	split := false
	fetch := func(ctx context.Context) ([]PartitionKeyRange, error) {
		if !split {
			return []PartitionKeyRange{{ID: "0", MinInclusive: "", MaxExclusive: "8000000000000000"}}, nil
		}
		return []PartitionKeyRange{
			{ID: "1", MinInclusive: "", MaxExclusive: "8000000000000000"},
			{ID: "2", MinInclusive: "8000000000000000", MaxExclusive: ""},
		}, nil
	}

	m := NewRoutingMap(testDefinition, fetch, nil)
	id, err := m.ResolveRangeID(context.Background(), "1000000000000000")
	assert.NoError(t, err)
	assert.Equal(t, "0", id)

	_, err = m.ResolveRangeID(context.Background(), "9000000000000000")
	assert.True(t, errors.Is(err, ErrRangeNotFound))

	split = true
	id, err = m.ResolveRangeID(context.Background(), "9000000000000000")
	assert.NoError(t, err)
	assert.Equal(t, "2", id)
}
