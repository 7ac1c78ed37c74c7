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
	"sync"

	"github.com/google/btree"
)

const (
	defaultBTreeDegree = 64
)

// PartitionKeyRange is a contiguous slice [MinInclusive, MaxExclusive) of the
// effective partition key space. An empty MaxExclusive is positive infinity.
type PartitionKeyRange struct {
	ID           string `json:"id"`
	MinInclusive string `json:"minInclusive"`
	MaxExclusive string `json:"maxExclusive"`
}

// Contains returns true if the effective partition key is in the range
func (r PartitionKeyRange) Contains(epk string) bool {
	return epk >= r.MinInclusive && (r.MaxExclusive == "" || epk < r.MaxExclusive)
}

type rangeItem struct {
	r PartitionKeyRange
}

// Less orders items by MinInclusive reversely, so DescendLessOrEqual walks
// the ranges in ascending key order.
func (i *rangeItem) Less(other btree.Item) bool {
	return i.r.MinInclusive > other.(*rangeItem).r.MinInclusive
}

// RangeTree is the btree of partition key ranges
type RangeTree struct {
	sync.RWMutex
	tree *btree.BTree
}

// NewRangeTree returns an empty tree
func NewRangeTree() *RangeTree {
	return &RangeTree{
		tree: btree.New(defaultBTreeDegree),
	}
}

// Len returns the number of ranges in the tree
func (t *RangeTree) Len() int {
	t.RLock()
	defer t.RUnlock()
	return t.tree.Len()
}

// Update inserts the range, removing every range it overlaps first.
func (t *RangeTree) Update(r PartitionKeyRange) {
	t.Lock()
	defer t.Unlock()

	item := &rangeItem{r: r}
	start := t.find(r.MinInclusive)
	if start == nil {
		start = item
	}

	var overlaps []*rangeItem
	t.tree.DescendLessOrEqual(start, func(i btree.Item) bool {
		over := i.(*rangeItem)
		if r.MaxExclusive != "" && r.MaxExclusive <= over.r.MinInclusive {
			return false
		}
		overlaps = append(overlaps, over)
		return true
	})
	for _, over := range overlaps {
		t.tree.Delete(over)
	}
	t.tree.ReplaceOrInsert(item)
}

// Reset replaces the whole tree content
func (t *RangeTree) Reset(ranges []PartitionKeyRange) {
	t.Lock()
	t.tree = btree.New(defaultBTreeDegree)
	for _, r := range ranges {
		t.tree.ReplaceOrInsert(&rangeItem{r: r})
	}
	t.Unlock()
}

// Search returns the range containing the effective partition key
func (t *RangeTree) Search(epk string) (PartitionKeyRange, bool) {
	t.RLock()
	defer t.RUnlock()

	if item := t.find(epk); item != nil {
		return item.r, true
	}
	return PartitionKeyRange{}, false
}

// Ascend iterates the ranges in key order until fn returns false
func (t *RangeTree) Ascend(fn func(r PartitionKeyRange) bool) {
	t.RLock()
	defer t.RUnlock()

	t.tree.Descend(func(i btree.Item) bool {
		return fn(i.(*rangeItem).r)
	})
}

func (t *RangeTree) find(epk string) *rangeItem {
	var result *rangeItem
	t.tree.AscendGreaterOrEqual(&rangeItem{r: PartitionKeyRange{MinInclusive: epk}}, func(i btree.Item) bool {
		result = i.(*rangeItem)
		return false
	})

	if result == nil || !result.r.Contains(epk) {
		return nil
	}
	return result
}
