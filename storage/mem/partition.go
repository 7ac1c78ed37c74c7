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
	"github.com/google/btree"
	"github.com/juju/ratelimit"

	"github.com/matrixorigin/cubebatch/routing"
)

type item struct {
	key  string
	epk  string
	id   string
	etag string
	body []byte
}

func itemKey(epk, id string) string {
	return epk + "/" + id
}

// Less returns true if the item is less than the given item
func (it *item) Less(other btree.Item) bool {
	return it.key < other.(*item).key
}

// partition holds the items of one partition key range
type partition struct {
	r      routing.PartitionKeyRange
	items  *btree.BTree
	bucket *ratelimit.Bucket
}

func newPartition(r routing.PartitionKeyRange, bucket *ratelimit.Bucket) *partition {
	return &partition{
		r:      r,
		items:  btree.New(defaultBTreeDegree),
		bucket: bucket,
	}
}

func (p *partition) get(epk, id string) *item {
	v := p.items.Get(&item{key: itemKey(epk, id)})
	if v == nil {
		return nil
	}
	return v.(*item)
}

// put stores it and returns the item it replaced
func (p *partition) put(it *item) *item {
	it.key = itemKey(it.epk, it.id)
	old := p.items.ReplaceOrInsert(it)
	if old == nil {
		return nil
	}
	return old.(*item)
}

func (p *partition) delete(epk, id string) *item {
	v := p.items.Delete(&item{key: itemKey(epk, id)})
	if v == nil {
		return nil
	}
	return v.(*item)
}

// charge takes n request units, returns false if the budget is spent
func (p *partition) charge(n int64) bool {
	if p.bucket == nil {
		return true
	}
	if p.bucket.Available() < n {
		return false
	}
	p.bucket.TakeAvailable(n)
	return true
}
