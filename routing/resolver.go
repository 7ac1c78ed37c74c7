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
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/matrixorigin/cubebatch/components/log"
)

var (
	// ErrRangeNotFound no partition key range contains the effective partition key
	ErrRangeNotFound = errors.New("partition key range not found")
)

// Resolver resolves the partition key range an item belongs to.
type Resolver interface {
	// Definition returns the partition key definition of the collection
	Definition() Definition
	// ResolveRangeID returns the id of the range that contains the effective
	// partition key.
	ResolveRangeID(ctx context.Context, epk string) (string, error)
	// Refresh reloads the routing map, called after the store reports that
	// the cached routing is stale.
	Refresh(ctx context.Context) error
}

// RangeFetcher loads the current partition key ranges of a collection
type RangeFetcher func(ctx context.Context) ([]PartitionKeyRange, error)

// RoutingMap is a Resolver caching the ranges in a RangeTree
type RoutingMap struct {
	logger *zap.Logger
	def    Definition
	fetch  RangeFetcher
	tree   *RangeTree

	mu struct {
		sync.Mutex
		loaded bool
	}
}

var _ Resolver = (*RoutingMap)(nil)

// NewRoutingMap returns a routing map loading ranges lazily through fetch
func NewRoutingMap(def Definition, fetch RangeFetcher, logger *zap.Logger) *RoutingMap {
	return &RoutingMap{
		logger: log.Adjust(logger).Named("routing"),
		def:    def,
		fetch:  fetch,
		tree:   NewRangeTree(),
	}
}

// Definition implements Resolver
func (m *RoutingMap) Definition() Definition {
	return m.def
}

// ResolveRangeID implements Resolver
func (m *RoutingMap) ResolveRangeID(ctx context.Context, epk string) (string, error) {
	if err := m.maybeLoad(ctx); err != nil {
		return "", err
	}

	if r, ok := m.tree.Search(epk); ok {
		return r.ID, nil
	}

	// the cached map may predate a split, try once more with fresh ranges
	if err := m.Refresh(ctx); err != nil {
		return "", err
	}
	if r, ok := m.tree.Search(epk); ok {
		return r.ID, nil
	}
	return "", errors.Wrapf(ErrRangeNotFound, "effective partition key %s", epk)
}

// Resolve is a helper computing the effective partition key first
func (m *RoutingMap) Resolve(ctx context.Context, pk PartitionKey) (string, error) {
	epk, err := pk.EffectivePartitionKey(m.def)
	if err != nil {
		return "", err
	}
	return m.ResolveRangeID(ctx, epk)
}

// Refresh implements Resolver
func (m *RoutingMap) Refresh(ctx context.Context) error {
	ranges, err := m.fetch(ctx)
	if err != nil {
		return errors.Wrap(err, "fetch partition key ranges")
	}

	m.tree.Reset(ranges)
	m.mu.Lock()
	m.mu.loaded = true
	m.mu.Unlock()

	m.logger.Info("routing map refreshed",
		zap.Int("ranges", len(ranges)))
	return nil
}

func (m *RoutingMap) maybeLoad(ctx context.Context) error {
	m.mu.Lock()
	loaded := m.mu.loaded
	m.mu.Unlock()

	if loaded {
		return nil
	}
	return m.Refresh(ctx)
}
