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
	"math"
	"math/big"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/btree"
	"github.com/juju/ratelimit"
	"go.uber.org/zap"

	"github.com/matrixorigin/cubebatch/batch"
	"github.com/matrixorigin/cubebatch/components/log"
	"github.com/matrixorigin/cubebatch/routing"
)

var (
	// ErrRangeNotFound the range id is unknown or gone
	ErrRangeNotFound = errors.New("partition key range not found")
	// ErrRangeTooSmall the range can not be split any further
	ErrRangeTooSmall = errors.New("partition key range too small to split")
)

const (
	defaultBTreeDegree = 32
	// epk space is the 64 bit hash space, formatted as 16 hex digits
	epkDigits = 16
)

// Stats counts the traffic served by a Store
type Stats struct {
	Requests   uint64
	Operations uint64
	Throttled  uint64
	Gone       uint64
}

type options struct {
	logger      *zap.Logger
	ranges      int
	throughput  float64
	maxBodySize int
}

// Option configures a Store
type Option func(*options)

// WithLogger set the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRanges set the number of partition key ranges the store starts with
func WithRanges(n int) Option {
	return func(o *options) {
		o.ranges = n
	}
}

// WithThroughput set the request units per second each range can serve,
// 0 disables throttling.
func WithThroughput(ruPerSecond float64) Option {
	return func(o *options) {
		o.throughput = ruPerSecond
	}
}

// WithMaxBodySize rejects larger requests with 413
func WithMaxBodySize(n int) Option {
	return func(o *options) {
		o.maxBodySize = n
	}
}

// Store is an in-memory partitioned document store. It serves batch
// requests the way the remote store does: it resolves the partition key
// range, throttles on a per range request unit budget, reports stale
// routing after a split and answers with one result per operation.
type Store struct {
	logger *zap.Logger
	def    routing.Definition
	opts   options
	stats  Stats

	mu struct {
		sync.RWMutex
		lastID     int
		partitions map[string]*partition
		gone       map[string]struct{}
	}
}

var _ batch.Executor = (*Store)(nil)

// NewStore returns a store for a collection partitioned by def
func NewStore(def routing.Definition, opts ...Option) *Store {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ranges <= 0 {
		o.ranges = 1
	}

	s := &Store{
		logger: log.Adjust(o.logger).Named("mem-store"),
		def:    def,
		opts:   o,
	}
	s.mu.partitions = make(map[string]*partition)
	s.mu.gone = make(map[string]struct{})

	bounds := splitSpace(zeroEPK(), maxEPK(), o.ranges)
	for i := 0; i < len(bounds)-1; i++ {
		s.addPartitionLocked(routing.PartitionKeyRange{
			MinInclusive: formatBound(bounds[i], true),
			MaxExclusive: formatBound(bounds[i+1], false),
		}, nil)
	}
	return s
}

// Definition returns the partition key definition of the collection
func (s *Store) Definition() routing.Definition {
	return s.def
}

// Stats returns a copy of the traffic counters
func (s *Store) Stats() Stats {
	return Stats{
		Requests:   atomic.LoadUint64(&s.stats.Requests),
		Operations: atomic.LoadUint64(&s.stats.Operations),
		Throttled:  atomic.LoadUint64(&s.stats.Throttled),
		Gone:       atomic.LoadUint64(&s.stats.Gone),
	}
}

// PartitionKeyRanges returns the current ranges, it is a routing.RangeFetcher
func (s *Store) PartitionKeyRanges(ctx context.Context) ([]routing.PartitionKeyRange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	ranges := make([]routing.PartitionKeyRange, 0, len(s.mu.partitions))
	for _, p := range s.mu.partitions {
		ranges = append(ranges, p.r)
	}
	sort.Slice(ranges, func(i, j int) bool {
		return ranges[i].MinInclusive < ranges[j].MinInclusive
	})
	return ranges, nil
}

// ItemCount returns the number of items over all ranges
func (s *Store) ItemCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.mu.partitions {
		n += p.items.Len()
	}
	return n
}

// Get returns the body and the etag of an item
func (s *Store) Get(pk routing.PartitionKey, id string) ([]byte, string, bool) {
	epk, err := pk.EffectivePartitionKey(s.def)
	if err != nil {
		return nil, "", false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.findPartitionLocked(epk)
	if p == nil {
		return nil, "", false
	}
	it := p.get(epk, id)
	if it == nil {
		return nil, "", false
	}
	return it.body, it.etag, true
}

// Split replaces a range by two halves and returns their ids. Requests still
// addressed to the old range fail with 410/1002 from now on.
func (s *Store) Split(rangeID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.mu.partitions[rangeID]
	if !ok {
		return nil, errors.Wrapf(ErrRangeNotFound, "range %s", rangeID)
	}

	min := parseBound(p.r.MinInclusive, zeroEPK())
	max := parseBound(p.r.MaxExclusive, maxEPK())
	bounds := splitSpace(min, max, 2)
	if len(bounds) != 3 || bounds[1].Cmp(min) == 0 {
		return nil, errors.Wrapf(ErrRangeTooSmall, "range %s", rangeID)
	}
	mid := formatBound(bounds[1], true)

	delete(s.mu.partitions, rangeID)
	s.mu.gone[rangeID] = struct{}{}
	left := s.addPartitionLocked(routing.PartitionKeyRange{
		MinInclusive: p.r.MinInclusive,
		MaxExclusive: mid,
	}, p)
	right := s.addPartitionLocked(routing.PartitionKeyRange{
		MinInclusive: mid,
		MaxExclusive: p.r.MaxExclusive,
	}, p)

	s.logger.Info("partition key range split",
		log.PartitionKeyRangeField(rangeID),
		zap.String("left", left.r.ID),
		zap.String("right", right.r.ID),
		zap.String("split-key", mid))
	return []string{left.r.ID, right.r.ID}, nil
}

func (s *Store) addPartitionLocked(r routing.PartitionKeyRange, from *partition) *partition {
	s.mu.lastID++
	r.ID = fmt.Sprintf("%d", s.mu.lastID-1)
	p := newPartition(r, s.newBucket())
	if from != nil {
		from.items.Ascend(func(i btree.Item) bool {
			it := i.(*item)
			if r.Contains(it.epk) {
				p.items.ReplaceOrInsert(it)
			}
			return true
		})
	}
	s.mu.partitions[r.ID] = p
	return p
}

func (s *Store) newBucket() *ratelimit.Bucket {
	if s.opts.throughput <= 0 {
		return nil
	}
	capacity := int64(math.Ceil(s.opts.throughput))
	return ratelimit.NewBucketWithRate(s.opts.throughput, capacity)
}

func (s *Store) findPartitionLocked(epk string) *partition {
	for _, p := range s.mu.partitions {
		if p.r.Contains(epk) {
			return p
		}
	}
	return nil
}

func (s *Store) isGoneLocked(rangeID string) bool {
	_, ok := s.mu.gone[rangeID]
	return ok
}

// retryAfter returns how long the bucket needs to hold charge tokens
func retryAfter(bucket *ratelimit.Bucket, charge int64) time.Duration {
	missing := charge - bucket.Available()
	if missing <= 0 {
		return 0
	}
	d := time.Duration(float64(missing) / bucket.Rate() * float64(time.Second))
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

func zeroEPK() *big.Int {
	return big.NewInt(0)
}

func maxEPK() *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), 64)
}

// splitSpace returns n+1 bounds cutting [min, max) into n equal parts
func splitSpace(min, max *big.Int, n int) []*big.Int {
	width := new(big.Int).Sub(max, min)
	step := new(big.Int).Div(width, big.NewInt(int64(n)))
	bounds := make([]*big.Int, 0, n+1)
	for i := 0; i < n; i++ {
		b := new(big.Int).Mul(step, big.NewInt(int64(i)))
		bounds = append(bounds, b.Add(b, min))
	}
	return append(bounds, max)
}

// parseBound parses a range bound, empty is the given end of the space
func parseBound(v string, empty *big.Int) *big.Int {
	if v == "" {
		return empty
	}
	n, ok := new(big.Int).SetString(v, 16)
	if !ok {
		return empty
	}
	return n
}

// formatBound formats a range bound, the ends of the space are empty
func formatBound(v *big.Int, min bool) string {
	if min && v.Sign() == 0 {
		return ""
	}
	if !min && v.Cmp(maxEPK()) >= 0 {
		return ""
	}
	s := strings.ToUpper(v.Text(16))
	if len(s) < epkDigits {
		s = strings.Repeat("0", epkDigits-len(s)) + s
	}
	return s
}
