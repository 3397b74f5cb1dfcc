/*
 * MIT License
 *
 * Copyright (c) 2022 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package store

import (
	"errors"
	"hash/fnv"
	"strconv"
	"sync/atomic"
	"time"
)

var (
	ErrNotStored   = errors.New("not stored")
	ErrExists      = errors.New("exists")
	ErrNotFound    = errors.New("not found")
	ErrNotNumeric  = errors.New("cannot increment or decrement non-numeric value")
	ErrTooLarge    = errors.New("object too large for cache")
	ErrOutOfMemory = errors.New("out of memory storing object")
)

// StoreMode selects which of the text protocol's storage commands a Set
// call implements; each only differs in which pre-condition it checks
// before writing.
type StoreMode uint8

const (
	ModeSet StoreMode = iota
	ModeAdd
	ModeReplace
	ModeAppend
	ModePrepend
	ModeCas
)

// Store is the full item table: a fixed number of independently locked
// shards plus a global byte budget enforced by per-shard LRU eviction.
type Store struct {
	shards    []*shard
	mask      uint32
	casSeq    atomic.Uint64
	maxBytes  int64
	itemLimit int

	// DisableEvict mirrors the -M flag: once set, a shard at its byte budget
	// refuses new writes with ErrOutOfMemory instead of evicting its LRU
	// tail to make room.
	DisableEvict bool

	evictions  atomic.Uint64
	expired    atomic.Uint64
	curItems   atomic.Int64
	totalItems atomic.Uint64
}

// New returns a Store with shardCount shards (rounded up to the next power
// of two) and a global memory ceiling of maxBytes. maxBytes <= 0 disables
// eviction on size.
func New(shardCount int, maxBytes int64, maxItemSize int) *Store {
	n := nextPow2(shardCount)
	st := &Store{
		shards:    make([]*shard, n),
		mask:      uint32(n - 1),
		maxBytes:  maxBytes,
		itemLimit: maxItemSize,
	}
	for i := range st.shards {
		st.shards[i] = newShard()
	}
	return st
}

func nextPow2(n int) int {
	if n < 1 {
		n = 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (st *Store) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return st.shards[h.Sum32()&st.mask]
}

// perShardBudget divides the global ceiling evenly; a shard only evicts
// against its own slice of the budget, never against a sibling's.
func (st *Store) perShardBudget() int64 {
	if st.maxBytes <= 0 {
		return 0
	}
	return st.maxBytes / int64(len(st.shards))
}

func (st *Store) nextCas() uint64 {
	return st.casSeq.Add(1)
}

// MaxBytes returns the global byte ceiling this store was constructed
// with (-m/--memory-limit), or 0 if it has none. This is the value the
// "stats" command's limit_maxbytes reports; it is not a live figure and
// never changes after New.
func (st *Store) MaxBytes() int64 {
	return st.maxBytes
}

// Get returns a snapshot of key if present and unexpired, touching its LRU
// position.
func (st *Store) Get(key string) (Snapshot, bool) {
	sh := st.shardFor(key)
	now := time.Now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	it, ok := sh.items[key]
	if !ok {
		return Snapshot{}, false
	}
	if it.expired(now) {
		sh.unlink(it)
		delete(sh.items, key)
		sh.bytesUsed.Add(-it.size())
		st.curItems.Add(-1)
		st.expired.Add(1)
		return Snapshot{}, false
	}

	sh.touch(it)
	return Snapshot{Key: it.Key, Flags: it.Flags, Bytes: it.Bytes, Cas: it.Cas, TTL: it.remaining(now)}, true
}

// Set stores value under key according to mode, returning ErrTooLarge,
// ErrNotStored (add/replace precondition failed, or append/prepend target
// missing) or ErrExists (cas mismatch) as appropriate.
func (st *Store) Set(mode StoreMode, key string, flags uint32, exptime time.Duration, value []byte, casUnique uint64) (uint64, error) {
	if st.itemLimit > 0 && len(value) > st.itemLimit {
		return 0, ErrTooLarge
	}

	sh := st.shardFor(key)
	now := time.Now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	existing, found := sh.items[key]
	if found && existing.expired(now) {
		sh.unlink(existing)
		delete(sh.items, key)
		sh.bytesUsed.Add(-existing.size())
		st.curItems.Add(-1)
		st.expired.Add(1)
		existing, found = nil, false
	}

	switch mode {
	case ModeAdd:
		if found {
			return 0, ErrNotStored
		}
	case ModeReplace:
		if !found {
			return 0, ErrNotStored
		}
	case ModeAppend, ModePrepend:
		if !found {
			return 0, ErrNotStored
		}
		merged := make([]byte, 0, len(existing.Bytes)+len(value))
		if mode == ModeAppend {
			merged = append(merged, existing.Bytes...)
			merged = append(merged, value...)
		} else {
			merged = append(merged, value...)
			merged = append(merged, existing.Bytes...)
		}
		value = merged
		flags = existing.Flags
		if st.itemLimit > 0 && len(value) > st.itemLimit {
			return 0, ErrTooLarge
		}
	case ModeCas:
		if !found {
			return 0, ErrNotFound
		}
		if existing.Cas != casUnique {
			return 0, ErrExists
		}
	}

	if found {
		sh.unlink(existing)
		delete(sh.items, key)
		sh.bytesUsed.Add(-existing.size())
		st.curItems.Add(-1)
	}

	it := newItem(key, flags, value, exptime, st.nextCas())

	if budget := st.perShardBudget(); st.DisableEvict && budget > 0 && sh.bytesUsed.Load()+it.size() > budget {
		return 0, ErrOutOfMemory
	}

	sh.items[key] = it
	sh.pushFront(it)
	sh.bytesUsed.Add(it.size())
	st.curItems.Add(1)
	st.totalItems.Add(1)

	if !st.DisableEvict {
		sh.evictLocked(st.perShardBudget(), func(victim *Item) {
			st.curItems.Add(-1)
			st.evictions.Add(1)
		})
	}

	return it.Cas, nil
}

// Delete removes key, returning false if it was absent or already expired.
func (st *Store) Delete(key string) bool {
	sh := st.shardFor(key)
	now := time.Now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	it, ok := sh.items[key]
	if !ok {
		return false
	}

	sh.unlink(it)
	delete(sh.items, key)
	sh.bytesUsed.Add(-it.size())
	st.curItems.Add(-1)

	if it.expired(now) {
		st.expired.Add(1)
		return false
	}
	return true
}

// Incr/Decr apply delta to the decimal value stored under key, clamping
// Decr at zero and wrapping Incr on uint64 overflow, matching the wire
// protocol's documented arithmetic.
func (st *Store) incrDecr(key string, delta uint64, add bool) (uint64, error) {
	sh := st.shardFor(key)
	now := time.Now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	it, ok := sh.items[key]
	if !ok || it.expired(now) {
		return 0, ErrNotFound
	}

	cur, err := strconv.ParseUint(string(it.Bytes), 10, 64)
	if err != nil {
		return 0, ErrNotNumeric
	}

	var next uint64
	if add {
		next = cur + delta
	} else if delta > cur {
		next = 0
	} else {
		next = cur - delta
	}

	buf := []byte(strconv.FormatUint(next, 10))
	sh.bytesUsed.Add(int64(len(buf) - len(it.Bytes)))
	it.Bytes = buf
	it.Cas = st.nextCas()
	sh.touch(it)

	return next, nil
}

func (st *Store) Incr(key string, delta uint64) (uint64, error) {
	return st.incrDecr(key, delta, true)
}

func (st *Store) Decr(key string, delta uint64) (uint64, error) {
	return st.incrDecr(key, delta, false)
}

// FlushAll sets every current item's expiration to now+delay, keeping an
// earlier expiration where an item already has one. It walks every shard
// under that shard's lock, but removes nothing: items are dropped lazily on
// next access or by ReapExpired, the same as a normal expiration.
func (st *Store) FlushAll(delay time.Duration) {
	deadline := time.Now().Add(delay)
	for _, sh := range st.shards {
		sh.mu.Lock()
		for _, it := range sh.items {
			if it.expireAt.IsZero() || it.expireAt.After(deadline) {
				it.expireAt = deadline
			}
		}
		sh.mu.Unlock()
	}
}

// ReapExpired walks every shard removing expired items, up to perShardMax
// per shard per call. It is meant to be driven periodically by a
// background ticker rather than being relied on for correctness: Get and
// Set already reap an expired item lazily the moment they touch it.
func (st *Store) ReapExpired(perShardMax int) int {
	now := time.Now()
	total := 0
	for _, sh := range st.shards {
		sh.mu.Lock()
		n := sh.reapExpiredLocked(now, perShardMax, func(*Item) {
			st.curItems.Add(-1)
			st.expired.Add(1)
		})
		sh.mu.Unlock()
		total += n
	}
	return total
}

// Stats is a point-in-time snapshot of the counters GET/SET/DELETE and the
// background reaper maintain, consumed by internal/stats to fill out the
// memcached stats response.
type Stats struct {
	CurrItems  int64
	TotalItems uint64
	Evictions  uint64
	Expired    uint64
	BytesUsed  int64
}

func (st *Store) Stats() Stats {
	var bytes int64
	for _, sh := range st.shards {
		bytes += sh.bytesUsed.Load()
	}
	return Stats{
		CurrItems:  st.curItems.Load(),
		TotalItems: st.totalItems.Load(),
		Evictions:  st.evictions.Load(),
		Expired:    st.expired.Load(),
		BytesUsed:  bytes,
	}
}
