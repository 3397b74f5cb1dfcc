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

// Package store holds the in-memory key/value item table: a sharded hash
// map with a per-shard LRU list, CAS versioning and byte-accounted
// eviction. It is the adaptation of the teacher's generic TTL cache
// (cache/item) to the wire protocol's exact item semantics: fixed 32-bit
// flags, an absolute or relative expiration and a monotonic per-item CAS
// counter. Items carry a reader count (refs), but the store's own
// operations do not take or release references: readers get a Snapshot.
package store

import (
	"sync/atomic"
	"time"
)

// Item is one stored key/value pair. A *Item is only ever mutated by its
// owning shard while holding that shard's lock; Store.Get hands readers a
// Snapshot of Bytes/Flags/Cas taken under that lock.
type Item struct {
	Key   string
	Flags uint32
	Bytes []byte
	Cas   uint64

	// expireAt is the absolute expiration instant, or the zero Time for an
	// item that never expires.
	expireAt time.Time

	// refs counts readers registered through retain/release. Nothing in
	// the store calls those helpers, so refs stays zero and unlinking an
	// item never waits on it.
	refs atomic.Int32

	// linked is cleared by unlink.
	linked bool

	prev, next *Item
}

// Snapshot is a point-in-time, race-free copy of an Item's externally
// visible fields, safe to hold onto after the shard lock is released.
type Snapshot struct {
	Key   string
	Flags uint32
	Bytes []byte
	Cas   uint64
	TTL   time.Duration
}

func newItem(key string, flags uint32, bytes []byte, exptime time.Duration, cas uint64) *Item {
	it := &Item{
		Key:   key,
		Flags: flags,
		Bytes: bytes,
		Cas:   cas,
	}
	if exptime > 0 {
		it.expireAt = time.Now().Add(exptime)
	}
	return it
}

// expired reports whether the item's absolute expiration has passed, as of
// now. An item with a zero expireAt never expires.
func (it *Item) expired(now time.Time) bool {
	return !it.expireAt.IsZero() && !now.Before(it.expireAt)
}

func (it *Item) remaining(now time.Time) time.Duration {
	if it.expireAt.IsZero() {
		return 0
	}
	d := it.expireAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func (it *Item) retain() {
	it.refs.Add(1)
}

func (it *Item) release() {
	it.refs.Add(-1)
}

func (it *Item) size() int64 {
	return int64(len(it.Key)) + int64(len(it.Bytes)) + itemOverhead
}

// itemOverhead approximates the bookkeeping cost (flags, cas, LRU pointers,
// map bucket entry) charged against -M alongside the key and value bytes.
const itemOverhead = 64
