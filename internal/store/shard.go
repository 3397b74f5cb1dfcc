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
	"sync"
	"sync/atomic"
	"time"
)

// shard owns a slice of the keyspace: its own hash map, its own LRU list
// (most-recently-used at head), and its own running byte total. Splitting
// the table this way keeps the store's global mutation rate spread across
// many independent locks instead of one.
type shard struct {
	mu sync.Mutex

	items map[string]*Item
	head  *Item // most recently used
	tail  *Item // least recently used

	bytesUsed atomic.Int64
}

func newShard() *shard {
	return &shard{items: make(map[string]*Item)}
}

func (s *shard) touch(it *Item) {
	if s.head == it {
		return
	}
	s.unlink(it)
	s.pushFront(it)
}

func (s *shard) pushFront(it *Item) {
	it.prev = nil
	it.next = s.head
	if s.head != nil {
		s.head.prev = it
	}
	s.head = it
	if s.tail == nil {
		s.tail = it
	}
	it.linked = true
}

func (s *shard) unlink(it *Item) {
	if !it.linked {
		return
	}
	if it.prev != nil {
		it.prev.next = it.next
	} else {
		s.head = it.next
	}
	if it.next != nil {
		it.next.prev = it.prev
	} else {
		s.tail = it.prev
	}
	it.prev, it.next = nil, nil
	it.linked = false
}

// evictLocked drops least-recently-used items until bytesUsed is at or
// below limit, or the shard is empty. Caller holds s.mu.
func (s *shard) evictLocked(limit int64, onEvict func(*Item)) {
	for limit > 0 && s.bytesUsed.Load() > limit && s.tail != nil {
		victim := s.tail
		s.unlink(victim)
		delete(s.items, victim.Key)
		s.bytesUsed.Add(-victim.size())
		if onEvict != nil {
			onEvict(victim)
		}
	}
}

// reapExpiredLocked walks the LRU tail-ward removing items whose absolute
// expiration has already passed. Caller holds s.mu. Unlike evictLocked this
// is bounded by a count, not by size, so a flush_all sweep can't pin a
// single shard's lock indefinitely.
func (s *shard) reapExpiredLocked(now time.Time, max int, onExpire func(*Item)) int {
	n := 0
	it := s.tail
	for it != nil && n < max {
		prev := it.prev
		if it.expired(now) {
			s.unlink(it)
			delete(s.items, it.Key)
			s.bytesUsed.Add(-it.size())
			if onExpire != nil {
				onExpire(it)
			}
			n++
		}
		it = prev
	}
	return n
}
