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

// Package stats aggregates the global counters the text protocol's "stats"
// command reports: connection accounting, per-command hit/miss tallies and
// the item-table counters internal/store maintains on its own.
package stats

import (
	"sync/atomic"
	"time"

	libsto "github.com/nabbar/gomemd/internal/store"
)

// Counters holds every process-lifetime counter the stats command reports,
// one atomic field per line of output. internal/metrics reads them through
// Snapshot when mirroring into Prometheus.
type Counters struct {
	startedAt time.Time

	CurrConnections  atomic.Int64
	TotalConnections atomic.Uint64

	CmdGet    atomic.Uint64
	CmdSet    atomic.Uint64
	CmdFlush  atomic.Uint64
	CmdTouch  atomic.Uint64

	GetHits   atomic.Uint64
	GetMisses atomic.Uint64

	DeleteHits   atomic.Uint64
	DeleteMisses atomic.Uint64

	IncrHits   atomic.Uint64
	IncrMisses atomic.Uint64
	DecrHits   atomic.Uint64
	DecrMisses atomic.Uint64

	CasHits     atomic.Uint64
	CasMisses   atomic.Uint64
	CasBadval   atomic.Uint64

	BytesRead    atomic.Uint64
	BytesWritten atomic.Uint64
}

// New returns a zeroed Counters stamped with the current time as the
// process start, used to compute the reported "uptime".
func New() *Counters {
	return &Counters{startedAt: time.Now()}
}

func (c *Counters) Uptime() time.Duration {
	return time.Since(c.startedAt)
}

func (c *Counters) ConnectionOpened() {
	c.CurrConnections.Add(1)
	c.TotalConnections.Add(1)
}

func (c *Counters) ConnectionClosed() {
	c.CurrConnections.Add(-1)
}

// Reset zeroes every cumulative counter the "stats reset" command touches.
// CurrConnections is a live gauge, not a cumulative counter, and is left
// alone; everything else in Counters only ever accumulates.
func (c *Counters) Reset() {
	c.TotalConnections.Store(0)
	c.CmdGet.Store(0)
	c.CmdSet.Store(0)
	c.CmdFlush.Store(0)
	c.CmdTouch.Store(0)
	c.GetHits.Store(0)
	c.GetMisses.Store(0)
	c.DeleteHits.Store(0)
	c.DeleteMisses.Store(0)
	c.IncrHits.Store(0)
	c.IncrMisses.Store(0)
	c.DecrHits.Store(0)
	c.DecrMisses.Store(0)
	c.CasHits.Store(0)
	c.CasMisses.Store(0)
	c.CasBadval.Store(0)
	c.BytesRead.Store(0)
	c.BytesWritten.Store(0)
}

// Snapshot is the full set of values the "stats" command renders as
// "STAT <name> <value>\r\n" lines, combined with the live item-table
// counters pulled from the store at render time.
type Snapshot struct {
	Uptime           time.Duration
	CurrConnections  int64
	TotalConnections uint64
	CmdGet           uint64
	CmdSet           uint64
	CmdFlush         uint64
	CmdTouch         uint64
	GetHits          uint64
	GetMisses        uint64
	DeleteHits       uint64
	DeleteMisses     uint64
	IncrHits         uint64
	IncrMisses       uint64
	DecrHits         uint64
	DecrMisses       uint64
	CasHits          uint64
	CasMisses        uint64
	CasBadval        uint64
	BytesRead        uint64
	BytesWritten     uint64

	CurrItems  int64
	TotalItems uint64
	Evictions  uint64
	Expired    uint64
	BytesUsed  int64
}

func (c *Counters) Snapshot(st *libsto.Store) Snapshot {
	s := Snapshot{
		Uptime:           c.Uptime(),
		CurrConnections:  c.CurrConnections.Load(),
		TotalConnections: c.TotalConnections.Load(),
		CmdGet:           c.CmdGet.Load(),
		CmdSet:           c.CmdSet.Load(),
		CmdFlush:         c.CmdFlush.Load(),
		CmdTouch:         c.CmdTouch.Load(),
		GetHits:          c.GetHits.Load(),
		GetMisses:        c.GetMisses.Load(),
		DeleteHits:       c.DeleteHits.Load(),
		DeleteMisses:     c.DeleteMisses.Load(),
		IncrHits:         c.IncrHits.Load(),
		IncrMisses:       c.IncrMisses.Load(),
		DecrHits:         c.DecrHits.Load(),
		DecrMisses:       c.DecrMisses.Load(),
		CasHits:          c.CasHits.Load(),
		CasMisses:        c.CasMisses.Load(),
		CasBadval:        c.CasBadval.Load(),
		BytesRead:        c.BytesRead.Load(),
		BytesWritten:     c.BytesWritten.Load(),
	}

	if st != nil {
		ss := st.Stats()
		s.CurrItems = ss.CurrItems
		s.TotalItems = ss.TotalItems
		s.Evictions = ss.Evictions
		s.Expired = ss.Expired
		s.BytesUsed = ss.BytesUsed
	}

	return s
}
