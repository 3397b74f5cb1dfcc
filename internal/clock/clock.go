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

// Package clock is the process-wide time source spec.md §4.1 describes: a
// relative current_time in seconds since process start, refreshed once a
// second by Run's timer and on demand by RefreshNow for commands (flush_all,
// expiration arithmetic) that need a consistent "now" without paying for a
// time.Now() syscall on every hot-path call.
package clock

import (
	"context"
	"sync/atomic"
	"time"
)

// Clock holds the relative current_time spec.md §4.1 names, refreshed
// periodically by Run and on demand by RefreshNow. The zero value is not
// usable; construct with New.
type Clock struct {
	started time.Time
	current atomic.Int64
}

// New returns a Clock with processStarted set two seconds before now, so
// current_time is never zero at startup: callers can use a zero
// "oldest_live" as a tri-state (never set) without it colliding with a
// real elapsed time of zero.
func New() *Clock {
	c := &Clock{started: time.Now().Add(-2 * time.Second)}
	c.RefreshNow()
	return c
}

// Now returns the last-refreshed relative time, in whole seconds since
// process start. It never touches the wall clock itself: hot-path callers
// read one atomic int64 instead of taking a time.Now() syscall.
func (c *Clock) Now() int64 {
	return c.current.Load()
}

// RefreshNow recomputes current_time from the wall clock. Run calls this
// once a second; commands that act on time (flush_all's "now", expiration
// computations) call it on demand so their view of "now" is never more
// than one tick stale.
func (c *Clock) RefreshNow() {
	c.current.Store(int64(time.Since(c.started).Seconds()))
}

// Run refreshes current_time once a second until ctx is canceled. It is
// the timer-callback half of spec.md §4.1; cmd/gomemd runs one of these
// alongside the cache's listeners for the life of the process.
func (c *Clock) Run(ctx context.Context) error {
	t := time.NewTicker(time.Second)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			c.RefreshNow()
		}
	}
}
