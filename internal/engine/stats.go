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

package engine

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// renderStats formats the no-arg "stats" command's reply: the server-scope
// keys spec.md §6 lists by name, in order, followed by the engine's own
// counters, terminated by "END\r\n".
func (e *Engine) renderStats() string {
	now := time.Now()
	s := e.Stats.Snapshot(e.Store)

	var ru unix.Rusage
	_ = unix.Getrusage(unix.RUSAGE_SELF, &ru)

	var b strings.Builder
	stat := func(k string, v interface{}) {
		fmt.Fprintf(&b, "STAT %s %v\r\n", k, v)
	}

	stat("pid", os.Getpid())
	stat("uptime", int64(s.Uptime.Seconds()))
	stat("time", now.Unix())
	stat("version", versionString())
	stat("pointer_size", 64)
	stat("rusage_user", rusageString(int64(ru.Utime.Sec), int64(ru.Utime.Usec)))
	stat("rusage_system", rusageString(int64(ru.Stime.Sec), int64(ru.Stime.Usec)))
	stat("curr_connections", s.CurrConnections)
	stat("total_connections", s.TotalConnections)
	stat("connection_structures", s.CurrConnections)
	stat("cmd_get", s.CmdGet)
	stat("cmd_set", s.CmdSet)
	stat("get_hits", s.GetHits)
	stat("get_misses", s.GetMisses)
	stat("delete_misses", s.DeleteMisses)
	stat("delete_hits", s.DeleteHits)
	stat("incr_misses", s.IncrMisses)
	stat("incr_hits", s.IncrHits)
	stat("decr_misses", s.DecrMisses)
	stat("decr_hits", s.DecrHits)
	stat("bytes_read", s.BytesRead)
	stat("bytes_written", s.BytesWritten)
	stat("limit_maxbytes", e.Store.MaxBytes())
	stat("threads", runtime.GOMAXPROCS(0))

	// Item-table counters, additional to spec.md §6's mandatory list but
	// useful for the same command and already aggregated by internal/stats.
	stat("curr_items", s.CurrItems)
	stat("total_items", s.TotalItems)
	stat("evictions", s.Evictions)
	stat("expired_unfetched", s.Expired)
	stat("bytes", s.BytesUsed)

	b.Write(replyEnd)
	return b.String()
}

func rusageString(sec, usec int64) string {
	return fmt.Sprintf("%d.%06d", sec, usec)
}
