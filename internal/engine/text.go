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
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	libsto "github.com/nabbar/gomemd/internal/store"
)

// textResult is what a text command produces: the exact bytes to write
// back (already "\r\n" terminated, or empty under noreply) and whether the
// connection should close once it has been flushed ("quit").
type textResult struct {
	reply []byte
	quit  bool
}

func textReply(s string) textResult {
	return textResult{reply: []byte(s)}
}

var (
	crlf = []byte("\r\n")

	replyStored    = []byte("STORED\r\n")
	replyNotStored = []byte("NOT_STORED\r\n")
	replyExists    = []byte("EXISTS\r\n")
	replyNotFound  = []byte("NOT_FOUND\r\n")
	replyDeleted   = []byte("DELETED\r\n")
	replyOK        = []byte("OK\r\n")
	replyError     = []byte("ERROR\r\n")
	replyEnd       = []byte("END\r\n")
)

// ServeText drives the text protocol state machine for one connection: read
// a command line, read any bulk payload it announces, dispatch, write the
// reply, repeat until the peer disconnects or sends "quit". br must not be
// shared with anything else reading the same connection (ServeBinary takes
// over the same *bufio.Reader when the first byte auto-negotiates binary
// instead).
func (e *Engine) ServeText(br *bufio.Reader, bw io.Writer, firstLine []byte) error {
	line := firstLine
	for {
		if line == nil {
			var err error
			line, err = readLine(br)
			if err != nil {
				return err
			}
		}

		res := e.dispatchText(br, line)
		line = nil

		if len(res.reply) > 0 {
			if _, err := bw.Write(res.reply); err != nil {
				return err
			}
			e.Stats.BytesWritten.Add(uint64(len(res.reply)))
		}
		if res.quit {
			return nil
		}
	}
}

// readLine returns one command line with its trailing "\r\n" or "\n"
// stripped. A line that does not fit br's buffer is returned as
// "*toolong*"; maxLineLength*8 caps how many of its bytes one call reads
// and discards before giving up on finding the newline.
const maxLineLength = 8192

func readLine(br *bufio.Reader) ([]byte, error) {
	line, err := br.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		// Drain and discard the oversized line, then surface it as a
		// CLIENT_ERROR from the caller's next dispatch rather than
		// growing an attacker-controlled buffer without bound.
		discarded := append([]byte(nil), line...)
		for err == bufio.ErrBufferFull {
			line, err = br.ReadSlice('\n')
			discarded = append(discarded, line...)
			if len(discarded) > maxLineLength*8 {
				break
			}
		}
		if err != nil && err != bufio.ErrBufferFull {
			return nil, err
		}
		return []byte("*toolong*"), nil
	}
	if err != nil {
		return nil, err
	}
	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	return line, nil
}

func (e *Engine) dispatchText(br *bufio.Reader, line []byte) textResult {
	if string(line) == "*toolong*" {
		return textReply("CLIENT_ERROR bad command line format\r\n")
	}

	fields := strings.Fields(string(line))
	if len(fields) == 0 {
		return textReply("ERROR\r\n")
	}

	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "get", "gets":
		return e.cmdGet(args, cmd == "gets")
	case "set", "add", "replace", "append", "prepend":
		return e.cmdStore(br, cmd, args)
	case "cas":
		return e.cmdCas(br, args)
	case "delete":
		return e.cmdDelete(args)
	case "incr":
		return e.cmdIncrDecr(args, true)
	case "decr":
		return e.cmdIncrDecr(args, false)
	case "stats":
		return e.cmdStats(args)
	case "flush_all":
		return e.cmdFlushAll(args)
	case "version":
		return textReply(fmt.Sprintf("VERSION %s\r\n", versionString()))
	case "verbosity":
		return e.cmdVerbosity(args)
	case "slabs":
		return e.cmdSlabs(args)
	case "quit":
		return textResult{quit: true}
	default:
		return textReply("ERROR\r\n")
	}
}

func hasNoReply(args []string) ([]string, bool) {
	if len(args) > 0 && args[len(args)-1] == "noreply" {
		return args[:len(args)-1], true
	}
	return args, false
}

func validKey(k string) bool {
	return len(k) > 0 && len(k) <= MaxKeyLength
}

func (e *Engine) cmdGet(args []string, withCas bool) textResult {
	if len(args) == 0 {
		return textReply("ERROR\r\n")
	}

	var buf bytes.Buffer
	for _, key := range args {
		e.Stats.CmdGet.Add(1)

		if !validKey(key) {
			e.Stats.GetMisses.Add(1)
			continue
		}

		snap, ok := e.Store.Get(key)
		if !ok {
			e.Stats.GetMisses.Add(1)
			continue
		}
		e.Stats.GetHits.Add(1)

		if withCas {
			fmt.Fprintf(&buf, "VALUE %s %d %d %d\r\n", snap.Key, snap.Flags, len(snap.Bytes), snap.Cas)
		} else {
			fmt.Fprintf(&buf, "VALUE %s %d %d\r\n", snap.Key, snap.Flags, len(snap.Bytes))
		}
		buf.Write(snap.Bytes)
		buf.Write(crlf)
	}
	buf.Write(replyEnd)

	return textResult{reply: buf.Bytes()}
}

// readPayload reads exactly n bytes plus the mandatory trailing "\r\n" and
// validates the trailer, matching spec.md §4.4's "read exactly <bytes>+2
// raw payload ... validate trailer" rule.
func readPayload(br *bufio.Reader, n int) ([]byte, error, bool) {
	buf := make([]byte, n+2)
	if _, err := io.ReadFull(br, buf); err != nil {
		return nil, err, false
	}
	if buf[n] != '\r' || buf[n+1] != '\n' {
		return buf[:n], nil, false
	}
	return buf[:n], nil, true
}

func (e *Engine) cmdStore(br *bufio.Reader, cmd string, args []string) textResult {
	args, noreply := hasNoReply(args)
	if len(args) != 4 {
		return textReply("ERROR\r\n")
	}

	key := args[0]
	flags, err1 := strconv.ParseUint(args[1], 10, 32)
	exptimeRaw, err2 := strconv.ParseInt(args[2], 10, 64)
	nbytes, err3 := strconv.Atoi(args[3])

	if err1 != nil || err2 != nil || err3 != nil || nbytes < 0 {
		return textReply("CLIENT_ERROR bad command line format\r\n")
	}

	payload, err, trailerOK := readPayload(br, nbytes)
	if err != nil {
		return textResult{quit: true}
	}
	e.Stats.BytesRead.Add(uint64(len(payload) + 2))

	if !validKey(key) {
		if !noreply {
			return textReply("CLIENT_ERROR bad command line format\r\n")
		}
		return textResult{}
	}
	if !trailerOK {
		if !noreply {
			return textReply("CLIENT_ERROR bad data chunk\r\n")
		}
		return textResult{}
	}
	if nbytes > e.maxValueLen() {
		if !noreply {
			return textReply("SERVER_ERROR object too large for cache\r\n")
		}
		return textResult{}
	}

	mode := modeFor(cmd)
	e.Stats.CmdSet.Add(1)

	now := time.Now()
	_, err = e.Store.Set(mode, key, uint32(flags), normalizeExptime(exptimeRaw, now), payload, 0)

	res := storeResultReply(err)
	if noreply {
		return textResult{}
	}
	return textReply(res)
}

func modeFor(cmd string) libsto.StoreMode {
	switch cmd {
	case "add":
		return libsto.ModeAdd
	case "replace":
		return libsto.ModeReplace
	case "append":
		return libsto.ModeAppend
	case "prepend":
		return libsto.ModePrepend
	default:
		return libsto.ModeSet
	}
}

func storeResultReply(err error) string {
	switch err {
	case nil:
		return "STORED\r\n"
	case libsto.ErrNotStored:
		return "NOT_STORED\r\n"
	case libsto.ErrExists:
		return "EXISTS\r\n"
	case libsto.ErrNotFound:
		return "NOT_FOUND\r\n"
	case libsto.ErrTooLarge:
		return "SERVER_ERROR object too large for cache\r\n"
	default:
		return "SERVER_ERROR " + err.Error() + "\r\n"
	}
}

func (e *Engine) cmdCas(br *bufio.Reader, args []string) textResult {
	args, noreply := hasNoReply(args)
	if len(args) != 5 {
		return textReply("ERROR\r\n")
	}

	key := args[0]
	flags, err1 := strconv.ParseUint(args[1], 10, 32)
	exptimeRaw, err2 := strconv.ParseInt(args[2], 10, 64)
	nbytes, err3 := strconv.Atoi(args[3])
	casID, err4 := strconv.ParseUint(args[4], 10, 64)

	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || nbytes < 0 {
		return textReply("CLIENT_ERROR bad command line format\r\n")
	}

	payload, err, trailerOK := readPayload(br, nbytes)
	if err != nil {
		return textResult{quit: true}
	}
	e.Stats.BytesRead.Add(uint64(len(payload) + 2))

	if e.CasDisabled {
		if !noreply {
			return textReply("CLIENT_ERROR cas is disabled\r\n")
		}
		return textResult{}
	}
	if !validKey(key) {
		if !noreply {
			return textReply("CLIENT_ERROR bad command line format\r\n")
		}
		return textResult{}
	}
	if !trailerOK {
		if !noreply {
			return textReply("CLIENT_ERROR bad data chunk\r\n")
		}
		return textResult{}
	}

	e.Stats.CmdSet.Add(1)
	now := time.Now()
	_, err = e.Store.Set(libsto.ModeCas, key, uint32(flags), normalizeExptime(exptimeRaw, now), payload, casID)

	switch err {
	case nil:
		e.Stats.CasHits.Add(1)
	case libsto.ErrExists:
		e.Stats.CasBadval.Add(1)
	case libsto.ErrNotFound:
		e.Stats.CasMisses.Add(1)
	}

	if noreply {
		return textResult{}
	}
	return textReply(storeResultReply(err))
}

func (e *Engine) cmdDelete(args []string) textResult {
	args, noreply := hasNoReply(args)
	if len(args) != 1 {
		return textReply("ERROR\r\n")
	}
	key := args[0]
	if !validKey(key) {
		if !noreply {
			return textReply("CLIENT_ERROR bad command line format\r\n")
		}
		return textResult{}
	}

	ok := e.Store.Delete(key)
	if ok {
		e.Stats.DeleteHits.Add(1)
	} else {
		e.Stats.DeleteMisses.Add(1)
	}

	if noreply {
		return textResult{}
	}
	if ok {
		return textReply("DELETED\r\n")
	}
	return textReply("NOT_FOUND\r\n")
}

func (e *Engine) cmdIncrDecr(args []string, incr bool) textResult {
	args, noreply := hasNoReply(args)
	if len(args) != 2 {
		return textReply("ERROR\r\n")
	}
	key := args[0]
	delta, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		if !noreply {
			return textReply("CLIENT_ERROR invalid numeric delta argument\r\n")
		}
		return textResult{}
	}

	var (
		val uint64
		opErr error
	)
	if incr {
		val, opErr = e.Store.Incr(key, delta)
	} else {
		val, opErr = e.Store.Decr(key, delta)
	}

	hits, misses := &e.Stats.IncrHits, &e.Stats.IncrMisses
	if !incr {
		hits, misses = &e.Stats.DecrHits, &e.Stats.DecrMisses
	}

	switch opErr {
	case nil:
		hits.Add(1)
		if noreply {
			return textResult{}
		}
		return textReply(fmt.Sprintf("%d\r\n", val))
	case libsto.ErrNotFound:
		misses.Add(1)
		if noreply {
			return textResult{}
		}
		return textReply("NOT_FOUND\r\n")
	case libsto.ErrNotNumeric:
		if noreply {
			return textResult{}
		}
		return textReply("CLIENT_ERROR cannot increment or decrement non-numeric value\r\n")
	default:
		if noreply {
			return textResult{}
		}
		return textReply("SERVER_ERROR " + opErr.Error() + "\r\n")
	}
}

func (e *Engine) cmdFlushAll(args []string) textResult {
	args, noreply := hasNoReply(args)

	var delay time.Duration
	if len(args) >= 1 {
		n, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			if !noreply {
				return textReply("CLIENT_ERROR bad command line format\r\n")
			}
			return textResult{}
		}
		delay = time.Duration(n) * time.Second
	}

	e.refreshNow()
	e.Stats.CmdFlush.Add(1)
	e.Store.FlushAll(delay)

	if noreply {
		return textResult{}
	}
	return textReply("OK\r\n")
}

func (e *Engine) cmdVerbosity(args []string) textResult {
	args, noreply := hasNoReply(args)
	if len(args) != 1 {
		return textReply("ERROR\r\n")
	}
	if _, err := strconv.Atoi(args[0]); err != nil {
		if !noreply {
			return textReply("CLIENT_ERROR bad command line format\r\n")
		}
		return textResult{}
	}
	if noreply {
		return textResult{}
	}
	return textReply("OK\r\n")
}

// cmdSlabs answers "slabs reassign <src> <dst>" with a bare DONE: this
// repository has no slab allocator to reassign pages within (spec.md §1
// puts slab-class sizing explicitly out of scope), so the command is a
// harmless no-op rather than an error, matching the reply vocabulary
// spec.md §6 reserves for it.
func (e *Engine) cmdSlabs(args []string) textResult {
	if len(args) >= 1 && args[0] == "reassign" {
		return textReply("DONE\r\n")
	}
	return textReply("ERROR\r\n")
}

func (e *Engine) cmdStats(args []string) textResult {
	if len(args) == 0 {
		return textReply(e.renderStats())
	}

	switch args[0] {
	case "reset":
		e.Stats.Reset()
		return textReply("RESET\r\n")
	case "detail":
		return textReply("OK\r\n")
	case "cachedump":
		return textReply("END\r\n")
	default:
		return textReply("END\r\n")
	}
}
