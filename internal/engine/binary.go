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
	"encoding/binary"
	"io"
	"time"

	libsto "github.com/nabbar/gomemd/internal/store"
)

// Binary protocol magics (spec.md §4.4).
const (
	magicRequest  byte = 0x80
	magicResponse byte = 0x81
)

// Opcode is one binary protocol command byte (spec.md §6).
type Opcode byte

const (
	opGet          Opcode = 0x00
	opSet          Opcode = 0x01
	opAdd          Opcode = 0x02
	opReplace      Opcode = 0x03
	opDelete       Opcode = 0x04
	opIncrement    Opcode = 0x05
	opDecrement    Opcode = 0x06
	opQuit         Opcode = 0x07
	opFlush        Opcode = 0x08
	opGetQ         Opcode = 0x09
	opNoop         Opcode = 0x0A
	opVersion      Opcode = 0x0B
	opGetK         Opcode = 0x0C
	opGetKQ        Opcode = 0x0D
	opAppend       Opcode = 0x0E
	opPrepend      Opcode = 0x0F
	opStat         Opcode = 0x10
	opSetQ         Opcode = 0x11
	opAddQ         Opcode = 0x12
	opReplaceQ     Opcode = 0x13
	opDeleteQ      Opcode = 0x14
	opIncrementQ   Opcode = 0x15
	opDecrementQ   Opcode = 0x16
	opQuitQ        Opcode = 0x17
	opFlushQ       Opcode = 0x18
	opAppendQ      Opcode = 0x19
	opPrependQ     Opcode = 0x1A
)

// Status is a binary protocol response status (spec.md §4.4).
type Status uint16

const (
	statusOK           Status = 0x0000
	statusKeyNotFound  Status = 0x0001
	statusKeyExists    Status = 0x0002
	statusTooLarge     Status = 0x0003
	statusInvalidArgs  Status = 0x0004
	statusNotStored    Status = 0x0005
	statusUnknownCmd   Status = 0x0081
	statusOutOfMemory  Status = 0x0082
)

// header is the 24-byte fixed binary protocol frame header, spec.md §4.4.
type header struct {
	Magic    byte
	Opcode   Opcode
	KeyLen   uint16
	ExtLen   uint8
	DataType uint8
	Status   uint16 // request: reserved (must be 0); response: status
	BodyLen  uint32
	Opaque   uint32
	Cas      uint64
}

func readHeader(r io.Reader) (header, error) {
	var raw [24]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return header{}, err
	}
	return header{
		Magic:    raw[0],
		Opcode:   Opcode(raw[1]),
		KeyLen:   binary.BigEndian.Uint16(raw[2:4]),
		ExtLen:   raw[4],
		DataType: raw[5],
		Status:   binary.BigEndian.Uint16(raw[6:8]),
		BodyLen:  binary.BigEndian.Uint32(raw[8:12]),
		Opaque:   binary.BigEndian.Uint32(raw[12:16]),
		Cas:      binary.BigEndian.Uint64(raw[16:24]),
	}, nil
}

func writeHeader(w io.Writer, op Opcode, keyLen uint16, extLen uint8, status Status, bodyLen uint32, opaque uint32, cas uint64) error {
	var raw [24]byte
	raw[0] = magicResponse
	raw[1] = byte(op)
	binary.BigEndian.PutUint16(raw[2:4], keyLen)
	raw[4] = extLen
	raw[5] = 0
	binary.BigEndian.PutUint16(raw[6:8], uint16(status))
	binary.BigEndian.PutUint32(raw[8:12], bodyLen)
	binary.BigEndian.PutUint32(raw[12:16], opaque)
	binary.BigEndian.PutUint64(raw[16:24], cas)
	_, err := w.Write(raw[:])
	return err
}

// binRequest is one fully-read binary request: header plus its three body
// segments, already validated against the opcode's extras/key schema.
type binRequest struct {
	header
	extras []byte
	key    []byte
	value  []byte
}

// errBadFraming is returned by readRequest when a request's extlen/keylen/
// bodylen combination doesn't match what its opcode requires; the caller
// must answer EINVAL and close the connection (spec.md §4.4).
var errBadFraming = errBadFramingType{}

type errBadFramingType struct{}

func (errBadFramingType) Error() string { return "binary protocol: bad framing" }

// errQuit signals a clean, client-requested close (QUIT/QUITQ): no error
// report is warranted, unlike errBadFraming.
var errQuit = errQuitType{}

type errQuitType struct{}

func (errQuitType) Error() string { return "binary protocol: quit" }

// extrasLen returns the extras length required for op's request. flexible
// is true when the opcode also accepts no extras at all (FLUSH's optional
// expiration), in which case want is the only other length allowed.
func extrasLen(op Opcode) (want int, flexible bool) {
	switch op {
	case opSet, opSetQ, opAdd, opAddQ, opReplace, opReplaceQ:
		return 8, false
	case opIncrement, opIncrementQ, opDecrement, opDecrementQ:
		return 20, false
	case opFlush, opFlushQ:
		return 4, true // 0 or 4
	default:
		return 0, false
	}
}

func readRequest(br *bufio.Reader, h header) (binRequest, error) {
	want, flexible := extrasLen(h.Opcode)
	if flexible {
		if int(h.ExtLen) != 0 && int(h.ExtLen) != want {
			return binRequest{}, errBadFraming
		}
	} else if int(h.ExtLen) != want {
		return binRequest{}, errBadFraming
	}

	valueLen := int(h.BodyLen) - int(h.KeyLen) - int(h.ExtLen)
	if valueLen < 0 {
		return binRequest{}, errBadFraming
	}
	if int(h.KeyLen) > MaxKeyLength {
		return binRequest{}, errBadFraming
	}

	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(br, body); err != nil {
		return binRequest{}, err
	}

	return binRequest{
		header: h,
		extras: body[:h.ExtLen],
		key:    body[h.ExtLen : int(h.ExtLen)+int(h.KeyLen)],
		value:  body[int(h.ExtLen)+int(h.KeyLen):],
	}, nil
}

// binResponse is the reply a binary command produces: a status, optional
// extras/key/value and the per-opcode "quiet" suppression decision. The
// quiet opcodes suppress exactly the response a success would otherwise
// produce; errors are always sent even for a Q opcode, except GET/GETK
// misses, whose silence is the protocol's documented contract (spec.md §8).
type binResponse struct {
	status     Status
	extras     []byte
	key        []byte
	value      []byte
	cas        uint64
	suppressed bool
	closeConn  bool
}

func okResponse() binResponse { return binResponse{status: statusOK} }

// ServeBinary processes exactly one binary request whose header h has
// already been read, writes its response to bw, and returns an error if the
// connection must be dropped (bad framing, read or write failure, or a quit
// opcode).
func (e *Engine) ServeBinary(br *bufio.Reader, bw io.Writer, h header) error {
	if h.Magic != magicRequest {
		return errBadFraming
	}

	req, err := readRequest(br, h)
	if err != nil {
		if err == errBadFraming {
			_ = writeHeader(bw, h.Opcode, 0, 0, statusInvalidArgs, 0, h.Opaque, 0)
			return errBadFraming
		}
		return err
	}
	e.Stats.BytesRead.Add(uint64(24 + len(req.extras) + len(req.key) + len(req.value)))

	resp := e.dispatchBinary(req)
	if resp.closeConn {
		return errQuit
	}
	if resp.suppressed && isQuiet(h.Opcode) {
		return nil
	}

	body := uint32(len(resp.extras) + len(resp.key) + len(resp.value))
	if err := writeHeader(bw, h.Opcode, uint16(len(resp.key)), uint8(len(resp.extras)), resp.status, body, h.Opaque, resp.cas); err != nil {
		return err
	}
	n := 24
	if len(resp.extras) > 0 {
		if _, err := bw.Write(resp.extras); err != nil {
			return err
		}
		n += len(resp.extras)
	}
	if len(resp.key) > 0 {
		if _, err := bw.Write(resp.key); err != nil {
			return err
		}
		n += len(resp.key)
	}
	if len(resp.value) > 0 {
		if _, err := bw.Write(resp.value); err != nil {
			return err
		}
		n += len(resp.value)
	}
	e.Stats.BytesWritten.Add(uint64(n))
	return nil
}

func isQuiet(op Opcode) bool {
	switch op {
	case opGetQ, opGetKQ, opSetQ, opAddQ, opReplaceQ, opDeleteQ, opIncrementQ, opDecrementQ, opQuitQ, opFlushQ, opAppendQ, opPrependQ:
		return true
	default:
		return false
	}
}

func (e *Engine) dispatchBinary(req binRequest) binResponse {
	key := string(req.key)

	switch req.Opcode {
	case opGet, opGetQ, opGetK, opGetKQ:
		return e.binGet(req, key)

	case opSet, opSetQ, opAdd, opAddQ, opReplace, opReplaceQ:
		return e.binStore(req, key)

	case opAppend, opAppendQ, opPrepend, opPrependQ:
		return e.binAppendPrepend(req, key)

	case opDelete, opDeleteQ:
		if !validKey(key) {
			return binResponse{status: statusInvalidArgs}
		}
		if e.Store.Delete(key) {
			e.Stats.DeleteHits.Add(1)
			return binResponse{status: statusOK, suppressed: true}
		}
		e.Stats.DeleteMisses.Add(1)
		return binResponse{status: statusKeyNotFound}

	case opIncrement, opIncrementQ, opDecrement, opDecrementQ:
		return e.binIncrDecr(req, key)

	case opQuit, opQuitQ:
		return binResponse{status: statusOK, closeConn: true}

	case opFlush:
		e.refreshNow()
		e.Stats.CmdFlush.Add(1)
		e.Store.FlushAll(flushDelayFromExtras(req.extras))
		return binResponse{status: statusOK}
	case opFlushQ:
		e.refreshNow()
		e.Stats.CmdFlush.Add(1)
		e.Store.FlushAll(flushDelayFromExtras(req.extras))
		return binResponse{status: statusOK, suppressed: true}

	case opNoop:
		return okResponse()

	case opVersion:
		return binResponse{status: statusOK, value: []byte(versionString())}

	case opStat:
		return binResponse{status: statusOK}

	default:
		return binResponse{status: statusUnknownCmd}
	}
}

func flushDelayFromExtras(extras []byte) time.Duration {
	if len(extras) < 4 {
		return 0
	}
	return time.Duration(binary.BigEndian.Uint32(extras)) * time.Second
}

func (e *Engine) binGet(req binRequest, key string) binResponse {
	e.Stats.CmdGet.Add(1)
	withKey := req.Opcode == opGetK || req.Opcode == opGetKQ

	if !validKey(key) {
		e.Stats.GetMisses.Add(1)
		return binResponse{status: statusInvalidArgs}
	}

	snap, ok := e.Store.Get(key)
	if !ok {
		e.Stats.GetMisses.Add(1)
		return binResponse{status: statusKeyNotFound, suppressed: true}
	}
	e.Stats.GetHits.Add(1)

	extras := make([]byte, 4)
	binary.BigEndian.PutUint32(extras, snap.Flags)

	resp := binResponse{status: statusOK, extras: extras, value: snap.Bytes, cas: snap.Cas}
	if withKey {
		resp.key = []byte(snap.Key)
	}
	return resp
}

func (e *Engine) binStore(req binRequest, key string) binResponse {
	if len(req.extras) != 8 || !validKey(key) {
		return binResponse{status: statusInvalidArgs}
	}
	if len(req.value) > e.maxValueLen() {
		return binResponse{status: statusTooLarge}
	}

	flags := binary.BigEndian.Uint32(req.extras[0:4])
	exptimeRaw := int64(binary.BigEndian.Uint32(req.extras[4:8]))

	mode := libsto.ModeSet
	switch req.Opcode {
	case opAdd, opAddQ:
		mode = libsto.ModeAdd
	case opReplace, opReplaceQ:
		mode = libsto.ModeReplace
	}
	if req.Cas != 0 {
		mode = libsto.ModeCas
	}

	e.Stats.CmdSet.Add(1)
	now := time.Now()
	cas, err := e.Store.Set(mode, key, flags, normalizeExptime(exptimeRaw, now), req.value, req.Cas)

	switch err {
	case nil:
		return binResponse{status: statusOK, cas: cas, suppressed: true}
	case libsto.ErrNotStored:
		// The binary protocol, unlike the text one, distinguishes why a
		// precondition failed: ADD reports the key already exists, REPLACE
		// reports it doesn't.
		if mode == libsto.ModeAdd {
			return binResponse{status: statusKeyExists}
		}
		return binResponse{status: statusKeyNotFound}
	case libsto.ErrExists:
		return binResponse{status: statusKeyExists}
	case libsto.ErrNotFound:
		return binResponse{status: statusKeyNotFound}
	case libsto.ErrTooLarge:
		return binResponse{status: statusTooLarge}
	default:
		return binResponse{status: statusOutOfMemory}
	}
}

func (e *Engine) binAppendPrepend(req binRequest, key string) binResponse {
	if len(req.extras) != 0 || !validKey(key) {
		return binResponse{status: statusInvalidArgs}
	}

	mode := libsto.ModeAppend
	if req.Opcode == opPrepend || req.Opcode == opPrependQ {
		mode = libsto.ModePrepend
	}

	e.Stats.CmdSet.Add(1)
	cas, err := e.Store.Set(mode, key, 0, 0, req.value, 0)

	switch err {
	case nil:
		return binResponse{status: statusOK, cas: cas, suppressed: true}
	case libsto.ErrNotStored:
		return binResponse{status: statusNotStored}
	case libsto.ErrTooLarge:
		return binResponse{status: statusTooLarge}
	default:
		return binResponse{status: statusOutOfMemory}
	}
}

func (e *Engine) binIncrDecr(req binRequest, key string) binResponse {
	if len(req.extras) != 20 || !validKey(key) {
		return binResponse{status: statusInvalidArgs}
	}

	delta := binary.BigEndian.Uint64(req.extras[0:8])
	initial := binary.BigEndian.Uint64(req.extras[8:16])
	expiration := binary.BigEndian.Uint32(req.extras[16:20])

	incr := req.Opcode == opIncrement || req.Opcode == opIncrementQ
	hits, misses := &e.Stats.IncrHits, &e.Stats.IncrMisses
	if !incr {
		hits, misses = &e.Stats.DecrHits, &e.Stats.DecrMisses
	}

	var (
		val uint64
		err error
	)
	if incr {
		val, err = e.Store.Incr(key, delta)
	} else {
		val, err = e.Store.Decr(key, delta)
	}

	if err == libsto.ErrNotFound {
		if expiration == 0xFFFFFFFF {
			misses.Add(1)
			return binResponse{status: statusKeyNotFound}
		}
		// "do not create if missing" is off: seed the counter at initial,
		// per spec.md §6's description of the extras.
		now := time.Now()
		cas, setErr := e.Store.Set(libsto.ModeAdd, key, 0, normalizeExptime(int64(expiration), now),
			[]byte(formatUint(initial)), 0)
		if setErr != nil {
			misses.Add(1)
			return binResponse{status: statusOutOfMemory}
		}
		hits.Add(1)
		value := make([]byte, 8)
		binary.BigEndian.PutUint64(value, initial)
		return binResponse{status: statusOK, value: value, cas: cas, suppressed: true}
	}
	if err == libsto.ErrNotNumeric {
		return binResponse{status: statusInvalidArgs}
	}

	hits.Add(1)
	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, val)
	return binResponse{status: statusOK, value: value, suppressed: true}
}

func formatUint(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
