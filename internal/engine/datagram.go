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
	"encoding/binary"
	"io"

	libsck "github.com/nabbar/gomemd/socket"
)

// UDPMaxPayloadSize bounds a single reply datagram, its 8-byte frame header
// included (spec.md §4.6, "UDP specifics"); a reply larger than that is
// split across several datagrams sharing one request id.
const UDPMaxPayloadSize = 1400

const udpHeaderSize = 8

// DatagramHandler returns a socket.HandlerFunc for the shared UDP
// socket.Context every worker registers against the same net.PacketConn
// (spec.md §4.7). Each datagram is read whole by the udp server package and
// handed here as a self-contained Context: this function strips the 8-byte
// req_id|seq|total|reserved framing, rejects anything but a single-packet
// request, dispatches exactly one text or binary command against the
// remaining bytes, and replies with the same framing prepended, splitting
// the reply across several datagrams if it would not otherwise fit.
func (e *Engine) DatagramHandler() libsck.HandlerFunc {
	return func(ctx libsck.Context) {
		var hdr [udpHeaderSize]byte
		if _, err := io.ReadFull(ctx, hdr[:]); err != nil {
			return
		}

		reqID := binary.BigEndian.Uint16(hdr[0:2])
		seq := binary.BigEndian.Uint16(hdr[2:4])
		total := binary.BigEndian.Uint16(hdr[4:6])

		if seq != 0 || total != 1 {
			e.writeDatagramReply(ctx, reqID, []byte("SERVER_ERROR multi-packet request not supported\r\n"))
			return
		}

		rest, err := io.ReadAll(ctx)
		if err != nil {
			return
		}

		br := bufio.NewReader(bytes.NewReader(rest))
		first, err := br.Peek(1)
		if err != nil {
			return
		}

		var reply bytes.Buffer
		if first[0] == magicRequest {
			h, err := readHeader(br)
			if err != nil {
				return
			}
			_ = e.ServeBinary(br, &reply, h)
		} else {
			line, err := readLine(br)
			if err != nil {
				return
			}
			res := e.dispatchText(br, line)
			reply.Write(res.reply)
		}

		e.writeDatagramReply(ctx, reqID, reply.Bytes())
	}
}

// writeDatagramReply splits payload into chunks of at most
// UDPMaxPayloadSize-udpHeaderSize bytes and writes each as its own datagram,
// prefixed with req_id|seq|total|reserved, matching spec.md §4.6.
func (e *Engine) writeDatagramReply(w io.Writer, reqID uint16, payload []byte) {
	chunkSize := UDPMaxPayloadSize - udpHeaderSize
	total := (len(payload) + chunkSize - 1) / chunkSize
	if total == 0 {
		total = 1
	}

	for seq := 0; seq < total; seq++ {
		start := seq * chunkSize
		end := start + chunkSize
		if end > len(payload) {
			end = len(payload)
		}

		var hdr [udpHeaderSize]byte
		binary.BigEndian.PutUint16(hdr[0:2], reqID)
		binary.BigEndian.PutUint16(hdr[2:4], uint16(seq))
		binary.BigEndian.PutUint16(hdr[4:6], uint16(total))

		datagram := append(append([]byte(nil), hdr[:]...), payload[start:end]...)
		if _, err := w.Write(datagram); err != nil {
			return
		}
		e.Stats.BytesWritten.Add(uint64(len(datagram)))
	}
}
