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

	libsck "github.com/nabbar/gomemd/socket"
)

// Handler returns a socket.HandlerFunc that serves one TCP or Unix stream
// connection end to end: auto-negotiate text vs binary on the first byte
// (spec.md §4.4), then loop dispatching commands until the peer disconnects,
// sends "quit"/QUIT, or a transport error occurs. The latch is permanent for
// the lifetime of the connection, matching spec.md's "Latch is
// per-connection and permanent for that connection."
func (e *Engine) Handler() libsck.HandlerFunc {
	return func(ctx libsck.Context) {
		e.Stats.ConnectionOpened()
		defer e.Stats.ConnectionClosed()

		br := bufio.NewReaderSize(ctx, libsck.DefaultBufferSize)

		first, err := br.Peek(1)
		if err != nil {
			return
		}

		if first[0] == magicRequest {
			e.serveBinaryConn(br, ctx)
			return
		}
		e.reportConn(CodeConnRead, e.ServeText(br, ctx, nil))
	}
}

// serveBinaryConn loops reading and dispatching one binary header+body per
// iteration until the connection closes or the peer sends QUIT, per
// spec.md §4.4/§4.6 (binary protocol errors or transport errors always
// transition to closing).
func (e *Engine) serveBinaryConn(br *bufio.Reader, bw libsck.Context) {
	for {
		h, err := readHeader(br)
		if err != nil {
			e.reportConn(CodeBadFraming, err)
			return
		}
		if err := e.ServeBinary(br, bw, h); err != nil {
			e.reportConn(CodeConnWrite, err)
			return
		}
	}
}
