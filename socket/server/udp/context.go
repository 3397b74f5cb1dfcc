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

package udp

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"

	libsck "github.com/nabbar/gomemd/socket"
)

// datagramContext hands a HandlerFunc exactly one already-received datagram
// to read, and lets it write back at most one reply datagram to the same
// peer over the shared socket.
type datagramContext struct {
	context.Context
	cancel context.CancelFunc

	pc   net.PacketConn
	addr net.Addr

	mu     sync.Mutex
	unread []byte

	alive atomic.Bool
}

func newContext(parent context.Context, pc net.PacketConn, addr net.Addr, payload []byte) *datagramContext {
	ctx, cancel := context.WithCancel(parent)
	c := &datagramContext{
		Context: ctx,
		cancel:  cancel,
		pc:      pc,
		addr:    addr,
		unread:  payload,
	}
	c.alive.Store(true)

	go func() {
		<-ctx.Done()
		c.alive.Store(false)
	}()

	return c
}

func (c *datagramContext) IsConnected() bool {
	return c.alive.Load()
}

func (c *datagramContext) LocalHost() string {
	return c.pc.LocalAddr().String()
}

func (c *datagramContext) RemoteHost() string {
	return c.addr.String()
}

func (c *datagramContext) LocalAddr() net.Addr {
	return c.pc.LocalAddr()
}

func (c *datagramContext) RemoteAddr() net.Addr {
	return c.addr
}

// Read drains the buffered datagram. Once it has all been returned, Read
// reports io.EOF: there is no second datagram coming for this Context.
func (c *datagramContext) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.unread) == 0 {
		return 0, io.EOF
	}

	n := copy(p, c.unread)
	c.unread = c.unread[n:]

	return n, nil
}

// Write sends p as one datagram back to the peer. Callers that need more
// than one reply datagram must split the payload themselves; the wire
// protocol layer does this when a response exceeds a single datagram.
func (c *datagramContext) Write(p []byte) (int, error) {
	return c.pc.WriteTo(p, c.addr)
}

func (c *datagramContext) Close() error {
	c.cancel()
	return nil
}

var _ libsck.Context = (*datagramContext)(nil)
