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

package tcp

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	libsck "github.com/nabbar/gomemd/socket"
)

type connContext struct {
	context.Context
	cancel context.CancelFunc

	conn  net.Conn
	idle  time.Duration
	alive atomic.Bool
}

func newContext(parent context.Context, conn net.Conn, idle time.Duration) *connContext {
	ctx, cancel := context.WithCancel(parent)
	c := &connContext{
		Context: ctx,
		cancel:  cancel,
		conn:    conn,
		idle:    idle,
	}
	c.alive.Store(true)

	go func() {
		<-ctx.Done()
		c.alive.Store(false)
		_ = conn.Close()
	}()

	return c
}

// bumpDeadline pushes conn's next read/write deadline idle out from now,
// implementing ConIdleTimeout: a connection that sits idle longer than this
// has its next Read/Write fail, which unblocks the handler's loop and lets
// the caller tear the connection down. Zero disables it.
func (c *connContext) bumpDeadline() {
	if c.idle > 0 {
		_ = c.conn.SetDeadline(time.Now().Add(c.idle))
	}
}

func (c *connContext) IsConnected() bool {
	return c.alive.Load()
}

func (c *connContext) LocalHost() string {
	return c.conn.LocalAddr().String()
}

func (c *connContext) RemoteHost() string {
	return c.conn.RemoteAddr().String()
}

func (c *connContext) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *connContext) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *connContext) Read(p []byte) (int, error) {
	c.bumpDeadline()
	return c.conn.Read(p)
}

func (c *connContext) Write(p []byte) (int, error) {
	c.bumpDeadline()
	return c.conn.Write(p)
}

func (c *connContext) Close() error {
	c.cancel()
	return nil
}

var _ libsck.Context = (*connContext)(nil)
