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

// Package socket holds the transport-agnostic types shared by every
// protocol-specific server package under socket/server: the per-connection
// Context handed to a HandlerFunc, the connection lifecycle ConnState
// enumeration, and the Server contract each listener satisfies.
package socket

import (
	"context"
	"net"
)

// ConnState enumerates the stages a connection passes through from accept
// (or dial) to teardown. Values and String() text are part of the public
// contract: callers match on them for logging and metrics.
type ConnState uint8

const (
	ConnectionDial ConnState = iota
	ConnectionNew
	ConnectionRead
	ConnectionCloseRead
	ConnectionHandler
	ConnectionWrite
	ConnectionCloseWrite
	ConnectionClose
)

func (s ConnState) String() string {
	switch s {
	case ConnectionDial:
		return "Dial Connection"
	case ConnectionNew:
		return "New Connection"
	case ConnectionRead:
		return "Read Incoming Stream"
	case ConnectionCloseRead:
		return "Close Incoming Stream"
	case ConnectionHandler:
		return "Run HandlerFunc"
	case ConnectionWrite:
		return "Write Outgoing Steam"
	case ConnectionCloseWrite:
		return "Close Outgoing Stream"
	case ConnectionClose:
		return "Close Connection"
	default:
		return "unknown connection state"
	}
}

// DefaultBufferSize is the size of the per-connection read buffer used by
// every server package unless the caller overrides it.
const DefaultBufferSize = 32 * 1024

// EOL is the byte the text protocol scans for to delimit a command line.
const EOL = '\n'

// ErrorFilter drops an error whose text is exactly "use of closed network
// connection" (net.ErrClosed itself) so that callers can log every other
// error without that expected noise. An error that only contains that text,
// such as a *net.OpError or a wrapped error around net.ErrClosed, is
// returned unchanged.
func ErrorFilter(err error) error {
	if err == nil {
		return nil
	}
	if err.Error() == "use of closed network connection" {
		return nil
	}
	return err
}

// FuncError receives every error a server or connection encounters,
// already passed through ErrorFilter by the caller where appropriate.
type FuncError func(errs ...error)

// FuncInfo is notified on every ConnState transition for a connection.
type FuncInfo func(local, remote net.Addr, state ConnState)

// Context is the per-connection handle given to a HandlerFunc. It wraps the
// underlying net.Conn with cancellation plumbing so a handler can select on
// Done() instead of holding a direct reference to the listener's context.
type Context interface {
	context.Context

	// IsConnected reports whether the underlying connection is still open.
	IsConnected() bool

	// LocalHost and RemoteHost return the local/remote address as text,
	// matching net.Conn.LocalAddr()/RemoteAddr().String().
	LocalHost() string
	RemoteHost() string

	LocalAddr() net.Addr
	RemoteAddr() net.Addr

	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)

	// Close tears down the underlying connection immediately; the server
	// still runs its own ConnectionClose bookkeeping afterward.
	Close() error
}

// HandlerFunc processes one connection end to end. It returns when the
// connection should be closed; the server does not call it again for the
// same connection.
type HandlerFunc func(ctx Context)

// Server is the contract every protocol-specific server (tcp/udp/unix)
// satisfies.
type Server interface {
	// RegisterFuncError installs the callback invoked for every error the
	// server or its connections encounter.
	RegisterFuncError(f FuncError)

	// RegisterFuncInfo installs the callback invoked on every connection
	// state transition.
	RegisterFuncInfo(f FuncInfo)

	// Listen blocks, accepting connections until ctx is canceled or Shutdown
	// is called from another goroutine. It returns the reason the listener
	// stopped, or nil on a clean Shutdown.
	Listen(ctx context.Context) error

	// Shutdown stops accepting new connections and waits (bounded by ctx)
	// for in-flight connections to finish.
	Shutdown(ctx context.Context) error

	// IsRunning reports whether Listen is currently accepting connections.
	IsRunning() bool

	// IsGone reports whether the server has never been started or has
	// completed a Shutdown.
	IsGone() bool

	// OpenConnections returns the number of connections currently being
	// served.
	OpenConnections() int64
}
