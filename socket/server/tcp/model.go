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

// Package tcp implements libsck.Server over net.Listen("tcp", ...), one
// goroutine per accepted connection handed to the registered HandlerFunc.
package tcp

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	libsck "github.com/nabbar/gomemd/socket"
	sckcfg "github.com/nabbar/gomemd/socket/config"
)

var ErrInvalidAddress = errors.New("invalid address")

// UpdateConn lets the caller wrap or tune an accepted net.Conn (set
// keep-alive, wrap in a rate limiter...) before it is handed to the
// connection context. It may return the conn unmodified.
type UpdateConn func(conn net.Conn) net.Conn

type srv struct {
	cfg sckcfg.Server
	upd UpdateConn
	hdl libsck.HandlerFunc

	fe atomic.Value // libsck.FuncError
	fi atomic.Value // libsck.FuncInfo

	mu sync.Mutex
	ln net.Listener

	running atomic.Bool
	gone    atomic.Bool
	open    atomic.Int64
}

// New returns a TCP libsck.Server bound to cfg once Listen is called.
// updateConn may be nil.
func New(updateConn UpdateConn, handler libsck.HandlerFunc, cfg sckcfg.Server) (libsck.Server, error) {
	if handler == nil {
		return nil, errors.New("tcp: handler is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &srv{
		cfg: cfg,
		upd: updateConn,
		hdl: handler,
	}
	s.gone.Store(true)

	return s, nil
}

func (s *srv) RegisterFuncError(f libsck.FuncError) {
	s.fe.Store(f)
}

func (s *srv) RegisterFuncInfo(f libsck.FuncInfo) {
	s.fi.Store(f)
}

func (s *srv) reportErr(errs ...error) {
	if v, ok := s.fe.Load().(libsck.FuncError); ok && v != nil {
		v(errs...)
	}
}

func (s *srv) reportInfo(local, remote net.Addr, state libsck.ConnState) {
	if v, ok := s.fi.Load().(libsck.FuncInfo); ok && v != nil {
		v(local, remote, state)
	}
}

func (s *srv) IsRunning() bool {
	return s.running.Load()
}

func (s *srv) IsGone() bool {
	return s.gone.Load()
}

func (s *srv) OpenConnections() int64 {
	return s.open.Load()
}

func (s *srv) Listen(ctx context.Context) error {
	ln, err := net.Listen(s.cfg.Network.String(), s.cfg.Address)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.gone.Store(false)
	s.running.Store(true)
	defer s.running.Store(false)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if e := libsck.ErrorFilter(err); e != nil {
				s.reportErr(e)
			}
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}

		if s.upd != nil {
			conn = s.upd(conn)
		}

		s.open.Add(1)
		wg.Add(1)
		go s.serve(ctx, conn, &wg)
	}
}

func (s *srv) serve(ctx context.Context, conn net.Conn, wg *sync.WaitGroup) {
	defer wg.Done()
	defer s.open.Add(-1)

	s.reportInfo(conn.LocalAddr(), conn.RemoteAddr(), libsck.ConnectionNew)

	cx := newContext(ctx, conn, s.cfg.ConIdleTimeout.Time())
	defer cx.cancel()

	s.reportInfo(conn.LocalAddr(), conn.RemoteAddr(), libsck.ConnectionHandler)
	s.hdl(cx)

	s.reportInfo(conn.LocalAddr(), conn.RemoteAddr(), libsck.ConnectionClose)
	if err := libsck.ErrorFilter(conn.Close()); err != nil {
		s.reportErr(err)
	}
}

// Shutdown closes the listener, which unblocks Accept in Listen and returns
// nil from it. It does not wait for in-flight connections: callers that need
// that guarantee should cancel the context passed to Listen instead, which
// every Context derived from it observes via Done().
func (s *srv) Shutdown(_ context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()

	s.gone.Store(true)

	if ln == nil {
		return nil
	}

	return ln.Close()
}
