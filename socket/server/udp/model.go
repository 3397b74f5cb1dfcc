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

// Package udp implements libsck.Server over a single shared net.PacketConn.
// Unlike tcp/unix there is no per-peer connection: every datagram is read
// off the one socket and handed to the HandlerFunc as a self-contained
// Context holding exactly that datagram's bytes. A reply is limited to what
// fits back in one datagram; reassembling a request spread across several
// datagrams is out of scope, matching the wire protocol's own single-packet
// framing.
package udp

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

// MaxDatagramSize bounds a single read; UDP payloads larger than this are
// truncated by ReadFrom the same way any other UDP reader would truncate
// them.
const MaxDatagramSize = 65507

type srv struct {
	cfg sckcfg.Server
	hdl libsck.HandlerFunc

	fe atomic.Value
	fi atomic.Value

	mu sync.Mutex
	pc net.PacketConn

	running atomic.Bool
	gone    atomic.Bool
	open    atomic.Int64
}

// New returns a UDP libsck.Server bound to cfg once Listen is called.
func New(handler libsck.HandlerFunc, cfg sckcfg.Server) (libsck.Server, error) {
	if handler == nil {
		return nil, errors.New("udp: handler is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &srv{cfg: cfg, hdl: handler}
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
	pc, err := net.ListenPacket(s.cfg.Network.String(), s.cfg.Address)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.pc = pc
	s.mu.Unlock()

	s.gone.Store(false)
	s.running.Store(true)
	defer s.running.Store(false)

	var wg sync.WaitGroup
	defer wg.Wait()

	buf := make([]byte, MaxDatagramSize)

	for {
		n, addr, err := pc.ReadFrom(buf)
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

		payload := make([]byte, n)
		copy(payload, buf[:n])

		s.open.Add(1)
		wg.Add(1)
		go s.serve(ctx, pc, addr, payload, &wg)
	}
}

func (s *srv) serve(ctx context.Context, pc net.PacketConn, addr net.Addr, payload []byte, wg *sync.WaitGroup) {
	defer wg.Done()
	defer s.open.Add(-1)

	s.reportInfo(pc.LocalAddr(), addr, libsck.ConnectionNew)

	cx := newContext(ctx, pc, addr, payload)
	defer cx.cancel()

	s.reportInfo(pc.LocalAddr(), addr, libsck.ConnectionHandler)
	s.hdl(cx)

	s.reportInfo(pc.LocalAddr(), addr, libsck.ConnectionClose)
}

// Shutdown closes the shared packet socket, which unblocks ReadFrom in
// Listen and returns nil from it.
func (s *srv) Shutdown(_ context.Context) error {
	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()

	s.gone.Store(true)

	if pc == nil {
		return nil
	}

	return pc.Close()
}
