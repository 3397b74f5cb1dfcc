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

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	libatm "github.com/nabbar/gomemd/atomic"
	libctx "github.com/nabbar/gomemd/context"
	libdur "github.com/nabbar/gomemd/duration"
	errpool "github.com/nabbar/gomemd/errors/pool"
	libclk "github.com/nabbar/gomemd/internal/clock"
	libeng "github.com/nabbar/gomemd/internal/engine"
	libmet "github.com/nabbar/gomemd/internal/metrics"
	libsto "github.com/nabbar/gomemd/internal/store"
	libstt "github.com/nabbar/gomemd/internal/stats"
	liblog "github.com/nabbar/gomemd/logger"
	libptc "github.com/nabbar/gomemd/network/protocol"
	libsck "github.com/nabbar/gomemd/socket"
	sckcfg "github.com/nabbar/gomemd/socket/config"
	tcpsrv "github.com/nabbar/gomemd/socket/server/tcp"
	udpsrv "github.com/nabbar/gomemd/socket/server/udp"
	unixsrv "github.com/nabbar/gomemd/socket/server/unix"
)

// shardCount derives the store's shard count from the configured thread
// count: more worker goroutines means more concurrent shard contention to
// spread out. It is rounded up to a power of two by store.New itself.
func shardCount(threads int) int {
	if threads <= 0 {
		return 16
	}
	return threads * 4
}

// serve builds the store, engine and configured listeners from cfg and
// blocks until ctx is canceled or a listener fails. level is the
// SIGHUP-reloadable log level (main.go's watchReload is the only writer);
// when --metrics-addr is set it is exported as a gauge so operators can
// see the live verbosity without reading the process's own logs.
func serve(ctx context.Context, cfg *Config, log *liblog.Logger, level libatm.Value[liblog.Level]) error {
	r, err := cfg.resolve()
	if err != nil {
		return err
	}

	if cfg.Threads > 0 {
		runtime.GOMAXPROCS(cfg.Threads)
	}

	idle, err := libdur.Parse(cfg.IdleTimeout)
	if err != nil {
		return usageError{fmt.Errorf("--idle-timeout: %w", err)}
	}

	store := libsto.New(shardCount(cfg.Threads), r.memBytes, 0)
	store.DisableEvict = cfg.DisableEvict

	stats := libstt.New()
	clk := libclk.New()

	eng := libeng.New(store, stats)
	eng.CasDisabled = cfg.DisableCas
	eng.Clock = clk
	eng.OnError = func(err error) {
		log.Error(err.Error(), liblog.Fields{})
	}

	reg := libctx.NewConfig[string](func() context.Context { return ctx })

	updateConn := connLimiter(cfg, log)

	switch {
	case cfg.Unix != "":
		s, err := unixsrv.New(updateConn, eng.Handler(), sckcfg.Server{
			Network:        libptc.NetworkUnix,
			Address:        cfg.Unix,
			ConIdleTimeout: idle,
			PermFile:       r.unixPerm,
			GroupPerm:      -1,
		})
		if err != nil {
			return err
		}
		s.RegisterFuncError(func(errs ...error) { logErrors(log, errs) })
		reg.Store("unix", s)

	default:
		if cfg.Port > 0 {
			s, err := tcpsrv.New(updateConn, eng.Handler(), sckcfg.Server{
				Network:        libptc.NetworkTCP,
				Address:        net.JoinHostPort(cfg.Listen, strconv.Itoa(cfg.Port)),
				ConIdleTimeout: idle,
			})
			if err != nil {
				return err
			}
			s.RegisterFuncError(func(errs ...error) { logErrors(log, errs) })
			reg.Store("tcp", s)
		}
		if cfg.UDPPort > 0 {
			s, err := udpsrv.New(eng.DatagramHandler(), sckcfg.Server{
				Network: libptc.NetworkUDP,
				Address: net.JoinHostPort(cfg.Listen, strconv.Itoa(cfg.UDPPort)),
			})
			if err != nil {
				return err
			}
			s.RegisterFuncError(func(errs ...error) { logErrors(log, errs) })
			reg.Store("udp", s)
		}
	}

	if cfg.MetricsAddr != "" {
		httpSrv := newMetricsServer(cfg.MetricsAddr, stats, store, level)
		reg.Store("metrics", httpSrv)
	}

	g, gctx := errgroup.WithContext(ctx)

	reg.Walk(func(name string, val interface{}) bool {
		switch srv := val.(type) {
		case libsck.Server:
			log.Info("listener starting", liblog.Fields{}.Add("listener", name))
			g.Go(func() error { return srv.Listen(gctx) })
		case *http.Server:
			log.Info("metrics endpoint starting", liblog.Fields{}.Add("addr", srv.Addr))
			g.Go(func() error {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					return err
				}
				return nil
			})
		}
		return true
	})

	g.Go(func() error { return clk.Run(gctx) })
	g.Go(func() error { return reapExpired(gctx, store, log) })

	g.Go(func() error {
		<-ctx.Done()

		shutdownErrs := errpool.New()
		reg.Walk(func(name string, val interface{}) bool {
			switch srv := val.(type) {
			case libsck.Server:
				shutdownErrs.Add(srv.Shutdown(context.Background()))
			case *http.Server:
				shutdownErrs.Add(srv.Shutdown(context.Background()))
			}
			return true
		})
		return shutdownErrs.Error()
	})

	return g.Wait()
}

// reapExpired drives internal/store's lazy expiration with a periodic
// sweep, the same once-a-second cadence the clock's own timer uses: Get
// and Set already reap an expired item the moment they touch it, so this
// only reclaims memory held by keys nobody has asked for since they
// expired.
func reapExpired(ctx context.Context, store *libsto.Store, log *liblog.Logger) error {
	t := time.NewTicker(time.Second)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := store.ReapExpired(1024); n > 0 {
				log.Debug("reaped expired items", liblog.Fields{}.Add("count", n))
			}
		}
	}
}

func newMetricsServer(addr string, stats *libstt.Counters, store *libsto.Store, level libatm.Value[liblog.Level]) *http.Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(libmet.New(stats, store))
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gomemd_log_level",
		Help: "Current log level (0=error, 1=warn, 2=info, 3=debug), hot-reloadable via SIGHUP.",
	}, func() float64 { return float64(level.Load()) }))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &http.Server{Addr: addr, Handler: mux}
}

func logErrors(log *liblog.Logger, errs []error) {
	for _, e := range errs {
		if e != nil {
			log.Error(e.Error(), liblog.Fields{})
		}
	}
}

// connLimiter returns an UpdateConn that enforces --max-connections with a
// semaphore: a connection that can't acquire a slot is closed immediately,
// the way a fixed-size worker pool would reject overflow work. -r disables
// the limit entirely, matching memcached's own flag.
func connLimiter(cfg *Config, log *liblog.Logger) func(net.Conn) net.Conn {
	if cfg.NoMaxConns || cfg.MaxConns <= 0 {
		return nil
	}
	sem := semaphore.NewWeighted(int64(cfg.MaxConns))

	return func(conn net.Conn) net.Conn {
		if !sem.TryAcquire(1) {
			log.Warn("max connections reached, rejecting", liblog.Fields{}.Add("remote", conn.RemoteAddr().String()))
			_ = conn.Close()
			return conn
		}
		return &releasingConn{Conn: conn, sem: sem}
	}
}

// releasingConn releases its semaphore slot exactly once, on the first
// Close call, however many times the server happens to call it.
type releasingConn struct {
	net.Conn
	sem      *semaphore.Weighted
	released atomic.Bool
}

func (c *releasingConn) Close() error {
	if c.released.CompareAndSwap(false, true) {
		c.sem.Release(1)
	}
	return c.Conn.Close()
}
