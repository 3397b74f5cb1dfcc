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
	"fmt"

	"github.com/spf13/cobra"

	libprm "github.com/nabbar/gomemd/file/perm"
	libsiz "github.com/nabbar/gomemd/size"
)

// Config mirrors the CLI surface spec.md §6 lists, plus the two additions
// SPEC_FULL.md documents (config file, Prometheus exporter address) and one
// the Go redesign needs that the original flag set has no use for
// (idle-timeout: the original's libevent loop had no per-connection timer).
// mapstructure tags match the flag names (dashes, not underscores) exactly:
// BindFlags binds each pflag into viper under its own Name, and Unmarshal
// then has to find that same key to let a config file or env var populate
// it when no flag was set.
type Config struct {
	Port     int    `mapstructure:"port"`
	UDPPort  int    `mapstructure:"udp-port"`
	Unix     string `mapstructure:"unix-socket"`
	UnixMask string `mapstructure:"unix-mask"`
	Listen   string `mapstructure:"listen"`

	Daemonize    bool   `mapstructure:"daemon"`
	NoMaxConns   bool   `mapstructure:"no-maxconns-limit"`
	User         string `mapstructure:"user"`
	MemoryLimit  string `mapstructure:"memory-limit"`
	DisableEvict bool   `mapstructure:"disable-evict"`
	MaxConns     int    `mapstructure:"max-connections"`
	MLockAll     bool   `mapstructure:"mlockall"`
	Verbose      int    `mapstructure:"verbose"`
	License      bool   `mapstructure:"license"`
	PidFile      string `mapstructure:"pidfile"`

	GrowthFactor    float64 `mapstructure:"growth-factor"`
	MinChunkSize    int     `mapstructure:"min-chunk-size"`
	Threads         int     `mapstructure:"threads"`
	PrefixDelimiter string  `mapstructure:"prefix-delimiter"`
	LargePages      bool    `mapstructure:"large-pages"`
	ReqsPerEvent    int     `mapstructure:"reqs-per-event"`
	DisableCas      bool    `mapstructure:"disable-cas"`

	ConfigFile  string `mapstructure:"-"`
	MetricsAddr string `mapstructure:"metrics-addr"`
	IdleTimeout string `mapstructure:"idle-timeout"`
}

// registerFlags binds every spec.md §6 flag (short form kept where the
// original uses one) plus this repository's three additions onto cmd, so
// viper.BindFlags can later layer env/config-file values underneath them.
func registerFlags(cmd *cobra.Command) *Config {
	c := &Config{}
	f := cmd.Flags()

	f.IntVarP(&c.Port, "port", "p", 11211, "TCP port to listen on (0 disables TCP)")
	f.IntVarP(&c.UDPPort, "udp-port", "U", 11211, "UDP port to listen on (0 disables UDP)")
	f.StringVarP(&c.Unix, "unix-socket", "s", "", "Unix-domain socket path; when set, TCP and UDP listeners are disabled")
	f.StringVarP(&c.UnixMask, "unix-mask", "a", "0700", "access mask for the Unix-domain socket, in octal")
	f.StringVarP(&c.Listen, "listen", "l", "0.0.0.0", "interface to listen on")
	f.BoolVarP(&c.Daemonize, "daemon", "d", false, "run as a daemon (accepted for CLI compatibility; this build always runs in the foreground)")
	f.BoolVarP(&c.NoMaxConns, "no-maxconns-limit", "r", false, "disable the max simultaneous connections limit")
	f.StringVarP(&c.User, "user", "u", "", "user to run as (accepted for CLI compatibility; privileges are not dropped, a warning is logged)")
	f.StringVarP(&c.MemoryLimit, "memory-limit", "m", "64m", "item memory limit, e.g. 64m, 1g")
	f.BoolVarP(&c.DisableEvict, "disable-evict", "M", false, "return an out-of-memory error instead of evicting when the limit is reached")
	f.IntVarP(&c.MaxConns, "max-connections", "c", 1024, "max simultaneous connections")
	f.BoolVarP(&c.MLockAll, "mlockall", "k", false, "lock down all paged memory")
	f.CountVarP(&c.Verbose, "verbose", "v", "increase log verbosity (-v, -vv, -vvv)")
	f.BoolVarP(&c.License, "license", "i", false, "print license information and exit")
	f.StringVarP(&c.PidFile, "pidfile", "P", "", "write the process id to this file")
	f.Float64VarP(&c.GrowthFactor, "growth-factor", "f", 1.25, "chunk size growth factor (accepted for CLI compatibility; this store has no slab classes)")
	f.IntVarP(&c.MinChunkSize, "min-chunk-size", "n", 48, "minimum space allocated for key+value+suffix (accepted for CLI compatibility; unused)")
	f.IntVarP(&c.Threads, "threads", "t", 4, "number of threads to use (maps to GOMAXPROCS)")
	f.StringVarP(&c.PrefixDelimiter, "prefix-delimiter", "D", "", "enable per-prefix stats using this delimiter (accepted for CLI compatibility; not yet aggregated)")
	f.BoolVarP(&c.LargePages, "large-pages", "L", false, "try to use large memory pages (accepted for CLI compatibility; no effect on this store)")
	f.IntVarP(&c.ReqsPerEvent, "reqs-per-event", "R", 20, "requests served per connection event (accepted for CLI compatibility; this engine serves one goroutine per connection instead)")
	f.BoolVarP(&c.DisableCas, "disable-cas", "C", false, "disable use of CAS")

	f.StringVar(&c.ConfigFile, "config", "", "YAML settings file (overridden by any flag set on the command line)")
	f.StringVar(&c.MetricsAddr, "metrics-addr", "", "if set, serve Prometheus /metrics on this address")
	f.StringVar(&c.IdleTimeout, "idle-timeout", "0s", "close a connection idle longer than this (0 disables)")

	return c
}

// resolved is the Config's CLI-facing strings converted into the typed
// values the store/engine/listeners actually need.
type resolved struct {
	memBytes int64
	unixPerm libprm.Perm
}

// usageError marks a fatal error as caused by bad CLI/config input, so main
// can report it with sysexits.h's EX_USAGE instead of a generic failure.
type usageError struct{ error }

func (u usageError) Unwrap() error { return u.error }

func (c *Config) resolve() (resolved, error) {
	var r resolved

	sz, err := libsiz.Parse(c.MemoryLimit)
	if err != nil {
		return r, usageError{fmt.Errorf("--memory-limit: %w", err)}
	}
	r.memBytes = int64(sz)

	if c.Unix != "" {
		p, err := libprm.Parse(c.UnixMask)
		if err != nil {
			return r, usageError{fmt.Errorf("--unix-mask: %w", err)}
		}
		r.unixPerm = p
	}

	return r, nil
}
