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

// Command gomemd is the cache daemon: it parses the CLI/config-file/env
// layered settings, builds the item store and protocol engine, and serves
// TCP, UDP and/or a Unix-domain socket until it receives SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	libatm "github.com/nabbar/gomemd/atomic"
	liblog "github.com/nabbar/gomemd/logger"
	libver "github.com/nabbar/gomemd/version"
	libvpr "github.com/nabbar/gomemd/viper"
)

// Exit codes mirrored from BSD sysexits.h, the same family spec.md §6
// names for the original CLI's own exit behavior.
const (
	exitOK      = 0
	exUsage     = 64
	exOSErr     = 71
	exitFailure = 1
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := &Config{}
	v := libvpr.New()
	var log *liblog.Logger

	root := &cobra.Command{
		Use:           "gomemd",
		Short:         "A network-addressable in-memory key/value cache",
		Version:       libver.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfg.ConfigFile != "" {
				v.SetConfigFile(cfg.ConfigFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("reading --config: %w", err)
				}
			}
			if err := libvpr.BindFlags(v, cmd); err != nil {
				return err
			}
			return libvpr.Unmarshal(v, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.License {
				fmt.Println(licenseText())
				return nil
			}

			var err error
			log, err = liblog.New(liblog.FromVerbosity(cfg.Verbose), "")
			if err != nil {
				return err
			}

			level := libatm.NewValue[liblog.Level]()
			level.Store(liblog.FromVerbosity(cfg.Verbose))

			if cfg.PidFile != "" {
				if err := os.WriteFile(cfg.PidFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
					return err
				}
				defer func() { _ = os.Remove(cfg.PidFile) }()
			}

			if cfg.MLockAll {
				if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
					log.Warn("mlockall failed", liblog.Fields{}.Add("error", err.Error()))
				}
			}

			if cfg.User != "" {
				log.Warn("privilege drop requested but not implemented on this platform; continuing as the current user", liblog.Fields{}.Add("user", cfg.User))
			}
			if cfg.Daemonize {
				log.Warn("daemonize requested; this build always runs in the foreground", liblog.Fields{})
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			go watchReload(cfg, log, level)

			log.Info("starting", liblog.Fields{}.Add("version", libver.String()))
			return serve(ctx, cfg, log, level)
		},
	}
	cfg = registerFlags(root)

	if err := root.Execute(); err != nil {
		if log != nil {
			log.Error(err.Error(), liblog.Fields{})
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		return exitCode(err)
	}
	return exitOK
}

// exitCode maps a fatal error to the sysexits.h-style code spec.md §6
// documents: a flag/config error is EX_USAGE, a listener bind/accept
// failure is EX_OSERR, anything else is a generic fatal init failure.
func exitCode(err error) int {
	var ue usageError
	if errors.As(err, &ue) {
		return exUsage
	}

	var ne *net.OpError
	var pe *os.PathError
	if errors.As(err, &ne) || errors.As(err, &pe) {
		return exOSErr
	}

	return exitFailure
}

// watchReload re-applies the log level on SIGHUP. The level is derived from
// cfg.Verbose, which is read once at startup; the config file is not re-read,
// so a SIGHUP restores the startup level and does not pick up a new one.
// Listener addresses, memory limit and thread count likewise stay fixed
// for the life of the process. level is the shared, atomically-readable
// record of the current setting: serve's metrics endpoint reads it
// without needing a callback back into this function.
func watchReload(cfg *Config, log *liblog.Logger, level libatm.Value[liblog.Level]) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)
	for range ch {
		next := liblog.FromVerbosity(cfg.Verbose)
		log.SetLevel(next)
		level.Store(next)
		log.Info("log level reloaded on SIGHUP", liblog.Fields{}.Add("level", next.String()))
	}
}

func licenseText() string {
	return libver.String() + "\n\nMIT License\n\nPermission is hereby granted, free of charge, to any person obtaining a copy\nof this software and associated documentation files, to deal in the\nSoftware without restriction, subject to including the above copyright\nnotice in all copies or substantial portions of the Software."
}
