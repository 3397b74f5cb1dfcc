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

// Package config describes the listener configuration shared by every
// socket/server package. It carries no TLS: the cache server this config
// feeds never terminates TLS, so the struct stays a plain network/address/
// permission triple.
package config

import (
	"errors"
	"fmt"
	"net"

	libdur "github.com/nabbar/gomemd/duration"
	libprm "github.com/nabbar/gomemd/file/perm"
	libptc "github.com/nabbar/gomemd/network/protocol"
)

// MaxGID is the largest group id accepted for a unix socket's GroupPerm.
const MaxGID = 32767

var (
	ErrInvalidProtocol = errors.New("invalid protocol")
	ErrInvalidAddress  = errors.New("invalid address")
	ErrInvalidGroup    = errors.New("invalid unix group")
)

// Server describes one listener: the network it binds and the address to
// bind it on. Network must be tcp/tcp4/tcp6/udp/udp4/udp6/unix; PermFile and
// GroupPerm only apply when Network is unix.
type Server struct {
	Network NetworkMode `mapstructure:"network" json:"network" yaml:"network"`
	Address string      `mapstructure:"address" json:"address" yaml:"address"`

	// ConIdleTimeout closes a connection that has sat idle (no read progress)
	// longer than this. Zero disables the idle timeout.
	ConIdleTimeout libdur.Duration `mapstructure:"conn_idle_timeout" json:"connIdleTimeout" yaml:"connIdleTimeout"`

	// PermFile is the file mode applied to the socket file once it is
	// created. Only meaningful for Network == unix.
	PermFile libprm.Perm `mapstructure:"perm_file" json:"permFile" yaml:"permFile"`

	// GroupPerm is the gid to chown the socket file to after creation. -1
	// leaves the owning group unchanged. Only meaningful for Network == unix.
	GroupPerm int32 `mapstructure:"group_perm" json:"groupPerm" yaml:"groupPerm"`
}

// NetworkMode is an alias kept local to this package so config files can
// name the protocol library without importing it under two names.
type NetworkMode = libptc.NetworkProtocol

// Validate checks that Network is one this package knows how to serve, that
// Address parses for that network, and that GroupPerm (when set) is a
// plausible gid.
func (s Server) Validate() error {
	switch s.Network {
	case libptc.NetworkTCP, libptc.NetworkTCP4, libptc.NetworkTCP6:
		if _, err := net.ResolveTCPAddr(s.Network.String(), s.Address); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidAddress, err.Error())
		}
	case libptc.NetworkUDP, libptc.NetworkUDP4, libptc.NetworkUDP6:
		if _, err := net.ResolveUDPAddr(s.Network.String(), s.Address); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidAddress, err.Error())
		}
	case libptc.NetworkUnix:
		if s.Address == "" {
			return fmt.Errorf("%w: empty unix socket path", ErrInvalidAddress)
		}
		if s.GroupPerm < -1 || s.GroupPerm > MaxGID {
			return ErrInvalidGroup
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidProtocol, s.Network.String())
	}

	return nil
}
