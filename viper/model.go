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

// Package viper wires a spf13/viper instance to the config file, the
// environment and the command-line flags that populate the server's
// Config, with decode hooks for every domain-specific type
// (network/protocol.NetworkProtocol, duration.Duration, file/perm.Perm,
// size.Size) registered up front so callers can Unmarshal straight into
// typed structs.
package viper

import (
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	libdur "github.com/nabbar/gomemd/duration"
	libprm "github.com/nabbar/gomemd/file/perm"
	libptc "github.com/nabbar/gomemd/network/protocol"
	libsiz "github.com/nabbar/gomemd/size"
)

// New returns a viper.Viper with GOMEMD_-prefixed env lookup and "-"/"."
// replaced by "_" for env key matching.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("GOMEMD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds every flag in cmd's flag set into v under the same name,
// so a value set on the command line overrides the config file and
// environment for that key.
func BindFlags(v *viper.Viper, cmd *cobra.Command) error {
	return v.BindPFlags(cmd.Flags())
}

// DecoderHooks composes the mapstructure decode hooks needed to Unmarshal a
// viper config into a struct using the domain types above.
func DecoderHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		libptc.ViperDecoderHook(),
		libprm.ViperDecoderHook(),
		libsiz.ViperDecoderHook(),
		libdur.ViperDecoderHook(),
	)
}

// Unmarshal decodes v's settings into out, applying DecoderHooks.
func Unmarshal(v *viper.Viper, out interface{}) error {
	return v.Unmarshal(out, func(c *mapstructure.DecoderConfig) {
		c.DecodeHook = DecoderHooks()
	})
}
