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

// Package size provides a byte-count type parsed from the same k/m/g
// suffixed notation, with JSON/text encoding (no YAML-specific methods) and
// a viper decode hook for config files.
package size

import (
	"fmt"
	"strconv"
	"strings"
)

// Size is a count of bytes.
type Size int64

const (
	Byte     Size = 1
	Kilobyte      = 1024 * Byte
	Megabyte      = 1024 * Kilobyte
	Gigabyte      = 1024 * Megabyte
	Terabyte      = 1024 * Gigabyte
)

var suffixes = []struct {
	suffix string
	unit   Size
}{
	{"tb", Terabyte},
	{"t", Terabyte},
	{"gb", Gigabyte},
	{"g", Gigabyte},
	{"mb", Megabyte},
	{"m", Megabyte},
	{"kb", Kilobyte},
	{"k", Kilobyte},
	{"b", Byte},
}

// Parse accepts a bare integer (bytes) or an integer followed by a
// k/m/g/t (optionally with a trailing b) suffix, case-insensitively, e.g.
// "64m", "1G", "512", "2TB".
func Parse(s string) (Size, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("size: empty value")
	}

	lower := strings.ToLower(s)
	for _, sfx := range suffixes {
		if strings.HasSuffix(lower, sfx.suffix) {
			numPart := strings.TrimSpace(s[:len(s)-len(sfx.suffix)])
			if numPart == "" {
				return 0, fmt.Errorf("size: invalid value %q", s)
			}
			n, err := strconv.ParseInt(numPart, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("size: invalid value %q: %w", s, err)
			}
			return Size(n) * sfx.unit, nil
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("size: invalid value %q: %w", s, err)
	}
	return Size(n), nil
}

// MustParse is Parse, panicking on error. Only meant for constants built at
// init time from literal strings known valid at compile time.
func MustParse(s string) Size {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (s Size) Bytes() int64 {
	return int64(s)
}

// String renders the largest unit that divides s evenly, falling back to a
// plain byte count.
func (s Size) String() string {
	switch {
	case s != 0 && s%Terabyte == 0:
		return fmt.Sprintf("%dT", int64(s/Terabyte))
	case s != 0 && s%Gigabyte == 0:
		return fmt.Sprintf("%dG", int64(s/Gigabyte))
	case s != 0 && s%Megabyte == 0:
		return fmt.Sprintf("%dM", int64(s/Megabyte))
	case s != 0 && s%Kilobyte == 0:
		return fmt.Sprintf("%dK", int64(s/Kilobyte))
	default:
		return strconv.FormatInt(int64(s), 10)
	}
}
