/***********************************************************************************************************************
 *
 *   MIT License
 *
 *   Copyright (c) 2022 Nicolas JUHEL
 *
 *   Permission is hereby granted, free of charge, to any person obtaining a copy
 *   of this software and associated documentation files (the "Software"), to deal
 *   in the Software without restriction, including without limitation the rights
 *   to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 *   copies of the Software, and to permit persons to whom the Software is
 *   furnished to do so, subject to the following conditions:
 *
 *   The above copyright notice and this permission notice shall be included in all
 *   copies or substantial portions of the Software.
 *
 *   THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 *   IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 *   FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 *   AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 *   LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 *   OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 *   SOFTWARE.
 *
 *
 **********************************************************************************************************************/

package protocol

import (
	"math"
	"strings"
)

var byCode = func() map[string]NetworkProtocol {
	m := make(map[string]NetworkProtocol, len(names))
	for p, s := range names {
		m[s] = p
	}
	return m
}()

// Parse returns the NetworkProtocol matching s, case-insensitively and after
// trimming surrounding whitespace and a single layer of quoting (", ' or `).
// It returns NetworkEmpty if s matches nothing.
func Parse(s string) NetworkProtocol {
	s = strings.TrimSpace(s)
	s = unquote(s)
	return byCode[strings.ToLower(s)]
}

// ParseBytes is the []byte equivalent of Parse.
func ParseBytes(b []byte) NetworkProtocol {
	return Parse(string(b))
}

// ParseInt64 returns the NetworkProtocol whose Int64 value equals i, or
// NetworkEmpty if i is out of range or not a known protocol.
func ParseInt64(i int64) NetworkProtocol {
	if i < 0 || i > math.MaxUint8 {
		return NetworkEmpty
	}

	p := NetworkProtocol(i)
	if _, ok := names[p]; !ok {
		return NetworkEmpty
	}

	return p
}

func unquote(s string) string {
	if len(s) < 2 {
		return s
	}

	quotes := []byte{'"', '\'', '`'}
	for _, q := range quotes {
		if s[0] == q && s[len(s)-1] == q {
			return s[1 : len(s)-1]
		}
	}

	return s
}
