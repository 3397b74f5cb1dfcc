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
	"bytes"
	"fmt"
	"strings"
)

// MarshalJSON implements json.Marshaler.
func (n NetworkProtocol) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", n.String())), nil
}

// MarshalText implements encoding.TextMarshaler.
func (n NetworkProtocol) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalJSON implements json.Unmarshaler. Unknown values decode to
// NetworkEmpty without error, matching Parse's lenient behavior.
//
// Quote stripping runs single quotes first, then double quotes, so a
// doubly-quoted value like `"'tcp'"` is left with embedded single quotes
// after the outer pair is removed and fails to match.
func (n *NetworkProtocol) UnmarshalJSON(data []byte) error {
	b := bytes.Trim(data, "'")
	b = bytes.Trim(b, `"`)
	*n = byCode[strings.ToLower(string(b))]
	return nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *NetworkProtocol) UnmarshalText(data []byte) error {
	*n = ParseBytes(data)
	return nil
}
