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

var names = map[NetworkProtocol]string{
	NetworkUnix:     "unix",
	NetworkTCP:      "tcp",
	NetworkTCP4:     "tcp4",
	NetworkTCP6:     "tcp6",
	NetworkUDP:      "udp",
	NetworkUDP4:     "udp4",
	NetworkUDP6:     "udp6",
	NetworkIP:       "ip",
	NetworkIP4:      "ip4",
	NetworkIP6:      "ip6",
	NetworkUnixGram: "unixgram",
}

// String returns the net.Dial/net.Listen network string, or "" if n is not
// one of the known constants.
func (n NetworkProtocol) String() string {
	return names[n]
}

// Code is an alias of String, kept distinct for symmetry with Parse/ParseBytes
// which work off the same lowercase token space.
func (n NetworkProtocol) Code() string {
	return n.String()
}

// Int returns the numeric value of the protocol, or 0 for NetworkEmpty and
// out-of-range values.
func (n NetworkProtocol) Int() int {
	if _, ok := names[n]; !ok {
		return 0
	}
	return int(n)
}

// Int64 is the int64 equivalent of Int.
func (n NetworkProtocol) Int64() int64 {
	return int64(n.Int())
}
