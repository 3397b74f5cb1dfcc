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
	"fmt"
	"reflect"
)

// ViperDecoderHook returns a mapstructure decode hook that converts a string
// or integer config value into a NetworkProtocol, for use with viper.Unmarshal.
// Source values of any other kind (bool, float, struct, slice...) pass
// through unchanged, leaving mapstructure free to report its own mismatch.
// So does data whose dynamic type is not from (nil included).
func ViperDecoderHook() func(reflect.Type, reflect.Type, interface{}) (interface{}, error) {
	target := reflect.TypeOf(NetworkProtocol(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != target || reflect.TypeOf(data) != from {
			return data, nil
		}

		switch from.Kind() {
		case reflect.String:
			return Parse(fmt.Sprintf("%v", data)), nil

		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			i := reflect.ValueOf(data).Int()
			if p := ParseInt64(i); p != NetworkEmpty {
				return p, nil
			}
			return nil, fmt.Errorf("protocol: invalid value %d for NetworkProtocol", i)

		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			u := reflect.ValueOf(data).Uint()
			if p := ParseInt64(int64(u)); p != NetworkEmpty {
				return p, nil
			}
			return nil, fmt.Errorf("protocol: invalid value %d for NetworkProtocol", u)

		default:
			return data, nil
		}
	}
}
