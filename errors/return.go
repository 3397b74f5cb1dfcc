/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
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

package errors

import (
	"encoding/json"
	"fmt"
)

// Return is a JSON-serializable view of an error: a code/message pair with
// its position and the same data for each parent, for callers that need
// more than a bare string.
type Return interface {
	// SetError replaces the current error with the given code/message/position.
	SetError(code int, msg string, file string, line int)

	// AddParent appends a parent error with the given code/message/position.
	AddParent(code int, msg string, file string, line int)

	// JSON returns the JSON representation of the current error.
	JSON() []byte
}

type DefaultReturn struct {
	Code    string
	Message string
	err     []error
}

func (r *DefaultReturn) SetError(code int, msg string, file string, line int) {
	r.Code = fmt.Sprintf("%d", code)
	r.Message = msg

	if len(r.err) < 1 {
		r.err = make([]error, 0)
	}

	r.err = append(r.err, NewErrorTrace(code, msg, file, line, nil))
}

func (r *DefaultReturn) AddParent(code int, msg string, file string, line int) {
	if len(r.err) < 1 {
		r.err = make([]error, 0)
	}

	r.err = append(r.err, NewErrorTrace(code, msg, file, line, nil))
}

func (r *DefaultReturn) JSON() []byte {
	if str, err := json.Marshal(r); err != nil {
		return make([]byte, 0)
	} else {
		return str
	}
}
