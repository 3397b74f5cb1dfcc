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

package engine

import (
	"io"

	liberr "github.com/nabbar/gomemd/errors"
)

// Connection-level error codes, claimed from this package's reserved range
// (errors/modules.go: MinPkgProtocol). These never reach the wire: the text
// and binary dispatch paths already render every protocol-level failure as
// CLIENT_ERROR/SERVER_ERROR or a binary status code themselves. This code/
// trace bookkeeping is only for the operator-facing error reported through
// OnError.
const (
	CodeConnRead liberr.CodeError = liberr.MinPkgProtocol + iota
	CodeConnWrite
	CodeBadFraming
)

func init() {
	liberr.RegisterIdFctMessage(liberr.MinPkgProtocol, func(code liberr.CodeError) string {
		switch code {
		case CodeConnRead:
			return "connection read failed"
		case CodeConnWrite:
			return "connection write failed"
		case CodeBadFraming:
			return "malformed request framing"
		default:
			return liberr.UnknownMessage
		}
	})
}

// reportConn wraps a non-terminal connection error with code for code/trace
// bookkeeping and forwards it to OnError, if the caller installed one. EOF,
// a closed connection and the binary protocol's own QUIT sentinel are
// expected ways for a connection to end, not failures, and are never
// reported.
func (e *Engine) reportConn(code liberr.CodeError, err error) {
	if err == nil || err == io.EOF || err == errQuit || e.OnError == nil {
		return
	}
	e.OnError(code.Error(err))
}
