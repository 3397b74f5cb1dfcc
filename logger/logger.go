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

// Package logger is a trimmed descendant of the teacher's logrus-backed
// logger: a level-filtered Logger with structured Fields and a stdout (plus
// optional file) sink. It drops the teacher's syslog/gorm/hclog hooks and
// rotation policy, none of which this daemon needs.
package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the sink cmd/gomemd logs through; the store and the protocol
// engine do not log.
type Logger struct {
	log *logrus.Logger
}

// New returns a Logger at level, writing to stdout. If filePath is
// non-empty, the file is opened in append mode and every entry is written
// to both stdout and the file.
func New(level Level, filePath string) (*Logger, error) {
	l := logrus.New()
	l.SetLevel(level.logrus())
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	var out io.Writer = os.Stdout
	if filePath != "" {
		f, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		out = io.MultiWriter(os.Stdout, f)
	}
	l.SetOutput(out)

	return &Logger{log: l}, nil
}

// SetLevel changes the minimum level logged from this point on; cmd/gomemd's
// SIGHUP handler calls it to re-apply the level derived from its settings.
func (l *Logger) SetLevel(level Level) {
	l.log.SetLevel(level.logrus())
}

func (l *Logger) entry(f Fields) *logrus.Entry {
	if len(f) == 0 {
		return logrus.NewEntry(l.log)
	}
	return l.log.WithFields(f.logrus())
}

func (l *Logger) Debug(msg string, f Fields) { l.entry(f).Debug(msg) }
func (l *Logger) Info(msg string, f Fields)   { l.entry(f).Info(msg) }
func (l *Logger) Warn(msg string, f Fields)   { l.entry(f).Warn(msg) }
func (l *Logger) Error(msg string, f Fields)  { l.entry(f).Error(msg) }
