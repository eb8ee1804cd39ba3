// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger provides the leveled, optionally-rotating logger used
// throughout compressfs. A process-wide default logger is installed by
// init and replaced once the resolved configuration is known.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/jacobsa/compressfs/cfg"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the leveled logger interface used by the rest of the codebase.
type Logger interface {
	Tracef(format string, v ...interface{})
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
}

type severityLogger struct {
	severity cfg.LogSeverity
	json     bool
	std      *log.Logger
}

var global atomic.Pointer[severityLogger]

func init() {
	global.Store(&severityLogger{
		severity: cfg.InfoLogSeverity,
		std:      log.New(os.Stderr, "", log.LstdFlags),
	})
}

// Init installs the process-wide logger described by c. When c.FilePath is
// set, output is rotated through lumberjack and written asynchronously so
// that log calls on the FUSE hot path never block on disk I/O.
func Init(c cfg.LoggingConfig) (io.Closer, error) {
	var out io.Writer = os.Stderr
	var closer io.Closer

	if c.FilePath != "" {
		lj := &lumberjack.Logger{
			Filename:   string(c.FilePath),
			MaxSize:    c.LogRotate.MaxFileSizeMb,
			MaxBackups: c.LogRotate.BackupFileCount,
			Compress:   c.LogRotate.Compress,
		}
		async := NewAsyncLogger(lj, 4096)
		out = async
		closer = async
	}

	jsonFormat := c.Format == "json"
	flags := log.LstdFlags
	if jsonFormat {
		// JSON records carry their own timestamp field.
		flags = 0
	}

	global.Store(&severityLogger{
		severity: c.Severity,
		json:     jsonFormat,
		std:      log.New(out, "", flags),
	})

	if closer == nil {
		closer = noopCloser{}
	}
	return closer, nil
}

type noopCloser struct{}

func (noopCloser) Close() error { return nil }

func current() *severityLogger { return global.Load() }

func (l *severityLogger) enabled(level cfg.LogSeverity) bool {
	return l.severity != cfg.OffLogSeverity && level.Rank() >= l.severity.Rank()
}

func (l *severityLogger) logf(level cfg.LogSeverity, format string, v ...interface{}) {
	if !l.enabled(level) {
		return
	}
	msg := fmt.Sprintf(format, v...)
	if l.json {
		record, err := json.Marshal(struct {
			Time     string `json:"time"`
			Severity string `json:"severity"`
			Message  string `json:"message"`
		}{time.Now().Format(time.RFC3339Nano), string(level), msg})
		if err == nil {
			l.std.Output(3, string(record))
			return
		}
	}
	l.std.Output(3, fmt.Sprintf("[%s] %s", level, msg))
}

func Tracef(format string, v ...interface{}) { current().logf(cfg.TraceLogSeverity, format, v...) }
func Debugf(format string, v ...interface{}) { current().logf(cfg.DebugLogSeverity, format, v...) }
func Infof(format string, v ...interface{})  { current().logf(cfg.InfoLogSeverity, format, v...) }
func Warnf(format string, v ...interface{})  { current().logf(cfg.WarningLogSeverity, format, v...) }
func Errorf(format string, v ...interface{}) { current().logf(cfg.ErrorLogSeverity, format, v...) }
