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

package logger

import (
	"encoding/json"
	"log"
	"testing"

	"github.com/jacobsa/compressfs/cfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCapturedLogger(severity cfg.LogSeverity, jsonFormat bool) (*severityLogger, *syncBuffer) {
	buf := &syncBuffer{}
	return &severityLogger{
		severity: severity,
		json:     jsonFormat,
		std:      log.New(buf, "", 0),
	}, buf
}

func TestSeverityFiltering(t *testing.T) {
	l, buf := newCapturedLogger(cfg.WarningLogSeverity, false)

	l.logf(cfg.DebugLogSeverity, "too quiet")
	l.logf(cfg.InfoLogSeverity, "still too quiet")
	l.logf(cfg.WarningLogSeverity, "loud enough")
	l.logf(cfg.ErrorLogSeverity, "definitely")

	out := buf.String()
	assert.NotContains(t, out, "too quiet")
	assert.Contains(t, out, "[WARNING] loud enough")
	assert.Contains(t, out, "[ERROR] definitely")
}

func TestOffSeveritySilencesEverything(t *testing.T) {
	l, buf := newCapturedLogger(cfg.OffLogSeverity, false)

	l.logf(cfg.ErrorLogSeverity, "even errors")

	assert.Empty(t, buf.String())
}

func TestJSONFormatEmitsParseableRecords(t *testing.T) {
	l, buf := newCapturedLogger(cfg.InfoLogSeverity, true)

	l.logf(cfg.InfoLogSeverity, "compressed %d files", 7)

	var record struct {
		Time     string `json:"time"`
		Severity string `json:"severity"`
		Message  string `json:"message"`
	}
	require.NoError(t, json.Unmarshal([]byte(buf.String()), &record))
	assert.Equal(t, "INFO", record.Severity)
	assert.Equal(t, "compressed 7 files", record.Message)
	assert.NotEmpty(t, record.Time)
}
