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

package cfg

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateConfigRejectsMissingRootFS(t *testing.T) {
	c := &Config{
		Compression: GetDefaultCompressionConfig(),
		Logging:     GetDefaultLoggingConfig(),
	}

	err := ValidateConfig(c)

	assert.Error(t, err)
}

func TestValidateConfigAcceptsDefaults(t *testing.T) {
	c := &Config{
		Compression: GetDefaultCompressionConfig(),
		Logging:     GetDefaultLoggingConfig(),
		FileSystem:  FileSystemConfig{RootFS: "/var/lib/compressfs/backing"},
	}

	err := ValidateConfig(c)

	assert.NoError(t, err)
}

func TestValidateConfigRejectsBadRatio(t *testing.T) {
	c := &Config{
		Compression: CompressionConfig{MinCompressibleRatio: 1.5, QueueDepth: 1},
		Logging:     GetDefaultLoggingConfig(),
		FileSystem:  FileSystemConfig{RootFS: "/backing"},
	}

	err := ValidateConfig(c)

	assert.ErrorContains(t, err, "min-compressible-ratio")
}

func TestOctalUnmarshalText(t *testing.T) {
	var o Octal
	assert.NoError(t, o.UnmarshalText([]byte("644")))
	assert.EqualValues(t, 0644, o)
}

func TestCodecUnmarshalTextRejectsUnknown(t *testing.T) {
	var c Codec
	assert.Error(t, c.UnmarshalText([]byte("snappy")))
}

func TestLogSeverityRank(t *testing.T) {
	assert.Less(t, DebugLogSeverity.Rank(), WarningLogSeverity.Rank())
	assert.Equal(t, -1, LogSeverity("bogus").Rank())
}

func TestBindFlagsUnmarshalRoundTrip(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	flagSet := pflag.NewFlagSet("compressfs", pflag.ContinueOnError)
	require.NoError(t, BindFlags(flagSet))
	require.NoError(t, flagSet.Parse([]string{
		"--codec", "lzma",
		"--queue-depth", "7",
		"--protect-system-dirs",
		"--file-mode", "600",
	}))

	var c Config
	require.NoError(t, viper.Unmarshal(&c, DecoderOptions()...))

	assert.Equal(t, CodecLzma, c.Compression.Codec)
	assert.Equal(t, 7, c.Compression.QueueDepth)
	assert.True(t, c.Compression.ProtectSystemDirs)
	assert.EqualValues(t, 0600, c.FileSystem.FileMode)
}
