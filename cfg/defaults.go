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

// GetDefaultLoggingConfig returns the default configuration that is to be used
// during application startup, before the provided configuration has been parsed.
func GetDefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Severity: InfoLogSeverity,
		Format:   "text",
		LogRotate: LogRotateLoggingConfig{
			BackupFileCount: 10,
			Compress:        true,
			MaxFileSizeMb:   512,
		},
	}
}

// GetDefaultCompressionConfig returns the default codec policy applied when
// no config file or flag overrides it.
func GetDefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		Codec:                CodecGzip,
		MinCompressibleRatio: 0.98,
		ExcludeSuffixes: []string{
			".mp3", ".ogg", ".avi", ".mov", ".mpg", ".mp4", ".mkv", ".asf",
			".gz", ".bz2", ".zip", ".tgz", ".lzo", ".lzma", ".rar", ".ace",
			".7z", ".jpg", ".png", ".tiff", ".gif", ".rpm", ".deb",
		},
		QueueDepth: 128,
	}
}
