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

import "fmt"

func isValidLogRotateConfig(config *LogRotateLoggingConfig) error {
	if config.MaxFileSizeMb <= 0 {
		return fmt.Errorf("max-file-size-mb should be atleast 1")
	}
	if config.BackupFileCount < 0 {
		return fmt.Errorf("backup-file-count should be 0 (to retain all backup files) or a positive value")
	}
	return nil
}

func isValidCompressionConfig(config *CompressionConfig) error {
	if config.MinCompressibleRatio <= 0 || config.MinCompressibleRatio > 1 {
		return fmt.Errorf("min-compressible-ratio must be in (0, 1], got %v", config.MinCompressibleRatio)
	}
	if config.QueueDepth <= 0 {
		return fmt.Errorf("queue-depth must be positive, got %d", config.QueueDepth)
	}
	return nil
}

// ValidateConfig returns a non-nil error if the config is invalid.
func ValidateConfig(config *Config) error {
	if err := isValidLogRotateConfig(&config.Logging.LogRotate); err != nil {
		return fmt.Errorf("error parsing log-rotate config: %w", err)
	}

	if err := isValidCompressionConfig(&config.Compression); err != nil {
		return fmt.Errorf("error parsing compression config: %w", err)
	}

	if config.FileSystem.RootFS == "" {
		return fmt.Errorf("root-fs must be set to the backing directory")
	}

	return nil
}
