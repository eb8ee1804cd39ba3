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

package cmd

import (
	"fmt"
	"os"

	"github.com/jacobsa/compressfs/cfg"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is reported by --version.
const Version = "0.9.1"

// NewRootCmd builds the compressfs command, wiring flags into viper and
// assembling the resolved cfg.Config before handing off to runMount.
func NewRootCmd(runMount func(cfg.Config, string, string) error) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:     "compressfs <backing-dir> <mountpoint>",
		Short:   "Mount a transparently compressing passthrough filesystem.",
		Version: Version,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			var root cfg.ResolvedPath
			if err := root.UnmarshalText([]byte(args[0])); err != nil {
				return fmt.Errorf("resolving backing dir: %w", err)
			}
			config.FileSystem.RootFS = root
			if err := cfg.ValidateConfig(&config); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runMount(config, string(root), args[1])
		},
	}

	if err := cfg.BindFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	cmd.Flags().String("config-file", "", "Path to a YAML file of the same shape as the flags above.")

	return cmd, nil
}

func resolveConfig(cmd *cobra.Command) (cfg.Config, error) {
	config := cfg.Config{
		Compression: cfg.GetDefaultCompressionConfig(),
		Logging:     cfg.GetDefaultLoggingConfig(),
	}

	if path, _ := cmd.Flags().GetString("config-file"); path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return config, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	if err := viper.Unmarshal(&config, cfg.DecoderOptions()...); err != nil {
		return config, fmt.Errorf("decoding configuration: %w", err)
	}
	return config, nil
}

// Execute runs the compressfs CLI, exiting the process with status 1 on
// argument or mount failure.
func Execute(runMount func(cfg.Config, string, string) error) {
	root, err := NewRootCmd(runMount)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
