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

// compressfs-convert batch-converts a directory tree offline: with --codec
// it compresses every raw regular file, without it every compressed file is
// restored to raw bytes. Each file is rewritten through a temp file renamed
// into place only once complete, so an interrupted run never leaves a
// truncated file behind.
package main

import (
	"fmt"
	"os"

	"github.com/jacobsa/compressfs/cfg"
	"github.com/jacobsa/compressfs/internal/compressfs"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var codecName string
	var level int

	cmd := &cobra.Command{
		Use:   "compressfs-convert [--codec <name>] <dir>...",
		Short: "Compress or decompress a backing tree while unmounted.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var codec compressfs.Codec
			if codecName != "" {
				var err error
				codec, err = compressfs.CodecByName(cfg.Codec(codecName))
				if err != nil {
					return err
				}
			}
			compressfs.SetDefaultLevel(level)

			for _, root := range args {
				if err := compressfs.ConvertTree(root, codec); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&codecName, "codec", "c", "", "Codec to compress with: gzip, bz2, lzma, lzo. Omit to decompress instead.")
	cmd.Flags().IntVarP(&level, "level", "l", 0, "Codec compression level; 0 selects the codec's default.")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
