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
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved configuration for a compressfs mount, built by
// layering defaults, an optional YAML config file, and command-line flags.
type Config struct {
	Compression CompressionConfig `yaml:"compression"`

	FileSystem FileSystemConfig `yaml:"file-system"`

	Logging LoggingConfig `yaml:"logging"`

	Debug DebugConfig `yaml:"debug"`
}

type CompressionConfig struct {
	// Codec applied to newly written content. "none" disables compression.
	Codec Codec `yaml:"codec"`

	// Level is the codec-specific compression level; 0 means use the codec default.
	Level int `yaml:"level"`

	// MinCompressibleRatio is the minimum (compressed/original) ratio below which
	// a compressed copy is kept; otherwise the file is marked incompressible.
	MinCompressibleRatio float64 `yaml:"min-compressible-ratio"`

	// ExcludeSuffixes lists filename suffixes skipped by the compressibility policy.
	ExcludeSuffixes []string `yaml:"exclude-suffixes"`

	// QueueDepth bounds the number of files pending background compression.
	QueueDepth int `yaml:"queue-depth"`

	// ProtectSystemDirs keeps bin/, sbin/, usr/bin/ and usr/sbin/ raw so the
	// loader can mmap executables, for mounts shadowing a system root.
	ProtectSystemDirs bool `yaml:"protect-system-dirs"`
}

type FileSystemConfig struct {
	// RootFS is the backing directory whose files are transparently compressed.
	RootFS ResolvedPath `yaml:"root-fs"`

	// DirMode and FileMode override permission bits reported for directories
	// and files; zero selects 0755 for directories and 0644 for files. The
	// backing store's own permission bits are never reported.
	DirMode  Octal `yaml:"dir-mode"`
	FileMode Octal `yaml:"file-mode"`

	// Uid/Gid override ownership of every inode; -1 reports the uid/gid of
	// the mounting process.
	Uid int `yaml:"uid"`
	Gid int `yaml:"gid"`

	// MountOptions are passed through to the FUSE mount, each either "flag"
	// or "key=value" (e.g. allow_other, ro).
	MountOptions []string `yaml:"mount-options"`
}

type LoggingConfig struct {
	Severity  LogSeverity            `yaml:"severity"`
	Format    string                 `yaml:"format"`
	FilePath  ResolvedPath           `yaml:"file-path"`
	LogRotate LogRotateLoggingConfig `yaml:"log-rotate"`
}

type LogRotateLoggingConfig struct {
	MaxFileSizeMb   int  `yaml:"max-file-size-mb"`
	BackupFileCount int  `yaml:"backup-file-count"`
	Compress        bool `yaml:"compress"`
}

type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`

	// Foreground runs the daemon without detaching, logging to stderr.
	Foreground bool `yaml:"foreground"`
}

// BindFlags registers every compressfs flag on flagSet and binds it into viper
// under the dotted key matching the Config field it populates.
func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	bind := func(key string, name string) error {
		return viper.BindPFlag(key, flagSet.Lookup(name))
	}

	flagSet.StringP("codec", "c", string(CodecGzip), "Compression codec for newly written files: none, gzip, bz2, lzma, lzo.")
	if err = bind("compression.codec", "codec"); err != nil {
		return err
	}

	flagSet.IntP("level", "l", 0, "Codec compression level; 0 selects the codec's default.")
	if err = bind("compression.level", "level"); err != nil {
		return err
	}

	flagSet.Float64P("min-compressible-ratio", "", 0.98, "Files that do not compress below this ratio are stored raw.")
	if err = bind("compression.min-compressible-ratio", "min-compressible-ratio"); err != nil {
		return err
	}

	flagSet.StringSliceP("exclude-suffix", "", nil, "Filename suffix to never attempt to compress; repeatable.")
	if err = bind("compression.exclude-suffixes", "exclude-suffix"); err != nil {
		return err
	}

	flagSet.IntP("queue-depth", "", 128, "Maximum number of files awaiting background compression.")
	if err = bind("compression.queue-depth", "queue-depth"); err != nil {
		return err
	}

	flagSet.BoolP("protect-system-dirs", "", false, "Never compress under bin/, sbin/, usr/bin/, usr/sbin/ so executables stay mmap-able.")
	if err = bind("compression.protect-system-dirs", "protect-system-dirs"); err != nil {
		return err
	}

	flagSet.StringP("root-fs", "", "", "Backing directory; the first positional argument always replaces this value.")
	if err = bind("file-system.root-fs", "root-fs"); err != nil {
		return err
	}

	flagSet.StringP("dir-mode", "", "755", "Permission bits reported for directories, in octal.")
	if err = bind("file-system.dir-mode", "dir-mode"); err != nil {
		return err
	}

	flagSet.StringP("file-mode", "", "644", "Permission bits reported for regular files, in octal.")
	if err = bind("file-system.file-mode", "file-mode"); err != nil {
		return err
	}

	flagSet.IntP("uid", "", -1, "UID owner reported for every inode; -1 reports the mounting process's UID.")
	if err = bind("file-system.uid", "uid"); err != nil {
		return err
	}

	flagSet.IntP("gid", "", -1, "GID owner reported for every inode; -1 reports the mounting process's GID.")
	if err = bind("file-system.gid", "gid"); err != nil {
		return err
	}

	flagSet.StringSliceP("o", "o", nil, "Mount option passed through to the FUSE layer (e.g. allow_other); repeatable or comma-separated.")
	if err = bind("file-system.mount-options", "o"); err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", "INFO", "Logging severity: TRACE, DEBUG, INFO, WARNING, ERROR, OFF.")
	if err = bind("logging.severity", "log-severity"); err != nil {
		return err
	}

	flagSet.StringP("log-format", "", "text", "Log line format: text or json.")
	if err = bind("logging.format", "log-format"); err != nil {
		return err
	}

	flagSet.StringP("log-file", "", "", "Path to the log file; empty logs to stderr.")
	if err = bind("logging.file-path", "log-file"); err != nil {
		return err
	}

	flagSet.BoolP("foreground", "f", false, "Run in the foreground instead of daemonizing.")
	if err = bind("debug.foreground", "foreground"); err != nil {
		return err
	}

	// Detaching is already the default; the flag exists so scripts can say
	// so explicitly.
	flagSet.BoolP("detach", "d", false, "Detach from the terminal (the default).")

	flagSet.BoolP("debug_invariants", "", false, "Has no effect: internal invariant violations always panic.")
	if err = bind("debug.exit-on-invariant-violation", "debug_invariants"); err != nil {
		return err
	}

	return nil
}
