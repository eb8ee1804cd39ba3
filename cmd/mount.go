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
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/net/context"

	"github.com/jacobsa/compressfs/cfg"
	"github.com/jacobsa/compressfs/clock"
	"github.com/jacobsa/compressfs/internal/compressfs"
	"github.com/jacobsa/compressfs/internal/fsops"
	"github.com/jacobsa/compressfs/internal/logger"
	"github.com/jacobsa/daemonize"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"golang.org/x/sys/unix"
)

// Mount brings up the FUSE server described by c at mountpoint, backed by
// backingDir, and blocks until the filesystem is unmounted. When
// c.Debug.Foreground is false it daemonizes first.
func Mount(c cfg.Config, backingDir, mountpoint string) (err error) {
	if !c.Debug.Foreground {
		return daemonizeAndMount(c, backingDir, mountpoint)
	}
	return mountForeground(c, backingDir, mountpoint)
}

func daemonizeAndMount(c cfg.Config, backingDir, mountpoint string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("os.Executable: %w", err)
	}

	args := append(os.Args[1:], "--foreground")
	env := os.Environ()

	// Early output from the child (a panic before the logger is up) lands
	// next to the configured log file rather than on a detached stdout.
	var status io.Writer = os.Stdout
	if c.Logging.FilePath != "" {
		status = io.MultiWriter(os.Stdout, &CrashWriter{fileName: string(c.Logging.FilePath) + ".daemon"})
	}

	if err := daemonize.Run(exe, args, env, status, nil); err != nil {
		return fmt.Errorf("daemonize.Run: %w", err)
	}

	logger.Infof("mounted in background at %s", mountpoint)
	return nil
}

func mountForeground(c cfg.Config, backingDir, mountpoint string) error {
	raiseFileDescriptorLimit()
	renice()

	closer, err := logger.Init(c.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer closer.Close()

	// Hold a descriptor on the backing directory and make it the working
	// directory, so the backing side survives the mountpoint shadowing it
	// and relative paths stay cheap.
	backingFd, err := os.Open(backingDir)
	if err != nil {
		return fmt.Errorf("opening backing dir: %w", err)
	}
	defer backingFd.Close()
	if err := backingFd.Chdir(); err != nil {
		return fmt.Errorf("chdir to backing dir: %w", err)
	}

	engine, err := compressfs.NewEngine(c)
	if err != nil {
		return fmt.Errorf("building compression engine: %w", err)
	}

	server := fsops.NewFileSystem(c, engine)

	mfs, err := fuse.Mount(mountpoint, fuseutil.NewFileSystemServer(server), &fuse.MountConfig{
		FSName:  "compressfs",
		Options: parseMountOptions(c.FileSystem.MountOptions),
	})
	if err != nil {
		return fmt.Errorf("fuse.Mount: %w", err)
	}

	daemonize.SignalOutcome(nil)

	shutdownCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Infof("received shutdown signal, unmounting %s", mountpoint)
		if unmountErr := fuse.Unmount(mountpoint); unmountErr != nil {
			logger.Errorf("unmount failed: %v", unmountErr)
		}
		// A second signal abandons the post-unmount drain; queued
		// compressions cancel cleanly at their next poll.
		<-sigCh
		cancel()
	}()

	if err := mfs.Join(context.Background()); err != nil {
		return fmt.Errorf("MountedFileSystem.Join: %w", err)
	}

	coordinator := compressfs.NewShutdownCoordinator(engine, clock.RealClock{})
	return coordinator.Run(shutdownCtx)
}

// parseMountOptions splits each "flag" or "key=value" element into the map
// the FUSE layer expects on its -o line.
func parseMountOptions(opts []string) map[string]string {
	parsed := make(map[string]string, len(opts))
	for _, opt := range opts {
		key, value, _ := strings.Cut(opt, "=")
		parsed[key] = value
	}
	return parsed
}

// raiseFileDescriptorLimit sets the process fd soft limit to the kernel's
// configured maximum, so a deeply recursive backing tree never runs the
// mount out of descriptors.
func raiseFileDescriptorLimit() {
	data, err := os.ReadFile("/proc/sys/fs/file-max")
	if err != nil {
		return
	}
	max, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return
	}
	_ = unix.Setrlimit(unix.RLIMIT_NOFILE, &unix.Rlimit{Cur: max, Max: max})
}

// renice lowers the mount process's scheduling priority so background
// compression competes gently with foreground workloads on the same host.
func renice() {
	_ = unix.Setpriority(unix.PRIO_PROCESS, 0, 10)
}
