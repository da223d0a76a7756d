// Package supervise starts and stops background "play" processes, one
// per station, identified by a pidfile. Each child runs detached in its
// own process group so stopping a station tears down its whole pipeline,
// ffmpeg included.
package supervise

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

func runtimeDir() (string, error) {
	dir := filepath.Join(os.TempDir(), "jivebox")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("supervise: %w", err)
	}
	return dir, nil
}

func pidFile(key string) (string, error) {
	dir, err := runtimeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, key+".pid"), nil
}

// Running reports whether key's pidfile names a still-live process.
func Running(key string) (pid int, ok bool) {
	path, err := pidFile(key)
	if err != nil {
		return 0, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err = strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	if err := syscall.Kill(pid, 0); err != nil {
		os.Remove(path)
		return 0, false
	}
	return pid, true
}

// Start launches exePath with args as a detached child in its own
// process group and records its pid under key. It does nothing (and
// returns false) if key is already running.
func Start(key, exePath string, args []string) (started bool, err error) {
	if _, ok := Running(key); ok {
		return false, nil
	}

	cmd := exec.Command(exePath, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return false, fmt.Errorf("supervise: start %s: %w", key, err)
	}

	path, err := pidFile(key)
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(cmd.Process.Pid)), 0o644); err != nil {
		return false, fmt.Errorf("supervise: write pidfile for %s: %w", key, err)
	}

	// The child is detached: release it so it isn't reaped as our own
	// child when this process exits.
	_ = cmd.Process.Release()
	return true, nil
}

// Stop signals key's process group to terminate, if running.
func Stop(key string) (stopped bool, err error) {
	pid, ok := Running(key)
	if !ok {
		return false, nil
	}
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		return false, fmt.Errorf("supervise: signal %s: %w", key, err)
	}
	path, err := pidFile(key)
	if err == nil {
		os.Remove(path)
	}
	return true, nil
}
