//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultsDomain = "com.kalambet.shelf"

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return appName + "-data"
	}
	return filepath.Join(home, "Library", "Application Support", appName)
}

// defaultsBackend keeps settings in the user defaults database via defaults(1).
type defaultsBackend struct {
	domain string
	run    func(args ...string) ([]byte, error)
}

func newPlatformBackend() ConfigBackend {
	return &defaultsBackend{domain: defaultsDomain, run: runDefaults}
}

func runDefaults(args ...string) ([]byte, error) {
	return exec.Command("defaults", args...).CombinedOutput()
}

// lookup returns the stored value. A missing key or domain is reported as
// !ok, not as an error.
func (b *defaultsBackend) lookup(key string) (string, bool, error) {
	out, err := b.run("read", b.domain, key)
	val := strings.TrimSpace(string(out))
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return val, true, nil
	case errors.As(err, &exitErr) && exitErr.ExitCode() == 1:
		return "", false, nil
	default:
		return "", false, fmt.Errorf("defaults read %s %s: %w (%s)", b.domain, key, err, val)
	}
}

func (b *defaultsBackend) write(key, kind, val string) error {
	if out, err := b.run("write", b.domain, key, kind, val); err != nil {
		return fmt.Errorf("defaults write %s: %w (%s)", key, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (b *defaultsBackend) GetString(key string) (string, bool, error) {
	return b.lookup(key)
}

func (b *defaultsBackend) GetInt(key string) (int, bool, error) {
	raw, ok, err := b.lookup(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, true, fmt.Errorf("%s is not an integer: %q", key, raw)
	}
	return n, true, nil
}

func (b *defaultsBackend) SetString(key, val string) error {
	return b.write(key, "-string", val)
}

func (b *defaultsBackend) SetInt(key string, val int) error {
	return b.write(key, "-int", strconv.Itoa(val))
}

func (b *defaultsBackend) Delete(key string) error {
	_, ok, err := b.lookup(key)
	if !ok || err != nil {
		return err
	}
	if out, err := b.run("delete", b.domain, key); err != nil {
		return fmt.Errorf("defaults delete %s: %w (%s)", key, err, strings.TrimSpace(string(out)))
	}
	return nil
}
