//go:build !darwin

package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

func xdgDir(env, fallback string) string {
	dir := os.Getenv(env)
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, fallback)
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, appName)
}

func defaultDataDir() string {
	return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

func configFilePath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "config.json")
}

// fileBackend keeps settings in one JSON object keyed by dotted names.
// Writes re-read the file first, so a running server and a CLI call do not
// drop each other's keys, and replace it with a rename.
type fileBackend struct {
	mu   sync.Mutex
	path string
	data map[string]any
}

func newPlatformBackend() ConfigBackend {
	return newFileBackend(configFilePath())
}

func newFileBackend(path string) *fileBackend {
	data, err := readSettingsFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] %v. Using default values.\n", err)
		data = map[string]any{}
	}
	return &fileBackend{path: path, data: data}
}

func readSettingsFile(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not read config file %s: %w", path, err)
	}
	data := map[string]any{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("could not parse config file %s: %w", path, err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

// update applies fn to the current file contents and writes the result when
// fn reports a change.
func (b *fileBackend) update(fn func(data map[string]any) bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := readSettingsFile(b.path)
	if err != nil {
		return err
	}
	if !fn(data) {
		b.data = data
		return nil
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.Rename(tmp.Name(), b.path); err != nil {
		return fmt.Errorf("replacing %s: %w", b.path, err)
	}
	b.data = data
	return nil
}

func (b *fileBackend) get(key string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	return v, ok
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	v, ok := b.get(key)
	if !ok {
		return "", false, nil
	}
	if s, isString := v.(string); isString {
		return s, true, nil
	}
	return fmt.Sprint(v), true, nil
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.get(key)
	if !ok {
		return 0, false, nil
	}
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || n < math.MinInt || n > math.MaxInt {
			return 0, true, fmt.Errorf("%s: %v is not an integer", key, n)
		}
		return int(n), true, nil
	case int:
		return n, true, nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, true, fmt.Errorf("%s: %q is not an integer", key, n)
		}
		return i, true, nil
	}
	return 0, true, fmt.Errorf("%s: unexpected %T value", key, v)
}

func (b *fileBackend) SetString(key, val string) error {
	return b.update(func(data map[string]any) bool {
		data[key] = val
		return true
	})
}

func (b *fileBackend) SetInt(key string, val int) error {
	return b.update(func(data map[string]any) bool {
		data[key] = val
		return true
	})
}

func (b *fileBackend) Delete(key string) error {
	return b.update(func(data map[string]any) bool {
		if _, ok := data[key]; !ok {
			return false
		}
		delete(data, key)
		return true
	})
}
