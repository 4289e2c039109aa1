package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/shelf/internal/material"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "SHELF_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SHELF_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "library.categories", typ: kString, env: "SHELF_LIBRARY_CATEGORIES",
		apply:   func(cfg *Config, v any) { cfg.Library.Categories = v.(string) },
		extract: func(cfg Config) any { return cfg.Library.Categories },
	},
	{
		key: "library.upload_workers", typ: kInt, env: "SHELF_LIBRARY_UPLOAD_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Library.UploadWorkers = v.(int) },
		extract: func(cfg Config) any { return cfg.Library.UploadWorkers },
	},
	{
		key: "remote.base_url", typ: kString, env: "SHELF_REMOTE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Remote.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.BaseURL },
	},
	{
		key: "remote.gist_id", typ: kString, env: "SHELF_REMOTE_GIST_ID",
		apply:   func(cfg *Config, v any) { cfg.Remote.GistID = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.GistID },
	},
	{
		key: "remote.file_name", typ: kString, env: "SHELF_REMOTE_FILE_NAME",
		apply:   func(cfg *Config, v any) { cfg.Remote.FileName = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.FileName },
	},
	{
		key: "remote.description", typ: kString, env: "SHELF_REMOTE_DESCRIPTION",
		apply:   func(cfg *Config, v any) { cfg.Remote.Description = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.Description },
	},
	{
		key: "remote.timeout", typ: kString, env: "SHELF_REMOTE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Remote.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.Timeout },
	},
	{
		key: "remote.token", typ: kString, env: "SHELF_REMOTE_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Remote.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.Token },
	},
	{
		key: "sync.atomic_restore", typ: kBool, env: "SHELF_SYNC_ATOMIC_RESTORE",
		apply:   func(cfg *Config, v any) { cfg.Sync.AtomicRestore = v.(bool) },
		extract: func(cfg Config) any { return cfg.Sync.AtomicRestore },
	},
	{
		key: "sync.restore_workers", typ: kInt, env: "SHELF_SYNC_RESTORE_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Sync.RestoreWorkers = v.(int) },
		extract: func(cfg Config) any { return cfg.Sync.RestoreWorkers },
	},
	{
		key: "log.level", typ: kString, env: "SHELF_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// checks constrain values written through SetKey beyond their type.
var checks = map[string]func(v any) error{
	"server.port": func(v any) error {
		if p := v.(int); p < 1 || p > 65535 {
			return fmt.Errorf("port %d out of range", p)
		}
		return nil
	},
	"library.upload_workers": atLeastOne,
	"sync.restore_workers":   atLeastOne,
	"library.categories": func(v any) error {
		if len(material.ParseCategories(v.(string))) == 0 {
			return errors.New("at least one category is required")
		}
		return nil
	},
	"remote.base_url": func(v any) error {
		u, err := url.Parse(v.(string))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%q is not an http(s) URL", v)
		}
		return nil
	},
	"remote.timeout": func(v any) error {
		if _, err := time.ParseDuration(v.(string)); err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		return nil
	},
	"log.level": func(v any) error {
		var l slog.Level
		return l.UnmarshalText([]byte(v.(string)))
	},
}

func atLeastOne(v any) error {
	if v.(int) < 1 {
		return errors.New("must be at least 1")
	}
	return nil
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parse converts raw text to the value type of s.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		i, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", raw)
		}
		return i, nil
	case kBool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid bool %q", raw)
		}
		return b, nil
	}
	return raw, nil
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		var (
			v   any
			ok  bool
			err error
		)
		if s.typ == kInt {
			v, ok, err = b.GetInt(s.key)
		} else {
			var raw string
			raw, ok, err = b.GetString(s.key)
			if ok && raw == "" && s.typ == kBool {
				ok = false
			}
			if ok {
				if v, err = s.parse(raw); err != nil {
					fmt.Fprintf(os.Stderr, "[WARN] ignoring config key %s: %v\n", s.key, err)
					continue
				}
			}
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if ok {
			s.apply(cfg, v)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] ignoring %s: %v\n", s.env, err)
			continue
		}
		s.apply(cfg, v)
	}
}
