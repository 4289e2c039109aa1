package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// KeyInfo is one row of `shelf config show`.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
	// FromEnv is set when EnvVar currently overrides the stored value.
	FromEnv bool
}

// ShowAll lists every non-secret key with its effective value in cfg.
func ShowAll(cfg Config) []KeyInfo {
	out := make([]KeyInfo, 0, len(specs))
	for _, s := range specs {
		if s.secret {
			continue
		}
		out = append(out, KeyInfo{
			Key:     s.key,
			EnvVar:  s.env,
			Value:   fmt.Sprint(s.extract(cfg)),
			FromEnv: os.Getenv(s.env) != "",
		})
	}
	return out
}

// SetKey validates value and writes it to the platform backend.
func SetKey(key, value string) error {
	return setKeyWith(newPlatformBackend(), key, value)
}

func setKeyWith(b ConfigBackend, key, value string) error {
	s, ok := lookupSpec(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q (valid: %s)", key, strings.Join(ValidKeys(), ", "))
	}
	if s.secret {
		return fmt.Errorf("cannot set secret %q via config; use `shelf token set` or %s", key, s.env)
	}

	v, err := s.parse(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if check := checks[key]; check != nil {
		if err := check(v); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}

	switch v := v.(type) {
	case int:
		return b.SetInt(key, v)
	case bool:
		return b.SetString(key, strconv.FormatBool(v))
	default:
		return b.SetString(key, value)
	}
}

func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
