package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kalambet/shelf/internal/gist"
	"github.com/kalambet/shelf/internal/material"
)

const appName = "shelf"

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Library LibraryConfig
	Remote  RemoteConfig
	Sync    SyncConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LibraryConfig struct {
	Categories    string
	UploadWorkers int
}

// CategoryList returns the configured categories, falling back to the
// built-in set when the value is empty.
func (c LibraryConfig) CategoryList() material.Categories {
	cats := material.ParseCategories(c.Categories)
	if len(cats) == 0 {
		return material.DefaultCategories
	}
	return cats
}

type RemoteConfig struct {
	BaseURL     string
	GistID      string
	FileName    string
	Description string
	Timeout     string
	Token       string
}

// TimeoutDuration parses Timeout, returning 30s when it is unset or invalid.
func (c RemoteConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		if c.Timeout != "" {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse remote.timeout=%q: %v. Using 30s.\n", c.Timeout, err)
		}
		return 30 * time.Second
	}
	return d
}

type SyncConfig struct {
	AtomicRestore  bool
	RestoreWorkers int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 4100},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Library: LibraryConfig{
			Categories:    material.DefaultCategories.String(),
			UploadWorkers: 1,
		},
		Remote: RemoteConfig{
			BaseURL:     gist.DefaultBaseURL,
			FileName:    gist.DefaultFileName,
			Description: "Math library backup",
			Timeout:     "30s",
		},
		Sync: SyncConfig{RestoreWorkers: 1},
		Log:  LogConfig{Level: "info"},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and the platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.kalambet.shelf) and
// secrets live in the login keychain. Elsewhere the backend is a JSON file at
// $XDG_CONFIG_HOME/shelf/config.json and secrets a JSON file at
// $XDG_DATA_HOME/shelf/secrets.json.
//
// Environment variables (SHELF_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

// ErrSecretNotFound is returned by a Keychain when no value is stored.
var ErrSecretNotFound = errors.New("secret not found")

// Keychain stores secrets by service and account.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
	Delete(service, account string) error
}

// NewKeychain returns the platform secret store.
func NewKeychain() Keychain {
	return newSystemKeychain()
}

func loadWith(b ConfigBackend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Remote.Token == "" {
		if tok, err := kc.Get(appName, remoteTokenAccount); err == nil {
			cfg.Remote.Token = tok
		} else if !errors.Is(err, ErrSecretNotFound) {
			fmt.Fprintf(os.Stderr, "[WARN] could not read remote token from secret store: %v\n", err)
		}
	}

	if cfg.Library.UploadWorkers < 1 {
		cfg.Library.UploadWorkers = 1
	}
	if cfg.Sync.RestoreWorkers < 1 {
		cfg.Sync.RestoreWorkers = 1
	}
	return cfg, nil
}
