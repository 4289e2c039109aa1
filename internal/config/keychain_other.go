//go:build !darwin

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

func secretsFilePath() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share")), "secrets.json")
}

func newSystemKeychain() Keychain {
	return fileKeychain{path: secretsFilePath()}
}

// fileKeychain keeps secrets in a 0600 JSON file shaped
// {"service": {"account": "value"}}. It is plain text on disk.
type fileKeychain struct {
	path string
}

func (k fileKeychain) read() (map[string]map[string]string, error) {
	data, err := os.ReadFile(k.path)
	if err != nil {
		return nil, err
	}
	var secrets map[string]map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

func (k fileKeychain) write(secrets map[string]map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(k.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(k.path, out, 0o600)
}

func (k fileKeychain) Get(service, account string) (string, error) {
	secrets, err := k.read()
	if os.IsNotExist(err) {
		return "", ErrSecretNotFound
	}
	if err != nil {
		return "", err
	}
	val, ok := secrets[service][account]
	if !ok {
		return "", ErrSecretNotFound
	}
	return val, nil
}

func (k fileKeychain) Set(service, account, value string) error {
	secrets, _ := k.read()
	if secrets == nil {
		secrets = make(map[string]map[string]string)
	}
	if secrets[service] == nil {
		secrets[service] = make(map[string]string)
	}
	secrets[service][account] = value
	return k.write(secrets)
}

func (k fileKeychain) Delete(service, account string) error {
	secrets, err := k.read()
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, ok := secrets[service][account]; !ok {
		return nil
	}
	delete(secrets[service], account)
	if len(secrets[service]) == 0 {
		delete(secrets, service)
	}
	return k.write(secrets)
}
