package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

const (
	remoteTokenAccount = "remote_token"
	apiTokenAccount    = "api_token"
	remoteTokenEnv     = "SHELF_REMOTE_TOKEN"
)

// TokenSource reports where the remote token comes from: "env",
// "keychain", or "" when none is configured.
func TokenSource(kc Keychain) string {
	if os.Getenv(remoteTokenEnv) != "" {
		return "env"
	}
	if tok, err := kc.Get(appName, remoteTokenAccount); err == nil && tok != "" {
		return "keychain"
	}
	return ""
}

// GetRemoteToken returns the remote API token, preferring SHELF_REMOTE_TOKEN.
func GetRemoteToken(kc Keychain) string {
	if tok := os.Getenv(remoteTokenEnv); tok != "" {
		return tok
	}
	tok, _ := kc.Get(appName, remoteTokenAccount)
	return tok
}

func SetRemoteToken(kc Keychain, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token must not be empty")
	}
	if err := kc.Set(appName, remoteTokenAccount, token); err != nil {
		return fmt.Errorf("storing remote token: %w", err)
	}
	return nil
}

// ClearRemoteToken removes the stored token. An env override is untouched.
func ClearRemoteToken(kc Keychain) error {
	if err := kc.Delete(appName, remoteTokenAccount); err != nil {
		return fmt.Errorf("clearing remote token: %w", err)
	}
	return nil
}

// GetAPIToken returns the bearer token for the local HTTP API, generating
// and storing one on first use.
func GetAPIToken(kc Keychain) (string, error) {
	tok, err := kc.Get(appName, apiTokenAccount)
	if err == nil && tok != "" {
		return tok, nil
	}
	if err != nil && !errors.Is(err, ErrSecretNotFound) {
		return "", fmt.Errorf("reading API token: %w", err)
	}
	tok = uuid.NewString()
	if err := kc.Set(appName, apiTokenAccount, tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}
