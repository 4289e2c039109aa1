//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// errSecItemNotFound is the exit status security(1) uses for a missing item.
const errSecItemNotFound = 44

// loginKeychain stores each secret as a generic password in the login
// keychain, with the app name as service and the secret name as account.
type loginKeychain struct{}

func newSystemKeychain() Keychain {
	return loginKeychain{}
}

func security(args ...string) ([]byte, error) {
	return exec.Command("security", args...).Output()
}

func itemMissing(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == errSecItemNotFound
}

func (loginKeychain) Get(service, account string) (string, error) {
	out, err := security("find-generic-password", "-s", service, "-a", account, "-w")
	if itemMissing(err) {
		return "", ErrSecretNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading %s/%s from keychain: %w", service, account, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (loginKeychain) Set(service, account, value string) error {
	_, err := security("add-generic-password", "-U", "-l", service+" "+account, "-s", service, "-a", account, "-w", value)
	if err != nil {
		return fmt.Errorf("writing %s/%s to keychain: %w", service, account, err)
	}
	return nil
}

func (loginKeychain) Delete(service, account string) error {
	_, err := security("delete-generic-password", "-s", service, "-a", account)
	if err == nil || itemMissing(err) {
		return nil
	}
	return fmt.Errorf("deleting %s/%s from keychain: %w", service, account, err)
}
