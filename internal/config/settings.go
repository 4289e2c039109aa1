package config

import (
	"fmt"
	"sync"
)

const remoteIDKey = "remote.gist_id"

// Settings is the client-held sync state: the remote credential and the id
// of the gist the library was last pushed to.
type Settings struct {
	mu       sync.Mutex
	backend  ConfigBackend
	kc       Keychain
	token    string
	remoteID string
}

// OpenSettings binds cfg to the platform backend and secret store.
func OpenSettings(cfg Config) *Settings {
	return NewSettings(cfg, newPlatformBackend(), NewKeychain())
}

func NewSettings(cfg Config, b ConfigBackend, kc Keychain) *Settings {
	return &Settings{backend: b, kc: kc, token: cfg.Remote.Token, remoteID: cfg.Remote.GistID}
}

func (s *Settings) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *Settings) RemoteID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteID
}

// SetRemoteID persists the gist id for later pushes and pulls.
func (s *Settings) SetRemoteID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.SetString(remoteIDKey, id); err != nil {
		return fmt.Errorf("saving %s: %w", remoteIDKey, err)
	}
	s.remoteID = id
	return nil
}

// ClearRemoteID forgets the stored gist id. Library records are untouched.
func (s *Settings) ClearRemoteID() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.Delete(remoteIDKey); err != nil {
		return fmt.Errorf("clearing %s: %w", remoteIDKey, err)
	}
	s.remoteID = ""
	return nil
}

func (s *Settings) SetToken(token string) error {
	if err := SetRemoteToken(s.kc, token); err != nil {
		return err
	}
	s.mu.Lock()
	s.token = GetRemoteToken(s.kc)
	s.mu.Unlock()
	return nil
}

func (s *Settings) ClearToken() error {
	if err := ClearRemoteToken(s.kc); err != nil {
		return err
	}
	s.mu.Lock()
	s.token = GetRemoteToken(s.kc)
	s.mu.Unlock()
	return nil
}
