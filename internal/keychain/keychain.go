// Package keychain stores remote profile credentials in the OS keychain.
package keychain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const serviceName = "foldersync"

// ErrNotFound is returned when no credentials exist for a profile
var ErrNotFound = errors.New("credentials not found")

// Credentials is the secret half of a remote store profile
type Credentials struct {
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
	SessionToken    string `json:"sessionToken,omitempty"`
}

// Store saves credentials for a profile in the system keychain
type Store struct {
	service string
}

// New creates a keychain-backed credential store
func New() *Store {
	return &Store{service: serviceName}
}

// Save writes the credentials for a profile
func (s *Store) Save(profileID string, creds Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	if err := keyring.Set(s.service, profileID, string(data)); err != nil {
		return fmt.Errorf("OS keychain unavailable: %w", err)
	}
	return nil
}

// Load reads the credentials for a profile
func (s *Store) Load(profileID string) (Credentials, error) {
	raw, err := keyring.Get(s.service, profileID)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return Credentials{}, ErrNotFound
		}
		return Credentials{}, fmt.Errorf("OS keychain read failed: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return Credentials{}, fmt.Errorf("failed to decode credentials: %w", err)
	}
	return creds, nil
}

// Delete removes the credentials for a profile. Missing entries are not an error.
func (s *Store) Delete(profileID string) error {
	if err := keyring.Delete(s.service, profileID); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to clear OS keychain entry: %w", err)
	}
	return nil
}
