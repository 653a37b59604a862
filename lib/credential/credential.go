// Copyright 2026 The Jamfup Authors
// SPDX-License-Identifier: Apache-2.0

// Package credential loads and stores the Jamf Pro API credentials.
//
// Two sources exist, in precedence order:
//
//  1. Environment variables JAMF_CLIENT_ID, JAMF_CLIENT_SECRET, and
//     JAMF_URL — all three must be set together. This is the CI path.
//  2. The on-disk store under the user config directory, written by
//     `jamfup auth`: the client ID and base URL in a YAML envelope,
//     and the client secret age-encrypted to a keypair whose private
//     key sits next to it with 0600 permissions. The secret is key-
//     wrapped rather than obscured, so a synced or backed-up config
//     directory does not leak it in clear.
//
// Base URLs are normalized on every path in: trailing slashes are
// stripped.
package credential

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jamfup/jamfup/lib/sealed"
	"github.com/jamfup/jamfup/lib/secret"
)

// Environment variable names, checked before the on-disk store.
const (
	EnvClientID     = "JAMF_CLIENT_ID"
	EnvClientSecret = "JAMF_CLIENT_SECRET"
	EnvURL          = "JAMF_URL"
)

// File names inside the store directory.
const (
	keyFileName         = "key.txt"
	credentialsFileName = "credentials.yaml"
)

// Credentials is what a run needs to authenticate against Jamf Pro.
type Credentials struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
}

// envelope is the on-disk YAML layout. The client secret never appears
// in clear: SealedClientSecret is base64 age ciphertext.
type envelope struct {
	ClientID           string `yaml:"client_id"`
	BaseURL            string `yaml:"base_url"`
	SealedClientSecret string `yaml:"sealed_client_secret"`
}

// ErrNotConfigured is returned by Load when neither the environment
// nor the store provides credentials.
var ErrNotConfigured = errors.New(
	"no credentials configured: run `jamfup auth` or set " +
		EnvClientID + ", " + EnvClientSecret + ", and " + EnvURL)

// Store holds the paths of the on-disk credential store.
type Store struct {
	directory string
}

// DefaultStore returns the store under the user config directory
// (e.g. ~/.config/jamfup).
func DefaultStore() (*Store, error) {
	configDirectory, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("credential: locating user config directory: %w", err)
	}
	return &Store{directory: filepath.Join(configDirectory, "jamfup")}, nil
}

// StoreAt returns a store rooted at a specific directory. Tests use
// this; production uses DefaultStore.
func StoreAt(directory string) *Store {
	return &Store{directory: directory}
}

// Directory returns the store's root directory.
func (store *Store) Directory() string { return store.directory }

// Load returns credentials from the environment if all three variables
// are set, otherwise from the on-disk store. A completely absent
// configuration is ErrNotConfigured.
func (store *Store) Load() (Credentials, error) {
	if credentials, ok := fromEnvironment(); ok {
		return credentials, nil
	}
	return store.loadFromDisk()
}

// Save writes the credentials to the store, generating a fresh keypair
// and re-encrypting the client secret. Both files are written 0600 in
// a 0700 directory.
func (store *Store) Save(credentials Credentials) error {
	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return fmt.Errorf("credential: %w", err)
	}
	defer keypair.Close()

	ciphertext, err := sealed.Encrypt([]byte(credentials.ClientSecret), keypair.PublicKey)
	if err != nil {
		return fmt.Errorf("credential: sealing client secret: %w", err)
	}

	content, err := yaml.Marshal(envelope{
		ClientID:           credentials.ClientID,
		BaseURL:            normalizeBaseURL(credentials.BaseURL),
		SealedClientSecret: ciphertext,
	})
	if err != nil {
		return fmt.Errorf("credential: encoding credentials file: %w", err)
	}

	if err := os.MkdirAll(store.directory, 0o700); err != nil {
		return fmt.Errorf("credential: creating %s: %w", store.directory, err)
	}
	if err := os.WriteFile(store.keyPath(), []byte(keypair.PrivateKey.String()+"\n"), 0o600); err != nil {
		return fmt.Errorf("credential: writing key file: %w", err)
	}
	if err := os.WriteFile(store.credentialsPath(), content, 0o600); err != nil {
		return fmt.Errorf("credential: writing credentials file: %w", err)
	}
	return nil
}

func (store *Store) keyPath() string { return filepath.Join(store.directory, keyFileName) }

func (store *Store) credentialsPath() string {
	return filepath.Join(store.directory, credentialsFileName)
}

func (store *Store) loadFromDisk() (Credentials, error) {
	content, err := os.ReadFile(store.credentialsPath())
	if errors.Is(err, fs.ErrNotExist) {
		return Credentials{}, ErrNotConfigured
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("credential: reading credentials file: %w", err)
	}

	var stored envelope
	if err := yaml.Unmarshal(content, &stored); err != nil {
		return Credentials{}, fmt.Errorf("credential: parsing %s: %w", store.credentialsPath(), err)
	}
	if stored.ClientID == "" || stored.BaseURL == "" || stored.SealedClientSecret == "" {
		return Credentials{}, fmt.Errorf("credential: %s is incomplete (re-run `jamfup auth`)", store.credentialsPath())
	}

	keyContent, err := os.ReadFile(store.keyPath())
	if err != nil {
		return Credentials{}, fmt.Errorf("credential: reading key file: %w", err)
	}
	privateKey, err := secret.NewFromBytes([]byte(strings.TrimSpace(string(keyContent))))
	if err != nil {
		return Credentials{}, fmt.Errorf("credential: protecting private key: %w", err)
	}
	defer privateKey.Close()

	clientSecret, err := sealed.Decrypt(stored.SealedClientSecret, privateKey)
	if err != nil {
		return Credentials{}, fmt.Errorf("credential: unsealing client secret: %w", err)
	}
	defer clientSecret.Close()

	return Credentials{
		ClientID:     stored.ClientID,
		ClientSecret: clientSecret.String(),
		BaseURL:      normalizeBaseURL(stored.BaseURL),
	}, nil
}

// fromEnvironment reads the three environment variables. All must be
// set for the environment to take precedence: a partial set falls
// through to the store rather than mixing sources.
func fromEnvironment() (Credentials, bool) {
	clientID := os.Getenv(EnvClientID)
	clientSecret := os.Getenv(EnvClientSecret)
	baseURL := os.Getenv(EnvURL)
	if clientID == "" || clientSecret == "" || baseURL == "" {
		return Credentials{}, false
	}
	return Credentials{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		BaseURL:      normalizeBaseURL(baseURL),
	}, true
}

func normalizeBaseURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/")
}
