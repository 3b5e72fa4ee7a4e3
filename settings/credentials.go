// Package settings stores pomt user settings, currently the API tokens of the
// inference backends.
//
// Settings live in the XDG data directory:
//
//	$XDG_DATA_HOME/pomt/  (default: ~/.local/share/pomt/)
//
// auth.json is a JSON object keyed by backend ID (huggingface, groq,
// ollama, custom-openai). File permissions are 0600 (owner read/write only).
//
// Lookup order for API keys:
//  1. --api-key flag (highest priority)
//  2. POMT_API_KEY / HF_TOKEN environment variables or the config file
//  3. This credential store
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/minios-linux/pomt/atomicfile"
)

const (
	dataDirName = "pomt"
	fileName    = "auth.json"
)

// Info is the stored credential for one backend.
type Info struct {
	// Key is the API token.
	Key string `json:"key"`
	// BaseURL overrides the backend endpoint (custom-openai).
	BaseURL string `json:"baseUrl,omitempty"`
}

// Store holds all backend credentials, keyed by backend ID.
type Store map[string]*Info

// ---------------------------------------------------------------------------
// File path
// ---------------------------------------------------------------------------

// dataDir returns the XDG data directory for pomt.
func dataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, dataDirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", dataDirName), nil
}

func filePath() (string, error) {
	dir, err := dataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fileName), nil
}

// FilePath returns the auth.json file path for display purposes.
func FilePath() string {
	p, err := filePath()
	if err != nil {
		return ""
	}
	return p
}

// DataDir returns the pomt data directory path.
func DataDir() (string, error) {
	return dataDir()
}

// ---------------------------------------------------------------------------
// Load / Save
// ---------------------------------------------------------------------------

// Load reads the credential store from disk.
// Returns an empty store if the file doesn't exist or is invalid.
func Load() Store {
	path, err := filePath()
	if err != nil {
		return make(Store)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return make(Store)
	}
	var store Store
	if err := json.Unmarshal(data, &store); err != nil || store == nil {
		return make(Store)
	}
	return store
}

// Save writes the credential store to disk with 0600 permissions.
func Save(store Store) error {
	path, err := filePath()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if err := atomicfile.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing auth file: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Get / Set / Remove
// ---------------------------------------------------------------------------

// Get returns the entry for a backend, or nil if not found.
func Get(backendID string) *Info {
	return Load()[backendID]
}

// SetAPIKey stores an API key for a backend, keeping a stored base URL.
func SetAPIKey(backendID, key string) error {
	store := Load()
	info := &Info{Key: key}
	if old := store[backendID]; old != nil {
		info.BaseURL = old.BaseURL
	}
	store[backendID] = info
	return Save(store)
}

// SetAPIKeyWithBaseURL stores an API key and base URL for a backend.
func SetAPIKeyWithBaseURL(backendID, key, baseURL string) error {
	store := Load()
	store[backendID] = &Info{Key: key, BaseURL: baseURL}
	return Save(store)
}

// GetAPIKey returns the stored API key, or "" if none.
func GetAPIKey(backendID string) string {
	if info := Get(backendID); info != nil {
		return info.Key
	}
	return ""
}

// GetBaseURL returns the stored base URL, or "" if none.
func GetBaseURL(backendID string) string {
	if info := Get(backendID); info != nil {
		return info.BaseURL
	}
	return ""
}

// Remove deletes credentials for a backend.
func Remove(backendID string) error {
	store := Load()
	if _, ok := store[backendID]; !ok {
		return nil
	}
	delete(store, backendID)
	return Save(store)
}

// IDs returns the backends with stored credentials, sorted.
func (s Store) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MaskKey returns a masked version of a key for display.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
