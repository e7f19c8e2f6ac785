// Package prefs persists the cached wallet connector between runs as a small TOML file.
package prefs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	toml "github.com/pelletier/go-toml/v2"

	bookledger "github.com/bookledger/bookledger"
)

const (
	fileMode        = 0o600
	dirMode         = 0o700
	defaultDir      = ".bookledger"
	defaultFile     = "session.toml"
	tempFilePattern = ".session-*.toml.tmp"
	schemaVersion   = 1
)

type fileSchema struct {
	Version int                      `toml:"version"`
	Session bookledger.CachedSession `toml:"session"`
}

// Store is a bookledger.SessionPrefs backed by a TOML file.
type Store struct {
	path string
	mu   sync.RWMutex
}

var _ bookledger.SessionPrefs = (*Store)(nil)

// DefaultPath returns ~/.bookledger/session.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, defaultDir, defaultFile), nil
}

// New returns a store at path, or at DefaultPath when path is empty.
func New(path string) (*Store, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve prefs path: %w", err)
	}
	return &Store{path: filepath.Clean(abs)}, nil
}

// Path returns the file the store writes to.
func (s *Store) Path() string {
	return s.path
}

// Load returns the cached session, or an empty one when nothing was saved.
func (s *Store) Load() (bookledger.CachedSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return bookledger.CachedSession{}, nil
		}
		return bookledger.CachedSession{}, fmt.Errorf("read prefs file: %w", err)
	}

	var file fileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return bookledger.CachedSession{}, fmt.Errorf("decode prefs file: %w", err)
	}
	if file.Version > schemaVersion {
		return bookledger.CachedSession{}, fmt.Errorf("unsupported prefs version %d", file.Version)
	}
	return file.Session, nil
}

func (s *Store) Save(cached bookledger.CachedSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(fileSchema{Version: schemaVersion, Session: cached})
}

// Clear removes the file. Clearing an absent file is not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove prefs file: %w", err)
	}
	return nil
}

func (s *Store) write(file fileSchema) error {
	if err := os.MkdirAll(filepath.Dir(s.path), dirMode); err != nil {
		return fmt.Errorf("create prefs directory: %w", err)
	}

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode prefs file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(s.path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp prefs file: %w", err)
	}
	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp prefs file: %w", err)
	}
	if err := tempFile.Chmod(fileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp prefs file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp prefs file: %w", err)
	}
	if err := os.Rename(tempName, s.path); err != nil {
		return fmt.Errorf("replace prefs file: %w", err)
	}
	cleanup = false
	return nil
}
