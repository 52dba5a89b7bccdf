// Package settings is the user settings store: a small YAML file of boolean
// flags read by the detector and the API.
package settings

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"bookcal/internal/config"
)

const (
	KeyAutoDetectEnabled = "autoDetectEnabled"
	KeyShowSourceInfo    = "showSourceInfo"
)

// ErrUnknownKey is returned for keys the store does not define.
var ErrUnknownKey = errors.New("unknown settings key")

// defaults for absent keys.
var defaults = map[string]bool{
	KeyAutoDetectEnabled: true,
	KeyShowSourceInfo:    true,
}

// Store reads boolean settings.
type Store interface {
	Get(ctx context.Context, key string) (bool, error)
}

// FileStore persists settings as YAML. A missing file means all defaults.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Get returns the value for key, or its documented default if absent.
func (s *FileStore) Get(ctx context.Context, key string) (bool, error) {
	def, ok := defaults[key]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	if err := ctx.Err(); err != nil {
		return def, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return def, err
	}
	if v, ok := values[key]; ok {
		return v, nil
	}
	return def, nil
}

// Set persists key=value.
func (s *FileStore) Set(ctx context.Context, key string, value bool) error {
	if _, ok := defaults[key]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}
	values[key] = value

	data, err := yaml.Marshal(values)
	if err != nil {
		return err
	}
	return config.WriteFileAtomic(s.path, data)
}

// All returns every known key with defaults applied.
func (s *FileStore) All(ctx context.Context) (map[string]bool, error) {
	out := make(map[string]bool, len(defaults))
	for k := range defaults {
		v, err := s.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func (s *FileStore) load() (map[string]bool, error) {
	values := make(map[string]bool)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return values, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("settings %s: %w", s.path, err)
	}
	if values == nil {
		values = make(map[string]bool)
	}
	return values, nil
}
