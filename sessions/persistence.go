package sessions

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
	"github.com/sirupsen/logrus"
)

// SessionPersistence defines the interface for persisting session data.
// Implementations can use any storage backend (file system, database, etc.).
type SessionPersistence interface {
	// Load loads session data from storage into the provided registry.
	Load(dir, filename string, registry *SessionRegistry) error

	// Save saves session data from the provided registry to storage.
	Save(dir, filename string, registry *SessionRegistry) error
}

// registryFile is the on-disk YAML shape.
type registryFile struct {
	Sessions map[string]*UserSession `yaml:"sessions"`
}

// YAMLPersistence implements SessionPersistence using YAML files on the
// local filesystem. This is the default persistence implementation.
type YAMLPersistence struct{}

// NewYAMLPersistence creates a new YAML-based persistence backend.
func NewYAMLPersistence() *YAMLPersistence {
	return &YAMLPersistence{}
}

func (p *YAMLPersistence) Load(dir, filename string, registry *SessionRegistry) error {
	path := filepath.Join(dir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			registry.replace(nil)
			return nil
		}
		return fmt.Errorf("read sessions file %s: %w", path, err)
	}

	file := &registryFile{}
	if err := yaml.Unmarshal(data, file); err != nil {
		logrus.WithError(err).Error("Sessions file corrupted, starting with empty registry")
		registry.replace(nil)
		return fmt.Errorf("parse sessions file %s: %w", path, err)
	}

	registry.replace(file.Sessions)

	return nil
}

// Save writes the registry atomically: a temp file in the same directory,
// then a rename over the target.
func (p *YAMLPersistence) Save(dir, filename string, registry *SessionRegistry) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create sessions dir %s: %w", dir, err)
	}

	data, err := yaml.Marshal(&registryFile{Sessions: registry.snapshot()})
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}

	path := filepath.Join(dir, filename)

	tmp, err := os.CreateTemp(dir, filename+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp sessions file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp sessions file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp sessions file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename sessions file: %w", err)
	}

	return nil
}
