// Package config loads and saves the per-project envsync settings stored in
// .envsync/config.toml.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/illarion/envsync/internal/crypto"
	"github.com/illarion/envsync/internal/logging"
	"github.com/illarion/envsync/internal/security"
	"github.com/illarion/envsync/internal/storage"
)

const (
	// Dir is the per-project state directory.
	Dir = ".envsync"

	// FileName is the config file inside Dir.
	FileName = "config.toml"

	// LockFileName is the cross-process lock file inside Dir.
	LockFileName = "lock"

	DefaultWorkingCopy = ".env"
	DefaultStorePath   = Dir + "/history.db"
	DefaultCacheSize   = 128
)

// Config is the content of config.toml.
type Config struct {
	Project ProjectConfig `toml:"project"`
	Author  AuthorConfig  `toml:"author"`
	Store   StoreConfig   `toml:"store"`
	Crypto  CryptoConfig  `toml:"crypto"`
	Log     LogConfig     `toml:"log"`
}

type ProjectConfig struct {
	ID          string `toml:"id"`
	Name        string `toml:"name"`
	WorkingCopy string `toml:"working_copy"`
}

type AuthorConfig struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
}

type StoreConfig struct {
	Backend   string `toml:"backend"`
	Path      string `toml:"path"`
	CacheSize int    `toml:"cache_size"`
}

type CryptoConfig struct {
	// KeyDerivation is "project" (salted per project) or "shared".
	KeyDerivation string `toml:"key_derivation"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns a config for a new project with fresh project and author
// ids.
func Default(name, author string) *Config {
	return &Config{
		Project: ProjectConfig{
			ID:          uuid.NewString(),
			Name:        name,
			WorkingCopy: DefaultWorkingCopy,
		},
		Author: AuthorConfig{
			ID:   uuid.NewString(),
			Name: author,
		},
		Store: StoreConfig{
			Backend:   storage.BackendBolt,
			Path:      DefaultStorePath,
			CacheSize: DefaultCacheSize,
		},
		Crypto: CryptoConfig{KeyDerivation: string(crypto.KeyModeProject)},
		Log:    LogConfig{Level: logging.LevelNone},
	}
}

// Path returns the config file path under root.
func Path(root string) string {
	return filepath.Join(root, Dir, FileName)
}

// Exists reports whether root holds an envsync config.
func Exists(root string) bool {
	_, err := os.Stat(Path(root))
	return err == nil
}

// Load reads and validates the config under root.
func Load(root string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(Path(root), cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", Path(root), err)
	}
	return cfg, nil
}

// Save writes the config under root.
func (c *Config) Save(root string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	path := Path(root)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create %s: %w", Dir, err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(c); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Project.WorkingCopy == "" {
		c.Project.WorkingCopy = DefaultWorkingCopy
	}
	if c.Store.Backend == "" {
		c.Store.Backend = storage.BackendBolt
	}
	if c.Store.Path == "" {
		c.Store.Path = DefaultStorePath
	}
	if c.Crypto.KeyDerivation == "" {
		c.Crypto.KeyDerivation = string(crypto.KeyModeProject)
	}
	if c.Log.Level == "" {
		c.Log.Level = logging.LevelNone
	}
}

// Validate checks required fields and enumerations.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("project.id is required")
	}
	if !storage.ValidProjectID(c.Project.ID) {
		return fmt.Errorf("project.id %q may only contain letters, digits and '-'", c.Project.ID)
	}
	if c.Author.ID == "" {
		return fmt.Errorf("author.id is required")
	}
	if _, err := security.LocalPath(c.Project.WorkingCopy); err != nil {
		return fmt.Errorf("project.working_copy: %w", err)
	}
	switch c.Store.Backend {
	case storage.BackendBolt, storage.BackendBadger:
	default:
		return fmt.Errorf("store.backend must be %q or %q, got %q",
			storage.BackendBolt, storage.BackendBadger, c.Store.Backend)
	}
	if c.Store.CacheSize < 0 {
		return fmt.Errorf("store.cache_size must not be negative")
	}
	if _, err := crypto.ParseKeyMode(c.Crypto.KeyDerivation); err != nil {
		return err
	}
	return nil
}

// KeyMode returns the configured key derivation mode.
func (c *Config) KeyMode() crypto.KeyMode {
	mode, _ := crypto.ParseKeyMode(c.Crypto.KeyDerivation)
	return mode
}

// StoreOptions returns the store options with the path resolved against
// root.
func (c *Config) StoreOptions(root string) storage.Options {
	return storage.Options{
		Backend:   c.Store.Backend,
		Path:      resolve(root, c.Store.Path),
		CacheSize: c.Store.CacheSize,
	}
}

// WorkingCopyPath returns the working copy path resolved against root. The
// working copy always lives inside the project directory.
func (c *Config) WorkingCopyPath(root string) string {
	p, err := security.Join(root, c.Project.WorkingCopy)
	if err != nil {
		return filepath.Join(root, DefaultWorkingCopy)
	}
	return p
}

func resolve(root, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, filepath.FromSlash(p))
}
