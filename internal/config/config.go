package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	rserrors "github.com/Aman-CERP/reposync/internal/errors"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Search backends. Kept in sync with search.BackendSQLite and search.BackendBleve.
const (
	BackendSQLite = "sqlite"
	BackendBleve  = "bleve"
)

// ProjectFileName is the project configuration file looked up in the working directory.
const ProjectFileName = ".reposync.yaml"

// DataDirName holds the default storage database and search indexes.
const DataDirName = ".reposync"

// Config represents the complete reposync configuration.
type Config struct {
	Version      int                `yaml:"version" json:"version"`
	Storage      StorageConfig      `yaml:"storage" json:"storage"`
	Search       SearchConfig       `yaml:"search" json:"search"`
	Repositories []RepositoryConfig `yaml:"repositories" json:"repositories"`
	Server       ServerConfig       `yaml:"server" json:"server"`
}

// StorageConfig selects the authoritative component storage.
type StorageConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string `yaml:"driver" json:"driver"`

	// Path is the SQLite database file. Relative paths resolve against the config directory.
	Path string `yaml:"path" json:"path"`

	// DSN is the PostgreSQL connection string. Required when Driver is "postgres".
	DSN string `yaml:"dsn" json:"dsn,omitempty"`
}

// SearchConfig configures the search backend and synchronization batching.
type SearchConfig struct {
	// Backend is "sqlite" (FTS5, default) or "bleve".
	Backend string `yaml:"backend" json:"backend"`

	// Path is the index directory. Relative paths resolve against the config directory.
	Path string `yaml:"path" json:"path"`

	// BulkSize flushes rebuilds in chunks of this many components.
	// 0 pushes the whole repository in one bulk call.
	BulkSize int `yaml:"bulk_size" json:"bulk_size"`

	// Workers bounds parallel document generation during bulk puts.
	Workers int `yaml:"workers" json:"workers"`

	// MaxOpenIndexes bounds the Bleve indexes kept open at once.
	MaxOpenIndexes int `yaml:"max_open_indexes" json:"max_open_indexes"`
}

// RepositoryConfig declares one repository whose index is kept in sync.
type RepositoryConfig struct {
	Name   string `yaml:"name" json:"name"`
	Format string `yaml:"format" json:"format"`
}

// ServerConfig configures the HTTP API and logging.
type ServerConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	LogLevel string `yaml:"log_level" json:"log_level"`
}

var repositoryNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Storage: StorageConfig{
			Driver: DriverSQLite,
			Path:   filepath.Join(DataDirName, "storage.db"),
		},
		Search: SearchConfig{
			Backend:        BackendSQLite,
			Path:           filepath.Join(DataDirName, "index"),
			BulkSize:       0,
			Workers:        runtime.NumCPU(),
			MaxOpenIndexes: 64,
		},
		Repositories: []RepositoryConfig{},
		Server: ServerConfig{
			Addr:     ":8081",
			LogLevel: "info",
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/reposync/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/reposync/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "reposync", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "reposync", "config.yaml")
	}
	return filepath.Join(home, ".config", "reposync", "config.yaml")
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	var parsed Config
	if err := parseYAML(configPath, &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

// Load loads configuration for the given working directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/reposync/config.yaml)
//  3. Project config (.reposync.yaml in dir)
//  4. Environment variables (REPOSYNC_*)
//
// Relative storage and index paths are resolved against dir.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if path := ProjectFile(dir); path != "" {
		var parsed Config
		if err := parseYAML(path, &parsed); err != nil {
			return nil, err
		}
		cfg.mergeWith(&parsed)
	}

	return cfg.finish(dir)
}

// LoadFile loads configuration from an explicit file, skipping the user config.
// Relative paths resolve against the file's directory.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()

	var parsed Config
	if err := parseYAML(path, &parsed); err != nil {
		return nil, err
	}
	cfg.mergeWith(&parsed)

	return cfg.finish(filepath.Dir(path))
}

func (c *Config) finish(dir string) (*Config, error) {
	if err := c.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	c.resolvePaths(dir)
	return c, nil
}

// ProjectFile returns the project config file in dir, or "" when there is none.
// .reposync.yaml takes precedence over .reposync.yml.
func ProjectFile(dir string) string {
	for _, name := range []string{ProjectFileName, ".reposync.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return path
		}
	}
	return ""
}

// parseYAML reads a YAML file into a zero Config so unset fields stay zero for merging.
func parseYAML(path string, into *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return rserrors.New(rserrors.ErrCodeConfigNotFound, "config file not found: "+path, err)
		}
		if os.IsPermission(err) {
			return rserrors.New(rserrors.ErrCodeConfigPermission, "cannot read config file: "+path, err)
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, into); err != nil {
		return rserrors.ConfigError("failed to parse config file "+path, err).
			WithSuggestion("Check the YAML syntax of " + filepath.Base(path))
	}
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Storage.Driver != "" {
		c.Storage.Driver = other.Storage.Driver
	}
	if other.Storage.Path != "" {
		c.Storage.Path = other.Storage.Path
	}
	if other.Storage.DSN != "" {
		c.Storage.DSN = other.Storage.DSN
	}

	if other.Search.Backend != "" {
		c.Search.Backend = other.Search.Backend
	}
	if other.Search.Path != "" {
		c.Search.Path = other.Search.Path
	}
	if other.Search.BulkSize != 0 {
		c.Search.BulkSize = other.Search.BulkSize
	}
	if other.Search.Workers != 0 {
		c.Search.Workers = other.Search.Workers
	}
	if other.Search.MaxOpenIndexes != 0 {
		c.Search.MaxOpenIndexes = other.Search.MaxOpenIndexes
	}

	// Repositories replace rather than append: a project declares its full set.
	if len(other.Repositories) > 0 {
		c.Repositories = append([]RepositoryConfig(nil), other.Repositories...)
	}

	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
}

// applyEnvOverrides applies REPOSYNC_* environment variables.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("REPOSYNC_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("REPOSYNC_STORAGE_DSN"); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv("REPOSYNC_SEARCH_BACKEND"); v != "" {
		c.Search.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("REPOSYNC_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("REPOSYNC_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("REPOSYNC_BULK_SIZE"); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return rserrors.ConfigError("REPOSYNC_BULK_SIZE must be an integer, got "+v, err)
		}
		c.Search.BulkSize = n
	}
	return nil
}

// resolvePaths makes relative SQLite and index paths absolute against dir.
func (c *Config) resolvePaths(dir string) {
	if dir == "" {
		return
	}
	if c.Storage.Path != "" && !filepath.IsAbs(c.Storage.Path) {
		c.Storage.Path = filepath.Join(dir, c.Storage.Path)
	}
	if c.Search.Path != "" && !filepath.IsAbs(c.Search.Path) {
		c.Search.Path = filepath.Join(dir, c.Search.Path)
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return rserrors.ConfigError("storage.dsn is required for the postgres driver", nil).
				WithSuggestion("Set storage.dsn or REPOSYNC_STORAGE_DSN")
		}
	default:
		return rserrors.ConfigError(fmt.Sprintf("storage.driver must be 'sqlite' or 'postgres', got %s", c.Storage.Driver), nil)
	}

	validBackends := map[string]bool{BackendSQLite: true, BackendBleve: true}
	if !validBackends[c.Search.Backend] {
		return rserrors.ConfigError(fmt.Sprintf("search.backend must be 'sqlite' or 'bleve', got %s", c.Search.Backend), nil)
	}

	if c.Search.BulkSize < 0 {
		return rserrors.ConfigError(fmt.Sprintf("search.bulk_size must be non-negative, got %d", c.Search.BulkSize), nil)
	}
	if c.Search.Workers < 0 {
		return rserrors.ConfigError(fmt.Sprintf("search.workers must be non-negative, got %d", c.Search.Workers), nil)
	}
	if c.Search.MaxOpenIndexes < 0 {
		return rserrors.ConfigError(fmt.Sprintf("search.max_open_indexes must be non-negative, got %d", c.Search.MaxOpenIndexes), nil)
	}

	seen := make(map[string]bool, len(c.Repositories))
	for i, repo := range c.Repositories {
		if !repositoryNamePattern.MatchString(repo.Name) {
			return rserrors.ConfigError(fmt.Sprintf("repositories[%d].name %q is invalid", i, repo.Name), nil).
				WithSuggestion("Use letters, digits, '.', '_' or '-', starting with a letter or digit")
		}
		if seen[repo.Name] {
			return rserrors.ConfigError(fmt.Sprintf("repository %q is declared twice", repo.Name), nil)
		}
		seen[repo.Name] = true
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return rserrors.ConfigError(fmt.Sprintf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel), nil)
	}

	return nil
}

// Repository returns the declared repository with the given name.
func (c *Config) Repository(name string) (RepositoryConfig, bool) {
	for _, repo := range c.Repositories {
		if repo.Name == name {
			return repo, true
		}
	}
	return RepositoryConfig{}, false
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
