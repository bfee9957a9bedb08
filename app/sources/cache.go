package sources

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Cache loads source definitions from a directory of YAML files and serves
// them to the scheduler and the API.
type Cache struct {
	sourcesDir string
	cache      map[string]*Config
	mu         sync.RWMutex
}

func NewCache(sourcesDir string) *Cache {
	return &Cache{
		sourcesDir: sourcesDir,
		cache:      make(map[string]*Config),
	}
}

// Run loads every *.yml file in the sources directory. A missing directory
// is not an error; it just means no sources are configured.
func (c *Cache) Run() error {
	if _, err := os.Stat(c.sourcesDir); os.IsNotExist(err) {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(c.sourcesDir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to find YML files: %w", err)
	}

	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), ".yml")
		config, err := c.LoadConfig(name)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}

		slog.Debug("Source configuration loaded", "source", name,
			"enabled", config.Settings.Enabled,
			"refresh_interval", config.Settings.RefreshInterval)
	}

	return nil
}

// LoadConfig parses, validates and caches a single source definition.
func (c *Cache) LoadConfig(name string) (*Config, error) {
	path := filepath.Join(c.sourcesDir, name+".yml")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	config.Name = name
	setDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[name] = &config

	return &config, nil
}

// GetConfig returns a cached source by name
func (c *Cache) GetConfig(name string) (*Config, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	config, ok := c.cache[name]
	if !ok {
		return nil, fmt.Errorf("unknown source: %s", name)
	}
	return config, nil
}

// GetConfigs returns all cached sources, sorted by name
func (c *Cache) GetConfigs() []*Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	configs := make([]*Config, 0, len(c.cache))
	for _, config := range c.cache {
		configs = append(configs, config)
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].Name < configs[j].Name })
	return configs
}

// GetEnabledConfigs returns the sources the scheduler should poll
func (c *Cache) GetEnabledConfigs() []*Config {
	var enabled []*Config
	for _, config := range c.GetConfigs() {
		if config.Settings.Enabled {
			enabled = append(enabled, config)
		}
	}
	return enabled
}

func setDefaults(config *Config) {
	if config.Settings.RefreshInterval == 0 {
		config.Settings.RefreshInterval = 900 // seconds
	}
	if config.Settings.PageSize == 0 {
		config.Settings.PageSize = 1000
	}
	if config.Settings.Timeout == 0 {
		config.Settings.Timeout = 300 // seconds
	}
}

func validate(config *Config) error {
	if config.URL == "" {
		return fmt.Errorf("source URL is required")
	}
	if config.Resource == "" {
		return fmt.Errorf("resource_id is required")
	}
	if config.Settings.RefreshInterval < 0 {
		return fmt.Errorf("refresh interval must be non-negative")
	}
	if config.Settings.PageSize < 0 {
		return fmt.Errorf("page size must be non-negative")
	}
	if config.Settings.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}
	return nil
}
