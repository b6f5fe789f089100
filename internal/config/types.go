package config

import "time"

// Config represents the complete extinit configuration.
type Config struct {
	Include     []string         `yaml:"include,omitempty"`
	Service     ServiceConfig    `yaml:"service"`
	Extensions  ExtensionsConfig `yaml:"extensions"`
	PluginRoots []string         `yaml:"plugin_roots"`
	Catalog     CatalogConfig    `yaml:"catalog"`
	API         APIConfig        `yaml:"api"`

	// Path is the root file this configuration was loaded from. Empty when
	// the built-in defaults are in use.
	Path string `yaml:"-"`
	// Files lists every file that contributed, root first.
	Files []string `yaml:"-"`
}

// ServiceConfig defines process-wide settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// ExtensionsConfig selects which entry points are initialized and how.
type ExtensionsConfig struct {
	Group       string        `yaml:"group"`
	Name        string        `yaml:"name"`
	Sorted      bool          `yaml:"sorted"`
	InitTimeout time.Duration `yaml:"init_timeout"`
}

// CatalogConfig defines the SQLite entry point catalog.
type CatalogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// APIConfig defines the HTTP status server.
type APIConfig struct {
	Listen string `yaml:"listen"`
	// Token is the bearer token required by the API. Usually set as
	// ${EXTINIT_API_TOKEN} so the secret stays out of the file.
	Token string `yaml:"token,omitempty"`
}

// Defaults returns a Config with the built-in defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "extinit",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Extensions: ExtensionsConfig{
			Group:       "extinit_extensions",
			Name:        "init",
			InitTimeout: 30 * time.Second,
		},
		PluginRoots: []string{"./plugins"},
		Catalog: CatalogConfig{
			Enabled: false,
			Path:    "./data/catalog.db",
		},
		API: APIConfig{
			Listen: "127.0.0.1:8089",
		},
	}
}
