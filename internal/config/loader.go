package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file.
// Files named in an include array are merged in order, later files winning.
func Load(configPath string) (*Config, error) {
	absPath, err := resolveConfigFile(configPath)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}

	files := []string{absPath}
	if len(cfg.Include) > 0 {
		visited := map[string]bool{absPath: true}
		included, err := loadIncludes(cfg, cfg.Include, filepath.Dir(absPath), visited)
		if err != nil {
			return nil, err
		}
		files = append(files, included...)
	}

	if err := verifyAllConfigHashes(files); err != nil {
		return nil, err
	}

	cfg = applyConfigDefaults(cfg)
	resolveRelativePaths(cfg, filepath.Dir(absPath))
	cfg.Path = absPath
	cfg.Files = files

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadOrDefaults loads configPath when it is set and otherwise returns the
// built-in defaults with paths relative to the working directory.
func LoadOrDefaults(configPath string) (*Config, error) {
	if configPath == "" {
		cfg := Defaults()
		if err := validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return Load(configPath)
}

func resolveConfigFile(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

// loadIncludes recursively loads and merges files from the include array.
// visited tracks loaded files to prevent cycles. It returns the included paths
// in load order.
func loadIncludes(cfg *Config, includes []string, baseDir string, visited map[string]bool) ([]string, error) {
	var loaded []string
	for i, includePath := range includes {
		includePath = interpolateEnv(includePath)

		resolvedPath := includePath
		if !filepath.IsAbs(includePath) {
			resolvedPath = filepath.Join(baseDir, includePath)
		}

		absPath, err := filepath.Abs(resolvedPath)
		if err != nil {
			return nil, fmt.Errorf("include[%d]: failed to resolve path %q: %w", i, includePath, err)
		}

		if visited[absPath] {
			return nil, fmt.Errorf("include[%d]: circular dependency detected: %s", i, absPath)
		}

		if _, err := os.Stat(absPath); err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("include[%d]: file not found: %s\n"+
					"Referenced from: %s\n"+
					"Hint: Check the path is correct and the file exists", i, absPath, baseDir)
			}
			return nil, fmt.Errorf("include[%d]: failed to access file %s: %w", i, absPath, err)
		}
		visited[absPath] = true
		loaded = append(loaded, absPath)

		includedCfg, err := loadConfigFile(absPath)
		if err != nil {
			return nil, fmt.Errorf("include[%d] (%s): %w", i, includePath, err)
		}
		resolveRelativePaths(includedCfg, filepath.Dir(absPath))
		deepMergeConfig(cfg, includedCfg)

		if len(includedCfg.Include) > 0 {
			nested, err := loadIncludes(cfg, includedCfg.Include, filepath.Dir(absPath), visited)
			if err != nil {
				return nil, err
			}
			loaded = append(loaded, nested...)
		}
	}
	return loaded, nil
}

// loadConfigFile loads and parses a single config file without defaults.
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML in %s: %w", path, err)
	}
	return &cfg, nil
}

// deepMergeConfig merges src into dst, with src taking precedence for non-zero values.
func deepMergeConfig(dst, src *Config) {
	if src.Service.Name != "" {
		dst.Service.Name = src.Service.Name
	}
	if src.Service.LogLevel != "" {
		dst.Service.LogLevel = src.Service.LogLevel
	}
	if src.Service.LogFormat != "" {
		dst.Service.LogFormat = src.Service.LogFormat
	}

	if src.Extensions.Group != "" {
		dst.Extensions.Group = src.Extensions.Group
	}
	if src.Extensions.Name != "" {
		dst.Extensions.Name = src.Extensions.Name
	}
	if src.Extensions.Sorted {
		dst.Extensions.Sorted = true
	}
	if src.Extensions.InitTimeout != 0 {
		dst.Extensions.InitTimeout = src.Extensions.InitTimeout
	}

	// Plugin roots are additive.
	dst.PluginRoots = append(dst.PluginRoots, src.PluginRoots...)

	if src.Catalog.Enabled {
		dst.Catalog.Enabled = true
	}
	if src.Catalog.Path != "" {
		dst.Catalog.Path = src.Catalog.Path
	}

	if src.API.Listen != "" {
		dst.API.Listen = src.API.Listen
	}
	if src.API.Token != "" {
		dst.API.Token = src.API.Token
	}
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Extensions.Group == "" {
		cfg.Extensions.Group = defaults.Extensions.Group
	}
	if cfg.Extensions.Name == "" {
		cfg.Extensions.Name = defaults.Extensions.Name
	}
	if cfg.Extensions.InitTimeout == 0 {
		cfg.Extensions.InitTimeout = defaults.Extensions.InitTimeout
	}
	if len(cfg.PluginRoots) == 0 {
		cfg.PluginRoots = defaults.PluginRoots
	}
	if cfg.Catalog.Path == "" {
		cfg.Catalog.Path = defaults.Catalog.Path
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	return cfg
}

// resolveRelativePaths anchors relative filesystem paths to the directory of
// the file that declared them.
func resolveRelativePaths(cfg *Config, baseDir string) {
	for i, root := range cfg.PluginRoots {
		if root != "" && !filepath.IsAbs(root) && !envVarPattern.MatchString(root) {
			cfg.PluginRoots[i] = filepath.Join(baseDir, root)
		}
	}
	if p := cfg.Catalog.Path; p != "" && !filepath.IsAbs(p) && !envVarPattern.MatchString(p) {
		cfg.Catalog.Path = filepath.Join(baseDir, p)
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Left in place so validation can name the variable.
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.Extensions.InitTimeout < 0 {
		return fmt.Errorf("extensions.init_timeout must be positive")
	}

	checks := map[string]string{
		"extensions.group": cfg.Extensions.Group,
		"extensions.name":  cfg.Extensions.Name,
		"catalog.path":     cfg.Catalog.Path,
		"api.listen":       cfg.API.Listen,
		"api.token":        cfg.API.Token,
	}
	for i, root := range cfg.PluginRoots {
		checks[fmt.Sprintf("plugin_roots[%d]", i)] = root
	}
	for field, value := range checks {
		if matches := envVarPattern.FindStringSubmatch(value); len(matches) > 1 {
			return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
		}
	}

	if cfg.Extensions.Group == "" {
		return fmt.Errorf("extensions.group is required")
	}
	if cfg.Extensions.Name == "" {
		return fmt.Errorf("extensions.name is required")
	}
	if cfg.Catalog.Enabled && cfg.Catalog.Path == "" {
		return fmt.Errorf("catalog.path is required when catalog.enabled is true")
	}
	return nil
}
