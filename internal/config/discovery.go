package config

import (
	"os"
	"path/filepath"
)

// EnvConfig names the environment variable holding a config path.
const EnvConfig = "EXTINIT_CONFIG"

// DiscoverConfigPath finds the configuration file to load.
// Priority order: explicit flag, $EXTINIT_CONFIG, ~/.config/extinit/config.yaml,
// ./config.yaml. An empty result means the built-in defaults apply.
func DiscoverConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}

	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "extinit", "config.yaml")
		if fileExists(userConfig) {
			return userConfig
		}
	}

	if fileExists("config.yaml") {
		return "config.yaml"
	}
	return ""
}

// DiscoverAllConfigFiles returns absolute paths to every file in the include
// tree of configPath, without verifying checksums.
func DiscoverAllConfigFiles(configPath string) ([]string, error) {
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
		scratch := &Config{}
		included, err := loadIncludes(scratch, cfg.Include, filepath.Dir(absPath), map[string]bool{absPath: true})
		if err != nil {
			return nil, err
		}
		files = append(files, included...)
	}
	return files, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
