package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "discoverer.yaml"
	// ProjectConfigFileTOML is the TOML spelling of the project config file
	ProjectConfigFileTOML = "discoverer.toml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/discoverer"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"

	// EnvNATSURL overrides nats.url
	EnvNATSURL = "DISCOVERER_NATS_URL"
	// EnvSeedDir overrides seed.dir
	EnvSeedDir = "DISCOVERER_SEED_DIR"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger *slog.Logger
	getenv func(string) string
	cwd    string
	home   string
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	cwd, _ := os.Getwd()
	home, _ := os.UserHomeDir()
	return &Loader{logger: logger, getenv: os.Getenv, cwd: cwd, home: home}
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/discoverer/config.yaml)
// 3. Project config (discoverer.yaml or discoverer.toml in current or parent directories)
// 4. The explicit file, when path is set
// 5. Environment variables (DISCOVERER_NATS_URL, NATS_URL, DISCOVERER_SEED_DIR)
func (l *Loader) Load(path string) (*Config, error) {
	config := DefaultConfig()

	if userConfigPath := l.userConfigPath(); userConfigPath != "" {
		if err := decodeFile(userConfigPath, config); err == nil {
			l.logger.Debug("Loaded user config", slog.String("path", userConfigPath))
		} else if !errors.Is(err, fs.ErrNotExist) {
			l.logger.Warn("Failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
		}
	}

	if projectConfigPath := l.findProjectConfig(); projectConfigPath != "" {
		if err := decodeFile(projectConfigPath, config); err == nil {
			l.logger.Debug("Loaded project config", slog.String("path", projectConfigPath))
		} else {
			l.logger.Warn("Failed to load project config", slog.String("path", projectConfigPath), slog.String("error", err.Error()))
		}
	} else {
		l.logger.Debug("No project config found")
	}

	if path != "" {
		if err := decodeFile(path, config); err != nil {
			return nil, err
		}
		l.logger.Debug("Loaded config file", slog.String("path", path))
	}

	config.Merge(l.envConfig())

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// EnsureUserConfig creates the user config file with defaults if it doesn't exist
func (l *Loader) EnsureUserConfig() error {
	userConfigPath := l.userConfigPath()
	if userConfigPath == "" {
		return nil
	}

	if _, err := os.Stat(userConfigPath); err == nil {
		return nil
	}

	if err := DefaultConfig().SaveToFile(userConfigPath); err != nil {
		return err
	}

	l.logger.Info("Created default user config", slog.String("path", userConfigPath))
	return nil
}

// envConfig returns the environment overrides as a sparse Config.
func (l *Loader) envConfig() *Config {
	env := &Config{}
	env.NATS.URL = l.getenv(EnvNATSURL)
	if env.NATS.URL == "" {
		env.NATS.URL = l.getenv("NATS_URL")
	}
	env.Seed.Dir = l.getenv(EnvSeedDir)
	return env
}

// userConfigPath returns the path to the user config file
func (l *Loader) userConfigPath() string {
	if l.home == "" {
		return ""
	}
	return filepath.Join(l.home, UserConfigDir, UserConfigFile)
}

// findProjectConfig searches for the project config in the working
// directory and its parents
func (l *Loader) findProjectConfig() string {
	if l.cwd == "" {
		return ""
	}

	dir := l.cwd
	for {
		for _, name := range []string{ProjectConfigFile, ProjectConfigFileTOML} {
			configPath := filepath.Join(dir, name)
			if _, err := os.Stat(configPath); err == nil {
				return configPath
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}
