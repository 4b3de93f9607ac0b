package am

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/teranos/keywatch/errors"
)

// EnvPrefix prefixes every environment override, e.g. KEYWATCH_PULSE_MAX_ATTEMPTS
const EnvPrefix = "KEYWATCH"

var (
	mu            sync.Mutex
	globalConfig  *Config
	viperInstance *viper.Viper
	configSources map[string]SourceInfo
)

// Load reads the keywatch configuration using Viper. The result is cached
// until Reset.
func Load() (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViperLocked()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	globalConfig = &config
	return globalConfig, nil
}

// GetViper returns the Viper instance for advanced configuration access
func GetViper() *viper.Viper {
	mu.Lock()
	defer mu.Unlock()
	return initViperLocked()
}

// LoadFromFile loads configuration from a specific file path on top of the
// defaults. Environment variables still apply.
func LoadFromFile(configPath string) (*Config, error) {
	v := newViper()

	tracked, err := readConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	if err := v.MergeConfigMap(tracked.AllSettings()); err != nil {
		return nil, errors.Wrapf(err, "failed to merge config from %s", configPath)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config from %s", configPath)
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid configuration in %s", configPath)
	}

	mu.Lock()
	globalConfig = &config
	viperInstance = v
	configSources = map[string]SourceInfo{}
	recordSources(tracked.AllSettings(), "", SourceInfo{Source: SourceProject, Path: configPath})
	mu.Unlock()

	return &config, nil
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
	viperInstance = nil
	configSources = nil
}

// newViper returns a Viper with defaults and environment binding, no files
func newViper() *viper.Viper {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	BindSensitiveEnvVars(v)
	SetDefaults(v)
	return v
}

func initViperLocked() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := newViper()
	configSources = map[string]SourceInfo{}
	mergeConfigFiles(v)

	viperInstance = v
	return v
}

// findProjectConfig searches for am.toml by walking up from the working
// directory. Returns "" when none is found.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		amPath := filepath.Join(dir, "am.toml")
		if _, err := os.Stat(amPath); err == nil {
			return amPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// UserConfigPath returns ~/.keywatch/am.toml
func UserConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".keywatch", "am.toml")
}

type configFile struct {
	path   string
	source ConfigSource
}

// mergeConfigFiles merges configuration files in precedence order:
// system < user < project. Environment variables override all of them.
func mergeConfigFiles(v *viper.Viper) {
	files := []configFile{
		{"/etc/keywatch/am.toml", SourceSystem},
	}
	if user := UserConfigPath(); user != "" {
		files = append(files, configFile{user, SourceUser})
	}
	if project := findProjectConfig(); project != "" {
		files = append(files, configFile{project, SourceProject})
	}

	for _, f := range files {
		if _, err := os.Stat(f.path); err != nil {
			continue
		}
		tracked, err := readConfigFile(f.path)
		if err != nil {
			// Unreadable files are skipped; am show reports what was applied
			continue
		}
		// Merged into the config layer so environment variables still win
		settings := tracked.AllSettings()
		if err := v.MergeConfigMap(settings); err != nil {
			continue
		}
		recordSources(settings, "", SourceInfo{Source: f.source, Path: f.path})
	}
}

func readConfigFile(path string) (*viper.Viper, error) {
	fv := viper.New()
	fv.SetConfigFile(path)
	fv.SetConfigType("toml")
	if err := fv.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", path)
	}
	return fv, nil
}

// recordSources remembers which file set each leaf key; later files win
func recordSources(settings map[string]interface{}, prefix string, info SourceInfo) {
	for key, value := range settings {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]interface{}); ok {
			recordSources(nested, full, info)
			continue
		}
		configSources[full] = info
	}
}
