package am

import (
	"os"
	"sort"
	"strings"

	"github.com/teranos/keywatch/errors"
)

// ConfigSource represents where a configuration value came from
type ConfigSource string

const (
	SourceDefault     ConfigSource = "default"
	SourceSystem      ConfigSource = "system"      // /etc/keywatch/am.toml
	SourceUser        ConfigSource = "user"        // ~/.keywatch/am.toml
	SourceProject     ConfigSource = "project"     // am.toml found from the working directory up
	SourceEnvironment ConfigSource = "environment" // KEYWATCH_* env vars
)

// secretKeys are masked in introspection output
var secretKeys = map[string]bool{
	"openrouter.api_key": true,
	"database.url":       true,
	"redis.password":     true,
}

// SourceInfo tracks where a configuration value originated
type SourceInfo struct {
	Source ConfigSource
	Path   string // File path or environment variable name
}

// SettingInfo contains metadata about a configuration setting
type SettingInfo struct {
	Key        string       `json:"key"`
	Value      interface{}  `json:"value"`
	Source     ConfigSource `json:"source"`
	SourcePath string       `json:"source_path,omitempty"`
}

// Introspect returns every effective setting with the source that set it,
// sorted by key. Secrets are masked.
func Introspect() ([]SettingInfo, error) {
	if _, err := Load(); err != nil {
		return nil, errors.Wrap(err, "failed to load config for introspection")
	}

	mu.Lock()
	settings := viperInstance.AllSettings()
	sources := make(map[string]SourceInfo, len(configSources))
	for k, v := range configSources {
		sources[k] = v
	}
	mu.Unlock()

	var out []SettingInfo
	flattenSettingsWithSources(settings, "", sources, &out)
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// flattenSettingsWithSources flattens settings and assigns sources from sourceMap
func flattenSettingsWithSources(settings map[string]interface{}, prefix string, sourceMap map[string]SourceInfo, out *[]SettingInfo) {
	for key, value := range settings {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}

		if nested, ok := value.(map[string]interface{}); ok {
			flattenSettingsWithSources(nested, fullKey, sourceMap, out)
			continue
		}

		info := SourceInfo{Source: SourceDefault, Path: "built-in default"}
		if si, ok := sourceMap[fullKey]; ok {
			info = si
		}
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(fullKey, ".", "_"))
		if os.Getenv(envKey) != "" {
			info = SourceInfo{Source: SourceEnvironment, Path: envKey}
		}

		if secretKeys[fullKey] {
			value = mask(value)
		}
		*out = append(*out, SettingInfo{
			Key:        fullKey,
			Value:      value,
			Source:     info.Source,
			SourcePath: info.Path,
		})
	}
}

func mask(value interface{}) interface{} {
	s, ok := value.(string)
	if !ok || s == "" {
		return value
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****"
}
