package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/opencode-ai/streamd/pkg/types"
)

// DefaultModel is used when neither config nor environment select a model.
const DefaultModel = "anthropic/claude-sonnet-4-20250514"

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// providerEnv maps provider ids to the environment variable holding their API key.
var providerEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"ark":       "ARK_API_KEY",
}

// Load loads configuration from multiple sources (priority order):
// 1. .env in the project directory (only fills unset variables)
// 2. Global config (~/.config/streamd/)
// 3. Project config (streamd.json, streamd.jsonc, streamd.yaml)
// 4. STREAMD_CONFIG file
// 5. Environment variables
func Load(directory string) (*types.Config, error) {
	if directory != "" {
		// Missing .env is normal.
		_ = godotenv.Load(filepath.Join(directory, ".env"))
	}

	config := &types.Config{
		Provider: make(map[string]types.ProviderConfig),
	}

	loaded := make(map[string]bool)
	loadOnce := func(path string) error {
		absPath, err := filepath.Abs(path)
		if err != nil || loaded[absPath] {
			return nil
		}
		err = loadConfigFile(absPath, config)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		loaded[absPath] = true
		return nil
	}

	var candidates []string
	globalPath := GetPaths().Config
	for _, name := range configNames {
		candidates = append(candidates, filepath.Join(globalPath, name))
	}
	if directory != "" {
		for _, name := range configNames {
			candidates = append(candidates, filepath.Join(directory, name))
		}
	}
	if configPath := os.Getenv("STREAMD_CONFIG"); configPath != "" {
		candidates = append(candidates, configPath)
	}

	for _, path := range candidates {
		if err := loadOnce(path); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(config)

	if config.Model == "" {
		config.Model = DefaultModel
	}

	return config, nil
}

var configNames = []string{"streamd.json", "streamd.jsonc", "streamd.yaml", "streamd.yml"}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *types.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	baseDir := filepath.Dir(path)
	var fileConfig types.Config

	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		data = interpolate(data, baseDir, false)
		if err := yaml.Unmarshal(data, &fileConfig); err != nil {
			return err
		}
	default:
		data = jsonc.ToJSON(data)
		data = interpolate(data, baseDir, true)
		if err := json.Unmarshal(data, &fileConfig); err != nil {
			return err
		}
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// interpolate processes {env:VAR} and {file:path} placeholders.
// File contents are escaped when they land inside a JSON string.
func interpolate(data []byte, baseDir string, jsonEscape bool) []byte {
	str := envPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]
		if strings.HasPrefix(filePath, "~/") {
			filePath = filepath.Join(os.Getenv("HOME"), filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match
		}
		value := strings.TrimRight(string(content), "\r\n")
		if !jsonEscape {
			return value
		}
		escaped, _ := json.Marshal(value)
		return string(escaped[1 : len(escaped)-1])
	})

	return []byte(str)
}

// mergeConfig merges source config into target.
func mergeConfig(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.Model != "" {
		target.Model = source.Model
	}

	if source.Tools != nil {
		if target.Tools == nil {
			target.Tools = make(map[string]bool)
		}
		for k, v := range source.Tools {
			target.Tools[k] = v
		}
	}

	if len(source.Instructions) > 0 {
		target.Instructions = append(target.Instructions, source.Instructions...)
	}

	if source.Provider != nil {
		if target.Provider == nil {
			target.Provider = make(map[string]types.ProviderConfig)
		}
		for k, v := range source.Provider {
			target.Provider[k] = v
		}
	}

	if source.Server != nil {
		target.Server = source.Server
	}
	if source.Storage != nil {
		target.Storage = source.Storage
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *types.Config) {
	for provider, envVar := range providerEnv {
		apiKey := os.Getenv(envVar)
		if apiKey == "" {
			continue
		}
		if config.Provider == nil {
			config.Provider = make(map[string]types.ProviderConfig)
		}
		p := config.Provider[provider]
		if p.APIKey == "" {
			p.APIKey = apiKey
			config.Provider[provider] = p
		}
	}

	if model := os.Getenv("ARK_MODEL_ID"); model != "" {
		p := config.Provider["ark"]
		if p.Model == "" {
			p.Model = model
			if config.Provider == nil {
				config.Provider = make(map[string]types.ProviderConfig)
			}
			config.Provider["ark"] = p
		}
	}

	if model := os.Getenv("STREAMD_MODEL"); model != "" {
		config.Model = model
	}
}

// Save saves the configuration to a file as indented JSON.
func Save(config *types.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// DatabasePath returns the SQLite database location for the config.
func DatabasePath(config *types.Config) string {
	if config.Storage != nil && config.Storage.Path != "" {
		return config.Storage.Path
	}
	return GetPaths().DatabasePath()
}
