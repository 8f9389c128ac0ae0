package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xeipuuv/gojsonschema"
)

// Config holds the user's persistent configuration preferences.
type Config struct {
	LLMProvider   string `json:"llm_provider,omitempty"`   // openai, anthropic, deepseek, groq
	APIKey        string `json:"api_key,omitempty"`        // The API key for the selected provider
	Model         string `json:"model,omitempty"`          // Default model name
	BaseURL       string `json:"base_url,omitempty"`       // Optional override for API base URL
	HistoryLimit  int    `json:"history_limit,omitempty"`  // Max messages loaded when history is omitted
	LearningsRoot string `json:"learnings_root,omitempty"` // Optional shared learnings directory
}

// configSchema rejects malformed config.json files before they reach the
// rest of the app. Unknown keys are allowed so older builds can read
// configs written by newer ones.
const configSchema = `{
	"type": "object",
	"properties": {
		"llm_provider":   {"type": "string", "enum": ["", "openai", "anthropic", "deepseek", "groq"]},
		"api_key":        {"type": "string"},
		"model":          {"type": "string"},
		"base_url":       {"type": "string"},
		"history_limit":  {"type": "integer", "minimum": 0},
		"learnings_root": {"type": "string"}
	}
}`

// Manager handles loading and saving the configuration.
type Manager struct {
	configDir string
	schema    *gojsonschema.Schema
}

// NewManager creates a configuration manager rooted at the user config dir.
func NewManager() (*Manager, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user config dir: %w", err)
	}
	return NewManagerAt(filepath.Join(configDir, "epicdesk"))
}

// NewManagerAt creates a manager using an explicit config directory.
func NewManagerAt(dir string) (*Manager, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(configSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile config schema: %w", err)
	}
	return &Manager{configDir: dir, schema: schema}, nil
}

// GetConfigPath returns the absolute path to the config.json file.
func (m *Manager) GetConfigPath() string {
	return filepath.Join(m.configDir, "config.json")
}

// Load reads the configuration from disk.
// If the file does not exist, it returns an empty Config and no error.
func (m *Manager) Load() (*Config, error) {
	path := m.GetConfigPath()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &Config{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := m.validate(data); err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config json: %w", err)
	}

	return &cfg, nil
}

// Save writes the configuration to disk with restricted permissions (0600).
func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(m.configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := m.validate(data); err != nil {
		return err
	}

	path := m.GetConfigPath()
	// 0600: the file may hold an API key.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Exists checks if the configuration file has been created.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.GetConfigPath())
	return !os.IsNotExist(err)
}

func (m *Manager) validate(data []byte) error {
	result, err := m.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("failed to validate config: %w", err)
	}
	if !result.Valid() {
		errs := result.Errors()
		if len(errs) > 0 {
			return fmt.Errorf("invalid config: %s", errs[0].String())
		}
		return fmt.Errorf("invalid config")
	}
	return nil
}
