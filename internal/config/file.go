package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SecretsConfig holds credentials loaded from secrets.yaml
type SecretsConfig struct {
	SessionSecret string `yaml:"session_secret"`
	AdminToken    string `yaml:"admin_token"`
	LLMAPIKey     string `yaml:"llm_api_key"`
	OAuth         struct {
		GoogleClientSecret    string `yaml:"google_client_secret"`
		MicrosoftClientSecret string `yaml:"microsoft_client_secret"`
	} `yaml:"oauth"`
}

// LoadFile overlays the YAML file at path onto cfg and then applies
// secrets.yaml from the same directory. Missing files are not an error.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	if err := loadSecrets(filepath.Dir(path), cfg); err != nil {
		return fmt.Errorf("load secrets: %w", err)
	}

	return nil
}

// loadSecrets loads credentials from secrets.yaml
func loadSecrets(dir string, cfg *Config) error {
	secretsPath := filepath.Join(dir, "secrets.yaml")

	data, err := os.ReadFile(secretsPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read secrets: %w", err)
	}

	var secrets SecretsConfig
	if err := yaml.Unmarshal(data, &secrets); err != nil {
		return fmt.Errorf("parse secrets: %w", err)
	}

	setIfEmpty(&cfg.LLMAPIKey, secrets.LLMAPIKey)
	setIfEmpty(&cfg.AdminToken, secrets.AdminToken)
	setIfEmpty(&cfg.OAuth.GoogleClientSecret, secrets.OAuth.GoogleClientSecret)
	setIfEmpty(&cfg.OAuth.MicrosoftClientSecret, secrets.OAuth.MicrosoftClientSecret)
	if secrets.SessionSecret != "" {
		cfg.SessionSecret = secrets.SessionSecret
	}

	return nil
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}
