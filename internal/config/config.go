package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ocrnote/internal/logger"
	"ocrnote/internal/ocr"
)

// SettingsDir is the vault folder holding the persisted settings.
const SettingsDir = ".ocrnote"

type Config struct {
	// Vault Configuration
	VaultPath    string
	SettingsFile string

	// Mistral Configuration
	MistralAPIKey  string
	MistralBaseURL string

	// Google Cloud Configuration
	GoogleCloudProject         string
	GoogleCloudLocation        string
	DocumentAIProcessorID      string
	DocumentAIProcessorVersion string
	DocumentAITimeout          time.Duration

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

func Load() (*Config, error) {
	config := &Config{
		VaultPath:                  getEnv("OCRNOTE_VAULT", "."),
		SettingsFile:               getEnv("OCRNOTE_SETTINGS_FILE", ""),
		MistralAPIKey:              getEnv("MISTRAL_API_KEY", ""),
		MistralBaseURL:             getEnv("MISTRAL_BASE_URL", ocr.DefaultMistralBaseURL),
		GoogleCloudProject:         getEnv("GOOGLE_CLOUD_PROJECT", ""),
		GoogleCloudLocation:        getEnv("GOOGLE_CLOUD_LOCATION", "us"),
		DocumentAIProcessorID:      getEnv("DOCUMENT_AI_PROCESSOR_ID", ""),
		DocumentAIProcessorVersion: getEnv("DOCUMENT_AI_PROCESSOR_VERSION", ""),
		LogLevel:                   getEnv("LOG_LEVEL", "info"),
		LogFormat:                  getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:              getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:                  getEnv("LOG_OUTPUT", "stderr"),
	}

	timeout, err := time.ParseDuration(getEnv("DOCUMENT_AI_TIMEOUT", "60s"))
	if err != nil {
		return nil, fmt.Errorf("config validation failed: DOCUMENT_AI_TIMEOUT: %w", err)
	}
	config.DocumentAITimeout = timeout

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.VaultPath) == "" {
		return fmt.Errorf("OCRNOTE_VAULT must not be blank")
	}
	if !strings.HasPrefix(c.MistralBaseURL, "http://") && !strings.HasPrefix(c.MistralBaseURL, "https://") {
		return fmt.Errorf("MISTRAL_BASE_URL must be an http(s) URL")
	}
	if c.DocumentAITimeout <= 0 {
		return fmt.Errorf("DOCUMENT_AI_TIMEOUT must be positive")
	}
	return nil
}

// SettingsPath returns the settings file for vault: OCRNOTE_SETTINGS_FILE when
// set, otherwise <vault>/.ocrnote/settings.yaml.
func (c *Config) SettingsPath(vault string) string {
	if c.SettingsFile != "" {
		return c.SettingsFile
	}
	return filepath.Join(vault, SettingsDir, "settings.yaml")
}

// OCROptions returns the provider options derived from the environment.
// The persisted settings are applied on top by the converter.
func (c *Config) OCROptions() ocr.Options {
	mistral := ocr.DefaultMistralConfig()
	mistral.APIKey = c.MistralAPIKey
	mistral.BaseURL = c.MistralBaseURL

	return ocr.Options{
		Mistral: mistral,
		DocumentAI: ocr.DocumentAIConfig{
			ProjectID:        c.GoogleCloudProject,
			Location:         c.GoogleCloudLocation,
			ProcessorID:      c.DocumentAIProcessorID,
			ProcessorVersion: c.DocumentAIProcessorVersion,
			Timeout:          c.DocumentAITimeout,
		},
	}
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
