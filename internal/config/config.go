// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConnectorConfig holds credentials for the OAuth connector broker that
// fronts the user's mailbox and calendar.
type ConnectorConfig struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// LLMConfig holds settings for the completion provider.
type LLMConfig struct {
	BaseURL         string
	APIKey          string
	ClassifierModel string
	DraftModel      string
}

// Config holds all configuration for the triage service.
type Config struct {
	Connector ConnectorConfig
	LLM       LLMConfig

	DatabaseURL string
	RedisURL    string

	// Triage tuning
	ConfidenceThreshold   float64
	DefaultMeetingMinutes int
	SlotMinutes           int

	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Connector struct {
		BaseURL      string `yaml:"base_url"`
		TokenURL     string `yaml:"token_url"`
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
	} `yaml:"connector"`
	LLM struct {
		BaseURL         string `yaml:"base_url"`
		APIKey          string `yaml:"api_key"`
		ClassifierModel string `yaml:"classifier_model"`
		DraftModel      string `yaml:"draft_model"`
	} `yaml:"llm"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Triage struct {
		ConfidenceThreshold   float64 `yaml:"confidence_threshold"`
		DefaultMeetingMinutes int     `yaml:"default_meeting_minutes"`
		SlotMinutes           int     `yaml:"slot_minutes"`
	} `yaml:"triage"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		Connector: ConnectorConfig{
			BaseURL:      firstNonEmpty(raw.Connector.BaseURL, os.Getenv("CONNECTOR_BASE_URL")),
			TokenURL:     firstNonEmpty(raw.Connector.TokenURL, os.Getenv("CONNECTOR_TOKEN_URL")),
			ClientID:     firstNonEmpty(raw.Connector.ClientID, os.Getenv("CONNECTOR_CLIENT_ID")),
			ClientSecret: firstNonEmpty(raw.Connector.ClientSecret, os.Getenv("CONNECTOR_CLIENT_SECRET")),
		},
		LLM: LLMConfig{
			BaseURL:         firstNonEmpty(raw.LLM.BaseURL, envOrDefault("LLM_BASE_URL", "https://api.openai.com/v1")),
			APIKey:          firstNonEmpty(raw.LLM.APIKey, os.Getenv("LLM_API_KEY")),
			ClassifierModel: firstNonEmpty(raw.LLM.ClassifierModel, envOrDefault("LLM_CLASSIFIER_MODEL", "gpt-4o-mini")),
			DraftModel:      firstNonEmpty(raw.LLM.DraftModel, envOrDefault("LLM_DRAFT_MODEL", "gpt-4o-mini")),
		},
		DatabaseURL: firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
		RedisURL:    firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),

		ConfidenceThreshold:   raw.Triage.ConfidenceThreshold,
		DefaultMeetingMinutes: raw.Triage.DefaultMeetingMinutes,
		SlotMinutes:           raw.Triage.SlotMinutes,

		Port: envOrDefaultInt("PORT", 8080),
	}

	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.7
	}
	if cfg.DefaultMeetingMinutes <= 0 {
		cfg.DefaultMeetingMinutes = 30
	}
	if cfg.SlotMinutes <= 0 {
		cfg.SlotMinutes = 30
	}

	if cfg.Connector.BaseURL == "" {
		return nil, fmt.Errorf("connector base URL is required — set connector.base_url or CONNECTOR_BASE_URL")
	}
	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("LLM API key is required — set llm.api_key or LLM_API_KEY")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database URL is required — set database.url or DATABASE_URL")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
