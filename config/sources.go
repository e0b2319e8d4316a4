package config

import (
	"fmt"
	"strings"
	"time"
)

// SourcesConfig configures search providers, pacing and outbound resources.
type SourcesConfig struct {
	// Engine backs the social platforms (site-restricted web search):
	// serper or brave.
	Engine      string                    `mapstructure:"engine"`
	Serper      ProviderConfig            `mapstructure:"serper"`
	Brave       ProviderConfig            `mapstructure:"brave"`
	NewsAPI     ProviderConfig            `mapstructure:"newsapi"`
	Endpoints   map[string]ProviderConfig `mapstructure:"endpoints"`
	Rates       map[string]float64        `mapstructure:"rates"`
	DefaultRate float64                   `mapstructure:"default_rate"`
	Burst       int                       `mapstructure:"burst"`
	HTTPTimeout time.Duration             `mapstructure:"http_timeout"`
	Priors      map[string]float64        `mapstructure:"priors"`
	Resources   []ResourceConfig          `mapstructure:"resources"`
}

// ProviderConfig is the credential and address of one search backend.
type ProviderConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
}

// ResourceConfig is one proxy or credential in the outbound pool.
type ResourceConfig struct {
	ID        string  `mapstructure:"id"`
	Proxy     string  `mapstructure:"proxy"`
	Cookie    string  `mapstructure:"cookie"`
	UserAgent string  `mapstructure:"user_agent"`
	Score     float64 `mapstructure:"score"`
}

// Normalize lowercases platform keys and clamps priors to [0,1].
func (c SourcesConfig) Normalize() SourcesConfig {
	cfg := c
	cfg.Engine = strings.ToLower(strings.TrimSpace(cfg.Engine))
	if cfg.DefaultRate <= 0 {
		cfg.DefaultRate = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	priors := make(map[string]float64, len(cfg.Priors))
	for platform, value := range cfg.Priors {
		key := strings.TrimSpace(strings.ToLower(platform))
		if key == "" {
			continue
		}
		if value < 0 {
			value = 0
		}
		if value > 1 {
			value = 1
		}
		priors[key] = value
	}
	cfg.Priors = priors

	rates := make(map[string]float64, len(cfg.Rates))
	for class, value := range cfg.Rates {
		key := strings.TrimSpace(strings.ToLower(class))
		if key == "" || value <= 0 {
			continue
		}
		rates[key] = value
	}
	cfg.Rates = rates

	endpoints := make(map[string]ProviderConfig, len(cfg.Endpoints))
	for platform, p := range cfg.Endpoints {
		key := strings.TrimSpace(strings.ToLower(platform))
		if key == "" {
			continue
		}
		endpoints[key] = p
	}
	cfg.Endpoints = endpoints

	for i := range cfg.Resources {
		if cfg.Resources[i].ID == "" {
			cfg.Resources[i].ID = fmt.Sprintf("res-%d", i+1)
		}
		if cfg.Resources[i].Score <= 0 {
			cfg.Resources[i].Score = 1
		}
	}
	return cfg
}

// Validate ensures configuration is internally consistent.
func (c SourcesConfig) Validate() error {
	switch c.Engine {
	case "serper", "brave":
	default:
		return fmt.Errorf("sources.engine must be serper or brave, got %q", c.Engine)
	}
	for platform, p := range c.Endpoints {
		if strings.TrimSpace(p.Endpoint) == "" {
			return fmt.Errorf("sources.endpoints.%s.endpoint required", platform)
		}
	}
	if c.HTTPTimeout < 0 {
		return fmt.Errorf("sources.http_timeout cannot be negative")
	}
	return nil
}
