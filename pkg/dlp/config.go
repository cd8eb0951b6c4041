package dlp

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Rule struct {
	Name    string `yaml:"name" json:"name"`
	Type    string `yaml:"type" json:"type"`
	Pattern string `yaml:"pattern" json:"pattern"`
	Mask    string `yaml:"mask" json:"mask"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

type RulesConfig struct {
	Rules []Rule `yaml:"rules" json:"rules"`
}

// LoadRules reads a YAML rule file. An empty path yields DefaultRules.
func LoadRules(path string) (RulesConfig, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return RulesConfig{}, fmt.Errorf("read dlp rules: %w", err)
	}

	var cfg RulesConfig
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return RulesConfig{}, fmt.Errorf("parse dlp rules: %w", err)
	}
	if len(cfg.Rules) == 0 {
		return RulesConfig{}, errors.New("no DLP rules configured")
	}
	return cfg, nil
}

// DefaultRules masks identifiers patients tend to type into free text.
func DefaultRules() RulesConfig {
	return RulesConfig{Rules: []Rule{
		{Name: "Thai national ID", Type: "national_id", Pattern: `\b\d-?\d{4}-?\d{5}-?\d{2}-?\d\b`, Mask: "[NATIONAL_ID]", Enabled: true},
		{Name: "Email", Type: "email", Pattern: `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`, Mask: "[EMAIL]", Enabled: true},
		{Name: "Phone", Type: "phone", Pattern: `(?:\+66|\b0)\d{1,2}[- ]?\d{3}[- ]?\d{4}\b`, Mask: "[PHONE]", Enabled: true},
		{Name: "Date", Type: "date", Pattern: `\b\d{1,2}/\d{1,2}/\d{4}\b`, Mask: "[DATE]", Enabled: true},
	}}
}
