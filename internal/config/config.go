// Package config loads and validates the engine configuration from YAML.
// Validation is fail-fast: a malformed policy table or weight set must stop
// the process at startup, not silently fall back at decision time.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/trustengine/backend/internal/core"
	"github.com/trustengine/backend/internal/scoring"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	Policy     PolicyConfig     `yaml:"policy"`
	Challenge  ChallengeConfig  `yaml:"challenge"`
	Audit      AuditConfig      `yaml:"audit"`
	Events     EventsConfig     `yaml:"events"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Sessions   SessionsConfig   `yaml:"sessions"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

// ClassifierConfig selects the threat classifier backend. "rules" uses the
// built-in decision list; "remote" delegates to an external scoring service.
type ClassifierConfig struct {
	Backend    string           `yaml:"backend"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Remote     RemoteConfig     `yaml:"remote"`
}

type ThresholdsConfig struct {
	HighMean   float64 `yaml:"high_mean"`
	HighMax    float64 `yaml:"high_max"`
	MediumMean float64 `yaml:"medium_mean"`
}

type RemoteConfig struct {
	URL           string `yaml:"url"`
	SigningSecret string `yaml:"signing_secret"`
	TimeoutSecs   int    `yaml:"timeout_seconds"`
}

// ScoringConfig overrides the STRIDE category weights. Unlisted categories
// keep their defaults.
type ScoringConfig struct {
	CategoryWeights map[string]float64 `yaml:"category_weights"`
}

type PolicyConfig struct {
	Rules []PolicyRuleConfig `yaml:"rules"`
}

type PolicyRuleConfig struct {
	MinTrustScore float64 `yaml:"min_trust_score"`
	MfaLevel      string  `yaml:"mfa_level"`
	Description   string  `yaml:"description"`
}

type ChallengeConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
}

// AuditConfig selects the audit sink: "supabase", "postgres", or "none".
type AuditConfig struct {
	Sink        string `yaml:"sink"`
	PostgresURL string `yaml:"postgres_url"`
}

type EventsConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

type RateLimitConfig struct {
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Enabled           bool `yaml:"enabled"`
}

type SessionsConfig struct {
	SweepIntervalSecs int `yaml:"sweep_interval_seconds"`
	MaxIdleSecs       int `yaml:"max_idle_seconds"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server:     ServerConfig{Port: "8080", Env: "development"},
		Classifier: ClassifierConfig{Backend: "rules", Thresholds: ThresholdsConfig{HighMean: 80, HighMax: 90, MediumMean: 60}},
		Policy: PolicyConfig{Rules: []PolicyRuleConfig{
			{MinTrustScore: 80, MfaLevel: "PASSWORD_ONLY", Description: "High trust - Password only"},
			{MinTrustScore: 60, MfaLevel: "PASSWORD_OTP", Description: "Medium trust - Password + OTP"},
			{MinTrustScore: 40, MfaLevel: "PASSWORD_OTP_DEVICE", Description: "Low trust - Password + OTP + Device"},
			{MinTrustScore: 0, MfaLevel: "BLOCKED", Description: "Very low trust - Access blocked"},
		}},
		Challenge: ChallengeConfig{TTLSeconds: 300},
		Audit:     AuditConfig{Sink: "none"},
		RateLimit: RateLimitConfig{RequestsPerMinute: 120, Enabled: true},
		Sessions:  SessionsConfig{SweepIntervalSecs: 300, MaxIdleSecs: 3600},
	}
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := Default()
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that would produce unsound decisions.
func (c *Config) Validate() error {
	switch c.Classifier.Backend {
	case "rules":
	case "remote":
		if c.Classifier.Remote.URL == "" {
			return fmt.Errorf("classifier.remote.url is required for the remote backend")
		}
	default:
		return fmt.Errorf("unknown classifier backend %q", c.Classifier.Backend)
	}

	for name, weight := range c.Scoring.CategoryWeights {
		if _, err := ParseCategory(name); err != nil {
			return fmt.Errorf("scoring.category_weights: %w", err)
		}
		if weight <= 0 {
			return fmt.Errorf("scoring.category_weights[%s]: weight must be positive, got %v", name, weight)
		}
	}

	if len(c.Policy.Rules) == 0 {
		return fmt.Errorf("policy.rules must not be empty")
	}
	for i, rule := range c.Policy.Rules {
		if rule.MinTrustScore < 0 || rule.MinTrustScore > 100 {
			return fmt.Errorf("policy.rules[%d]: min_trust_score %v outside [0, 100]", i, rule.MinTrustScore)
		}
		if _, err := ParseLevel(rule.MfaLevel); err != nil {
			return fmt.Errorf("policy.rules[%d]: %w", i, err)
		}
	}

	if c.Challenge.TTLSeconds < 0 {
		return fmt.Errorf("challenge.ttl_seconds must not be negative")
	}

	switch c.Audit.Sink {
	case "", "none", "supabase":
	case "postgres":
		if c.Audit.PostgresURL == "" && os.Getenv("DATABASE_URL") == "" {
			return fmt.Errorf("audit.postgres_url or DATABASE_URL is required for the postgres sink")
		}
	default:
		return fmt.Errorf("unknown audit sink %q", c.Audit.Sink)
	}

	return nil
}

// ChallengeTTL returns the configured challenge lifetime.
func (c *Config) ChallengeTTL() time.Duration {
	return time.Duration(c.Challenge.TTLSeconds) * time.Second
}

// PolicyRules converts the configured table into domain rules.
func (c *Config) PolicyRules() ([]core.PolicyRule, error) {
	rules := make([]core.PolicyRule, 0, len(c.Policy.Rules))
	for _, rc := range c.Policy.Rules {
		level, err := ParseLevel(rc.MfaLevel)
		if err != nil {
			return nil, err
		}
		rules = append(rules, core.PolicyRule{
			MinTrustScore: rc.MinTrustScore,
			Level:         level,
			Description:   rc.Description,
		})
	}
	return rules, nil
}

// CategoryWeights converts the configured overrides into a full weight map.
// Overrides are merged over the defaults so a partial table cannot silently
// weaken the penalty for an unlisted category.
func (c *Config) CategoryWeights() (map[core.StrideCategory]float64, error) {
	if len(c.Scoring.CategoryWeights) == 0 {
		return nil, nil
	}
	weights := make(map[core.StrideCategory]float64, len(scoring.DefaultCategoryWeights))
	for category, weight := range scoring.DefaultCategoryWeights {
		weights[category] = weight
	}
	for name, weight := range c.Scoring.CategoryWeights {
		category, err := ParseCategory(name)
		if err != nil {
			return nil, err
		}
		weights[category] = weight
	}
	return weights, nil
}

// ParseLevel maps a config-level MFA name to its domain value.
func ParseLevel(name string) (core.MfaLevel, error) {
	for _, level := range []core.MfaLevel{
		core.LevelPasswordOnly, core.LevelPasswordOTP, core.LevelPasswordOTPDevice, core.LevelBlocked,
	} {
		if level.String() == name {
			return level, nil
		}
	}
	return 0, fmt.Errorf("unknown mfa_level %q", name)
}

// ParseCategory maps a config category name to its STRIDE value.
func ParseCategory(name string) (core.StrideCategory, error) {
	for _, category := range core.Categories {
		if string(category) == name {
			return category, nil
		}
	}
	return "", fmt.Errorf("unknown STRIDE category %q", name)
}
