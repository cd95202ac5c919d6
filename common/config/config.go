package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/openwiki/flaggedrevs/common/tags"
)

// InclusionPolicy selects which version of a transcluded template/file a
// stable rendering uses
type InclusionPolicy string

const (
	// IncludesCurrent: always the live version; pending inclusion changes
	// are impossible by definition
	IncludesCurrent InclusionPolicy = "current"
	// IncludesStable: newest of (target's stable version, version captured
	// at review time)
	IncludesStable InclusionPolicy = "stable"
	// IncludesFreeze: exactly the version captured at review time
	IncludesFreeze InclusionPolicy = "freeze"
)

// DepsMode selects when stable-only dependency tracking rows are refreshed
type DepsMode string

const (
	DepsImmediate DepsMode = "immediate"
	DepsDeferred  DepsMode = "deferred"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
	Review    ReviewConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
	// Local pprof listener; 0 disables it
	PprofPort int
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// CacheConfig holds stable-parse cache settings
type CacheConfig struct {
	Enabled    bool
	DefaultTTL time.Duration
}

// RateLimitConfig holds submission throttling settings
type RateLimitConfig struct {
	Enabled       bool
	GlobalLimit   int64
	ReviewerLimit int64
	WindowSeconds int
}

// ReviewConfig holds the review-engine site policy
type ReviewConfig struct {
	// Raw tag dimension spec, parsed into the tag model at load time.
	// Format: name:levels:qualityMin:pristineMin[:maxAutoReview],...
	TagSpec string
	// Raw per-tag restriction spec: tag:right:maxLevel;...
	TagRestrictionSpec string

	// Which version of transclusions the stable rendering uses
	Inclusions InclusionPolicy
	// Protection mode: pages must be explicitly configured (override set)
	// to have a stable version at all
	ProtectionMode bool
	// Whether the stable version is the default page view site-wide
	StableDefault bool
	// Namespaces subject to review
	ReviewNamespaces []int
	// Site default tier precedence for stable resolution
	// (latest, quality or pristine)
	Precedence string
	// CEL expression deciding whether an edit is auto-reviewed
	AutoReviewPolicy string
	// When dependency tracking refresh runs
	DepsMode DepsMode
	// Advisory "who is reviewing this" entry lifetime
	ActivityTTL time.Duration
	// Wiki core internal API; empty disables revert hand-off
	WikiBaseURL string

	// Parsed tag model config (filled by Load)
	Tags map[string]tags.TagConfig
}

// Load loads configuration from environment variables.
// A malformed tag spec is a fatal configuration error.
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
			PprofPort:   getEnvInt("PPROF_PORT", 0),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "flaggedrevs"),
			User:        getEnv("POSTGRES_USER", "flaggedrevs"),
			Password:    getEnv("POSTGRES_PASSWORD", "flaggedrevs"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 10),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			Enabled:    getEnvBool("CACHE_ENABLED", true),
			DefaultTTL: getEnvDuration("CACHE_DEFAULT_TTL", 1*time.Hour),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getEnvBool("RATE_LIMIT_ENABLED", true),
			GlobalLimit:   int64(getEnvInt("RATE_LIMIT_GLOBAL", 600)),
			ReviewerLimit: int64(getEnvInt("RATE_LIMIT_REVIEWER", 30)),
			WindowSeconds: getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60),
		},
		Review: ReviewConfig{
			TagSpec:            getEnv("FR_TAGS", "accuracy:3:2:3:2"),
			TagRestrictionSpec: getEnv("FR_TAG_RESTRICTIONS", ""),
			Inclusions:         InclusionPolicy(getEnv("FR_INCLUSIONS", string(IncludesStable))),
			ProtectionMode:     getEnvBool("FR_PROTECTION_MODE", false),
			StableDefault:      getEnvBool("FR_STABLE_DEFAULT", true),
			ReviewNamespaces:   getEnvInts("FR_REVIEW_NAMESPACES", []int{0}),
			Precedence:         getEnv("FR_PRECEDENCE", "quality"),
			AutoReviewPolicy:   getEnv("FR_AUTOREVIEW_POLICY", `"autoreview" in user.rights`),
			DepsMode:           DepsMode(getEnv("FR_DEPS_MODE", string(DepsImmediate))),
			ActivityTTL:        getEnvDuration("FR_ACTIVITY_TTL", 20*time.Minute),
			WikiBaseURL:        getEnv("FR_WIKI_BASE_URL", ""),
		},
	}

	var err error
	cfg.Review.Tags, err = parseTagSpec(cfg.Review.TagSpec, cfg.Review.TagRestrictionSpec)
	if err != nil {
		return nil, fmt.Errorf("parse FR_TAGS: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	switch c.Review.Inclusions {
	case IncludesCurrent, IncludesStable, IncludesFreeze:
	default:
		return fmt.Errorf("invalid inclusion policy: %q", c.Review.Inclusions)
	}

	switch c.Review.Precedence {
	case "latest", "quality", "pristine":
	default:
		return fmt.Errorf("invalid precedence: %q", c.Review.Precedence)
	}

	switch c.Review.DepsMode {
	case DepsImmediate, DepsDeferred:
	default:
		return fmt.Errorf("invalid deps mode: %q", c.Review.DepsMode)
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// InReviewNamespace reports whether ns is subject to review
func (c *Config) InReviewNamespace(ns int) bool {
	for _, n := range c.Review.ReviewNamespaces {
		if n == ns {
			return true
		}
	}
	return false
}

// parseTagSpec parses "name:levels:qualityMin:pristineMin[:maxAutoReview]"
// entries separated by commas, plus "tag:right:maxLevel" restriction
// entries separated by semicolons. Range/monotonicity validation is the
// tag model's job; this only enforces the syntax.
func parseTagSpec(spec, restrictions string) (map[string]tags.TagConfig, error) {
	out := make(map[string]tags.TagConfig)
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 4 && len(parts) != 5 {
			return nil, fmt.Errorf("malformed tag entry %q", entry)
		}
		nums := make([]int, 0, len(parts)-1)
		for _, p := range parts[1:] {
			n, err := strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("malformed tag entry %q: %w", entry, err)
			}
			nums = append(nums, n)
		}
		tc := tags.TagConfig{
			Levels:      nums[0],
			QualityMin:  nums[1],
			PristineMin: nums[2],
		}
		if len(nums) == 4 {
			tc.MaxAutoReview = nums[3]
		} else {
			tc.MaxAutoReview = tc.Levels
		}
		out[parts[0]] = tc
	}

	for _, entry := range strings.Split(restrictions, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("malformed restriction entry %q", entry)
		}
		tc, ok := out[parts[0]]
		if !ok {
			return nil, fmt.Errorf("restriction for unknown tag %q", parts[0])
		}
		level, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, fmt.Errorf("malformed restriction entry %q: %w", entry, err)
		}
		if tc.Restrictions == nil {
			tc.Restrictions = make(map[string]int)
		}
		tc.Restrictions[parts[1]] = level
		out[parts[0]] = tc
	}

	return out, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvInts(key string, defaultValue []int) []int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []int
	for _, p := range strings.Split(value, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return defaultValue
		}
		out = append(out, n)
	}
	return out
}
