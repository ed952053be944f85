package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/avelain/credential-service/internal/core/domain"
	"github.com/avelain/credential-service/internal/infra/security"
)

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
	Auth      AuthSettings      `mapstructure:"auth"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures the directory cache connection.
type RedisSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	TLSEnabled        bool          `mapstructure:"tls_enabled"`
	DirectoryPrefix   string        `mapstructure:"directory_prefix"`
	DirectoryCacheTTL time.Duration `mapstructure:"directory_cache_ttl"`
}

// KafkaSettings configures the lifecycle event producer.
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
}

type TelemetrySettings struct {
	MetricsNamespace string `mapstructure:"metrics_namespace"`
}

// AuthSettings carries the credential-encoding defaults and the password
// policies. It is immutable after Load; components receive it by value.
type AuthSettings struct {
	Algorithm              string                   `mapstructure:"algorithm"`
	Digest                 string                   `mapstructure:"digest"`
	Encryption             string                   `mapstructure:"encryption"`
	Stretching             bool                     `mapstructure:"stretching"`
	RequirePassword        bool                     `mapstructure:"require_password"`
	ResetPasswordExpiresIn string                   `mapstructure:"reset_password_expires_in"`
	PasswordPolicies       []PasswordPolicySettings `mapstructure:"password_policies"`
}

// PasswordPolicySettings is the raw configuration form of a password policy.
// AppliesTo is either the string "*" or a map with users/profiles/roles lists.
type PasswordPolicySettings struct {
	AppliesTo                      any    `mapstructure:"applies_to"`
	ExpiresAfter                   string `mapstructure:"expires_after"`
	ForbidLoginInPassword          bool   `mapstructure:"forbid_login_in_password"`
	ForbidReusedPasswordCount      int    `mapstructure:"forbid_reused_password_count"`
	MustChangePasswordIfSetByAdmin bool   `mapstructure:"must_change_password_if_set_by_admin"`
	PasswordRegex                  string `mapstructure:"password_regex"`
	MinPasswordStrength            int    `mapstructure:"min_password_strength"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("CRED")

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "credential-service")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "credentials")
	v.SetDefault("postgres.password", "credentials")
	v.SetDefault("postgres.database", "credentials")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.directory_prefix", "cred:directory")
	v.SetDefault("redis.directory_cache_ttl", "5m")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "credentials")

	v.SetDefault("telemetry.metrics_namespace", "credential_service")

	// Encoding defaults mirror the strongest supported descriptor.
	v.SetDefault("auth.algorithm", "sha512")
	v.SetDefault("auth.digest", "hex")
	v.SetDefault("auth.encryption", "hmac")
	v.SetDefault("auth.stretching", true)
	v.SetDefault("auth.require_password", false)
	v.SetDefault("auth.reset_password_expires_in", "2h")
}

// Validate enforces the recognized-option rules on the loaded configuration.
func (c *AppConfig) Validate() error {
	auth := c.Auth

	if strings.TrimSpace(auth.Algorithm) == "" {
		return fmt.Errorf("config: the 'algorithm' attribute is required")
	}
	if !security.SupportedAlgorithm(auth.Algorithm) {
		return fmt.Errorf("config: the 'algorithm' attribute must be a supported algorithm")
	}
	if auth.Digest != "hex" {
		return fmt.Errorf("config: the 'digest' attribute must be 'hex'")
	}

	switch domain.EncryptionMode(auth.Encryption) {
	case domain.EncryptionModeHash:
		if auth.Stretching {
			return fmt.Errorf("config: enabling stretching with encryption 'hash' is not possible")
		}
	case domain.EncryptionModeHMAC:
	default:
		return fmt.Errorf("config: the 'encryption' attribute must be either 'hash' or 'hmac'")
	}

	if _, err := auth.ResetPasswordExpiry(); err != nil {
		return err
	}

	if _, err := auth.Policies(); err != nil {
		return err
	}

	return nil
}

// Descriptor returns the default encoding descriptor new secrets use.
func (a AuthSettings) Descriptor() domain.EncodingDescriptor {
	return domain.EncodingDescriptor{
		Algorithm:  a.Algorithm,
		Stretching: a.Stretching,
		Mode:       domain.EncryptionMode(a.Encryption),
	}
}

// ResetPasswordExpiry parses the reset-token lifetime. The literal "-1"
// disables expiry; every other value must parse to a positive duration.
func (a AuthSettings) ResetPasswordExpiry() (time.Duration, error) {
	raw := strings.TrimSpace(a.ResetPasswordExpiresIn)
	if raw == "" {
		return 0, fmt.Errorf("config: the 'reset_password_expires_in' attribute is required")
	}
	if raw == "-1" {
		return security.NoTokenExpiry, nil
	}

	d, err := parseLongDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: invalid 'reset_password_expires_in' value: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: 'reset_password_expires_in' must be positive or -1")
	}
	return d, nil
}

// Policies normalizes the raw policy settings into domain policies.
func (a AuthSettings) Policies() ([]domain.PasswordPolicy, error) {
	policies := make([]domain.PasswordPolicy, 0, len(a.PasswordPolicies))
	for i, raw := range a.PasswordPolicies {
		policy, err := raw.Policy()
		if err != nil {
			return nil, fmt.Errorf("config: password policy %d: %w", i, err)
		}
		policies = append(policies, policy)
	}
	return policies, nil
}

// Policy validates and converts a single raw policy.
func (s PasswordPolicySettings) Policy() (domain.PasswordPolicy, error) {
	policy := domain.PasswordPolicy{
		ForbidLoginInPassword:          s.ForbidLoginInPassword,
		ForbidReusedPasswordCount:      s.ForbidReusedPasswordCount,
		MustChangePasswordIfSetByAdmin: s.MustChangePasswordIfSetByAdmin,
		PasswordRegex:                  s.PasswordRegex,
		MinPasswordStrength:            s.MinPasswordStrength,
	}

	if s.ForbidReusedPasswordCount < 0 {
		return domain.PasswordPolicy{}, fmt.Errorf("'forbid_reused_password_count' must not be negative")
	}
	if s.MinPasswordStrength < 0 || s.MinPasswordStrength > 4 {
		return domain.PasswordPolicy{}, fmt.Errorf("'min_password_strength' must be between 0 and 4")
	}

	if s.ExpiresAfter != "" {
		d, err := parseLongDuration(s.ExpiresAfter)
		if err != nil {
			return domain.PasswordPolicy{}, fmt.Errorf("invalid 'expires_after' value: %w", err)
		}
		if d <= 0 {
			return domain.PasswordPolicy{}, fmt.Errorf("'expires_after' must be positive")
		}
		policy.ExpiresAfter = d
	}

	switch target := s.AppliesTo.(type) {
	case string:
		if target != "*" {
			return domain.PasswordPolicy{}, fmt.Errorf("'applies_to' must be '*' or a selector object")
		}
		policy.AppliesToAll = true
	case map[string]any:
		selector, err := parseSelector(target)
		if err != nil {
			return domain.PasswordPolicy{}, err
		}
		policy.AppliesTo = selector
	case map[any]any:
		normalized := make(map[string]any, len(target))
		for key, value := range target {
			name, ok := key.(string)
			if !ok {
				return domain.PasswordPolicy{}, fmt.Errorf("'applies_to' keys must be strings")
			}
			normalized[name] = value
		}
		selector, err := parseSelector(normalized)
		if err != nil {
			return domain.PasswordPolicy{}, err
		}
		policy.AppliesTo = selector
	default:
		return domain.PasswordPolicy{}, fmt.Errorf("'applies_to' must be '*' or a selector object")
	}

	return policy, nil
}

func parseSelector(raw map[string]any) (domain.PolicySelector, error) {
	var selector domain.PolicySelector

	for key, value := range raw {
		list, err := toStringSlice(value)
		if err != nil {
			return domain.PolicySelector{}, fmt.Errorf("'applies_to.%s' must be an array of strings", key)
		}

		switch key {
		case "users":
			selector.Users = list
		case "profiles":
			selector.Profiles = list
		case "roles":
			selector.Roles = list
		default:
			return domain.PolicySelector{}, fmt.Errorf("'applies_to' has an unknown field %q", key)
		}
	}

	if selector.Empty() {
		return domain.PolicySelector{}, fmt.Errorf("'applies_to' selector must list at least one user, profile, or role")
	}

	return selector, nil
}

func toStringSlice(value any) ([]string, error) {
	switch list := value.(type) {
	case []string:
		if len(list) == 0 {
			return nil, fmt.Errorf("empty list")
		}
		return list, nil
	case []any:
		if len(list) == 0 {
			return nil, fmt.Errorf("empty list")
		}
		result := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("non-string entry")
			}
			result = append(result, s)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("not a list")
	}
}

// parseLongDuration accepts Go duration syntax plus day ("d") and week ("w")
// suffixes, which policy lifetimes are commonly expressed in.
func parseLongDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)

	if len(raw) > 1 {
		suffix := raw[len(raw)-1]
		if suffix == 'd' || suffix == 'w' {
			value, err := strconv.ParseFloat(raw[:len(raw)-1], 64)
			if err != nil {
				return 0, fmt.Errorf("parse duration %q", raw)
			}
			unit := 24 * time.Hour
			if suffix == 'w' {
				unit = 7 * 24 * time.Hour
			}
			return time.Duration(value * float64(unit)), nil
		}
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", raw, err)
	}
	return d, nil
}
