// Package config loads server settings from the environment, optionally
// overlaid by a YAML file named in SEKEYS_CONFIG.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	TransportSoftware = "software"
	TransportPKCS11   = "pkcs11"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	GRPCAddr     string `yaml:"grpc_addr"`
	AdminAddr    string `yaml:"admin_addr"`
	TLSCert      string `yaml:"tls_cert"`
	TLSKey       string `yaml:"tls_key"`
	AuthToken    string `yaml:"auth_token"`
	AuditBuffer  int    `yaml:"audit_buffer"`
	RateLimitRPS int    `yaml:"rate_limit_rps"`
	DataDir      string `yaml:"data_dir"`
	SealSecret   string `yaml:"seal_secret"`
	Transport    string `yaml:"transport"`
	LogLevel     string `yaml:"log_level"`

	PKCS11 PKCS11 `yaml:"pkcs11"`
}

// PKCS11 selects a token. The PIN is never stored in the file; PINEnv names
// the environment variable holding it.
type PKCS11 struct {
	Library string `yaml:"library"`
	Token   string `yaml:"token"`
	PINEnv  string `yaml:"pin_env"`
}

// Load reads the environment, then applies the YAML file named by
// SEKEYS_CONFIG on top. File values win over environment values.
func Load() (Config, error) {
	cfg := Config{
		GRPCAddr:     envOr("SEKEYS_GRPC_ADDR", ":50051"),
		AdminAddr:    envOr("SEKEYS_ADMIN_ADDR", ":9090"),
		TLSCert:      os.Getenv("SEKEYS_TLS_CERT"),
		TLSKey:       os.Getenv("SEKEYS_TLS_KEY"),
		AuthToken:    envOr("SEKEYS_AUTH_TOKEN", "dev-token"),
		AuditBuffer:  envInt("SEKEYS_AUDIT_BUFFER", 1024),
		RateLimitRPS: envInt("SEKEYS_RATE_LIMIT_RPS", 100),
		DataDir:      os.Getenv("SEKEYS_DATA_DIR"),
		SealSecret:   os.Getenv("SEKEYS_SEAL_SECRET"),
		Transport:    envOr("SEKEYS_TRANSPORT", TransportSoftware),
		LogLevel:     envOr("SEKEYS_LOG_LEVEL", "info"),
		PKCS11: PKCS11{
			Library: os.Getenv("SEKEYS_PKCS11_LIB"),
			Token:   os.Getenv("SEKEYS_PKCS11_TOKEN"),
			PINEnv:  envOr("SEKEYS_PKCS11_PIN_ENV", "SEKEYS_PKCS11_PIN"),
		},
	}

	if path := os.Getenv("SEKEYS_CONFIG"); path != "" {
		if err := cfg.overlay(path); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

func (c *Config) overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.GRPCAddr == "" {
		errs = append(errs, fmt.Errorf("%w: grpc address is empty", ErrInvalid))
	}
	if c.AuthToken == "" {
		errs = append(errs, fmt.Errorf("%w: auth token is empty", ErrInvalid))
	}
	if c.AuditBuffer <= 0 {
		errs = append(errs, fmt.Errorf("%w: audit buffer must be positive", ErrInvalid))
	}
	if c.RateLimitRPS <= 0 {
		errs = append(errs, fmt.Errorf("%w: rate limit must be positive", ErrInvalid))
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		errs = append(errs, fmt.Errorf("%w: tls cert and key must be set together", ErrInvalid))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	switch c.Transport {
	case TransportSoftware:
		if c.DataDir != "" && c.SealSecret == "" {
			errs = append(errs, fmt.Errorf("%w: data dir requires a seal secret", ErrInvalid))
		}
	case TransportPKCS11:
		if c.PKCS11.Library == "" {
			errs = append(errs, fmt.Errorf("%w: pkcs11 transport requires a module library", ErrInvalid))
		}
		if c.PKCS11.Token == "" {
			errs = append(errs, fmt.Errorf("%w: pkcs11 transport requires a token label", ErrInvalid))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: unknown transport %q", ErrInvalid, c.Transport))
	}
	return errors.Join(errs...)
}

// PKCS11PIN reads the token PIN from the configured environment variable.
func (c Config) PKCS11PIN() string {
	return os.Getenv(c.PKCS11.PINEnv)
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalid, s)
	}
	return level, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
