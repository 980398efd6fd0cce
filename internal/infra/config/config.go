package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// encPrefix marks a value encrypted with EncryptValue.
const encPrefix = "enc:"

// Config is the root configuration.
type Config struct {
	Text       ProviderConfig   `yaml:"text"`
	Image      ImageConfig      `yaml:"image"`
	Chat       ChatConfig       `yaml:"chat"`
	Blobs      BlobConfig       `yaml:"blobs"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Logger     LoggerConfig     `yaml:"logger"`
	Tracer     TracerConfig     `yaml:"tracer"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ImageConfig holds the image generation backend settings.
type ImageConfig struct {
	Provider       ProviderConfig `yaml:"provider"`
	AnalysisModel  string         `yaml:"analysis_model,omitempty"`
	BackoffBase    time.Duration  `yaml:"backoff_base"`
	BackoffCeiling time.Duration  `yaml:"backoff_ceiling"`

	// AllowPrivateFetch lets image URLs point at loopback or private hosts.
	AllowPrivateFetch bool `yaml:"allow_private_fetch"`
}

// ChatConfig holds text chat settings.
type ChatConfig struct {
	SystemPrompt string        `yaml:"system_prompt"`
	MaxTokens    int           `yaml:"max_tokens"`
	Temperature  float64       `yaml:"temperature"`
	ChunkDelay   time.Duration `yaml:"chunk_delay"`
}

// BlobConfig holds settings for the ephemeral image store.
type BlobConfig struct {
	MaxBytes      int64         `yaml:"max_bytes"`
	TTL           time.Duration `yaml:"ttl"`
	SweepSchedule string        `yaml:"sweep_schedule"`
}

// ResilienceConfig groups outbound protection for the image backend.
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
}

// CircuitBreakerConfig holds circuit breaker settings for the image backend.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// RateLimitConfig is a token bucket. Zero RequestsPerSecond disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// PoolConfig holds HTTP connection pool settings.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig holds settings for a single remote model provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Region      string        `yaml:"region,omitempty"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
	SiteURL     string        `yaml:"site_url,omitempty"`
	SiteName    string        `yaml:"site_name,omitempty"`
}

// GatewayConfig holds the websocket gateway settings.
type GatewayConfig struct {
	Enabled bool            `yaml:"enabled"`
	Addr    string          `yaml:"addr"`
	Auth    AuthConfig      `yaml:"auth"`
	Limit   RateLimitConfig `yaml:"limit"`
}

// AuthConfig holds gateway authentication settings.
type AuthConfig struct {
	Type   string        `yaml:"type"` // "static" or ""
	Tokens []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig holds a single gateway auth token.
type TokenConfig struct {
	Token string `yaml:"token"`
	Name  string `yaml:"name"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	pool := PoolConfig{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Config{
		Text: ProviderConfig{
			Name:        "openrouter",
			Type:        "openai",
			BaseURL:     "https://openrouter.ai/api/v1",
			Model:       "openai/gpt-4o-mini",
			ConnTimeout: 10 * time.Second,
			RespTimeout: 60 * time.Second,
			Pool:        pool,
		},
		Image: ImageConfig{
			Provider: ProviderConfig{
				Name:        "openrouter",
				Type:        "openrouter",
				BaseURL:     "https://openrouter.ai/api/v1",
				Model:       "google/gemini-2.5-flash-image-preview:free",
				ConnTimeout: 10 * time.Second,
				RespTimeout: 120 * time.Second,
				Pool:        pool,
				SiteName:    "Nano Banana",
			},
			BackoffBase:    time.Second,
			BackoffCeiling: 5 * time.Second,
		},
		Chat: ChatConfig{
			SystemPrompt: "You are a helpful AI assistant. You provide accurate, helpful responses and admit when you don't know something.",
			MaxTokens:    2048,
			Temperature:  0.7,
			ChunkDelay:   50 * time.Millisecond,
		},
		Blobs: BlobConfig{
			MaxBytes:      5 * 1024 * 1024,
			TTL:           24 * time.Hour,
			SweepSchedule: "@every 1h",
		},
		Resilience: ResilienceConfig{
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Gateway: GatewayConfig{
			Addr:  "127.0.0.1:8787",
			Limit: RateLimitConfig{RequestsPerSecond: 5, Burst: 10},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		if err := validatePermissions(absPath); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("PIXELCHAT_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps PIXELCHAT_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PIXELCHAT_IMAGE_API_KEY"); v != "" {
		cfg.Image.Provider.APIKey = v
	}
	if v := os.Getenv("PIXELCHAT_IMAGE_MODEL"); v != "" {
		cfg.Image.Provider.Model = v
	}
	if v := os.Getenv("PIXELCHAT_IMAGE_BACKEND"); v != "" {
		cfg.Image.Provider.Type = v
	}
	if v := os.Getenv("PIXELCHAT_IMAGE_REGION"); v != "" {
		cfg.Image.Provider.Region = v
	}
	if v := os.Getenv("PIXELCHAT_IMAGE_ALLOW_PRIVATE_FETCH"); v == "true" {
		cfg.Image.AllowPrivateFetch = true
	}
	if v := os.Getenv("PIXELCHAT_TEXT_API_KEY"); v != "" {
		cfg.Text.APIKey = v
	}
	if v := os.Getenv("PIXELCHAT_TEXT_MODEL"); v != "" {
		cfg.Text.Model = v
	}
	// The text provider shares the image key unless configured separately.
	if cfg.Text.APIKey == "" && cfg.Text.BaseURL == cfg.Image.Provider.BaseURL {
		cfg.Text.APIKey = cfg.Image.Provider.APIKey
	}
	if v := os.Getenv("PIXELCHAT_CHAT_CHUNK_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Chat.ChunkDelay = d
		}
	}
	if v := os.Getenv("PIXELCHAT_BLOBS_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Blobs.MaxBytes = n
		}
	}
	if v := os.Getenv("PIXELCHAT_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("PIXELCHAT_GATEWAY_TOKENS"); v != "" {
		cfg.Gateway.Auth.Type = "static"
		cfg.Gateway.Auth.Tokens = nil
		for i, tok := range splitAndTrim(v, ",") {
			if tok == "" {
				continue
			}
			cfg.Gateway.Auth.Tokens = append(cfg.Gateway.Auth.Tokens, TokenConfig{
				Token: tok,
				Name:  "env-" + strconv.Itoa(i),
			})
		}
	}
	if v := os.Getenv("PIXELCHAT_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("PIXELCHAT_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("PIXELCHAT_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("PIXELCHAT_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("PIXELCHAT_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = v == "true"
	}
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// decryptSecrets finds "enc:..." values in API keys and gateway tokens and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	secrets := []struct {
		label string
		field *string
	}{
		{"text api_key", &cfg.Text.APIKey},
		{"image api_key", &cfg.Image.Provider.APIKey},
	}
	for i := range cfg.Gateway.Auth.Tokens {
		secrets = append(secrets, struct {
			label string
			field *string
		}{"gateway auth token " + cfg.Gateway.Auth.Tokens[i].Name, &cfg.Gateway.Auth.Tokens[i].Token})
	}

	for _, s := range secrets {
		if !strings.HasPrefix(*s.field, encPrefix) {
			continue
		}
		decrypted, err := DecryptValue(strings.TrimPrefix(*s.field, encPrefix), passphrase)
		if err != nil {
			return fmt.Errorf("%s: %w", s.label, err)
		}
		*s.field = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// hex(salt) ":" hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(sealed), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions rejects config files writable by group or others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
