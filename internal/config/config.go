package config

import (
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Auth    AuthConfig    `koanf:"auth"`
	Redis   RedisConfig   `koanf:"redis"`
	Jobs    JobsConfig    `koanf:"jobs"`
	Worker  WorkerConfig  `koanf:"worker"`
	Engine  EngineConfig  `koanf:"engine"`
	Storage StorageConfig `koanf:"storage"`
	Token   TokenConfig   `koanf:"token"`
	Limits  LimitsConfig  `koanf:"limits"`
	Logging LoggingConfig `koanf:"logging"`
}

type ServerConfig struct {
	Host          string `koanf:"host"`
	Port          int    `koanf:"port"`
	PublicBaseURL string `koanf:"public_base_url"`
}

type AuthConfig struct {
	APIKey string `koanf:"api_key"`
}

type RedisConfig struct {
	URL string `koanf:"url"`
}

type JobsConfig struct {
	TTL               string   `koanf:"ttl"`
	IdempotencyWindow string   `koanf:"idempotency_window"`
	AllowedDomains    []string `koanf:"allowed_domains"`
}

type WorkerConfig struct {
	Concurrency int    `koanf:"concurrency"`
	Timeout     string `koanf:"timeout"`
}

type EngineConfig struct {
	Binary        string `koanf:"binary"`
	DefaultFormat string `koanf:"default_format"`
}

type StorageConfig struct {
	Provider string              `koanf:"provider"`
	Local    LocalStorageConfig  `koanf:"local"`
	Rclone   RcloneStorageConfig `koanf:"rclone"`
}

type LocalStorageConfig struct {
	Root string `koanf:"root"`
}

type RcloneStorageConfig struct {
	Remote    string `koanf:"remote"`
	BasePath  string `koanf:"base_path"`
	Binary    string `koanf:"binary"`
	ServeMode string `koanf:"serve_mode"`
}

type TokenConfig struct {
	Secret string `koanf:"secret"`
	TTL    string `koanf:"ttl"`
}

type LimitsConfig struct {
	RatePerWindow int    `koanf:"rate_per_window"`
	RateWindow    string `koanf:"rate_window"`
}

type LoggingConfig struct {
	Level string `koanf:"level"`
}

// Load reads config from TOML file (if provided) then overlays env vars.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	// 1. Load defaults
	if err := loadDefaults(k); err != nil {
		return nil, err
	}

	// 2. Load TOML config file if provided
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, err
		}
	}

	// 3. Load env vars: YTDLNIS_SERVER_PORT -> server.port
	// Only set env vars that have non-empty values to avoid overriding TOML config.
	if err := k.Load(env.ProviderWithValue("YTDLNIS_", ".", func(key, value string) (string, interface{}) {
		if value == "" {
			return "", nil
		}
		mapped := strings.Replace(
			strings.ToLower(strings.TrimPrefix(key, "YTDLNIS_")),
			"_", ".", -1,
		)
		return mapped, value
	}), nil); err != nil {
		return nil, err
	}

	// 4. Multi-word keys that the generic underscore mapping cannot reach.
	overrides := map[string]string{
		"YTDLNIS_AUTH_API_KEY":           "auth.api_key",
		"YTDLNIS_REDIS_URL":              "redis.url",
		"YTDLNIS_SERVER_PUBLIC_BASE_URL": "server.public_base_url",
		"YTDLNIS_TOKEN_SECRET":           "token.secret",
		"YTDLNIS_TOKEN_TTL":              "token.ttl",
		"YTDLNIS_STORAGE_LOCAL_ROOT":     "storage.local.root",
	}
	for envKey, cfgKey := range overrides {
		if v := os.Getenv(envKey); v != "" {
			k.Set(cfgKey, v)
		}
	}
	if v := os.Getenv("YTDLNIS_JOBS_ALLOWED_DOMAINS"); v != "" {
		var domains []string
		for _, d := range strings.Split(v, ",") {
			if d = strings.TrimSpace(strings.ToLower(d)); d != "" {
				domains = append(domains, d)
			}
		}
		k.Set("jobs.allowed_domains", domains)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
