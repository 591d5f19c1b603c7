package config

import (
	"github.com/knadh/koanf/v2"
)

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"server.host":            "0.0.0.0",
		"server.port":            8080,
		"server.public_base_url": "http://localhost:8080",

		"redis.url": "redis://localhost:6379/0",

		"jobs.ttl":                "168h",
		"jobs.idempotency_window": "10s",

		"worker.concurrency": 3,
		"worker.timeout":     "30m",

		"engine.binary":         "yt-dlp",
		"engine.default_format": "bestvideo+bestaudio/best",

		"storage.provider":          "local",
		"storage.local.root":        "storage",
		"storage.rclone.binary":     "rclone",
		"storage.rclone.serve_mode": "streaming",

		"token.ttl": "15m",

		"limits.rate_per_window": 60,
		"limits.rate_window":     "1m",

		"logging.level": "info",
	}

	for key, val := range defaults {
		k.Set(key, val)
	}
	return nil
}
