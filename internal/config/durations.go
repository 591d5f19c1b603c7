package config

import "time"

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func (c *Config) JobTTL() time.Duration {
	return parseDuration(c.Jobs.TTL, 168*time.Hour)
}

func (c *Config) IdempotencyWindow() time.Duration {
	return parseDuration(c.Jobs.IdempotencyWindow, 10*time.Second)
}

func (c *Config) WorkerTimeout() time.Duration {
	return parseDuration(c.Worker.Timeout, 30*time.Minute)
}

func (c *Config) TokenTTL() time.Duration {
	return parseDuration(c.Token.TTL, 15*time.Minute)
}

func (c *Config) RateWindow() time.Duration {
	return parseDuration(c.Limits.RateWindow, time.Minute)
}
