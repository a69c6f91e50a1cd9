package application

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config defines recovery scheduler configuration.
type Config struct {
	IntervalMinutes int    `yaml:"interval_minutes"`
	BatchLimit      int    `yaml:"batch_limit"`
	ProbeTimeoutSec int    `yaml:"probe_timeout_sec"`
	WebhookURL      string `yaml:"webhook_url"`
}

// LoadConfig loads config from yaml or env.
func LoadConfig() (Config, error) {
	cfg := Config{
		IntervalMinutes: getenvIntDefault("RECOVERY_INTERVAL_MINUTES", 15),
		BatchLimit:      getenvIntDefault("RECOVERY_BATCH_LIMIT", 200),
		ProbeTimeoutSec: getenvIntDefault("RECOVERY_PROBE_TIMEOUT_SEC", 5),
		WebhookURL:      os.Getenv("RECOVERY_WEBHOOK_URL"),
	}

	if path := os.Getenv("RECOVERY_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.IntervalMinutes <= 0 {
		cfg.IntervalMinutes = 15
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 200
	}
	if cfg.ProbeTimeoutSec <= 0 {
		cfg.ProbeTimeoutSec = 5
	}
	return cfg, nil
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
