package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables and an optional
// config.yaml in the working directory. Environment variables take
// precedence over values from the config file and use the TERRALENS_
// prefix with underscores for nesting (e.g. TERRALENS_DATABASE_URL).
// Returns a populated Config struct or an error if loading or validation
// fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TERRALENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; the environment can carry
		// everything. Any other read error is fatal.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("minio.bucket", "terralens")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.queue_name", "tasks")
	v.SetDefault("worker.scratch_dir", "/tmp/terralens")
	v.SetDefault("worker.inference_timeout_seconds", 3600)
	v.SetDefault("worker.mask_channel_order", "rgb")
	v.SetDefault("worker.segmentation_2d_classes", []map[string]any{
		{"label": "building", "color": []uint8{255, 0, 0}},
		{"label": "vegetation", "color": []uint8{0, 255, 0}},
		{"label": "water", "color": []uint8{0, 0, 255}},
		{"label": "road", "color": []uint8{255, 255, 0}},
	})
	v.SetDefault("worker.change_detection_classes", []map[string]any{
		{"label": "changed", "color": []uint8{255, 255, 255}},
	})
	v.SetDefault("preview.viewer_folder", "pointclouds")
	v.SetDefault("preview.timeout_seconds", 600)
}
