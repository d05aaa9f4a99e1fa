package config

import (
	"fmt"

	"github.com/spf13/viper"
	"github.com/threateye/internal/logger"
)

type Config struct {
	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`

	Server struct {
		Port      int    `mapstructure:"port"`
		JWTSecret string `mapstructure:"jwt_secret"`
	} `mapstructure:"server"`

	Dispatch struct {
		// Max events claimed per dispatch run.
		ClaimLimit int `mapstructure:"claim_limit"`
	} `mapstructure:"dispatch"`

	SMTP struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		From     string `mapstructure:"from"`
		Password string `mapstructure:"password"`
	} `mapstructure:"smtp"`

	WebPush struct {
		VAPIDPublicKey  string `mapstructure:"vapid_public_key"`
		VAPIDPrivateKey string `mapstructure:"vapid_private_key"`
		Subscriber      string `mapstructure:"subscriber"`
	} `mapstructure:"webpush"`

	Dashboard struct {
		// Base URL used in notification links.
		BaseURL string `mapstructure:"base_url"`
	} `mapstructure:"dashboard"`

	Log logger.Config `mapstructure:"log"`
}

// Load reads config.yaml from the working directory, falling back to defaults
// when no file is present.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/threateye")

	viper.SetDefault("database.path", "data/threateye.db")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.jwt_secret", "change-me")
	viper.SetDefault("dispatch.claim_limit", 50)
	viper.SetDefault("smtp.port", 587)
	viper.SetDefault("dashboard.base_url", "http://localhost:8080")
	viper.SetDefault("log.level", "info")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %v", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %v", err)
	}
	return &cfg, nil
}
