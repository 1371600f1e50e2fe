package config

import (
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from a file and environment variables.
func Load(logger *slog.Logger, fileName string) (*Config, error) {
	v := viper.New()

	// 1. Set default values
	v.SetDefault("backend.httpBase", "http://localhost:3000/api/v1")
	v.SetDefault("backend.wsBase", "ws://localhost:3000/ws")
	v.SetDefault("backend.clientVersion", "1.0.0")
	v.SetDefault("backend.httpTimeout", "10s")
	v.SetDefault("transport.readTimeout", "90s")
	v.SetDefault("messaging.requestTimeout", "5s")
	v.SetDefault("messaging.portBuffer", 64)
	v.SetDefault("session.heartbeatInterval", "30s")
	v.SetDefault("session.reconnectBaseDelay", "1s")
	v.SetDefault("session.maxReconnectAttempts", 5)
	v.SetDefault("session.dialTimeout", "10s")
	v.SetDefault("mailbox.queueTTL", "5m")
	v.SetDefault("mailbox.callbackTTL", "30s")
	v.SetDefault("widget.highlightClass", "ai-highlight")
	v.SetDefault("widget.highlightDuration", "3s")
	v.SetDefault("storage.dir", "data")
	v.SetDefault("log.level", "info")

	// 2. Set config file details
	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".") // look for config in the working directory

	// 3. Set up environment variable handling
	v.SetEnvPrefix("EXTHOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Read the configuration file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return nil, err
		}
		logger.Warn("Config file not found. ignoring error and relying on defaults/env vars")
	}

	// 5. Unmarshal the configuration into our struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
