package config

import (
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/inboxpilot/mailagent/internal/logger"
	"github.com/inboxpilot/mailagent/internal/tracing"
)

type Config struct {
	AppConfig      *AppConfig
	Logger         *logger.Config
	Tracing        *tracing.JaegerConfig
	DatabaseConfig *DatabaseConfig
	WatcherConfig  *WatcherConfig
	TriageConfig   *TriageConfig
	AIConfig       *AIConfig
	ArchiveConfig  *ArchiveConfig
}

func InitConfig() (*Config, error) {
	config := &Config{
		AppConfig:      &AppConfig{},
		Logger:         &logger.Config{},
		Tracing:        &tracing.JaegerConfig{},
		DatabaseConfig: &DatabaseConfig{},
		WatcherConfig:  &WatcherConfig{},
		TriageConfig:   &TriageConfig{},
		AIConfig:       &AIConfig{},
		ArchiveConfig:  &ArchiveConfig{},
	}

	err := godotenv.Load()
	if err != nil {
		log.Print("Unable to load .env file")
	}

	err = env.Parse(config)
	if err != nil {
		log.Fatalf("Error loading mailagent config: %v", err)
	}

	return config, nil
}
