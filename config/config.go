// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package config

import (
	"log"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// AppConfig is the application configuration for the voice session manager
// and the session-minting service.
type AppConfig struct {
	Name     string `mapstructure:"service_name" validate:"required"`
	Version  string `mapstructure:"version" validate:"required"`
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required"`
	LogFile  string `mapstructure:"log_file"`

	// Realtime speech-model endpoints.
	RealtimeURL string `mapstructure:"realtime_url" validate:"required,url"`
	SessionsURL string `mapstructure:"sessions_url" validate:"required,url"`

	// ProviderKey is the long-lived credential held only by the session-api
	// service; the voice client never sees it, it consumes ephemeral tokens.
	ProviderKey string `mapstructure:"provider_key"`

	Session SessionConfig `mapstructure:"session"`

	// AllowedOrigins for the session-api CORS policy.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// SessionConfig captures the negotiated model/voice parameters.
type SessionConfig struct {
	Model        string `mapstructure:"model" validate:"required"`
	Voice        string `mapstructure:"voice" validate:"required"`
	Language     string `mapstructure:"language"`
	Instructions string `mapstructure:"instructions"`
	ToolChoice   string `mapstructure:"tool_choice"`
}

// InitConfig reads configuration from an env file (ENV_PATH or ./.env) with
// environment variable overrides.
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	if path := os.Getenv("ENV_PATH"); path != "" {
		log.Printf("env path %v", path)
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefault(vConfig)
	if err := vConfig.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		log.Printf("Reading from env variables.")
	}

	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	v.SetDefault("SERVICE_NAME", "tripvoice")
	v.SetDefault("VERSION", "0.0.1")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 8090)
	v.SetDefault("LOG_LEVEL", "debug")
	v.SetDefault("LOG_FILE", "")

	v.SetDefault("REALTIME_URL", "https://api.openai.com/v1/realtime")
	v.SetDefault("SESSIONS_URL", "https://api.openai.com/v1/realtime/sessions")
	v.SetDefault("PROVIDER_KEY", "")

	v.SetDefault("SESSION__MODEL", "gpt-4o-realtime-preview-2024-12-17")
	v.SetDefault("SESSION__VOICE", "alloy")
	v.SetDefault("SESSION__LANGUAGE", "Persian")
	v.SetDefault("SESSION__INSTRUCTIONS", "")
	v.SetDefault("SESSION__TOOL_CHOICE", "auto")

	v.SetDefault("ALLOWED_ORIGINS", []string{"*"})
}

// GetApplicationConfig unmarshals and validates the application config.
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var config AppConfig
	if err := v.Unmarshal(&config); err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	validate := validator.New()
	if err := validate.Struct(&config); err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}
	return &config, nil
}
