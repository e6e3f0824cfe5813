// Package config loads service configuration from the environment, with an
// optional .env file for development.
package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	HTTPAddr     string `mapstructure:"HTTP_ADDR"`
	LogLevel     string `mapstructure:"LOG_LEVEL"`
	DBURL        string `mapstructure:"DB_URL"`
	RedisAddr    string `mapstructure:"REDIS_ADDR"`
	MQTTBroker   string `mapstructure:"MQTT_BROKER"`
	MQTTClientID string `mapstructure:"MQTT_CLIENT_ID"`
	JWTSecret    string `mapstructure:"JWT_SECRET"`
	Realm        string `mapstructure:"REALM"`
	ServiceName  string `mapstructure:"SERVICE_NAME"`
	BridgeWSURL  string `mapstructure:"BRIDGE_WS_URL"`
	BridgeID     string `mapstructure:"BRIDGE_ID"`
}

// Load reads configuration from env vars, .env, or a config.yaml next to the
// binary. Missing .env is fine outside development.
func Load() (*Config, error) {
	_ = godotenv.Load()

	viper.AutomaticEnv()
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig()

	viper.SetDefault("HTTP_ADDR", ":5069")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("MQTT_CLIENT_ID", "assetrules-backend")
	viper.SetDefault("REALM", "master")
	viper.SetDefault("SERVICE_NAME", "assetrules")

	cfg := &Config{
		HTTPAddr:     viper.GetString("HTTP_ADDR"),
		LogLevel:     viper.GetString("LOG_LEVEL"),
		DBURL:        viper.GetString("DB_URL"),
		RedisAddr:    viper.GetString("REDIS_ADDR"),
		MQTTBroker:   viper.GetString("MQTT_BROKER"),
		MQTTClientID: viper.GetString("MQTT_CLIENT_ID"),
		JWTSecret:    viper.GetString("JWT_SECRET"),
		Realm:        viper.GetString("REALM"),
		ServiceName:  viper.GetString("SERVICE_NAME"),
		BridgeWSURL:  viper.GetString("BRIDGE_WS_URL"),
		BridgeID:     viper.GetString("BRIDGE_ID"),
	}
	if cfg.DBURL == "" {
		return nil, fmt.Errorf("DB_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	return cfg, nil
}
