// Package config loads service configuration from an optional YAML
// file plus PHONEWATCH_* environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Camera   CameraConfig
	Vision   VisionConfig
	Storage  StorageConfig
	Twilio   TwilioConfig
	SMTP     SMTPConfig
	LogLevel string
}

type ServerConfig struct {
	Addr string
}

type DatabaseConfig struct {
	DSN string
}

type AuthConfig struct {
	JWTSecret     string
	TokenTTL      time.Duration
	AdminUsername string
	AdminPassword string
}

type CameraConfig struct {
	MuteWindow time.Duration
}

type VisionConfig struct {
	ModelWeights string
	ModelConfig  string
	CascadePath  string
}

type StorageConfig struct {
	DetectionsDir  string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	To         string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("database.dsn", "host=localhost user=phonewatch password=phonewatch dbname=phonewatch port=5432 sslmode=disable")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.admin_username", "admin")
	v.SetDefault("auth.admin_password", "")
	v.SetDefault("camera.mute_window", "5m")
	v.SetDefault("vision.model_weights", "models/yolov4-tiny.weights")
	v.SetDefault("vision.model_config", "models/yolov4-tiny.cfg")
	v.SetDefault("vision.cascade_path", "models/haarcascade_frontalface_default.xml")
	v.SetDefault("storage.detections_dir", "detections")
	v.SetDefault("storage.minio_endpoint", "")
	v.SetDefault("storage.minio_access_key", "")
	v.SetDefault("storage.minio_secret_key", "")
	v.SetDefault("storage.minio_bucket", "phonewatch-evidence")
	v.SetDefault("storage.minio_use_ssl", false)
	v.SetDefault("twilio.account_sid", "")
	v.SetDefault("twilio.auth_token", "")
	v.SetDefault("twilio.from", "")
	v.SetDefault("twilio.to", "")
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")
	v.SetDefault("smtp.to", "")
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("PHONEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr: v.GetString("server.addr"),
		},
		Database: DatabaseConfig{
			DSN: v.GetString("database.dsn"),
		},
		Auth: AuthConfig{
			JWTSecret:     v.GetString("auth.jwt_secret"),
			TokenTTL:      v.GetDuration("auth.token_ttl"),
			AdminUsername: v.GetString("auth.admin_username"),
			AdminPassword: v.GetString("auth.admin_password"),
		},
		Camera: CameraConfig{
			MuteWindow: v.GetDuration("camera.mute_window"),
		},
		Vision: VisionConfig{
			ModelWeights: v.GetString("vision.model_weights"),
			ModelConfig:  v.GetString("vision.model_config"),
			CascadePath:  v.GetString("vision.cascade_path"),
		},
		Storage: StorageConfig{
			DetectionsDir:  v.GetString("storage.detections_dir"),
			MinioEndpoint:  v.GetString("storage.minio_endpoint"),
			MinioAccessKey: v.GetString("storage.minio_access_key"),
			MinioSecretKey: v.GetString("storage.minio_secret_key"),
			MinioBucket:    v.GetString("storage.minio_bucket"),
			MinioUseSSL:    v.GetBool("storage.minio_use_ssl"),
		},
		Twilio: TwilioConfig{
			AccountSID: v.GetString("twilio.account_sid"),
			AuthToken:  v.GetString("twilio.auth_token"),
			From:       v.GetString("twilio.from"),
			To:         v.GetString("twilio.to"),
		},
		SMTP: SMTPConfig{
			Host:     v.GetString("smtp.host"),
			Port:     v.GetInt("smtp.port"),
			Username: v.GetString("smtp.username"),
			Password: v.GetString("smtp.password"),
			From:     v.GetString("smtp.from"),
			To:       v.GetString("smtp.to"),
		},
		LogLevel: v.GetString("log_level"),
	}

	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwt_secret is required")
	}
	return cfg, nil
}
