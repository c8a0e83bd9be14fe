package server

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/elskow/portal/internal/config"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTesting     = "testing"

	envPrefix        = "PORTAL"
	defaultConfigDir = "./config/server"
)

var ErrMissingJWTSecret = errors.New("auth.jwt_secret must be set")

// LoadConfig reads config.toml from CONFIG_DIR (default ./config/server),
// applies the [grpc.<env>] overlay and PORTAL_* environment overrides.
// A .env file in the working directory is loaded first when present.
func LoadConfig() (*config.AppConfig, error) {
	_ = godotenv.Load()

	dir := os.Getenv("CONFIG_DIR")
	if dir == "" {
		dir = defaultConfigDir
	}
	return loadConfig(dir, currentEnv())
}

func currentEnv() string {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = EnvDevelopment
	}
	return env
}

func loadConfig(dir, env string) (*config.AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(dir)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config config.AppConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Load environment-specific configurations
	if envSettings := v.GetStringMap(fmt.Sprintf("grpc.%s", env)); len(envSettings) > 0 {
		if err := v.UnmarshalKey(fmt.Sprintf("grpc.%s", env), &config.GRPC); err != nil {
			return nil, fmt.Errorf("error unmarshaling env config: %w", err)
		}
	}

	if strings.TrimSpace(config.Auth.JWTSecret) == "" {
		return nil, ErrMissingJWTSecret
	}

	return &config, nil
}

// setDefaults also registers every key AutomaticEnv should see, since
// viper only consults the environment for keys it knows about.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.port", "9090")
	v.SetDefault("grpc.enable_reflection", false)
	v.SetDefault("grpc.max_receive_message_size", 4<<20)
	v.SetDefault("grpc.max_send_message_size", 4<<20)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "portal")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "portal")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", false)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_expiration", "24h")
	v.SetDefault("auth.issuer", "portal")
	v.SetDefault("auth.cookie_name", "session")
	v.SetDefault("auth.cookie_domain", "")
	v.SetDefault("auth.cookie_secure", true)
	v.SetDefault("auth.max_failed_attempts", 5)
	v.SetDefault("auth.lockout_duration", "30m")
	v.SetDefault("auth.temp_password_length", 16)
	v.SetDefault("auth.temp_password_ttl", "168h")
	v.SetDefault("auth.bcrypt_cost", 12)

	v.SetDefault("access_request.token_ttl", "168h")
	v.SetDefault("access_request.admin_recipients", []string{})

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.backend", "memory")
	v.SetDefault("rate_limit.default_window", "15m")
	v.SetDefault("rate_limit.block_threshold", 10)
	v.SetDefault("rate_limit.block_duration", "60m")
	v.SetDefault("rate_limit.cleanup_interval", "5m")

	v.SetDefault("audit.sweep_interval", "24h")
	v.SetDefault("audit.anonymize_after", "2160h")
	v.SetDefault("audit.delete_after", "8760h")
	v.SetDefault("audit.node_id", 1)

	v.SetDefault("notify.backend", "log")
	v.SetDefault("notify.source", "portal")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "portal:rl")

	v.SetDefault("kafka.topic", "portal.notifications")
	v.SetDefault("kafka.write_timeout", "10s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file_path", "")
	v.SetDefault("log.max_age", "168h")
	v.SetDefault("log.rotation_time", "24h")
}

// SetDefaultEnv sets APP_ENV to development when unset and returns it.
func SetDefaultEnv() string {
	if os.Getenv("APP_ENV") == "" {
		os.Setenv("APP_ENV", EnvDevelopment)
	}
	return os.Getenv("APP_ENV")
}
