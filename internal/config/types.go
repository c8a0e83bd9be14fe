package config

import "time"

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // gin mode: debug, release, test
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`
}

type GRPCConfig struct {
	Enabled               bool   `mapstructure:"enabled"`
	Port                  string `mapstructure:"port"`
	EnableReflection      bool   `mapstructure:"enable_reflection"`
	MaxReceiveMessageSize int    `mapstructure:"max_receive_message_size"`
	MaxSendMessageSize    int    `mapstructure:"max_send_message_size"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

type AuthConfig struct {
	JWTSecret          string        `mapstructure:"jwt_secret"`
	TokenExpiration    time.Duration `mapstructure:"token_expiration"`
	Issuer             string        `mapstructure:"issuer"`
	CookieName         string        `mapstructure:"cookie_name"`
	CookieDomain       string        `mapstructure:"cookie_domain"`
	CookieSecure       bool          `mapstructure:"cookie_secure"`
	MaxFailedAttempts  int           `mapstructure:"max_failed_attempts"`
	LockoutDuration    time.Duration `mapstructure:"lockout_duration"`
	TempPasswordLength int           `mapstructure:"temp_password_length"`
	TempPasswordTTL    time.Duration `mapstructure:"temp_password_ttl"`
	BcryptCost         int           `mapstructure:"bcrypt_cost"`
}

type AccessRequestConfig struct {
	TokenTTL        time.Duration `mapstructure:"token_ttl"`
	AdminRecipients []string      `mapstructure:"admin_recipients"`
}

type RateLimitRule struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

type RateLimitConfig struct {
	Enabled         bool                     `mapstructure:"enabled"`
	Backend         string                   `mapstructure:"backend"` // memory or redis
	DefaultWindow   time.Duration            `mapstructure:"default_window"`
	Rules           map[string]RateLimitRule `mapstructure:"rules"`
	Whitelist       []string                 `mapstructure:"whitelist"`
	BlockThreshold  int                      `mapstructure:"block_threshold"`
	BlockDuration   time.Duration            `mapstructure:"block_duration"`
	CleanupInterval time.Duration            `mapstructure:"cleanup_interval"`
}

type AuditConfig struct {
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	AnonymizeAfter time.Duration `mapstructure:"anonymize_after"`
	DeleteAfter    time.Duration `mapstructure:"delete_after"`
	NodeID         int64         `mapstructure:"node_id"`
}

type NotifyConfig struct {
	Backend string `mapstructure:"backend"` // log or kafka
	Source  string `mapstructure:"source"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type LogConfig struct {
	Level        string        `mapstructure:"level"`
	FilePath     string        `mapstructure:"file_path"`
	MaxAge       time.Duration `mapstructure:"max_age"`
	RotationTime time.Duration `mapstructure:"rotation_time"`
}

type AppConfig struct {
	Server        ServerConfig        `mapstructure:"server"`
	GRPC          GRPCConfig          `mapstructure:"grpc"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Auth          AuthConfig          `mapstructure:"auth"`
	AccessRequest AccessRequestConfig `mapstructure:"access_request"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
	Audit         AuditConfig         `mapstructure:"audit"`
	Notify        NotifyConfig        `mapstructure:"notify"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Log           LogConfig           `mapstructure:"log"`
}
