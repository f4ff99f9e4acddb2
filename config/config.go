package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. PULSECHAT_JWT_SECRET.
const EnvPrefix = "PULSECHAT"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	SQLite    SQLiteConfig    `mapstructure:"sqlite"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Websocket WebsocketConfig `mapstructure:"websocket"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Snowflake SnowflakeConfig `mapstructure:"snowflake"`
	ImageHost ImageHostConfig `mapstructure:"imagehost"`
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	CORS      CORSConfig      `mapstructure:"cors"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
	// NodeID identifies this process in the presence mirror and gRPC node info.
	NodeID string `mapstructure:"node_id"`
	// CookieSecure sets the Secure flag on the session cookie.
	CookieSecure bool `mapstructure:"cookie_secure"`
	// ShutdownTimeout in seconds.
	ShutdownTimeout int `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// Driver is either "postgres" or "sqlite".
	Driver string `mapstructure:"driver"`
	// LogLevel for gorm: silent, error, warn, info.
	LogLevel string `mapstructure:"log_level"`
}

type PostgresConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// DSN builds the PostgreSQL connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	// Enabled toggles every Redis-backed feature (presence mirror, user cache, rate limiting).
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

type JWTConfig struct {
	Secret       string `mapstructure:"secret"`
	ExpireHours  int    `mapstructure:"expire_hours"`
	RefreshHours int    `mapstructure:"refresh_hours"`
	CookieName   string `mapstructure:"cookie_name"`
}

type RateLimitConfig struct {
	SignupPerMinute  int `mapstructure:"signup_per_minute"`
	SigninPerMinute  int `mapstructure:"signin_per_minute"`
	MessagePerMinute int `mapstructure:"message_per_minute"`
	APIPerMinute     int `mapstructure:"api_per_minute"`
}

type WebsocketConfig struct {
	// HeartbeatInterval in seconds; connections silent for twice this long are evicted.
	HeartbeatInterval int `mapstructure:"heartbeat_interval"`
	// WriteTimeout in seconds for a single frame write.
	WriteTimeout   int   `mapstructure:"write_timeout"`
	SendBufferSize int   `mapstructure:"send_buffer_size"`
	MaxMessageSize int64 `mapstructure:"max_message_size"`
	// AllowedOrigins empty means any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type KafkaConfig struct {
	Enabled       bool           `mapstructure:"enabled"`
	Brokers       []string       `mapstructure:"brokers"`
	ConsumerGroup string         `mapstructure:"consumer_group"`
	Topics        TopicsConfig   `mapstructure:"topics"`
	Producer      ProducerConfig `mapstructure:"producer"`
	Consumer      ConsumerConfig `mapstructure:"consumer"`
}

type TopicsConfig struct {
	Message string `mapstructure:"message"`
	DLQ     string `mapstructure:"dlq"`
}

type ProducerConfig struct {
	MaxRetries     int `mapstructure:"max_retries"`
	RetryBackoffMs int `mapstructure:"retry_backoff_ms"`
	// QueueSize bounds events waiting to be published; overflow is dropped.
	QueueSize int `mapstructure:"queue_size"`
}

type ConsumerConfig struct {
	MaxRetries     int `mapstructure:"max_retries"`
	RetryBackoffMs int `mapstructure:"retry_backoff_ms"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

type SnowflakeConfig struct {
	WorkerID int64 `mapstructure:"worker_id"`
}

// ImageHostConfig holds Cloudinary credentials.
type ImageHostConfig struct {
	// CloudName empty disables the remote host; images are stored as given.
	CloudName string `mapstructure:"cloud_name"`
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	Folder    string `mapstructure:"folder"`
	// UploadPrefix overrides the upload API base, e.g. for a private endpoint.
	UploadPrefix string `mapstructure:"upload_prefix"`
	// Timeout in seconds.
	Timeout int `mapstructure:"timeout"`
}

type GRPCConfig struct {
	// Address empty disables the presence gRPC service.
	Address string `mapstructure:"address"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 9000)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.node_id", "node-1")
	v.SetDefault("server.cookie_secure", false)
	v.SetDefault("server.shutdown_timeout", 10)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("postgres.host", "127.0.0.1")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.dbname", "pulsechat")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_idle_conns", 10)
	v.SetDefault("postgres.max_open_conns", 100)

	v.SetDefault("sqlite.path", "pulsechat.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.min_idle_conns", 2)

	// Unset keys are invisible to AutomaticEnv during Unmarshal, so secrets get empty defaults.
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expire_hours", 24*7)
	v.SetDefault("jwt.refresh_hours", 24)
	v.SetDefault("jwt.cookie_name", "jwt")

	v.SetDefault("ratelimit.signup_per_minute", 5)
	v.SetDefault("ratelimit.signin_per_minute", 10)
	v.SetDefault("ratelimit.message_per_minute", 120)
	v.SetDefault("ratelimit.api_per_minute", 600)

	v.SetDefault("websocket.heartbeat_interval", 30)
	v.SetDefault("websocket.write_timeout", 10)
	v.SetDefault("websocket.send_buffer_size", 256)
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("websocket.allowed_origins", []string{})

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.consumer_group", "pulsechat-delivery")
	v.SetDefault("kafka.topics.message", "pulsechat.messages")
	v.SetDefault("kafka.topics.dlq", "pulsechat.messages.dlq")
	v.SetDefault("kafka.producer.max_retries", 3)
	v.SetDefault("kafka.producer.retry_backoff_ms", 100)
	v.SetDefault("kafka.producer.queue_size", 1024)
	v.SetDefault("kafka.consumer.max_retries", 2)
	v.SetDefault("kafka.consumer.retry_backoff_ms", 100)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file_path", "logs/pulsechat.log")

	v.SetDefault("snowflake.worker_id", 1)

	v.SetDefault("imagehost.cloud_name", "")
	v.SetDefault("imagehost.api_key", "")
	v.SetDefault("imagehost.api_secret", "")
	v.SetDefault("imagehost.upload_prefix", "")
	v.SetDefault("imagehost.folder", "pulsechat")
	v.SetDefault("imagehost.timeout", 30)

	v.SetDefault("grpc.address", "")

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:5173"})
}

// LoadConfig reads the config file at path (optional) and applies PULSECHAT_* env overrides.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret is required")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	if c.Websocket.HeartbeatInterval <= 0 {
		return errors.New("websocket.heartbeat_interval must be positive")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required when kafka is enabled")
	}
	return nil
}
