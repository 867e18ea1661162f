package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"assetlibrary/internal/service/s3"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"Server"`
	Database DatabaseConfig `mapstructure:"Database"`
	Library  LibraryConfig  `mapstructure:"Library"`
	Log      LogConfig      `mapstructure:"Log"`
	Redis    RedisConfig    `mapstructure:"Redis"`
	S3       s3.Config      `mapstructure:"S3"`
	Bridge   BridgeConfig   `mapstructure:"Bridge"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"Port"`
	ShutdownTimeout time.Duration `mapstructure:"ShutdownTimeout"`
}

type DatabaseConfig struct {
	Driver       string        `mapstructure:"Driver"`
	Path         string        `mapstructure:"Path"`
	Host         string        `mapstructure:"Host"`
	Port         string        `mapstructure:"Port"`
	User         string        `mapstructure:"User"`
	Password     string        `mapstructure:"Password"`
	Name         string        `mapstructure:"Name"`
	SSLMode      string        `mapstructure:"SSLMode"`
	BusyTimeout  time.Duration `mapstructure:"BusyTimeout"`
	MaxOpenConns int           `mapstructure:"MaxOpenConns"`
}

type LibraryConfig struct {
	Root              string        `mapstructure:"Root"`
	DefaultVariant    string        `mapstructure:"DefaultVariant"`
	DefaultExtension  string        `mapstructure:"DefaultExtension"`
	LockTTL           time.Duration `mapstructure:"LockTTL"`
	LockWait          time.Duration `mapstructure:"LockWait"`
	ReconcileInterval time.Duration `mapstructure:"ReconcileInterval"`
	ArchiveOnPublish  bool          `mapstructure:"ArchiveOnPublish"`
	// MirrorInterval runs the offsite mirror periodically; zero disables it.
	MirrorInterval time.Duration `mapstructure:"MirrorInterval"`
}

type LogConfig struct {
	Level  string `mapstructure:"Level"`
	Format string `mapstructure:"Format"`
}

// RedisConfig enables the cross-session event relay when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"Addr"`
	Password string `mapstructure:"Password"`
	DB       int    `mapstructure:"DB"`
	Channel  string `mapstructure:"Channel"`
}

// BridgeConfig enables the plugin host bridge when QueueDir is set.
type BridgeConfig struct {
	QueueDir string        `mapstructure:"QueueDir"`
	Timeout  time.Duration `mapstructure:"Timeout"`
}

var envBindings = map[string]string{
	"Server.Port":               "HTTP_PORT",
	"Server.ShutdownTimeout":    "SHUTDOWN_TIMEOUT",
	"Database.Driver":           "DATABASE_DRIVER",
	"Database.Path":             "DATABASE_PATH",
	"Database.Host":             "DATABASE_HOST",
	"Database.Port":             "DATABASE_PORT",
	"Database.User":             "DATABASE_USER",
	"Database.Password":         "DATABASE_PASSWORD",
	"Database.Name":             "DATABASE_NAME",
	"Database.SSLMode":          "DATABASE_SSLMODE",
	"Database.BusyTimeout":      "DATABASE_BUSY_TIMEOUT",
	"Database.MaxOpenConns":     "DATABASE_MAX_OPEN_CONNS",
	"Library.Root":              "LIBRARY_ROOT",
	"Library.DefaultVariant":    "LIBRARY_DEFAULT_VARIANT",
	"Library.DefaultExtension":  "LIBRARY_DEFAULT_EXTENSION",
	"Library.LockTTL":           "LIBRARY_LOCK_TTL",
	"Library.LockWait":          "LIBRARY_LOCK_WAIT",
	"Library.ReconcileInterval": "LIBRARY_RECONCILE_INTERVAL",
	"Library.ArchiveOnPublish":  "LIBRARY_ARCHIVE_ON_PUBLISH",
	"Library.MirrorInterval":    "LIBRARY_MIRROR_INTERVAL",
	"Log.Level":                 "LOG_LEVEL",
	"Log.Format":                "LOG_FORMAT",
	"Redis.Addr":                "REDIS_ADDR",
	"Redis.Password":            "REDIS_PASSWORD",
	"Redis.DB":                  "REDIS_DB",
	"Redis.Channel":             "REDIS_CHANNEL",
	"S3.Endpoint":               "S3_ENDPOINT",
	"S3.Region":                 "S3_REGION",
	"S3.Bucket":                 "S3_BUCKET",
	"S3.AccessKeyID":            "S3_ACCESS_KEY_ID",
	"S3.SecretAccessKey":        "S3_SECRET_ACCESS_KEY",
	"S3.Prefix":                 "S3_PREFIX",
	"Bridge.QueueDir":           "BRIDGE_QUEUE_DIR",
	"Bridge.Timeout":            "BRIDGE_TIMEOUT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Server.Port", "2525")
	v.SetDefault("Server.ShutdownTimeout", 30*time.Second)
	v.SetDefault("Database.Driver", "sqlite3")
	v.SetDefault("Database.SSLMode", "disable")
	v.SetDefault("Database.BusyTimeout", 30*time.Second)
	v.SetDefault("Library.DefaultVariant", "Base")
	v.SetDefault("Library.DefaultExtension", "blend")
	v.SetDefault("Library.LockTTL", 2*time.Minute)
	v.SetDefault("Library.LockWait", 30*time.Second)
	v.SetDefault("Library.ReconcileInterval", time.Hour)
	v.SetDefault("Library.ArchiveOnPublish", true)
	v.SetDefault("Library.MirrorInterval", time.Duration(0))
	v.SetDefault("Log.Level", "info")
	v.SetDefault("Log.Format", "json")
	v.SetDefault("Redis.Channel", "assetlibrary:events")
	v.SetDefault("Bridge.Timeout", 60*time.Second)
}

// NewConfig reads path, when given, and overlays environment variables.
func NewConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: using only environment variables: %v\n", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Library.Root == "" {
		return fmt.Errorf("library root is required (LIBRARY_ROOT)")
	}
	root, err := filepath.Abs(c.Library.Root)
	if err != nil {
		return fmt.Errorf("invalid library root %q: %w", c.Library.Root, err)
	}
	c.Library.Root = root

	switch c.Database.Driver {
	case "sqlite3":
		if c.Database.Path == "" {
			c.Database.Path = filepath.Join(root, ".meta", "database.db")
		}
	case "postgres":
		if c.Database.Host == "" ||
			c.Database.Port == "" ||
			c.Database.User == "" ||
			c.Database.Name == "" {
			return fmt.Errorf("database configuration is incomplete: host=%s, port=%s, user=%s, name=%s",
				c.Database.Host, c.Database.Port, c.Database.User, c.Database.Name)
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Library.LockWait <= 0 || c.Library.LockTTL <= 0 {
		return fmt.Errorf("lock wait and lock ttl must be positive")
	}
	if c.Library.LockTTL < c.Library.LockWait {
		return fmt.Errorf("lock ttl %s is shorter than lock wait %s", c.Library.LockTTL, c.Library.LockWait)
	}
	if c.S3.Enabled() {
		if err := c.S3.Validate(); err != nil {
			return fmt.Errorf("invalid s3 configuration: %w", err)
		}
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

// GetURL is the postgres URL form used by migrations.
func (c *DatabaseConfig) GetURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}
