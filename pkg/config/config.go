package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

const EnvPrefix = "SFTPMIRROR"

type Config struct {
	Source      EndpointConfig `mapstructure:"source" validate:"required"`
	Destination EndpointConfig `mapstructure:"destination" validate:"required"`
	Mirror      MirrorConfig   `mapstructure:"mirror" validate:"required"`
	Log         LogConfig      `mapstructure:"log" validate:"required"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Daemon      DaemonConfig   `mapstructure:"daemon"`
}

// EndpointConfig describes one SFTP server and the directory mirrored on it.
type EndpointConfig struct {
	Host                  string `mapstructure:"host" validate:"required"`
	Port                  int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	Username              string `mapstructure:"username" validate:"required"`
	Password              string `mapstructure:"password" validate:"required"`
	BaseDir               string `mapstructure:"base_dir" validate:"required"`
	ConnectTimeoutSeconds int    `mapstructure:"connect_timeout_seconds" validate:"min=1,max=300"`
	IOTimeoutSeconds      int    `mapstructure:"io_timeout_seconds" validate:"min=0,max=86400"`
	KnownHostsFile        string `mapstructure:"known_hosts_file"`
}

func (e EndpointConfig) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

func (e EndpointConfig) ConnectTimeout() time.Duration {
	return time.Duration(e.ConnectTimeoutSeconds) * time.Second
}

func (e EndpointConfig) IOTimeout() time.Duration {
	return time.Duration(e.IOTimeoutSeconds) * time.Second
}

type MirrorConfig struct {
	StagingDir string `mapstructure:"staging_dir" validate:"required"`
	// TransferCap stops the run once more than this many files were copied.
	// Negative disables it.
	TransferCap         int  `mapstructure:"transfer_cap" validate:"min=-1"`
	LegacyRelativePaths bool `mapstructure:"legacy_relative_paths"`
	MaxDepth            int  `mapstructure:"max_depth" validate:"min=1,max=4096"`
	EnableResume        bool `mapstructure:"enable_resume"`
	ShowProgress        bool `mapstructure:"show_progress"`
}

type LogConfig struct {
	Dir        string    `mapstructure:"dir" validate:"required"`
	FilePrefix string    `mapstructure:"file_prefix" validate:"required"`
	Level      string    `mapstructure:"level" validate:"required,oneof=debug info warn error fatal"`
	Ship       bool      `mapstructure:"ship"`
	ShipDir    string    `mapstructure:"ship_dir" validate:"required"`
	S3         *S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Endpoint             string `mapstructure:"endpoint" validate:"required,url"`
	Region               string `mapstructure:"region" validate:"required,min=1"`
	Bucket               string `mapstructure:"bucket" validate:"required,min=1"`
	AccessKey            string `mapstructure:"access_key" validate:"required,min=1"`
	SecretKey            string `mapstructure:"secret_key" validate:"required,min=1"`
	Prefix               string `mapstructure:"prefix"`
	MaxRetries           int    `mapstructure:"max_retries" validate:"min=0,max=10"`
	UploadTimeoutSeconds int    `mapstructure:"upload_timeout_seconds" validate:"omitempty,min=1,max=3600"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required,hostname_port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"min=0,max=15"`
}

type DaemonConfig struct {
	Schedule          string `mapstructure:"schedule" validate:"required"`
	HTTPAddr          string `mapstructure:"http_addr" validate:"required,hostname_port"`
	RunTimeoutMinutes int    `mapstructure:"run_timeout_minutes" validate:"min=1,max=1440"`
	LockTTLMinutes    int    `mapstructure:"lock_ttl_minutes" validate:"min=1,max=2880"`
}

type LoadOptions struct {
	// ConfigFile is an optional TOML file.
	ConfigFile string
	// EnvFile is an optional dotenv file. Variables already present in the
	// process environment win over the file.
	EnvFile string
	// Daemon also validates the redis and daemon sections.
	Daemon bool
}

// legacyEnv lists the unprefixed variable names the first version of the
// tool was configured with.
var legacyEnv = map[string]string{
	"source.host":          "SOURCE_HOST",
	"source.port":          "SOURCE_PORT",
	"source.username":      "SOURCE_USERNAME",
	"source.password":      "SOURCE_PASSWORD",
	"source.base_dir":      "SOURCE_DIR",
	"destination.host":     "DESTINATION_HOST",
	"destination.port":     "DESTINATION_PORT",
	"destination.username": "DESTINATION_USERNAME",
	"destination.password": "DESTINATION_PASSWORD",
	"destination.base_dir": "DESTINATION_DIR",
}

func Load(opts LoadOptions) (*Config, error) {
	if opts.EnvFile != "" {
		if err := gotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", legacy, err)
		}
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config, opts.Daemon); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	for _, side := range []string{"source", "destination"} {
		v.SetDefault(side+".host", "")
		v.SetDefault(side+".port", 22)
		v.SetDefault(side+".username", "")
		v.SetDefault(side+".password", "")
		v.SetDefault(side+".base_dir", "")
		v.SetDefault(side+".connect_timeout_seconds", 30)
		v.SetDefault(side+".io_timeout_seconds", 300)
		v.SetDefault(side+".known_hosts_file", "")
	}

	v.SetDefault("mirror.staging_dir", "files")
	v.SetDefault("mirror.transfer_cap", 10)
	v.SetDefault("mirror.legacy_relative_paths", false)
	v.SetDefault("mirror.max_depth", 64)
	v.SetDefault("mirror.enable_resume", true)
	v.SetDefault("mirror.show_progress", false)

	v.SetDefault("log.dir", "logs")
	v.SetDefault("log.file_prefix", "sftp_mirror")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.ship", true)
	v.SetDefault("log.ship_dir", "logs")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("daemon.schedule", "@every 15m")
	v.SetDefault("daemon.http_addr", ":8080")
	v.SetDefault("daemon.run_timeout_minutes", 60*6) // 6 hours
	v.SetDefault("daemon.lock_ttl_minutes", 60*6+30)
}

func validateConfig(config *Config, daemon bool) error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	if err := validate.StructExcept(config, "Log.S3", "Redis", "Daemon"); err != nil {
		return err
	}

	if config.Log.S3 != nil {
		if err := validate.Struct(config.Log.S3); err != nil {
			return err
		}
	}

	if daemon {
		if err := validate.Struct(&config.Redis); err != nil {
			return err
		}
		if err := validate.Struct(&config.Daemon); err != nil {
			return err
		}
		if config.Daemon.LockTTLMinutes < config.Daemon.RunTimeoutMinutes {
			return fmt.Errorf("daemon.lock_ttl_minutes must not be shorter than daemon.run_timeout_minutes")
		}
	}

	return nil
}
