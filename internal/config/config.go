package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const appDirName = ".cfgvault"

type Config struct {
	DaemonPort          int             `mapstructure:"daemon_port"`
	DBPath              string          `mapstructure:"db_path"`
	BackupDir           string          `mapstructure:"backup_dir"`
	Timezone            string          `mapstructure:"timezone"`
	KnownHosts          string          `mapstructure:"known_hosts"`
	SSHLegacyAlgorithms bool            `mapstructure:"ssh_legacy_algorithms"`
	Backup              BackupConfig    `mapstructure:"backup"`
	Scheduler           SchedulerConfig `mapstructure:"scheduler"`
	Watcher             WatcherConfig   `mapstructure:"watcher"`
	Remote              RemoteConfig    `mapstructure:"remote"`
}

type BackupConfig struct {
	MaxConcurrency int             `mapstructure:"max_concurrency"`
	Retries        int             `mapstructure:"retries"`
	RetryDelay     time.Duration   `mapstructure:"retry_delay"`
	AttemptTimeout time.Duration   `mapstructure:"attempt_timeout"`
	BackoffFactor  float64         `mapstructure:"backoff_factor"`
	StoreUnchanged bool            `mapstructure:"store_unchanged"`
	ValidateSyntax bool            `mapstructure:"validate_syntax"`
	MaxBackups     int             `mapstructure:"max_backups"`
	Retention      RetentionConfig `mapstructure:"retention"`
}

// RetentionConfig selects how old artifacts are pruned. Type is count,
// time or hybrid. count uses backup.max_backups; hybrid honours it too
// when non-zero.
type RetentionConfig struct {
	Type     string        `mapstructure:"type"`
	MaxAge   time.Duration `mapstructure:"max_age"`
	MinCount int           `mapstructure:"min_count"`
}

type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

type WatcherConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	BufferSize int      `mapstructure:"buffer_size"`
	IgnoreList []string `mapstructure:"ignore_list"`
}

// RemoteConfig describes where artifacts are pushed after the local
// write. Type is one of none, ftp, sftp, tftp, gdrive or dropbox.
type RemoteConfig struct {
	Type     string `mapstructure:"type"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Path     string `mapstructure:"path"`
}

var Default = Config{
	DaemonPort: 9101,
	DBPath:     "cfgvault.db",
	BackupDir:  "backups",
	Timezone:   "Local",
	Backup: BackupConfig{
		MaxConcurrency: 4,
		Retries:        2,
		RetryDelay:     5 * time.Second,
		AttemptTimeout: 60 * time.Second,
		BackoffFactor:  1,
		StoreUnchanged: false,
		ValidateSyntax: true,
		MaxBackups:     30,
		Retention: RetentionConfig{
			Type:     "count",
			MaxAge:   30 * 24 * time.Hour,
			MinCount: 1,
		},
	},
	Scheduler: SchedulerConfig{
		Enabled:  true,
		Interval: 30 * time.Second,
	},
	Watcher: WatcherConfig{
		Enabled:    true,
		BufferSize: 100,
		IgnoreList: []string{"*.tmp", "*.swp", ".DS_Store"},
	},
	Remote: RemoteConfig{
		Type: "none",
	},
}

// AppDir returns ~/.cfgvault, creating it when missing.
func AppDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home dir: %w", err)
	}

	dir := filepath.Join(home, appDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config dir: %w", err)
	}

	return dir, nil
}

func Load() (*Config, error) {
	dir, err := AppDir()
	if err != nil {
		return nil, err
	}

	return LoadFrom(dir)
}

// LoadFrom reads config.yaml from dir, layering CFGVAULT_* environment
// variables over the defaults. Relative paths resolve against dir.
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	setDefaults(v)

	v.SetEnvPrefix("CFGVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := errors.AsType[viper.ConfigFileNotFoundError](err); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.DBPath = resolve(dir, cfg.DBPath)
	cfg.BackupDir = resolve(dir, cfg.BackupDir)
	if cfg.KnownHosts != "" {
		cfg.KnownHosts = resolve(dir, cfg.KnownHosts)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Backup.MaxConcurrency < 1 {
		return fmt.Errorf("backup.max_concurrency must be at least 1, got %d", c.Backup.MaxConcurrency)
	}
	if c.Backup.Retries < 0 {
		return fmt.Errorf("backup.retries must not be negative, got %d", c.Backup.Retries)
	}
	if c.Backup.RetryDelay <= 0 {
		return fmt.Errorf("backup.retry_delay must be positive")
	}
	if c.Backup.AttemptTimeout <= 0 {
		return fmt.Errorf("backup.attempt_timeout must be positive")
	}
	if c.Backup.MaxBackups < 0 {
		return fmt.Errorf("backup.max_backups must not be negative, got %d", c.Backup.MaxBackups)
	}
	if err := c.Backup.Retention.validate(c.Backup.MaxBackups); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	switch c.Remote.Type {
	case "", "none", "ftp", "sftp", "tftp", "gdrive", "dropbox":
	default:
		return fmt.Errorf("unsupported remote.type: %s", c.Remote.Type)
	}

	return nil
}

func (r RetentionConfig) validate(maxBackups int) error {
	switch r.Type {
	case "", "count":
		return nil
	case "time":
		if r.MaxAge <= 0 {
			return fmt.Errorf("backup.retention.max_age must be positive for time retention")
		}
	case "hybrid":
		if r.MaxAge <= 0 {
			return fmt.Errorf("backup.retention.max_age must be positive for hybrid retention")
		}
		if r.MinCount < 1 {
			return fmt.Errorf("backup.retention.min_count must be at least 1, got %d", r.MinCount)
		}
		if maxBackups > 0 && r.MinCount > maxBackups {
			return fmt.Errorf("backup.retention.min_count %d exceeds backup.max_backups %d", r.MinCount, maxBackups)
		}
	default:
		return fmt.Errorf("unsupported backup.retention.type: %s", r.Type)
	}
	return nil
}

// Location is the zone schedules are evaluated in.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}

	return loc, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("daemon_port", Default.DaemonPort)
	v.SetDefault("db_path", Default.DBPath)
	v.SetDefault("backup_dir", Default.BackupDir)
	v.SetDefault("timezone", Default.Timezone)
	v.SetDefault("known_hosts", Default.KnownHosts)
	v.SetDefault("ssh_legacy_algorithms", Default.SSHLegacyAlgorithms)

	v.SetDefault("backup.max_concurrency", Default.Backup.MaxConcurrency)
	v.SetDefault("backup.retries", Default.Backup.Retries)
	v.SetDefault("backup.retry_delay", Default.Backup.RetryDelay)
	v.SetDefault("backup.attempt_timeout", Default.Backup.AttemptTimeout)
	v.SetDefault("backup.backoff_factor", Default.Backup.BackoffFactor)
	v.SetDefault("backup.store_unchanged", Default.Backup.StoreUnchanged)
	v.SetDefault("backup.validate_syntax", Default.Backup.ValidateSyntax)
	v.SetDefault("backup.max_backups", Default.Backup.MaxBackups)
	v.SetDefault("backup.retention.type", Default.Backup.Retention.Type)
	v.SetDefault("backup.retention.max_age", Default.Backup.Retention.MaxAge)
	v.SetDefault("backup.retention.min_count", Default.Backup.Retention.MinCount)

	v.SetDefault("scheduler.enabled", Default.Scheduler.Enabled)
	v.SetDefault("scheduler.interval", Default.Scheduler.Interval)

	v.SetDefault("watcher.enabled", Default.Watcher.Enabled)
	v.SetDefault("watcher.buffer_size", Default.Watcher.BufferSize)
	v.SetDefault("watcher.ignore_list", Default.Watcher.IgnoreList)

	v.SetDefault("remote.type", Default.Remote.Type)
	v.SetDefault("remote.host", Default.Remote.Host)
	v.SetDefault("remote.port", Default.Remote.Port)
	v.SetDefault("remote.username", Default.Remote.Username)
	v.SetDefault("remote.password", Default.Remote.Password)
	v.SetDefault("remote.path", Default.Remote.Path)
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
