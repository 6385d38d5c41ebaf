// Package core loads and validates the application configuration shared
// by every stopscrap command.
package core

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// AppConfig is the full configuration tree, populated from config.yaml
// with CLI flags layered on top.
type AppConfig struct {
	Scrap    ScrapConfig    `mapstructure:"scrap"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Database DatabaseConfig `mapstructure:"database"`
	GTFS     GTFSConfig     `mapstructure:"gtfs"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Daemon   DaemonConfig   `mapstructure:"daemon"`
	Log      LogConfig      `mapstructure:"log"`
}

// ScrapConfig scheduler cadence and capture output
type ScrapConfig struct {
	StopsFile     string `mapstructure:"stops_file"`     // JSON array of stop ids to visit
	OutputDir     string `mapstructure:"output_dir"`     // capture files land here
	InitialOffset int    `mapstructure:"initial_offset"` // seconds until the first visit
	VisitedDelay  int    `mapstructure:"visited_delay"`  // seconds between visits of a healthy stop
	FailedDelay   int    `mapstructure:"failed_delay"`   // seconds before retrying a failed stop
}

// BrowserConfig headless browser and resource guard settings
type BrowserConfig struct {
	Headless         bool     `mapstructure:"headless"`
	NavigateTimeout  int      `mapstructure:"navigate_timeout"` // seconds
	FrameWait        int      `mapstructure:"frame_wait"`       // seconds
	MarkerWait       int      `mapstructure:"marker_wait"`      // seconds
	MinFreeMemoryMB  int      `mapstructure:"min_free_memory_mb"`
	CPULoadThreshold float64  `mapstructure:"cpu_load_threshold"`
	UserAgents       []string `mapstructure:"user_agents"` // empty uses the built-in pool
}

// DatabaseConfig SQLite location
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// GTFSConfig static feed download settings
type GTFSConfig struct {
	URL       string `mapstructure:"url"`
	Dir       string `mapstructure:"dir"`
	Attempts  int    `mapstructure:"attempts"`
	ChunkSize int    `mapstructure:"chunk_size"` // bytes per copy chunk
	Insecure  bool   `mapstructure:"insecure"`
}

// RealtimeConfig realtime feed snapshot settings
type RealtimeConfig struct {
	URL      string `mapstructure:"url"`
	Dir      string `mapstructure:"dir"`
	Attempts int    `mapstructure:"attempts"`
	Format   string `mapstructure:"format"` // json or pb
}

// DaemonConfig long-running mode settings
type DaemonConfig struct {
	GTFSRefresh string `mapstructure:"gtfs_refresh"` // cron spec for the feed refresh
}

// LogConfig logging level, directory and rotation
type LogConfig struct {
	Level    string         `mapstructure:"level"`
	Dir      string         `mapstructure:"dir"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig lumberjack rotation knobs
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"` // MB per file
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"` // days
	Compress   bool `mapstructure:"compress"`
}

// LoadConfig reads the configuration file at configPath, or searches the
// default locations when configPath is empty. A missing file is not an
// error; defaults apply.
func LoadConfig(configPath string) (*AppConfig, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".stopscrap"))
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, &ConfigError{Path: v.ConfigFileUsed(), Cause: err}
		}
	}

	var config AppConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, &ConfigError{Path: v.ConfigFileUsed(), Cause: err}
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scrap.stops_file", "")
	v.SetDefault("scrap.output_dir", "captures")
	v.SetDefault("scrap.initial_offset", 10)
	v.SetDefault("scrap.visited_delay", 300)
	v.SetDefault("scrap.failed_delay", 60)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigate_timeout", 30)
	v.SetDefault("browser.frame_wait", 20)
	v.SetDefault("browser.marker_wait", 10)
	v.SetDefault("browser.min_free_memory_mb", 300)
	v.SetDefault("browser.cpu_load_threshold", 90)

	v.SetDefault("database.path", "stops.db")

	v.SetDefault("gtfs.url", "")
	v.SetDefault("gtfs.dir", "gtfs")
	v.SetDefault("gtfs.attempts", 5)
	v.SetDefault("gtfs.chunk_size", 4*1024*1024)
	v.SetDefault("gtfs.insecure", false)

	v.SetDefault("realtime.url", "")
	v.SetDefault("realtime.dir", "realtime")
	v.SetDefault("realtime.attempts", 5)
	v.SetDefault("realtime.format", "json")

	v.SetDefault("daemon.gtfs_refresh", "0 4 * * *")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.dir", "logs")
	v.SetDefault("log.rotation.max_size", 5)
	v.SetDefault("log.rotation.max_backups", 15)
	v.SetDefault("log.rotation.max_age", 28)
	v.SetDefault("log.rotation.compress", true)
}

// MergeCLIFlags overlays command line values onto the file configuration.
// Flags win; zero values mean the flag was not given.
func (c *AppConfig) MergeCLIFlags(stopsFile, outputDir, database string, headless bool, headlessSet bool) {
	if stopsFile != "" {
		c.Scrap.StopsFile = stopsFile
	}
	if outputDir != "" {
		c.Scrap.OutputDir = outputDir
	}
	if database != "" {
		c.Database.Path = database
	}
	if headlessSet {
		c.Browser.Headless = headless
	}
}

// Validate checks value ranges across the tree. The first offending key
// is reported with its value.
func (c *AppConfig) Validate() error {
	if c.Scrap.InitialOffset < 0 {
		return &ValidationError{Key: "scrap.initial_offset", Value: c.Scrap.InitialOffset, Reason: "must not be negative"}
	}
	if c.Scrap.VisitedDelay <= 0 {
		return &ValidationError{Key: "scrap.visited_delay", Value: c.Scrap.VisitedDelay, Reason: "must be positive"}
	}
	if c.Scrap.FailedDelay <= 0 {
		return &ValidationError{Key: "scrap.failed_delay", Value: c.Scrap.FailedDelay, Reason: "must be positive"}
	}
	if c.Browser.NavigateTimeout <= 0 {
		return &ValidationError{Key: "browser.navigate_timeout", Value: c.Browser.NavigateTimeout, Reason: "must be positive"}
	}
	if c.Browser.CPULoadThreshold < 0 {
		return &ValidationError{Key: "browser.cpu_load_threshold", Value: c.Browser.CPULoadThreshold, Reason: "must not be negative"}
	}
	if c.Database.Path == "" {
		return &ValidationError{Key: "database.path", Value: c.Database.Path, Reason: "must not be empty"}
	}
	if c.GTFS.Attempts <= 0 {
		return &ValidationError{Key: "gtfs.attempts", Value: c.GTFS.Attempts, Reason: "must be positive"}
	}
	if c.GTFS.ChunkSize <= 0 {
		return &ValidationError{Key: "gtfs.chunk_size", Value: c.GTFS.ChunkSize, Reason: "must be positive"}
	}
	if c.Realtime.Attempts <= 0 {
		return &ValidationError{Key: "realtime.attempts", Value: c.Realtime.Attempts, Reason: "must be positive"}
	}
	if f := c.Realtime.Format; f != "json" && f != "pb" {
		return &ValidationError{Key: "realtime.format", Value: f, Reason: "must be json or pb"}
	}
	return nil
}

// ConfigError wraps a failure reading or parsing the configuration file
type ConfigError struct {
	Path  string
	Cause error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config: %v", e.Cause)
	}
	return fmt.Sprintf("config %s: %v", e.Path, e.Cause)
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ValidationError reports a configuration value outside its allowed range
type ValidationError struct {
	Key    string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config key %s = %v: %s", e.Key, e.Value, e.Reason)
}
