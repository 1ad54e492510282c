package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

const (
	configFileName = "nativedl"
	envPrefix      = "NATIVEDL_"

	identifier         = "nativedl"
	maxConcurrentTasks = 3
	maxRetries         = 3
	retryDelay         = 2 * time.Second
	progressInterval   = 500 * time.Millisecond
)

// Config holds the configuration options for the application.
type Config struct {
	URLs []string `yaml:"-"`

	// RootDir is where downloaded files are written.
	RootDir string `yaml:"rootDir,omitempty"`
	// DataDir holds the task database and the log file.
	DataDir string `yaml:"dataDir,omitempty"`
	// Identifier names the task database and log file, so several bridges
	// can share a DataDir.
	Identifier         string        `yaml:"identifier,omitempty"`
	MaxConcurrentTasks int           `yaml:"maxConcurrentTasks,omitempty"`
	MaxRetries         int           `yaml:"maxRetries,omitempty"`
	RetryDelay         time.Duration `yaml:"retryDelay,omitempty"`
	// ThrottleSpeed is the combined transfer cap in bytes per second; zero
	// means unlimited.
	ThrottleSpeed    int64         `yaml:"throttleSpeed,omitempty"`
	ProgressInterval time.Duration `yaml:"progressInterval,omitempty"`
	Debug            bool          `yaml:"debug,omitempty"`
}

// GetConfig builds the configuration from, in increasing precedence, the
// defaults, the YAML file under the XDG config home, the environment
// (including a .env file in the working directory) and the command line args.
func GetConfig(args []string) (*Config, error) {
	configFilePath := filepath.Join(xdg.ConfigHome, configFileName)
	defaults := DefaultConfig()

	var cfg Config

	b, err := os.ReadFile(configFilePath)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	if len(b) > 0 {
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, err
		}
	}

	conf := Config{
		RootDir:            zeroOr(cfg.RootDir, defaults.RootDir),
		DataDir:            zeroOr(cfg.DataDir, defaults.DataDir),
		Identifier:         zeroOr(cfg.Identifier, defaults.Identifier),
		MaxConcurrentTasks: zeroOr(cfg.MaxConcurrentTasks, defaults.MaxConcurrentTasks),
		MaxRetries:         zeroOr(cfg.MaxRetries, defaults.MaxRetries),
		RetryDelay:         zeroOr(cfg.RetryDelay, defaults.RetryDelay),
		ThrottleSpeed:      cfg.ThrottleSpeed,
		ProgressInterval:   zeroOr(cfg.ProgressInterval, defaults.ProgressInterval),
		Debug:              cfg.Debug,
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := conf.applyEnv(); err != nil {
		return nil, err
	}

	if err := conf.applyFlags(args); err != nil {
		return nil, err
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}

	return &conf, nil
}

func DefaultConfig() Config {
	return Config{
		RootDir:            filepath.Join(xdg.UserDirs.Download, "nativedl"),
		DataDir:            filepath.Join(xdg.DataHome, "nativedl"),
		Identifier:         identifier,
		MaxConcurrentTasks: maxConcurrentTasks,
		MaxRetries:         maxRetries,
		RetryDelay:         retryDelay,
		ProgressInterval:   progressInterval,
	}
}

// DBPath is the location of the task database.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, c.Identifier+".db")
}

// LogPath is the location of the log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, c.Identifier+".log")
}

// zeroOr returns def if v is the zero value for its type.
func zeroOr[T any](v, def T) T {
	if reflect.ValueOf(v).IsZero() {
		return def
	}

	return v
}

// applyEnv overrides the config with NATIVEDL_* environment variables.
func (c *Config) applyEnv() error {
	var errs []error

	lookup := func(key string, set func(string) error) {
		v, ok := os.LookupEnv(envPrefix + key)
		if !ok {
			return
		}
		if err := set(strings.TrimSpace(v)); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s%s=%q: %v", ErrInvalidConfig, envPrefix, key, v, err))
		}
	}

	lookup("ROOT_DIR", func(v string) error { c.RootDir = v; return nil })
	lookup("DATA_DIR", func(v string) error { c.DataDir = v; return nil })
	lookup("IDENTIFIER", func(v string) error { c.Identifier = v; return nil })
	lookup("MAX_CONCURRENT_TASKS", func(v string) (err error) { c.MaxConcurrentTasks, err = strconv.Atoi(v); return err })
	lookup("MAX_RETRIES", func(v string) (err error) { c.MaxRetries, err = strconv.Atoi(v); return err })
	lookup("RETRY_DELAY", func(v string) (err error) { c.RetryDelay, err = time.ParseDuration(v); return err })
	lookup("THROTTLE_SPEED", func(v string) (err error) { c.ThrottleSpeed, err = strconv.ParseInt(v, 10, 64); return err })
	lookup("PROGRESS_INTERVAL", func(v string) (err error) { c.ProgressInterval, err = time.ParseDuration(v); return err })
	lookup("DEBUG", func(v string) (err error) { c.Debug, err = strconv.ParseBool(v); return err })

	return errors.Join(errs...)
}

// applyFlags parses args and plugs the flag values into the config.
func (c *Config) applyFlags(args []string) error {
	flags := flag.NewFlagSet("nativedl", flag.ContinueOnError)
	flags.SetOutput(io.Discard)

	urls := flags.String("urls", "", "space separated URLs to download")
	flags.StringVar(&c.RootDir, "root", c.RootDir, "directory downloaded files are written to")
	flags.StringVar(&c.DataDir, "data", c.DataDir, "directory for the task database and log file")
	flags.StringVar(&c.Identifier, "id", c.Identifier, "name of the task database and log file")
	flags.IntVar(&c.MaxConcurrentTasks, "mct", c.MaxConcurrentTasks, "max number of downloads that run together")
	flags.IntVar(&c.MaxRetries, "mr", c.MaxRetries, "maximum number of retries before a download fails")
	flags.DurationVar(&c.RetryDelay, "rd", c.RetryDelay, "base delay between retries")
	flags.Int64Var(&c.ThrottleSpeed, "throttle", c.ThrottleSpeed, "combined download speed cap in bytes per second, 0 for none")
	flags.DurationVar(&c.ProgressInterval, "pi", c.ProgressInterval, "interval between progress updates")
	flags.BoolVar(&c.Debug, "debug", c.Debug, "enable debug logging")

	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if *urls != "" {
		c.URLs = strings.Fields(*urls)
	}
	c.URLs = append(c.URLs, flags.Args()...)

	return nil
}

func (c *Config) validate() error {
	if c.RootDir == "" || c.DataDir == "" || c.Identifier == "" {
		return ErrInvalidConfig
	}

	if c.MaxConcurrentTasks <= 0 || c.MaxRetries < 0 || c.RetryDelay < 0 {
		return ErrInvalidConfig
	}

	if c.ThrottleSpeed < 0 || c.ProgressInterval <= 0 {
		return ErrInvalidConfig
	}

	return nil
}
