package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/davidleitw/forumcollect/internal/craw"
	"github.com/davidleitw/forumcollect/internal/rule"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "FORUM"

	MinTimeout = time.Second
)

// Config is loaded once at start up and only read afterwards.
type Config struct {
	Token     string
	BaseUrl   string
	UserAgent string

	Timeout         time.Duration
	RequestInterval time.Duration
	RetryDelay      time.Duration
	MaxRetryWait    time.Duration
	RetryBudget     int

	SkipAuthors []string
}

var ErrMissingToken = errors.New("no API token configured, set FORUM_TOKEN or token in config.yaml")

func setDefaults(v *viper.Viper) {
	v.SetDefault("base_url", craw.DefaultBaseUrl)
	v.SetDefault("user_agent", craw.DefaultUserAgent)
	v.SetDefault("timeout", craw.DefaultTimeout)
	v.SetDefault("request_interval", craw.DefaultRequestInterval)
	v.SetDefault("retry_delay", craw.DefaultRetryDelay)
	v.SetDefault("max_retry_wait", craw.DefaultMaxRetryWait)
	v.SetDefault("retry_budget", craw.DefaultRetryBudget)
	v.SetDefault("skip_authors", rule.DefaultSkipAuthors)
}

// Load reads, in increasing priority: defaults, the config file (path, or
// config.yaml in the working directory when path is empty), .env and the
// process environment with the FORUM_ prefix.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug(".env not found, skip loading")
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			logrus.WithError(err).Error("viper.ReadInConfig failed")
			return nil, fmt.Errorf("read config: %w", err)
		}
		logrus.Debug("config.yaml not found, using environment and defaults")
	} else {
		logrus.WithField("file", v.ConfigFileUsed()).Info("Config file loaded")
	}

	cfg := &Config{
		Token:       strings.TrimSpace(v.GetString("token")),
		BaseUrl:     v.GetString("base_url"),
		UserAgent:   v.GetString("user_agent"),
		RetryBudget: v.GetInt("retry_budget"),
		SkipAuthors: stringList(v, "skip_authors"),
	}

	durations := map[string]*time.Duration{
		"timeout":          &cfg.Timeout,
		"request_interval": &cfg.RequestInterval,
		"retry_delay":      &cfg.RetryDelay,
		"max_retry_wait":   &cfg.MaxRetryWait,
	}
	for key, target := range durations {
		value, err := duration(v, key)
		if err != nil {
			logrus.WithError(err).WithField("key", key).Error("invalid duration")
			return nil, err
		}
		*target = value
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// duration reads key as a Go duration string ("30s", "1m"). A bare number
// is taken as seconds.
func duration(v *viper.Viper, key string) (time.Duration, error) {
	switch value := v.Get(key).(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return value, nil
	case int, int32, int64, uint, uint32, uint64, float32, float64:
		return seconds(cast.ToFloat64(value)), nil
	case string:
		value = strings.TrimSpace(value)
		if number, err := strconv.ParseFloat(value, 64); err == nil {
			return seconds(number), nil
		}
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("%s: unsupported value %v", key, value)
	}
}

func seconds(number float64) time.Duration {
	return time.Duration(number * float64(time.Second))
}

// stringList reads key as a list. Environment variables arrive as one
// string and are split on commas.
func stringList(v *viper.Viper, key string) []string {
	raw, ok := v.Get(key).(string)
	if !ok {
		return v.GetStringSlice(key)
	}

	items := make([]string, 0)
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func (cfg *Config) validate() error {
	if cfg.Token == "" {
		return ErrMissingToken
	}
	if cfg.RetryBudget < 1 {
		return fmt.Errorf("retry_budget must be at least 1, got %d", cfg.RetryBudget)
	}
	if cfg.Timeout < MinTimeout {
		return fmt.Errorf("timeout must be at least %s, got %s", MinTimeout, cfg.Timeout)
	}
	for key, value := range map[string]time.Duration{
		"request_interval": cfg.RequestInterval,
		"retry_delay":      cfg.RetryDelay,
		"max_retry_wait":   cfg.MaxRetryWait,
	} {
		if value < 0 {
			return fmt.Errorf("%s must not be negative, got %s", key, value)
		}
	}
	return nil
}

func (cfg *Config) CrawlerOptions() craw.Options {
	return craw.Options{
		BaseUrl:         cfg.BaseUrl,
		Token:           cfg.Token,
		UserAgent:       cfg.UserAgent,
		Timeout:         cfg.Timeout,
		RequestInterval: cfg.RequestInterval,
		RetryDelay:      cfg.RetryDelay,
		MaxRetryWait:    cfg.MaxRetryWait,
		RetryBudget:     cfg.RetryBudget,
	}
}
