// Package config loads the content cache service settings from the
// environment, optionally seeded from a .env file.
package config

import (
	"os"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/joho/godotenv"

	"github.com/goliatone/go-content-cache/cache"
	"github.com/goliatone/go-content-cache/contentrepo"
	"github.com/goliatone/go-content-cache/facade"
)

// Environment variable names.
const (
	EnvDSN          = "CONTENT_CACHE_DSN"
	EnvAddr         = "CONTENT_CACHE_ADDR"
	EnvRequestCache = "CONTENT_CACHE_REQUEST_CACHE"
	EnvPreview      = "CONTENT_CACHE_DEFAULT_PREVIEW"
	EnvPollInterval = "CONTENT_CACHE_POLL_INTERVAL"
	EnvGapTimeout   = "CONTENT_CACHE_GAP_TIMEOUT"
	EnvLoadTimeout  = "CONTENT_CACHE_LOAD_TIMEOUT"
	EnvCacheSize    = "CONTENT_CACHE_DERIVED_CAPACITY"
	EnvRowCache     = "CONTENT_CACHE_ROW_CACHE"
	EnvLogLevel     = "CONTENT_CACHE_LOG_LEVEL"
	EnvLogFile      = "CONTENT_CACHE_LOG_FILE"
	EnvLogConsole   = "CONTENT_CACHE_LOG_CONSOLE"
)

// Config is everything the service binary needs to start.
type Config struct {
	Addr       string
	LogLevel   string
	LogFile    string
	LogConsole bool
	RowCache   bool

	Store   contentrepo.Config
	Facade  facade.Options
	Derived cache.Config
}

func Default() Config {
	return Config{
		Addr:     ":8080",
		LogLevel: "info",
		RowCache: true,
		Store:    contentrepo.DefaultConfig(),
		Facade:   facade.DefaultOptions(),
		Derived:  cache.DefaultConfig(),
	}
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Addr, validation.Required),
		validation.Field(&c.LogLevel, validation.In("trace", "debug", "info", "warn", "error", "disabled")),
		validation.Field(&c.Store),
		validation.Field(&c.Facade),
		validation.Field(&c.Derived),
	)
}

// Load reads the given .env files, if they exist, and then the environment.
// Variables already set in the environment win over .env values. With no
// files, ".env" in the working directory is tried.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) > 0 {
		if err := godotenv.Load(present...); err != nil {
			return Config{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "load env file")
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup, starting from Default.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	p := parser{lookup: lookup}

	p.str(EnvDSN, &cfg.Store.DSN)
	p.str(EnvAddr, &cfg.Addr)
	p.str(EnvLogLevel, &cfg.LogLevel)
	p.str(EnvLogFile, &cfg.LogFile)
	p.boolean(EnvLogConsole, &cfg.LogConsole)
	p.boolean(EnvRowCache, &cfg.RowCache)
	p.boolean(EnvRequestCache, &cfg.Facade.FacadeCacheIsApplicationRequestCache)
	p.boolean(EnvPreview, &cfg.Facade.DefaultPreview)
	p.duration(EnvPollInterval, &cfg.Store.PollInterval)
	p.duration(EnvGapTimeout, &cfg.Facade.Feed.GapTimeout)
	p.duration(EnvLoadTimeout, &cfg.Facade.LoadTimeout)
	p.integer(EnvCacheSize, &cfg.Derived.Capacity)

	if p.err != nil {
		return Config{}, p.err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid configuration")
	}
	return cfg, nil
}

// parser keeps the first conversion error.
type parser struct {
	lookup func(string) (string, bool)
	err    error
}

func (p *parser) get(key string) (string, bool) {
	v, ok := p.lookup(key)
	return v, ok && v != ""
}

func (p *parser) fail(key, value string, err error) {
	if p.err == nil {
		p.err = goerrors.Wrap(err, goerrors.CategoryBadInput, key+"="+strconv.Quote(value))
	}
}

func (p *parser) str(key string, dst *string) {
	if v, ok := p.get(key); ok {
		*dst = v
	}
}

func (p *parser) boolean(key string, dst *bool) {
	if v, ok := p.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (p *parser) duration(key string, dst *time.Duration) {
	if v, ok := p.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = d
	}
}

func (p *parser) integer(key string, dst *int) {
	if v, ok := p.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = n
	}
}
