package facade

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/rs/zerolog"

	"github.com/goliatone/go-content-cache/cache"
	"github.com/goliatone/go-content-cache/changefeed"
)

// Options controls how snapshots are handed to callers.
type Options struct {
	// FacadeCacheIsApplicationRequestCache pins one snapshot per request
	// scope. When false every GetSnapshot call creates a new snapshot owned
	// by the caller.
	FacadeCacheIsApplicationRequestCache bool

	// DefaultPreview is used for scopes that do not carry WithPreview.
	DefaultPreview bool

	// Feed configures ordering of incoming change records.
	Feed changefeed.Config

	// LoadTimeout bounds a single full load. Zero means no timeout.
	LoadTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		FacadeCacheIsApplicationRequestCache: true,
		Feed:                                 changefeed.DefaultConfig(),
		LoadTimeout:                          time.Minute,
	}
}

func (o Options) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.Feed),
		validation.Field(&o.LoadTimeout, validation.Min(time.Duration(0))),
	)
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithDerivedCache memoizes per generation derived values, such as routes,
// in svc.
func WithDerivedCache(svc cache.CacheService) Option {
	return func(s *Service) {
		s.derived = svc
	}
}
