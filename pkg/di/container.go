package di

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/goliatone/go-content-cache/cache"
	"github.com/goliatone/go-content-cache/contentrepo"
	"github.com/goliatone/go-content-cache/facade"
	"github.com/goliatone/go-content-cache/internal/logging"
	"github.com/goliatone/go-content-cache/pkg/config"
)

// Container owns the components of a running content cache: the persisted
// store, the shared sturdyc service and the facade readers go through.
type Container struct {
	config       config.Config
	logger       zerolog.Logger
	cacheService cache.CacheService
	repo         *contentrepo.Repo
	facade       *facade.Service
}

// NewContainer opens the store and builds the facade over it. The facade is
// not started; call Start to perform the first load.
//
// One cache service backs both the derived values of the snapshot manager and,
// when cfg.RowCache is set, node row lookups in the store. Their keys live in
// separate namespaces.
func NewContainer(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cacheService, err := cache.NewCacheService(cfg.Derived)
	if err != nil {
		return nil, err
	}

	repoOpts := []contentrepo.Option{
		contentrepo.WithLogger(logging.Component(logger, "contentrepo")),
	}
	if cfg.RowCache {
		repoOpts = append(repoOpts, contentrepo.WithRowCache(cacheService))
	}
	repo, err := contentrepo.Open(ctx, cfg.Store, repoOpts...)
	if err != nil {
		return nil, err
	}

	svc, err := facade.NewService(repo, cfg.Facade,
		facade.WithLogger(logging.Component(logger, "facade")),
		facade.WithDerivedCache(cacheService),
	)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}

	return &Container{
		config:       cfg,
		logger:       logger,
		cacheService: cacheService,
		repo:         repo,
		facade:       svc,
	}, nil
}

// NewContainerWithDefaults builds a container from config.Default with the
// given store DSN and a disabled logger.
func NewContainerWithDefaults(ctx context.Context, dsn string) (*Container, error) {
	cfg := config.Default()
	if dsn != "" {
		cfg.Store.DSN = dsn
	}
	return NewContainer(ctx, cfg, zerolog.Nop())
}

// Start loads the tree and begins following the change log.
func (c *Container) Start(ctx context.Context) error {
	return c.facade.Start(ctx)
}

// Close stops the facade before closing the database it polls.
func (c *Container) Close() error {
	return errors.Join(c.facade.Close(), c.repo.Close())
}

func (c *Container) CacheService() cache.CacheService { return c.cacheService }
func (c *Container) Repo() *contentrepo.Repo { return c.repo }
func (c *Container) Facade() *facade.Service { return c.facade }
func (c *Container) Logger() zerolog.Logger { return c.logger }

// Config returns a copy of the configuration the container was built with.
func (c *Container) Config() config.Config {
	return c.config
}
