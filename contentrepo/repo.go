package contentrepo

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	repository "github.com/goliatone/go-repository-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-content-cache/cache"
	"github.com/goliatone/go-content-cache/content"
	"github.com/goliatone/go-content-cache/repositorycache"
)

// Provider names a supported database.
type Provider string

const (
	ProviderSQLite   Provider = "sqlite3"
	ProviderPostgres Provider = "postgres"
)

// DetectProvider picks the database from a connection string. Postgres URLs
// and key/value DSNs with a host are Postgres; everything else is a SQLite
// path or URI.
func DetectProvider(dsn string) Provider {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return ProviderPostgres
	case strings.Contains(lower, "host=") && strings.Contains(lower, "dbname="):
		return ProviderPostgres
	default:
		return ProviderSQLite
	}
}

type Config struct {
	DSN string
	// PollInterval is how often subscribers read the change log.
	PollInterval time.Duration
	// BatchSize caps the change rows read per poll.
	BatchSize int
}

func DefaultConfig() Config {
	return Config{
		DSN:          "file:content.db?_foreign_keys=on&_busy_timeout=5000",
		PollInterval: time.Second,
		BatchSize:    500,
	}
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.DSN, validation.Required),
		validation.Field(&c.PollInterval, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.BatchSize, validation.Required, validation.Min(1)),
	)
}

// Repo is the persisted content store. Every mutation writes the node rows
// and appends to the change log in one transaction.
type Repo struct {
	db       *bun.DB
	cfg      Config
	provider Provider
	logger   zerolog.Logger

	nodes    repository.Repository[*NodeRow]
	rowCache cache.CacheService
	cached   *repositorycache.CachedRepository[*NodeRow]

	// writeMu serializes writers in this process; the counter row serializes
	// writers across processes.
	writeMu sync.Mutex

	subMu   sync.Mutex
	nextSub uint64
	subs    *xsync.MapOf[uint64, chan struct{}]
}

type Option func(*Repo)

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Repo) {
		r.logger = logger
	}
}

// WithRowCache serves node row lookups (Lookup, GetRow) through svc.
func WithRowCache(svc cache.CacheService) Option {
	return func(r *Repo) {
		r.rowCache = svc
	}
}

// Open connects, checks the database is reachable and creates the schema.
// A database that cannot be reached fails with content.ErrStoreUnavailable.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Repo, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	provider := DetectProvider(cfg.DSN)
	sqldb, err := sql.Open(string(provider), cfg.DSN)
	if err != nil {
		return nil, content.StoreUnavailable(err, "open database")
	}

	var db *bun.DB
	switch provider {
	case ProviderPostgres:
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		// One connection keeps in-memory databases whole and avoids
		// SQLITE_BUSY between writers of this process.
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	}

	r := NewWithDB(db, cfg, opts...)
	r.provider = provider

	if err := r.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := r.CreateSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	r.logger.Info().Str("provider", string(provider)).Msg("content store opened")
	return r, nil
}

// NewWithDB wraps an existing bun database. The schema is not created.
func NewWithDB(db *bun.DB, cfg Config, opts ...Option) *Repo {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	r := &Repo{
		db:       db,
		cfg:      cfg,
		provider: ProviderSQLite,
		logger:   zerolog.Nop(),
		nodes:    NewNodeRepository(db),
		subs:     xsync.NewMapOf[uint64, chan struct{}](),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.rowCache != nil {
		r.cached = repositorycache.New(r.nodes, r.rowCache, nil, repositorycache.WithLogger(r.logger))
	}
	return r
}

func (r *Repo) DB() *bun.DB { return r.db }
func (r *Repo) Provider() Provider { return r.provider }
func (r *Repo) Close() error { return r.db.Close() }

// Ping checks the database is reachable.
func (r *Repo) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return content.StoreUnavailable(err, "ping database")
	}
	return nil
}

// CreateSchema creates the tables and seeds the counters if needed.
func (r *Repo) CreateSchema(ctx context.Context) error {
	models := []any{(*NodeRow)(nil), (*ChangeRow)(nil), (*counterRow)(nil)}
	for _, model := range models {
		if _, err := r.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return content.StoreUnavailable(err, "create schema")
		}
	}
	if _, err := r.db.NewCreateIndex().
		Model((*NodeRow)(nil)).
		Index("content_nodes_parent_idx").
		Column("parent_id", "sort_order").
		IfNotExists().
		Exec(ctx); err != nil {
		return content.StoreUnavailable(err, "create schema")
	}
	for _, name := range []string{counterSeq, counterNode} {
		if _, err := r.db.NewInsert().
			Model(&counterRow{Name: name}).
			On("CONFLICT (name) DO NOTHING").
			Exec(ctx); err != nil {
			return content.StoreUnavailable(err, "seed counters")
		}
	}
	return nil
}

func (r *Repo) rows() repository.Repository[*NodeRow] {
	if r.cached != nil {
		return r.cached
	}
	return r.nodes
}
