package facade

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/goliatone/go-content-cache/cache"
	"github.com/goliatone/go-content-cache/changefeed"
	"github.com/goliatone/go-content-cache/content"
	"github.com/goliatone/go-content-cache/internal/contentstore"
	"github.com/goliatone/go-content-cache/snapshot"
)

// Source is the persisted store the cache is materialized from.
type Source interface {
	// LoadFullTree returns every node together with the sequence number of
	// the last change it includes.
	LoadFullTree(ctx context.Context) (content.Tree, error)

	// SubscribeToChanges delivers every change committed after seq, in
	// commit order, at least once. The returned func stops delivery.
	SubscribeToChanges(ctx context.Context, after uint64, handler func(content.ChangeRecord)) (func(), error)
}

// Stats aggregates the manager, change feed and scope counters.
type Stats struct {
	snapshot.Stats
	Feed       changefeed.Stats `json:"feed"`
	OpenScopes int64            `json:"open_scopes"`
	Incidents  int64            `json:"incidents"`
	Ready      bool             `json:"ready"`
}

// Service is the entry point readers and the change stream go through.
type Service struct {
	source  Source
	opts    Options
	manager *snapshot.Manager
	derived cache.CacheService
	logger  zerolog.Logger

	feed        *changefeed.Adapter
	openScopes  *xsync.Counter
	incidents   *xsync.Counter
	stopMu      sync.Mutex
	unsubscribe func()
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

func NewService(source Source, opts Options, options ...Option) (*Service, error) {
	if source == nil {
		return nil, errors.New("facade: source is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		source:     source,
		opts:       opts,
		logger:     zerolog.Nop(),
		openScopes: xsync.NewCounter(),
		incidents:  xsync.NewCounter(),
	}
	for _, opt := range options {
		opt(s)
	}

	managerOpts := []snapshot.Option{
		snapshot.WithLogger(s.logger.With().Str("component", "snapshot").Logger()),
	}
	if s.derived != nil {
		managerOpts = append(managerOpts, snapshot.WithDerivedCache(s.derived))
	}
	s.manager = snapshot.NewManager(managerOpts...)

	feed, err := changefeed.New(opts.Feed, s.NotifyChange,
		changefeed.WithGapHandler(s.Rebuild),
		changefeed.WithLogger(s.logger.With().Str("component", "changefeed").Logger()),
	)
	if err != nil {
		return nil, err
	}
	s.feed = feed
	return s, nil
}

// Manager exposes the underlying snapshot manager.
func (s *Service) Manager() *snapshot.Manager { return s.manager }

// Ready reports whether a first load has completed.
func (s *Service) Ready() bool { return s.manager.Ready() }

// BeginScope starts a request scope. Snapshots requested with the returned
// context share one pinned generation until End or Release is called.
func (s *Service) BeginScope(ctx context.Context) (context.Context, *Scope) {
	scope := &Scope{svc: s, preview: s.opts.DefaultPreview || IsPreview(ctx)}
	s.openScopes.Inc()
	return context.WithValue(ctx, scopeKey{}, scope), scope
}

// GetSnapshot returns the snapshot for ctx. Within a scope, and with
// FacadeCacheIsApplicationRequestCache set, the scope's pinned snapshot is
// returned and the scope owns it. Otherwise a fresh snapshot is returned and
// the caller must Release it.
func (s *Service) GetSnapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	if scope, ok := ScopeFrom(ctx); ok && s.opts.FacadeCacheIsApplicationRequestCache {
		return scope.snapshot()
	}
	return s.manager.CreateSnapshot(s.opts.DefaultPreview || IsPreview(ctx))
}

// View runs fn with a snapshot for ctx and releases it afterwards when the
// caller owns it.
func (s *Service) View(ctx context.Context, fn func(*snapshot.Snapshot) error) error {
	snap, err := s.GetSnapshot(ctx)
	if err != nil {
		return err
	}
	if _, scoped := ScopeFrom(ctx); !scoped || !s.opts.FacadeCacheIsApplicationRequestCache {
		defer snap.Release()
	}
	return fn(snap)
}

// Release ends the scope carried by ctx.
func (s *Service) Release(ctx context.Context) error {
	scope, ok := ScopeFrom(ctx)
	if !ok {
		return errors.New("facade: no scope in context")
	}
	return scope.End()
}

// NotifyChange applies one change record. A record that does not fit the
// current tree is logged as a correctness incident and the cache is rebuilt
// from the source.
func (s *Service) NotifyChange(ctx context.Context, rec content.ChangeRecord) error {
	err := s.manager.ApplyChange(ctx, rec)
	if err == nil || !content.IsInconsistent(err) {
		return err
	}

	s.incidents.Inc()
	s.logger.Error().Err(err).
		Uint64("seq", rec.Seq).
		Int("content_id", rec.ContentID).
		Str("op", rec.Op.String()).
		Msg("inconsistent change, rebuilding content cache")
	return s.Rebuild(ctx)
}

// Rebuild reloads the whole tree from the source. If the source cannot be
// reached the current generation keeps serving and the error is returned.
func (s *Service) Rebuild(ctx context.Context) error {
	err := s.manager.Rebuild(ctx, s.load)
	if err != nil {
		ev := s.logger.Warn()
		if !s.manager.Ready() {
			ev = s.logger.Error()
		}
		ev.Err(err).Bool("ready", s.manager.Ready()).Msg("rebuild failed")
		return err
	}
	s.feed.Reset(s.manager.Seq())
	return nil
}

func (s *Service) load(ctx context.Context) (*contentstore.Store, error) {
	if s.opts.LoadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.LoadTimeout)
		defer cancel()
	}
	tree, err := s.source.LoadFullTree(ctx)
	if err != nil {
		return nil, err
	}
	return contentstore.Build(tree)
}

// Start performs the first load and then follows the change stream until
// Close. If the first load fails the service is not ready and Start returns
// the error.
func (s *Service) Start(ctx context.Context) error {
	if err := s.Rebuild(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.feed.Run(runCtx)
	}()

	unsubscribe, err := s.source.SubscribeToChanges(runCtx, s.manager.Seq(), s.feed.Deliver)
	if err != nil {
		cancel()
		s.wg.Wait()
		return err
	}

	s.stopMu.Lock()
	s.cancel = cancel
	s.unsubscribe = unsubscribe
	s.stopMu.Unlock()

	s.logger.Info().Uint64("seq", s.manager.Seq()).Msg("content cache started")
	return nil
}

// Close stops following the change stream. Snapshots already handed out stay
// readable until released.
func (s *Service) Close() error {
	s.stopMu.Lock()
	unsubscribe, cancel := s.unsubscribe, s.cancel
	s.unsubscribe, s.cancel = nil, nil
	s.stopMu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	return nil
}

func (s *Service) Stats() Stats {
	return Stats{
		Stats:      s.manager.Stats(),
		Feed:       s.feed.Stats(),
		OpenScopes: s.openScopes.Value(),
		Incidents:  s.incidents.Value(),
		Ready:      s.manager.Ready(),
	}
}

// Middleware gives every request its own scope and ends it however the
// handler returns.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, scope := s.BeginScope(r.Context())
		defer func() {
			if err := scope.End(); err != nil {
				s.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("end request scope")
			}
		}()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
