package changefeed

import (
	"context"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/goliatone/go-content-cache/content"
)

// ApplyFunc folds one record into the cache.
type ApplyFunc func(ctx context.Context, rec content.ChangeRecord) error

// GapFunc is called when a missing sequence number does not show up within
// the gap timeout. It is expected to resynchronize, typically by rebuilding
// and calling Reset with the rebuilt sequence.
type GapFunc func(ctx context.Context) error

type Config struct {
	// Buffer is the capacity of the delivery queue.
	Buffer int
	// GapTimeout is how long out of order records are parked waiting for the
	// missing ones before the gap handler runs.
	GapTimeout time.Duration
	// RetryInterval is how often a record whose apply failed is tried again.
	// Zero uses the default.
	RetryInterval time.Duration
}

const defaultRetryInterval = 100 * time.Millisecond

func DefaultConfig() Config {
	return Config{
		Buffer:        256,
		GapTimeout:    5 * time.Second,
		RetryInterval: defaultRetryInterval,
	}
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Buffer, validation.Required, validation.Min(1)),
		validation.Field(&c.GapTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.RetryInterval, validation.Min(time.Duration(0))),
	)
}

// Stats counts what the adapter has seen.
type Stats struct {
	Last        uint64 `json:"last"`
	Parked      int    `json:"parked"`
	Delivered   int64  `json:"delivered"`
	Duplicates  int64  `json:"duplicates"`
	Gaps        int64  `json:"gaps"`
	ApplyErrors int64  `json:"apply_errors"`
}

// Adapter turns an at-least-once, possibly reordered stream of change records
// into an ordered, de-duplicated sequence of apply calls on one goroutine.
//
// Records with Seq 0 carry no ordering and are applied in arrival order.
type Adapter struct {
	cfg    Config
	apply  ApplyFunc
	onGap  GapFunc
	logger zerolog.Logger

	in   chan content.ChangeRecord
	done chan struct{}
	once sync.Once

	mu       sync.Mutex
	last     uint64
	anchored bool
	parked   map[uint64]content.ChangeRecord
	gapSince time.Time

	delivered   *xsync.Counter
	duplicates  *xsync.Counter
	gaps        *xsync.Counter
	applyErrors *xsync.Counter
}

type Option func(*Adapter)

// WithGapHandler sets the resynchronization callback. Without one a gap that
// times out is skipped and the parked records are applied.
func WithGapHandler(fn GapFunc) Option {
	return func(a *Adapter) {
		a.onGap = fn
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

func New(cfg Config, apply ApplyFunc, opts ...Option) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Adapter{
		cfg:         cfg,
		apply:       apply,
		logger:      zerolog.Nop(),
		in:          make(chan content.ChangeRecord, cfg.Buffer),
		done:        make(chan struct{}),
		parked:      make(map[uint64]content.ChangeRecord),
		delivered:   xsync.NewCounter(),
		duplicates:  xsync.NewCounter(),
		gaps:        xsync.NewCounter(),
		applyErrors: xsync.NewCounter(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Deliver queues rec. It is safe to call from any goroutine and only blocks
// while the queue is full. Records delivered after Run returned are dropped.
func (a *Adapter) Deliver(rec content.ChangeRecord) {
	a.delivered.Inc()
	select {
	case a.in <- rec:
	case <-a.done:
	}
}

// Reset declares seq as the last applied sequence, typically after a rebuild.
// Parked records at or below seq are discarded.
func (a *Adapter) Reset(seq uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last = seq
	a.anchored = true
	for s := range a.parked {
		if s <= seq {
			delete(a.parked, s)
		}
	}
	a.gapSince = time.Time{}
	if len(a.parked) > 0 {
		a.gapSince = time.Now()
	}
}

// Run applies queued records until ctx is done.
func (a *Adapter) Run(ctx context.Context) error {
	defer a.once.Do(func() { close(a.done) })

	retry := a.cfg.RetryInterval
	if retry <= 0 {
		retry = defaultRetryInterval
	}
	interval := min(a.cfg.GapTimeout/4, retry)
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec := <-a.in:
			a.accept(ctx, rec)
		case <-ticker.C:
			a.checkGap(ctx)
		}
	}
}

func (a *Adapter) accept(ctx context.Context, rec content.ChangeRecord) {
	if rec.Seq == 0 {
		a.applyOne(ctx, rec)
		return
	}

	a.mu.Lock()
	if !a.anchored {
		a.last = rec.Seq - 1
		a.anchored = true
	}
	switch {
	case rec.Seq <= a.last:
		a.mu.Unlock()
		a.duplicates.Inc()
		a.logger.Debug().Uint64("seq", rec.Seq).Uint64("last", a.last).Msg("duplicate change dropped")
		return
	case rec.Seq > a.last+1:
		if _, ok := a.parked[rec.Seq]; ok {
			a.mu.Unlock()
			a.duplicates.Inc()
			return
		}
		a.parked[rec.Seq] = rec
		if a.gapSince.IsZero() {
			a.gapSince = time.Now()
		}
		last := a.last
		a.mu.Unlock()
		a.logger.Debug().Uint64("seq", rec.Seq).Uint64("waiting_for", last+1).Msg("change parked")
		return
	}
	a.mu.Unlock()

	if a.applyOne(ctx, rec) {
		a.drain(ctx)
	}
}

// drain applies parked records that have become next in line. It stops at
// the first record that fails. A record leaves parked once applied.
func (a *Adapter) drain(ctx context.Context) {
	for {
		a.mu.Lock()
		rec, ok := a.parked[a.last+1]
		a.mu.Unlock()
		if !ok {
			return
		}
		if !a.applyOne(ctx, rec) {
			return
		}
	}
}

// applyOne applies rec and reports whether the feed may move on. A sequenced
// record that fails is parked as the next one in line, so nothing after it is
// applied until a retry succeeds or a resync moves past it.
func (a *Adapter) applyOne(ctx context.Context, rec content.ChangeRecord) bool {
	err := a.apply(ctx, rec)
	if err != nil {
		a.applyErrors.Inc()
		a.logger.Error().Err(err).
			Uint64("seq", rec.Seq).
			Int("content_id", rec.ContentID).
			Str("op", rec.Op.String()).
			Msg("apply change")
	}
	if rec.Seq == 0 {
		return err == nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	// apply may have rebuilt and reset past rec.
	if rec.Seq <= a.last {
		return true
	}
	if err != nil {
		a.parked[rec.Seq] = rec
		if a.gapSince.IsZero() {
			a.gapSince = time.Now()
		}
		return false
	}
	a.last = rec.Seq
	delete(a.parked, rec.Seq)
	a.gapSince = time.Time{}
	if len(a.parked) > 0 {
		a.gapSince = time.Now()
	}
	return true
}

// checkGap retries a failed head record, then resyncs or skips a gap that
// has outlived the timeout.
func (a *Adapter) checkGap(ctx context.Context) {
	a.mu.Lock()
	_, retry := a.parked[a.last+1]
	a.mu.Unlock()
	if retry {
		a.drain(ctx)
	}

	a.mu.Lock()
	expired := len(a.parked) > 0 && time.Since(a.gapSince) >= a.cfg.GapTimeout
	last := a.last
	a.mu.Unlock()
	if !expired {
		return
	}

	a.gaps.Inc()
	a.logger.Warn().Uint64("missing", last+1).Dur("timeout", a.cfg.GapTimeout).Msg("change feed gap")

	if a.onGap != nil {
		if err := a.onGap(ctx); err != nil {
			a.logger.Error().Err(err).Msg("resync after gap")
			a.mu.Lock()
			a.gapSince = time.Now()
			a.mu.Unlock()
			return
		}
	} else {
		a.skipGap()
	}
	a.drain(ctx)
}

// skipGap moves last to just before the lowest parked record.
func (a *Adapter) skipGap() {
	a.mu.Lock()
	defer a.mu.Unlock()
	var lowest uint64
	for s := range a.parked {
		if lowest == 0 || s < lowest {
			lowest = s
		}
	}
	if lowest > 0 {
		a.last = lowest - 1
		a.gapSince = time.Now()
	}
}

func (a *Adapter) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{
		Last:        a.last,
		Parked:      len(a.parked),
		Delivered:   a.delivered.Value(),
		Duplicates:  a.duplicates.Value(),
		Gaps:        a.gaps.Value(),
		ApplyErrors: a.applyErrors.Value(),
	}
}
