package facade

import (
	"context"
	"sync"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-content-cache/snapshot"
)

// ErrScopeEnded is returned when a scope is used or ended after End.
var ErrScopeEnded = goerrors.New("request scope already ended", goerrors.CategoryOperation).
	WithTextCode("SCOPE_ENDED")

type scopeKey struct{}
type previewKey struct{}

// Scope is a unit of work, usually one request, that sees a single snapshot
// for its whole duration.
type Scope struct {
	svc     *Service
	preview bool

	mu    sync.Mutex
	snap  *snapshot.Snapshot
	ended bool
}

// WithPreview marks ctx so that scopes and snapshots created from it see
// draft data.
func WithPreview(ctx context.Context) context.Context {
	return context.WithValue(ctx, previewKey{}, true)
}

// IsPreview reports whether ctx was marked with WithPreview.
func IsPreview(ctx context.Context) bool {
	v, _ := ctx.Value(previewKey{}).(bool)
	return v
}

// ScopeFrom returns the scope carried by ctx, if any.
func ScopeFrom(ctx context.Context) (*Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(*Scope)
	return s, ok && s != nil
}

func (s *Scope) Preview() bool { return s.preview }

func (s *Scope) snapshot() (*snapshot.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil, ErrScopeEnded
	}
	if s.snap == nil {
		snap, err := s.svc.manager.CreateSnapshot(s.preview)
		if err != nil {
			return nil, err
		}
		s.snap = snap
	}
	return s.snap, nil
}

// End releases the pinned snapshot, if one was created. It must be called
// exactly once per scope.
func (s *Scope) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return ErrScopeEnded
	}
	s.ended = true
	s.svc.openScopes.Dec()
	if s.snap == nil {
		return nil
	}
	err := s.snap.Release()
	s.snap = nil
	return err
}
