package di

import (
	"context"
	"testing"

	"github.com/goliatone/go-content-cache/content"
	"github.com/goliatone/go-content-cache/snapshot"
)

func BenchmarkScopedRouteLookup(b *testing.B) {
	container := startedSite(b)
	svc := container.Facade()
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			rctx, scope := svc.BeginScope(ctx)
			err := svc.View(rctx, func(s *snapshot.Snapshot) error {
				if _, err := s.GetByRoute(rctx, content.KindContent, "/about-us/team"); err != nil {
					return err
				}
				_, err := s.GetRoute(rctx, 5)
				return err
			})
			_ = scope.End()
			if err != nil {
				b.Error(err)
				return
			}
		}
	})
}

func BenchmarkSnapshotChildren(b *testing.B) {
	container := startedSite(b)
	manager := container.Facade().Manager()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		snap, err := manager.CreateSnapshot(false)
		if err != nil {
			b.Fatal(err)
		}
		children, err := snap.GetChildren(1)
		if err != nil {
			b.Fatal(err)
		}
		for range children {
		}
		_ = snap.Release()
	}
}
