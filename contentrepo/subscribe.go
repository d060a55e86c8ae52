package contentrepo

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-content-cache/content"
)

// SubscribeToChanges follows the change log from after. It polls every
// PollInterval and also wakes up right after a commit made through this Repo.
// Delivery is in Seq order and at least once; handler runs on the poller
// goroutine. The returned func stops the poller and waits for it.
func (r *Repo) SubscribeToChanges(ctx context.Context, after uint64, handler func(content.ChangeRecord)) (func(), error) {
	if err := r.Ping(ctx); err != nil {
		return nil, err
	}

	wake := make(chan struct{}, 1)
	r.subMu.Lock()
	r.nextSub++
	id := r.nextSub
	r.subMu.Unlock()
	r.subs.Store(id, wake)

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.poll(ctx, after, wake, handler)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subs.Delete(id)
			cancel()
			wg.Wait()
		})
	}, nil
}

func (r *Repo) poll(ctx context.Context, cursor uint64, wake <-chan struct{}, handler func(content.ChangeRecord)) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		for {
			recs, err := r.ChangesSince(ctx, cursor, r.cfg.BatchSize)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Warn().Err(err).Uint64("after", cursor).Msg("poll change log")
				}
				break
			}
			for _, rec := range recs {
				handler(rec)
				cursor = rec.Seq
			}
			if len(recs) < r.cfg.BatchSize {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-wake:
		}
	}
}

// notify wakes every local subscriber without blocking.
func (r *Repo) notify() {
	r.subs.Range(func(_ uint64, wake chan struct{}) bool {
		select {
		case wake <- struct{}{}:
		default:
		}
		return true
	})
}
