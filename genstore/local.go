package genstore

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type localGen struct {
	gen       uint64
	updatedAt time.Time
}

// Local keeps generations in process. When both cleanupInterval and
// retention are positive a ticker prunes keys not bumped for retention;
// a pruned key reads as generation 0 again.
type Local struct {
	gens      *xsync.MapOf[string, localGen]
	retention time.Duration

	ticker    *time.Ticker
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ GenStore = (*Local)(nil)

func NewLocal(cleanupInterval, retention time.Duration) *Local {
	s := &Local{
		gens:      xsync.NewMapOf[string, localGen](),
		retention: retention,
	}
	if cleanupInterval > 0 && retention > 0 {
		s.ticker = time.NewTicker(cleanupInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go s.cleanupLoop()
	}
	return s
}

func (s *Local) cleanupLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ticker.C:
			s.Cleanup(s.retention)
		case <-s.stopCh:
			return
		}
	}
}

func (s *Local) Snapshot(_ context.Context, k string) (uint64, error) {
	e, _ := s.gens.Load(k)
	return e.gen, nil
}

func (s *Local) Bump(_ context.Context, k string) (uint64, error) {
	now := time.Now()
	e, _ := s.gens.Compute(k, func(old localGen, _ bool) (localGen, bool) {
		return localGen{gen: old.gen + 1, updatedAt: now}, false
	})
	return e.gen, nil
}

// Cleanup drops keys whose last bump is older than retention.
func (s *Local) Cleanup(retention time.Duration) int {
	if retention <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-retention)
	removed := 0
	s.gens.Range(func(k string, e localGen) bool {
		if !e.updatedAt.Before(cutoff) {
			return true
		}
		// re-check under the bucket lock; a concurrent bump keeps the key
		s.gens.Compute(k, func(cur localGen, loaded bool) (localGen, bool) {
			if loaded && cur.updatedAt.Before(cutoff) {
				removed++
				return cur, true
			}
			return cur, !loaded
		})
		return true
	})
	return removed
}

// Len reports how many keys carry a generation.
func (s *Local) Len() int { return s.gens.Size() }

func (s *Local) Close(_ context.Context) error {
	s.closeOnce.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
			s.ticker.Stop()
			s.wg.Wait()
		}
	})
	return nil
}
