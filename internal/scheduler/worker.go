package scheduler

import (
	"context"
	"sync"
	"time"

	"GridSentinel/internal/model"
	"GridSentinel/internal/store"
)

// runWorkers starts one goroutine per enabled asset. Each worker owns its
// asset; the file is only written through the single writer, and only when
// PersistAuto is set.
func (s *Scheduler) runWorkers(ctx context.Context) error {
	snap, ok := s.loadWithRetry(ctx)
	if !ok {
		return nil
	}
	s.markSkipped(snap)

	var (
		writes     chan stateChange
		writerDone chan struct{}
		wg         sync.WaitGroup
		started    int
	)
	if s.opts.PersistAuto {
		writes = make(chan stateChange, 16)
		writerDone = make(chan struct{})
		go func() {
			defer close(writerDone)
			s.writer(context.WithoutCancel(ctx), writes)
		}()
	}

	for _, a := range snap.Enabled() {
		if s.skipped[a.TickerSymbol] {
			continue
		}
		wg.Add(1)
		started++
		go func(a model.Asset) {
			defer wg.Done()
			s.worker(ctx, a, writes)
		}(a)
	}
	s.log.Info().Int("workers", started).Dur("interval", s.opts.WorkerInterval).Bool("persist", s.opts.PersistAuto).Msg("auto workers started")

	wg.Wait()
	if writes != nil {
		close(writes)
		<-writerDone
	}
	s.log.Info().Msg("auto workers stopped")
	return nil
}

func (s *Scheduler) loadWithRetry(ctx context.Context) (*store.Snapshot, bool) {
	for {
		snap, err := s.store.Load(ctx)
		if err == nil {
			return snap, true
		}
		s.log.Warn().Err(err).Dur("retry_in", s.opts.RetryBackoff).Msg("asset file unavailable")
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(s.opts.RetryBackoff):
		}
	}
}

func (s *Scheduler) worker(ctx context.Context, a model.Asset, writes chan<- stateChange) {
	ticker := time.NewTicker(s.opts.WorkerInterval)
	defer ticker.Stop()

	for {
		next, ok := s.evaluate(ctx, a)
		if ok && !next.AssetState.Equal(a.AssetState) {
			change := stateChange{from: a.AssetState, to: next}
			a = next
			if writes != nil {
				select {
				case writes <- change:
				case <-ctx.Done():
					return
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// writer serializes every worker's level changes into the asset file. Only
// the fields a worker changed are written, and only where the file still
// holds the value the worker started from.
func (s *Scheduler) writer(ctx context.Context, writes <-chan stateChange) {
	for c := range writes {
		err := s.store.Update(ctx, func(snap *store.Snapshot) (bool, error) {
			cur, ok := snap.Find(c.to.TickerSymbol)
			if !ok {
				return false, nil
			}
			merged, conflicts := overlayState(cur.AssetState, c.from, c.to.AssetState)
			if len(conflicts) > 0 {
				s.log.Warn().Str("symbol", c.to.TickerSymbol).Strs("fields", conflicts).
					Msg("asset changed on disk, keeping file value")
			}
			cur.AssetState = merged
			return snap.SetState(cur), nil
		})
		if err != nil {
			s.log.Error().Str("symbol", c.to.TickerSymbol).Err(err).Msg("persist levels")
		}
	}
}

// overlayState applies the fields that differ between from and to onto cur.
// A field whose current value no longer equals from is left alone and
// reported as a conflict.
func overlayState(cur, from, to model.AssetState) (model.AssetState, []string) {
	var conflicts []string
	out := cur

	if !to.BuyPriceAlert.Equal(from.BuyPriceAlert) {
		if cur.BuyPriceAlert.Equal(from.BuyPriceAlert) {
			out.BuyPriceAlert = to.BuyPriceAlert
		} else {
			conflicts = append(conflicts, "buy_price_alert")
		}
	}
	if !to.SellPriceAlert.Equal(from.SellPriceAlert) {
		if cur.SellPriceAlert.Equal(from.SellPriceAlert) {
			out.SellPriceAlert = to.SellPriceAlert
		} else {
			conflicts = append(conflicts, "sell_price_alert")
		}
	}
	if !to.CostPrice.Equal(from.CostPrice) {
		if cur.CostPrice.Equal(from.CostPrice) {
			out.CostPrice = to.CostPrice
		} else {
			conflicts = append(conflicts, "cost_price")
		}
	}
	if to.Mode != from.Mode {
		if cur.Mode == from.Mode {
			out.Mode = to.Mode
		} else {
			conflicts = append(conflicts, "mode")
		}
	}
	return out, conflicts
}
