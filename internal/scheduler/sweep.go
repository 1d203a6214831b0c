package scheduler

import (
	"context"
	"errors"
	"time"

	"GridSentinel/internal/model"
	"GridSentinel/internal/store"
)

// stateChange is one asset's evaluated transition within a cycle.
type stateChange struct {
	from model.AssetState
	to   model.Asset
}

func (s *Scheduler) runSweep(ctx context.Context) error {
	s.log.Info().Dur("interval", s.opts.SweepInterval).Msg("sweep started")
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("sweep stopped")
			return nil
		case cmd := <-s.commands:
			a, rec, err := s.confirm(context.WithoutCancel(ctx), cmd.c)
			cmd.reply <- confirmResult{asset: a, rec: rec, err: err}
		case <-timer.C:
			// an in-flight cycle runs to completion
			timer.Reset(s.sweep(context.WithoutCancel(ctx)))
		}
	}
}

// sweep runs one cycle and returns the delay until the next one.
func (s *Scheduler) sweep(ctx context.Context) time.Duration {
	snap, err := s.store.Load(ctx)
	if err != nil {
		if errors.Is(err, store.ErrConfigUnavailable) {
			s.log.Warn().Err(err).Dur("retry_in", s.opts.RetryBackoff).Msg("asset file unavailable")
		} else {
			s.log.Error().Err(err).Msg("load assets")
		}
		return s.opts.RetryBackoff
	}
	s.markSkipped(snap)

	var changes []stateChange
	for _, a := range snap.Enabled() {
		if s.skipped[a.TickerSymbol] {
			continue
		}
		next, ok := s.evaluate(ctx, a)
		if ok && !next.AssetState.Equal(a.AssetState) {
			changes = append(changes, stateChange{from: a.AssetState, to: next})
		}
	}

	if len(changes) > 0 {
		s.commit(ctx, changes)
	}
	return s.opts.SweepInterval
}

// commit applies the cycle's transitions to the file. An asset whose state
// was edited on disk during the cycle keeps the edited value.
func (s *Scheduler) commit(ctx context.Context, changes []stateChange) {
	err := s.store.Update(ctx, func(snap *store.Snapshot) (bool, error) {
		changed := false
		for _, c := range changes {
			cur, ok := snap.Find(c.to.TickerSymbol)
			if !ok || !cur.AssetState.Equal(c.from) {
				s.log.Warn().Str("symbol", c.to.TickerSymbol).Msg("asset changed on disk during cycle, keeping file value")
				continue
			}
			if snap.SetState(c.to) {
				changed = true
			}
		}
		return changed, nil
	})
	if err != nil {
		s.log.Error().Err(err).Int("assets", len(changes)).Msg("persist cycle")
		return
	}
	s.log.Debug().Int("assets", len(changes)).Msg("cycle persisted")
}
