package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"GridSentinel/internal/analysis"
	"GridSentinel/internal/ledger"
	"GridSentinel/internal/model"
	"GridSentinel/internal/notifier"
	"GridSentinel/internal/recorder"
	"GridSentinel/internal/store"
	"GridSentinel/internal/strategy"
)

var (
	// ErrAutoMode rejects confirmations while levels advance on their own.
	ErrAutoMode = errors.New("confirmations are not accepted under the auto policy")
	// ErrUnknownAsset means no valid, monitored asset has the given symbol.
	ErrUnknownAsset = errors.New("unknown asset")
	// ErrStopped means the scheduler loop is no longer running.
	ErrStopped = errors.New("scheduler stopped")
)

// Sampler produces one price sample for a symbol.
type Sampler interface {
	Sample(ctx context.Context, symbol string) (model.Sample, error)
}

// Refresher brings the daily percentile of a set of symbols up to date.
type Refresher interface {
	RefreshAll(ctx context.Context, symbols []string, today string) error
}

// Deps are the collaborators a Scheduler drives. Notifier and Recorder may
// be nil; Analysis may be nil to disable percentile refreshes.
type Deps struct {
	Machine  *strategy.Machine
	Store    *store.Store
	Ledger   *ledger.Ledger
	Sampler  Sampler
	Analysis Refresher
	Notifier notifier.Notifier
	Recorder recorder.Recorder
}

// Options control loop cadence.
type Options struct {
	SweepInterval  time.Duration
	WorkerInterval time.Duration
	RetryBackoff   time.Duration
	PersistAuto    bool
}

type confirmResult struct {
	asset model.Asset
	rec   model.TransactionRecord
	err   error
}

type confirmCmd struct {
	c     model.Confirmation
	reply chan confirmResult
}

// Scheduler runs the monitoring loop and the daily analysis job.
type Scheduler struct {
	Cron *cron.Cron

	machine  *strategy.Machine
	store    *store.Store
	ledger   *ledger.Ledger
	sampler  Sampler
	analysis Refresher
	notifier notifier.Notifier
	recorder recorder.Recorder
	opts     Options
	log      zerolog.Logger
	now      func() time.Time

	commands chan confirmCmd
	done     chan struct{}
	// skipped is owned by the loop goroutine.
	skipped map[string]bool
}

// New creates a Scheduler. Zero options take the usual defaults.
func New(deps Deps, opts Options, log zerolog.Logger) *Scheduler {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 60 * time.Second
	}
	if opts.WorkerInterval <= 0 {
		opts.WorkerInterval = 15 * time.Second
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 10 * time.Second
	}
	s := &Scheduler{
		Cron:     cron.New(cron.WithSeconds()),
		machine:  deps.Machine,
		store:    deps.Store,
		ledger:   deps.Ledger,
		sampler:  deps.Sampler,
		analysis: deps.Analysis,
		notifier: deps.Notifier,
		recorder: deps.Recorder,
		opts:     opts,
		log:      log.With().Str("component", "scheduler").Logger(),
		now:      time.Now,
		commands: make(chan confirmCmd),
		done:     make(chan struct{}),
		skipped:  make(map[string]bool),
	}
	if s.notifier == nil {
		s.notifier = notifier.NoopNotifier{}
	}
	if s.recorder == nil {
		s.recorder = recorder.NewNoopRecorder()
	}
	return s
}

// RegisterAnalysis schedules the daily percentile refresh.
func (s *Scheduler) RegisterAnalysis(ctx context.Context, spec string) error {
	if _, err := s.Cron.AddFunc(spec, func() { s.RefreshAnalysis(ctx) }); err != nil {
		return fmt.Errorf("register analysis task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.log.Info().Msg("scheduler started")
}

// Stop stops the cron scheduler and waits for a running job.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

// Policy returns the grid policy the scheduler runs.
func (s *Scheduler) Policy() strategy.Policy { return s.machine.Policy() }

// Run performs the startup analysis pass and then monitors until ctx is
// cancelled. It must be called once.
func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.done)

	s.RefreshAnalysis(ctx)
	if s.machine.Policy() == strategy.PolicyAuto {
		return s.runWorkers(ctx)
	}
	return s.runSweep(ctx)
}

// RefreshAnalysis recomputes today's percentile of every enabled asset.
func (s *Scheduler) RefreshAnalysis(ctx context.Context) {
	if s.analysis == nil {
		return
	}
	snap, err := s.store.Load(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("analysis refresh skipped")
		return
	}
	enabled := snap.Enabled()
	symbols := make([]string, 0, len(enabled))
	for _, a := range enabled {
		symbols = append(symbols, a.TickerSymbol)
	}
	start := time.Now()
	if err := s.analysis.RefreshAll(ctx, symbols, analysis.Today(s.now())); err != nil {
		s.log.Error().Err(err).Msg("analysis refresh")
		return
	}
	s.log.Info().Int("symbols", len(symbols)).Dur("took", time.Since(start)).Msg("analysis refreshed")
}

// ConfirmExecution applies a human-confirmed execution. Under the confirm
// policy it is handed to the sweep goroutine and applied between cycles.
func (s *Scheduler) ConfirmExecution(ctx context.Context, c model.Confirmation) (model.Asset, model.TransactionRecord, error) {
	if s.machine.Policy() == strategy.PolicyAuto {
		return model.Asset{}, model.TransactionRecord{}, ErrAutoMode
	}
	reply := make(chan confirmResult, 1)
	select {
	case s.commands <- confirmCmd{c: c, reply: reply}:
	case <-s.done:
		return model.Asset{}, model.TransactionRecord{}, ErrStopped
	case <-ctx.Done():
		return model.Asset{}, model.TransactionRecord{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.asset, r.rec, r.err
	case <-ctx.Done():
		return model.Asset{}, model.TransactionRecord{}, ctx.Err()
	}
}

// Assets returns every valid asset as currently persisted.
func (s *Scheduler) Assets(ctx context.Context) ([]model.Asset, error) {
	snap, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Assets, nil
}

// confirm runs on the loop goroutine.
func (s *Scheduler) confirm(ctx context.Context, c model.Confirmation) (model.Asset, model.TransactionRecord, error) {
	if s.skipped[c.Symbol] {
		return model.Asset{}, model.TransactionRecord{}, fmt.Errorf("%w: %s is skipped", ErrUnknownAsset, c.Symbol)
	}

	var (
		next model.Asset
		rec  model.TransactionRecord
	)
	err := s.store.Update(ctx, func(snap *store.Snapshot) (bool, error) {
		cur, ok := snap.Find(c.Symbol)
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrUnknownAsset, c.Symbol)
		}
		a, r, err := s.machine.Confirm(cur, c, s.now())
		if err != nil {
			return false, err
		}
		snap.SetState(a)
		next, rec = a, r
		return true, nil
	})
	if err != nil {
		s.log.Warn().Str("symbol", c.Symbol).Str("side", string(c.Side)).Err(err).Msg("confirmation rejected")
		return model.Asset{}, model.TransactionRecord{}, err
	}

	// The state is saved; a ledger failure is reported but does not undo it.
	if err := s.ledger.Append(rec); err != nil {
		s.log.Error().Str("symbol", c.Symbol).Err(err).Msg("ledger append failed")
		s.trySend(ctx, fmt.Sprintf("⚠️ %s 交易记录写入失败: %v", next.Label(), err))
	}
	if err := s.recorder.RecordExecution(rec); err != nil {
		s.log.Warn().Str("symbol", c.Symbol).Err(err).Msg("record execution")
	}

	s.log.Info().
		Str("symbol", rec.TickerSymbol).
		Str("side", string(rec.Side)).
		Str("actual", rec.ActualPrice.String()).
		Str("cost", rec.NewCostPrice.String()).
		Str("buy_level", next.BuyPriceAlert.String()).
		Str("sell_level", next.SellPriceAlert.String()).
		Msg("execution confirmed")
	return next, rec, nil
}

// evaluate samples and evaluates one asset. ok is false when the asset was
// not evaluated this round.
func (s *Scheduler) evaluate(ctx context.Context, a model.Asset) (model.Asset, bool) {
	if s.machine.Policy() == strategy.PolicyConfirm {
		if ev, waiting := strategy.WaitingEvent(a); waiting {
			s.log.Info().Str("symbol", a.TickerSymbol).Msg(notifier.FormatWaiting(ev))
			return a, false
		}
	}

	sample, err := s.sampler.Sample(ctx, a.TickerSymbol)
	if err != nil {
		s.log.Warn().Str("symbol", a.TickerSymbol).Err(err).Msg("quote unavailable, skipping asset this round")
		return a, false
	}

	next, events := s.machine.Evaluate(a, sample)
	s.emit(ctx, events)
	return next, true
}

func (s *Scheduler) emit(ctx context.Context, events []model.Event) {
	autoAdvance := s.machine.Policy() == strategy.PolicyAuto
	for _, ev := range events {
		switch ev.Type {
		case model.EventStatus:
			s.log.Info().Str("symbol", ev.Asset.TickerSymbol).Msg(notifier.FormatStatusLine(ev))
		case model.EventWaiting:
			s.log.Info().Str("symbol", ev.Asset.TickerSymbol).Msg(notifier.FormatWaiting(ev))
		case model.EventBuyAlert, model.EventSellAlert:
			s.log.Info().
				Str("symbol", ev.Asset.TickerSymbol).
				Str("event", string(ev.Type)).
				Str("price", ev.Sample.Price.String()).
				Str("trigger", ev.Trigger.String()).
				Msg("grid alert")
			s.trySend(ctx, notifier.FormatAlert(ev, autoAdvance))
			if err := s.recorder.RecordAlert(ev); err != nil {
				s.log.Warn().Str("symbol", ev.Asset.TickerSymbol).Err(err).Msg("record alert")
			}
		}
	}
}

func (s *Scheduler) trySend(ctx context.Context, text string) {
	if err := s.notifier.Notify(ctx, text); err != nil {
		s.log.Error().Err(err).Msg("send notification")
	}
}

// markSkipped records invalid entries. Once skipped, a symbol stays skipped
// even if its entry is fixed on disk.
func (s *Scheduler) markSkipped(snap *store.Snapshot) {
	for _, inv := range snap.Invalid {
		if s.skipped[inv.Symbol] {
			continue
		}
		s.skipped[inv.Symbol] = true
		s.log.Error().Str("symbol", inv.Symbol).Err(inv.Err).Msg("invalid asset configuration, skipping until restart")
	}
}
