package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"PerpScope/internal/book"
	"PerpScope/internal/funding"
	"PerpScope/internal/ledger"
	"PerpScope/internal/observability"
	"PerpScope/internal/view"
)

// Config holds refresher configuration.
type Config struct {
	Interval time.Duration // refresh cadence (default: 2s)
	Timeout  time.Duration // per-cycle deadline (default: 5s)
}

func DefaultConfig() Config {
	return Config{
		Interval: 2 * time.Second,
		Timeout:  5 * time.Second,
	}
}

// Refresher periodically rebuilds the live order book and funding
// estimate from contract reads and publishes them as one snapshot.
// Cycles run to completion: a slow cycle delays the next tick instead
// of overlapping it.
type Refresher struct {
	cfg     Config
	reader  ledger.Reader
	store   *view.Store
	metrics *observability.Metrics
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, reader ledger.Reader, store *view.Store, metrics *observability.Metrics, log zerolog.Logger) *Refresher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Refresher{
		cfg:     cfg,
		reader:  reader,
		store:   store,
		metrics: metrics,
		log:     log.With().Str("component", "refresher").Logger(),
	}
}

// Start begins the refresh loop.
func (r *Refresher) Start(ctx context.Context) {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.run()

	r.log.Info().Dur("interval", r.cfg.Interval).Msg("refresher started")
}

// Stop shuts the refresher down, waiting for an in-flight cycle.
func (r *Refresher) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Info().Msg("refresher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Refresher) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	// Refresh immediately on start.
	r.cycle()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.cycle()
		}
	}
}

// prices holds the scalar reads of one cycle.
type prices struct {
	mark     int64
	index    int64
	buyHead  uint64
	sellHead uint64
}

func (r *Refresher) cycle() {
	start := time.Now()
	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.Timeout)
	defer cancel()

	px, err := r.readScalars(ctx)
	if err != nil {
		r.cycleFailed(err, "scalar reads failed")
		return
	}

	bids, bidsPartial := r.readSide(ctx, px.buyHead)
	asks, asksPartial := r.readSide(ctx, px.sellHead)

	snap := view.Snapshot{
		Book:        book.BuildBook(bids, asks),
		MarkPrice:   px.mark,
		IndexPrice:  px.index,
		RefreshedAt: time.Now(),
	}

	est, err := funding.Compute(px.mark, px.index)
	if err == nil {
		snap.Funding = &est
	} else if !errors.Is(err, funding.ErrNoIndexPrice) {
		r.log.Warn().Err(err).Msg("funding estimate failed")
	}

	dropped := r.store.Publish(snap)

	if r.metrics != nil {
		r.metrics.RefreshCycles.WithLabelValues("ok").Inc()
		r.metrics.RefreshDuration.Observe(time.Since(start).Seconds())
		r.metrics.BookLevels.WithLabelValues("bid").Set(float64(len(snap.Book.Bids)))
		r.metrics.BookLevels.WithLabelValues("ask").Set(float64(len(snap.Book.Asks)))
		r.metrics.BookStale.Set(0)
		if dropped > 0 {
			r.metrics.WSDrops.Add(float64(dropped))
		}
	}

	if bidsPartial || asksPartial {
		r.log.Warn().
			Bool("bids_partial", bidsPartial).
			Bool("asks_partial", asksPartial).
			Msg("book built from incomplete chain walk")
	}
}

func (r *Refresher) cycleFailed(err error, msg string) {
	r.store.MarkStale()
	if r.metrics != nil {
		r.metrics.RefreshCycles.WithLabelValues("error").Inc()
		r.metrics.BookStale.Set(1)
	}
	r.log.Error().Err(err).Msg(msg)
}

// readScalars fetches the cycle's scalar values concurrently.
func (r *Refresher) readScalars(ctx context.Context) (prices, error) {
	var (
		px   prices
		wg   sync.WaitGroup
		errs [4]error
	)

	wg.Add(4)
	go func() {
		defer wg.Done()
		px.mark, errs[0] = r.read(ctx, "markPrice", r.reader.MarkPrice)
	}()
	go func() {
		defer wg.Done()
		px.index, errs[1] = r.read(ctx, "indexPrice", r.reader.IndexPrice)
	}()
	go func() {
		defer wg.Done()
		px.buyHead, errs[2] = r.readID(ctx, "bestBuyID", r.reader.BestBuyID)
	}()
	go func() {
		defer wg.Done()
		px.sellHead, errs[3] = r.readID(ctx, "bestSellID", r.reader.BestSellID)
	}()
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return prices{}, err
		}
	}
	return px, nil
}

// readSide walks one side's order chain and merges in a slot scan.
// The scan runs every cycle: a head pointer racing a concurrent
// placement can walk cleanly and still miss a live order, and a broken
// or truncated chain degrades to a best-effort book instead of an
// empty one. The partial flag marks an incomplete walk.
func (r *Refresher) readSide(ctx context.Context, head uint64) ([]ledger.Order, bool) {
	walked, err := book.Walk(ctx, r.reader, head)
	if err != nil {
		r.log.Warn().Err(err).Uint64("head", head).Msg("chain walk incomplete")
	}

	scanned := book.Scan(ctx, r.reader)
	return book.Merge(scanned, walked), err != nil
}

func (r *Refresher) read(ctx context.Context, method string, fn func(context.Context) (int64, error)) (int64, error) {
	v, err := fn(ctx)
	r.countRead(method, err)
	return v, err
}

func (r *Refresher) readID(ctx context.Context, method string, fn func(context.Context) (uint64, error)) (uint64, error) {
	v, err := fn(ctx)
	r.countRead(method, err)
	return v, err
}

func (r *Refresher) countRead(method string, err error) {
	if r.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.metrics.LedgerReads.WithLabelValues(method, status).Inc()
}
