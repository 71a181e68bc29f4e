package keeper

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"PerpScope/internal/ledger"
	"PerpScope/internal/observability"
)

// FundingKeeperConfig holds funding settlement keeper tuning.
type FundingKeeperConfig struct {
	Interval time.Duration // check cadence (default: 30s)
	Timeout  time.Duration // per-cycle deadline (default: 15s)
}

func DefaultFundingKeeperConfig() FundingKeeperConfig {
	return FundingKeeperConfig{
		Interval: 30 * time.Second,
		Timeout:  15 * time.Second,
	}
}

// FundingKeeper watches the contract's funding clock and settles an
// epoch as soon as it is due. The contract enforces the schedule; a
// duplicate settlement attempt simply reverts.
type FundingKeeper struct {
	cfg     FundingKeeperConfig
	reader  ledger.Reader
	writer  ledger.Writer
	metrics *observability.Metrics
	log     zerolog.Logger

	now func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewFundingKeeper(cfg FundingKeeperConfig, reader ledger.Reader, writer ledger.Writer, metrics *observability.Metrics, log zerolog.Logger) *FundingKeeper {
	def := DefaultFundingKeeperConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &FundingKeeper{
		cfg:     cfg,
		reader:  reader,
		writer:  writer,
		metrics: metrics,
		log:     log.With().Str("component", "funding_keeper").Logger(),
		now:     time.Now,
	}
}

func (k *FundingKeeper) Start(ctx context.Context) {
	k.ctx, k.cancel = context.WithCancel(ctx)

	k.wg.Add(1)
	go k.run()

	k.log.Info().Dur("interval", k.cfg.Interval).Msg("funding keeper started")
}

func (k *FundingKeeper) Stop(ctx context.Context) error {
	if k.cancel != nil {
		k.cancel()
	}

	done := make(chan struct{})
	go func() {
		k.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		k.log.Info().Msg("funding keeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (k *FundingKeeper) run() {
	defer k.wg.Done()

	ticker := time.NewTicker(k.cfg.Interval)
	defer ticker.Stop()

	k.cycle()

	for {
		select {
		case <-k.ctx.Done():
			return
		case <-ticker.C:
			k.cycle()
		}
	}
}

func (k *FundingKeeper) cycle() {
	ctx, cancel := context.WithTimeout(k.ctx, k.cfg.Timeout)
	defer cancel()

	last, err := k.reader.LastFundingTime(ctx)
	if err != nil {
		k.countCycle("error")
		k.log.Warn().Err(err).Msg("last funding time read failed")
		return
	}
	interval, err := k.reader.FundingInterval(ctx)
	if err != nil {
		k.countCycle("error")
		k.log.Warn().Err(err).Msg("funding interval read failed")
		return
	}

	due := last + interval
	if k.now().Unix() < due {
		k.countCycle("ok")
		return
	}

	txHash, err := k.writer.SettleFunding(ctx)
	if err != nil {
		k.countCycle("error")
		k.log.Warn().Err(err).Msg("funding settlement rejected")
		return
	}

	if k.metrics != nil {
		k.metrics.FundingSettlements.Inc()
	}
	k.log.Info().Int64("epoch_due", due).Str("tx", string(txHash)).Msg("funding settled")
	k.countCycle("ok")
}

func (k *FundingKeeper) countCycle(status string) {
	if k.metrics != nil {
		k.metrics.KeeperCycles.WithLabelValues("funding", status).Inc()
	}
}
