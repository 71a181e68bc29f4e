package keeper

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"PerpScope/internal/fpmath"
	"PerpScope/internal/ledger"
	"PerpScope/internal/observability"
)

// ScannerConfig holds liquidation scanner tuning.
type ScannerConfig struct {
	Interval    time.Duration // scan cadence (default: 5s)
	Timeout     time.Duration // per-cycle deadline (default: 30s)
	Concurrency int           // candidate checks in flight (default: 8)
	Cooldown    time.Duration // min gap between submissions per trader (default: 30s)
}

func DefaultScannerConfig() ScannerConfig {
	return ScannerConfig{
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		Concurrency: 8,
		Cooldown:    30 * time.Second,
	}
}

// Scanner walks the working set each cycle, dry-runs a liquidation per
// candidate with exposure, and submits only what the contract itself
// confirms it would accept. Eligibility lives on-chain; the scanner
// never prices margin locally.
type Scanner struct {
	cfg     ScannerConfig
	reader  ledger.Reader
	sim     ledger.Simulator
	writer  ledger.Writer
	set     WorkingSet
	metrics *observability.Metrics
	log     zerolog.Logger

	mu         sync.Mutex
	lastSubmit map[string]time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScanner(
	cfg ScannerConfig,
	reader ledger.Reader,
	sim ledger.Simulator,
	writer ledger.Writer,
	set WorkingSet,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Scanner {
	def := DefaultScannerConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	return &Scanner{
		cfg:        cfg,
		reader:     reader,
		sim:        sim,
		writer:     writer,
		set:        set,
		metrics:    metrics,
		log:        log.With().Str("component", "liquidation_scanner").Logger(),
		lastSubmit: make(map[string]time.Time),
	}
}

// Start begins the scan loop.
func (s *Scanner) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	s.log.Info().Dur("interval", s.cfg.Interval).Msg("liquidation scanner started")
}

// Stop shuts the scanner down, waiting for the in-flight cycle.
func (s *Scanner) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info().Msg("liquidation scanner stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scanner) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.cycle()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.cycle()
		}
	}
}

func (s *Scanner) cycle() {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.Timeout)
	defer cancel()

	candidates, err := s.set.Members(ctx)
	if err != nil {
		s.countCycle("error")
		s.log.Error().Err(err).Msg("working set read failed")
		return
	}
	if s.metrics != nil {
		s.metrics.ScanCandidates.Set(float64(len(candidates)))
	}
	if len(candidates) == 0 {
		s.countCycle("ok")
		return
	}

	sem := make(chan struct{}, s.cfg.Concurrency)
	var wg sync.WaitGroup
	for _, trader := range candidates {
		wg.Add(1)
		go func(trader string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			s.check(ctx, trader)
		}(trader)
	}
	wg.Wait()

	s.countCycle("ok")
}

// check handles a single candidate. A failing candidate is left in the
// working set; the next cycle retries it.
func (s *Scanner) check(ctx context.Context, trader string) {
	if !s.clearedCooldown(trader) {
		return
	}

	pos, err := s.reader.Position(ctx, trader)
	if err != nil {
		s.log.Warn().Err(err).Str("trader", trader).Msg("position read failed")
		return
	}
	if pos.IsFlat() {
		return
	}

	// Margin is informational; the dry run decides eligibility.
	margin, err := s.reader.Margin(ctx, trader)
	if err != nil {
		s.log.Warn().Err(err).Str("trader", trader).Msg("margin read failed")
	}

	amount := fpmath.Abs(pos.Size)
	if err := s.sim.SimulateLiquidate(ctx, trader, amount); err != nil {
		if errors.Is(err, ledger.ErrNotEligible) {
			// The common case: the account is healthy.
			s.countSimulated("not_eligible")
			return
		}
		s.countSimulated("error")
		s.log.Warn().Err(err).Str("trader", trader).Msg("liquidation dry run failed")
		return
	}
	s.countSimulated("eligible")

	if !s.markSubmitting(trader) {
		return
	}

	txHash, err := s.writer.Liquidate(ctx, trader, amount)
	if err != nil {
		s.log.Error().Err(err).Str("trader", trader).Msg("liquidation submit rejected")
		return
	}

	if s.metrics != nil {
		s.metrics.LiquidationsSubmitted.Inc()
	}
	s.log.Info().
		Str("trader", trader).
		Int64("amount", amount).
		Int64("margin", margin).
		Str("tx", string(txHash)).
		Msg("liquidation submitted")
}

func (s *Scanner) clearedCooldown(trader string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastSubmit[trader]
	return !ok || time.Since(last) >= s.cfg.Cooldown
}

// markSubmitting claims the per-trader submission slot. A second
// goroutine racing on the same trader loses the claim.
func (s *Scanner) markSubmitting(trader string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastSubmit[trader]; ok && time.Since(last) < s.cfg.Cooldown {
		return false
	}
	s.lastSubmit[trader] = time.Now()
	return true
}

func (s *Scanner) countCycle(status string) {
	if s.metrics != nil {
		s.metrics.KeeperCycles.WithLabelValues("liquidation", status).Inc()
	}
}

func (s *Scanner) countSimulated(result string) {
	if s.metrics != nil {
		s.metrics.LiquidationsSimulated.WithLabelValues(result).Inc()
	}
}
