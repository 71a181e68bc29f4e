package keeper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"PerpScope/internal/fpmath"
	"PerpScope/internal/ledger"
	"PerpScope/internal/observability"
)

// PriceSource provides the external index price, already decoded to the
// price scale.
type PriceSource interface {
	IndexPrice(ctx context.Context) (int64, error)
}

// HTTPPriceSource reads a JSON price feed of the form {"price": "123.45"}.
type HTTPPriceSource struct {
	url    string
	client *http.Client
}

func NewHTTPPriceSource(url string, timeout time.Duration) *HTTPPriceSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPPriceSource{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPPriceSource) IndexPrice(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch index price: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fetch index price: status %d", resp.StatusCode)
	}

	var body struct {
		Price json.Number `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode index price: %w", err)
	}
	f, err := body.Price.Float64()
	if err != nil {
		return 0, fmt.Errorf("decode index price: %w", err)
	}
	if f <= 0 {
		return 0, fmt.Errorf("index price out of range: %v", f)
	}
	return int64(f * float64(fpmath.PriceConfig.Scale)), nil
}

// PriceKeeperConfig holds index-price keeper tuning.
type PriceKeeperConfig struct {
	Interval time.Duration // poll cadence (default: 10s)
	Timeout  time.Duration // per-cycle deadline (default: 15s)
	MinTick  int64         // min price move to submit, price scale (default: 1)
}

func DefaultPriceKeeperConfig() PriceKeeperConfig {
	return PriceKeeperConfig{
		Interval: 10 * time.Second,
		Timeout:  15 * time.Second,
		MinTick:  1,
	}
}

// PriceKeeper polls the external index source and pushes meaningful
// moves on-chain via UpdateIndexPrice.
type PriceKeeper struct {
	cfg     PriceKeeperConfig
	source  PriceSource
	writer  ledger.Writer
	metrics *observability.Metrics
	log     zerolog.Logger

	lastPushed int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPriceKeeper(cfg PriceKeeperConfig, source PriceSource, writer ledger.Writer, metrics *observability.Metrics, log zerolog.Logger) *PriceKeeper {
	def := DefaultPriceKeeperConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MinTick <= 0 {
		cfg.MinTick = def.MinTick
	}
	return &PriceKeeper{
		cfg:     cfg,
		source:  source,
		writer:  writer,
		metrics: metrics,
		log:     log.With().Str("component", "price_keeper").Logger(),
	}
}

func (k *PriceKeeper) Start(ctx context.Context) {
	k.ctx, k.cancel = context.WithCancel(ctx)

	k.wg.Add(1)
	go k.run()

	k.log.Info().Dur("interval", k.cfg.Interval).Msg("price keeper started")
}

func (k *PriceKeeper) Stop(ctx context.Context) error {
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
		k.log.Info().Msg("price keeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (k *PriceKeeper) run() {
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

func (k *PriceKeeper) cycle() {
	ctx, cancel := context.WithTimeout(k.ctx, k.cfg.Timeout)
	defer cancel()

	price, err := k.source.IndexPrice(ctx)
	if err != nil {
		k.countCycle("error")
		k.log.Warn().Err(err).Msg("index price fetch failed")
		return
	}

	if fpmath.Abs(price-k.lastPushed) < k.cfg.MinTick {
		k.countCycle("ok")
		return
	}

	txHash, err := k.writer.UpdateIndexPrice(ctx, price)
	if err != nil {
		k.countCycle("error")
		k.log.Error().Err(err).Int64("price", price).Msg("index price submit failed")
		return
	}

	k.lastPushed = price
	if k.metrics != nil {
		k.metrics.PriceUpdatesSubmitted.Inc()
	}
	k.log.Info().Int64("price", price).Str("tx", string(txHash)).Msg("index price pushed")
	k.countCycle("ok")
}

func (k *PriceKeeper) countCycle(status string) {
	if k.metrics != nil {
		k.metrics.KeeperCycles.WithLabelValues("price", status).Inc()
	}
}
