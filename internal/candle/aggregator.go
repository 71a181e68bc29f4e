package candle

// Default resolutions maintained by the projector, in seconds.
var DefaultResolutions = []int64{60, 300, 900, 3600}

// Candle is one OHLCV bucket at a fixed resolution.
type Candle struct {
	Resolution  int64 // seconds
	BucketStart int64 // unix seconds, aligned to Resolution
	Open        int64 // price scale
	High        int64
	Low         int64
	Close       int64
	Volume      int64 // quantity scale
	Trades      int64
}

type bucketKey struct {
	resolution int64
	start      int64
}

// Aggregator folds trade fills into OHLCV candles across a fixed set of
// resolutions. New buckets open at the latest known close so charts stay
// continuous across empty intervals. Not safe for concurrent use.
type Aggregator struct {
	resolutions []int64
	buckets     map[bucketKey]*Candle
	closeAt     map[bucketKey]int64
	lastClose   int64
	lastCloseAt int64
	haveClose   bool
}

func NewAggregator(resolutions []int64) *Aggregator {
	if len(resolutions) == 0 {
		resolutions = DefaultResolutions
	}
	return &Aggregator{
		resolutions: resolutions,
		buckets:     make(map[bucketKey]*Candle),
		closeAt:     make(map[bucketKey]int64),
	}
}

// ApplyFill folds one fill into every resolution's bucket and returns
// the candles it touched. Close follows the fill with the latest
// logical timestamp, so a fill delivered out of order cannot overwrite
// the close set by a later one.
func (a *Aggregator) ApplyFill(price, quantity, timestamp int64) []*Candle {
	touched := make([]*Candle, 0, len(a.resolutions))
	for _, res := range a.resolutions {
		touched = append(touched, a.applyOne(res, price, quantity, timestamp))
	}

	if !a.haveClose || timestamp >= a.lastCloseAt {
		a.lastClose = price
		a.lastCloseAt = timestamp
		a.haveClose = true
	}
	return touched
}

func (a *Aggregator) applyOne(resolution, price, quantity, timestamp int64) *Candle {
	start := timestamp - timestamp%resolution
	key := bucketKey{resolution: resolution, start: start}

	c := a.buckets[key]
	if c == nil {
		open := price
		if a.haveClose {
			open = a.lastClose
		}
		c = &Candle{
			Resolution:  resolution,
			BucketStart: start,
			Open:        open,
			High:        maxInt64(open, price),
			Low:         minInt64(open, price),
			Close:       price,
			Volume:      quantity,
			Trades:      1,
		}
		a.buckets[key] = c
		a.closeAt[key] = timestamp
		return c
	}

	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	if timestamp >= a.closeAt[key] {
		c.Close = price
		a.closeAt[key] = timestamp
	}
	c.Volume += quantity
	c.Trades++
	return c
}

// Bucket returns the candle at a given resolution and aligned start, or
// nil when no fill has touched it.
func (a *Aggregator) Bucket(resolution, start int64) *Candle {
	return a.buckets[bucketKey{resolution: resolution, start: start}]
}

// LastClose returns the price of the latest fill by timestamp, if any.
func (a *Aggregator) LastClose() (int64, bool) {
	return a.lastClose, a.haveClose
}

// Restore installs a persisted bucket, used when rebuilding in-memory
// state from the database on restart.
func (a *Aggregator) Restore(c Candle) {
	cp := c
	a.buckets[bucketKey{resolution: c.Resolution, start: c.BucketStart}] = &cp
}

// SetLastClose seeds the carry-forward price on restart.
func (a *Aggregator) SetLastClose(price int64) {
	a.lastClose = price
	a.haveClose = true
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
