package candle

import "testing"

func TestApplyFill_FirstFillSeedsAllFields(t *testing.T) {
	agg := NewAggregator([]int64{60})
	agg.ApplyFill(10000, 500, 120)

	c := agg.Bucket(60, 120)
	if c == nil {
		t.Fatal("expected candle at bucket 120")
	}
	if c.Open != 10000 || c.High != 10000 || c.Low != 10000 || c.Close != 10000 {
		t.Errorf("first fill must seed OHLC, got %+v", c)
	}
	if c.Volume != 500 {
		t.Errorf("expected volume 500, got %d", c.Volume)
	}
}

func TestApplyFill_BucketAlignment(t *testing.T) {
	agg := NewAggregator([]int64{60})
	agg.ApplyFill(10000, 1, 119)

	if agg.Bucket(60, 60) == nil {
		t.Error("fill at t=119 should land in bucket 60")
	}
	if agg.Bucket(60, 120) != nil {
		t.Error("no candle expected at bucket 120")
	}
}

func TestApplyFill_NewBucketOpensAtLastClose(t *testing.T) {
	agg := NewAggregator([]int64{60})
	agg.ApplyFill(10000, 1, 30)
	agg.ApplyFill(10500, 1, 90) // next bucket

	c := agg.Bucket(60, 60)
	if c.Open != 10000 {
		t.Errorf("expected carry-forward open 10000, got %d", c.Open)
	}
	if c.High != 10500 || c.Low != 10000 {
		t.Errorf("high/low must span carried open and fill: %+v", c)
	}
}

func TestApplyFill_GapBucketStillCarriesClose(t *testing.T) {
	agg := NewAggregator([]int64{60})
	agg.ApplyFill(10000, 1, 30)
	// Several empty buckets pass before the next trade.
	agg.ApplyFill(9000, 1, 330)

	c := agg.Bucket(60, 300)
	if c.Open != 10000 {
		t.Errorf("expected open carried across the gap, got %d", c.Open)
	}
	if c.Low != 9000 || c.High != 10000 {
		t.Errorf("unexpected range: %+v", c)
	}
}

func TestApplyFill_UpdatesHighLowClose(t *testing.T) {
	agg := NewAggregator([]int64{60})
	agg.ApplyFill(10000, 10, 10)
	agg.ApplyFill(10200, 10, 20)
	agg.ApplyFill(9800, 10, 30)
	agg.ApplyFill(10100, 10, 40)

	c := agg.Bucket(60, 0)
	if c.Open != 10000 || c.High != 10200 || c.Low != 9800 || c.Close != 10100 {
		t.Errorf("unexpected OHLC: %+v", c)
	}
	if c.Volume != 40 {
		t.Errorf("expected volume 40, got %d", c.Volume)
	}
	if c.Trades != 4 {
		t.Errorf("expected 4 trades, got %d", c.Trades)
	}
}

func TestApplyFill_OHLCInvariant(t *testing.T) {
	agg := NewAggregator([]int64{60, 300})
	prices := []int64{10000, 10500, 9700, 10200, 9900, 10050}
	for i, p := range prices {
		agg.ApplyFill(p, 1, int64(i*47))
	}

	for _, res := range []int64{60, 300} {
		for start := int64(0); start <= 300; start += res {
			c := agg.Bucket(res, start)
			if c == nil {
				continue
			}
			lo, hi := c.Open, c.Open
			if c.Close < lo {
				lo = c.Close
			}
			if c.Close > hi {
				hi = c.Close
			}
			if c.Low > lo || c.High < hi {
				t.Errorf("res %d bucket %d violates OHLC ordering: %+v", res, start, c)
			}
		}
	}
}

func TestApplyFill_MultipleResolutions(t *testing.T) {
	agg := NewAggregator(nil)
	touched := agg.ApplyFill(10000, 1, 3601)
	if len(touched) != len(DefaultResolutions) {
		t.Fatalf("expected %d candles touched, got %d", len(DefaultResolutions), len(touched))
	}
	if agg.Bucket(3600, 3600) == nil {
		t.Error("expected hourly candle at 3600")
	}
	if agg.Bucket(60, 3600) == nil {
		t.Error("expected minute candle at 3600")
	}
}

func TestApplyFill_OutOfOrderFillUpdatesOldBucket(t *testing.T) {
	agg := NewAggregator([]int64{60})
	agg.ApplyFill(10000, 1, 90)
	agg.ApplyFill(9500, 1, 30) // late fill for an earlier bucket

	old := agg.Bucket(60, 0)
	if old == nil {
		t.Fatal("expected late fill to create its historical bucket")
	}
	// The carried open reflects the latest known close at apply time.
	if old.Open != 10000 {
		t.Errorf("expected open 10000 from latest close, got %d", old.Open)
	}

	if got, _ := agg.LastClose(); got != 10000 {
		t.Errorf("a late fill must not redefine the latest close, got %d", got)
	}
}

func TestApplyFill_CloseFollowsFillTimestamp(t *testing.T) {
	agg := NewAggregator([]int64{60})
	agg.ApplyFill(10100, 1, 55)
	agg.ApplyFill(10000, 2, 50) // same bucket, earlier timestamp, later arrival

	c := agg.Bucket(60, 0)
	if c.Close != 10100 {
		t.Errorf("close must follow the later fill timestamp, got %d", c.Close)
	}
	if c.High != 10100 || c.Low != 10000 {
		t.Errorf("high/low fold is order independent: %+v", c)
	}
	if c.Volume != 3 || c.Trades != 2 {
		t.Errorf("volume/trades fold is order independent: %+v", c)
	}

	// A genuinely later fill still moves the close.
	agg.ApplyFill(10200, 1, 58)
	if c.Close != 10200 {
		t.Errorf("expected close 10200 after later fill, got %d", c.Close)
	}
}
