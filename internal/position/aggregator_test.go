package position

import "testing"

// Prices use scale 100, quantities scale 1e6, quote scale 1e6.
const (
	px    = int64(100)
	qty   = int64(1_000_000)
	quote = int64(1_000_000)
)

func TestApplyFill_OpensLong(t *testing.T) {
	agg := NewAggregator()
	realized := agg.ApplyFill("0xabc", true, 10*qty, 100*px, 1000)
	if realized != 0 {
		t.Errorf("opening fill should realize nothing, got %d", realized)
	}

	pos := agg.Get("0xabc")
	if pos.Size != 10*qty {
		t.Errorf("expected size %d, got %d", 10*qty, pos.Size)
	}
	if pos.AvgEntryPrice != 100*px {
		t.Errorf("expected entry %d, got %d", 100*px, pos.AvgEntryPrice)
	}
}

func TestApplyFill_WeightedAverageEntry(t *testing.T) {
	agg := NewAggregator()
	agg.ApplyFill("0xabc", true, 10*qty, 100*px, 1000)
	agg.ApplyFill("0xabc", true, 10*qty, 110*px, 1001)

	pos := agg.Get("0xabc")
	if pos.Size != 20*qty {
		t.Errorf("expected size %d, got %d", 20*qty, pos.Size)
	}
	if pos.AvgEntryPrice != 105*px {
		t.Errorf("expected weighted entry %d, got %d", 105*px, pos.AvgEntryPrice)
	}
}

func TestApplyFill_PartialCloseRealizesPnL(t *testing.T) {
	agg := NewAggregator()
	agg.ApplyFill("0xabc", true, 10*qty, 100*px, 1000)
	realized := agg.ApplyFill("0xabc", false, 4*qty, 120*px, 1001)

	// Long 10 @ 100, sell 4 @ 120: realize (120-100)*4 = 80 quote units.
	if realized != 80*quote {
		t.Errorf("expected realized %d, got %d", 80*quote, realized)
	}

	pos := agg.Get("0xabc")
	if pos.Size != 6*qty {
		t.Errorf("expected size %d, got %d", 6*qty, pos.Size)
	}
	if pos.AvgEntryPrice != 100*px {
		t.Errorf("entry must not change on partial close, got %d", pos.AvgEntryPrice)
	}
}

func TestApplyFill_FullCloseResetsEntry(t *testing.T) {
	agg := NewAggregator()
	agg.ApplyFill("0xabc", true, 10*qty, 100*px, 1000)
	realized := agg.ApplyFill("0xabc", false, 10*qty, 90*px, 1001)

	if realized != -100*quote {
		t.Errorf("expected realized %d, got %d", -100*quote, realized)
	}

	pos := agg.Get("0xabc")
	if !pos.IsFlat() {
		t.Fatalf("expected flat position, size %d", pos.Size)
	}
	if pos.AvgEntryPrice != 0 {
		t.Errorf("flat position must have zero entry, got %d", pos.AvgEntryPrice)
	}
}

func TestApplyFill_OversizedFillFlipsDirection(t *testing.T) {
	agg := NewAggregator()
	agg.ApplyFill("0xabc", true, 10*qty, 100*px, 1000)
	realized := agg.ApplyFill("0xabc", false, 15*qty, 120*px, 1001)

	// Close 10 @ 120 realizing 200, then open short 5 @ 120.
	if realized != 200*quote {
		t.Errorf("expected realized %d, got %d", 200*quote, realized)
	}

	pos := agg.Get("0xabc")
	if pos.Size != -5*qty {
		t.Errorf("expected short %d, got %d", -5*qty, pos.Size)
	}
	if pos.AvgEntryPrice != 120*px {
		t.Errorf("flipped position entry should be the fill price, got %d", pos.AvgEntryPrice)
	}
}

func TestApplyFill_ShortSidePnL(t *testing.T) {
	agg := NewAggregator()
	agg.ApplyFill("0xabc", false, 10*qty, 100*px, 1000)
	realized := agg.ApplyFill("0xabc", true, 10*qty, 90*px, 1001)

	// Short 10 @ 100, buy back @ 90: realize (100-90)*10 = 100.
	if realized != 100*quote {
		t.Errorf("expected realized %d, got %d", 100*quote, realized)
	}
}

func TestApplyFill_ZeroQuantityIgnored(t *testing.T) {
	agg := NewAggregator()
	agg.ApplyFill("0xabc", true, 0, 100*px, 1000)
	if agg.Get("0xabc") != nil {
		t.Error("zero-quantity fill must not create a position")
	}
}

func TestApplyFill_RealizedPnLAccumulates(t *testing.T) {
	agg := NewAggregator()
	agg.ApplyFill("0xabc", true, 10*qty, 100*px, 1000)
	agg.ApplyFill("0xabc", false, 5*qty, 110*px, 1001)
	agg.ApplyFill("0xabc", false, 5*qty, 120*px, 1002)

	pos := agg.Get("0xabc")
	if pos.RealizedPnL != 150*quote {
		t.Errorf("expected cumulative realized %d, got %d", 150*quote, pos.RealizedPnL)
	}
	if !pos.IsFlat() {
		t.Errorf("expected flat after full exit, size %d", pos.Size)
	}
}

func TestUnrealizedPnL(t *testing.T) {
	agg := NewAggregator()
	agg.ApplyFill("0xabc", true, 10*qty, 100*px, 1000)

	if _, ok := agg.UnrealizedPnL(agg.Get("0xabc")); ok {
		t.Fatal("expected no unrealized PnL before a mark price is known")
	}

	agg.UpdateMarkPrice(105 * px)
	upnl, ok := agg.UnrealizedPnL(agg.Get("0xabc"))
	if !ok {
		t.Fatal("expected unrealized PnL after mark price update")
	}
	if upnl != 50*quote {
		t.Errorf("expected unrealized %d, got %d", 50*quote, upnl)
	}
}

func TestNotional(t *testing.T) {
	agg := NewAggregator()
	agg.ApplyFill("0xabc", false, 2*qty, 100*px, 1000)
	agg.UpdateMarkPrice(100 * px)

	notional, ok := agg.Notional(agg.Get("0xabc"))
	if !ok || notional != 200*quote {
		t.Errorf("expected notional %d, got %d (ok=%v)", 200*quote, notional, ok)
	}
}
