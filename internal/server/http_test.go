package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"PerpScope/internal/book"
	"PerpScope/internal/funding"
	"PerpScope/internal/observability"
	"PerpScope/internal/query"
	"PerpScope/internal/view"
)

func newTestServer(store *view.Store) (*Server, *observability.HealthChecker) {
	health := observability.NewHealthChecker()
	svc := query.NewService(nil, store)
	s := New(Config{}, svc, store, health, nil, zerolog.Nop())
	return s, health
}

func publishSnapshot(store *view.Store) {
	store.Publish(view.Snapshot{
		Book: book.Book{
			Bids: []book.Level{{Price: 10_000, Size: 2_000_000, Total: 2_000_000, Depth: 1}},
			Asks: []book.Level{{Price: 10_200, Size: 1_000_000, Total: 1_000_000, Depth: 1}},
		},
		Funding: &funding.Estimate{
			Rate:       10_000,
			Premium:    5_000,
			MarkPrice:  10_100,
			IndexPrice: 10_050,
		},
		MarkPrice:   10_100,
		IndexPrice:  10_050,
		RefreshedAt: time.Now(),
	})
}

func TestOrderBookEndpoint(t *testing.T) {
	store := view.NewStore()
	publishSnapshot(store)
	s, _ := newTestServer(store)

	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/orderbook")
	if err != nil {
		t.Fatalf("get orderbook: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body query.OrderBookResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Bids) != 1 || body.Bids[0].Price != 10_000 {
		t.Errorf("bids = %+v, want one level at 10000", body.Bids)
	}
	if body.MidPrice != 10_100 {
		t.Errorf("mid price = %d, want 10100", body.MidPrice)
	}
	if body.Version == 0 {
		t.Error("version should be set")
	}
}

func TestOrderBookUnavailableBeforeFirstRefresh(t *testing.T) {
	s, _ := newTestServer(view.NewStore())

	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/orderbook")
	if err != nil {
		t.Fatalf("get orderbook: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestFundingEstimateEndpoint(t *testing.T) {
	store := view.NewStore()
	publishSnapshot(store)
	s, _ := newTestServer(store)

	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/funding/estimate")
	if err != nil {
		t.Fatalf("get funding estimate: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body query.FundingEstimateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Rate != 10_000 {
		t.Errorf("rate = %d, want 10000", body.Rate)
	}
}

func TestCandlesRejectsUnknownResolution(t *testing.T) {
	store := view.NewStore()
	publishSnapshot(store)
	s, _ := newTestServer(store)

	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/candles?resolution=7")
	if err != nil {
		t.Fatalf("get candles: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestReadinessFlipsWithHealthChecker(t *testing.T) {
	s, health := newTestServer(view.NewStore())

	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("get readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status before ready = %d, want 503", resp.StatusCode)
	}

	health.SetReady(true)
	resp, err = http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("get readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status after ready = %d, want 200", resp.StatusCode)
	}
}

func TestOrderBookStreamDeliversSnapshots(t *testing.T) {
	store := view.NewStore()
	publishSnapshot(store)
	s, _ := newTestServer(store)

	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/stream/orderbook"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	// The current snapshot arrives immediately on connect.
	var first view.Snapshot
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial snapshot: %v", err)
	}
	if first.MarkPrice != 10_100 {
		t.Errorf("initial mark price = %d, want 10100", first.MarkPrice)
	}

	store.Publish(view.Snapshot{
		Book:        book.Book{Bids: []book.Level{{Price: 10_050, Size: 1, Total: 1, Depth: 1}}},
		MarkPrice:   10_150,
		RefreshedAt: time.Now(),
	})

	var second view.Snapshot
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read pushed snapshot: %v", err)
	}
	if second.MarkPrice != 10_150 {
		t.Errorf("pushed mark price = %d, want 10150", second.MarkPrice)
	}
	if second.Version <= first.Version {
		t.Errorf("version did not advance: %d -> %d", first.Version, second.Version)
	}
}
