package book

import (
	"context"
	"errors"
	"fmt"

	"PerpScope/internal/ledger"
)

// MaxChainDepth bounds a single walk down the on-chain order list. The
// contract never holds more resting orders per side than this.
const MaxChainDepth = 128

// MaxScanID bounds the exhaustive id scan used as a backstop when the
// chain head is unreadable.
const MaxScanID = 128

// ErrChainDepthExceeded reports a chain longer than MaxChainDepth,
// which the contract should never produce.
var ErrChainDepthExceeded = errors.New("order chain depth bound exceeded")

// OrderReader is the slice of the ledger client the walker needs.
type OrderReader interface {
	Order(ctx context.Context, id uint64) (ledger.Order, error)
}

// Walk follows the singly-linked order chain starting at headID and
// returns every order it reached. A zero id terminates the chain, and
// so does a link to a slot that decodes as not-found. On a read
// failure, a detected cycle, or a chain longer than MaxChainDepth the
// orders collected so far are returned together with the error, so
// callers can treat the side as "partially known" rather than empty.
func Walk(ctx context.Context, reader OrderReader, headID uint64) ([]ledger.Order, error) {
	var orders []ledger.Order
	visited := make(map[uint64]struct{}, 16)

	id := headID
	for steps := 0; steps < MaxChainDepth; steps++ {
		if id == 0 {
			return orders, nil
		}
		if _, seen := visited[id]; seen {
			return orders, fmt.Errorf("order chain cycle at id %d", id)
		}
		visited[id] = struct{}{}

		order, err := reader.Order(ctx, id)
		if err != nil {
			return orders, fmt.Errorf("read order %d: %w", id, err)
		}
		if order.ID == 0 {
			// Dangling link: the slot holds no order.
			return orders, nil
		}
		orders = append(orders, order)
		id = order.Next
	}
	if id != 0 {
		return orders, fmt.Errorf("walk truncated at id %d: %w", id, ErrChainDepthExceeded)
	}
	return orders, nil
}

// Scan reads order slots 1 through MaxScanID directly, ignoring chain
// links. Empty slots come back with a zero id and are skipped. Read
// errors on individual slots are skipped as well; the scan is a
// best-effort backstop, not an authoritative source.
func Scan(ctx context.Context, reader OrderReader) []ledger.Order {
	var orders []ledger.Order
	for id := uint64(1); id <= MaxScanID; id++ {
		if ctx.Err() != nil {
			return orders
		}
		order, err := reader.Order(ctx, id)
		if err != nil || order.ID == 0 {
			continue
		}
		orders = append(orders, order)
	}
	return orders
}

// Merge combines order sets, deduplicating by id. Later sets win, so
// callers pass the more authoritative source last.
func Merge(sets ...[]ledger.Order) []ledger.Order {
	byID := make(map[uint64]ledger.Order)
	var ids []uint64
	for _, set := range sets {
		for _, order := range set {
			if order.ID == 0 {
				continue
			}
			if _, ok := byID[order.ID]; !ok {
				ids = append(ids, order.ID)
			}
			byID[order.ID] = order
		}
	}

	merged := make([]ledger.Order, 0, len(ids))
	for _, id := range ids {
		merged = append(merged, byID[id])
	}
	return merged
}
