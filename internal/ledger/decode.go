package ledger

import (
	"fmt"
	"math/big"

	"PerpScope/internal/fpmath"
)

// The chain stores every quantity as an 18-decimal wei bigint. This file
// is the single canonical decoding step: each on-chain value is reduced
// to its int64 fixed-point scale exactly once, here, and the rest of the
// system never sees a wei value or a dynamically shaped record.

var weiScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// fromWei reduces an 18-decimal wei value to the target fixed-point scale,
// truncating sub-scale precision.
func fromWei(v *big.Int, scale int64) (int64, error) {
	reduced := new(big.Int).Mul(v, big.NewInt(scale))
	reduced.Quo(reduced, weiScale)
	if !reduced.IsInt64() {
		return 0, fmt.Errorf("value %s overflows int64 at scale %d", v, scale)
	}
	return reduced.Int64(), nil
}

// toWei expands a fixed-point value back to wei for submission.
func toWei(v int64, scale int64) *big.Int {
	expanded := new(big.Int).Mul(big.NewInt(v), weiScale)
	expanded.Quo(expanded, big.NewInt(scale))
	return expanded
}

// decodeOrder maps the 8-word orders(id) return into the canonical Order.
// An all-zero record (ID == 0) is the contract's "not found" sentinel and
// is returned as the zero Order.
func decodeOrder(words [][]byte) (Order, error) {
	if len(words) < 8 {
		return Order{}, fmt.Errorf("order record: want 8 words, got %d", len(words))
	}

	price, err := fromWei(wordUint(words[3]), fpmath.PriceConfig.Scale)
	if err != nil {
		return Order{}, fmt.Errorf("order price: %w", err)
	}
	amount, err := fromWei(wordUint(words[4]), fpmath.QuantityConfig.Scale)
	if err != nil {
		return Order{}, fmt.Errorf("order amount: %w", err)
	}
	initial, err := fromWei(wordUint(words[5]), fpmath.QuantityConfig.Scale)
	if err != nil {
		return Order{}, fmt.Errorf("order initial amount: %w", err)
	}

	return Order{
		ID:            wordUint(words[0]).Uint64(),
		Trader:        wordAddress(words[1]),
		IsBuy:         wordBool(words[2]),
		Price:         price,
		Amount:        amount,
		InitialAmount: initial,
		Timestamp:     wordUint(words[6]).Int64(),
		Next:          wordUint(words[7]).Uint64(),
	}, nil
}

// decodePosition maps the 4-word getPosition(trader) return.
func decodePosition(trader string, words [][]byte) (Position, error) {
	if len(words) < 4 {
		return Position{}, fmt.Errorf("position record: want 4 words, got %d", len(words))
	}

	size, err := fromWei(wordInt(words[0]), fpmath.QuantityConfig.Scale)
	if err != nil {
		return Position{}, fmt.Errorf("position size: %w", err)
	}
	entry, err := fromWei(wordUint(words[1]), fpmath.PriceConfig.Scale)
	if err != nil {
		return Position{}, fmt.Errorf("position entry price: %w", err)
	}
	isolated, err := fromWei(wordUint(words[3]), fpmath.QuoteConfig.Scale)
	if err != nil {
		return Position{}, fmt.Errorf("position isolated margin: %w", err)
	}

	return Position{
		Trader:         trader,
		Size:           size,
		EntryPrice:     entry,
		Mode:           MarginMode(wordUint(words[2]).Uint64()),
		IsolatedMargin: isolated,
	}, nil
}

// decodeScalar maps a single-word uint return at the given scale.
func decodeScalar(words [][]byte, scale int64) (int64, error) {
	if len(words) < 1 {
		return 0, fmt.Errorf("scalar return: empty payload")
	}
	return fromWei(wordUint(words[0]), scale)
}

// decodeRaw maps a single-word uint return that is not wei-scaled
// (ids, basis points, unix timestamps, interval seconds).
func decodeRaw(words [][]byte) (uint64, error) {
	if len(words) < 1 {
		return 0, fmt.Errorf("raw return: empty payload")
	}
	v := wordUint(words[0])
	if !v.IsUint64() {
		return 0, fmt.Errorf("raw return overflows uint64: %s", v)
	}
	return v.Uint64(), nil
}
