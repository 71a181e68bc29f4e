package ledger

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Minimal ABI encoding for the fixed set of exchange methods. Every
// argument this contract takes packs into one 32-byte word, so a full
// ABI library would be dead weight.

const wordSize = 32

// methodID returns the 4-byte selector for a canonical signature.
func methodID(signature string) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return h.Sum(nil)[:4]
}

// encodeCall packs a selector and word-sized arguments into calldata hex.
func encodeCall(selector []byte, args ...*big.Int) string {
	data := make([]byte, 0, 4+len(args)*wordSize)
	data = append(data, selector...)
	for _, arg := range args {
		word := make([]byte, wordSize)
		b := arg.Bytes()
		if arg.Sign() < 0 {
			// Two's complement for int256 arguments.
			word = twosComplement(arg)
		} else {
			copy(word[wordSize-len(b):], b)
		}
		data = append(data, word...)
	}
	return "0x" + hex.EncodeToString(data)
}

func twosComplement(v *big.Int) []byte {
	mod := new(big.Int).Lsh(big.NewInt(1), 256)
	wrapped := new(big.Int).Add(mod, v) // v is negative
	b := wrapped.Bytes()
	word := make([]byte, wordSize)
	copy(word[wordSize-len(b):], b)
	return word
}

// addressWord converts a 0x-prefixed address into a word argument.
func addressWord(addr string) (*big.Int, error) {
	clean := strings.TrimPrefix(strings.ToLower(addr), "0x")
	if len(clean) != 40 {
		return nil, fmt.Errorf("%w: address %q", ErrInvalidInput, addr)
	}
	v, ok := new(big.Int).SetString(clean, 16)
	if !ok {
		return nil, fmt.Errorf("%w: address %q", ErrInvalidInput, addr)
	}
	return v, nil
}

func boolWord(b bool) *big.Int {
	if b {
		return big.NewInt(1)
	}
	return big.NewInt(0)
}

// decodeWords splits a 0x-prefixed return payload into 32-byte words.
func decodeWords(payload string) ([][]byte, error) {
	clean := strings.TrimPrefix(payload, "0x")
	if clean == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("decode return data: %w", err)
	}
	if len(raw)%wordSize != 0 {
		return nil, fmt.Errorf("return data not word-aligned: %d bytes", len(raw))
	}
	words := make([][]byte, 0, len(raw)/wordSize)
	for i := 0; i < len(raw); i += wordSize {
		words = append(words, raw[i:i+wordSize])
	}
	return words, nil
}

// wordUint interprets a word as an unsigned big integer.
func wordUint(word []byte) *big.Int {
	return new(big.Int).SetBytes(word)
}

// wordInt interprets a word as a signed (two's complement) big integer.
func wordInt(word []byte) *big.Int {
	v := new(big.Int).SetBytes(word)
	if word[0]&0x80 != 0 {
		mod := new(big.Int).Lsh(big.NewInt(1), 256)
		v.Sub(v, mod)
	}
	return v
}

// wordAddress extracts the low 20 bytes as a 0x address string.
func wordAddress(word []byte) string {
	return "0x" + hex.EncodeToString(word[wordSize-20:])
}

func wordBool(word []byte) bool {
	return word[wordSize-1] != 0
}
