package reserve

import (
	"encoding/binary"
	"fmt"

	"RateQuorum/internal/sanity"
	"RateQuorum/internal/storage"
)

// prefixDecimals + token holds the listed decimals of a token as u64 big-endian.
var prefixDecimals = []byte("r:d:")

// registry persists token listings. It lives next to the ledger records in
// the same database, under its own prefix.
type registry struct {
	db *storage.Storage
}

// decimalsKey returns the key of token's listing.
func decimalsKey(token sanity.Token) []byte {
	key := make([]byte, len(prefixDecimals)+sanity.TokenSize)
	copy(key, prefixDecimals)
	copy(key[len(prefixDecimals):], token[:])

	return key
}

// load reads every listing into out.
func (g *registry) load(out map[sanity.Token]uint) error {
	return g.db.IteratePrefix(prefixDecimals, func(key, value []byte) error {
		if len(key) != len(prefixDecimals)+sanity.TokenSize || len(value) != 8 {
			return fmt.Errorf("corrupt listing record %x", key)
		}

		var token sanity.Token
		copy(token[:], key[len(prefixDecimals):])
		out[token] = uint(binary.BigEndian.Uint64(value))

		return nil
	})
}

// save writes the listing of token.
func (g *registry) save(token sanity.Token, decimals uint) error {
	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, uint64(decimals))

	return g.db.Set(decimalsKey(token), value)
}
