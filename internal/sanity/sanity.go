// Package sanity keeps a per-token reference rate against the native asset
// and a tolerance in basis points. A quoted rate above the sanity rate for
// its pair is considered implausible.
package sanity

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/decred/dcrd/math/uint256"

	"RateQuorum/internal/rate"
)

// TokenSize is the byte length of a Token.
const TokenSize = 20

// MaxDiffBps is the largest accepted reasonable difference, 100%.
const MaxDiffBps = 10000

var (
	// ErrLengthMismatch is returned when tokens and values differ in length.
	ErrLengthMismatch = errors.New("tokens and values have different lengths")

	// ErrRateTooHigh is returned for a sanity rate above rate.MaxRate.
	ErrRateTooHigh = errors.New("sanity rate above maximum")

	// ErrDiffTooHigh is returned for a reasonable difference above MaxDiffBps.
	ErrDiffTooHigh = errors.New("reasonable difference above 10000 bps")
)

// Token identifies an asset.
type Token [TokenSize]byte

// Native is the native asset of the reserve.
var Native = Token{
	0xee, 0xee, 0xee, 0xee, 0xee, 0xee, 0xee, 0xee, 0xee, 0xee,
	0xee, 0xee, 0xee, 0xee, 0xee, 0xee, 0xee, 0xee, 0xee, 0xee,
}

// String returns the token as 0x-prefixed hex.
func (t Token) String() string {
	return "0x" + hex.EncodeToString(t[:])
}

// ParseToken decodes a 40-character hex string, with or without 0x.
func ParseToken(s string) (Token, error) {
	var t Token

	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return t, fmt.Errorf("decode token:\n%w", err)
	}
	if len(b) != TokenSize {
		return t, fmt.Errorf("token must be %d bytes, got %d", TokenSize, len(b))
	}

	copy(t[:], b)

	return t, nil
}

// Table holds sanity rates and reasonable differences. It is safe for
// concurrent use.
type Table struct {
	mu    sync.RWMutex
	rates map[Token]uint256.Uint256 // rates maps token to its rate against Native
	diffs map[Token]uint64          // diffs maps token to its tolerance in bps
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		rates: make(map[Token]uint256.Uint256),
		diffs: make(map[Token]uint64),
	}
}

// CheckRates validates a batch for SetRates without applying it.
func CheckRates(tokens []Token, rates []uint256.Uint256) error {
	if len(tokens) != len(rates) {
		return fmt.Errorf("%w: %d tokens, %d rates", ErrLengthMismatch, len(tokens), len(rates))
	}

	for i := range rates {
		if rates[i].Gt(&rate.MaxRate) {
			return fmt.Errorf("%w: %s for %s", ErrRateTooHigh, rates[i].String(), tokens[i])
		}
	}

	return nil
}

// CheckDiffs validates a batch for SetReasonableDiffs without applying it.
func CheckDiffs(tokens []Token, diffs []uint64) error {
	if len(tokens) != len(diffs) {
		return fmt.Errorf("%w: %d tokens, %d diffs", ErrLengthMismatch, len(tokens), len(diffs))
	}

	for i, d := range diffs {
		if d > MaxDiffBps {
			return fmt.Errorf("%w: %d for %s", ErrDiffTooHigh, d, tokens[i])
		}
	}

	return nil
}

// SetRates sets the sanity rate of each token. Either every entry is
// applied or none is.
func (t *Table) SetRates(tokens []Token, rates []uint256.Uint256) error {
	if err := CheckRates(tokens, rates); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for i, tok := range tokens {
		t.rates[tok] = rates[i]
	}

	return nil
}

// SetReasonableDiffs sets the tolerance of each token in basis points.
// Either every entry is applied or none is.
func (t *Table) SetReasonableDiffs(tokens []Token, diffs []uint64) error {
	if err := CheckDiffs(tokens, diffs); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for i, tok := range tokens {
		t.diffs[tok] = diffs[i]
	}

	return nil
}

// Rate returns the stored sanity rate of token, zero if unset.
func (t *Table) Rate(token Token) uint256.Uint256 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.rates[token]
}

// ReasonableDiff returns the stored tolerance of token in bps.
func (t *Table) ReasonableDiff(token Token) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.diffs[token]
}

// SanityRate returns the highest plausible rate from src to dst. Zero means
// no bound is known: neither side is Native, or the token has no rate.
//
//	token -> Native: rate * (10000 + diff) / 10000
//	Native -> token: (Precision^2 / rate) * (10000 + diff) / 10000
func (t *Table) SanityRate(src, dst Token) uint256.Uint256 {
	if src != Native && dst != Native {
		return uint256.Uint256{}
	}

	token := src
	if src == Native {
		token = dst
	}

	t.mu.RLock()
	r := t.rates[token]
	diff := t.diffs[token]
	t.mu.RUnlock()

	if r.IsZero() {
		return uint256.Uint256{}
	}

	if src == Native {
		inv, err := rate.InverseRate(&r)
		if err != nil {
			return uint256.Uint256{}
		}
		r = inv
	}

	scale := rate.FromUint64(MaxDiffBps + diff)
	bps := rate.FromUint64(MaxDiffBps)
	r.Mul(&scale)

	return *r.Div(&bps)
}
