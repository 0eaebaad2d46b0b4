package sanity

import (
	"errors"
	"testing"

	"github.com/decred/dcrd/math/uint256"

	"RateQuorum/internal/rate"
)

// testToken returns a deterministic token distinct from Native.
func testToken(n byte) Token {
	var t Token
	t[19] = n
	return t
}

// r returns n * 10^exp.
func r(n uint64, exp int) uint256.Uint256 {
	v := rate.FromUint64(n)
	p := rate.Pow10(exp)
	v.Mul(&p)
	return v
}

// TestParseToken tests hex decoding with and without prefix.
func TestParseToken(t *testing.T) {
	tok, err := ParseToken("0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee")
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if tok != Native {
		t.Fatalf("got %s, want Native", tok)
	}

	again, err := ParseToken(testToken(7).String()[2:])
	if err != nil || again != testToken(7) {
		t.Fatalf("unprefixed parse = %s, %v", again, err)
	}

	if _, err := ParseToken("0x1234"); err == nil {
		t.Fatal("expected error for short token")
	}
}

// TestSanityRateTokenToNative tests the token to native bound with tolerance.
func TestSanityRateTokenToNative(t *testing.T) {
	table := NewTable()
	tok := testToken(1)

	if err := table.SetRates([]Token{tok}, []uint256.Uint256{r(2, 18)}); err != nil {
		t.Fatalf("SetRates: %v", err)
	}
	if err := table.SetReasonableDiffs([]Token{tok}, []uint64{500}); err != nil {
		t.Fatalf("SetReasonableDiffs: %v", err)
	}

	// 2e18 * 10500 / 10000 = 2.1e18
	got := table.SanityRate(tok, Native)
	want := r(21, 17)
	if !got.Eq(&want) {
		t.Fatalf("token->native = %s, want %s", got.String(), want.String())
	}
}

// TestSanityRateNativeToToken tests the inverted bound.
func TestSanityRateNativeToToken(t *testing.T) {
	table := NewTable()
	tok := testToken(1)

	table.SetRates([]Token{tok}, []uint256.Uint256{r(2, 18)})
	table.SetReasonableDiffs([]Token{tok}, []uint64{1000})

	// (1e36 / 2e18) * 11000 / 10000 = 5.5e17
	got := table.SanityRate(Native, tok)
	want := r(55, 16)
	if !got.Eq(&want) {
		t.Fatalf("native->token = %s, want %s", got.String(), want.String())
	}
}

// TestSanityRateUnbounded tests the pairs with no known bound.
func TestSanityRateUnbounded(t *testing.T) {
	table := NewTable()
	a, b := testToken(1), testToken(2)

	table.SetRates([]Token{a, b}, []uint256.Uint256{r(1, 18), r(3, 18)})

	if got := table.SanityRate(a, b); !got.IsZero() {
		t.Fatalf("token->token = %s, want 0", got.String())
	}
	if got := table.SanityRate(testToken(9), Native); !got.IsZero() {
		t.Fatalf("unknown token = %s, want 0", got.String())
	}

	// no diff set means no tolerance
	if got, want := table.SanityRate(b, Native), r(3, 18); !got.Eq(&want) {
		t.Fatalf("zero diff = %s, want %s", got.String(), want.String())
	}
}

// TestSetRatesRejections tests that invalid batches change nothing.
func TestSetRatesRejections(t *testing.T) {
	table := NewTable()
	a, b := testToken(1), testToken(2)

	if err := table.SetRates([]Token{a, b}, []uint256.Uint256{r(1, 18)}); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}

	tooHigh := rate.MaxRate
	one := rate.FromUint64(1)
	tooHigh.Add(&one)

	if err := table.SetRates([]Token{a, b}, []uint256.Uint256{r(1, 18), tooHigh}); !errors.Is(err, ErrRateTooHigh) {
		t.Fatalf("expected ErrRateTooHigh, got %v", err)
	}
	if got := table.Rate(a); !got.IsZero() {
		t.Fatal("rejected batch applied its first entry")
	}

	if err := table.SetRates([]Token{a}, []uint256.Uint256{rate.MaxRate}); err != nil {
		t.Fatalf("MaxRate should be accepted: %v", err)
	}

	if err := table.SetReasonableDiffs([]Token{a}, []uint64{1, 2}); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
	if err := table.SetReasonableDiffs([]Token{a}, []uint64{10001}); !errors.Is(err, ErrDiffTooHigh) {
		t.Fatalf("expected ErrDiffTooHigh, got %v", err)
	}
	if err := table.SetReasonableDiffs([]Token{a}, []uint64{10000}); err != nil {
		t.Fatalf("10000 bps should be accepted: %v", err)
	}
	if table.ReasonableDiff(a) != 10000 {
		t.Fatalf("ReasonableDiff = %d", table.ReasonableDiff(a))
	}
}
