// Package reserve is a host for the ledger and the converter: operators
// publish sanity rates and tolerances through the ledger, and quotes are
// bounded by the finalized values.
package reserve

import (
	"errors"
	"fmt"
	"sync"

	"github.com/decred/dcrd/math/uint256"

	"RateQuorum/internal/ledger"
	"RateQuorum/internal/logger"
	"RateQuorum/internal/permission"
	"RateQuorum/internal/rate"
	"RateQuorum/internal/sanity"
	"RateQuorum/internal/storage"
)

// Ledger slots used by the reserve.
const (
	SlotSanityRates     = 0 // SlotSanityRates holds a RateTable of token rates
	SlotReasonableDiffs = 1 // SlotReasonableDiffs holds a RateTable of tolerances in bps

	// MinSlots is the smallest ledger the reserve can run on.
	MinSlots = 2
)

var (
	// ErrTooFewSlots is returned when the ledger has fewer than MinSlots slots.
	ErrTooFewSlots = errors.New("ledger has too few slots for a reserve")

	// ErrBadPayload is returned when a slot value is not a valid rate table.
	ErrBadPayload = errors.New("malformed rate table payload")

	// ErrTokenNotListed is returned when quoting a token with no listed decimals.
	ErrTokenNotListed = errors.New("token not listed")

	// ErrRateAboveSanity is returned when a quoted rate exceeds the sanity rate.
	ErrRateAboveSanity = errors.New("rate above sanity rate")
)

// Reserve applies finalized ledger payloads to a sanity table and quotes
// trades against it. Pending revisions never block quotes: the table keeps
// the last finalized values until a new revision finalizes.
type Reserve struct {
	ledger *ledger.Ledger
	table  *sanity.Table

	registry *registry // registry persists listings, nil when in memory

	mu       sync.Mutex
	decimals map[sanity.Token]uint // decimals is the listed precision per token
	applied  [MinSlots]uint64       // applied is the last revision applied per slot
}

// New creates a reserve over l with an in-memory token registry. Native is
// listed with rate.NativeDecimals.
func New(l *ledger.Ledger) (*Reserve, error) {
	return open(l, nil)
}

// Open creates a reserve over l whose token listings are persisted in db,
// normally the database the ledger lives in.
func Open(l *ledger.Ledger, db *storage.Storage) (*Reserve, error) {
	return open(l, &registry{db: db})
}

// open builds the reserve and applies any finalized slot.
func open(l *ledger.Ledger, reg *registry) (*Reserve, error) {
	if l.NumSlots() < MinSlots {
		return nil, fmt.Errorf("%w: %d < %d", ErrTooFewSlots, l.NumSlots(), MinSlots)
	}

	r := &Reserve{
		ledger:   l,
		table:    sanity.NewTable(),
		registry: reg,
		decimals: map[sanity.Token]uint{sanity.Native: rate.NativeDecimals},
	}

	if reg != nil {
		if err := reg.load(r.decimals); err != nil {
			return nil, fmt.Errorf("load token listings:\n%w", err)
		}
	}

	// a persisted ledger may already hold finalized revisions
	for slot := 0; slot < MinSlots; slot++ {
		if err := r.applyIfFinalized(slot); err != nil {
			logger.Warn("finalized revision not applied", "slot", slot, "error", err)
		}
	}

	return r, nil
}

// Table returns the sanity table fed by finalized revisions.
func (r *Reserve) Table() *sanity.Table {
	return r.table
}

// ProposeSanityRates validates entries and proposes them for the sanity
// rates slot. Returns the new revision.
func (r *Reserve) ProposeSanityRates(caller permission.Identity, entries []Entry) (uint64, error) {
	tokens, rates := splitEntries(entries)
	if err := sanity.CheckRates(tokens, rates); err != nil {
		return 0, err
	}

	return r.ledger.Propose(caller, SlotSanityRates, EncodeTable(entries))
}

// ProposeReasonableDiffs validates entries and proposes them for the
// reasonable diffs slot. Returns the new revision.
func (r *Reserve) ProposeReasonableDiffs(caller permission.Identity, entries []Entry) (uint64, error) {
	tokens, diffs, err := splitDiffs(entries)
	if err != nil {
		return 0, err
	}
	if err := sanity.CheckDiffs(tokens, diffs); err != nil {
		return 0, err
	}

	return r.ledger.Propose(caller, SlotReasonableDiffs, EncodeTable(entries))
}

// Attest attests revision of slot. When the revision becomes finalized on a
// reserve slot its payload is applied to the sanity table.
func (r *Reserve) Attest(caller permission.Identity, slot int, revision uint64) (bool, error) {
	finalized, err := r.ledger.Attest(caller, slot, revision)
	if err != nil {
		return false, err
	}

	if finalized && slot < MinSlots {
		if err := r.applyIfFinalized(slot); err != nil {
			return true, fmt.Errorf("apply slot %d:\n%w", slot, err)
		}
	}

	return finalized, nil
}

// Refresh applies any reserve slot that became finalized outside Attest,
// such as after an operator was removed.
func (r *Reserve) Refresh() error {
	for slot := 0; slot < MinSlots; slot++ {
		if err := r.applyIfFinalized(slot); err != nil {
			return fmt.Errorf("apply slot %d:\n%w", slot, err)
		}
	}
	return nil
}

// applyIfFinalized applies the current revision of slot when it is
// finalized and newer than the last applied one.
func (r *Reserve) applyIfFinalized(slot int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tr, finalized, err := r.ledger.Finalized(slot)
	if err != nil || !finalized {
		return err
	}
	if tr.Revision <= r.applied[slot] {
		return nil
	}

	// a rejected payload is not retried until a new revision finalizes
	r.applied[slot] = tr.Revision

	entries, err := DecodeTable(tr.Value)
	if err != nil {
		return err
	}

	switch slot {
	case SlotSanityRates:
		tokens, rates := splitEntries(entries)
		err = r.table.SetRates(tokens, rates)
	case SlotReasonableDiffs:
		tokens, diffs, splitErr := splitDiffs(entries)
		if splitErr != nil {
			return splitErr
		}
		err = r.table.SetReasonableDiffs(tokens, diffs)
	}
	if err != nil {
		return err
	}

	logger.Info("applied finalized revision", "slot", slot, "revision", tr.Revision, "entries", len(entries))

	return nil
}

// ListToken records the decimal precision of token. Only the ledger admin
// may list tokens.
func (r *Reserve) ListToken(caller permission.Identity, token sanity.Token, decimals uint) error {
	if caller != r.ledger.Admin() {
		return permission.ErrNotAdmin
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.registry != nil {
		if err := r.registry.save(token, decimals); err != nil {
			return fmt.Errorf("persist listing:\n%w", err)
		}
	}
	r.decimals[token] = decimals

	logger.Debug("token listed", "token", token, "decimals", decimals)

	return nil
}

// Decimals returns the listed precision of token.
func (r *Reserve) Decimals(token sanity.Token) (uint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.decimals[token]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrTokenNotListed, token)
	}
	return d, nil
}

// Quote returns how much dst srcQty buys at conversionRate. The rate must
// not exceed the sanity rate of the pair when one is known.
func (r *Reserve) Quote(src, dst sanity.Token, srcQty, conversionRate *uint256.Uint256) (uint256.Uint256, error) {
	srcDecimals, err := r.Decimals(src)
	if err != nil {
		return uint256.Uint256{}, err
	}
	dstDecimals, err := r.Decimals(dst)
	if err != nil {
		return uint256.Uint256{}, err
	}

	bound := r.table.SanityRate(src, dst)
	if !bound.IsZero() && conversionRate.Gt(&bound) {
		return uint256.Uint256{}, fmt.Errorf("%w: %s > %s", ErrRateAboveSanity, conversionRate.String(), bound.String())
	}

	return rate.DestinationQty(srcQty, srcDecimals, dstDecimals, conversionRate)
}
