package reserve

import (
	"fmt"

	"github.com/decred/dcrd/math/uint256"
	flatbuffers "github.com/google/flatbuffers/go"

	"RateQuorum/internal/sanity"
	"RateQuorum/internal/types"
)

// amountSize is the size of a big-endian encoded amount.
const amountSize = 32

// Entry is one (token, amount) pair of a rate table payload. Amount is a
// rate for the sanity rates slot and basis points for the diffs slot.
type Entry struct {
	Token  sanity.Token
	Amount uint256.Uint256
}

// EncodeTable serializes entries as a RateTable flatbuffer.
func EncodeTable(entries []Entry) []byte {
	builder := flatbuffers.NewBuilder(64 + len(entries)*(sanity.TokenSize+amountSize+16))

	offsets := make([]flatbuffers.UOffsetT, len(entries))
	for i, e := range entries {
		var amount [amountSize]byte
		e.Amount.PutBytes(&amount)

		tokenOffset := builder.CreateByteVector(e.Token[:])
		amountOffset := builder.CreateByteVector(amount[:])

		types.RateEntryStart(builder)
		types.RateEntryAddToken(builder, tokenOffset)
		types.RateEntryAddAmount(builder, amountOffset)
		offsets[i] = types.RateEntryEnd(builder)
	}

	types.RateTableStartEntriesVector(builder, len(offsets))
	for i := len(offsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(offsets[i])
	}
	entriesVec := builder.EndVector(len(offsets))

	types.RateTableStart(builder)
	types.RateTableAddEntries(builder, entriesVec)
	builder.Finish(types.RateTableEnd(builder))

	return builder.FinishedBytes()
}

// DecodeTable parses a RateTable flatbuffer.
func DecodeTable(data []byte) (entries []Entry, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrBadPayload, r)
		}
	}()

	if len(data) < flatbuffers.SizeUOffsetT {
		return nil, fmt.Errorf("%w: too short", ErrBadPayload)
	}

	table := types.GetRootAsRateTable(data, 0)
	entries = make([]Entry, table.EntriesLength())

	var re types.RateEntry
	for i := range entries {
		table.Entries(&re, i)

		token := re.TokenBytes()
		if len(token) != sanity.TokenSize {
			return nil, fmt.Errorf("%w: entry %d token has %d bytes", ErrBadPayload, i, len(token))
		}

		amount := re.AmountBytes()
		if len(amount) != amountSize {
			return nil, fmt.Errorf("%w: entry %d amount has %d bytes", ErrBadPayload, i, len(amount))
		}

		copy(entries[i].Token[:], token)
		entries[i].Amount.SetBytes((*[amountSize]byte)(amount))
	}

	return entries, nil
}

// splitEntries returns the tokens and amounts of entries.
func splitEntries(entries []Entry) ([]sanity.Token, []uint256.Uint256) {
	tokens := make([]sanity.Token, len(entries))
	amounts := make([]uint256.Uint256, len(entries))

	for i, e := range entries {
		tokens[i] = e.Token
		amounts[i] = e.Amount
	}

	return tokens, amounts
}

// splitDiffs returns the tokens and bps of entries, rejecting any diff that
// does not fit a uint64.
func splitDiffs(entries []Entry) ([]sanity.Token, []uint64, error) {
	tokens := make([]sanity.Token, len(entries))
	diffs := make([]uint64, len(entries))

	for i := range entries {
		if !entries[i].Amount.IsUint64() {
			return nil, nil, fmt.Errorf("%w: %s for %s", sanity.ErrDiffTooHigh, entries[i].Amount.String(), entries[i].Token)
		}

		tokens[i] = entries[i].Token
		diffs[i] = entries[i].Amount.Uint64()
	}

	return tokens, diffs, nil
}
