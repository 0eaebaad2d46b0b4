package ledger

import (
	"bytes"
	"fmt"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"RateQuorum/internal/logger"
	"RateQuorum/internal/permission"
	"RateQuorum/internal/types"
)

const (
	// snapshotVersion is the current snapshot format version.
	snapshotVersion = 1

	// checksumSize is the size of the BLAKE3 checksum prepended to the payload.
	checksumSize = 32
)

// maxSnapshotSize caps the decompressed size of an imported snapshot.
var maxSnapshotSize uint64 = 256 << 20

// Export serializes the groups and every slot into a compressed snapshot.
// Format: zstd(blake3(payload) || payload), payload being a Snapshot flatbuffer.
func (l *Ledger) Export() ([]byte, error) {
	start := time.Now()

	l.mu.Lock()
	payload := buildSnapshot(l.groups, l.slots)
	numSlots := len(l.slots)
	l.mu.Unlock()

	compressed, err := seal(payload)
	if err != nil {
		return nil, err
	}

	logger.Info("snapshot exported", "slots", numSlots, "size", len(compressed), logger.Timed(start))

	return compressed, nil
}

// Import replaces the groups and every slot with the content of a snapshot
// produced by Export. Only the admin may import. The snapshot must hold the
// same number of slots as the ledger. The caller is checked before the
// snapshot is decompressed.
func (l *Ledger) Import(caller permission.Identity, data []byte) error {
	start := time.Now()

	l.mu.Lock()
	err := l.groups.RequireAdmin(caller)
	l.mu.Unlock()
	if err != nil {
		logger.Warn("import rejected", "caller", caller, "error", err)
		return err
	}

	groups, slots, err := parseSnapshot(data)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// admin may have changed while the snapshot was decoded
	if err := l.groups.RequireAdmin(caller); err != nil {
		logger.Warn("import rejected", "caller", caller, "error", err)
		return err
	}
	if len(slots) != len(l.slots) {
		return fmt.Errorf("%w: snapshot has %d, ledger has %d", ErrSlotCountMismatch, len(slots), len(l.slots))
	}

	if l.store != nil {
		if err := l.store.replace(groups, slots); err != nil {
			return fmt.Errorf("persist snapshot:\n%w", err)
		}
	}

	l.groups = groups
	l.slots = slots

	logger.Info("snapshot imported",
		"slots", len(slots),
		"admin", groups.Admin(),
		"operators", groups.Operators().Len(),
		logger.Timed(start),
	)

	return nil
}

// buildSnapshot encodes the full ledger state.
func buildSnapshot(groups *permission.Groups, slots []slot) []byte {
	builder := flatbuffers.NewBuilder(1024)

	slotOffsets := make([]flatbuffers.UOffsetT, len(slots))
	for i, s := range slots {
		slotOffsets[i] = buildSlotOffset(builder, i, s)
	}

	types.SnapshotStartSlotsVector(builder, len(slotOffsets))
	for i := len(slotOffsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(slotOffsets[i])
	}
	slotsVec := builder.EndVector(len(slotOffsets))

	groupsOffset := buildGroupsOffset(builder, groups)

	types.SnapshotStart(builder)
	types.SnapshotAddVersion(builder, snapshotVersion)
	types.SnapshotAddNumSlots(builder, uint32(len(slots)))
	types.SnapshotAddGroups(builder, groupsOffset)
	types.SnapshotAddSlots(builder, slotsVec)
	builder.Finish(types.SnapshotEnd(builder))

	return builder.FinishedBytes()
}

// seal frames payload with its checksum and compresses it.
func seal(payload []byte) ([]byte, error) {
	checksum := blake3.Sum256(payload)

	framed := make([]byte, 0, checksumSize+len(payload))
	framed = append(framed, checksum[:]...)
	framed = append(framed, payload...)

	compressed, err := compress(framed)
	if err != nil {
		return nil, fmt.Errorf("compress snapshot:\n%w", err)
	}

	return compressed, nil
}

// parseSnapshot decompresses, verifies and decodes a snapshot.
func parseSnapshot(data []byte) (*permission.Groups, []slot, error) {
	framed, err := decompress(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: decompress: %v", ErrBadSnapshot, err)
	}
	if len(framed) < checksumSize+flatbuffers.SizeUOffsetT {
		return nil, nil, fmt.Errorf("%w: too short", ErrBadSnapshot)
	}

	payload := framed[checksumSize:]
	checksum := blake3.Sum256(payload)
	if !bytes.Equal(checksum[:], framed[:checksumSize]) {
		return nil, nil, fmt.Errorf("%w: checksum mismatch", ErrBadSnapshot)
	}

	return decodeSnapshot(payload)
}

// decodeSnapshot reads groups and slots out of a verified payload.
func decodeSnapshot(payload []byte) (groups *permission.Groups, slots []slot, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: malformed payload: %v", ErrBadSnapshot, r)
		}
	}()

	snap := types.GetRootAsSnapshot(payload, 0)

	if v := snap.Version(); v != snapshotVersion {
		return nil, nil, fmt.Errorf("%w: unsupported version %d", ErrBadSnapshot, v)
	}

	var gt types.Groups
	if snap.Groups(&gt) == nil {
		return nil, nil, fmt.Errorf("%w: missing groups", ErrBadSnapshot)
	}

	groups, err = groupsFromTable(&gt)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: groups: %v", ErrBadSnapshot, err)
	}

	numSlots := int(snap.NumSlots())
	if snap.SlotsLength() != numSlots {
		return nil, nil, fmt.Errorf("%w: header says %d slots, found %d", ErrBadSnapshot, numSlots, snap.SlotsLength())
	}

	slots = make([]slot, numSlots)
	seen := make([]bool, numSlots)

	var st types.DataSlot
	for j := 0; j < numSlots; j++ {
		snap.Slots(&st, j)

		index, s, err := slotFromTable(&st)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: slot %d: %v", ErrBadSnapshot, j, err)
		}
		if index >= numSlots || seen[index] {
			return nil, nil, fmt.Errorf("%w: bad slot index %d", ErrBadSnapshot, index)
		}

		seen[index] = true
		slots[index] = s
	}

	return groups, slots, nil
}

// compress compresses data using zstd.
func compress(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, nil), nil
}

// decompress decompresses zstd data of at most maxSnapshotSize bytes.
func decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxSnapshotSize))
	if err != nil {
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}
	defer decoder.Close()

	return decoder.DecodeAll(data, nil)
}
