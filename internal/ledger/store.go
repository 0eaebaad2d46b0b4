package ledger

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"RateQuorum/internal/permission"
	"RateQuorum/internal/storage"
)

// Storage key layout.
var (
	keyNumSlots = []byte("m:slots") // keyNumSlots holds the slot count as u32 big-endian
	keyGroups   = []byte("g:")      // keyGroups holds the Groups record
	prefixSlot  = []byte("s:")      // prefixSlot + u32 big-endian index holds a DataSlot record
)

// store persists ledger state. Slots that were never proposed have no record.
type store struct {
	db *storage.Storage
}

// newStore creates a store backed by db.
func newStore(db *storage.Storage) *store {
	return &store{db: db}
}

// slotKey returns the key of slot index.
func slotKey(index int) []byte {
	key := make([]byte, len(prefixSlot)+4)
	copy(key, prefixSlot)
	binary.BigEndian.PutUint32(key[len(prefixSlot):], uint32(index))

	return key
}

// encodeCount encodes the slot count.
func encodeCount(n int) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(n))

	return buf
}

// init writes the metadata of a fresh ledger.
func (s *store) init(numSlots int, groups *permission.Groups) error {
	return s.db.Apply([]storage.Op{
		{Key: keyNumSlots, Value: encodeCount(numSlots)},
		{Key: keyGroups, Value: encodeGroups(groups)},
	})
}

// load fills l from storage. Returns false when nothing was stored yet.
func (s *store) load(l *Ledger) (bool, error) {
	countData, err := s.db.Get(keyNumSlots)
	if err != nil {
		return false, fmt.Errorf("read slot count:\n%w", err)
	}
	if countData == nil {
		return false, nil
	}
	if len(countData) != 4 {
		return false, fmt.Errorf("%w: slot count record has %d bytes", ErrCorruptRecord, len(countData))
	}

	stored := int(binary.BigEndian.Uint32(countData))
	if stored != len(l.slots) {
		return false, fmt.Errorf("%w: stored %d, requested %d", ErrSlotCountMismatch, stored, len(l.slots))
	}

	groupsData, err := s.db.Get(keyGroups)
	if err != nil {
		return false, fmt.Errorf("read groups:\n%w", err)
	}
	if groupsData == nil {
		return false, fmt.Errorf("%w: missing groups record", ErrCorruptRecord)
	}

	groups, err := decodeGroups(groupsData)
	if err != nil {
		return false, fmt.Errorf("decode groups:\n%w", err)
	}

	slots := make([]slot, stored)

	err = s.db.IteratePrefix(prefixSlot, func(key, value []byte) error {
		index, sl, err := decodeSlot(value)
		if err != nil {
			return fmt.Errorf("decode slot record %x:\n%w", key, err)
		}
		if index >= stored || !bytes.Equal(key, slotKey(index)) {
			return fmt.Errorf("%w: slot record %x holds index %d", ErrCorruptRecord, key, index)
		}

		slots[index] = sl

		return nil
	})
	if err != nil {
		return false, err
	}

	l.groups = groups
	l.slots = slots

	return true, nil
}

// saveSlot writes one slot record.
func (s *store) saveSlot(index int, sl slot) error {
	return s.db.Set(slotKey(index), encodeSlot(index, sl))
}

// saveGroups writes the groups record.
func (s *store) saveGroups(groups *permission.Groups) error {
	return s.db.Set(keyGroups, encodeGroups(groups))
}

// replace overwrites the groups and every slot in one batch.
func (s *store) replace(groups *permission.Groups, slots []slot) error {
	ops := make([]storage.Op, 0, len(slots)+1)
	ops = append(ops, storage.Op{Key: keyGroups, Value: encodeGroups(groups)})

	for i, sl := range slots {
		if sl.revision == 0 {
			ops = append(ops, storage.Op{Key: slotKey(i)})
			continue
		}
		ops = append(ops, storage.Op{Key: slotKey(i), Value: encodeSlot(i, sl)})
	}

	return s.db.Apply(ops)
}
