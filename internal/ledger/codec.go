package ledger

import (
	"bytes"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	"RateQuorum/internal/permission"
	"RateQuorum/internal/types"
)

// joinIdentities concatenates ids into one flat byte vector.
func joinIdentities(ids []permission.Identity) []byte {
	out := make([]byte, 0, len(ids)*permission.IdentitySize)
	for _, id := range ids {
		out = append(out, id[:]...)
	}
	return out
}

// splitIdentities is the inverse of joinIdentities.
func splitIdentities(data []byte) ([]permission.Identity, error) {
	if len(data)%permission.IdentitySize != 0 {
		return nil, fmt.Errorf("identity vector length %d not a multiple of %d", len(data), permission.IdentitySize)
	}

	ids := make([]permission.Identity, len(data)/permission.IdentitySize)
	for i := range ids {
		copy(ids[i][:], data[i*permission.IdentitySize:])
	}

	return ids, nil
}

// identityFrom decodes a single identity. An empty vector is the zero identity.
func identityFrom(data []byte) (permission.Identity, error) {
	var id permission.Identity

	if len(data) == 0 {
		return id, nil
	}
	if len(data) != permission.IdentitySize {
		return id, fmt.Errorf("identity length %d, want %d", len(data), permission.IdentitySize)
	}

	copy(id[:], data)

	return id, nil
}

// buildSlotOffset writes s as a DataSlot table into builder.
func buildSlotOffset(builder *flatbuffers.Builder, index int, s slot) flatbuffers.UOffsetT {
	valueOffset := builder.CreateByteVector(s.value)
	attestorsOffset := builder.CreateByteVector(joinIdentities(s.attestors))

	types.DataSlotStart(builder)
	types.DataSlotAddIndex(builder, uint32(index))
	types.DataSlotAddRevision(builder, s.revision)
	types.DataSlotAddValue(builder, valueOffset)
	types.DataSlotAddAttestors(builder, attestorsOffset)

	return types.DataSlotEnd(builder)
}

// encodeSlot serializes one slot as a standalone DataSlot buffer.
func encodeSlot(index int, s slot) []byte {
	builder := flatbuffers.NewBuilder(64 + len(s.value) + len(s.attestors)*permission.IdentitySize)
	builder.Finish(buildSlotOffset(builder, index, s))

	return builder.FinishedBytes()
}

// slotFromTable copies a decoded DataSlot into a slot.
func slotFromTable(t *types.DataSlot) (int, slot, error) {
	attestors, err := splitIdentities(t.AttestorsBytes())
	if err != nil {
		return 0, slot{}, err
	}

	s := slot{
		value:     bytes.Clone(t.ValueBytes()),
		revision:  t.Revision(),
		attestors: attestors,
	}
	if s.revision == 0 && len(s.attestors) > 0 {
		return 0, slot{}, fmt.Errorf("slot %d has attestors but no proposal", t.Index())
	}
	if len(s.attestors) > permission.MaxGroupSize {
		return 0, slot{}, fmt.Errorf("slot %d has %d attestors, max %d", t.Index(), len(s.attestors), permission.MaxGroupSize)
	}

	seen := make(map[permission.Identity]struct{}, len(s.attestors))
	for _, a := range s.attestors {
		if a.IsZero() {
			return 0, slot{}, fmt.Errorf("slot %d has a zero attestor", t.Index())
		}
		if _, dup := seen[a]; dup {
			return 0, slot{}, fmt.Errorf("slot %d: %s attested twice", t.Index(), a)
		}
		seen[a] = struct{}{}
	}

	return int(t.Index()), s, nil
}

// decodeSlot parses a standalone DataSlot buffer.
func decodeSlot(data []byte) (index int, s slot, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: malformed slot: %v", ErrCorruptRecord, r)
		}
	}()

	if len(data) < flatbuffers.SizeUOffsetT {
		return 0, slot{}, fmt.Errorf("%w: slot record too short", ErrCorruptRecord)
	}

	index, s, err = slotFromTable(types.GetRootAsDataSlot(data, 0))
	if err != nil {
		return 0, slot{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}

	return index, s, nil
}

// buildGroupsOffset writes g as a Groups table into builder.
func buildGroupsOffset(builder *flatbuffers.Builder, g *permission.Groups) flatbuffers.UOffsetT {
	admin := g.Admin()
	pending := g.PendingAdmin()

	adminOffset := builder.CreateByteVector(admin[:])

	var pendingOffset flatbuffers.UOffsetT
	if !pending.IsZero() {
		pendingOffset = builder.CreateByteVector(pending[:])
	}

	operatorsOffset := builder.CreateByteVector(joinIdentities(g.Operators().Members()))
	alertersOffset := builder.CreateByteVector(joinIdentities(g.Alerters().Members()))

	types.GroupsStart(builder)
	types.GroupsAddAdmin(builder, adminOffset)
	if pendingOffset != 0 {
		types.GroupsAddPendingAdmin(builder, pendingOffset)
	}
	types.GroupsAddOperators(builder, operatorsOffset)
	types.GroupsAddAlerters(builder, alertersOffset)

	return types.GroupsEnd(builder)
}

// encodeGroups serializes g as a standalone Groups buffer.
func encodeGroups(g *permission.Groups) []byte {
	size := (2 + g.Operators().Len() + g.Alerters().Len()) * permission.IdentitySize
	builder := flatbuffers.NewBuilder(64 + size)
	builder.Finish(buildGroupsOffset(builder, g))

	return builder.FinishedBytes()
}

// groupsFromTable rebuilds permission groups from a decoded Groups table.
func groupsFromTable(t *types.Groups) (*permission.Groups, error) {
	admin, err := identityFrom(t.AdminBytes())
	if err != nil {
		return nil, fmt.Errorf("admin: %v", err)
	}

	pending, err := identityFrom(t.PendingAdminBytes())
	if err != nil {
		return nil, fmt.Errorf("pending admin: %v", err)
	}

	operators, err := splitIdentities(t.OperatorsBytes())
	if err != nil {
		return nil, fmt.Errorf("operators: %v", err)
	}

	alerters, err := splitIdentities(t.AlertersBytes())
	if err != nil {
		return nil, fmt.Errorf("alerters: %v", err)
	}

	return permission.Restore(admin, pending, operators, alerters)
}

// decodeGroups parses a standalone Groups buffer.
func decodeGroups(data []byte) (g *permission.Groups, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: malformed groups: %v", ErrCorruptRecord, r)
		}
	}()

	if len(data) < flatbuffers.SizeUOffsetT {
		return nil, fmt.Errorf("%w: groups record too short", ErrCorruptRecord)
	}

	g, err = groupsFromTable(types.GetRootAsGroups(data, 0))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}

	return g, nil
}
