package ledger

import (
	"errors"

	"RateQuorum/internal/permission"
)

// Rejections. Every one leaves the ledger unchanged.
var (
	// ErrOutOfRange is returned for a slot index outside [0, NumSlots).
	ErrOutOfRange = errors.New("slot index out of range")

	// ErrNotAnOperator is returned when the caller is not in the operator group.
	ErrNotAnOperator = permission.ErrNotOperator

	// ErrStaleRevision is returned when an attestation names a revision other
	// than the slot's current one.
	ErrStaleRevision = errors.New("stale or future revision")

	// ErrDuplicateAttestation is returned when the caller already attested
	// the current revision.
	ErrDuplicateAttestation = errors.New("duplicate attestation")

	// ErrSlotCountMismatch is returned when stored or imported state was
	// created with a different number of slots.
	ErrSlotCountMismatch = errors.New("slot count mismatch")

	// ErrBadSnapshot is returned for a snapshot that fails to decode or verify.
	ErrBadSnapshot = errors.New("bad snapshot")

	// ErrCorruptRecord is returned when a persisted record cannot be decoded.
	ErrCorruptRecord = errors.New("corrupt ledger record")
)
