// Package ledger implements the consensus ledger: a fixed array of data
// slots that operators propose into and attest, with finalization derived
// from attestor coverage of the current operator group.
package ledger

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/zeebo/blake3"

	"RateQuorum/internal/logger"
	"RateQuorum/internal/permission"
	"RateQuorum/internal/storage"
)

// slot is one data slot at its current revision.
type slot struct {
	value     []byte                // value is the opaque payload
	revision  uint64                // revision is bumped on every propose
	attestors []permission.Identity // attestors attested the current revision, in order
}

// clone returns a deep copy.
func (s slot) clone() slot {
	out := slot{
		value:     bytes.Clone(s.value),
		revision:  s.revision,
		attestors: make([]permission.Identity, len(s.attestors)),
	}
	copy(out.attestors, s.attestors)

	return out
}

// hasAttestor reports whether id attested the current revision.
func (s slot) hasAttestor(id permission.Identity) bool {
	for _, a := range s.attestors {
		if a == id {
			return true
		}
	}
	return false
}

// Tracking is a read-only view of one slot.
type Tracking struct {
	Index         int                   // Index is the slot index
	Value         []byte                // Value is a copy of the current payload
	Revision      uint64                // Revision is the current revision, 0 if never proposed
	AttestorCount int                   // AttestorCount is len(Attestors)
	Attestors     []permission.Identity // Attestors attested Revision, in order
	Digest        [32]byte              // Digest is BLAKE3(Value)
}

// Ledger is the consensus ledger. It is safe for concurrent use: one mutex
// covers the slots and the permission groups, and every operation holds it
// from its first check to its last write.
type Ledger struct {
	mu     sync.Mutex
	groups *permission.Groups
	slots  []slot
	store  *store // store persists state, nil for an in-memory ledger
}

// New creates an in-memory ledger with numSlots empty slots.
func New(numSlots int, admin permission.Identity) (*Ledger, error) {
	if numSlots <= 0 {
		return nil, fmt.Errorf("number of slots must be positive, got %d", numSlots)
	}

	groups, err := permission.New(admin)
	if err != nil {
		return nil, fmt.Errorf("create groups:\n%w", err)
	}

	return &Ledger{
		groups: groups,
		slots:  make([]slot, numSlots),
	}, nil
}

// Open creates a ledger persisted in db. If db already holds a ledger it is
// loaded and admin is ignored. A stored ledger with a different slot count
// is rejected with ErrSlotCountMismatch.
func Open(db *storage.Storage, numSlots int, admin permission.Identity) (*Ledger, error) {
	if numSlots <= 0 {
		return nil, fmt.Errorf("number of slots must be positive, got %d", numSlots)
	}

	l := &Ledger{
		slots: make([]slot, numSlots),
		store: newStore(db),
	}

	found, err := l.store.load(l)
	if err != nil {
		return nil, fmt.Errorf("load ledger:\n%w", err)
	}

	if found {
		logger.Info("ledger loaded",
			"slots", numSlots,
			"admin", l.groups.Admin(),
			"operators", l.groups.Operators().Len(),
		)
		return l, nil
	}

	l.groups, err = permission.New(admin)
	if err != nil {
		return nil, fmt.Errorf("create groups:\n%w", err)
	}

	if err := l.store.init(numSlots, l.groups); err != nil {
		return nil, fmt.Errorf("init ledger:\n%w", err)
	}

	logger.Info("ledger initialized", "slots", numSlots, "admin", admin)

	return l, nil
}

// NumSlots returns the fixed number of slots.
func (l *Ledger) NumSlots() int {
	return len(l.slots)
}

// checkIndex returns ErrOutOfRange unless 0 <= index < NumSlots.
func (l *Ledger) checkIndex(index int) error {
	if index < 0 || index >= len(l.slots) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrOutOfRange, index, len(l.slots))
	}
	return nil
}

// Propose replaces the value of slot index, bumps its revision and clears
// its attestors. Any single operator may propose. Returns the new revision.
func (l *Ledger) Propose(caller permission.Identity, index int, value []byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkIndex(index); err != nil {
		logger.Warn("propose rejected", "slot", index, "caller", caller, "error", err)
		return 0, err
	}
	if err := l.groups.RequireOperator(caller); err != nil {
		logger.Warn("propose rejected", "slot", index, "caller", caller, "error", err)
		return 0, err
	}

	next := slot{
		value:    bytes.Clone(value),
		revision: l.slots[index].revision + 1,
	}

	if err := l.persistSlot(index, next); err != nil {
		return 0, fmt.Errorf("persist slot %d:\n%w", index, err)
	}

	l.slots[index] = next

	logger.Debug("proposed", "slot", index, "revision", next.revision, "caller", caller, "size", len(value))

	return next.revision, nil
}

// Attest records caller's confirmation of revision on slot index. revision
// must be the slot's current revision. Returns true when the attestors now
// cover the whole operator group.
func (l *Ledger) Attest(caller permission.Identity, index int, revision uint64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkAttest(caller, index, revision); err != nil {
		logger.Warn("attest rejected",
			"slot", index, "revision", revision, "caller", caller, "error", err)
		return false, err
	}

	next := l.slots[index].clone()
	next.attestors = append(next.attestors, caller)

	if err := l.persistSlot(index, next); err != nil {
		return false, fmt.Errorf("persist slot %d:\n%w", index, err)
	}

	l.slots[index] = next

	finalized := len(next.attestors) == l.groups.Operators().Len()
	if finalized {
		logger.Info("revision finalized", "slot", index, "revision", revision, "attestors", len(next.attestors))
	} else {
		logger.Debug("attested",
			"slot", index, "revision", revision, "caller", caller,
			"attestors", len(next.attestors), "operators", l.groups.Operators().Len(),
		)
	}

	return finalized, nil
}

// checkAttest validates an attestation without changing anything.
func (l *Ledger) checkAttest(caller permission.Identity, index int, revision uint64) error {
	if err := l.checkIndex(index); err != nil {
		return err
	}
	if err := l.groups.RequireOperator(caller); err != nil {
		return err
	}

	cur := l.slots[index]
	if cur.revision == 0 {
		return fmt.Errorf("%w: slot %d has no proposal", ErrStaleRevision, index)
	}
	if revision != cur.revision {
		return fmt.Errorf("%w: got %d, current %d", ErrStaleRevision, revision, cur.revision)
	}
	if cur.hasAttestor(caller) {
		return ErrDuplicateAttestation
	}

	return nil
}

// Tracking returns the value, revision and attestors of slot index.
func (l *Ledger) Tracking(index int) (Tracking, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkIndex(index); err != nil {
		return Tracking{}, err
	}

	return l.tracking(index), nil
}

// IsFinalized reports whether every current operator has attested the
// current revision of slot index. A slot that was never proposed is not
// finalized.
func (l *Ledger) IsFinalized(index int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkIndex(index); err != nil {
		return false, err
	}

	return l.isFinalized(index), nil
}

// Finalized returns the tracking of slot index together with its
// finalization, both read at the same instant.
func (l *Ledger) Finalized(index int) (Tracking, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkIndex(index); err != nil {
		return Tracking{}, false, err
	}

	return l.tracking(index), l.isFinalized(index), nil
}

// tracking builds the view of a valid index.
func (l *Ledger) tracking(index int) Tracking {
	s := l.slots[index].clone()

	return Tracking{
		Index:         index,
		Value:         s.value,
		Revision:      s.revision,
		AttestorCount: len(s.attestors),
		Attestors:     s.attestors,
		Digest:        blake3.Sum256(s.value),
	}
}

// isFinalized reports finalization of a valid index.
func (l *Ledger) isFinalized(index int) bool {
	s := l.slots[index]
	return s.revision > 0 && len(s.attestors) == l.groups.Operators().Len()
}

// Admin returns the current admin.
func (l *Ledger) Admin() permission.Identity {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.groups.Admin()
}

// PendingAdmin returns the nominated admin, or zero.
func (l *Ledger) PendingAdmin() permission.Identity {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.groups.PendingAdmin()
}

// Operators returns the operators in the order they were added.
func (l *Ledger) Operators() []permission.Identity {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.groups.Operators().Members()
}

// Alerters returns the alerters in the order they were added.
func (l *Ledger) Alerters() []permission.Identity {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.groups.Alerters().Members()
}

// IsOperator reports whether id is currently an operator.
func (l *Ledger) IsOperator(id permission.Identity) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.groups.IsOperator(id)
}

// AddOperator adds op to the operator group. Slots are not touched.
func (l *Ledger) AddOperator(caller, op permission.Identity) error {
	return l.updateGroups("add operator", func(g *permission.Groups) error {
		return g.AddOperator(caller, op)
	})
}

// RemoveOperator removes op from the operator group. Its past attestations
// stay in place.
func (l *Ledger) RemoveOperator(caller, op permission.Identity) error {
	return l.updateGroups("remove operator", func(g *permission.Groups) error {
		return g.RemoveOperator(caller, op)
	})
}

// AddAlerter adds a to the alerter group.
func (l *Ledger) AddAlerter(caller, a permission.Identity) error {
	return l.updateGroups("add alerter", func(g *permission.Groups) error {
		return g.AddAlerter(caller, a)
	})
}

// RemoveAlerter removes a from the alerter group.
func (l *Ledger) RemoveAlerter(caller, a permission.Identity) error {
	return l.updateGroups("remove alerter", func(g *permission.Groups) error {
		return g.RemoveAlerter(caller, a)
	})
}

// TransferAdmin nominates newAdmin. It takes effect when newAdmin calls ClaimAdmin.
func (l *Ledger) TransferAdmin(caller, newAdmin permission.Identity) error {
	return l.updateGroups("transfer admin", func(g *permission.Groups) error {
		return g.TransferAdmin(caller, newAdmin)
	})
}

// TransferAdminQuickly makes newAdmin the admin immediately.
func (l *Ledger) TransferAdminQuickly(caller, newAdmin permission.Identity) error {
	return l.updateGroups("transfer admin quickly", func(g *permission.Groups) error {
		return g.TransferAdminQuickly(caller, newAdmin)
	})
}

// ClaimAdmin completes a pending admin transfer.
func (l *Ledger) ClaimAdmin(caller permission.Identity) error {
	return l.updateGroups("claim admin", func(g *permission.Groups) error {
		return g.ClaimAdmin(caller)
	})
}

// updateGroups applies fn to a copy of the groups, persists the copy and
// swaps it in. On any error the live groups are unchanged.
func (l *Ledger) updateGroups(op string, fn func(*permission.Groups) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	staged := l.groups.Clone()

	if err := fn(staged); err != nil {
		logger.Warn(op+" rejected", "error", err)
		return err
	}

	if l.store != nil {
		if err := l.store.saveGroups(staged); err != nil {
			return fmt.Errorf("persist groups:\n%w", err)
		}
	}

	l.groups = staged

	logger.Debug(op, "admin", staged.Admin(), "operators", staged.Operators().Len(), "alerters", staged.Alerters().Len())

	return nil
}

// persistSlot writes s when the ledger has a store.
func (l *Ledger) persistSlot(index int, s slot) error {
	if l.store == nil {
		return nil
	}
	return l.store.saveSlot(index, s)
}
