// Package permission holds the admin principal and the operator and alerter
// groups that gate who may change ledger data.
package permission

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// MaxGroupSize is the maximum number of members in one group.
const MaxGroupSize = 50

// IdentitySize is the byte length of an Identity.
const IdentitySize = 32

var (
	// ErrNotAdmin is returned when an admin-only operation is called by someone else.
	ErrNotAdmin = errors.New("caller is not the admin")

	// ErrNotPendingAdmin is returned when ClaimAdmin is called by anyone but the nominee.
	ErrNotPendingAdmin = errors.New("caller is not the pending admin")

	// ErrNotOperator is returned when a non-operator proposes or attests.
	ErrNotOperator = errors.New("caller is not an operator")

	// ErrZeroIdentity is returned when the all-zero identity is used.
	ErrZeroIdentity = errors.New("zero identity")

	// ErrAlreadyMember is returned when adding an identity already in the group.
	ErrAlreadyMember = errors.New("identity already in group")

	// ErrNotMember is returned when removing an identity absent from the group.
	ErrNotMember = errors.New("identity not in group")

	// ErrGroupFull is returned when a group already holds MaxGroupSize members.
	ErrGroupFull = errors.New("group is full")
)

// Identity identifies an admin, operator or alerter. The core only checks
// membership; authenticating the caller is the host's job.
type Identity [IdentitySize]byte

// IsZero reports whether id is the all-zero identity.
func (id Identity) IsZero() bool {
	return id == Identity{}
}

// String returns the identity as lowercase hex.
func (id Identity) String() string {
	return hex.EncodeToString(id[:])
}

// ParseIdentity decodes a 64-character hex string.
func ParseIdentity(s string) (Identity, error) {
	var id Identity

	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("decode identity:\n%w", err)
	}
	if len(b) != IdentitySize {
		return id, fmt.Errorf("identity must be %d bytes, got %d", IdentitySize, len(b))
	}

	copy(id[:], b)

	return id, nil
}

// Group is an ordered set of identities. Insertion order is kept so that
// listings are stable across restarts.
type Group struct {
	members []Identity
	index   map[Identity]int
}

// newGroup creates a group from a list of members.
func newGroup(members []Identity) *Group {
	g := &Group{
		members: make([]Identity, 0, len(members)),
		index:   make(map[Identity]int, len(members)),
	}

	for _, m := range members {
		if m.IsZero() || g.Contains(m) {
			continue
		}

		g.index[m] = len(g.members)
		g.members = append(g.members, m)
	}

	return g
}

// Contains checks if id is a member.
func (g *Group) Contains(id Identity) bool {
	_, ok := g.index[id]
	return ok
}

// Len returns the number of members.
func (g *Group) Len() int {
	return len(g.members)
}

// Members returns a copy of the members in insertion order.
func (g *Group) Members() []Identity {
	out := make([]Identity, len(g.members))
	copy(out, g.members)

	return out
}

// add appends id. The group is left unchanged on error.
func (g *Group) add(id Identity) error {
	if id.IsZero() {
		return ErrZeroIdentity
	}
	if g.Contains(id) {
		return ErrAlreadyMember
	}
	if len(g.members) >= MaxGroupSize {
		return ErrGroupFull
	}

	g.index[id] = len(g.members)
	g.members = append(g.members, id)

	return nil
}

// remove deletes id, keeping the order of the remaining members.
func (g *Group) remove(id Identity) error {
	i, ok := g.index[id]
	if !ok {
		return ErrNotMember
	}

	g.members = append(g.members[:i], g.members[i+1:]...)
	delete(g.index, id)

	for j := i; j < len(g.members); j++ {
		g.index[g.members[j]] = j
	}

	return nil
}

// clone returns a deep copy.
func (g *Group) clone() *Group {
	return newGroup(g.members)
}

// Groups is the admin principal plus the operator and alerter groups.
//
// Groups is not safe for concurrent use. The ledger that owns it serializes
// every read and write under its own lock, so membership never changes in
// the middle of an operation.
type Groups struct {
	admin        Identity
	pendingAdmin Identity
	operators    *Group
	alerters     *Group
}

// New creates groups with the given admin and no operators or alerters.
func New(admin Identity) (*Groups, error) {
	if admin.IsZero() {
		return nil, ErrZeroIdentity
	}

	return &Groups{
		admin:     admin,
		operators: newGroup(nil),
		alerters:  newGroup(nil),
	}, nil
}

// Restore rebuilds groups from persisted state.
func Restore(admin, pendingAdmin Identity, operators, alerters []Identity) (*Groups, error) {
	if admin.IsZero() {
		return nil, ErrZeroIdentity
	}
	if len(operators) > MaxGroupSize || len(alerters) > MaxGroupSize {
		return nil, ErrGroupFull
	}

	return &Groups{
		admin:        admin,
		pendingAdmin: pendingAdmin,
		operators:    newGroup(operators),
		alerters:     newGroup(alerters),
	}, nil
}

// Clone returns a deep copy so a caller can stage changes and discard them.
func (g *Groups) Clone() *Groups {
	return &Groups{
		admin:        g.admin,
		pendingAdmin: g.pendingAdmin,
		operators:    g.operators.clone(),
		alerters:     g.alerters.clone(),
	}
}

// Admin returns the current admin.
func (g *Groups) Admin() Identity {
	return g.admin
}

// PendingAdmin returns the identity allowed to claim admin, or zero.
func (g *Groups) PendingAdmin() Identity {
	return g.pendingAdmin
}

// Operators returns the operator group.
func (g *Groups) Operators() *Group {
	return g.operators
}

// Alerters returns the alerter group.
func (g *Groups) Alerters() *Group {
	return g.alerters
}

// IsOperator reports whether id may propose and attest.
func (g *Groups) IsOperator(id Identity) bool {
	return g.operators.Contains(id)
}

// RequireOperator returns ErrNotOperator unless id is an operator.
func (g *Groups) RequireOperator(id Identity) error {
	if !g.operators.Contains(id) {
		return ErrNotOperator
	}
	return nil
}

// RequireAdmin returns ErrNotAdmin unless caller is the admin.
func (g *Groups) RequireAdmin(caller Identity) error {
	if caller != g.admin {
		return ErrNotAdmin
	}
	return nil
}

// TransferAdmin nominates newAdmin; it takes effect on ClaimAdmin.
// A second call replaces the previous nominee.
func (g *Groups) TransferAdmin(caller, newAdmin Identity) error {
	if err := g.RequireAdmin(caller); err != nil {
		return err
	}
	if newAdmin.IsZero() {
		return ErrZeroIdentity
	}

	g.pendingAdmin = newAdmin

	return nil
}

// TransferAdminQuickly hands admin to newAdmin in one step.
func (g *Groups) TransferAdminQuickly(caller, newAdmin Identity) error {
	if err := g.RequireAdmin(caller); err != nil {
		return err
	}
	if newAdmin.IsZero() {
		return ErrZeroIdentity
	}

	g.admin = newAdmin
	g.pendingAdmin = Identity{}

	return nil
}

// ClaimAdmin completes a transfer started by TransferAdmin.
func (g *Groups) ClaimAdmin(caller Identity) error {
	if g.pendingAdmin.IsZero() || caller != g.pendingAdmin {
		return ErrNotPendingAdmin
	}

	g.admin = caller
	g.pendingAdmin = Identity{}

	return nil
}

// AddOperator adds op to the operator group.
func (g *Groups) AddOperator(caller, op Identity) error {
	if err := g.RequireAdmin(caller); err != nil {
		return err
	}
	return g.operators.add(op)
}

// RemoveOperator removes op from the operator group.
func (g *Groups) RemoveOperator(caller, op Identity) error {
	if err := g.RequireAdmin(caller); err != nil {
		return err
	}
	return g.operators.remove(op)
}

// AddAlerter adds a to the alerter group.
func (g *Groups) AddAlerter(caller, a Identity) error {
	if err := g.RequireAdmin(caller); err != nil {
		return err
	}
	return g.alerters.add(a)
}

// RemoveAlerter removes a from the alerter group.
func (g *Groups) RemoveAlerter(caller, a Identity) error {
	if err := g.RequireAdmin(caller); err != nil {
		return err
	}
	return g.alerters.remove(a)
}
