package ledger

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/zeebo/blake3"
	"pgregory.net/rapid"

	"RateQuorum/internal/permission"
)

// testID returns a deterministic non-zero identity.
func testID(n byte) permission.Identity {
	var id permission.Identity
	id[0] = 0xA0
	id[31] = n
	return id
}

var testAdmin = testID(0)

// fataler is the part of testing.TB that rapid.T also implements.
type fataler interface {
	Helper()
	Fatalf(format string, args ...any)
}

// newTestLedger creates an in-memory ledger with operators testID(1..numOps).
func newTestLedger(t fataler, numSlots, numOps int) *Ledger {
	t.Helper()

	l, err := New(numSlots, testAdmin)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 1; i <= numOps; i++ {
		if err := l.AddOperator(testAdmin, testID(byte(i))); err != nil {
			t.Fatalf("AddOperator %d: %v", i, err)
		}
	}

	return l
}

// TestNewRejectsBadArguments tests slot count and admin validation.
func TestNewRejectsBadArguments(t *testing.T) {
	if _, err := New(0, testAdmin); err == nil {
		t.Fatal("expected error for zero slots")
	}
	if _, err := New(-1, testAdmin); err == nil {
		t.Fatal("expected error for negative slots")
	}
	if _, err := New(2, permission.Identity{}); !errors.Is(err, permission.ErrZeroIdentity) {
		t.Fatalf("expected ErrZeroIdentity, got %v", err)
	}
}

// TestNewLedgerIsEmpty tests the initial state of every slot.
func TestNewLedgerIsEmpty(t *testing.T) {
	l := newTestLedger(t, 3, 1)

	if l.NumSlots() != 3 {
		t.Fatalf("NumSlots = %d, want 3", l.NumSlots())
	}

	for i := 0; i < 3; i++ {
		tr, err := l.Tracking(i)
		if err != nil {
			t.Fatalf("Tracking(%d): %v", i, err)
		}
		if tr.Revision != 0 || tr.AttestorCount != 0 || len(tr.Value) != 0 {
			t.Fatalf("slot %d not empty: %+v", i, tr)
		}

		fin, err := l.IsFinalized(i)
		if err != nil || fin {
			t.Fatalf("IsFinalized(%d) = %v, %v, want false", i, fin, err)
		}
	}
}

// TestThreeOperatorFinalization walks a full propose and attest round.
func TestThreeOperatorFinalization(t *testing.T) {
	l := newTestLedger(t, 2, 3)
	a, b, c, outsider := testID(1), testID(2), testID(3), testID(4)

	rev, err := l.Propose(a, 0, []byte("rates-v1"))
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if rev != 1 {
		t.Fatalf("revision = %d, want 1", rev)
	}

	if fin, err := l.Attest(a, 0, 1); err != nil || fin {
		t.Fatalf("Attest a = %v, %v", fin, err)
	}
	if fin, err := l.Attest(b, 0, 1); err != nil || fin {
		t.Fatalf("Attest b = %v, %v", fin, err)
	}

	if _, err := l.Attest(outsider, 0, 1); !errors.Is(err, ErrNotAnOperator) {
		t.Fatalf("expected ErrNotAnOperator, got %v", err)
	}

	fin, err := l.Attest(c, 0, 1)
	if err != nil {
		t.Fatalf("Attest c: %v", err)
	}
	if !fin {
		t.Fatal("expected finalization after all three operators")
	}

	tr, _ := l.Tracking(0)
	if tr.AttestorCount != 3 {
		t.Fatalf("AttestorCount = %d, want 3", tr.AttestorCount)
	}
	want := []permission.Identity{a, b, c}
	for i := range want {
		if tr.Attestors[i] != want[i] {
			t.Fatalf("attestor %d = %s, want %s", i, tr.Attestors[i], want[i])
		}
	}
	if tr.Digest != blake3.Sum256([]byte("rates-v1")) {
		t.Fatal("digest does not match value")
	}

	if fin, _ := l.IsFinalized(0); !fin {
		t.Fatal("IsFinalized = false after full attestation")
	}
	if fin, _ := l.IsFinalized(1); fin {
		t.Fatal("untouched slot reported finalized")
	}
}

// TestProposeResetsAttestors tests that a new proposal invalidates previous attestations.
func TestProposeResetsAttestors(t *testing.T) {
	l := newTestLedger(t, 1, 2)
	a, b := testID(1), testID(2)

	l.Propose(a, 0, []byte("x"))
	l.Attest(a, 0, 1)
	l.Attest(b, 0, 1)

	rev, err := l.Propose(b, 0, []byte("y"))
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if rev != 2 {
		t.Fatalf("revision = %d, want 2", rev)
	}

	tr, _ := l.Tracking(0)
	if tr.AttestorCount != 0 || !bytes.Equal(tr.Value, []byte("y")) {
		t.Fatalf("unexpected tracking after re-propose: %+v", tr)
	}
	if fin, _ := l.IsFinalized(0); fin {
		t.Fatal("slot finalized right after re-propose")
	}

	if _, err := l.Attest(a, 0, 1); !errors.Is(err, ErrStaleRevision) {
		t.Fatalf("expected ErrStaleRevision for old revision, got %v", err)
	}
}

// TestAttestRejections tests every attest rejection and that none mutates state.
func TestAttestRejections(t *testing.T) {
	l := newTestLedger(t, 2, 2)
	a := testID(1)

	if _, err := l.Attest(a, 1, 0); !errors.Is(err, ErrStaleRevision) {
		t.Fatalf("attest on empty slot: expected ErrStaleRevision, got %v", err)
	}

	l.Propose(a, 0, []byte("v"))
	l.Attest(a, 0, 1)

	cases := []struct {
		name     string
		caller   permission.Identity
		index    int
		revision uint64
		want     error
	}{
		{"negative index", a, -1, 1, ErrOutOfRange},
		{"index past end", a, 2, 1, ErrOutOfRange},
		{"not an operator", testID(9), 0, 1, ErrNotAnOperator},
		{"future revision", testID(2), 0, 2, ErrStaleRevision},
		{"zero revision", testID(2), 0, 0, ErrStaleRevision},
		{"duplicate", a, 0, 1, ErrDuplicateAttestation},
	}

	for _, tc := range cases {
		before, _ := l.Tracking(0)

		_, err := l.Attest(tc.caller, tc.index, tc.revision)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}

		after, _ := l.Tracking(0)
		if after.Revision != before.Revision || after.AttestorCount != before.AttestorCount {
			t.Fatalf("%s: state changed on rejection", tc.name)
		}
	}
}

// TestProposeRejections tests index and membership checks on propose.
func TestProposeRejections(t *testing.T) {
	l := newTestLedger(t, 1, 1)

	if _, err := l.Propose(testID(1), 1, nil); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if _, err := l.Propose(testAdmin, 0, nil); !errors.Is(err, ErrNotAnOperator) {
		t.Fatalf("admin is not an operator, expected ErrNotAnOperator, got %v", err)
	}
	if _, err := l.Tracking(5); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("Tracking: expected ErrOutOfRange, got %v", err)
	}
	if _, err := l.IsFinalized(-1); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("IsFinalized: expected ErrOutOfRange, got %v", err)
	}
}

// TestEmptyValueProposal tests that an empty payload still bumps the revision.
func TestEmptyValueProposal(t *testing.T) {
	l := newTestLedger(t, 1, 1)

	rev, err := l.Propose(testID(1), 0, nil)
	if err != nil || rev != 1 {
		t.Fatalf("Propose = %d, %v", rev, err)
	}

	fin, err := l.Attest(testID(1), 0, 1)
	if err != nil || !fin {
		t.Fatalf("Attest = %v, %v", fin, err)
	}
}

// TestTrackingReturnsCopies tests that callers cannot mutate ledger state.
func TestTrackingReturnsCopies(t *testing.T) {
	l := newTestLedger(t, 1, 1)
	value := []byte("abc")

	l.Propose(testID(1), 0, value)
	value[0] = 'z'

	tr, _ := l.Tracking(0)
	if string(tr.Value) != "abc" {
		t.Fatalf("ledger aliased the proposed value: %q", tr.Value)
	}

	tr.Value[0] = 'q'
	again, _ := l.Tracking(0)
	if string(again.Value) != "abc" {
		t.Fatalf("Tracking aliased ledger state: %q", again.Value)
	}
}

// TestMembershipChangesAffectFinalization tests that finalization follows the
// current operator group while past attestations stay.
func TestMembershipChangesAffectFinalization(t *testing.T) {
	l := newTestLedger(t, 1, 2)
	a, b, c := testID(1), testID(2), testID(3)

	l.Propose(a, 0, []byte("v"))
	l.Attest(a, 0, 1)
	l.Attest(b, 0, 1)

	if err := l.AddOperator(testAdmin, c); err != nil {
		t.Fatalf("AddOperator: %v", err)
	}
	if fin, _ := l.IsFinalized(0); fin {
		t.Fatal("still finalized after the group grew")
	}

	if err := l.RemoveOperator(testAdmin, b); err != nil {
		t.Fatalf("RemoveOperator: %v", err)
	}

	tr, _ := l.Tracking(0)
	if tr.AttestorCount != 2 {
		t.Fatalf("removing an operator dropped its attestation: %d", tr.AttestorCount)
	}
	if fin, _ := l.IsFinalized(0); !fin {
		t.Fatal("two attestors over two operators should be finalized")
	}

	if _, err := l.Attest(b, 0, 1); !errors.Is(err, ErrNotAnOperator) {
		t.Fatalf("removed operator attested: %v", err)
	}
}

// TestAdminOperations tests the admin transfer flow through the ledger.
func TestAdminOperations(t *testing.T) {
	l := newTestLedger(t, 1, 0)
	next := testID(7)

	if err := l.AddOperator(testID(1), testID(2)); !errors.Is(err, permission.ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
	if len(l.Operators()) != 0 {
		t.Fatal("rejected AddOperator changed the group")
	}

	if err := l.TransferAdmin(testAdmin, next); err != nil {
		t.Fatalf("TransferAdmin: %v", err)
	}
	if l.PendingAdmin() != next || l.Admin() != testAdmin {
		t.Fatal("transfer should only nominate")
	}
	if err := l.ClaimAdmin(next); err != nil {
		t.Fatalf("ClaimAdmin: %v", err)
	}
	if l.Admin() != next || !l.PendingAdmin().IsZero() {
		t.Fatal("claim did not complete the transfer")
	}

	if err := l.TransferAdminQuickly(next, testAdmin); err != nil {
		t.Fatalf("TransferAdminQuickly: %v", err)
	}
	if l.Admin() != testAdmin {
		t.Fatal("quick transfer did not take effect")
	}

	if err := l.AddAlerter(testAdmin, testID(5)); err != nil {
		t.Fatalf("AddAlerter: %v", err)
	}
	if got := l.Alerters(); len(got) != 1 || got[0] != testID(5) {
		t.Fatalf("Alerters = %v", got)
	}
	if err := l.RemoveAlerter(testAdmin, testID(5)); err != nil {
		t.Fatalf("RemoveAlerter: %v", err)
	}
	if l.IsOperator(testID(5)) || len(l.Alerters()) != 0 {
		t.Fatal("alerter membership leaked")
	}
}

// TestConcurrentAttestations tests that parallel attestations are serialized.
func TestConcurrentAttestations(t *testing.T) {
	const numOps = 20

	l := newTestLedger(t, 1, numOps)
	l.Propose(testID(1), 0, []byte("v"))

	var wg sync.WaitGroup
	results := make(chan bool, numOps*2)

	// every operator attests twice; exactly one of the two calls must succeed
	for i := 1; i <= numOps; i++ {
		for k := 0; k < 2; k++ {
			wg.Add(1)
			go func(id permission.Identity) {
				defer wg.Done()
				fin, err := l.Attest(id, 0, 1)
				if err == nil {
					results <- fin
				}
			}(testID(byte(i)))
		}
	}

	wg.Wait()
	close(results)

	succeeded, finalized := 0, 0
	for fin := range results {
		succeeded++
		if fin {
			finalized++
		}
	}

	if succeeded != numOps {
		t.Fatalf("succeeded = %d, want %d", succeeded, numOps)
	}
	if finalized != 1 {
		t.Fatalf("finalizing calls = %d, want 1", finalized)
	}
}

// TestLedgerProperties runs random operation sequences and checks slot invariants.
func TestLedgerProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		numSlots := rapid.IntRange(1, 4).Draw(rt, "numSlots")
		numOps := rapid.IntRange(1, 5).Draw(rt, "numOps")

		l := newTestLedger(rt, numSlots, numOps)
		lastRev := make([]uint64, numSlots)

		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			index := rapid.IntRange(-1, numSlots).Draw(rt, "index")
			caller := testID(byte(rapid.IntRange(1, numOps+1).Draw(rt, "caller")))

			if rapid.Bool().Draw(rt, "propose") {
				rev, err := l.Propose(caller, index, []byte{byte(i)})
				if err == nil && rev != lastRev[index]+1 {
					rt.Fatalf("revision %d after %d", rev, lastRev[index])
				}
			} else {
				revision := rapid.Uint64Range(0, 3).Draw(rt, "revision")
				fin, err := l.Attest(caller, index, revision)
				if err == nil && fin != (mustTracking(rt, l, index).AttestorCount == numOps) {
					rt.Fatalf("finalized = %v with %d attestors", fin, mustTracking(rt, l, index).AttestorCount)
				}
			}

			for s := 0; s < numSlots; s++ {
				tr := mustTracking(rt, l, s)

				if tr.Revision < lastRev[s] {
					rt.Fatalf("slot %d revision went back from %d to %d", s, lastRev[s], tr.Revision)
				}
				lastRev[s] = tr.Revision

				if tr.AttestorCount > numOps {
					rt.Fatalf("slot %d has %d attestors for %d operators", s, tr.AttestorCount, numOps)
				}
				if tr.Revision == 0 && tr.AttestorCount != 0 {
					rt.Fatalf("slot %d has attestors without a proposal", s)
				}

				seen := make(map[permission.Identity]bool)
				for _, a := range tr.Attestors {
					if seen[a] {
						rt.Fatalf("slot %d has duplicate attestor %s", s, a)
					}
					if !l.IsOperator(a) {
						rt.Fatalf("slot %d has non-operator attestor %s", s, a)
					}
					seen[a] = true
				}
			}
		}
	})
}

// mustTracking returns Tracking(index) or fails.
func mustTracking(t fataler, l *Ledger, index int) Tracking {
	t.Helper()

	tr, err := l.Tracking(index)
	if err != nil {
		t.Fatalf("Tracking(%d): %v", index, err)
	}
	return tr
}
