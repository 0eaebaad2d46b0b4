package ledger

import (
	"errors"
	"testing"

	"RateQuorum/internal/permission"
	"RateQuorum/internal/storage"
)

// TestExportImportRoundTrip tests that a snapshot restores slots and groups.
func TestExportImportRoundTrip(t *testing.T) {
	src := newTestLedger(t, 3, 2)
	src.AddAlerter(testAdmin, testID(5))
	src.Propose(testID(1), 0, []byte("alpha"))
	src.Attest(testID(1), 0, 1)
	src.Propose(testID(2), 2, []byte("gamma"))
	src.Propose(testID(2), 2, []byte("gamma-2"))

	data, err := src.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	db, err := storage.NewInMemory()
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}
	defer db.Close()

	dst, err := Open(db, 3, testAdmin)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := dst.Import(testAdmin, data); err != nil {
		t.Fatalf("Import: %v", err)
	}

	for i := 0; i < 3; i++ {
		want := mustTracking(t, src, i)
		got := mustTracking(t, dst, i)

		if got.Revision != want.Revision || got.Digest != want.Digest || got.AttestorCount != want.AttestorCount {
			t.Fatalf("slot %d: got %+v, want %+v", i, got, want)
		}
	}

	if len(dst.Operators()) != 2 || len(dst.Alerters()) != 1 {
		t.Fatal("groups not imported")
	}

	// the import must also reach storage
	reloaded, err := Open(db, 3, testAdmin)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if tr := mustTracking(t, reloaded, 2); string(tr.Value) != "gamma-2" || tr.Revision != 2 {
		t.Fatalf("persisted slot 2 = %+v", tr)
	}
}

// TestImportRejections tests admin, size and integrity checks on import.
func TestImportRejections(t *testing.T) {
	src := newTestLedger(t, 2, 1)
	src.Propose(testID(1), 1, []byte("v"))

	data, err := src.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	dst := newTestLedger(t, 2, 0)

	if err := dst.Import(testID(1), data); !errors.Is(err, permission.ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}

	other := newTestLedger(t, 4, 0)
	if err := other.Import(testAdmin, data); !errors.Is(err, ErrSlotCountMismatch) {
		t.Fatalf("expected ErrSlotCountMismatch, got %v", err)
	}

	if err := dst.Import(testAdmin, []byte("not zstd")); !errors.Is(err, ErrBadSnapshot) {
		t.Fatalf("expected ErrBadSnapshot for garbage, got %v", err)
	}

	// flip one payload byte and recompress so only the checksum catches it
	framed, err := decompress(data)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	framed[len(framed)-1] ^= 0xFF

	tampered, err := compress(framed)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if err := dst.Import(testAdmin, tampered); !errors.Is(err, ErrBadSnapshot) {
		t.Fatalf("expected ErrBadSnapshot for tampered payload, got %v", err)
	}

	if tr := mustTracking(t, dst, 1); tr.Revision != 0 {
		t.Fatal("rejected import changed the ledger")
	}
}

// TestImportChecksCallerFirst tests that a non-admin is rejected before the
// snapshot is decoded.
func TestImportChecksCallerFirst(t *testing.T) {
	l := newTestLedger(t, 2, 1)

	if err := l.Import(testID(1), []byte("not zstd")); !errors.Is(err, permission.ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin before decoding, got %v", err)
	}
}

// TestImportRejectsBadAttestors tests that imported slots cannot carry
// duplicate or oversized attestor lists.
func TestImportRejectsBadAttestors(t *testing.T) {
	l := newTestLedger(t, 2, 2)

	groups := l.groups.Clone()

	tooMany := make([]permission.Identity, permission.MaxGroupSize+1)
	for i := range tooMany {
		tooMany[i] = testID(byte(100 + i))
	}

	cases := map[string][]permission.Identity{
		"duplicate": {testID(1), testID(1)},
		"too many":  tooMany,
		"zero":      {{}},
	}

	for name, attestors := range cases {
		slots := []slot{{value: []byte("v"), revision: 1, attestors: attestors}, {}}

		data, err := seal(buildSnapshot(groups, slots))
		if err != nil {
			t.Fatalf("%s: seal: %v", name, err)
		}

		if err := l.Import(testAdmin, data); !errors.Is(err, ErrBadSnapshot) {
			t.Fatalf("%s: expected ErrBadSnapshot, got %v", name, err)
		}
	}

	finalized, err := l.IsFinalized(0)
	if err != nil {
		t.Fatalf("IsFinalized: %v", err)
	}
	if finalized {
		t.Fatal("rejected import finalized slot 0")
	}
	if tr := mustTracking(t, l, 0); tr.Revision != 0 {
		t.Fatal("rejected import changed the ledger")
	}
}

// TestImportSizeLimit tests that a snapshot decompressing past the limit is rejected.
func TestImportSizeLimit(t *testing.T) {
	src := newTestLedger(t, 2, 1)
	src.Propose(testID(1), 0, make([]byte, 64<<10))

	data, err := src.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	prev := maxSnapshotSize
	maxSnapshotSize = 16 << 10
	t.Cleanup(func() { maxSnapshotSize = prev })

	dst := newTestLedger(t, 2, 0)
	if err := dst.Import(testAdmin, data); !errors.Is(err, ErrBadSnapshot) {
		t.Fatalf("expected ErrBadSnapshot over the size limit, got %v", err)
	}

	maxSnapshotSize = prev
	if err := dst.Import(testAdmin, data); err != nil {
		t.Fatalf("Import within limit: %v", err)
	}
}
