package receipts

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/fortiblox/X1-Bastion/internal/types"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	cfg := DefaultConfig(path)
	cfg.NoSync = true
	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s
}

func sig(b byte) types.Signature {
	var s types.Signature
	s[0] = b
	s[63] = b
	return s
}

func TestPutAndGet(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "receipts.db"))
	defer s.Close()

	ok := &Receipt{Signature: sig(1), Stage: "executed", Logs: []string{"Instruction: withdraw"}, Time: time.Unix(100, 0)}
	rejected := &Receipt{Signature: sig(2), Stage: "rejected", Tag: "NotSigner", Message: "missing required signature", Instruction: 1}

	seq, err := s.Put(ok)
	if err != nil || seq != 0 {
		t.Fatalf("Put = %d, %v", seq, err)
	}
	seq, err = s.Put(rejected)
	if err != nil || seq != 1 {
		t.Fatalf("Put = %d, %v", seq, err)
	}

	got, err := s.Get(1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.OK() || got.Tag != "NotSigner" || got.Instruction != 1 {
		t.Errorf("got %+v", got)
	}

	got, err = s.GetBySignature(sig(1))
	if err != nil {
		t.Fatalf("GetBySignature failed: %v", err)
	}
	if !got.OK() || got.Seq != 0 || len(got.Logs) != 1 || !got.Time.Equal(time.Unix(100, 0)) {
		t.Errorf("got %+v", got)
	}

	if _, err := s.Get(5); !errors.Is(err, ErrReceiptNotFound) {
		t.Errorf("expected ErrReceiptNotFound, got %v", err)
	}
	if _, err := s.GetBySignature(sig(9)); !errors.Is(err, ErrReceiptNotFound) {
		t.Errorf("expected ErrReceiptNotFound, got %v", err)
	}
}

func TestSignatureIndexKeepsCommit(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "receipts.db"))
	defer s.Close()

	// A rejection is replaced by a later commit of the same signature.
	for _, r := range []*Receipt{
		{Signature: sig(1), Tag: "Overflow"},
		{Signature: sig(1)},
		{Signature: sig(1), Tag: "InvalidArgument"},
	} {
		if _, err := s.Put(r); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	got, err := s.GetBySignature(sig(1))
	if err != nil {
		t.Fatalf("GetBySignature failed: %v", err)
	}
	if !got.OK() || got.Seq != 1 {
		t.Errorf("got %+v, want the commit at seq 1", got)
	}
	if s.Count() != 3 {
		t.Errorf("count = %d, want 3", s.Count())
	}
}

func TestRangeAndTally(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "receipts.db"))
	defer s.Close()

	tags := []string{"", "NotSigner", "", "Overflow", "NotSigner"}
	for i, tag := range tags {
		if _, err := s.Put(&Receipt{Signature: sig(byte(i + 1)), Tag: tag}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	page, err := s.Range(1, 3)
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(page) != 3 || page[0].Seq != 1 || page[2].Seq != 3 {
		t.Errorf("unexpected page %+v", page)
	}

	tally, err := s.Tally()
	if err != nil {
		t.Fatalf("Tally failed: %v", err)
	}
	if tally[""] != 2 || tally["NotSigner"] != 2 || tally["Overflow"] != 1 {
		t.Errorf("tally %v", tally)
	}
}

func TestReopenContinuesSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipts.db")
	s := openTestStore(t, path)
	for i := 0; i < 3; i++ {
		if _, err := s.Put(&Receipt{Signature: sig(byte(i + 1))}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := s.Put(&Receipt{}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	s = openTestStore(t, path)
	defer s.Close()
	if s.Count() != 3 {
		t.Errorf("count = %d, want 3", s.Count())
	}
	seq, err := s.Put(&Receipt{Signature: sig(9)})
	if err != nil || seq != 3 {
		t.Errorf("Put after reopen = %d, %v", seq, err)
	}
}
