package persist

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

func TestFilePersisterSaveLoadRoundTrip(t *testing.T) {
	fp, err := NewFilePersister(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilePersister: %v", err)
	}

	key := Key([32]byte{1, 2, 3}, StateProvisional)
	if _, found, err := fp.Load(key); err != nil || found {
		t.Fatalf("Load before Save: found=%v err=%v, want found=false", found, err)
	}

	want := []byte(`{"state":"provisional"}`)
	if err := fp.Save(key, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, found, err := fp.Load(key)
	if err != nil || !found {
		t.Fatalf("Load after Save: found=%v err=%v, want found=true", found, err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("Load = %q, want %q", got, want)
	}
}

func TestFilePersisterMarkSeenIsInsertIfAbsent(t *testing.T) {
	fp, err := NewFilePersister(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilePersister: %v", err)
	}

	op := wire.OutPoint{Hash: chainhash.Hash{9}, Index: 0}

	alreadySeen, err := fp.MarkSeen(op)
	if err != nil {
		t.Fatalf("MarkSeen (first): %v", err)
	}
	if alreadySeen {
		t.Fatal("MarkSeen (first) reported already seen")
	}

	alreadySeen, err = fp.MarkSeen(op)
	if err != nil {
		t.Fatalf("MarkSeen (second): %v", err)
	}
	if !alreadySeen {
		t.Fatal("MarkSeen (second) reported not already seen")
	}
}

func TestFilePersisterSeenSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	fp, err := NewFilePersister(dir)
	if err != nil {
		t.Fatalf("NewFilePersister: %v", err)
	}
	op := wire.OutPoint{Hash: chainhash.Hash{7}, Index: 2}
	if _, err := fp.MarkSeen(op); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}

	reopened, err := NewFilePersister(dir)
	if err != nil {
		t.Fatalf("NewFilePersister (reopen): %v", err)
	}
	alreadySeen, err := reopened.MarkSeen(op)
	if err != nil {
		t.Fatalf("MarkSeen (reopen): %v", err)
	}
	if !alreadySeen {
		t.Fatal("reopened persister lost seen-input state")
	}
}

func TestFilePersisterListSessions(t *testing.T) {
	fp, err := NewFilePersister(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilePersister: %v", err)
	}

	keyA := Key([32]byte{1}, StateEnrolled)
	keyB := Key([32]byte{2}, StateProvisional)
	if err := fp.Save(keyA, []byte("a")); err != nil {
		t.Fatalf("Save a: %v", err)
	}
	if err := fp.Save(keyB, []byte("b")); err != nil {
		t.Fatalf("Save b: %v", err)
	}
	if _, err := fp.MarkSeen(wire.OutPoint{Hash: chainhash.Hash{1}, Index: 0}); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}

	sessions, err := fp.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("ListSessions returned %d entries, want 2 (seen_inputs.json must be excluded)", len(sessions))
	}
	if !bytes.Equal(sessions[keyA], []byte("a")) || !bytes.Equal(sessions[keyB], []byte("b")) {
		t.Fatalf("ListSessions returned unexpected values: %v", sessions)
	}
}
