package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/buslink/internal/protocol/session"
	"github.com/danmuck/buslink/internal/testutil/testlog"
)

func sampleState() session.State {
	return session.State{
		Paired:         true,
		RelayURL:       "https://r.example",
		NodeDeviceID:   "node-1",
		PairCode:       "abc123",
		PSKB64:         "AA==",
		ClientDeviceID: "client-1",
		Seq:            3,
	}
}

func TestFileStoreSaveLoadRoundTrip(t *testing.T) {
	testlog.Start(t)
	s := NewFileStore(t.TempDir())

	if err := s.Save(sampleState()); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := s.Load()
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	want := sampleState()
	want.Paired = false
	if got != want {
		t.Fatalf("state mismatch: got %+v want %+v", got, want)
	}
}

func TestFileStoreLoadAbsentIsSoft(t *testing.T) {
	testlog.Start(t)
	s := NewFileStore(filepath.Join(t.TempDir(), "missing"))
	_, ok, err := s.Load()
	if ok || err != nil {
		t.Fatalf("expected no session and no error, ok=%v err=%v", ok, err)
	}
}

func TestFileStoreLoadCorruptIsSoft(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, SessionFile), []byte("relay_url = [broken"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	s := NewFileStore(dir)
	_, ok, err := s.Load()
	if ok {
		t.Fatalf("corrupt record must not load")
	}
	var se *StorageError
	if !errors.As(err, &se) || !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected corrupt StorageError, got %v", err)
	}
}

func TestFileStoreLoadIncompleteIsSoft(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	body := "relay_url = \"https://r.example\"\nnode_device_id = \"node-1\"\n"
	if err := os.WriteFile(filepath.Join(dir, SessionFile), []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, ok, err := NewFileStore(dir).Load()
	if ok || !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected incomplete record, ok=%v err=%v", ok, err)
	}
}

func TestFileStoreLoadAllowsMissingPairCodeAndPSK(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	body := "relay_url = \"https://r.example\"\nnode_device_id = \"node-1\"\nclient_device_id = \"client-1\"\n"
	if err := os.WriteFile(filepath.Join(dir, SessionFile), []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, ok, err := NewFileStore(dir).Load()
	if !ok || err != nil {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got.PairCode != "" || got.PSKB64 != "" || got.ClientDeviceID != "client-1" {
		t.Fatalf("unexpected state %+v", got)
	}
}

func TestFileStoreClientDeviceIDIsStable(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	first, err := NewFileStore(dir).ClientDeviceID()
	if err != nil || first == "" {
		t.Fatalf("create id: %q %v", first, err)
	}
	second, err := NewFileStore(dir).ClientDeviceID()
	if err != nil {
		t.Fatalf("reload id: %v", err)
	}
	if first != second {
		t.Fatalf("device id regenerated: %q != %q", first, second)
	}

	// A later session save must not touch the device record.
	s := NewFileStore(dir)
	st := sampleState()
	st.ClientDeviceID = first
	if err := s.Save(st); err != nil {
		t.Fatalf("save: %v", err)
	}
	third, _ := s.ClientDeviceID()
	if third != first {
		t.Fatalf("device id changed after save: %q", third)
	}
}

func TestFileStoreClientDeviceIDWriteFailureStillReturnsID(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocked")
	if err := os.WriteFile(blocker, []byte("file"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	s := NewFileStore(filepath.Join(blocker, "home"))
	id, err := s.ClientDeviceID()
	if id == "" {
		t.Fatalf("expected generated id despite write failure")
	}
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	again, err := s.ClientDeviceID()
	if again != id || err != nil {
		t.Fatalf("expected cached id %q, got %q err=%v", id, again, err)
	}
}

func TestFileStoreSaveSeq(t *testing.T) {
	testlog.Start(t)
	s := NewFileStore(t.TempDir())
	if err := s.SaveSeq(4); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	if err := s.Save(sampleState()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveSeq(9); err != nil {
		t.Fatalf("save seq: %v", err)
	}
	got, ok, _ := s.Load()
	if !ok || got.Seq != 9 || got.NodeDeviceID != "node-1" {
		t.Fatalf("unexpected state after seq save: %+v", got)
	}
}

func TestMemoryStore(t *testing.T) {
	testlog.Start(t)
	m := NewMemoryStore()
	if _, ok, err := m.Load(); ok || err != nil {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}
	id, _ := m.ClientDeviceID()
	again, _ := m.ClientDeviceID()
	if id == "" || id != again {
		t.Fatalf("unstable device id %q %q", id, again)
	}

	if err := m.Save(sampleState()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if m.Saves() != 1 {
		t.Fatalf("expected one save, got %d", m.Saves())
	}
	if err := m.SaveSeq(5); err != nil {
		t.Fatalf("save seq: %v", err)
	}
	got, ok, err := m.Load()
	if !ok || err != nil || got.Seq != 5 {
		t.Fatalf("load: %+v ok=%v err=%v", got, ok, err)
	}

	m.SaveErr = errors.New("disk full")
	var se *StorageError
	if err := m.Save(sampleState()); !errors.As(err, &se) {
		t.Fatalf("expected StorageError, got %v", err)
	}
}
