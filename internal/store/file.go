package store

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/buslink/internal/protocol/session"
)

const (
	DeviceFile  = "device.toml"
	SessionFile = "session.toml"
)

type deviceRecord struct {
	ClientDeviceID string `toml:"client_device_id"`
}

type sessionRecord struct {
	RelayURL       string `toml:"relay_url"`
	NodeDeviceID   string `toml:"node_device_id"`
	PairCode       string `toml:"pair_code"`
	PSKB64         string `toml:"psk_b64"`
	ClientDeviceID string `toml:"client_device_id"`
	Seq            uint64 `toml:"seq"`
}

func recordFromState(s session.State) sessionRecord {
	return sessionRecord{
		RelayURL:       s.RelayURL,
		NodeDeviceID:   s.NodeDeviceID,
		PairCode:       s.PairCode,
		PSKB64:         s.PSKB64,
		ClientDeviceID: s.ClientDeviceID,
		Seq:            s.Seq,
	}
}

func (r sessionRecord) state() session.State {
	return session.State{
		RelayURL:       strings.TrimSpace(r.RelayURL),
		NodeDeviceID:   strings.TrimSpace(r.NodeDeviceID),
		PairCode:       r.PairCode,
		PSKB64:         r.PSKB64,
		ClientDeviceID: strings.TrimSpace(r.ClientDeviceID),
		Seq:            r.Seq,
	}
}

// FileStore keeps the device id and the last claimed session as two TOML
// files under one directory.
type FileStore struct {
	dir string

	mu       sync.Mutex
	deviceID string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) devicePath() string  { return filepath.Join(s.dir, DeviceFile) }
func (s *FileStore) sessionPath() string { return filepath.Join(s.dir, SessionFile) }

// Load restores the saved session. ok is false when there is nothing usable;
// err is non-nil only when a record existed but could not be used.
func (s *FileStore) Load() (session.State, bool, error) {
	path := s.sessionPath()
	var rec sessionRecord
	found, err := readTOML(path, &rec)
	if err != nil {
		return session.State{}, false, storageErr("load", path, err)
	}
	if !found {
		return session.State{}, false, nil
	}
	st := rec.state()
	if err := st.Validate(); err != nil {
		return session.State{}, false, storageErr("load", path, fmt.Errorf("%w: %v", ErrIncomplete, err))
	}
	return st, true, nil
}

func (s *FileStore) Save(st session.State) error {
	path := s.sessionPath()
	s.mu.Lock()
	defer s.mu.Unlock()
	return storageErr("save", path, writeTOML(path, recordFromState(st)))
}

// SaveSeq rewrites the sequence counter of the saved session.
func (s *FileStore) SaveSeq(seq uint64) error {
	path := s.sessionPath()
	s.mu.Lock()
	defer s.mu.Unlock()
	var rec sessionRecord
	found, err := readTOML(path, &rec)
	if err != nil {
		return storageErr("save_seq", path, err)
	}
	if !found {
		return storageErr("save_seq", path, ErrNoSession)
	}
	rec.Seq = seq
	return storageErr("save_seq", path, writeTOML(path, rec))
}

// ClientDeviceID returns the stable device id, creating it on first use.
// When the new id cannot be written it is still returned, with the error,
// and kept for the life of the store.
func (s *FileStore) ClientDeviceID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deviceID != "" {
		return s.deviceID, nil
	}

	path := s.devicePath()
	var rec deviceRecord
	_, readErr := readTOML(path, &rec)
	if id := strings.TrimSpace(rec.ClientDeviceID); readErr == nil && id != "" {
		s.deviceID = id
		return id, nil
	}
	if readErr != nil {
		log.Warn().Err(readErr).Str("path", path).Msg("store.FileStore.ClientDeviceID unreadable record, regenerating")
	}

	s.deviceID = uuid.NewString()
	if err := writeTOML(path, deviceRecord{ClientDeviceID: s.deviceID}); err != nil {
		return s.deviceID, storageErr("create_device_id", path, err)
	}
	log.Info().Str("client_device_id", s.deviceID).Msg("store.FileStore.ClientDeviceID created")
	return s.deviceID, nil
}
