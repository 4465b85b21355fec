package state

import (
	"errors"
	"fmt"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"inferpay/storage"
)

var (
	// ErrClosed is returned when a manager is used after Commit or Discard.
	ErrClosed = errors.New("state: unit of work already closed")

	heightKey = []byte("node/height")
)

// Manager is the state view of one unit of work. Reads fall through to the
// backing database; writes are journaled in memory and reach the database only
// through Commit, in a single atomic batch. Discard drops every pending write,
// so a failed operation leaves no trace.
type Manager struct {
	db      storage.Database
	pending map[string][]byte
	deleted map[string]struct{}
	closed  bool
}

// NewManager opens a unit of work over db.
func NewManager(db storage.Database) *Manager {
	return &Manager{
		db:      db,
		pending: make(map[string][]byte),
		deleted: make(map[string]struct{}),
	}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) read(hashed []byte) ([]byte, error) {
	if m.closed {
		return nil, ErrClosed
	}
	k := string(hashed)
	if v, ok := m.pending[k]; ok {
		return v, nil
	}
	if _, ok := m.deleted[k]; ok {
		return nil, nil
	}
	data, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (m *Manager) write(hashed []byte, data []byte) error {
	if m.closed {
		return ErrClosed
	}
	k := string(hashed)
	delete(m.deleted, k)
	m.pending[k] = append([]byte(nil), data...)
	return nil
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 before it reaches the database.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.write(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.read(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the key from state.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	if m.closed {
		return ErrClosed
	}
	k := string(kvKey(key))
	delete(m.pending, k)
	m.deleted[k] = struct{}{}
	return nil
}

// Height returns the number of units of work committed so far.
func (m *Manager) Height() (uint64, error) {
	var h uint64
	if _, err := m.KVGet(heightKey, &h); err != nil {
		return 0, err
	}
	return h, nil
}

// SetHeight records the height of the unit of work being built.
func (m *Manager) SetHeight(h uint64) error {
	return m.KVPut(heightKey, h)
}

// Dirty reports the number of pending writes and deletes.
func (m *Manager) Dirty() int {
	return len(m.pending) + len(m.deleted)
}

// Commit flushes the journal to the database atomically. Keys are written in
// sorted order so identical units of work produce identical batches.
func (m *Manager) Commit() error {
	if m.closed {
		return ErrClosed
	}
	m.closed = true
	if m.Dirty() == 0 {
		return nil
	}
	keys := make([]string, 0, len(m.pending))
	for k := range m.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	batch := m.db.NewBatch()
	for _, k := range keys {
		batch.Put([]byte(k), m.pending[k])
	}
	for k := range m.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.pending = nil
	m.deleted = nil
	return nil
}

// Discard drops all pending writes.
func (m *Manager) Discard() {
	m.closed = true
	m.pending = nil
	m.deleted = nil
}
