package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/tolelom/tolarena/core"
	"github.com/tolelom/tolarena/crypto"
)

// registerPrefix records a state-key prefix into statePrefixes so that
// ComputeRoot() always covers it.  All prefix constants must be declared
// via this function; manually editing statePrefixes is not required.
func registerPrefix(p string) string {
	statePrefixes = append(statePrefixes, p)
	return p
}

// statePrefixes is populated automatically by registerPrefix() below.
// ComputeRoot() iterates these prefixes to build the full world-state view.
var statePrefixes []string

var (
	prefixAccount    = registerPrefix("acct:")
	keyConfig        = registerPrefix("cfg:")
	keyStats         = registerPrefix("stats:")
	prefixRound      = registerPrefix("round:")
	prefixEntry      = registerPrefix("entry:")
	prefixAllocation = registerPrefix("alloc:")
	prefixFeed       = registerPrefix("feed:")
)

// RoundKey, EntryKey and AllocationKey are the persisted key layouts.
func RoundKey(dayID int64) string { return fmt.Sprintf("%s%d", prefixRound, dayID) }

func EntryKey(dayID int64, player string) string {
	return fmt.Sprintf("%s%d:%s", prefixEntry, dayID, player)
}

func AllocationKey(dayID int64, winner string) string {
	return fmt.Sprintf("%s%d:%s", prefixAllocation, dayID, winner)
}

type stateSnapshot struct {
	dirty   map[string][]byte
	deleted map[string]bool
}

// StateDB implements core.State on top of a DB with in-memory write buffer,
// snapshot/rollback, and deterministic state-root computation.
type StateDB struct {
	db        DB
	dirty     map[string][]byte
	deleted   map[string]bool
	snapshots []stateSnapshot
}

// NewStateDB creates a StateDB backed by db.
func NewStateDB(db DB) *StateDB {
	return &StateDB{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

// Committed returns a read-only view of flushed state. Readers on other
// goroutines use it while s executes blocks. Never write through it.
func (s *StateDB) Committed() *StateDB {
	return NewStateDB(s.db)
}

// ---- internal helpers ----

func (s *StateDB) get(key string) ([]byte, error) {
	if s.deleted[key] {
		return nil, core.ErrNotFound
	}
	if v, ok := s.dirty[key]; ok {
		return v, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) set(key string, val []byte) {
	delete(s.deleted, key)
	s.dirty[key] = val
}

func (s *StateDB) has(key string) (bool, error) {
	_, err := s.get(key)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func getRecord[T any](s *StateDB, key string) (*T, error) {
	data, err := s.get(key)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &v, nil
}

func (s *StateDB) putRecord(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	s.set(key, data)
	return nil
}

// createRecord writes v only if key is absent.
func (s *StateDB) createRecord(key string, v any) error {
	exists, err := s.has(key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%s: %w", key, core.ErrAlreadyExists)
	}
	return s.putRecord(key, v)
}

// ---- Account ----

func (s *StateDB) GetAccount(address string) (*core.Account, error) {
	acc, err := getRecord[core.Account](s, prefixAccount+address)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Account{Address: address}, nil // zero-value account
	}
	return acc, err
}

func (s *StateDB) SetAccount(acc *core.Account) error {
	return s.putRecord(prefixAccount+acc.Address, acc)
}

// ---- Config & Stats ----

func (s *StateDB) GetConfig() (*core.ArenaConfig, error) {
	return getRecord[core.ArenaConfig](s, keyConfig)
}

func (s *StateDB) CreateConfig(cfg *core.ArenaConfig) error {
	return s.createRecord(keyConfig, cfg)
}

func (s *StateDB) GetStats() (*core.Stats, error) {
	return getRecord[core.Stats](s, keyStats)
}

func (s *StateDB) SetStats(st *core.Stats) error {
	return s.putRecord(keyStats, st)
}

// ---- Round ----

func (s *StateDB) GetRound(dayID int64) (*core.Round, error) {
	return getRecord[core.Round](s, RoundKey(dayID))
}

func (s *StateDB) CreateRound(r *core.Round) error {
	return s.createRecord(RoundKey(r.DayID), r)
}

func (s *StateDB) SetRound(r *core.Round) error {
	return s.putRecord(RoundKey(r.DayID), r)
}

// ---- Entry ----

func (s *StateDB) GetEntry(dayID int64, player string) (*core.Entry, error) {
	return getRecord[core.Entry](s, EntryKey(dayID, player))
}

func (s *StateDB) CreateEntry(e *core.Entry) error {
	return s.createRecord(EntryKey(e.DayID, e.Player), e)
}

// ---- Allocation ----

func (s *StateDB) GetAllocation(dayID int64, winner string) (*core.Allocation, error) {
	return getRecord[core.Allocation](s, AllocationKey(dayID, winner))
}

func (s *StateDB) CreateAllocation(a *core.Allocation) error {
	return s.createRecord(AllocationKey(a.DayID, a.Winner), a)
}

func (s *StateDB) SetAllocation(a *core.Allocation) error {
	return s.putRecord(AllocationKey(a.DayID, a.Winner), a)
}

// ---- Price feed ----

func (s *StateDB) GetPriceFeed(id string) (*core.PriceFeed, error) {
	return getRecord[core.PriceFeed](s, prefixFeed+id)
}

func (s *StateDB) SetPriceFeed(f *core.PriceFeed) error {
	return s.putRecord(prefixFeed+f.ID, f)
}

// ---- Snapshot / Rollback / Commit ----

// Snapshot saves the current write buffer and returns a snapshot ID.
func (s *StateDB) Snapshot() (int, error) {
	snap := stateSnapshot{
		dirty:   make(map[string][]byte, len(s.dirty)),
		deleted: make(map[string]bool, len(s.deleted)),
	}
	for k, v := range s.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		snap.dirty[k] = cp
	}
	for k, v := range s.deleted {
		snap.deleted[k] = v
	}
	s.snapshots = append(s.snapshots, snap)
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot restores the write buffer to a previously saved snapshot.
// The snapshot maps are deep-copied so that subsequent writes cannot corrupt them.
func (s *StateDB) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	snap := s.snapshots[id]

	dirty := make(map[string][]byte, len(snap.dirty))
	for k, v := range snap.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		dirty[k] = cp
	}
	deleted := make(map[string]bool, len(snap.deleted))
	for k, v := range snap.deleted {
		deleted[k] = v
	}

	s.dirty = dirty
	s.deleted = deleted
	s.snapshots = s.snapshots[:id]
	return nil
}

// ComputeRoot returns the deterministic hash of the complete world state.
// It merges all persisted state entries (scanned from DB by the known state
// prefixes) with the current write buffer, then hashes the sorted key-value
// pairs using length-prefix encoding.  It does NOT flush or modify state,
// so it is safe to call before signing a block.
func (s *StateDB) ComputeRoot() string {
	merged := make(map[string][]byte)
	for _, prefix := range statePrefixes {
		it := s.db.NewIterator([]byte(prefix))
		for it.Next() {
			k := string(it.Key())
			v := make([]byte, len(it.Value()))
			copy(v, it.Value())
			merged[k] = v
		}
		it.Release()
	}
	for k, v := range s.dirty {
		merged[k] = v
	}
	for k := range s.deleted {
		delete(merged, k)
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, k := range keys {
		v := merged[k]
		kb := []byte(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(kb)))
		buf.Write(lenBuf[:])
		buf.Write(kb)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	return crypto.Hash(buf.Bytes())
}

// Commit atomically flushes the write buffer to the underlying DB via a
// batch and then clears it. Call ComputeRoot() before signing the block,
// then call Commit() after the block is safely stored.
func (s *StateDB) Commit() error {
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
	}
	for k := range s.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.Discard()
	return nil
}

// Discard drops every uncommitted write, e.g. after a block failed to persist.
func (s *StateDB) Discard() {
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
}
