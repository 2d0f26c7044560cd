package state

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"rampledger/storage"
)

var (
	ErrRecordExists  = errors.New("state: record already allocated")
	ErrRecordMissing = errors.New("state: record not allocated")
	ErrRecordSize    = errors.New("state: record size mismatch")
	ErrTxClosed      = errors.New("state: transaction already closed")
)

// TokenMetadata describes an asset known to the host. The ledger only uses
// the name for deposit notifications.
type TokenMetadata struct {
	Name     string
	Decimals uint8
}

// CustodyRecord ties a custody account back to the ledger and asset it holds
// funds for.
type CustodyRecord struct {
	Owner [32]byte
	Asset [32]byte
}

type kv interface {
	get(key []byte) ([]byte, bool, error)
	has(key []byte) (bool, error)
	put(key, value []byte) error
	del(key []byte) error
}

// view implements the typed accessors shared by the committed Manager and a
// pending Tx.
type view struct {
	kv kv
}

// RampRecordGet returns a copy of the ledger record bytes.
func (v view) RampRecordGet(ledger [32]byte) ([]byte, bool, error) {
	return v.kv.get(rampRecordKey(ledger))
}

// RampRecordAllocate reserves a zeroed record of size bytes. A record is
// allocated once and keeps its size for life.
func (v view) RampRecordAllocate(ledger [32]byte, size int) error {
	if size <= 0 {
		return fmt.Errorf("state: invalid record size %d", size)
	}
	key := rampRecordKey(ledger)
	if ok, err := v.kv.has(key); err != nil {
		return err
	} else if ok {
		return ErrRecordExists
	}
	return v.kv.put(key, make([]byte, size))
}

// RampRecordPut replaces the record bytes. The write must match the allocated
// size exactly.
func (v view) RampRecordPut(ledger [32]byte, data []byte) error {
	key := rampRecordKey(ledger)
	existing, ok, err := v.kv.get(key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRecordMissing
	}
	if len(existing) != len(data) {
		return fmt.Errorf("%w: allocated %d, got %d", ErrRecordSize, len(existing), len(data))
	}
	return v.kv.put(key, append([]byte(nil), data...))
}

func (v view) readAmount(key []byte) (*uint256.Int, error) {
	data, ok, err := v.kv.get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	if len(data) != 32 {
		return nil, fmt.Errorf("state: malformed amount of %d bytes", len(data))
	}
	return new(uint256.Int).SetBytes(data), nil
}

// writeAmount prunes the key when amount is zero; readAmount treats a missing
// key as zero.
func (v view) writeAmount(key []byte, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return v.kv.del(key)
	}
	encoded := amount.Bytes32()
	return v.kv.put(key, encoded[:])
}

// Balance returns the asset balance held by account.
func (v view) Balance(asset, account [32]byte) (*uint256.Int, error) {
	return v.readAmount(balanceKey(asset, account))
}

// SetBalance stores the asset balance held by account.
func (v view) SetBalance(asset, account [32]byte, amount *uint256.Int) error {
	return v.writeAmount(balanceKey(asset, account), amount)
}

// NativeBalance returns the native currency held by account.
func (v view) NativeBalance(account [32]byte) (*uint256.Int, error) {
	return v.readAmount(nativeBalanceKey(account))
}

// SetNativeBalance stores the native currency held by account.
func (v view) SetNativeBalance(account [32]byte, amount *uint256.Int) error {
	return v.writeAmount(nativeBalanceKey(account), amount)
}

// Custody returns the registration for a custody account.
func (v view) Custody(id [32]byte) (*CustodyRecord, bool, error) {
	data, ok, err := v.kv.get(custodyKey(id))
	if err != nil || !ok {
		return nil, false, err
	}
	record := new(CustodyRecord)
	if err := rlp.DecodeBytes(data, record); err != nil {
		return nil, false, fmt.Errorf("state: decode custody: %w", err)
	}
	return record, true, nil
}

// PutCustody registers a custody account.
func (v view) PutCustody(id [32]byte, record CustodyRecord) error {
	encoded, err := rlp.EncodeToBytes(&record)
	if err != nil {
		return err
	}
	return v.kv.put(custodyKey(id), encoded)
}

// Nonce returns the next expected nonce for a signer.
func (v view) Nonce(id [32]byte) (uint64, error) {
	data, ok, err := v.kv.get(nonceKey(id))
	if err != nil || !ok {
		return 0, err
	}
	var nonce uint64
	if err := rlp.DecodeBytes(data, &nonce); err != nil {
		return 0, fmt.Errorf("state: decode nonce: %w", err)
	}
	return nonce, nil
}

// SetNonce stores the next expected nonce for a signer.
func (v view) SetNonce(id [32]byte, nonce uint64) error {
	encoded, err := rlp.EncodeToBytes(nonce)
	if err != nil {
		return err
	}
	return v.kv.put(nonceKey(id), encoded)
}

// RegisterToken stores metadata for an asset, replacing any previous entry.
func (v view) RegisterToken(asset [32]byte, name string, decimals uint8) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("token %x: name must not be empty", asset[:4])
	}
	encoded, err := rlp.EncodeToBytes(&TokenMetadata{Name: trimmed, Decimals: decimals})
	if err != nil {
		return err
	}
	return v.kv.put(tokenKey(asset), encoded)
}

// Token returns the metadata registered for asset, or nil when unknown.
func (v view) Token(asset [32]byte) (*TokenMetadata, error) {
	data, ok, err := v.kv.get(tokenKey(asset))
	if err != nil || !ok {
		return nil, err
	}
	meta := new(TokenMetadata)
	if err := rlp.DecodeBytes(data, meta); err != nil {
		return nil, fmt.Errorf("state: decode token: %w", err)
	}
	return meta, nil
}

// Marker reports whether the named one-shot marker has been set.
func (v view) Marker(name string) (bool, error) {
	return v.kv.has(markerKey(name))
}

// SetMarker records the named one-shot marker.
func (v view) SetMarker(name string) error {
	return v.kv.put(markerKey(name), []byte{1})
}

// Manager reads and writes committed state directly against the database.
type Manager struct {
	view
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{view: view{kv: dbKV{db: db}}, db: db}
}

// Begin opens a write overlay. Nothing reaches the database until Commit.
func (m *Manager) Begin() *Tx {
	tx := &Tx{db: m.db, pending: make(map[string]staged)}
	tx.view = view{kv: tx}
	return tx
}

type dbKV struct {
	db storage.Database
}

func (d dbKV) get(key []byte) ([]byte, bool, error) {
	value, err := d.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (d dbKV) has(key []byte) (bool, error) { return d.db.Has(key) }

func (d dbKV) put(key, value []byte) error { return d.db.Put(key, value) }

func (d dbKV) del(key []byte) error { return d.db.Delete(key) }

// staged is a pending write. A deleted entry hides the committed value.
type staged struct {
	value   []byte
	deleted bool
}

// Tx stages writes in memory on top of the committed state. Reads see the
// staged values first.
type Tx struct {
	view
	db      storage.Database
	pending map[string]staged
	closed  bool
}

func (tx *Tx) get(key []byte) ([]byte, bool, error) {
	if tx.closed {
		return nil, false, ErrTxClosed
	}
	if entry, ok := tx.pending[string(key)]; ok {
		if entry.deleted {
			return nil, false, nil
		}
		return append([]byte(nil), entry.value...), true, nil
	}
	return dbKV{db: tx.db}.get(key)
}

func (tx *Tx) has(key []byte) (bool, error) {
	if tx.closed {
		return false, ErrTxClosed
	}
	if entry, ok := tx.pending[string(key)]; ok {
		return !entry.deleted, nil
	}
	return tx.db.Has(key)
}

func (tx *Tx) put(key, value []byte) error {
	if tx.closed {
		return ErrTxClosed
	}
	tx.pending[string(key)] = staged{value: append([]byte(nil), value...)}
	return nil
}

func (tx *Tx) del(key []byte) error {
	if tx.closed {
		return ErrTxClosed
	}
	tx.pending[string(key)] = staged{deleted: true}
	return nil
}

// Len reports the number of staged keys.
func (tx *Tx) Len() int { return len(tx.pending) }

// Commit writes every staged key, deletions included, in one batch.
func (tx *Tx) Commit() error {
	if tx.closed {
		return ErrTxClosed
	}
	tx.closed = true
	if len(tx.pending) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tx.pending))
	for key := range tx.pending {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	batch := tx.db.NewBatch()
	for _, key := range keys {
		entry := tx.pending[key]
		if entry.deleted {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), entry.value)
	}
	tx.pending = nil
	return batch.Write()
}

// Discard drops every staged write. Calling it after Commit is a no-op.
func (tx *Tx) Discard() {
	tx.closed = true
	tx.pending = nil
}
