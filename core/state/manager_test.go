package state

import (
	"path/filepath"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"rampledger/storage"
)

func id(fill byte) [32]byte {
	var out [32]byte
	for i := range out {
		out[i] = fill
	}
	return out
}

func TestRampRecordAllocationIsFixedSize(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	ledger := id(0x01)

	_, ok, err := mgr.RampRecordGet(ledger)
	require.NoError(t, err)
	require.False(t, ok)
	require.ErrorIs(t, mgr.RampRecordPut(ledger, []byte{1}), ErrRecordMissing)

	require.NoError(t, mgr.RampRecordAllocate(ledger, 8))
	require.ErrorIs(t, mgr.RampRecordAllocate(ledger, 8), ErrRecordExists)

	raw, ok, err := mgr.RampRecordGet(ledger)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, make([]byte, 8), raw)

	require.ErrorIs(t, mgr.RampRecordPut(ledger, make([]byte, 9)), ErrRecordSize)
	require.NoError(t, mgr.RampRecordPut(ledger, []byte{1, 2, 3, 4, 5, 6, 7, 8}))
	raw, _, err = mgr.RampRecordGet(ledger)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, raw)
}

func TestTypedAccessors(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	asset, account := id(0xA1), id(0x02)

	bal, err := mgr.Balance(asset, account)
	require.NoError(t, err)
	require.True(t, bal.IsZero())
	require.NoError(t, mgr.SetBalance(asset, account, uint256.NewInt(500)))
	bal, err = mgr.Balance(asset, account)
	require.NoError(t, err)
	require.Equal(t, uint64(500), bal.Uint64())

	other, err := mgr.Balance(id(0xB2), account)
	require.NoError(t, err)
	require.True(t, other.IsZero(), "balances are scoped per asset")

	require.NoError(t, mgr.SetNativeBalance(account, uint256.NewInt(9)))
	native, err := mgr.NativeBalance(account)
	require.NoError(t, err)
	require.Equal(t, uint64(9), native.Uint64())

	nonce, err := mgr.Nonce(account)
	require.NoError(t, err)
	require.Zero(t, nonce)
	require.NoError(t, mgr.SetNonce(account, 7))
	nonce, err = mgr.Nonce(account)
	require.NoError(t, err)
	require.Equal(t, uint64(7), nonce)

	record := CustodyRecord{Owner: id(0x10), Asset: asset}
	require.NoError(t, mgr.PutCustody(id(0xCC), record))
	got, ok, err := mgr.Custody(id(0xCC))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, record, *got)

	meta, err := mgr.Token(asset)
	require.NoError(t, err)
	require.Nil(t, meta)
	require.Error(t, mgr.RegisterToken(asset, "  ", 6))
	require.NoError(t, mgr.RegisterToken(asset, " USDC ", 6))
	meta, err = mgr.Token(asset)
	require.NoError(t, err)
	require.Equal(t, &TokenMetadata{Name: "USDC", Decimals: 6}, meta)
}

func TestTxCommitAndDiscard(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	account := id(0x02)
	require.NoError(t, mgr.SetNativeBalance(account, uint256.NewInt(10)))

	tx := mgr.Begin()
	require.NoError(t, tx.SetNativeBalance(account, uint256.NewInt(4)))
	require.NoError(t, tx.SetNonce(account, 1))
	staged, err := tx.NativeBalance(account)
	require.NoError(t, err)
	require.Equal(t, uint64(4), staged.Uint64())

	committed, err := mgr.NativeBalance(account)
	require.NoError(t, err)
	require.Equal(t, uint64(10), committed.Uint64(), "staged writes must not leak")

	tx.Discard()
	require.ErrorIs(t, tx.Commit(), ErrTxClosed)
	committed, err = mgr.NativeBalance(account)
	require.NoError(t, err)
	require.Equal(t, uint64(10), committed.Uint64())

	tx = mgr.Begin()
	require.NoError(t, tx.SetNativeBalance(account, uint256.NewInt(4)))
	require.NoError(t, tx.RampRecordAllocate(id(0x01), 4))
	require.Equal(t, 2, tx.Len())
	require.NoError(t, tx.Commit())
	_, err = tx.NativeBalance(account)
	require.ErrorIs(t, err, ErrTxClosed)

	committed, err = mgr.NativeBalance(account)
	require.NoError(t, err)
	require.Equal(t, uint64(4), committed.Uint64())
	_, ok, err := mgr.RampRecordGet(id(0x01))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestZeroAmountsPruneKeys(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	asset, account := id(0xA1), id(0x02)

	require.NoError(t, mgr.SetBalance(asset, account, uint256.NewInt(30)))
	require.NoError(t, mgr.SetNativeBalance(account, uint256.NewInt(5)))
	require.Equal(t, 2, db.Len())

	require.NoError(t, mgr.SetNativeBalance(account, new(uint256.Int)))
	require.Equal(t, 1, db.Len())
	native, err := mgr.NativeBalance(account)
	require.NoError(t, err)
	require.True(t, native.IsZero())

	tx := mgr.Begin()
	require.NoError(t, tx.SetBalance(asset, account, nil))
	staged, err := tx.Balance(asset, account)
	require.NoError(t, err)
	require.True(t, staged.IsZero())
	committed, err := mgr.Balance(asset, account)
	require.NoError(t, err)
	require.Equal(t, uint64(30), committed.Uint64(), "staged deletes must not leak")

	require.NoError(t, tx.RampRecordAllocate(id(0x01), 4))
	require.ErrorIs(t, tx.RampRecordAllocate(id(0x01), 4), ErrRecordExists)
	require.NoError(t, tx.Commit())
	require.Equal(t, 1, db.Len())
	committed, err = mgr.Balance(asset, account)
	require.NoError(t, err)
	require.True(t, committed.IsZero())
	_, ok, err := mgr.RampRecordGet(id(0x01))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestTxCommitPersistsToLevelDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state")
	db, err := storage.NewLevelDB(path)
	require.NoError(t, err)

	tx := NewManager(db).Begin()
	require.NoError(t, tx.SetBalance(id(0xA1), id(0x02), uint256.NewInt(77)))
	require.NoError(t, tx.Commit())
	db.Close()

	db, err = storage.NewLevelDB(path)
	require.NoError(t, err)
	defer db.Close()
	mgr := NewManager(db)
	bal, err := mgr.Balance(id(0xA1), id(0x02))
	require.NoError(t, err)
	require.Equal(t, uint64(77), bal.Uint64())

	tx = mgr.Begin()
	require.NoError(t, tx.SetBalance(id(0xA1), id(0x02), new(uint256.Int)))
	require.NoError(t, tx.Commit())
	ok, err := db.Has(balanceKey(id(0xA1), id(0x02)))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMarkers(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	ok, err := mgr.Marker("genesis")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mgr.SetMarker("genesis"))
	ok, err = mgr.Marker("genesis")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEnsureSchemaVersion(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	require.NoError(t, mgr.EnsureSchemaVersion(false))
	stored, ok, err := mgr.StoredSchemaVersion()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, SchemaVersion, stored)

	require.NoError(t, mgr.SetSchemaVersion(SchemaVersion+1))
	require.ErrorIs(t, mgr.EnsureSchemaVersion(false), ErrSchemaVersionMismatch)
	require.NoError(t, mgr.EnsureSchemaVersion(true))
}
