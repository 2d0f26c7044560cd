package state

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// SchemaVersion identifies the on-disk layout of ledger records, balances and
// nonces. Increment it whenever a stored encoding changes incompatibly.
const SchemaVersion uint32 = 1

// ErrSchemaVersionMismatch indicates the stored schema version does not match
// the version supported by the current binary.
var ErrSchemaVersionMismatch = errors.New("state: schema version mismatch")

func schemaVersionKey() []byte { return markerKey("schema-version") }

// StoredSchemaVersion returns the recorded schema version and whether one was
// present.
func (m *Manager) StoredSchemaVersion() (uint32, bool, error) {
	raw, ok, err := m.kv.get(schemaVersionKey())
	if err != nil || !ok {
		return 0, false, err
	}
	if len(raw) != 4 {
		return 0, false, fmt.Errorf("state: schema version has %d bytes", len(raw))
	}
	return binary.BigEndian.Uint32(raw), true, nil
}

// SetSchemaVersion records version. Callers invoke it after any migration.
func (m *Manager) SetSchemaVersion(version uint32) error {
	var raw [4]byte
	binary.BigEndian.PutUint32(raw[:], version)
	return m.kv.put(schemaVersionKey(), raw[:])
}

// EnsureSchemaVersion stamps a fresh database with SchemaVersion and rejects
// databases written by an incompatible binary. allowMigrate tolerates a
// mismatch so operators can run manual migrations.
func (m *Manager) EnsureSchemaVersion(allowMigrate bool) error {
	stored, ok, err := m.StoredSchemaVersion()
	if err != nil {
		return err
	}
	if !ok {
		return m.SetSchemaVersion(SchemaVersion)
	}
	if stored != SchemaVersion && !allowMigrate {
		return fmt.Errorf("%w: stored %d, binary %d", ErrSchemaVersionMismatch, stored, SchemaVersion)
	}
	return nil
}
