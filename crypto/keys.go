package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// IdentityPrefix is the human-readable part of bech32 encoded identities.
const IdentityPrefix = "ramp"

// Identity is the 32-byte account identifier used for ledgers, owners,
// depositors and custody accounts.
type Identity [32]byte

// String renders the identity in bech32 form, e.g. ramp1...
func (id Identity) String() string {
	conv, err := bech32.ConvertBits(id[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(IdentityPrefix, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// Hex renders the identity as 0x-prefixed hex.
func (id Identity) Hex() string {
	return "0x" + hex.EncodeToString(id[:])
}

func (id Identity) Bytes() [32]byte { return id }

// ParseIdentity accepts either a bech32 identity with the ramp prefix or a
// 32-byte hex string with optional 0x prefix.
func ParseIdentity(s string) (Identity, error) {
	var id Identity
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return id, fmt.Errorf("identity required")
	}
	if strings.HasPrefix(strings.ToLower(trimmed), IdentityPrefix+"1") {
		prefix, decoded, err := bech32.Decode(trimmed)
		if err != nil {
			return id, fmt.Errorf("invalid bech32 string: %w", err)
		}
		if prefix != IdentityPrefix {
			return id, fmt.Errorf("unexpected identity prefix %q", prefix)
		}
		conv, err := bech32.ConvertBits(decoded, 5, 8, false)
		if err != nil {
			return id, fmt.Errorf("error converting bits: %w", err)
		}
		if len(conv) != len(id) {
			return id, fmt.Errorf("identity must be 32 bytes, got %d", len(conv))
		}
		copy(id[:], conv)
		return id, nil
	}
	raw := strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return id, fmt.Errorf("invalid hex identity: %w", err)
	}
	if len(decoded) != len(id) {
		return id, fmt.Errorf("identity must be 32 bytes, got %d", len(decoded))
	}
	copy(id[:], decoded)
	return id, nil
}

// IdentityFromPubKey derives an identity as keccak256 of the uncompressed
// public key without its 0x04 marker.
func IdentityFromPubKey(pub *ecdsa.PublicKey) Identity {
	var id Identity
	copy(id[:], crypto.Keccak256(crypto.FromECDSAPub(pub)[1:]))
	return id
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Identity returns the identity controlled by this key.
func (k *PrivateKey) Identity() Identity {
	return k.PubKey().Identity()
}

func (k *PublicKey) Identity() Identity {
	return IdentityFromPubKey(k.PublicKey)
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}
