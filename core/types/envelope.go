package types

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	rampcrypto "rampledger/crypto"
)

var ErrMissingSignature = errors.New("types: envelope is not signed")

// Envelope carries one encoded ledger instruction together with the
// submitter's signature. Nonce is tracked per signer by the host; ChainID
// binds the signature to a single deployment.
type Envelope struct {
	ChainID uint64
	Ledger  [32]byte
	Nonce   uint64
	Data    []byte

	// Signature
	V, R, S *big.Int

	from *[32]byte
}

// Hash returns keccak256(rlp([chainID, ledger, nonce, data])), the digest
// that is signed.
func (env *Envelope) Hash() ([]byte, error) {
	payload := struct {
		ChainID uint64
		Ledger  [32]byte
		Nonce   uint64
		Data    []byte
	}{env.ChainID, env.Ledger, env.Nonce, env.Data}
	encoded, err := rlp.EncodeToBytes(&payload)
	if err != nil {
		return nil, err
	}
	return crypto.Keccak256(encoded), nil
}

// Sign attaches a secp256k1 signature over Hash.
func (env *Envelope) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := env.Hash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash, privKey)
	if err != nil {
		return err
	}
	env.R = new(big.Int).SetBytes(sig[:32])
	env.S = new(big.Int).SetBytes(sig[32:64])
	env.V = new(big.Int).SetBytes([]byte{sig[64] + 27})
	env.from = nil
	return nil
}

// Signer recovers the identity that signed the envelope.
func (env *Envelope) Signer() ([32]byte, error) {
	if env.from != nil {
		return *env.from, nil
	}
	if env.R == nil || env.S == nil || env.V == nil {
		return [32]byte{}, ErrMissingSignature
	}
	if env.R.BitLen() > 256 || env.S.BitLen() > 256 || !env.V.IsUint64() || env.V.Uint64() < 27 || env.V.Uint64() > 28 {
		return [32]byte{}, errors.New("types: malformed signature")
	}
	hash, err := env.Hash()
	if err != nil {
		return [32]byte{}, err
	}
	sig := make([]byte, 65)
	env.R.FillBytes(sig[:32])
	env.S.FillBytes(sig[32:64])
	sig[64] = byte(env.V.Uint64() - 27)
	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return [32]byte{}, err
	}
	id := [32]byte(rampcrypto.IdentityFromPubKey(pubKey))
	env.from = &id
	return id, nil
}

type envelopeJSON struct {
	ChainID hexutil.Uint64 `json:"chainId"`
	Ledger  hexutil.Bytes  `json:"ledger"`
	Nonce   hexutil.Uint64 `json:"nonce"`
	Data    hexutil.Bytes  `json:"data"`
	V       *hexutil.Big   `json:"v"`
	R       *hexutil.Big   `json:"r"`
	S       *hexutil.Big   `json:"s"`
}

// MarshalJSON renders the envelope with hex encoded fields.
func (env Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelopeJSON{
		ChainID: hexutil.Uint64(env.ChainID),
		Ledger:  env.Ledger[:],
		Nonce:   hexutil.Uint64(env.Nonce),
		Data:    env.Data,
		V:       (*hexutil.Big)(env.V),
		R:       (*hexutil.Big)(env.R),
		S:       (*hexutil.Big)(env.S),
	})
}

// UnmarshalJSON parses the hex encoded form produced by MarshalJSON.
func (env *Envelope) UnmarshalJSON(data []byte) error {
	var raw envelopeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Ledger) != 32 {
		return errors.New("types: ledger must be 32 bytes")
	}
	*env = Envelope{
		ChainID: uint64(raw.ChainID),
		Nonce:   uint64(raw.Nonce),
		Data:    raw.Data,
		V:       (*big.Int)(raw.V),
		R:       (*big.Int)(raw.R),
		S:       (*big.Int)(raw.S),
	}
	copy(env.Ledger[:], raw.Ledger)
	return nil
}
