package state

import (
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	rampRecordPrefix = []byte("ramp/record:")
	balancePrefix    = []byte("balance:")
	nativePrefix     = []byte("native:")
	custodyPrefix    = []byte("ramp/custody:")
	noncePrefix      = []byte("nonce:")
	tokenPrefix      = []byte("token:")
	markerPrefix     = []byte("meta:")
)

func prefixedKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, part := range parts {
		size += len(part) + 1
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for i, part := range parts {
		if i > 0 {
			buf = append(buf, ':')
		}
		buf = append(buf, part...)
	}
	return ethcrypto.Keccak256(buf)
}

func rampRecordKey(ledger [32]byte) []byte { return prefixedKey(rampRecordPrefix, ledger[:]) }

func balanceKey(asset, account [32]byte) []byte {
	return prefixedKey(balancePrefix, asset[:], account[:])
}

func nativeBalanceKey(account [32]byte) []byte { return prefixedKey(nativePrefix, account[:]) }

func custodyKey(id [32]byte) []byte { return prefixedKey(custodyPrefix, id[:]) }

func nonceKey(id [32]byte) []byte { return prefixedKey(noncePrefix, id[:]) }

func tokenKey(asset [32]byte) []byte { return prefixedKey(tokenPrefix, asset[:]) }

func markerKey(name string) []byte { return prefixedKey(markerPrefix, []byte(name)) }
