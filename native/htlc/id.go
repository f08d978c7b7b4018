package htlc

import (
	"encoding/binary"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Identifier derivation is keccak256 over a domain tag, while the preimage
// commitment is SHA-256. Using distinct hash functions plus the tag keeps the
// two uses separated, so a swap identifier can never be confused with (or
// grinded into) a hash lock.
var (
	swapIDDomain  = []byte("swaplock/htlc/swap-id/v1")
	batchIDDomain = []byte("swaplock/htlc/batch-id/v1")
)

// DeriveSwapID computes the identifier for a new swap as a pure function of
// the hash lock, amount, creation time and the registry's counter value. The
// counter makes identifiers unique even for identical swaps opened within the
// same clock tick.
func DeriveSwapID(hashLock [32]byte, amount *big.Int, now int64, counter uint64) [32]byte {
	var counterBuf, nowBuf [8]byte
	binary.BigEndian.PutUint64(counterBuf[:], counter)
	binary.BigEndian.PutUint64(nowBuf[:], uint64(now))
	var amountBytes []byte
	if amount != nil {
		amountBytes = amount.Bytes()
	}
	digest := ethcrypto.Keccak256(swapIDDomain, counterBuf[:], hashLock[:], amountBytes, nowBuf[:])
	var id [32]byte
	copy(id[:], digest)
	return id
}

// DeriveBatchID mints an identifier covering a whole batch of swaps from the
// per-leg hash locks, the mint time and one counter value.
func DeriveBatchID(hashLocks [][32]byte, now int64, counter uint64) [32]byte {
	var counterBuf, nowBuf [8]byte
	binary.BigEndian.PutUint64(counterBuf[:], counter)
	binary.BigEndian.PutUint64(nowBuf[:], uint64(now))
	parts := make([][]byte, 0, len(hashLocks)+3)
	parts = append(parts, batchIDDomain, counterBuf[:], nowBuf[:])
	for i := range hashLocks {
		parts = append(parts, hashLocks[i][:])
	}
	digest := ethcrypto.Keccak256(parts...)
	var id [32]byte
	copy(id[:], digest)
	return id
}
