package htlc

import (
	"crypto/sha256"
	"math/big"
	"testing"
)

func TestDeriveSwapIDDeterministic(t *testing.T) {
	lock := sha256.Sum256([]byte("secret"))
	a := DeriveSwapID(lock, big.NewInt(1000), 500, 7)
	b := DeriveSwapID(lock, big.NewInt(1000), 500, 7)
	if a != b {
		t.Fatalf("derivation not deterministic")
	}
}

func TestDeriveSwapIDVariesWithEveryInput(t *testing.T) {
	lock := sha256.Sum256([]byte("secret"))
	base := DeriveSwapID(lock, big.NewInt(1000), 500, 7)
	otherLock := sha256.Sum256([]byte("other"))
	variants := [][32]byte{
		DeriveSwapID(otherLock, big.NewInt(1000), 500, 7),
		DeriveSwapID(lock, big.NewInt(1001), 500, 7),
		DeriveSwapID(lock, big.NewInt(1000), 501, 7),
		DeriveSwapID(lock, big.NewInt(1000), 500, 8),
	}
	for i, v := range variants {
		if v == base {
			t.Fatalf("variant %d collided with base", i)
		}
	}
}

func TestDeriveSwapIDDomainSeparatedFromHashLock(t *testing.T) {
	// An identifier must never equal the SHA-256 commitment it was derived
	// from, even for adversarially chosen inputs in the same byte layout.
	secret := []byte("secret")
	lock := sha256.Sum256(secret)
	id := DeriveSwapID(lock, big.NewInt(0), 0, 0)
	if id == lock {
		t.Fatalf("identifier equals hash lock")
	}
	if id == sha256.Sum256(lock[:]) {
		t.Fatalf("identifier is a bare second-round SHA-256")
	}
}

func TestDeriveBatchIDCoversLegs(t *testing.T) {
	locks := [][32]byte{sha256.Sum256([]byte("a")), sha256.Sum256([]byte("b"))}
	base := DeriveBatchID(locks, 100, 1)
	reordered := DeriveBatchID([][32]byte{locks[1], locks[0]}, 100, 1)
	if base == reordered {
		t.Fatalf("batch id ignores leg order")
	}
	if base == DeriveBatchID(locks, 100, 2) {
		t.Fatalf("batch id ignores counter")
	}
}
