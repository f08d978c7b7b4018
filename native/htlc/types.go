package htlc

import (
	"fmt"
	"math/big"
	"strings"
)

// SwapStatus represents the lifecycle states of a hash-time-locked swap.
// Open is the only non-terminal state; Claimed and Refunded are terminal and
// mutually exclusive.
type SwapStatus uint8

const (
	SwapOpen SwapStatus = iota
	SwapClaimed
	SwapRefunded
)

// Valid reports whether the status value is within the supported range.
func (s SwapStatus) Valid() bool {
	switch s {
	case SwapOpen, SwapClaimed, SwapRefunded:
		return true
	default:
		return false
	}
}

func (s SwapStatus) String() string {
	switch s {
	case SwapOpen:
		return "open"
	case SwapClaimed:
		return "claimed"
	case SwapRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// Swap captures the full persisted state of one hash-time-locked swap. The
// amount and all commitment fields are fixed at creation; only Status and
// Preimage change afterwards, exactly once. Preimage is nil while the swap is
// open and holds the revealed secret once claimed. Records are never deleted,
// so resolved swaps stay queryable for audit.
type Swap struct {
	ID        [32]byte
	Initiator [20]byte
	Recipient [20]byte
	Asset     string
	Amount    *big.Int
	HashLock  [32]byte
	Deadline  int64
	CreatedAt int64
	Status    SwapStatus
	Preimage  []byte
}

// Clone returns a deep copy of the swap so callers can safely mutate the copy
// without affecting the stored instance.
func (s *Swap) Clone() *Swap {
	if s == nil {
		return nil
	}
	clone := *s
	if s.Amount != nil {
		clone.Amount = new(big.Int).Set(s.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	if s.Preimage != nil {
		clone.Preimage = append([]byte{}, s.Preimage...)
	}
	return &clone
}

// NormalizeAsset canonicalises an asset symbol to its uppercase form and
// rejects empty or oversized symbols.
func NormalizeAsset(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("htlc: empty asset symbol")
	}
	if len(trimmed) > 16 {
		return "", fmt.Errorf("htlc: asset symbol too long: %s", symbol)
	}
	for _, r := range trimmed {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", fmt.Errorf("htlc: unsupported asset symbol: %s", symbol)
		}
	}
	return trimmed, nil
}
