package state

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"swaplock/native/htlc"
	"swaplock/storage"
)

// swapSchemaVersion is bumped whenever the stored record layout changes so a
// daemon refuses to misread records written by a future release.
const swapSchemaVersion uint8 = 1

var (
	swapRecordPrefix = []byte("htlc/swap/")
	swapNoncePrefix  = []byte("htlc/swap/nonce")
	balancePrefix    = []byte("htlc/balance/")
	vaultPrefix      = []byte("swaplock/htlc/vault/")
)

func swapStorageKey(id [32]byte) []byte {
	buf := make([]byte, len(swapRecordPrefix)+len(id))
	copy(buf, swapRecordPrefix)
	copy(buf[len(swapRecordPrefix):], id[:])
	return ethcrypto.Keccak256(buf)
}

func swapNonceKey() []byte {
	return ethcrypto.Keccak256(swapNoncePrefix)
}

func balanceKey(addr [20]byte, asset string) []byte {
	buf := make([]byte, 0, len(balancePrefix)+len(addr)+1+len(asset))
	buf = append(buf, balancePrefix...)
	buf = append(buf, addr[:]...)
	buf = append(buf, '/')
	buf = append(buf, asset...)
	return ethcrypto.Keccak256(buf)
}

// CustodyAddress derives the engine-owned account holding locked funds for an
// asset. The address is the tail of a tagged keccak digest, so no private key
// exists for it and only the sanctioned transitions can move funds out.
func CustodyAddress(asset string) [20]byte {
	buf := make([]byte, 0, len(vaultPrefix)+len(asset))
	buf = append(buf, vaultPrefix...)
	buf = append(buf, asset...)
	digest := ethcrypto.Keccak256(buf)
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr
}

type storedSwap struct {
	Version   uint8
	ID        [32]byte
	Initiator [20]byte
	Recipient [20]byte
	Asset     string
	Amount    *big.Int
	HashLock  [32]byte
	Deadline  *big.Int
	CreatedAt *big.Int
	Status    uint8
	Preimage  []byte
}

func newStoredSwap(s *htlc.Swap) *storedSwap {
	if s == nil {
		return nil
	}
	amount := big.NewInt(0)
	if s.Amount != nil {
		amount = new(big.Int).Set(s.Amount)
	}
	return &storedSwap{
		Version:   swapSchemaVersion,
		ID:        s.ID,
		Initiator: s.Initiator,
		Recipient: s.Recipient,
		Asset:     s.Asset,
		Amount:    amount,
		HashLock:  s.HashLock,
		Deadline:  big.NewInt(s.Deadline),
		CreatedAt: big.NewInt(s.CreatedAt),
		Status:    uint8(s.Status),
		Preimage:  s.Preimage,
	}
}

func (s *storedSwap) toSwap() (*htlc.Swap, error) {
	if s == nil {
		return nil, fmt.Errorf("state: nil stored swap")
	}
	if s.Version != swapSchemaVersion {
		return nil, fmt.Errorf("state: unsupported swap schema version %d", s.Version)
	}
	out := &htlc.Swap{
		ID:        s.ID,
		Initiator: s.Initiator,
		Recipient: s.Recipient,
		Asset:     s.Asset,
		Amount:    big.NewInt(0),
		HashLock:  s.HashLock,
		Status:    htlc.SwapStatus(s.Status),
	}
	if s.Amount != nil {
		out.Amount = new(big.Int).Set(s.Amount)
	}
	if s.Deadline != nil {
		out.Deadline = s.Deadline.Int64()
	}
	if s.CreatedAt != nil {
		out.CreatedAt = s.CreatedAt.Int64()
	}
	if !out.Status.Valid() {
		return nil, fmt.Errorf("state: invalid swap status %d", s.Status)
	}
	// Preimage is meaningful only once the swap leaves Open; an open record
	// always reads back as having none.
	if out.Status != htlc.SwapOpen {
		out.Preimage = append([]byte{}, s.Preimage...)
	}
	return out, nil
}

// Manager is the swap registry and custody ledger over a raw key-value
// backend: RLP-encoded records under hashed keys, a linearizable counter for
// identifier derivation and per-(account, asset) balances. It stores whatever
// the engine hands it; transition legality is entirely the engine's concern.
type Manager struct {
	db storage.Database

	// mu serializes every read-modify-write (insert existence check, counter
	// bump, balance moves) so concurrent callers observe linearizable state.
	mu sync.Mutex
}

// NewManager constructs a registry bound to the provided storage backend.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) writeSwap(s *htlc.Swap) error {
	encoded, err := rlp.EncodeToBytes(newStoredSwap(s))
	if err != nil {
		return err
	}
	return m.db.Put(swapStorageKey(s.ID), encoded)
}

func (m *Manager) readSwap(id [32]byte) (*htlc.Swap, bool, error) {
	data, ok, err := m.db.Get(swapStorageKey(id))
	if err != nil || !ok {
		return nil, false, err
	}
	stored := new(storedSwap)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false, err
	}
	record, err := stored.toSwap()
	if err != nil {
		return nil, false, err
	}
	return record, true, nil
}

// SwapInsert stores a new record, failing with htlc.ErrAlreadyExists when the
// identifier is taken. The existence check and write happen under one lock so
// no two inserts for the same identifier can both succeed.
func (m *Manager) SwapInsert(s *htlc.Swap) error {
	if s == nil {
		return fmt.Errorf("state: nil swap")
	}
	if !s.Status.Valid() {
		return fmt.Errorf("state: invalid swap status %d", s.Status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok, err := m.readSwap(s.ID)
	if err != nil {
		return err
	}
	if ok {
		return htlc.ErrAlreadyExists
	}
	return m.writeSwap(s)
}

// SwapGet returns the stored record and whether it was present. Backend and
// decode failures are reported distinctly from absence so a transient read
// fault never masquerades as a missing swap.
func (m *Manager) SwapGet(id [32]byte) (*htlc.Swap, bool, error) {
	return m.readSwap(id)
}

// SwapUpdate replaces the record for an existing key, failing with
// htlc.ErrNotFound when absent.
func (m *Manager) SwapUpdate(s *htlc.Swap) error {
	if s == nil {
		return fmt.Errorf("state: nil swap")
	}
	if !s.Status.Valid() {
		return fmt.Errorf("state: invalid swap status %d", s.Status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok, err := m.readSwap(s.ID)
	if err != nil {
		return err
	}
	if !ok {
		return htlc.ErrNotFound
	}
	return m.writeSwap(s)
}

// SwapNonce atomically reads and increments the registry counter, returning
// the pre-increment value. No two callers observe the same value.
func (m *Manager) SwapNonce() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := swapNonceKey()
	data, ok, err := m.db.Get(key)
	if err != nil {
		return 0, err
	}
	var current uint64
	if ok {
		if len(data) != 8 {
			return 0, fmt.Errorf("state: corrupt swap nonce")
		}
		current = binary.BigEndian.Uint64(data)
	}
	var next [8]byte
	binary.BigEndian.PutUint64(next[:], current+1)
	if err := m.db.Put(key, next[:]); err != nil {
		return 0, err
	}
	return current, nil
}

func (m *Manager) loadBalance(key []byte) (*big.Int, error) {
	data, ok, err := m.db.Get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).SetBytes(data), nil
}

func (m *Manager) storeBalance(key []byte, value *big.Int) error {
	return m.db.Put(key, value.Bytes())
}

// transfer moves amount between two balance keys under the manager lock. The
// debit is checked first so a short balance mutates nothing.
func (m *Manager) transfer(fromKey, toKey []byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: negative transfer amount")
	}
	if amount.Sign() == 0 {
		return nil
	}
	from, err := m.loadBalance(fromKey)
	if err != nil {
		return err
	}
	if from.Cmp(amount) < 0 {
		return htlc.ErrInsufficientFunds
	}
	to, err := m.loadBalance(toKey)
	if err != nil {
		return err
	}
	if err := m.storeBalance(fromKey, new(big.Int).Sub(from, amount)); err != nil {
		return err
	}
	if err := m.storeBalance(toKey, new(big.Int).Add(to, amount)); err != nil {
		if restoreErr := m.storeBalance(fromKey, from); restoreErr != nil {
			return fmt.Errorf("state: credit failed: %v; debit rollback failed: %w", err, restoreErr)
		}
		return err
	}
	return nil
}

// SwapCredit moves amount of asset from the account into the asset's custody
// vault.
func (m *Manager) SwapCredit(from [20]byte, asset string, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transfer(balanceKey(from, asset), balanceKey(CustodyAddress(asset), asset), amount)
}

// SwapDebit moves amount of asset out of custody to the account.
func (m *Manager) SwapDebit(asset string, amount *big.Int, to [20]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transfer(balanceKey(CustodyAddress(asset), asset), balanceKey(to, asset), amount)
}

// Mint credits freshly issued funds to an account. It backs the operator
// funding surface and tests; swaps themselves never mint.
func (m *Manager) Mint(to [20]byte, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: negative mint amount")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := balanceKey(to, asset)
	current, err := m.loadBalance(key)
	if err != nil {
		return err
	}
	return m.storeBalance(key, new(big.Int).Add(current, amount))
}

// BalanceOf reports the balance held by an account for an asset.
func (m *Manager) BalanceOf(addr [20]byte, asset string) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadBalance(balanceKey(addr, asset))
}

// CustodyBalance reports the funds currently locked in the asset's vault.
func (m *Manager) CustodyBalance(asset string) (*big.Int, error) {
	return m.BalanceOf(CustodyAddress(asset), asset)
}
