package htlc

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"swaplock/core/events"
)

// DefaultTimeout is the deadline offset applied when the caller does not
// supply one, roughly one day at the expected clock granularity.
const DefaultTimeout int64 = 144

var errNilState = errors.New("htlc engine: state not configured")

// engineState is the registry and custody-ledger surface the engine needs.
// The registry is a dumb keyed store: it enforces key uniqueness and
// existence, never transition legality. Guarding the state machine is the
// engine's job alone.
type engineState interface {
	// SwapInsert stores a new record, failing with ErrAlreadyExists when the
	// identifier is already present. Concurrent inserts of the same id must
	// not both succeed.
	SwapInsert(*Swap) error
	// SwapGet returns the stored record and whether it was present. A missing
	// key is not an error; the error reports backend failures only.
	SwapGet(id [32]byte) (*Swap, bool, error)
	// SwapUpdate replaces the record for an existing key, failing with
	// ErrNotFound when absent.
	SwapUpdate(*Swap) error
	// SwapNonce atomically reads and increments the registry counter,
	// returning the pre-increment value. No two callers observe the same
	// value.
	SwapNonce() (uint64, error)
	// SwapCredit moves amount of asset from the account into custody,
	// failing with ErrInsufficientFunds when the balance does not cover it.
	SwapCredit(from [20]byte, asset string, amount *big.Int) error
	// SwapDebit moves amount of asset out of custody to the account.
	SwapDebit(asset string, amount *big.Int, to [20]byte) error
}

// Engine drives the swap lifecycle: open, claim, refund and inspection. It
// owns every guard condition; the registry underneath stays a plain keyed
// store. Transfers into and out of custody happen before the matching status
// commit, under a per-swap lock, so a failed transfer aborts the transition
// with no state change and a racing caller always observes the committed
// terminal status.
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() int64

	mu        sync.Mutex
	paused    bool
	authority [20]byte
	swapLocks map[[32]byte]*sync.Mutex
}

// NewEngine creates a swap engine with a no-op emitter. Callers can override
// the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter:   events.NoopEmitter{},
		nowFn:     func() int64 { return time.Now().Unix() },
		swapLocks: make(map[[32]byte]*sync.Mutex),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps or block heights.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetAuthority configures the administrative address allowed to pause new
// opens. The authority has no bearing on claim or refund.
func (e *Engine) SetAuthority(addr [20]byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.authority = addr
}

// SetPaused toggles acceptance of new swaps. Only the configured authority
// may call it; claims and refunds are never pausable.
func (e *Engine) SetPaused(caller [20]byte, paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.authority == ([20]byte{}) || caller != e.authority {
		return ErrUnauthorized
	}
	e.paused = paused
	return nil
}

func (e *Engine) emit(evt *SwapEvent) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// lockFor returns the mutex guarding transitions on the given identifier.
// Locks are never released back: identifiers are never reused, and resolved
// records stay resident anyway.
func (e *Engine) lockFor(id [32]byte) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.swapLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		e.swapLocks[id] = lock
	}
	return lock
}

func (e *Engine) openRejected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Open locks amount of asset from the initiator into custody and records a
// new swap claimable by the recipient against the SHA-256 hash lock until the
// deadline. A timeout of zero or less falls back to DefaultTimeout. The
// custody transfer happens first; if it fails no record is inserted.
func (e *Engine) Open(initiator, recipient [20]byte, asset string, amount *big.Int, hashLock [32]byte, timeout int64) ([32]byte, error) {
	if e == nil || e.state == nil {
		return [32]byte{}, errNilState
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return [32]byte{}, err
	}
	if amount == nil || amount.Sign() < 0 {
		return [32]byte{}, fmt.Errorf("htlc: amount must be non-negative")
	}
	if e.openRejected() {
		return [32]byte{}, ErrUnauthorized
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	now := e.now()
	counter, err := e.state.SwapNonce()
	if err != nil {
		return [32]byte{}, err
	}
	id := DeriveSwapID(hashLock, amount, now, counter)
	if _, ok, err := e.state.SwapGet(id); err != nil {
		return [32]byte{}, err
	} else if ok {
		return [32]byte{}, ErrAlreadyExists
	}
	if err := e.state.SwapCredit(initiator, normalized, amount); err != nil {
		return [32]byte{}, err
	}
	record := &Swap{
		ID:        id,
		Initiator: initiator,
		Recipient: recipient,
		Asset:     normalized,
		Amount:    new(big.Int).Set(amount),
		HashLock:  hashLock,
		Deadline:  now + timeout,
		CreatedAt: now,
		Status:    SwapOpen,
	}
	if err := e.state.SwapInsert(record); err != nil {
		// Undo the custody credit so a lost insert race leaves no funds
		// stranded in the vault.
		if debitErr := e.state.SwapDebit(normalized, amount, initiator); debitErr != nil {
			return [32]byte{}, errors.Join(err, fmt.Errorf("htlc: release custody after failed insert: %w", debitErr))
		}
		return [32]byte{}, err
	}
	e.emit(NewOpenedEvent(record))
	return id, nil
}

// Claim resolves an open swap in favour of the recipient. Guards run in a
// fixed order so the reported failure is deterministic: existence, status,
// deadline, caller, preimage, asset. An asset mismatch is reported as
// ErrUnauthorized to keep error-code compatibility with existing consumers.
func (e *Engine) Claim(id [32]byte, preimage []byte, asset string, caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	record, ok, err := e.state.SwapGet(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if record.Status != SwapOpen {
		return ErrAlreadyCompleted
	}
	if e.now() > record.Deadline {
		return ErrExpired
	}
	if caller != record.Recipient {
		return ErrUnauthorized
	}
	digest := sha256.Sum256(preimage)
	if subtle.ConstantTimeCompare(digest[:], record.HashLock[:]) != 1 {
		return ErrInvalidPreimage
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil || normalized != record.Asset {
		return ErrUnauthorized
	}
	if err := e.state.SwapDebit(record.Asset, record.Amount, record.Recipient); err != nil {
		return err
	}
	record.Status = SwapClaimed
	// Non-nil even for a zero-length secret: a nil preimage always means the
	// swap is still open.
	record.Preimage = append([]byte{}, preimage...)
	if err := e.state.SwapUpdate(record); err != nil {
		if creditErr := e.state.SwapCredit(record.Recipient, record.Asset, record.Amount); creditErr != nil {
			return errors.Join(err, fmt.Errorf("htlc: restore custody after failed update: %w", creditErr))
		}
		return err
	}
	e.emit(NewClaimedEvent(record))
	return nil
}

// Refund returns the locked funds to the initiator once the deadline has
// passed. Guard order mirrors Claim: existence, status, deadline, caller,
// asset.
func (e *Engine) Refund(id [32]byte, asset string, caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	record, ok, err := e.state.SwapGet(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if record.Status != SwapOpen {
		return ErrAlreadyRefunded
	}
	if e.now() <= record.Deadline {
		return ErrTooEarly
	}
	if caller != record.Initiator {
		return ErrUnauthorized
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil || normalized != record.Asset {
		return ErrUnauthorized
	}
	if err := e.state.SwapDebit(record.Asset, record.Amount, record.Initiator); err != nil {
		return err
	}
	record.Status = SwapRefunded
	if err := e.state.SwapUpdate(record); err != nil {
		if creditErr := e.state.SwapCredit(record.Initiator, record.Asset, record.Amount); creditErr != nil {
			return errors.Join(err, fmt.Errorf("htlc: restore custody after failed update: %w", creditErr))
		}
		return err
	}
	e.emit(NewRefundedEvent(record))
	return nil
}

// Get returns a copy of the swap record, ErrNotFound when no record exists,
// or the backend failure that prevented the read. Records are public by
// construction: HTLC secrecy rests on the preimage, not on record
// confidentiality, so no authorization applies.
func (e *Engine) Get(id [32]byte) (*Swap, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, ok, err := e.state.SwapGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return record.Clone(), nil
}
