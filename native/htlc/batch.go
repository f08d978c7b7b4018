package htlc

import (
	"errors"
	"fmt"
	"math/big"
)

// OpenBatch locks every leg or none: swaps are opened in order and the first
// failure unwinds the already-locked legs back to the initiator before the
// error is returned. Unlike single-asset Open, each recipient must be set and
// differ from the initiator. On success the per-leg identifiers are returned
// together with a batch identifier minted from the same registry counter.
func (e *Engine) OpenBatch(initiator [20]byte, recipients [][20]byte, assets []string, amounts []*big.Int, hashLocks [][32]byte, timeout int64) ([32]byte, [][32]byte, error) {
	if e == nil || e.state == nil {
		return [32]byte{}, nil, errNilState
	}
	if len(recipients) == 0 {
		return [32]byte{}, nil, ErrInvalidInputList
	}
	if len(assets) != len(recipients) || len(amounts) != len(recipients) || len(hashLocks) != len(recipients) {
		return [32]byte{}, nil, ErrMismatchedLists
	}
	for _, recipient := range recipients {
		if recipient == ([20]byte{}) || recipient == initiator {
			return [32]byte{}, nil, ErrInvalidRecipient
		}
	}

	ids := make([][32]byte, 0, len(recipients))
	for i := range recipients {
		id, err := e.Open(initiator, recipients[i], assets[i], amounts[i], hashLocks[i], timeout)
		if err != nil {
			if unwindErr := e.unwindLegs(ids); unwindErr != nil {
				return [32]byte{}, nil, errors.Join(err, unwindErr)
			}
			return [32]byte{}, nil, err
		}
		ids = append(ids, id)
	}

	counter, err := e.state.SwapNonce()
	if err != nil {
		if unwindErr := e.unwindLegs(ids); unwindErr != nil {
			return [32]byte{}, nil, errors.Join(err, unwindErr)
		}
		return [32]byte{}, nil, err
	}
	locks := make([][32]byte, len(hashLocks))
	copy(locks, hashLocks)
	batchID := DeriveBatchID(locks, e.now(), counter)
	e.emit(NewBatchOpenedEvent(batchID, ids))
	return batchID, ids, nil
}

// unwindLegs rolls freshly opened swaps back to the initiator, newest first.
func (e *Engine) unwindLegs(ids [][32]byte) error {
	var failed error
	for i := len(ids) - 1; i >= 0; i-- {
		if err := e.rollbackOpen(ids[i]); err != nil {
			failed = errors.Join(failed, fmt.Errorf("htlc: unwind leg %d: %w", i, err))
		}
	}
	return failed
}

func (e *Engine) rollbackOpen(id [32]byte) error {
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
	if err := e.state.SwapDebit(record.Asset, record.Amount, record.Initiator); err != nil {
		return err
	}
	record.Status = SwapRefunded
	if err := e.state.SwapUpdate(record); err != nil {
		if creditErr := e.state.SwapCredit(record.Initiator, record.Asset, record.Amount); creditErr != nil {
			return errors.Join(err, creditErr)
		}
		return err
	}
	e.emit(NewRefundedEvent(record))
	return nil
}
