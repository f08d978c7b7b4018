package htlc

import (
	"encoding/hex"
	"strconv"
)

const (
	EventTypeSwapOpened   = "htlc.opened"
	EventTypeSwapClaimed  = "htlc.claimed"
	EventTypeSwapRefunded = "htlc.refunded"
	EventTypeBatchOpened  = "htlc.batch_opened"
)

// SwapEvent is the canonical engine event payload: a type tag plus flat
// string attributes, ready for logs and indexers.
type SwapEvent struct {
	Type       string
	Attributes map[string]string
}

// EventType implements the events.Event interface.
func (e *SwapEvent) EventType() string {
	if e == nil {
		return ""
	}
	return e.Type
}

// NewOpenedEvent returns the canonical payload for a newly opened swap.
func NewOpenedEvent(s *Swap) *SwapEvent { return newSwapEvent(EventTypeSwapOpened, s) }

// NewClaimedEvent returns the payload emitted when a swap is claimed. The
// revealed preimage is included: it is public knowledge from this point on
// and counterparties need it to settle the other side of a cross-asset swap.
func NewClaimedEvent(s *Swap) *SwapEvent {
	evt := newSwapEvent(EventTypeSwapClaimed, s)
	if s != nil && s.Preimage != nil {
		evt.Attributes["preimage"] = hex.EncodeToString(s.Preimage)
	}
	return evt
}

// NewRefundedEvent returns the payload emitted when a swap is refunded to the
// initiator.
func NewRefundedEvent(s *Swap) *SwapEvent { return newSwapEvent(EventTypeSwapRefunded, s) }

// NewBatchOpenedEvent returns the payload emitted after every leg of a batch
// locked successfully.
func NewBatchOpenedEvent(batchID [32]byte, ids [][32]byte) *SwapEvent {
	attrs := map[string]string{
		"batchId": hex.EncodeToString(batchID[:]),
		"legs":    strconv.Itoa(len(ids)),
	}
	for i, id := range ids {
		attrs["swap."+strconv.Itoa(i)] = hex.EncodeToString(id[:])
	}
	return &SwapEvent{Type: EventTypeBatchOpened, Attributes: attrs}
}

func newSwapEvent(eventType string, s *Swap) *SwapEvent {
	attrs := make(map[string]string)
	if s == nil {
		return &SwapEvent{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = hex.EncodeToString(s.ID[:])
	attrs["initiator"] = hex.EncodeToString(s.Initiator[:])
	attrs["recipient"] = hex.EncodeToString(s.Recipient[:])
	attrs["asset"] = s.Asset
	if s.Amount != nil {
		attrs["amount"] = s.Amount.String()
	} else {
		attrs["amount"] = "0"
	}
	attrs["hashLock"] = hex.EncodeToString(s.HashLock[:])
	attrs["deadline"] = strconv.FormatInt(s.Deadline, 10)
	attrs["createdAt"] = strconv.FormatInt(s.CreatedAt, 10)
	attrs["status"] = s.Status.String()
	return &SwapEvent{Type: eventType, Attributes: attrs}
}
