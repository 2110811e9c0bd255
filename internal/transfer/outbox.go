package transfer

import (
	"sort"
	"time"

	"github.com/danmuck/cfdp/internal/protocol/pdu"
)

// PendingPDU tracks one directive awaiting its response (ACK for EOF and
// Finished, data for NAK).
type PendingPDU struct {
	Directive     pdu.DirectiveCode
	Attempts      int
	QueuedAt      time.Time
	LastAttemptAt time.Time
	DeadlineAt    time.Time
}

// outbox holds the pending directives of one transaction. It is owned by
// the transaction and never shared, so it carries no lock.
type outbox struct {
	items map[pdu.DirectiveCode]PendingPDU
}

func newOutbox() *outbox {
	return &outbox{items: make(map[pdu.DirectiveCode]PendingPDU)}
}

// queue records the first transmission of code.
func (o *outbox) queue(code pdu.DirectiveCode, at, deadline time.Time) PendingPDU {
	item := PendingPDU{
		Directive:     code,
		Attempts:      1,
		QueuedAt:      at,
		LastAttemptAt: at,
		DeadlineAt:    deadline,
	}
	o.items[code] = item
	return item
}

func (o *outbox) markAttempt(code pdu.DirectiveCode, at, deadline time.Time) (PendingPDU, bool) {
	item, ok := o.items[code]
	if !ok {
		return PendingPDU{}, false
	}
	item.Attempts++
	item.LastAttemptAt = at
	item.DeadlineAt = deadline
	o.items[code] = item
	return item, true
}

func (o *outbox) remove(code pdu.DirectiveCode) {
	delete(o.items, code)
}

func (o *outbox) get(code pdu.DirectiveCode) (PendingPDU, bool) {
	item, ok := o.items[code]
	return item, ok
}

// expired lists items whose deadline is at or before now, oldest first.
func (o *outbox) expired(now time.Time) []PendingPDU {
	var out []PendingPDU
	for _, item := range o.items {
		if !item.DeadlineAt.After(now) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DeadlineAt.Equal(out[j].DeadlineAt) {
			return out[i].Directive < out[j].Directive
		}
		return out[i].DeadlineAt.Before(out[j].DeadlineAt)
	})
	return out
}

// next is the earliest pending deadline.
func (o *outbox) next() (time.Time, bool) {
	var at time.Time
	found := false
	for _, item := range o.items {
		if !found || item.DeadlineAt.Before(at) {
			at = item.DeadlineAt
			found = true
		}
	}
	return at, found
}

func (o *outbox) list() []PendingPDU {
	out := make([]PendingPDU, 0, len(o.items))
	for _, item := range o.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Directive < out[j].Directive
	})
	return out
}
