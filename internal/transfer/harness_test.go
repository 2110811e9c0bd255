package transfer

import (
	"errors"
	"testing"
	"time"

	"github.com/danmuck/cfdp/internal/protocol/checksum"
	"github.com/danmuck/cfdp/internal/protocol/pdu"
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

// capture records emitted PDUs after a trip through the codec, so every
// emitted PDU is known to be encodable. When fail is set, PDUs it matches
// are refused with errLinkDown.
type capture struct {
	t    *testing.T
	pdus []pdu.PDU
	fail func(pdu.PDU) bool
}

var errLinkDown = errors.New("link down")

func newCapture(t *testing.T) *capture {
	return &capture{t: t}
}

func (c *capture) emit(p pdu.PDU) error {
	c.t.Helper()
	if c.fail != nil && c.fail(p) {
		return errLinkDown
	}
	b, err := pdu.Encode(p)
	if err != nil {
		c.t.Fatalf("emitted pdu does not encode: %v (%s)", err, p)
	}
	out, err := pdu.Decode(b)
	if err != nil {
		c.t.Fatalf("emitted pdu does not decode: %v (%s)", err, p)
	}
	c.pdus = append(c.pdus, out)
	return nil
}

// buffered is the number of file bytes a receiver holds in memory.
func (r *receiver) buffered() uint64 {
	var n uint64
	for _, seg := range r.segments {
		n += uint64(len(seg))
	}
	return n
}

// take returns and clears the captured PDUs.
func (c *capture) take() []pdu.PDU {
	out := c.pdus
	c.pdus = nil
	return out
}

func kinds(pdus []pdu.PDU) []pdu.Kind {
	out := make([]pdu.Kind, 0, len(pdus))
	for _, p := range pdus {
		out = append(out, p.Kind())
	}
	return out
}

func countKind(pdus []pdu.PDU, k pdu.Kind) int {
	n := 0
	for _, p := range pdus {
		if p.Kind() == k {
			n++
		}
	}
	return n
}

func testConfig(clock *fakeClock, local pdu.EntityID) Config {
	return Config{
		LocalEntity:       local,
		Header:            pdu.HeaderConfig{EntityIDLength: 1, SequenceLength: 2},
		SegmentSize:       5,
		Checksum:          checksum.Modular,
		AckTimeout:        time.Second,
		AckLimit:          3,
		NakTimeout:        time.Second,
		NakLimit:          2,
		InactivityTimeout: 10 * time.Second,
		Backoff:           BackoffConfig{Multiplier: 1},
		Now:               clock.Now,
	}.WithDefaults()
}

func drain(tx *Transaction) {
	for tx.Step() {
	}
}

// expire advances the clock to the next armed timer and fires it.
func expire(t *testing.T, clock *fakeClock, tx *Transaction) {
	t.Helper()
	d, ok := tx.NextTimeout()
	if !ok {
		t.Fatalf("expected an armed timer in state %s", tx.State())
	}
	clock.advance(d)
	tx.OnTimeout()
}

func fileData(t *testing.T, hdr pdu.Header, offset uint64, data string) pdu.PDU {
	t.Helper()
	return pdu.PDU{Header: hdr, Body: &pdu.FileData{Offset: offset, Data: []byte(data)}}
}
