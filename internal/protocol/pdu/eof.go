package pdu

import (
	"fmt"

	"github.com/danmuck/cfdp/internal/protocol/tlv"
)

// EOF closes the data phase, or signals cancellation from the sender.
type EOF struct {
	Condition ConditionCode
	Checksum  uint32
	FileSize  uint64
	// FaultLocation is present only for error conditions. FaultWidth is the
	// width of its TLV when it differs from the header's entity id length.
	FaultLocation *EntityID
	FaultWidth    uint8
}

func (*EOF) Kind() Kind { return KindEOF }

func (e *EOF) appendTo(dst []byte, h Header) ([]byte, error) {
	dst = append(dst, uint8(DirectiveEOF), uint8(e.Condition)<<4)
	dst = appendUintN(dst, uint64(e.Checksum), 4)
	dst, err := appendFSS(dst, e.FileSize, h, "file size")
	if err != nil {
		return nil, err
	}
	if e.FaultLocation != nil {
		return appendEntityTLV(dst, *e.FaultLocation, e.FaultWidth, h)
	}
	return dst, nil
}

func decodeEOF(r *bodyReader, h Header) (Body, error) {
	b, err := r.u8("condition")
	if err != nil {
		return nil, err
	}
	e := &EOF{Condition: ConditionCode(b >> 4)}
	sum, err := r.uintN(4, "checksum")
	if err != nil {
		return nil, err
	}
	e.Checksum = uint32(sum)
	if e.FileSize, err = r.uintN(h.fss(), "file size"); err != nil {
		return nil, err
	}
	if r.remaining() > 0 {
		loc, width, err := readEntityTLV(r, h)
		if err != nil {
			return nil, err
		}
		e.FaultLocation, e.FaultWidth = &loc, width
	}
	return e, nil
}

func (e *EOF) String() string {
	return fmt.Sprintf("EOF[condition=%s checksum=%#08x size=%d]", e.Condition, e.Checksum, e.FileSize)
}

// appendEntityTLV writes an entity id TLV of width bytes, or of the header's
// entity id length when width is zero.
func appendEntityTLV(dst []byte, id EntityID, width uint8, h Header) ([]byte, error) {
	n := int(h.EntityIDLength)
	if width != 0 {
		n = int(width)
	}
	if n > 8 {
		return nil, fmt.Errorf("%w: fault location width %d", ErrFieldOverflow, n)
	}
	if !fits(uint64(id), n) {
		return nil, fieldOverflow("fault location", uint64(id), n)
	}
	dst = append(dst, tlv.TypeEntityID, uint8(n))
	return appendUintN(dst, uint64(id), n), nil
}

// readEntityTLV returns the id and, when it differs from the header's entity
// id length, the TLV width so re-encoding reproduces the input.
func readEntityTLV(r *bodyReader, h Header) (EntityID, uint8, error) {
	typ, err := r.u8("entity tlv type")
	if err != nil {
		return 0, 0, err
	}
	if typ != tlv.TypeEntityID {
		return 0, 0, decodeErr(InvalidField, "%s: expected entity id tlv, got type %d", r.kind, typ)
	}
	l, err := r.u8("entity tlv length")
	if err != nil {
		return 0, 0, err
	}
	if l < 1 || l > 8 {
		return 0, 0, decodeErr(InvalidField, "%s: entity id tlv length %d", r.kind, l)
	}
	v, err := r.uintN(int(l), "entity id")
	if err != nil {
		return 0, 0, err
	}
	if l == h.EntityIDLength {
		l = 0
	}
	return EntityID(v), l, nil
}

func fieldOverflow(field string, v uint64, n int) error {
	return fmt.Errorf("%w: %s %d in %d bytes", ErrFieldOverflow, field, v, n)
}
