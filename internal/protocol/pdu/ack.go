package pdu

import "fmt"

// ACK acknowledges an EOF or Finished directive.
type ACK struct {
	Directive DirectiveCode
	// Subtype is 1 when acknowledging Finished, 0 otherwise.
	Subtype           uint8
	Condition         ConditionCode
	TransactionStatus TransactionStatus
}

func (*ACK) Kind() Kind { return KindACK }

func (a *ACK) appendTo(dst []byte, _ Header) ([]byte, error) {
	if a.Directive > 0x0F || a.Subtype > 0x0F {
		return nil, fmt.Errorf("%w: ack directive=%d subtype=%d", ErrFieldOverflow, a.Directive, a.Subtype)
	}
	return append(dst,
		uint8(DirectiveACK),
		uint8(a.Directive)<<4|a.Subtype,
		uint8(a.Condition)<<4|uint8(a.TransactionStatus&0x03),
	), nil
}

func decodeACK(r *bodyReader, _ Header) (Body, error) {
	b1, err := r.u8("acked directive")
	if err != nil {
		return nil, err
	}
	b2, err := r.u8("condition")
	if err != nil {
		return nil, err
	}
	a := &ACK{
		Directive:         DirectiveCode(b1 >> 4),
		Subtype:           b1 & 0x0F,
		Condition:         ConditionCode(b2 >> 4),
		TransactionStatus: TransactionStatus(b2 & 0x03),
	}
	if a.Directive != DirectiveEOF && a.Directive != DirectiveFinished {
		return nil, decodeErr(InvalidField, "ack: cannot acknowledge %s", a.Directive)
	}
	if r.remaining() != 0 {
		return nil, decodeErr(LengthMismatch, "ack: %d trailing bytes", r.remaining())
	}
	return a, nil
}

func (a *ACK) String() string {
	return fmt.Sprintf("ACK[%s condition=%s status=%d]", a.Directive, a.Condition, a.TransactionStatus)
}
