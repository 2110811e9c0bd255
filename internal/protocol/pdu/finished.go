package pdu

import (
	"fmt"

	"github.com/danmuck/cfdp/internal/protocol/tlv"
)

// Finished is the receiver's closing report.
type Finished struct {
	Condition  ConditionCode
	Delivery   DeliveryCode
	FileStatus FileStatus
	// Responses are filestore responses, in the order the requests ran.
	Responses     []tlv.FilestoreResponse
	FaultLocation *EntityID
	// FaultWidth overrides the header's entity id length for the fault
	// location TLV; zero means the header width.
	FaultWidth uint8
}

func (*Finished) Kind() Kind { return KindFinished }

func (f *Finished) appendTo(dst []byte, h Header) ([]byte, error) {
	b := uint8(f.Condition)<<4 | uint8(f.Delivery&1)<<2 | uint8(f.FileStatus&0x03)
	dst = append(dst, uint8(DirectiveFinished), b)
	for _, resp := range f.Responses {
		field, err := resp.Field()
		if err != nil {
			return nil, err
		}
		enc, err := tlv.EncodeField(field)
		if err != nil {
			return nil, err
		}
		dst = append(dst, enc...)
	}
	if f.FaultLocation != nil {
		return appendEntityTLV(dst, *f.FaultLocation, f.FaultWidth, h)
	}
	return dst, nil
}

func decodeFinished(r *bodyReader, h Header) (Body, error) {
	b, err := r.u8("condition")
	if err != nil {
		return nil, err
	}
	f := &Finished{
		Condition:  ConditionCode(b >> 4),
		Delivery:   DeliveryCode(b >> 2 & 1),
		FileStatus: FileStatus(b & 0x03),
	}
	for r.remaining() > 0 {
		if r.b[r.off] == tlv.TypeEntityID {
			loc, width, err := readEntityTLV(r, h)
			if err != nil {
				return nil, err
			}
			f.FaultLocation, f.FaultWidth = &loc, width
			if r.remaining() > 0 {
				return nil, decodeErr(InvalidField, "finished: data after fault location")
			}
			break
		}
		fields, err := tlv.DecodeFields(r.b[r.off:])
		if err != nil {
			return nil, decodeErr(InvalidField, "finished options: %v", err)
		}
		// Consume exactly one TLV per iteration so a trailing entity id
		// TLV is still recognised.
		field := fields[0]
		r.off += field.EncodedLen()
		if field.Type != tlv.TypeFilestoreResponse {
			return nil, decodeErr(InvalidField, "finished: unexpected tlv type %d", field.Type)
		}
		resp, err := tlv.ParseFilestoreResponse(field)
		if err != nil {
			return nil, decodeErr(InvalidField, "finished filestore response: %v", err)
		}
		f.Responses = append(f.Responses, resp)
	}
	return f, nil
}

func (f *Finished) String() string {
	return fmt.Sprintf("Finished[condition=%s delivery=%d status=%d responses=%d]",
		f.Condition, f.Delivery, f.FileStatus, len(f.Responses))
}
