package tlv

import (
	"errors"
	"fmt"
)

// HeaderLen is the type + length prefix of one TLV.
const HeaderLen = 2

// MaxValueLen is the largest value a single-octet length can describe.
const MaxValueLen = 255

var (
	ErrShortFieldHeader = errors.New("tlv: short field header")
	ErrShortFieldValue  = errors.New("tlv: short field value")
	ErrValueTooLong     = errors.New("tlv: value exceeds 255 bytes")
)

// Type codes from the CFDP TLV registry.
const (
	TypeFilestoreRequest     uint8 = 0x00
	TypeFilestoreResponse    uint8 = 0x01
	TypeMessageToUser        uint8 = 0x02
	TypeFaultHandlerOverride uint8 = 0x04
	TypeFlowLabel            uint8 = 0x05
	TypeEntityID             uint8 = 0x06
)

// Field is one decoded TLV.
type Field struct {
	Type  uint8
	Value []byte
}

// EncodedLen is the number of bytes f occupies on the wire.
func (f Field) EncodedLen() int {
	return HeaderLen + len(f.Value)
}

func EncodeField(f Field) ([]byte, error) {
	if len(f.Value) > MaxValueLen {
		return nil, fmt.Errorf("%w: type=%d len=%d", ErrValueTooLong, f.Type, len(f.Value))
	}
	buf := make([]byte, HeaderLen+len(f.Value))
	buf[0] = f.Type
	buf[1] = uint8(len(f.Value))
	copy(buf[2:], f.Value)
	return buf, nil
}

// DecodeFields reads TLVs until payload is exhausted.
func DecodeFields(payload []byte) ([]Field, error) {
	var fields []Field
	i := 0
	for i < len(payload) {
		if len(payload)-i < HeaderLen {
			return nil, ErrShortFieldHeader
		}
		typeID := payload[i]
		l := int(payload[i+1])
		i += HeaderLen
		if len(payload)-i < l {
			return nil, ErrShortFieldValue
		}
		val := make([]byte, l)
		copy(val, payload[i:i+l])
		i += l
		fields = append(fields, Field{Type: typeID, Value: val})
	}
	return fields, nil
}

func EncodeFields(fields []Field) ([]byte, error) {
	out := make([]byte, 0)
	for _, f := range fields {
		b, err := EncodeField(f)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// FieldsLen is the encoded size of fields.
func FieldsLen(fields []Field) int {
	n := 0
	for _, f := range fields {
		n += f.EncodedLen()
	}
	return n
}

func GetField(fields []Field, typeID uint8) (Field, bool) {
	for _, f := range fields {
		if f.Type == typeID {
			return f, true
		}
	}
	return Field{}, false
}

// Filter returns every field of the given type, in order.
func Filter(fields []Field, typeID uint8) []Field {
	var out []Field
	for _, f := range fields {
		if f.Type == typeID {
			out = append(out, f)
		}
	}
	return out
}
