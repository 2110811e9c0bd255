package pdu

import "fmt"

// Body is the closed set of PDU variants: *Metadata, *EOF, *Finished, *ACK,
// *NAK, *Prompt, *KeepAlive and *FileData.
type Body interface {
	Kind() Kind
	appendTo(dst []byte, h Header) ([]byte, error)
}

// PDU is one decoded wire message.
type PDU struct {
	Header Header
	Body   Body
}

func (p PDU) TransactionID() TransactionID {
	return p.Header.TransactionID()
}

func (p PDU) Kind() Kind {
	if p.Body == nil {
		return KindFileData
	}
	return p.Body.Kind()
}

func (p PDU) String() string {
	if s, ok := p.Body.(fmt.Stringer); ok {
		return fmt.Sprintf("%s %s", p.TransactionID(), s.String())
	}
	return fmt.Sprintf("%s %s", p.TransactionID(), p.Kind())
}

// directiveSpec declares how to parse one directive code. minBody excludes
// the directive code octet and is expressed for 4-byte file size fields;
// large file PDUs are checked by the decoder itself.
type directiveSpec struct {
	kind    Kind
	minBody int
	decode  func(*bodyReader, Header) (Body, error)
}

var directives = map[DirectiveCode]directiveSpec{
	DirectiveEOF:       {KindEOF, 1 + 4 + 4, decodeEOF},
	DirectiveFinished:  {KindFinished, 1, decodeFinished},
	DirectiveACK:       {KindACK, 2, decodeACK},
	DirectiveMetadata:  {KindMetadata, 1 + 4 + 1 + 1, decodeMetadata},
	DirectiveNAK:       {KindNAK, 4 + 4, decodeNAK},
	DirectivePrompt:    {KindPrompt, 1, decodePrompt},
	DirectiveKeepAlive: {KindKeepAlive, 4, decodeKeepAlive},
}

// Decode parses one complete PDU. It never panics; every malformed buffer
// yields a *DecodeError.
func Decode(buf []byte) (PDU, error) {
	h, err := parseHeader(buf)
	if err != nil {
		return PDU{}, err
	}
	body := buf[h.Len():]
	if len(body) != int(h.DataLength) {
		return PDU{}, decodeErr(LengthMismatch, "header declares %d bytes, buffer has %d", h.DataLength, len(body))
	}
	if h.CRC {
		if len(body) < crcLen {
			return PDU{}, decodeErr(TooShort, "crc flag set but data field is %d bytes", len(body))
		}
		end := len(buf) - crcLen
		want := uint16(buf[end])<<8 | uint16(buf[end+1])
		if got := CRC16(buf[:end]); got != want {
			return PDU{}, decodeErr(CRCMismatch, "got %#04x want %#04x", got, want)
		}
		body = body[:len(body)-crcLen]
	}

	if h.Type == TypeFileData {
		b, err := decodeFileData(&bodyReader{b: body, kind: KindFileData}, h)
		if err != nil {
			return PDU{}, err
		}
		return PDU{Header: h, Body: b}, nil
	}

	if len(body) < 1 {
		return PDU{}, decodeErr(TooShort, "file directive without directive code")
	}
	code := DirectiveCode(body[0])
	def, ok := directives[code]
	if !ok {
		return PDU{}, decodeErr(UnknownDirectiveCode, "code %#02x", uint8(code))
	}
	if len(body)-1 < def.minBody {
		return PDU{}, decodeErr(TooShort, "%s body needs %d bytes, have %d", def.kind, def.minBody, len(body)-1)
	}
	b, err := def.decode(&bodyReader{b: body, off: 1, kind: def.kind}, h)
	if err != nil {
		return PDU{}, err
	}
	return PDU{Header: h, Body: b}, nil
}

// Encode serializes p. The header type bit, data field length and CRC
// trailer are derived from the body; every other header field is written
// as given.
func Encode(p PDU) ([]byte, error) {
	if p.Body == nil {
		return nil, ErrNoBody
	}
	h := p.Header
	if p.Body.Kind() == KindFileData {
		h.Type = TypeFileData
	} else {
		h.Type = TypeFileDirective
	}
	if err := h.validateWidths(); err != nil {
		return nil, err
	}
	body, err := p.Body.appendTo(make([]byte, 0, 64), h)
	if err != nil {
		return nil, err
	}
	n := len(body)
	if h.CRC {
		n += crcLen
	}
	if n > 0xFFFF {
		return nil, fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, n)
	}
	h.DataLength = uint16(n)

	out := make([]byte, 0, h.Len()+n)
	out = appendHeader(out, h)
	out = append(out, body...)
	if h.CRC {
		sum := CRC16(out)
		out = append(out, uint8(sum>>8), uint8(sum))
	}
	return out, nil
}
