package pdu

import (
	"fmt"

	"github.com/danmuck/cfdp/internal/protocol/checksum"
	"github.com/danmuck/cfdp/internal/protocol/tlv"
)

// Metadata opens a transfer and describes the file.
type Metadata struct {
	ClosureRequested bool
	Checksum         checksum.Type
	FileSize         uint64
	SourceFile       string
	DestinationFile  string
	// Options holds filestore requests, messages to user and any other
	// TLVs in wire order.
	Options []tlv.Field
}

func (*Metadata) Kind() Kind { return KindMetadata }

// FilestoreRequests decodes the filestore request options in order.
func (m *Metadata) FilestoreRequests() ([]tlv.FilestoreRequest, error) {
	var out []tlv.FilestoreRequest
	for _, f := range tlv.Filter(m.Options, tlv.TypeFilestoreRequest) {
		req, err := tlv.ParseFilestoreRequest(f)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

func (m *Metadata) appendTo(dst []byte, h Header) ([]byte, error) {
	b := uint8(m.Checksum) & 0x0F
	if m.ClosureRequested {
		b |= 0x40
	}
	dst = append(dst, uint8(DirectiveMetadata), b)
	dst, err := appendFSS(dst, m.FileSize, h, "file size")
	if err != nil {
		return nil, err
	}
	if dst, err = tlv.AppendLV(dst, []byte(m.SourceFile)); err != nil {
		return nil, err
	}
	if dst, err = tlv.AppendLV(dst, []byte(m.DestinationFile)); err != nil {
		return nil, err
	}
	opts, err := tlv.EncodeFields(m.Options)
	if err != nil {
		return nil, err
	}
	return append(dst, opts...), nil
}

func decodeMetadata(r *bodyReader, h Header) (Body, error) {
	b, err := r.u8("flags")
	if err != nil {
		return nil, err
	}
	m := &Metadata{
		ClosureRequested: b&0x40 != 0,
		Checksum:         checksum.Type(b & 0x0F),
	}
	if m.FileSize, err = r.uintN(h.fss(), "file size"); err != nil {
		return nil, err
	}
	src, err := r.lv("source filename")
	if err != nil {
		return nil, err
	}
	dst, err := r.lv("destination filename")
	if err != nil {
		return nil, err
	}
	m.SourceFile, m.DestinationFile = string(src), string(dst)
	if m.Options, err = tlv.DecodeFields(r.rest()); err != nil {
		return nil, decodeErr(InvalidField, "metadata options: %v", err)
	}
	return m, nil
}

func (m *Metadata) String() string {
	return fmt.Sprintf("Metadata[size=%d checksum=%s dst=%q closure=%t options=%d]",
		m.FileSize, m.Checksum, m.DestinationFile, m.ClosureRequested, len(m.Options))
}
