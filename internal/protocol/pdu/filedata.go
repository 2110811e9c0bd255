package pdu

import "fmt"

// MaxFileDataLen is the largest File Data payload that fits the 16-bit data
// field length next to an 8-byte offset and a CRC trailer.
const MaxFileDataLen = 0xFFFF - 8 - crcLen

// FileData carries one contiguous byte range of the file.
type FileData struct {
	// RecordContinuation and SegmentMetadata are only on the wire when the
	// header segment metadata flag is set.
	RecordContinuation uint8
	SegmentMetadata    []byte
	Offset             uint64
	Data               []byte
}

func (*FileData) Kind() Kind { return KindFileData }

// End is the offset one past the last byte carried.
func (f *FileData) End() uint64 {
	return f.Offset + uint64(len(f.Data))
}

func (f *FileData) appendTo(dst []byte, h Header) ([]byte, error) {
	if h.SegmentMetadata {
		if len(f.SegmentMetadata) > 63 || f.RecordContinuation > 3 {
			return nil, fmt.Errorf("%w: segment metadata len=%d continuation=%d",
				ErrFieldOverflow, len(f.SegmentMetadata), f.RecordContinuation)
		}
		dst = append(dst, f.RecordContinuation<<6|uint8(len(f.SegmentMetadata)))
		dst = append(dst, f.SegmentMetadata...)
	}
	dst, err := appendFSS(dst, f.Offset, h, "offset")
	if err != nil {
		return nil, err
	}
	return append(dst, f.Data...), nil
}

func decodeFileData(r *bodyReader, h Header) (Body, error) {
	f := &FileData{}
	if h.SegmentMetadata {
		b, err := r.u8("segment metadata")
		if err != nil {
			return nil, err
		}
		f.RecordContinuation = b >> 6
		l := int(b & 0x3F)
		if err := r.need(l, "segment metadata"); err != nil {
			return nil, err
		}
		f.SegmentMetadata = r.bytes(l)
	}
	var err error
	if f.Offset, err = r.uintN(h.fss(), "offset"); err != nil {
		return nil, err
	}
	f.Data = r.rest()
	return f, nil
}

func (f *FileData) String() string {
	return fmt.Sprintf("FileData[offset=%d len=%d]", f.Offset, len(f.Data))
}
