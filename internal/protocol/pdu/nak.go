package pdu

import "fmt"

// SegmentRequest is a half-open byte range [Start, End) the receiver lacks.
// The pair (0, 0) requests the Metadata PDU.
type SegmentRequest struct {
	Start uint64
	End   uint64
}

// IsMetadata reports whether the request asks for Metadata.
func (s SegmentRequest) IsMetadata() bool {
	return s.Start == 0 && s.End == 0
}

// NAK lists missing data within a scope.
type NAK struct {
	StartOfScope uint64
	EndOfScope   uint64
	Segments     []SegmentRequest
}

func (*NAK) Kind() Kind { return KindNAK }

func (n *NAK) appendTo(dst []byte, h Header) ([]byte, error) {
	dst = append(dst, uint8(DirectiveNAK))
	dst, err := appendFSS(dst, n.StartOfScope, h, "start of scope")
	if err != nil {
		return nil, err
	}
	if dst, err = appendFSS(dst, n.EndOfScope, h, "end of scope"); err != nil {
		return nil, err
	}
	for _, seg := range n.Segments {
		if dst, err = appendFSS(dst, seg.Start, h, "segment start"); err != nil {
			return nil, err
		}
		if dst, err = appendFSS(dst, seg.End, h, "segment end"); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

func decodeNAK(r *bodyReader, h Header) (Body, error) {
	fss := h.fss()
	n := &NAK{}
	var err error
	if n.StartOfScope, err = r.uintN(fss, "start of scope"); err != nil {
		return nil, err
	}
	if n.EndOfScope, err = r.uintN(fss, "end of scope"); err != nil {
		return nil, err
	}
	if r.remaining()%(2*fss) != 0 {
		return nil, decodeErr(LengthMismatch, "nak: %d bytes is not a whole number of segment requests", r.remaining())
	}
	for r.remaining() > 0 {
		start, _ := r.uintN(fss, "segment start")
		end, _ := r.uintN(fss, "segment end")
		if end < start {
			return nil, decodeErr(InvalidField, "nak: segment end %d before start %d", end, start)
		}
		n.Segments = append(n.Segments, SegmentRequest{Start: start, End: end})
	}
	return n, nil
}

func (n *NAK) String() string {
	return fmt.Sprintf("NAK[scope=%d..%d segments=%v]", n.StartOfScope, n.EndOfScope, n.Segments)
}
