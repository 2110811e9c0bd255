package pdu

// bodyReader walks a PDU body, turning short reads into DecodeErrors.
type bodyReader struct {
	b    []byte
	off  int
	kind Kind
}

func (r *bodyReader) remaining() int {
	return len(r.b) - r.off
}

func (r *bodyReader) need(n int, field string) error {
	if r.remaining() < n {
		return decodeErr(TooShort, "%s: %s needs %d bytes, have %d", r.kind, field, n, r.remaining())
	}
	return nil
}

func (r *bodyReader) u8(field string) (uint8, error) {
	if err := r.need(1, field); err != nil {
		return 0, err
	}
	v := r.b[r.off]
	r.off++
	return v, nil
}

func (r *bodyReader) uintN(n int, field string) (uint64, error) {
	if err := r.need(n, field); err != nil {
		return 0, err
	}
	v := readUintN(r.b[r.off:], n)
	r.off += n
	return v, nil
}

func (r *bodyReader) lv(field string) ([]byte, error) {
	l, err := r.u8(field)
	if err != nil {
		return nil, err
	}
	if err := r.need(int(l), field); err != nil {
		return nil, err
	}
	v := r.bytes(int(l))
	return v, nil
}

// bytes copies the next n bytes; empty reads return nil.
func (r *bodyReader) bytes(n int) []byte {
	if n == 0 {
		return nil
	}
	v := make([]byte, n)
	copy(v, r.b[r.off:r.off+n])
	r.off += n
	return v
}

func (r *bodyReader) rest() []byte {
	return r.bytes(r.remaining())
}

func appendFSS(dst []byte, v uint64, h Header, field string) ([]byte, error) {
	n := h.fss()
	if !fits(v, n) {
		return nil, fieldOverflow(field, v, n)
	}
	return appendUintN(dst, v, n), nil
}
