package pdu

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is the protocol version written by Encode (CFDP version 2).
const Version uint8 = 1

// fixedHeaderLen covers the flag octet, data field length and the
// length-of-ids octet.
const fixedHeaderLen = 4

// MinHeaderLen is the shortest possible header: one-byte ids and sequence number.
const MinHeaderLen = fixedHeaderLen + 3

// EntityID names a protocol endpoint.
type EntityID uint64

// TransactionID is unique per source entity.
type TransactionID struct {
	Source   EntityID
	Sequence uint64
}

func (id TransactionID) String() string {
	return fmt.Sprintf("%d-%d", id.Source, id.Sequence)
}

// ParseTransactionID accepts "<source>-<sequence>". A bare sequence number is
// resolved against defaultSource.
func ParseTransactionID(raw string, defaultSource EntityID) (TransactionID, error) {
	raw = strings.TrimSpace(raw)
	src, seq, found := strings.Cut(raw, "-")
	if !found {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return TransactionID{}, fmt.Errorf("pdu: invalid transaction id %q", raw)
		}
		return TransactionID{Source: defaultSource, Sequence: n}, nil
	}
	s, err := strconv.ParseUint(src, 10, 64)
	if err != nil {
		return TransactionID{}, fmt.Errorf("pdu: invalid transaction source %q", raw)
	}
	n, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return TransactionID{}, fmt.Errorf("pdu: invalid transaction sequence %q", raw)
	}
	return TransactionID{Source: EntityID(s), Sequence: n}, nil
}

// PDUType is the header type bit.
type PDUType uint8

const (
	TypeFileDirective PDUType = 0
	TypeFileData      PDUType = 1
)

// Direction is the header direction bit.
type Direction uint8

const (
	TowardReceiver Direction = 0
	TowardSender   Direction = 1
)

func (d Direction) String() string {
	if d == TowardSender {
		return "toward_sender"
	}
	return "toward_receiver"
}

// TransmissionMode is the header transmission mode bit.
type TransmissionMode uint8

const (
	Acknowledged   TransmissionMode = 0
	Unacknowledged TransmissionMode = 1
)

func (m TransmissionMode) String() string {
	if m == Unacknowledged {
		return "unacknowledged"
	}
	return "acknowledged"
}

// ParseTransmissionMode resolves a configured mode name.
func ParseTransmissionMode(raw string) (TransmissionMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "acknowledged", "ack", "class2":
		return Acknowledged, nil
	case "unacknowledged", "unack", "class1":
		return Unacknowledged, nil
	default:
		return 0, fmt.Errorf("pdu: unknown transmission mode %q", raw)
	}
}

// Header is the fixed CFDP PDU header.
type Header struct {
	Version         uint8
	Type            PDUType
	Direction       Direction
	Mode            TransmissionMode
	CRC             bool
	LargeFile       bool
	DataLength      uint16
	SegmentControl  bool
	SegmentMetadata bool
	// EntityIDLength and SequenceLength are octet widths in 1..8.
	EntityIDLength uint8
	SequenceLength uint8
	SourceID       EntityID
	Sequence       uint64
	DestinationID  EntityID
}

// TransactionID returns the id shared by every PDU of one transfer.
func (h Header) TransactionID() TransactionID {
	return TransactionID{Source: h.SourceID, Sequence: h.Sequence}
}

// Len is the encoded header size.
func (h Header) Len() int {
	return fixedHeaderLen + 2*int(h.EntityIDLength) + int(h.SequenceLength)
}

func (h Header) fss() int {
	if h.LargeFile {
		return 8
	}
	return 4
}

func (h Header) validateWidths() error {
	if h.EntityIDLength < 1 || h.EntityIDLength > 8 {
		return fmt.Errorf("%w: entity id length %d", ErrInvalidField, h.EntityIDLength)
	}
	if h.SequenceLength < 1 || h.SequenceLength > 8 {
		return fmt.Errorf("%w: sequence length %d", ErrInvalidField, h.SequenceLength)
	}
	if !fits(uint64(h.SourceID), int(h.EntityIDLength)) {
		return fmt.Errorf("%w: source id %d in %d bytes", ErrFieldOverflow, h.SourceID, h.EntityIDLength)
	}
	if !fits(uint64(h.DestinationID), int(h.EntityIDLength)) {
		return fmt.Errorf("%w: destination id %d in %d bytes", ErrFieldOverflow, h.DestinationID, h.EntityIDLength)
	}
	if !fits(h.Sequence, int(h.SequenceLength)) {
		return fmt.Errorf("%w: sequence %d in %d bytes", ErrFieldOverflow, h.Sequence, h.SequenceLength)
	}
	return nil
}

func appendHeader(dst []byte, h Header) []byte {
	b0 := (h.Version&0x07)<<5 | uint8(h.Type&1)<<4 | uint8(h.Direction&1)<<3 | uint8(h.Mode&1)<<2
	if h.CRC {
		b0 |= 0x02
	}
	if h.LargeFile {
		b0 |= 0x01
	}
	b3 := (h.EntityIDLength-1)<<4 | (h.SequenceLength - 1)
	if h.SegmentControl {
		b3 |= 0x80
	}
	if h.SegmentMetadata {
		b3 |= 0x08
	}
	dst = append(dst, b0, uint8(h.DataLength>>8), uint8(h.DataLength), b3)
	dst = appendUintN(dst, uint64(h.SourceID), int(h.EntityIDLength))
	dst = appendUintN(dst, h.Sequence, int(h.SequenceLength))
	dst = appendUintN(dst, uint64(h.DestinationID), int(h.EntityIDLength))
	return dst
}

func parseHeader(buf []byte) (Header, error) {
	if len(buf) < MinHeaderLen {
		return Header{}, decodeErr(TooShort, "got %d bytes, need at least %d", len(buf), MinHeaderLen)
	}
	b0, b3 := buf[0], buf[3]
	h := Header{
		Version:         b0 >> 5,
		Type:            PDUType(b0 >> 4 & 1),
		Direction:       Direction(b0 >> 3 & 1),
		Mode:            TransmissionMode(b0 >> 2 & 1),
		CRC:             b0&0x02 != 0,
		LargeFile:       b0&0x01 != 0,
		DataLength:      uint16(buf[1])<<8 | uint16(buf[2]),
		SegmentControl:  b3&0x80 != 0,
		SegmentMetadata: b3&0x08 != 0,
		EntityIDLength:  (b3>>4)&0x07 + 1,
		SequenceLength:  b3&0x07 + 1,
	}
	if h.Version > Version {
		return Header{}, decodeErr(UnsupportedVersion, "version %d", h.Version)
	}
	if len(buf) < h.Len() {
		return Header{}, decodeErr(TooShort, "got %d bytes, header needs %d", len(buf), h.Len())
	}
	off := fixedHeaderLen
	eid, seq := int(h.EntityIDLength), int(h.SequenceLength)
	h.SourceID = EntityID(readUintN(buf[off:], eid))
	off += eid
	h.Sequence = readUintN(buf[off:], seq)
	off += seq
	h.DestinationID = EntityID(readUintN(buf[off:], eid))
	return h, nil
}

func appendUintN(dst []byte, v uint64, n int) []byte {
	for i := n - 1; i >= 0; i-- {
		dst = append(dst, uint8(v>>(8*uint(i))))
	}
	return dst
}

func readUintN(b []byte, n int) uint64 {
	var v uint64
	for i := 0; i < n; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func fits(v uint64, n int) bool {
	if n >= 8 {
		return true
	}
	return v < 1<<(8*uint(n))
}

// MinWidth is the smallest octet width able to carry v.
func MinWidth(v uint64) uint8 {
	n := uint8(1)
	for n < 8 && !fits(v, int(n)) {
		n++
	}
	return n
}
