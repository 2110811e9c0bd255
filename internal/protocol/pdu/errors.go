package pdu

import (
	"errors"
	"fmt"
)

var (
	ErrTooShort           = errors.New("pdu: buffer too short")
	ErrUnknownDirective   = errors.New("pdu: unknown directive code")
	ErrLengthMismatch     = errors.New("pdu: data field length mismatch")
	ErrUnsupportedVersion = errors.New("pdu: unsupported version")
	ErrInvalidField       = errors.New("pdu: invalid field")
	ErrCRCMismatch        = errors.New("pdu: crc mismatch")

	ErrFieldOverflow = errors.New("pdu: value does not fit field width")
	ErrNoBody        = errors.New("pdu: missing body")
	ErrBodyTooLarge  = errors.New("pdu: body exceeds data field length")
)

// DecodeErrorKind classifies malformed input.
type DecodeErrorKind uint8

const (
	TooShort DecodeErrorKind = iota + 1
	UnknownDirectiveCode
	LengthMismatch
	UnsupportedVersion
	InvalidField
	CRCMismatch
)

func (k DecodeErrorKind) String() string {
	switch k {
	case TooShort:
		return "too_short"
	case UnknownDirectiveCode:
		return "unknown_directive_code"
	case LengthMismatch:
		return "length_mismatch"
	case UnsupportedVersion:
		return "unsupported_version"
	case InvalidField:
		return "invalid_field"
	case CRCMismatch:
		return "crc_mismatch"
	default:
		return "unknown"
	}
}

func (k DecodeErrorKind) sentinel() error {
	switch k {
	case TooShort:
		return ErrTooShort
	case UnknownDirectiveCode:
		return ErrUnknownDirective
	case LengthMismatch:
		return ErrLengthMismatch
	case UnsupportedVersion:
		return ErrUnsupportedVersion
	case CRCMismatch:
		return ErrCRCMismatch
	default:
		return ErrInvalidField
	}
}

// DecodeError is returned by Decode for every malformed buffer.
type DecodeError struct {
	Kind   DecodeErrorKind
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return e.Kind.sentinel().Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.sentinel().Error(), e.Detail)
}

func (e *DecodeError) Unwrap() error {
	return e.Kind.sentinel()
}

func decodeErr(kind DecodeErrorKind, format string, args ...any) error {
	return &DecodeError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}
