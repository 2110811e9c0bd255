// Package checksum implements the CFDP file checksum algorithms carried in
// Metadata and EOF PDUs.
package checksum

import (
	"errors"
	"fmt"
	"hash/crc32"
	"strings"
)

var ErrUnsupportedType = errors.New("checksum: unsupported type")

// Type is the four-bit checksum type of a Metadata PDU.
type Type uint8

const (
	Modular Type = 0
	CRC32C  Type = 2
	CRC32   Type = 3
	Null    Type = 15
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func (t Type) String() string {
	switch t {
	case Modular:
		return "modular"
	case CRC32C:
		return "crc32c"
	case CRC32:
		return "crc32"
	case Null:
		return "null"
	default:
		return fmt.Sprintf("checksum(%d)", uint8(t))
	}
}

func (t Type) Supported() bool {
	switch t {
	case Modular, CRC32C, CRC32, Null:
		return true
	}
	return false
}

// ParseType resolves a configured checksum name.
func ParseType(raw string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "modular":
		return Modular, nil
	case "crc32c":
		return CRC32C, nil
	case "crc32":
		return CRC32, nil
	case "null", "none":
		return Null, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedType, raw)
	}
}

// Compute returns the checksum of a complete file image.
func Compute(t Type, data []byte) (uint32, error) {
	switch t {
	case Modular:
		return AddModular(0, 0, data), nil
	case CRC32C:
		return crc32.Checksum(data, castagnoli), nil
	case CRC32:
		return crc32.ChecksumIEEE(data), nil
	case Null:
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedType, uint8(t))
	}
}

// AddModular folds data located at file offset into a running modular
// checksum. Words are aligned to the start of the file, so segments may be
// added in any order.
func AddModular(sum uint32, offset uint64, data []byte) uint32 {
	for i, b := range data {
		shift := 8 * (3 - (offset+uint64(i))%4)
		sum += uint32(b) << shift
	}
	return sum
}
