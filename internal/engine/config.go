package engine

import (
	"fmt"
	"time"

	"github.com/danmuck/cfdp/internal/protocol/checksum"
	"github.com/danmuck/cfdp/internal/protocol/pdu"
	"github.com/danmuck/cfdp/internal/transfer"
)

// Config defines the local entity and its protocol defaults.
type Config struct {
	EntityID           pdu.EntityID
	DefaultDestination pdu.EntityID
	Mode               pdu.TransmissionMode

	EntityIDLength uint8
	SequenceLength uint8
	CRC            bool

	SegmentSize int
	Checksum    checksum.Type
	// MaxFileSize caps incoming files; larger ones end with FileSizeError.
	MaxFileSize uint64

	AckTimeout        time.Duration
	AckLimit          int
	NakTimeout        time.Duration
	NakLimit          int
	InactivityTimeout time.Duration
	BackoffMultiplier float64
	BackoffMax        time.Duration

	// InboxSize bounds queued inbound PDUs per transaction; overflow is
	// dropped. OutboundSize bounds encoded PDUs awaiting the sink.
	InboxSize    int
	OutboundSize int
}

// DefaultConfig returns engine defaults. EntityID has no default.
func DefaultConfig() Config {
	t := transfer.DefaultConfig()
	return Config{
		Mode:              pdu.Acknowledged,
		EntityIDLength:    t.Header.EntityIDLength,
		SequenceLength:    t.Header.SequenceLength,
		SegmentSize:       t.SegmentSize,
		Checksum:          t.Checksum,
		MaxFileSize:       t.MaxFileSize,
		AckTimeout:        t.AckTimeout,
		AckLimit:          t.AckLimit,
		NakTimeout:        t.NakTimeout,
		NakLimit:          t.NakLimit,
		InactivityTimeout: t.InactivityTimeout,
		BackoffMultiplier: t.Backoff.Multiplier,
		BackoffMax:        t.Backoff.MaxDelay,
		InboxSize:         256,
		OutboundSize:      1024,
	}
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.EntityIDLength == 0 {
		c.EntityIDLength = d.EntityIDLength
	}
	if c.SequenceLength == 0 {
		c.SequenceLength = d.SequenceLength
	}
	if c.SegmentSize <= 0 {
		c.SegmentSize = d.SegmentSize
	}
	if c.MaxFileSize == 0 {
		c.MaxFileSize = d.MaxFileSize
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = d.AckTimeout
	}
	if c.NakTimeout <= 0 {
		c.NakTimeout = d.NakTimeout
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = d.InactivityTimeout
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = d.BackoffMax
	}
	if c.InboxSize <= 0 {
		c.InboxSize = d.InboxSize
	}
	if c.OutboundSize <= 0 {
		c.OutboundSize = d.OutboundSize
	}
	return c
}

// Validate rejects configurations the codec could not carry.
func (c Config) Validate() error {
	if c.EntityID == 0 {
		return fmt.Errorf("%w: entity_id is required", ErrInvalidConfig)
	}
	if c.EntityIDLength < 1 || c.EntityIDLength > 8 {
		return fmt.Errorf("%w: entity_id_length %d not in 1..8", ErrInvalidConfig, c.EntityIDLength)
	}
	if c.SequenceLength < 1 || c.SequenceLength > 8 {
		return fmt.Errorf("%w: sequence_number_length %d not in 1..8", ErrInvalidConfig, c.SequenceLength)
	}
	if pdu.MinWidth(uint64(c.EntityID)) > c.EntityIDLength {
		return fmt.Errorf("%w: entity_id %d does not fit %d bytes", ErrInvalidConfig, c.EntityID, c.EntityIDLength)
	}
	if c.DefaultDestination == c.EntityID {
		return fmt.Errorf("%w: default_destination is the local entity", ErrInvalidConfig)
	}
	if !c.Checksum.Supported() {
		return fmt.Errorf("%w: checksum %s", ErrInvalidConfig, c.Checksum)
	}
	if c.Mode > pdu.Unacknowledged {
		return fmt.Errorf("%w: mode %d", ErrInvalidConfig, c.Mode)
	}
	if c.SegmentSize > pdu.MaxFileDataLen {
		return fmt.Errorf("%w: segment_size %d exceeds %d", ErrInvalidConfig, c.SegmentSize, pdu.MaxFileDataLen)
	}
	if c.AckLimit < 0 || c.NakLimit < 0 {
		return fmt.Errorf("%w: retry limits must not be negative", ErrInvalidConfig)
	}
	return nil
}

func (c Config) transferConfig() transfer.Config {
	return transfer.Config{
		LocalEntity: c.EntityID,
		Header: pdu.HeaderConfig{
			EntityIDLength: c.EntityIDLength,
			SequenceLength: c.SequenceLength,
			CRC:            c.CRC,
		},
		SegmentSize:       c.SegmentSize,
		Checksum:          c.Checksum,
		MaxFileSize:       c.MaxFileSize,
		AckTimeout:        c.AckTimeout,
		AckLimit:          c.AckLimit,
		NakTimeout:        c.NakTimeout,
		NakLimit:          c.NakLimit,
		InactivityTimeout: c.InactivityTimeout,
		Backoff: transfer.BackoffConfig{
			Multiplier: c.BackoffMultiplier,
			MaxDelay:   c.BackoffMax,
		},
	}.WithDefaults()
}

// linger is how long a finished acknowledged sender keeps answering
// retransmitted Finished PDUs.
func (c Config) linger() time.Duration {
	return c.AckTimeout * time.Duration(c.AckLimit+1)
}
