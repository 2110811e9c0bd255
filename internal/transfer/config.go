package transfer

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/danmuck/cfdp/internal/protocol/checksum"
	"github.com/danmuck/cfdp/internal/protocol/pdu"
)

// Config carries the per-entity protocol parameters a Transaction needs.
type Config struct {
	LocalEntity pdu.EntityID
	Header      pdu.HeaderConfig
	SegmentSize int
	Checksum    checksum.Type

	// AckTimeout is the base wait for ACK(EOF) or ACK(Finished); AckLimit
	// counts retransmissions after the first send.
	AckTimeout time.Duration
	AckLimit   int
	NakTimeout time.Duration
	NakLimit   int
	// InactivityTimeout bounds silence from the peer while a response is
	// expected but no retransmission is pending.
	InactivityTimeout time.Duration
	Backoff           BackoffConfig
	// MaxFileSize bounds what a receiver accepts; larger transfers end
	// with FileSizeError.
	MaxFileSize uint64

	Now  func() time.Time
	Rand *rand.Rand
}

// DefaultConfig returns the parameters used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		Header:            pdu.HeaderConfig{EntityIDLength: 2, SequenceLength: 4},
		SegmentSize:       1024,
		Checksum:          checksum.Modular,
		AckTimeout:        2 * time.Second,
		AckLimit:          4,
		NakTimeout:        2 * time.Second,
		NakLimit:          4,
		InactivityTimeout: 30 * time.Second,
		Backoff: BackoffConfig{
			Multiplier: 1.5,
			MaxDelay:   30 * time.Second,
		},
		MaxFileSize: 1 << 30,
		Now:         time.Now,
	}
}

// WithDefaults fills zero fields from DefaultConfig. Limits of zero are
// kept: zero retransmissions is a valid setting.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Header.EntityIDLength == 0 {
		c.Header.EntityIDLength = d.Header.EntityIDLength
	}
	if c.Header.SequenceLength == 0 {
		c.Header.SequenceLength = d.Header.SequenceLength
	}
	if c.SegmentSize <= 0 {
		c.SegmentSize = d.SegmentSize
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
	if c.AckLimit < 0 {
		c.AckLimit = 0
	}
	if c.NakLimit < 0 {
		c.NakLimit = 0
	}
	if c.Backoff.Multiplier == 0 {
		c.Backoff = d.Backoff
	}
	if c.MaxFileSize == 0 {
		c.MaxFileSize = d.MaxFileSize
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Validate rejects parameters no transaction could run with.
func (c Config) Validate() error {
	if c.SegmentSize > pdu.MaxFileDataLen {
		return fmt.Errorf("%w: segment size %d exceeds %d", ErrInvalidConfig, c.SegmentSize, pdu.MaxFileDataLen)
	}
	return nil
}

func (c Config) ackDelay(attempt int) time.Duration {
	return NextBackoffDelay(c.AckTimeout, c.Backoff, attempt, c.Rand)
}

func (c Config) nakDelay(attempt int) time.Duration {
	return NextBackoffDelay(c.NakTimeout, c.Backoff, attempt, c.Rand)
}
