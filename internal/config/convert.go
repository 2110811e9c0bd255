package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/cfdp/internal/protocol/checksum"
	"github.com/danmuck/cfdp/internal/protocol/pdu"
	gotoml "github.com/pelletier/go-toml/v2"
)

// overlay applies the keys defined in raw on top of cfg.
func overlay(cfg Config, raw File, meta toml.MetaData) (Config, error) {
	e := &cfg.Engine
	if meta.IsDefined("entity_id") {
		e.EntityID = pdu.EntityID(raw.EntityID)
	}
	if meta.IsDefined("default_destination") {
		e.DefaultDestination = pdu.EntityID(raw.DefaultDestination)
	}
	if meta.IsDefined("entity_id_length") {
		e.EntityIDLength = raw.EntityIDLength
	}
	if meta.IsDefined("sequence_number_length") {
		e.SequenceLength = raw.SequenceNumberLength
	}
	if meta.IsDefined("segment_size") {
		e.SegmentSize = raw.SegmentSize
	}
	if meta.IsDefined("max_file_size") {
		e.MaxFileSize = raw.MaxFileSize
	}
	if meta.IsDefined("mode") {
		m, err := pdu.ParseTransmissionMode(raw.Mode)
		if err != nil {
			return cfg, fmt.Errorf("%w: mode: %v", ErrInvalid, err)
		}
		e.Mode = m
	}
	if meta.IsDefined("checksum") {
		c, err := checksum.ParseType(raw.Checksum)
		if err != nil {
			return cfg, fmt.Errorf("%w: checksum: %v", ErrInvalid, err)
		}
		e.Checksum = c
	}
	if meta.IsDefined("crc") {
		e.CRC = raw.CRC
	}
	if meta.IsDefined("ack_limit") {
		e.AckLimit = raw.AckLimit
	}
	if meta.IsDefined("nak_limit") {
		e.NakLimit = raw.NakLimit
	}
	if meta.IsDefined("inbox_size") {
		e.InboxSize = raw.InboxSize
	}
	if meta.IsDefined("outbound_size") {
		e.OutboundSize = raw.OutboundSize
	}
	if meta.IsDefined("backoff_multiplier") {
		e.BackoffMultiplier = raw.BackoffMultiplier
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"ack_timeout", raw.AckTimeout, &e.AckTimeout},
		{"nak_timeout", raw.NakTimeout, &e.NakTimeout},
		{"inactivity_timeout", raw.InactivityTimeout, &e.InactivityTimeout},
		{"backoff_max", raw.BackoffMax, &e.BackoffMax},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil || v <= 0 {
			return cfg, fmt.Errorf("%w: %s %q is not a positive duration", ErrInvalid, d.key, d.raw)
		}
		*d.dst = v
	}

	if meta.IsDefined("transport", "listen") {
		cfg.Transport.Listen = strings.TrimSpace(raw.Transport.Listen)
	}
	if meta.IsDefined("transport", "remote") {
		cfg.Transport.Remote = strings.TrimSpace(raw.Transport.Remote)
	}
	if meta.IsDefined("api", "addr") {
		cfg.API.Addr = strings.TrimSpace(raw.API.Addr)
	}
	if meta.IsDefined("api", "token") {
		cfg.API.Token = strings.TrimSpace(raw.API.Token)
	}
	if meta.IsDefined("api", "cors_origins") {
		cfg.API.CorsOrigins = raw.API.CorsOrigins
	}
	if meta.IsDefined("filestore", "root") {
		cfg.Filestore.Root = strings.TrimSpace(raw.Filestore.Root)
	}
	if meta.IsDefined("archive", "path") {
		cfg.Archive.Path = strings.TrimSpace(raw.Archive.Path)
	}
	return cfg, nil
}

// ToFile is the inverse of overlay with every key populated.
func ToFile(cfg Config) File {
	e := cfg.Engine.WithDefaults()
	return File{
		EntityID:             uint64(e.EntityID),
		DefaultDestination:   uint64(e.DefaultDestination),
		EntityIDLength:       e.EntityIDLength,
		SequenceNumberLength: e.SequenceLength,
		SegmentSize:          e.SegmentSize,
		MaxFileSize:          e.MaxFileSize,
		Mode:                 e.Mode.String(),
		Checksum:             e.Checksum.String(),
		CRC:                  e.CRC,
		AckTimeout:           e.AckTimeout.String(),
		AckLimit:             e.AckLimit,
		NakTimeout:           e.NakTimeout.String(),
		NakLimit:             e.NakLimit,
		InactivityTimeout:    e.InactivityTimeout.String(),
		InboxSize:            e.InboxSize,
		OutboundSize:         e.OutboundSize,
		BackoffMultiplier:    e.BackoffMultiplier,
		BackoffMax:           e.BackoffMax.String(),
		Transport:            cfg.Transport,
		API:                  cfg.API,
		Filestore:            cfg.Filestore,
		Archive:              cfg.Archive,
	}
}

// Render returns the effective configuration as TOML.
func Render(cfg Config) ([]byte, error) {
	b, err := gotoml.Marshal(ToFile(cfg))
	if err != nil {
		return nil, fmt.Errorf("config render: %w", err)
	}
	return b, nil
}
