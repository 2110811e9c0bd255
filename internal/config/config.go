package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/cfdp/internal/engine"
	"github.com/mitchellh/go-homedir"
)

var ErrInvalid = errors.New("config: invalid")

// File is the cfdpd config.toml key mapping. Durations are Go duration
// strings ("2s", "150ms").
type File struct {
	EntityID             uint64  `toml:"entity_id"`
	DefaultDestination   uint64  `toml:"default_destination"`
	EntityIDLength       uint8   `toml:"entity_id_length"`
	SequenceNumberLength uint8   `toml:"sequence_number_length"`
	SegmentSize          int     `toml:"segment_size"`
	MaxFileSize          uint64  `toml:"max_file_size"`
	Mode                 string  `toml:"mode"`
	Checksum             string  `toml:"checksum"`
	CRC                  bool    `toml:"crc"`
	AckTimeout           string  `toml:"ack_timeout"`
	AckLimit             int     `toml:"ack_limit"`
	NakTimeout           string  `toml:"nak_timeout"`
	NakLimit             int     `toml:"nak_limit"`
	InactivityTimeout    string  `toml:"inactivity_timeout"`
	InboxSize            int     `toml:"inbox_size"`
	OutboundSize         int     `toml:"outbound_size"`
	BackoffMultiplier    float64 `toml:"backoff_multiplier"`
	BackoffMax           string  `toml:"backoff_max"`

	Transport TransportConfig `toml:"transport"`
	API       APIConfig       `toml:"api"`
	Filestore FilestoreConfig `toml:"filestore"`
	Archive   ArchiveConfig   `toml:"archive"`
}

type TransportConfig struct {
	Listen string `toml:"listen"`
	Remote string `toml:"remote"`
}

type APIConfig struct {
	Addr        string   `toml:"addr"`
	Token       string   `toml:"token"`
	CorsOrigins []string `toml:"cors_origins"`
}

type FilestoreConfig struct {
	Root string `toml:"root"`
}

// ArchiveConfig enables transaction history when Path is set.
type ArchiveConfig struct {
	Path string `toml:"path"`
}

// Config is the resolved daemon configuration.
type Config struct {
	Engine    engine.Config
	Transport TransportConfig
	API       APIConfig
	Filestore FilestoreConfig
	Archive   ArchiveConfig
}

func Default() Config {
	return Config{
		Engine:    engine.DefaultConfig(),
		Transport: TransportConfig{Listen: ":4560"},
		API:       APIConfig{Addr: "127.0.0.1:4561"},
		Filestore: FilestoreConfig{Root: "~/.cfdp/files"},
	}
}

// Load decodes path over Default. Keys the decoder did not recognize are
// returned as warnings rather than errors.
func Load(path string) (Config, []string, error) {
	var raw File
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, nil, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg, err := overlay(Default(), raw, meta)
	if err != nil {
		return Config{}, nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, nil, fmt.Errorf("config %s: %w", path, err)
	}
	var warnings []string
	for _, key := range meta.Undecoded() {
		warnings = append(warnings, fmt.Sprintf("unknown key %q", key.String()))
	}
	return cfg, warnings, nil
}

func Validate(cfg Config) error {
	if err := cfg.Engine.WithDefaults().Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Transport.Listen) == "" {
		return fmt.Errorf("%w: transport.listen is required", ErrInvalid)
	}
	if strings.TrimSpace(cfg.Filestore.Root) == "" {
		return fmt.Errorf("%w: filestore.root is required", ErrInvalid)
	}
	for i, origin := range cfg.API.CorsOrigins {
		if strings.TrimSpace(origin) == "" {
			return fmt.Errorf("%w: api.cors_origins[%d] is empty", ErrInvalid, i)
		}
	}
	return nil
}

// ExpandPaths resolves a leading ~ in filesystem paths.
func (c Config) ExpandPaths() (Config, error) {
	root, err := homedir.Expand(c.Filestore.Root)
	if err != nil {
		return c, fmt.Errorf("config: filestore.root: %w", err)
	}
	c.Filestore.Root = root
	if c.Archive.Path != "" {
		p, err := homedir.Expand(c.Archive.Path)
		if err != nil {
			return c, fmt.Errorf("config: archive.path: %w", err)
		}
		c.Archive.Path = p
	}
	return c, nil
}
