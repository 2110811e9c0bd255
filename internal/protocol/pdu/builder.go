package pdu

// HeaderConfig fixes the per-entity header layout.
type HeaderConfig struct {
	EntityIDLength uint8
	SequenceLength uint8
	CRC            bool
	LargeFile      bool
}

// NewHeader builds the header for one PDU of transaction id travelling in
// direction dir. Widths default to the smallest that fit the ids.
func NewHeader(cfg HeaderConfig, id TransactionID, destination EntityID, mode TransmissionMode, dir Direction) Header {
	eid := cfg.EntityIDLength
	if w := MinWidth(uint64(max(id.Source, destination))); eid < w {
		eid = w
	}
	seq := cfg.SequenceLength
	if w := MinWidth(id.Sequence); seq < w {
		seq = w
	}
	return Header{
		Version:        Version,
		Direction:      dir,
		Mode:           mode,
		CRC:            cfg.CRC,
		LargeFile:      cfg.LargeFile,
		EntityIDLength: eid,
		SequenceLength: seq,
		SourceID:       id.Source,
		Sequence:       id.Sequence,
		DestinationID:  destination,
	}
}
