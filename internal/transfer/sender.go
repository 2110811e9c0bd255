package transfer

import (
	"fmt"
	"time"

	"github.com/danmuck/cfdp/internal/filestore"
	"github.com/danmuck/cfdp/internal/protocol/checksum"
	"github.com/danmuck/cfdp/internal/protocol/pdu"
	"github.com/danmuck/cfdp/internal/protocol/tlv"
)

type sender struct {
	payload  []byte
	checksum uint32
	options  []tlv.Field
	// next is the first offset never sent.
	next           uint64
	resend         []Range
	resendMetadata bool
	eofAcked       bool
}

// NewSender builds the sending side of a Put request. The first Step emits
// Metadata.
func NewSender(cfg Config, id pdu.TransactionID, req PutRequest, emit Emitter) (*Transaction, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	target, err := filestore.Clean(req.TargetPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPutRequest, err)
	}
	sum, err := checksum.Compute(cfg.Checksum, req.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPutRequest, err)
	}
	opts, err := putOptions(target, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPutRequest, err)
	}

	t := newTransaction(cfg, id, RoleSender, req.Mode, req.Destination, emit)
	t.sourceFile = req.SourceFile
	t.destPath = target
	t.fileSize = uint64(len(req.Payload))
	t.largeFile = needsLargeFile(t.fileSize)
	t.checksumType = cfg.Checksum
	t.messages = append([]string(nil), req.Messages...)
	t.snd = &sender{
		payload:  req.Payload,
		checksum: sum,
		options:  opts,
	}
	return t, nil
}

// putOptions expresses the Put flags as filestore requests executed by the
// receiver before delivery.
func putOptions(target string, req PutRequest) ([]tlv.Field, error) {
	var reqs []tlv.FilestoreRequest
	if req.CreatePath {
		reqs = append(reqs, tlv.FilestoreRequest{Action: tlv.ActionCreateDirectory, First: filestore.Parent(target)})
	}
	if req.Overwrite {
		reqs = append(reqs, tlv.FilestoreRequest{Action: tlv.ActionDenyFile, First: target})
	}
	var out []tlv.Field
	for _, r := range reqs {
		f, err := r.Field()
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	for _, m := range req.Messages {
		out = append(out, tlv.Field{Type: tlv.TypeMessageToUser, Value: []byte(m)})
	}
	return out, nil
}

func (t *Transaction) metadata() *pdu.Metadata {
	return &pdu.Metadata{
		Checksum:        t.checksumType,
		FileSize:        t.fileSize,
		SourceFile:      t.sourceFile,
		DestinationFile: t.destPath,
		Options:         t.snd.options,
	}
}

func (t *Transaction) eof() *pdu.EOF {
	return &pdu.EOF{Condition: pdu.NoError, Checksum: t.snd.checksum, FileSize: t.fileSize}
}

func (t *Transaction) fileData(start, end uint64) *pdu.FileData {
	return &pdu.FileData{Offset: start, Data: t.snd.payload[start:end]}
}

func (t *Transaction) hasWork() bool {
	if t.role != RoleSender || t.state.Terminal() {
		return false
	}
	s := t.snd
	switch t.state {
	case StateMetadataPending, StateMetadataSent, StateTransferring:
		return true
	}
	return s.resendMetadata || len(s.resend) > 0
}

// stepSender emits Metadata, then file data in offset order, then EOF.
// Retransmissions requested by a NAK go ahead of new data. Nothing
// advances past a PDU that failed to go out.
func (t *Transaction) stepSender() {
	s := t.snd
	seg := uint64(t.cfg.SegmentSize)
	switch {
	case t.state == StateMetadataPending:
		if !t.emitBody(t.metadata()) {
			return
		}
		t.setState(StateMetadataSent)

	case s.resendMetadata:
		s.resendMetadata = false
		t.retransmissions++
		t.emitBody(t.metadata())

	case len(s.resend) > 0:
		r := s.resend[0]
		end := min(r.End, r.Start+seg)
		t.retransmissions++
		if !t.emitBody(t.fileData(r.Start, end)) {
			return
		}
		if end >= r.End {
			s.resend = s.resend[1:]
		} else {
			s.resend[0].Start = end
		}

	case s.next < t.fileSize:
		end := min(t.fileSize, s.next+seg)
		if !t.emitBody(t.fileData(s.next, end)) {
			return
		}
		s.next = end
		t.setState(StateTransferring)

	case t.state == StateMetadataSent || t.state == StateTransferring:
		if !t.emitBody(t.eof()) {
			return
		}
		t.setState(StateEOFSent)
		if t.mode == pdu.Unacknowledged {
			t.terminate(StateFinished, pdu.NoError)
			return
		}
		now := t.cfg.Now()
		t.out.queue(pdu.DirectiveEOF, now, now.Add(t.cfg.ackDelay(1)))
	}
}

func (t *Transaction) handleSender(p pdu.PDU) {
	s := t.snd
	switch body := p.Body.(type) {
	case *pdu.ACK:
		if body.Directive != pdu.DirectiveEOF || t.state != StateEOFSent {
			t.log.Warn().Str("ack", body.Directive.String()).Str("state", t.state.String()).Msg("transfer: unexpected ack")
			return
		}
		if !s.eofAcked {
			s.eofAcked = true
			t.out.remove(pdu.DirectiveEOF)
			t.armInactivity()
		}

	case *pdu.NAK:
		if t.mode == pdu.Unacknowledged {
			t.log.Warn().Msg("transfer: nak in unacknowledged mode ignored")
			return
		}
		t.queueResend(body)

	case *pdu.Finished:
		t.responses = body.Responses
		t.fileStatus = body.FileStatus
		if t.mode == pdu.Acknowledged {
			t.emitBody(&pdu.ACK{
				Directive:         pdu.DirectiveFinished,
				Subtype:           1,
				Condition:         body.Condition,
				TransactionStatus: pdu.TransactionTerminated,
			})
		}
		if body.Condition == pdu.NoError {
			t.terminate(StateFinished, pdu.NoError)
			return
		}
		t.terminate(StateCanceled, body.Condition)

	case *pdu.KeepAlive:
		t.peerProgress = body.Progress

	default:
		t.log.Warn().Str("pdu", p.Kind().String()).Msg("transfer: sender cannot handle pdu")
	}
}

func (t *Transaction) queueResend(n *pdu.NAK) {
	s := t.snd
	for _, seg := range n.Segments {
		if seg.IsMetadata() {
			s.resendMetadata = true
			continue
		}
		start, end := seg.Start, min(seg.End, t.fileSize)
		// Data never sent will go out in order anyway.
		end = min(end, s.next)
		if start >= end {
			continue
		}
		s.resend = append(s.resend, Range{Start: start, End: end})
	}
	t.log.Debug().Int("ranges", len(s.resend)).Bool("metadata", s.resendMetadata).Msg("transfer: nak queued retransmission")
}

func (t *Transaction) senderExpired(item PendingPDU, now time.Time) {
	if item.Directive != pdu.DirectiveEOF {
		t.out.remove(item.Directive)
		return
	}
	if item.Attempts > t.cfg.AckLimit {
		t.log.Warn().Int("attempts", item.Attempts).Msg("transfer: eof never acknowledged")
		t.terminate(StateCanceled, pdu.InactivityDetected)
		return
	}
	t.out.markAttempt(item.Directive, now, now.Add(t.cfg.ackDelay(item.Attempts+1)))
	t.retransmissions++
	t.emitBody(t.eof())
}
