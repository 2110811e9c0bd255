package transfer

import (
	"fmt"
	"math"
	"time"

	"github.com/danmuck/cfdp/internal/filestore"
	"github.com/danmuck/cfdp/internal/protocol/checksum"
	"github.com/danmuck/cfdp/internal/protocol/pdu"
	"github.com/danmuck/cfdp/internal/protocol/tlv"
)

type receiver struct {
	store filestore.Store
	// segments holds received bytes keyed by offset. Entries never overlap,
	// so memory follows what arrived rather than the declared size.
	segments map[uint64][]byte
	ranges   RangeSet
	requests []tlv.FilestoreRequest

	eofReceived bool
	eofChecksum uint32
	// finished is kept for retransmission while awaiting ACK(Finished).
	finished *pdu.Finished
}

// NewReceiver builds the receiving side of a transfer from its Metadata
// PDU. Completed files are delivered into store.
func NewReceiver(cfg Config, p pdu.PDU, store filestore.Store, emit Emitter) (*Transaction, error) {
	cfg = cfg.WithDefaults()
	md, ok := p.Body.(*pdu.Metadata)
	if !ok {
		return nil, fmt.Errorf("%w: got %s", ErrNotMetadata, p.Kind())
	}
	reqs, err := md.FilestoreRequests()
	if err != nil {
		return nil, fmt.Errorf("transfer: metadata filestore requests: %w", err)
	}
	if store == nil {
		store = filestore.NewMemory()
	}

	t := newTransaction(cfg, p.TransactionID(), RoleReceiver, p.Header.Mode, p.Header.SourceID, emit)
	t.sourceFile = md.SourceFile
	t.destPath = md.DestinationFile
	t.fileSize = md.FileSize
	t.largeFile = p.Header.LargeFile
	t.checksumType = md.Checksum
	for _, f := range tlv.Filter(md.Options, tlv.TypeMessageToUser) {
		t.messages = append(t.messages, string(f.Value))
	}
	t.rcv = &receiver{store: store, segments: make(map[uint64][]byte), requests: reqs}
	t.setState(StateMetadataReceived)
	if t.fileSize > cfg.MaxFileSize {
		t.log.Warn().Uint64("size", t.fileSize).Uint64("max", cfg.MaxFileSize).Msg("transfer: file size over limit")
		t.abandon(pdu.FileSizeError)
		return t, nil
	}
	t.armInactivity()
	t.log.Debug().Uint64("size", t.fileSize).Str("dst", t.destPath).Msg("transfer: metadata received")
	return t, nil
}

func (t *Transaction) handleReceiver(p pdu.PDU) {
	switch body := p.Body.(type) {
	case *pdu.Metadata:
		t.log.Warn().Msg("transfer: duplicate metadata ignored")

	case *pdu.FileData:
		t.receiveData(body)

	case *pdu.EOF:
		t.receiveEOF(body)

	case *pdu.ACK:
		if body.Directive != pdu.DirectiveFinished || t.state != StateAckAwaiting {
			t.log.Warn().Str("ack", body.Directive.String()).Str("state", t.state.String()).Msg("transfer: unexpected ack")
			return
		}
		t.terminate(StateFinished, pdu.NoError)

	case *pdu.Prompt:
		if body.Response == pdu.PromptKeepAlive {
			t.emitBody(&pdu.KeepAlive{Progress: min(t.rcv.ranges.Total(), math.MaxUint32)})
			return
		}
		t.emitBody(t.nak())

	default:
		t.log.Warn().Str("pdu", p.Kind().String()).Msg("transfer: receiver cannot handle pdu")
	}
}

func (t *Transaction) receiveData(f *pdu.FileData) {
	r := t.rcv
	if t.state == StateAckAwaiting {
		return
	}
	end := f.Offset + uint64(len(f.Data))
	if end < f.Offset || end > t.fileSize {
		t.log.Warn().Uint64("offset", f.Offset).Int("len", len(f.Data)).Uint64("size", t.fileSize).
			Msg("transfer: file data beyond file size dropped")
		return
	}
	for _, gap := range r.ranges.Missing(f.Offset, end) {
		r.segments[gap.Start] = append([]byte(nil), f.Data[gap.Start-f.Offset:gap.End-f.Offset]...)
	}
	r.ranges.Add(f.Offset, end)
	t.setState(StateTransferring)
	if r.eofReceived {
		t.checkCompletion()
	}
}

func (t *Transaction) receiveEOF(e *pdu.EOF) {
	r := t.rcv
	if t.mode == pdu.Acknowledged {
		ack := &pdu.ACK{
			Directive:         pdu.DirectiveEOF,
			Condition:         e.Condition,
			TransactionStatus: pdu.TransactionActive,
		}
		if !t.emitBody(ack) {
			return
		}
	}
	if e.Condition != pdu.NoError {
		t.log.Warn().Str("condition", e.Condition.String()).Msg("transfer: sender canceled")
		t.fileStatus = pdu.FileDiscardedDeliberately
		t.terminate(StateCanceled, e.Condition)
		return
	}
	if r.eofReceived {
		// Our ACK was lost; the sender is still waiting.
		if t.state == StateAckAwaiting && r.finished != nil {
			t.emitBody(r.finished)
		}
		return
	}
	if e.FileSize != t.fileSize {
		t.log.Warn().Uint64("metadata", t.fileSize).Uint64("eof", e.FileSize).Msg("transfer: eof file size differs from metadata")
		if r.ranges.End() > e.FileSize || e.FileSize > t.cfg.MaxFileSize {
			t.abandon(pdu.FileSizeError)
			return
		}
		t.fileSize = e.FileSize
	}
	r.eofReceived = true
	r.eofChecksum = e.Checksum
	t.checkCompletion()
}

// checkCompletion runs once EOF is known: deliver when every byte is in,
// otherwise ask for the gaps.
func (t *Transaction) checkCompletion() {
	r := t.rcv
	if !r.ranges.Covers(0, t.fileSize) {
		t.setState(StateTransferring)
		if t.mode == pdu.Unacknowledged {
			// Nothing to ask for; the inactivity timer ends the transfer.
			return
		}
		if _, pending := t.out.get(pdu.DirectiveNAK); !pending {
			now := t.cfg.Now()
			t.out.queue(pdu.DirectiveNAK, now, now.Add(t.cfg.nakDelay(1)))
			t.emitBody(t.nak())
		}
		return
	}
	t.out.remove(pdu.DirectiveNAK)
	t.setState(StateEOFReceived)
	t.deliver()
}

func (t *Transaction) nak() *pdu.NAK {
	n := &pdu.NAK{EndOfScope: t.fileSize}
	for _, gap := range t.rcv.ranges.Missing(0, t.fileSize) {
		n.Segments = append(n.Segments, pdu.SegmentRequest{Start: gap.Start, End: gap.End})
	}
	return n
}

func (t *Transaction) deliver() {
	r := t.rcv
	if t.fileSize > math.MaxInt {
		t.abandon(pdu.FileSizeError)
		return
	}
	data := r.assemble(t.fileSize)
	sum, err := checksum.Compute(t.checksumType, data)
	if err != nil {
		t.abandon(pdu.UnsupportedChecksumType)
		return
	}
	if sum != r.eofChecksum {
		t.log.Error().Uint32("got", sum).Uint32("want", r.eofChecksum).Msg("transfer: checksum mismatch")
		t.fileStatus = pdu.FileDiscardedDeliberately
		t.emitBody(&pdu.Finished{
			Condition:  pdu.FileChecksumFailure,
			Delivery:   pdu.DataComplete,
			FileStatus: t.fileStatus,
		})
		t.terminate(StateCanceled, pdu.FileChecksumFailure)
		return
	}

	cond := pdu.NoError
	t.fileStatus = pdu.FileRetained
	responses, ok := filestore.ExecuteAll(r.store, r.requests)
	if ok {
		if resp := filestore.Deliver(r.store, t.destPath, data); resp.Status != tlv.StatusSuccessful {
			responses = append(responses, resp)
			ok = false
		}
	}
	if !ok {
		cond = pdu.FilestoreRejection
		t.fileStatus = pdu.FileDiscardedRejected
		t.log.Error().Str("dst", t.destPath).Msg("transfer: filestore rejected delivery")
	}
	if len(responses) > 0 {
		t.responses = responses
	}
	fin := &pdu.Finished{
		Condition:  cond,
		Delivery:   pdu.DataComplete,
		FileStatus: t.fileStatus,
		Responses:  t.responses,
	}
	if !t.emitBody(fin) {
		return
	}
	if cond != pdu.NoError {
		t.terminate(StateCanceled, cond)
		return
	}
	if t.mode == pdu.Unacknowledged {
		t.terminate(StateFinished, pdu.NoError)
		return
	}
	r.finished = fin
	r.segments = nil
	t.inactiveAt = time.Time{}
	now := t.cfg.Now()
	t.out.queue(pdu.DirectiveFinished, now, now.Add(t.cfg.ackDelay(1)))
	t.setState(StateAckAwaiting)
}

// assemble lays the buffered segments out as one file of size bytes.
func (r *receiver) assemble(size uint64) []byte {
	data := make([]byte, size)
	for off, seg := range r.segments {
		if off < size {
			copy(data[off:], seg)
		}
	}
	return data
}

// abandon reports a fault to the sender and cancels.
func (t *Transaction) abandon(cond pdu.ConditionCode) {
	local := t.cfg.LocalEntity
	delivery := pdu.DataIncomplete
	if t.rcv.eofReceived && t.rcv.ranges.Covers(0, t.fileSize) {
		delivery = pdu.DataComplete
	}
	t.fileStatus = pdu.FileDiscardedDeliberately
	t.emitBody(&pdu.Finished{
		Condition:     cond,
		Delivery:      delivery,
		FileStatus:    t.fileStatus,
		FaultLocation: &local,
	})
	t.terminate(StateCanceled, cond)
}

func (t *Transaction) receiverExpired(item PendingPDU, now time.Time) {
	switch item.Directive {
	case pdu.DirectiveNAK:
		if item.Attempts > t.cfg.NakLimit {
			t.log.Warn().Int("attempts", item.Attempts).Msg("transfer: nak limit reached")
			t.abandon(pdu.NakLimitReached)
			return
		}
		t.out.markAttempt(item.Directive, now, now.Add(t.cfg.nakDelay(item.Attempts+1)))
		t.retransmissions++
		t.emitBody(t.nak())

	case pdu.DirectiveFinished:
		if item.Attempts > t.cfg.AckLimit {
			t.log.Warn().Int("attempts", item.Attempts).Msg("transfer: finished never acknowledged")
			t.terminate(StateCanceled, pdu.PositiveAckLimitReached)
			return
		}
		t.out.markAttempt(item.Directive, now, now.Add(t.cfg.ackDelay(item.Attempts+1)))
		t.retransmissions++
		t.emitBody(t.rcv.finished)

	default:
		t.out.remove(item.Directive)
	}
}
