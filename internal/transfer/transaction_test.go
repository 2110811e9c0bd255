package transfer

import (
	"bytes"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/cfdp/internal/filestore"
	"github.com/danmuck/cfdp/internal/protocol/checksum"
	"github.com/danmuck/cfdp/internal/protocol/pdu"
	"github.com/danmuck/cfdp/internal/protocol/tlv"
	"github.com/danmuck/cfdp/internal/testutil/testlog"
)

var txnID = pdu.TransactionID{Source: 1, Sequence: 7}

func newTestSender(t *testing.T, clock *fakeClock, out *capture, req PutRequest) *Transaction {
	t.Helper()
	if req.Destination == 0 {
		req.Destination = 2
	}
	tx, err := NewSender(testConfig(clock, 1), txnID, req, out.emit)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	return tx
}

func newTestReceiver(t *testing.T, clock *fakeClock, out *capture, store filestore.Store, md pdu.PDU) *Transaction {
	t.Helper()
	tx, err := NewReceiver(testConfig(clock, 2), md, store, out.emit)
	if err != nil {
		t.Fatalf("new receiver: %v", err)
	}
	return tx
}

func storeWithTmp(t *testing.T) *filestore.Memory {
	t.Helper()
	s := filestore.NewMemory()
	if err := s.CreateDirectory("/tmp"); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	return s
}

func TestPutRequestValidation(t *testing.T) {
	testlog.Start(t)
	cases := []PutRequest{
		{Destination: 2, TargetPath: "", Payload: []byte("x")},
		{Destination: 2, TargetPath: "/tmp/x", Payload: nil},
		{Destination: 0, TargetPath: "/tmp/x", Payload: []byte("x")},
		{Destination: 2, TargetPath: "../x", Payload: []byte("x")},
		{Destination: 2, TargetPath: "/" + strings.Repeat("p", 300), Payload: []byte("x")},
		{Destination: 2, TargetPath: "/tmp/x", SourceFile: strings.Repeat("s", 256), Payload: []byte("x")},
	}
	clock := newFakeClock()
	for i, req := range cases {
		if _, err := NewSender(testConfig(clock, 1), txnID, req, nil); !errors.Is(err, ErrInvalidPutRequest) {
			t.Fatalf("case %d: expected ErrInvalidPutRequest, got %v", i, err)
		}
	}
}

func TestSenderRejectsOversizedSegment(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	cfg := testConfig(clock, 1)
	cfg.SegmentSize = 70000
	req := PutRequest{Destination: 2, TargetPath: "/x", Payload: make([]byte, 100000)}
	if _, err := NewSender(cfg, txnID, req, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	cfg.SegmentSize = pdu.MaxFileDataLen
	out := newCapture(t)
	tx, err := NewSender(cfg, txnID, req, out.emit)
	if err != nil {
		t.Fatalf("largest segment rejected: %v", err)
	}
	drain(tx)
	if tx.State() != StateEOFSent {
		t.Fatalf("state=%s fault=%q", tx.State(), tx.View().Fault)
	}
	if n := countKind(out.take(), pdu.KindFileData); n != 2 {
		t.Fatalf("file data pdus=%d", n)
	}
}

func TestEmitFailureCancelsSender(t *testing.T) {
	testlog.Start(t)
	for _, mode := range []pdu.TransmissionMode{pdu.Acknowledged, pdu.Unacknowledged} {
		clock := newFakeClock()
		out := newCapture(t)
		out.fail = func(p pdu.PDU) bool {
			fd, ok := p.Body.(*pdu.FileData)
			return ok && fd.Offset == 5
		}
		tx := newTestSender(t, clock, out, PutRequest{TargetPath: "/x", Payload: []byte("0123456789abc"), Mode: mode})
		drain(tx)

		v := tx.View()
		if v.State != StateCanceled || v.Condition != pdu.InvalidFileStructure {
			t.Fatalf("mode %s: state=%s condition=%s", mode, v.State, v.Condition)
		}
		if v.Progress != 5 {
			t.Fatalf("mode %s: progress=%d, must stop at the failed segment", mode, v.Progress)
		}
		if !strings.Contains(v.Fault, errLinkDown.Error()) {
			t.Fatalf("mode %s: fault=%q", mode, v.Fault)
		}
		if got := kinds(out.take()); !reflect.DeepEqual(got, []pdu.Kind{pdu.KindMetadata, pdu.KindFileData}) {
			t.Fatalf("mode %s: emitted=%v", mode, got)
		}
		if tx.Step() || tx.Cancel() {
			t.Fatalf("mode %s: terminal sender must stay quiet", mode)
		}
	}
}

func TestEmitFailureOfMetadataCancels(t *testing.T) {
	testlog.Start(t)
	out := newCapture(t)
	out.fail = func(pdu.PDU) bool { return true }
	tx := newTestSender(t, newFakeClock(), out, PutRequest{TargetPath: "/x", Payload: []byte("a"), Mode: pdu.Unacknowledged})
	drain(tx)
	if tx.State() != StateCanceled || tx.Condition() != pdu.InvalidFileStructure {
		t.Fatalf("state=%s condition=%s", tx.State(), tx.Condition())
	}
}

func TestHelloUnacknowledged(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	out := newCapture(t)
	tx := newTestSender(t, clock, out, PutRequest{
		TargetPath: "/tmp/x",
		Payload:    []byte("HELLO"),
		Mode:       pdu.Unacknowledged,
	})
	if tx.State() != StateMetadataPending {
		t.Fatalf("initial state=%s", tx.State())
	}
	drain(tx)

	sent := out.take()
	want := []pdu.Kind{pdu.KindMetadata, pdu.KindFileData, pdu.KindEOF}
	if got := kinds(sent); !reflect.DeepEqual(got, want) {
		t.Fatalf("emitted=%v want=%v", got, want)
	}
	fd := sent[1].Body.(*pdu.FileData)
	if fd.Offset != 0 || string(fd.Data) != "HELLO" {
		t.Fatalf("unexpected file data %+v", fd)
	}
	md := sent[0].Body.(*pdu.Metadata)
	if md.FileSize != 5 || md.DestinationFile != "/tmp/x" {
		t.Fatalf("unexpected metadata %+v", md)
	}
	eof := sent[2].Body.(*pdu.EOF)
	if eof.FileSize != 5 || eof.Checksum != 0x48454C4C+0x4F000000 {
		t.Fatalf("unexpected eof %+v", eof)
	}
	if tx.State() != StateFinished || tx.Condition() != pdu.NoError {
		t.Fatalf("state=%s condition=%s", tx.State(), tx.Condition())
	}
	if _, armed := tx.NextTimeout(); armed {
		t.Fatalf("finished transaction must not arm timers")
	}

	// The same PDUs complete an unacknowledged receiver.
	store := storeWithTmp(t)
	rout := newCapture(t)
	rx := newTestReceiver(t, clock, rout, store, sent[0])
	for _, p := range sent[1:] {
		rx.Handle(p)
	}
	if rx.State() != StateFinished {
		t.Fatalf("receiver state=%s condition=%s", rx.State(), rx.Condition())
	}
	if got := kinds(rout.take()); !reflect.DeepEqual(got, []pdu.Kind{pdu.KindFinished}) {
		t.Fatalf("receiver emitted=%v", got)
	}
	data, err := store.ReadFile("/tmp/x")
	if err != nil || string(data) != "HELLO" {
		t.Fatalf("delivered=(%q,%v)", data, err)
	}
}

func TestStepEmitsOnePDUPerCall(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	out := newCapture(t)
	tx := newTestSender(t, clock, out, PutRequest{TargetPath: "/f", Payload: []byte("0123456789AB")})
	steps := 0
	for more := true; more; steps++ {
		before := len(out.pdus)
		more = tx.Step()
		if len(out.pdus) != before+1 {
			t.Fatalf("step %d emitted %d pdus", steps, len(out.pdus)-before)
		}
	}
	// metadata + 3 segments + eof
	if steps != 5 {
		t.Fatalf("steps=%d want=5", steps)
	}
	var offsets []uint64
	for _, p := range out.pdus {
		if fd, ok := p.Body.(*pdu.FileData); ok {
			offsets = append(offsets, fd.Offset)
		}
	}
	if !reflect.DeepEqual(offsets, []uint64{0, 5, 10}) {
		t.Fatalf("offsets=%v", offsets)
	}
	if tx.State() != StateEOFSent {
		t.Fatalf("acknowledged sender must wait in eof_sent, got %s", tx.State())
	}
}

func TestAcknowledgedSenderCancelsAfterEOFRetries(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	out := newCapture(t)
	tx := newTestSender(t, clock, out, PutRequest{TargetPath: "/tmp/x", Payload: []byte("HELLO")})
	drain(tx)
	for tx.IsOngoing() {
		expire(t, clock, tx)
	}
	sent := out.take()
	if n := countKind(sent, pdu.KindEOF); n != tx.cfg.AckLimit+1 {
		t.Fatalf("eof sends=%d want=%d", n, tx.cfg.AckLimit+1)
	}
	if tx.State() != StateCanceled || tx.Condition() != pdu.InactivityDetected {
		t.Fatalf("state=%s condition=%s", tx.State(), tx.Condition())
	}
	if v := tx.View(); v.Retransmissions != tx.cfg.AckLimit {
		t.Fatalf("retransmissions=%d", v.Retransmissions)
	}
}

func TestEOFRetryBackoff(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	out := newCapture(t)
	cfg := testConfig(clock, 1)
	cfg.Backoff = BackoffConfig{Multiplier: 2, MaxDelay: 3 * time.Second}
	tx, err := NewSender(cfg, txnID, PutRequest{Destination: 2, TargetPath: "/x", Payload: []byte("a")}, out.emit)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	drain(tx)
	var delays []time.Duration
	for tx.IsOngoing() {
		d, _ := tx.NextTimeout()
		delays = append(delays, d)
		clock.advance(d)
		tx.OnTimeout()
	}
	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}
	if !reflect.DeepEqual(delays, want) {
		t.Fatalf("delays=%v want=%v", delays, want)
	}
}

func TestReceiverNaksMissingRange(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	payload := []byte("ABCDEFGH")
	sum, _ := checksum.Compute(checksum.Modular, payload)
	hdr := pdu.NewHeader(pdu.HeaderConfig{EntityIDLength: 1, SequenceLength: 2}, txnID, 2, pdu.Acknowledged, pdu.TowardReceiver)

	store := filestore.NewMemory()
	out := newCapture(t)
	rx := newTestReceiver(t, clock, out, store, pdu.PDU{Header: hdr, Body: &pdu.Metadata{
		Checksum: checksum.Modular, FileSize: 8, DestinationFile: "/out",
	}})
	rx.Handle(fileData(t, hdr, 0, "ABC"))
	rx.Handle(fileData(t, hdr, 5, "FGH"))
	rx.Handle(pdu.PDU{Header: hdr, Body: &pdu.EOF{Checksum: sum, FileSize: 8}})

	sent := out.take()
	if got := kinds(sent); !reflect.DeepEqual(got, []pdu.Kind{pdu.KindACK, pdu.KindNAK}) {
		t.Fatalf("emitted=%v", got)
	}
	if sent[0].Header.Direction != pdu.TowardSender {
		t.Fatalf("receiver pdus must travel toward the sender")
	}
	nak := sent[1].Body.(*pdu.NAK)
	if !reflect.DeepEqual(nak.Segments, []pdu.SegmentRequest{{Start: 3, End: 5}}) {
		t.Fatalf("nak segments=%v", nak.Segments)
	}
	if rx.State() != StateTransferring {
		t.Fatalf("state=%s want transferring", rx.State())
	}

	rx.Handle(fileData(t, hdr, 3, "DE"))
	sent = out.take()
	if got := kinds(sent); !reflect.DeepEqual(got, []pdu.Kind{pdu.KindFinished}) {
		t.Fatalf("emitted after fill=%v", got)
	}
	if rx.State() != StateAckAwaiting {
		t.Fatalf("state=%s want ack_awaiting", rx.State())
	}
	rx.Handle(pdu.PDU{Header: hdr, Body: &pdu.ACK{Directive: pdu.DirectiveFinished, Subtype: 1, TransactionStatus: pdu.TransactionTerminated}})
	if rx.State() != StateFinished {
		t.Fatalf("state=%s want finished", rx.State())
	}
	data, _ := store.ReadFile("/out")
	if !bytes.Equal(data, payload) {
		t.Fatalf("delivered=%q", data)
	}
}

func TestReceiverOutOfOrderAndDuplicates(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	payload := "0123456789"
	sum, _ := checksum.Compute(checksum.CRC32C, []byte(payload))
	hdr := pdu.NewHeader(pdu.HeaderConfig{}, txnID, 2, pdu.Unacknowledged, pdu.TowardReceiver)
	store := filestore.NewMemory()
	out := newCapture(t)
	rx := newTestReceiver(t, clock, out, store, pdu.PDU{Header: hdr, Body: &pdu.Metadata{
		Checksum: checksum.CRC32C, FileSize: 10, DestinationFile: "/n",
	}})
	rx.Handle(fileData(t, hdr, 8, "89"))
	rx.Handle(fileData(t, hdr, 2, "234"))
	rx.Handle(fileData(t, hdr, 2, "234"))
	rx.Handle(pdu.PDU{Header: hdr, Body: &pdu.EOF{Checksum: sum, FileSize: 10}})
	if rx.State() != StateTransferring {
		t.Fatalf("incomplete receiver state=%s", rx.State())
	}
	rx.Handle(fileData(t, hdr, 4, "4567"))
	rx.Handle(fileData(t, hdr, 0, "01"))
	if rx.State() != StateFinished {
		t.Fatalf("state=%s condition=%s", rx.State(), rx.Condition())
	}
	data, _ := store.ReadFile("/n")
	if string(data) != payload {
		t.Fatalf("delivered=%q", data)
	}
}

func TestReceiverDropsDataBeyondFileSize(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	hdr := pdu.NewHeader(pdu.HeaderConfig{}, txnID, 2, pdu.Acknowledged, pdu.TowardReceiver)
	rx := newTestReceiver(t, clock, newCapture(t), nil, pdu.PDU{Header: hdr, Body: &pdu.Metadata{FileSize: 4, DestinationFile: "/d"}})
	rx.Handle(fileData(t, hdr, 2, "xyz"))
	if v := rx.View(); v.Progress != 0 {
		t.Fatalf("out of bounds data must be dropped, progress=%d", v.Progress)
	}
}

func TestReceiverHandlesOffsetsNearLimit(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	cfg := testConfig(clock, 2)
	cfg.MaxFileSize = math.MaxUint64
	hdr := pdu.NewHeader(pdu.HeaderConfig{LargeFile: true}, txnID, 2, pdu.Acknowledged, pdu.TowardReceiver)
	md := pdu.PDU{Header: hdr, Body: &pdu.Metadata{FileSize: math.MaxUint64, DestinationFile: "/big"}}
	rx, err := NewReceiver(cfg, md, nil, newCapture(t).emit)
	if err != nil {
		t.Fatalf("new receiver: %v", err)
	}
	rx.Handle(pdu.PDU{Header: hdr, Body: &pdu.FileData{Offset: 1 << 63, Data: []byte{1}}})
	rx.Handle(pdu.PDU{Header: hdr, Body: &pdu.FileData{Offset: math.MaxUint64, Data: []byte{1}}})
	if got := rx.rcv.buffered(); got != 1 {
		t.Fatalf("buffered=%d", got)
	}
	if v := rx.View(); v.Progress != 1 || v.State != StateTransferring {
		t.Fatalf("progress=%d state=%s", v.Progress, v.State)
	}
}

func TestReceiverMemoryFollowsReceivedBytes(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	cfg := testConfig(clock, 2)
	hdr := pdu.NewHeader(pdu.HeaderConfig{}, txnID, 2, pdu.Acknowledged, pdu.TowardReceiver)
	md := pdu.PDU{Header: hdr, Body: &pdu.Metadata{FileSize: cfg.MaxFileSize, DestinationFile: "/big"}}
	rx, err := NewReceiver(cfg, md, nil, newCapture(t).emit)
	if err != nil {
		t.Fatalf("new receiver: %v", err)
	}
	rx.Handle(fileData(t, hdr, cfg.MaxFileSize-1, "z"))
	rx.Handle(fileData(t, hdr, 10, "abcd"))
	rx.Handle(fileData(t, hdr, 8, "xxabcdyy"))
	if got := rx.rcv.buffered(); got != 9 {
		t.Fatalf("buffered=%d, want 9", got)
	}
	if got := rx.rcv.ranges.Total(); got != 9 {
		t.Fatalf("received=%d", got)
	}
}

func TestReceiverRefusesFileOverLimit(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	out := newCapture(t)
	hdr := pdu.NewHeader(pdu.HeaderConfig{LargeFile: true}, txnID, 2, pdu.Acknowledged, pdu.TowardReceiver)
	md := pdu.PDU{Header: hdr, Body: &pdu.Metadata{FileSize: math.MaxUint64, DestinationFile: "/big"}}
	rx := newTestReceiver(t, clock, out, nil, md)
	if rx.State() != StateCanceled || rx.Condition() != pdu.FileSizeError {
		t.Fatalf("state=%s condition=%s", rx.State(), rx.Condition())
	}
	sent := out.take()
	fin, ok := sent[0].Body.(*pdu.Finished)
	if len(sent) != 1 || !ok || fin.Condition != pdu.FileSizeError {
		t.Fatalf("emitted=%v", sent)
	}
	rx.Handle(pdu.PDU{Header: hdr, Body: &pdu.FileData{Offset: 1 << 63, Data: []byte{1}}})
	if rx.View().Progress != 0 {
		t.Fatalf("canceled receiver stored data")
	}

	// A later EOF may not grow the file past the limit either.
	hdr = pdu.NewHeader(pdu.HeaderConfig{LargeFile: true}, pdu.TransactionID{Source: 1, Sequence: 8}, 2, pdu.Acknowledged, pdu.TowardReceiver)
	rx = newTestReceiver(t, clock, out, nil, pdu.PDU{Header: hdr, Body: &pdu.Metadata{FileSize: 4, DestinationFile: "/d"}})
	rx.Handle(pdu.PDU{Header: hdr, Body: &pdu.EOF{FileSize: math.MaxUint64}})
	if rx.State() != StateCanceled || rx.Condition() != pdu.FileSizeError {
		t.Fatalf("eof growth: state=%s condition=%s", rx.State(), rx.Condition())
	}
}

func TestZeroLengthTransfer(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	out := newCapture(t)
	tx := newTestSender(t, clock, out, PutRequest{TargetPath: "/empty", Payload: []byte{}})
	drain(tx)
	sent := out.take()
	if got := kinds(sent); !reflect.DeepEqual(got, []pdu.Kind{pdu.KindMetadata, pdu.KindEOF}) {
		t.Fatalf("emitted=%v", got)
	}

	store := filestore.NewMemory()
	rout := newCapture(t)
	rx := newTestReceiver(t, clock, rout, store, sent[0])
	rx.Handle(sent[1])
	rsent := rout.take()
	if got := kinds(rsent); !reflect.DeepEqual(got, []pdu.Kind{pdu.KindACK, pdu.KindFinished}) {
		t.Fatalf("receiver emitted=%v", got)
	}
	for _, p := range rsent {
		tx.Handle(p)
	}
	if tx.State() != StateFinished {
		t.Fatalf("sender state=%s", tx.State())
	}
	rx.Handle(out.take()[0])
	if rx.State() != StateFinished {
		t.Fatalf("receiver state=%s", rx.State())
	}
	if exists, _ := store.Exists("/empty"); !exists {
		t.Fatalf("empty file not delivered")
	}
}

func TestChecksumMismatchCancelsReceiver(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	hdr := pdu.NewHeader(pdu.HeaderConfig{}, txnID, 2, pdu.Acknowledged, pdu.TowardReceiver)
	out := newCapture(t)
	store := filestore.NewMemory()
	rx := newTestReceiver(t, clock, out, store, pdu.PDU{Header: hdr, Body: &pdu.Metadata{FileSize: 2, DestinationFile: "/c"}})
	rx.Handle(fileData(t, hdr, 0, "ok"))
	rx.Handle(pdu.PDU{Header: hdr, Body: &pdu.EOF{Checksum: 1, FileSize: 2}})
	sent := out.take()
	fin, ok := sent[len(sent)-1].Body.(*pdu.Finished)
	if !ok || fin.Condition != pdu.FileChecksumFailure {
		t.Fatalf("expected finished(checksum failure), got %v", kinds(sent))
	}
	if rx.State() != StateCanceled || rx.Condition() != pdu.FileChecksumFailure {
		t.Fatalf("state=%s condition=%s", rx.State(), rx.Condition())
	}
	if exists, _ := store.Exists("/c"); exists {
		t.Fatalf("corrupt file must not be delivered")
	}
}

func TestFilestoreRejectionWithoutOverwrite(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	store := storeWithTmp(t)
	if err := store.WriteFile("/tmp/x", []byte("old")); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	out := newCapture(t)
	tx := newTestSender(t, clock, out, PutRequest{TargetPath: "/tmp/x", Payload: []byte("new")})
	drain(tx)
	sent := out.take()

	rout := newCapture(t)
	rx := newTestReceiver(t, clock, rout, store, sent[0])
	for _, p := range sent[1:] {
		rx.Handle(p)
	}
	if rx.State() != StateCanceled || rx.Condition() != pdu.FilestoreRejection {
		t.Fatalf("receiver state=%s condition=%s", rx.State(), rx.Condition())
	}
	for _, p := range rout.take() {
		tx.Handle(p)
	}
	if tx.State() != StateCanceled || tx.Condition() != pdu.FilestoreRejection {
		t.Fatalf("sender state=%s condition=%s", tx.State(), tx.Condition())
	}
	v := tx.View()
	if len(v.Responses) != 1 || v.Responses[0].Status != tlv.StatusRejected {
		t.Fatalf("expected one rejected response, got %+v", v.Responses)
	}
	data, _ := store.ReadFile("/tmp/x")
	if string(data) != "old" {
		t.Fatalf("existing file modified: %q", data)
	}
}

func TestOverwriteAndCreatePath(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	store := filestore.NewMemory()
	_ = store.CreateDirectory("/a/b")
	_ = store.WriteFile("/a/b/f", []byte("old"))

	for _, target := range []string{"/a/b/f", "/new/dir/f"} {
		out := newCapture(t)
		tx := newTestSender(t, clock, out, PutRequest{
			TargetPath: target,
			Payload:    []byte("fresh"),
			Overwrite:  true,
			CreatePath: true,
			Mode:       pdu.Unacknowledged,
		})
		drain(tx)
		sent := out.take()
		reqs, err := sent[0].Body.(*pdu.Metadata).FilestoreRequests()
		if err != nil || len(reqs) != 2 {
			t.Fatalf("%s: filestore requests=(%v,%v)", target, reqs, err)
		}
		rx := newTestReceiver(t, clock, newCapture(t), store, sent[0])
		for _, p := range sent[1:] {
			rx.Handle(p)
		}
		if rx.State() != StateFinished {
			t.Fatalf("%s: state=%s condition=%s", target, rx.State(), rx.Condition())
		}
		data, _ := store.ReadFile(target)
		if string(data) != "fresh" {
			t.Fatalf("%s: delivered=%q", target, data)
		}
	}
}

func TestReceiverNakLimit(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	hdr := pdu.NewHeader(pdu.HeaderConfig{}, txnID, 2, pdu.Acknowledged, pdu.TowardReceiver)
	out := newCapture(t)
	rx := newTestReceiver(t, clock, out, nil, pdu.PDU{Header: hdr, Body: &pdu.Metadata{FileSize: 4, DestinationFile: "/n"}})
	rx.Handle(pdu.PDU{Header: hdr, Body: &pdu.EOF{FileSize: 4}})
	for rx.IsOngoing() {
		expire(t, clock, rx)
	}
	sent := out.take()
	if n := countKind(sent, pdu.KindNAK); n != rx.cfg.NakLimit+1 {
		t.Fatalf("nak sends=%d want=%d", n, rx.cfg.NakLimit+1)
	}
	if rx.Condition() != pdu.NakLimitReached {
		t.Fatalf("condition=%s", rx.Condition())
	}
	if fin, ok := sent[len(sent)-1].Body.(*pdu.Finished); !ok || fin.Condition != pdu.NakLimitReached {
		t.Fatalf("expected closing finished(nak limit), got %v", kinds(sent))
	}
}

func TestUnacknowledgedReceiverInactivity(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	hdr := pdu.NewHeader(pdu.HeaderConfig{}, txnID, 2, pdu.Unacknowledged, pdu.TowardReceiver)
	out := newCapture(t)
	rx := newTestReceiver(t, clock, out, nil, pdu.PDU{Header: hdr, Body: &pdu.Metadata{FileSize: 4, DestinationFile: "/n"}})
	rx.Handle(fileData(t, hdr, 0, "ab"))
	rx.Handle(pdu.PDU{Header: hdr, Body: &pdu.EOF{FileSize: 4}})
	if len(out.take()) != 0 {
		t.Fatalf("unacknowledged receiver must not nak")
	}
	expire(t, clock, rx)
	if rx.State() != StateCanceled || rx.Condition() != pdu.InactivityDetected {
		t.Fatalf("state=%s condition=%s", rx.State(), rx.Condition())
	}
}

func TestSenderRetransmitsNakedRanges(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	out := newCapture(t)
	tx := newTestSender(t, clock, out, PutRequest{TargetPath: "/r", Payload: []byte("0123456789abcdef")})
	drain(tx)
	out.take()
	rhdr := pdu.NewHeader(pdu.HeaderConfig{}, txnID, 2, pdu.Acknowledged, pdu.TowardSender)
	tx.Handle(pdu.PDU{Header: rhdr, Body: &pdu.ACK{Directive: pdu.DirectiveEOF}})
	tx.Handle(pdu.PDU{Header: rhdr, Body: &pdu.NAK{EndOfScope: 16, Segments: []pdu.SegmentRequest{{Start: 0, End: 0}, {Start: 3, End: 12}}}})
	drain(tx)
	sent := out.take()
	if got := kinds(sent); !reflect.DeepEqual(got, []pdu.Kind{pdu.KindMetadata, pdu.KindFileData, pdu.KindFileData}) {
		t.Fatalf("retransmitted=%v", got)
	}
	a, b := sent[1].Body.(*pdu.FileData), sent[2].Body.(*pdu.FileData)
	if a.Offset != 3 || string(a.Data) != "34567" || b.Offset != 8 || string(b.Data) != "89ab" {
		t.Fatalf("unexpected segments %+v %+v", a, b)
	}
	if v := tx.View(); v.Retransmissions != 3 {
		t.Fatalf("retransmissions=%d", v.Retransmissions)
	}
}

func TestCancelSignalsPeer(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	out := newCapture(t)
	tx := newTestSender(t, clock, out, PutRequest{TargetPath: "/c", Payload: []byte("0123456789")})
	tx.Step()
	tx.Step()
	out.take()
	if !tx.Cancel() {
		t.Fatalf("cancel of live transaction must succeed")
	}
	if tx.Cancel() {
		t.Fatalf("second cancel must report terminal")
	}
	sent := out.take()
	eof, ok := sent[0].Body.(*pdu.EOF)
	if len(sent) != 1 || !ok || eof.Condition != pdu.CancelRequestReceived || eof.FileSize != 5 {
		t.Fatalf("expected cancel eof, got %v", sent)
	}
	if tx.Step() {
		t.Fatalf("canceled sender must stop stepping")
	}

	hdr := pdu.NewHeader(pdu.HeaderConfig{}, txnID, 2, pdu.Acknowledged, pdu.TowardReceiver)
	rout := newCapture(t)
	rx := newTestReceiver(t, clock, rout, nil, pdu.PDU{Header: hdr, Body: &pdu.Metadata{FileSize: 4, DestinationFile: "/n"}})
	rx.Handle(sent[0])
	if rx.State() != StateCanceled || rx.Condition() != pdu.CancelRequestReceived {
		t.Fatalf("receiver state=%s condition=%s", rx.State(), rx.Condition())
	}
}

func TestPromptAnswers(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	hdr := pdu.NewHeader(pdu.HeaderConfig{}, txnID, 2, pdu.Acknowledged, pdu.TowardReceiver)
	out := newCapture(t)
	rx := newTestReceiver(t, clock, out, nil, pdu.PDU{Header: hdr, Body: &pdu.Metadata{FileSize: 6, DestinationFile: "/p"}})
	rx.Handle(fileData(t, hdr, 0, "abc"))
	rx.Handle(pdu.PDU{Header: hdr, Body: &pdu.Prompt{Response: pdu.PromptKeepAlive}})
	rx.Handle(pdu.PDU{Header: hdr, Body: &pdu.Prompt{Response: pdu.PromptNAK}})
	sent := out.take()
	ka, ok := sent[0].Body.(*pdu.KeepAlive)
	if !ok || ka.Progress != 3 {
		t.Fatalf("expected keep alive progress 3, got %v", sent)
	}
	nak, ok := sent[1].Body.(*pdu.NAK)
	if !ok || !reflect.DeepEqual(nak.Segments, []pdu.SegmentRequest{{Start: 3, End: 6}}) {
		t.Fatalf("expected nak [3,6), got %v", sent)
	}
}

func TestKeepAliveProgressClampedForLargeFiles(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	cfg := testConfig(clock, 2)
	cfg.MaxFileSize = math.MaxUint64
	hdr := pdu.NewHeader(pdu.HeaderConfig{LargeFile: true}, txnID, 2, pdu.Acknowledged, pdu.TowardReceiver)
	md := pdu.PDU{Header: hdr, Body: &pdu.Metadata{FileSize: 1 << 40, DestinationFile: "/big"}}
	out := newCapture(t)
	rx, err := NewReceiver(cfg, md, nil, out.emit)
	if err != nil {
		t.Fatalf("new receiver: %v", err)
	}
	// Progress counts received bytes; fake a span wider than 32 bits.
	rx.rcv.ranges.Add(0, 1<<33)
	rx.Handle(pdu.PDU{Header: hdr, Body: &pdu.Prompt{Response: pdu.PromptKeepAlive}})
	sent := out.take()
	ka, ok := sent[0].Body.(*pdu.KeepAlive)
	if !ok || ka.Progress != math.MaxUint32 {
		t.Fatalf("keep alive=%v", sent)
	}
	if rx.State().Terminal() {
		t.Fatalf("keep alive canceled the receiver: fault=%q", rx.View().Fault)
	}
}

// pump runs a sender and receiver against each other over a link that
// drops PDUs for which drop returns true.
func pump(t *testing.T, clock *fakeClock, tx *Transaction, txOut *capture, store filestore.Store, drop func(pdu.PDU) bool) *Transaction {
	t.Helper()
	rxOut := newCapture(t)
	var rx *Transaction
	for round := 0; round < 1000; round++ {
		drain(tx)
		for _, p := range txOut.take() {
			if drop(p) {
				continue
			}
			if rx == nil {
				if p.Kind() != pdu.KindMetadata {
					continue
				}
				rx = newTestReceiver(t, clock, rxOut, store, p)
				continue
			}
			rx.Handle(p)
		}
		for _, p := range rxOut.take() {
			if !drop(p) {
				tx.Handle(p)
			}
		}
		if !tx.IsOngoing() && (rx == nil || !rx.IsOngoing()) {
			return rx
		}
		if len(txOut.pdus) > 0 || len(rxOut.pdus) > 0 || tx.hasWork() {
			continue
		}
		next := time.Duration(-1)
		for _, x := range []*Transaction{tx, rx} {
			if x == nil {
				continue
			}
			if d, ok := x.NextTimeout(); ok && (next < 0 || d < next) {
				next = d
			}
		}
		if next < 0 {
			t.Fatalf("stalled: sender=%s receiver=%v", tx.State(), rx)
		}
		clock.advance(next)
		tx.OnTimeout()
		if rx != nil {
			rx.OnTimeout()
		}
	}
	t.Fatalf("transfer did not settle")
	return nil
}

func TestAcknowledgedTransferRecoversFromLoss(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	payload := []byte("the quick brown fox jumps over the lazy dog")
	out := newCapture(t)
	tx := newTestSender(t, clock, out, PutRequest{TargetPath: "/fox", Payload: payload})
	store := filestore.NewMemory()

	dropped := map[string]bool{}
	drop := func(p pdu.PDU) bool {
		key := ""
		switch b := p.Body.(type) {
		case *pdu.FileData:
			if b.Offset == 10 || b.Offset == 25 {
				key = "fd"
			}
		case *pdu.ACK:
			key = "ack-" + b.Directive.String()
		case *pdu.Finished:
			key = "finished"
		}
		if key == "" {
			return false
		}
		k := key + p.String()
		if dropped[k] {
			return false
		}
		dropped[k] = true
		return true
	}

	rx := pump(t, clock, tx, out, store, drop)
	if tx.State() != StateFinished || rx.State() != StateFinished {
		t.Fatalf("sender=%s/%s receiver=%s/%s", tx.State(), tx.Condition(), rx.State(), rx.Condition())
	}
	data, _ := store.ReadFile("/fox")
	if !bytes.Equal(data, payload) {
		t.Fatalf("delivered=%q", data)
	}
	if tx.View().Retransmissions == 0 || rx.View().Retransmissions == 0 {
		t.Fatalf("expected retransmissions on both sides")
	}
}

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{Multiplier: 2.0, MaxDelay: 5 * time.Second}
	base := 250 * time.Millisecond
	if got := NextBackoffDelay(base, cfg, 1, nil); got != base {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(base, cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(base, cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestOutboxLifecycle(t *testing.T) {
	testlog.Start(t)
	o := newOutbox()
	now := time.Unix(1700000000, 0)
	o.queue(pdu.DirectiveEOF, now, now.Add(2*time.Second))
	o.queue(pdu.DirectiveNAK, now, now.Add(time.Second))
	if at, ok := o.next(); !ok || !at.Equal(now.Add(time.Second)) {
		t.Fatalf("next=(%v,%v)", at, ok)
	}
	item, ok := o.markAttempt(pdu.DirectiveEOF, now.Add(time.Second), now.Add(3*time.Second))
	if !ok || item.Attempts != 2 {
		t.Fatalf("unexpected attempt item=%+v ok=%v", item, ok)
	}
	if exp := o.expired(now.Add(2 * time.Second)); len(exp) != 1 || exp[0].Directive != pdu.DirectiveNAK {
		t.Fatalf("expired=%+v", exp)
	}
	o.remove(pdu.DirectiveNAK)
	if _, ok := o.get(pdu.DirectiveNAK); ok {
		t.Fatalf("expected removed item")
	}
}
