package transfer

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/danmuck/cfdp/internal/protocol/checksum"
	"github.com/danmuck/cfdp/internal/protocol/pdu"
	"github.com/danmuck/cfdp/internal/protocol/tlv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidPutRequest = errors.New("transfer: invalid put request")
	ErrNotMetadata       = errors.New("transfer: receiver must start from metadata")
	ErrInvalidConfig     = errors.New("transfer: invalid config")
)

// Emitter receives every PDU a Transaction produces, in order. An error
// means the PDU never left; the transaction is canceled.
type Emitter func(pdu.PDU) error

// PutRequest describes one locally originated file transfer.
type PutRequest struct {
	Destination pdu.EntityID
	SourceFile  string
	TargetPath  string
	// Payload must be non-nil; an empty slice sends a zero-length file.
	Payload    []byte
	Overwrite  bool
	CreatePath bool
	Mode       pdu.TransmissionMode
	Messages   []string
}

// Validate checks the request fields that do not depend on configuration.
func (r PutRequest) Validate() error {
	if strings.TrimSpace(r.TargetPath) == "" {
		return fmt.Errorf("%w: empty target path", ErrInvalidPutRequest)
	}
	if len(r.TargetPath) > tlv.MaxValueLen {
		return fmt.Errorf("%w: target path exceeds %d bytes", ErrInvalidPutRequest, tlv.MaxValueLen)
	}
	if len(r.SourceFile) > tlv.MaxValueLen {
		return fmt.Errorf("%w: source file exceeds %d bytes", ErrInvalidPutRequest, tlv.MaxValueLen)
	}
	if r.Payload == nil {
		return fmt.Errorf("%w: missing payload", ErrInvalidPutRequest)
	}
	if r.Destination == 0 {
		return fmt.Errorf("%w: missing destination entity", ErrInvalidPutRequest)
	}
	if r.Mode > pdu.Unacknowledged {
		return fmt.Errorf("%w: transmission mode %d", ErrInvalidPutRequest, r.Mode)
	}
	for _, m := range r.Messages {
		if len(m) > tlv.MaxValueLen {
			return fmt.Errorf("%w: message to user exceeds %d bytes", ErrInvalidPutRequest, tlv.MaxValueLen)
		}
	}
	return nil
}

// View is a read-only snapshot of a Transaction. Fault names the local
// error that canceled it, if any.
type View struct {
	ID              pdu.TransactionID       `json:"id"`
	Role            Role                    `json:"role"`
	State           State                   `json:"state"`
	Mode            pdu.TransmissionMode    `json:"mode"`
	Source          pdu.EntityID            `json:"source"`
	Destination     pdu.EntityID            `json:"destination"`
	SourceFile      string                  `json:"source_file,omitempty"`
	DestinationPath string                  `json:"destination_path"`
	FileSize        uint64                  `json:"file_size"`
	Progress        uint64                  `json:"progress"`
	PeerProgress    uint64                  `json:"peer_progress"`
	Checksum        checksum.Type           `json:"checksum"`
	Condition       pdu.ConditionCode       `json:"condition"`
	FileStatus      pdu.FileStatus          `json:"file_status"`
	Retransmissions int                     `json:"retransmissions"`
	Responses       []tlv.FilestoreResponse `json:"responses,omitempty"`
	Messages        []string                `json:"messages,omitempty"`
	Pending         []PendingPDU            `json:"pending,omitempty"`
	Fault           string                  `json:"fault,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

// IsOngoing reports whether the snapshot was taken before termination.
func (v View) IsOngoing() bool {
	return !v.State.Terminal()
}

// Transaction is the state machine of one file transfer. It is not safe for
// concurrent use: exactly one goroutine owns it and feeds it inputs through
// Step, Handle, OnTimeout and Cancel. All outbound PDUs go to the Emitter.
type Transaction struct {
	cfg  Config
	id   pdu.TransactionID
	role Role
	mode pdu.TransmissionMode
	// peer is the remote entity; the receiving entity of the transfer is
	// peer for senders and the local entity for receivers.
	peer pdu.EntityID

	state     State
	condition pdu.ConditionCode

	sourceFile   string
	destPath     string
	fileSize     uint64
	largeFile    bool
	checksumType checksum.Type
	messages     []string

	out             *outbox
	inactiveAt      time.Time
	retransmissions int
	peerProgress    uint64
	fileStatus      pdu.FileStatus
	fault           string
	responses       []tlv.FilestoreResponse
	createdAt       time.Time
	updatedAt       time.Time

	emit Emitter
	log  zerolog.Logger

	snd *sender
	rcv *receiver
}

func newTransaction(cfg Config, id pdu.TransactionID, role Role, mode pdu.TransmissionMode, peer pdu.EntityID, emit Emitter) *Transaction {
	now := cfg.Now()
	if emit == nil {
		emit = func(pdu.PDU) error { return nil }
	}
	return &Transaction{
		cfg:        cfg,
		id:         id,
		role:       role,
		mode:       mode,
		peer:       peer,
		out:        newOutbox(),
		fileStatus: pdu.FileStatusUnreported,
		createdAt:  now,
		updatedAt:  now,
		emit:       emit,
		log: log.With().
			Str("txn", id.String()).
			Str("role", role.String()).
			Logger(),
	}
}

func (t *Transaction) ID() pdu.TransactionID { return t.id }

func (t *Transaction) Role() Role { return t.role }

func (t *Transaction) State() State { return t.state }

func (t *Transaction) Mode() pdu.TransmissionMode { return t.mode }

func (t *Transaction) Condition() pdu.ConditionCode { return t.condition }

// IsOngoing is true until the transaction reaches Finished or Canceled.
func (t *Transaction) IsOngoing() bool {
	return !t.state.Terminal()
}

// Step performs at most one unit of outbound work and reports whether more
// work is immediately available. Receivers never have stepped work.
func (t *Transaction) Step() bool {
	if t.role != RoleSender || t.state.Terminal() {
		return false
	}
	t.stepSender()
	return t.hasWork()
}

// Handle consumes one inbound PDU addressed to this transaction.
func (t *Transaction) Handle(p pdu.PDU) {
	if t.state.Terminal() {
		t.handleLate(p)
		return
	}
	t.touch()
	if t.role == RoleSender {
		t.handleSender(p)
	} else {
		t.handleReceiver(p)
	}
}

// handleLate answers a Finished retransmitted because our ACK was lost; the
// receiver cannot close until it sees one.
func (t *Transaction) handleLate(p pdu.PDU) {
	fin, ok := p.Body.(*pdu.Finished)
	if !ok || t.role != RoleSender || t.mode != pdu.Acknowledged {
		t.log.Debug().Str("pdu", p.Kind().String()).Msg("transfer: pdu after termination ignored")
		return
	}
	t.emitBody(&pdu.ACK{
		Directive:         pdu.DirectiveFinished,
		Subtype:           1,
		Condition:         fin.Condition,
		TransactionStatus: pdu.TransactionTerminated,
	})
}

// NextTimeout is the delay until the earliest armed timer, or false when
// nothing is armed.
func (t *Transaction) NextTimeout() (time.Duration, bool) {
	if t.state.Terminal() {
		return 0, false
	}
	at, ok := t.out.next()
	if !t.inactiveAt.IsZero() && (!ok || t.inactiveAt.Before(at)) {
		at, ok = t.inactiveAt, true
	}
	if !ok {
		return 0, false
	}
	return max(at.Sub(t.cfg.Now()), 0), true
}

// OnTimeout processes every timer that has expired by now.
func (t *Transaction) OnTimeout() {
	now := t.cfg.Now()
	for _, item := range t.out.expired(now) {
		if t.state.Terminal() {
			return
		}
		if t.role == RoleSender {
			t.senderExpired(item, now)
		} else {
			t.receiverExpired(item, now)
		}
	}
	if t.state.Terminal() || t.inactiveAt.IsZero() || t.inactiveAt.After(now) {
		return
	}
	t.log.Warn().Dur("timeout", t.cfg.InactivityTimeout).Msg("transfer: peer inactive")
	t.terminate(StateCanceled, pdu.InactivityDetected)
}

// Cancel stops the transfer and signals the peer. It reports false when the
// transaction had already terminated.
func (t *Transaction) Cancel() bool {
	if t.state.Terminal() {
		return false
	}
	local := t.cfg.LocalEntity
	if t.role == RoleSender {
		t.emitBody(&pdu.EOF{
			Condition:     pdu.CancelRequestReceived,
			Checksum:      t.snd.checksum,
			FileSize:      t.snd.next,
			FaultLocation: &local,
		})
	} else {
		delivery := pdu.DataIncomplete
		if t.rcv.ranges.Covers(0, t.fileSize) && t.rcv.eofReceived {
			delivery = pdu.DataComplete
		}
		t.fileStatus = pdu.FileDiscardedDeliberately
		t.emitBody(&pdu.Finished{
			Condition:     pdu.CancelRequestReceived,
			Delivery:      delivery,
			FileStatus:    t.fileStatus,
			FaultLocation: &local,
		})
	}
	t.terminate(StateCanceled, pdu.CancelRequestReceived)
	return true
}

// View snapshots the transaction.
func (t *Transaction) View() View {
	v := View{
		ID:              t.id,
		Role:            t.role,
		State:           t.state,
		Mode:            t.mode,
		Source:          t.id.Source,
		Destination:     t.receivingEntity(),
		SourceFile:      t.sourceFile,
		DestinationPath: t.destPath,
		FileSize:        t.fileSize,
		PeerProgress:    t.peerProgress,
		Checksum:        t.checksumType,
		Condition:       t.condition,
		FileStatus:      t.fileStatus,
		Retransmissions: t.retransmissions,
		Fault:           t.fault,
		Responses:       append([]tlv.FilestoreResponse(nil), t.responses...),
		Messages:        append([]string(nil), t.messages...),
		CreatedAt:       t.createdAt,
		UpdatedAt:       t.updatedAt,
	}
	if items := t.out.list(); len(items) > 0 {
		v.Pending = items
	}
	if t.role == RoleSender {
		v.Progress = t.snd.next
	} else {
		v.Progress = t.rcv.ranges.Total()
	}
	return v
}

func (t *Transaction) receivingEntity() pdu.EntityID {
	if t.role == RoleSender {
		return t.peer
	}
	return t.cfg.LocalEntity
}

func (t *Transaction) header() pdu.Header {
	dir := pdu.TowardReceiver
	if t.role == RoleReceiver {
		dir = pdu.TowardSender
	}
	cfg := t.cfg.Header
	cfg.LargeFile = cfg.LargeFile || t.largeFile
	return pdu.NewHeader(cfg, t.id, t.receivingEntity(), t.mode, dir)
}

// emitBody sends body and reports whether it left. A failed emit cancels
// the transaction, so callers stop on false.
func (t *Transaction) emitBody(body pdu.Body) bool {
	p := pdu.PDU{Header: t.header(), Body: body}
	if err := t.emit(p); err != nil {
		t.log.Error().Err(err).Str("pdu", p.Kind().String()).Msg("transfer: emit failed")
		if !t.state.Terminal() {
			t.fault = fmt.Sprintf("emit %s: %v", p.Kind(), err)
			t.terminate(StateCanceled, pdu.InvalidFileStructure)
		}
		return false
	}
	return true
}

func (t *Transaction) setState(s State) {
	if s == t.state {
		return
	}
	if s < t.state {
		t.log.Error().Str("from", t.state.String()).Str("to", s.String()).Msg("transfer: backward transition refused")
		return
	}
	t.log.Debug().Str("from", t.state.String()).Str("to", s.String()).Msg("transfer: state")
	t.state = s
	t.updatedAt = t.cfg.Now()
}

// terminate is a no-op once the transaction is terminal, so the first
// reason sticks.
func (t *Transaction) terminate(s State, cond pdu.ConditionCode) {
	if t.state.Terminal() {
		return
	}
	t.condition = cond
	t.setState(s)
	t.out = newOutbox()
	t.inactiveAt = time.Time{}
	if t.rcv != nil {
		t.rcv.segments = nil
	}
	if s == StateFinished {
		t.log.Info().Uint64("size", t.fileSize).Str("dst", t.destPath).Msg("transfer: finished")
		return
	}
	t.log.Error().Str("condition", cond.String()).Msg("transfer: canceled")
}

// touch records peer activity and pushes the inactivity deadline out.
func (t *Transaction) touch() {
	t.updatedAt = t.cfg.Now()
	if !t.inactiveAt.IsZero() {
		t.armInactivity()
	}
}

func (t *Transaction) armInactivity() {
	t.inactiveAt = t.cfg.Now().Add(t.cfg.InactivityTimeout)
}

func needsLargeFile(size uint64) bool {
	return size > math.MaxUint32
}
