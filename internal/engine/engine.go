package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/danmuck/cfdp/internal/filestore"
	"github.com/danmuck/cfdp/internal/observability"
	"github.com/danmuck/cfdp/internal/protocol/pdu"
	"github.com/danmuck/cfdp/internal/transfer"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidConfig       = errors.New("engine: invalid config")
	ErrInvalidPutRequest   = transfer.ErrInvalidPutRequest
	ErrTransactionNotFound = errors.New("engine: transaction not found")
	ErrTransactionTerminal = errors.New("engine: transaction already terminated")
	ErrNotTerminal         = errors.New("engine: transaction still ongoing")
	ErrEngineClosed        = errors.New("engine: closed")
	ErrSequenceExhausted   = errors.New("engine: transaction sequence numbers exhausted")
)

// Sink is the outbound half of the transport collaborator.
type Sink interface {
	Emit(b []byte) error
}

type SinkFunc func([]byte) error

func (f SinkFunc) Emit(b []byte) error { return f(b) }

// Archive stores views of terminated transactions.
type Archive interface {
	Put(v transfer.View) error
	Get(id pdu.TransactionID) (transfer.View, bool, error)
	List() ([]transfer.View, error)
}

// ModeOverride selects the transmission mode of one Put request.
type ModeOverride uint8

const (
	ModeDefault ModeOverride = iota
	ModeAcknowledged
	ModeUnacknowledged
)

// ParseModeOverride maps "" to ModeDefault and otherwise accepts the
// transmission mode names.
func ParseModeOverride(raw string) (ModeOverride, error) {
	if raw == "" {
		return ModeDefault, nil
	}
	m, err := pdu.ParseTransmissionMode(raw)
	if err != nil {
		return ModeDefault, err
	}
	if m == pdu.Unacknowledged {
		return ModeUnacknowledged, nil
	}
	return ModeAcknowledged, nil
}

// PutRequest asks the local entity to send Payload to TargetPath on the
// destination entity. Zero entity ids resolve to the local entity and the
// configured default destination.
type PutRequest struct {
	SourceEntity      pdu.EntityID
	DestinationEntity pdu.EntityID
	SourceFile        string
	TargetPath        string
	Payload           []byte
	Overwrite         bool
	CreatePath        bool
	Mode              ModeOverride
	Messages          []string
}

type Option func(*Engine)

// WithFilestore sets where received files are delivered. The default is
// an in-memory store.
func WithFilestore(s filestore.Store) Option {
	return func(e *Engine) { e.store = s }
}

func WithArchive(a Archive) Option {
	return func(e *Engine) { e.archive = a }
}

// WithDiagnostics installs a callback for dropped input and output. It runs
// on the goroutine that observed the problem and must not block.
func WithDiagnostics(fn func(Diagnostic)) Option {
	return func(e *Engine) { e.onDiagnostic = fn }
}

// Engine is the transaction registry of one local entity. Each transaction
// runs on its own goroutine; the registry only routes inputs to it.
type Engine struct {
	cfg          Config
	tcfg         transfer.Config
	sink         Sink
	store        filestore.Store
	archive      Archive
	onDiagnostic func(Diagnostic)

	ctx      context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup
	outbound chan []byte

	mu     sync.RWMutex
	byID   map[pdu.TransactionID]*entry
	order  []pdu.TransactionID
	closed bool
	seq    atomic.Uint64
}

// entry is the registry's handle on a running transaction. The view is
// republished by the owning actor after every event.
type entry struct {
	id     pdu.TransactionID
	role   transfer.Role
	inbox  chan pdu.PDU
	cancel chan struct{}
	done   chan struct{}
	view   atomic.Pointer[transfer.View]
}

func (en *entry) snapshot() transfer.View {
	return *en.view.Load()
}

func (en *entry) publish(v transfer.View) {
	en.view.Store(&v)
}

func New(cfg Config, sink Sink, opts ...Option) (*Engine, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, fmt.Errorf("%w: nil sink", ErrInvalidConfig)
	}
	ctx, stop := context.WithCancel(context.Background())
	e := &Engine{
		cfg:      cfg,
		tcfg:     cfg.transferConfig(),
		sink:     sink,
		ctx:      ctx,
		stop:     stop,
		outbound: make(chan []byte, cfg.OutboundSize),
		byID:     make(map[pdu.TransactionID]*entry),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.store == nil {
		e.store = filestore.NewMemory()
	}
	if err := e.seedSequence(); err != nil {
		stop()
		return nil, err
	}
	observability.RegisterMetrics()

	e.wg.Add(1)
	go e.drainOutbound()
	log.Info().Msgf("engine.New ok entity=%d mode=%s segment=%d", cfg.EntityID, cfg.Mode, cfg.SegmentSize)
	return e, nil
}

// seedSequence continues numbering after the highest archived local
// transaction so restarts never reuse an id.
func (e *Engine) seedSequence() error {
	if e.archive == nil {
		return nil
	}
	views, err := e.archive.List()
	if err != nil {
		return fmt.Errorf("engine: read archive: %w", err)
	}
	var last uint64
	for _, v := range views {
		if v.ID.Source == e.cfg.EntityID && v.ID.Sequence > last {
			last = v.ID.Sequence
		}
	}
	e.seq.Store(last)
	return nil
}

func (e *Engine) Config() Config {
	return e.cfg
}

// SubmitPut validates req, starts a sending transaction and returns its id.
// The transfer proceeds in the background.
func (e *Engine) SubmitPut(req PutRequest) (pdu.TransactionID, error) {
	local := e.cfg.EntityID
	if req.SourceEntity != 0 && req.SourceEntity != local {
		return pdu.TransactionID{}, fmt.Errorf("%w: source entity %d is not the local entity %d", ErrInvalidPutRequest, req.SourceEntity, local)
	}
	dest := req.DestinationEntity
	if dest == 0 {
		dest = e.cfg.DefaultDestination
	}
	if dest == 0 {
		return pdu.TransactionID{}, fmt.Errorf("%w: no destination entity and no default_destination", ErrInvalidPutRequest)
	}
	if dest == local {
		return pdu.TransactionID{}, fmt.Errorf("%w: destination is the local entity", ErrInvalidPutRequest)
	}
	if pdu.MinWidth(uint64(dest)) > e.cfg.EntityIDLength {
		return pdu.TransactionID{}, fmt.Errorf("%w: destination %d does not fit %d bytes", ErrInvalidPutRequest, dest, e.cfg.EntityIDLength)
	}
	mode := e.cfg.Mode
	switch req.Mode {
	case ModeAcknowledged:
		mode = pdu.Acknowledged
	case ModeUnacknowledged:
		mode = pdu.Unacknowledged
	}
	treq := transfer.PutRequest{
		Destination: dest,
		SourceFile:  req.SourceFile,
		TargetPath:  req.TargetPath,
		Payload:     req.Payload,
		Overwrite:   req.Overwrite,
		CreatePath:  req.CreatePath,
		Mode:        mode,
		Messages:    req.Messages,
	}
	if err := treq.Validate(); err != nil {
		return pdu.TransactionID{}, err
	}
	if e.isClosed() {
		return pdu.TransactionID{}, ErrEngineClosed
	}

	seq := e.seq.Add(1)
	if pdu.MinWidth(seq) > e.cfg.SequenceLength {
		return pdu.TransactionID{}, fmt.Errorf("%w: %d needs more than %d bytes", ErrSequenceExhausted, seq, e.cfg.SequenceLength)
	}
	id := pdu.TransactionID{Source: local, Sequence: seq}
	tx, err := transfer.NewSender(e.tcfg, id, treq, e.emitter(id))
	if err != nil {
		return pdu.TransactionID{}, err
	}
	if err := e.start(tx); err != nil {
		return pdu.TransactionID{}, err
	}
	log.Info().Msgf("engine.Engine.SubmitPut ok txn=%s dest=%d mode=%s size=%d path=%q", id, dest, mode, len(req.Payload), req.TargetPath)
	return id, nil
}

// OnInboundPDU routes one received buffer. It never blocks: malformed
// buffers and PDUs that cannot be routed are dropped with a diagnostic.
func (e *Engine) OnInboundPDU(raw []byte) {
	p, err := pdu.Decode(raw)
	if err != nil {
		kind := "unknown"
		var de *pdu.DecodeError
		if errors.As(err, &de) {
			kind = de.Kind.String()
		}
		observability.RecordDecodeError(kind)
		log.Warn().Err(err).Int("len", len(raw)).Msg("engine: dropped malformed pdu")
		e.diagnose(Diagnostic{Kind: DiagnosticDecodeError, Err: err, Detail: kind})
		return
	}
	observability.RecordPDU("in", p.Kind().String())

	id := p.TransactionID()
	e.mu.RLock()
	en, ok := e.byID[id]
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return
	}
	if !ok {
		e.startReceiver(p)
		return
	}
	e.deliver(en, p)
}

func (e *Engine) deliver(en *entry, p pdu.PDU) {
	select {
	case <-en.done:
		log.Debug().Str("txn", en.id.String()).Str("pdu", p.Kind().String()).Msg("engine: pdu for closed transaction dropped")
		return
	default:
	}
	select {
	case en.inbox <- p:
	default:
		log.Warn().Str("txn", en.id.String()).Str("pdu", p.Kind().String()).Msg("engine: inbox full, pdu dropped")
		e.diagnose(Diagnostic{
			Kind:           DiagnosticInboxOverflow,
			TransactionID:  en.id,
			HasTransaction: true,
			Detail:         p.Kind().String(),
		})
	}
}

// startReceiver creates a receiving transaction for Metadata that opens a
// transfer toward the local entity. Anything else is a protocol violation.
func (e *Engine) startReceiver(p pdu.PDU) {
	id := p.TransactionID()
	switch {
	case p.Kind() != pdu.KindMetadata:
		e.violation(id, "unknown_transaction", p)
		return
	case p.Header.Direction != pdu.TowardReceiver:
		e.violation(id, "metadata_toward_sender", p)
		return
	case p.Header.DestinationID != e.cfg.EntityID:
		e.violation(id, "misaddressed_metadata", p)
		return
	case p.Header.SourceID == e.cfg.EntityID:
		e.violation(id, "local_source_unknown_sequence", p)
		return
	}
	if e.archived(id) {
		e.violation(id, "sequence_reuse", p)
		return
	}
	tx, err := transfer.NewReceiver(e.tcfg, p, e.store, e.emitter(id))
	if err != nil {
		e.violation(id, "invalid_metadata", p)
		return
	}
	if err := e.start(tx); err != nil {
		if errors.Is(err, errDuplicate) {
			// A concurrent Metadata won the insert; route this copy to it.
			e.mu.RLock()
			en := e.byID[id]
			e.mu.RUnlock()
			if en != nil {
				e.deliver(en, p)
			}
		}
		return
	}
	log.Info().Msgf("engine.Engine.OnInboundPDU receiver txn=%s mode=%s size=%d", id, p.Header.Mode, tx.View().FileSize)
}

// archived reports whether id belongs to a purged transaction. Metadata
// for it is a late retransmission or a peer reusing sequence numbers.
func (e *Engine) archived(id pdu.TransactionID) bool {
	if e.archive == nil {
		return false
	}
	_, found, err := e.archive.Get(id)
	if err != nil {
		log.Warn().Err(err).Str("txn", id.String()).Msg("engine: archive lookup failed")
		return false
	}
	return found
}

func (e *Engine) violation(id pdu.TransactionID, reason string, p pdu.PDU) {
	observability.RecordProtocolViolation(reason)
	log.Warn().Str("txn", id.String()).Str("pdu", p.Kind().String()).Str("reason", reason).Msg("engine: protocol violation")
	e.diagnose(Diagnostic{
		Kind:           DiagnosticProtocolViolation,
		TransactionID:  id,
		HasTransaction: true,
		Detail:         reason,
	})
}

var errDuplicate = errors.New("engine: duplicate transaction id")

// start registers tx and launches its actor.
func (e *Engine) start(tx *transfer.Transaction) error {
	en := &entry{
		id:     tx.ID(),
		role:   tx.Role(),
		inbox:  make(chan pdu.PDU, e.cfg.InboxSize),
		cancel: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	en.publish(tx.View())

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	if _, dup := e.byID[en.id]; dup {
		e.mu.Unlock()
		return errDuplicate
	}
	e.byID[en.id] = en
	e.order = append(e.order, en.id)
	e.wg.Add(1)
	e.mu.Unlock()

	observability.RecordTransactionStarted(tx.Role().String(), tx.Mode().String())
	a := &actor{e: e, en: en, tx: tx}
	go a.run()
	return nil
}

// GetTransfer returns the latest view of id, falling back to the archive
// for purged transactions.
func (e *Engine) GetTransfer(id pdu.TransactionID) (transfer.View, bool) {
	e.mu.RLock()
	en, ok := e.byID[id]
	e.mu.RUnlock()
	if ok {
		return en.snapshot(), true
	}
	if e.archive == nil {
		return transfer.View{}, false
	}
	v, found, err := e.archive.Get(id)
	if err != nil {
		log.Warn().Err(err).Str("txn", id.String()).Msg("engine: archive lookup failed")
		return transfer.View{}, false
	}
	return v, found
}

// ListTransfers returns registered transactions in insertion order.
func (e *Engine) ListTransfers(onlyOngoing bool) []transfer.View {
	e.mu.RLock()
	entries := make([]*entry, 0, len(e.order))
	for _, id := range e.order {
		entries = append(entries, e.byID[id])
	}
	e.mu.RUnlock()

	out := make([]transfer.View, 0, len(entries))
	for _, en := range entries {
		v := en.snapshot()
		if onlyOngoing && !v.IsOngoing() {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Cancel requests cancellation of a live transaction. The request is
// handled ahead of queued input.
func (e *Engine) Cancel(id pdu.TransactionID) error {
	e.mu.RLock()
	en, ok := e.byID[id]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}
	if !en.snapshot().IsOngoing() {
		return fmt.Errorf("%w: %s", ErrTransactionTerminal, id)
	}
	select {
	case en.cancel <- struct{}{}:
	default:
		// a cancel is already pending
	}
	log.Info().Msgf("engine.Engine.Cancel requested txn=%s", id)
	return nil
}

// Purge removes a terminated transaction from the registry. Archived
// views remain available through GetTransfer.
func (e *Engine) Purge(id pdu.TransactionID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	en, ok := e.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}
	if en.snapshot().IsOngoing() {
		return fmt.Errorf("%w: %s", ErrNotTerminal, id)
	}
	e.removeLocked(id)
	return nil
}

// PurgeTerminal removes every terminated transaction and returns how many
// were removed.
func (e *Engine) PurgeTerminal() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, id := range append([]pdu.TransactionID(nil), e.order...) {
		if !e.byID[id].snapshot().IsOngoing() {
			e.removeLocked(id)
			n++
		}
	}
	return n
}

func (e *Engine) removeLocked(id pdu.TransactionID) {
	delete(e.byID, id)
	for i, o := range e.order {
		if o == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

func (e *Engine) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// Close stops every actor and the outbound drain. Transactions are left in
// whatever state they reached.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.stop()
	e.wg.Wait()
	log.Info().Msgf("engine.Engine.Close ok entity=%d", e.cfg.EntityID)
	return nil
}

// emitter encodes PDUs from one transaction and hands them to the drain.
// A full outbound queue holds the actor back until the sink catches up.
// Encode errors go back to the transaction; PDUs queued at shutdown are
// dropped silently.
func (e *Engine) emitter(id pdu.TransactionID) transfer.Emitter {
	return func(p pdu.PDU) error {
		b, err := pdu.Encode(p)
		if err != nil {
			log.Error().Err(err).Str("txn", id.String()).Str("pdu", p.Kind().String()).Msg("engine: encode failed")
			e.diagnose(Diagnostic{
				Kind:           DiagnosticEmitError,
				TransactionID:  id,
				HasTransaction: true,
				Err:            err,
				Detail:         p.Kind().String(),
			})
			return err
		}
		observability.RecordPDU("out", p.Kind().String())
		select {
		case e.outbound <- b:
		case <-e.ctx.Done():
		}
		return nil
	}
}

func (e *Engine) drainOutbound() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case b := <-e.outbound:
			if err := e.sink.Emit(b); err != nil {
				log.Warn().Err(err).Int("len", len(b)).Msg("engine: sink emit failed")
				e.diagnose(Diagnostic{Kind: DiagnosticEmitError, Err: err, Detail: "sink"})
			}
		}
	}
}
