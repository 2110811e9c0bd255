package engine

import (
	"fmt"
	"time"

	"github.com/danmuck/cfdp/internal/protocol/pdu"
)

type DiagnosticKind uint8

const (
	DiagnosticDecodeError DiagnosticKind = iota + 1
	DiagnosticProtocolViolation
	DiagnosticEmitError
	DiagnosticInboxOverflow
)

func (k DiagnosticKind) String() string {
	switch k {
	case DiagnosticDecodeError:
		return "decode_error"
	case DiagnosticProtocolViolation:
		return "protocol_violation"
	case DiagnosticEmitError:
		return "emit_error"
	case DiagnosticInboxOverflow:
		return "inbox_overflow"
	default:
		return "unknown"
	}
}

// Diagnostic reports an input or output the engine had to drop. Decode
// errors precede identification and carry no transaction id.
type Diagnostic struct {
	Kind           DiagnosticKind
	TransactionID  pdu.TransactionID
	HasTransaction bool
	Err            error
	Detail         string
	At             time.Time
}

func (d Diagnostic) String() string {
	txn := "-"
	if d.HasTransaction {
		txn = d.TransactionID.String()
	}
	if d.Err != nil {
		return fmt.Sprintf("%s txn=%s detail=%s err=%v", d.Kind, txn, d.Detail, d.Err)
	}
	return fmt.Sprintf("%s txn=%s detail=%s", d.Kind, txn, d.Detail)
}

func (e *Engine) diagnose(d Diagnostic) {
	d.At = time.Now()
	if e.onDiagnostic != nil {
		e.onDiagnostic(d)
	}
}
