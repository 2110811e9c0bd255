package pdu

import "fmt"

// DirectiveCode is the first body octet of every file directive PDU.
type DirectiveCode uint8

const (
	DirectiveEOF       DirectiveCode = 0x04
	DirectiveFinished  DirectiveCode = 0x05
	DirectiveACK       DirectiveCode = 0x06
	DirectiveMetadata  DirectiveCode = 0x07
	DirectiveNAK       DirectiveCode = 0x08
	DirectivePrompt    DirectiveCode = 0x09
	DirectiveKeepAlive DirectiveCode = 0x0C
)

func (c DirectiveCode) String() string {
	switch c {
	case DirectiveEOF:
		return "eof"
	case DirectiveFinished:
		return "finished"
	case DirectiveACK:
		return "ack"
	case DirectiveMetadata:
		return "metadata"
	case DirectiveNAK:
		return "nak"
	case DirectivePrompt:
		return "prompt"
	case DirectiveKeepAlive:
		return "keep_alive"
	default:
		return fmt.Sprintf("directive(%#02x)", uint8(c))
	}
}

// Kind tags every PDU body variant, including file data.
type Kind uint8

const (
	KindFileData Kind = iota
	KindMetadata
	KindEOF
	KindFinished
	KindACK
	KindNAK
	KindPrompt
	KindKeepAlive
)

func (k Kind) String() string {
	switch k {
	case KindFileData:
		return "file_data"
	case KindMetadata:
		return "metadata"
	case KindEOF:
		return "eof"
	case KindFinished:
		return "finished"
	case KindACK:
		return "ack"
	case KindNAK:
		return "nak"
	case KindPrompt:
		return "prompt"
	case KindKeepAlive:
		return "keep_alive"
	default:
		return "unknown"
	}
}

// Directive returns the directive code carried by a directive kind.
func (k Kind) Directive() (DirectiveCode, bool) {
	switch k {
	case KindMetadata:
		return DirectiveMetadata, true
	case KindEOF:
		return DirectiveEOF, true
	case KindFinished:
		return DirectiveFinished, true
	case KindACK:
		return DirectiveACK, true
	case KindNAK:
		return DirectiveNAK, true
	case KindPrompt:
		return DirectivePrompt, true
	case KindKeepAlive:
		return DirectiveKeepAlive, true
	default:
		return 0, false
	}
}

// ConditionCode is the four-bit reason attached to transaction termination.
type ConditionCode uint8

const (
	NoError                 ConditionCode = 0
	PositiveAckLimitReached ConditionCode = 1
	KeepAliveLimitReached   ConditionCode = 2
	InvalidTransmissionMode ConditionCode = 3
	FilestoreRejection      ConditionCode = 4
	FileChecksumFailure     ConditionCode = 5
	FileSizeError           ConditionCode = 6
	NakLimitReached         ConditionCode = 7
	InactivityDetected      ConditionCode = 8
	InvalidFileStructure    ConditionCode = 9
	CheckLimitReached       ConditionCode = 10
	UnsupportedChecksumType ConditionCode = 11
	SuspendRequestReceived  ConditionCode = 14
	CancelRequestReceived   ConditionCode = 15
)

func (c ConditionCode) String() string {
	switch c {
	case NoError:
		return "no_error"
	case PositiveAckLimitReached:
		return "positive_ack_limit_reached"
	case KeepAliveLimitReached:
		return "keep_alive_limit_reached"
	case InvalidTransmissionMode:
		return "invalid_transmission_mode"
	case FilestoreRejection:
		return "filestore_rejection"
	case FileChecksumFailure:
		return "file_checksum_failure"
	case FileSizeError:
		return "file_size_error"
	case NakLimitReached:
		return "nak_limit_reached"
	case InactivityDetected:
		return "inactivity_detected"
	case InvalidFileStructure:
		return "invalid_file_structure"
	case CheckLimitReached:
		return "check_limit_reached"
	case UnsupportedChecksumType:
		return "unsupported_checksum_type"
	case SuspendRequestReceived:
		return "suspend_request_received"
	case CancelRequestReceived:
		return "cancel_request_received"
	default:
		return fmt.Sprintf("condition(%d)", uint8(c))
	}
}

// DeliveryCode reports whether the receiver holds all file data.
type DeliveryCode uint8

const (
	DataComplete   DeliveryCode = 0
	DataIncomplete DeliveryCode = 1
)

// FileStatus reports the disposition of the delivered file.
type FileStatus uint8

const (
	FileDiscardedDeliberately FileStatus = 0
	FileDiscardedRejected     FileStatus = 1
	FileRetained              FileStatus = 2
	FileStatusUnreported      FileStatus = 3
)

func (s FileStatus) String() string {
	switch s {
	case FileDiscardedDeliberately:
		return "discarded_deliberately"
	case FileDiscardedRejected:
		return "discarded_rejected"
	case FileRetained:
		return "retained"
	default:
		return "unreported"
	}
}

// TransactionStatus is carried by ACK PDUs.
type TransactionStatus uint8

const (
	TransactionUndefined    TransactionStatus = 0
	TransactionActive       TransactionStatus = 1
	TransactionTerminated   TransactionStatus = 2
	TransactionUnrecognized TransactionStatus = 3
)

// PromptResponse selects the PDU a Prompt asks for.
type PromptResponse uint8

const (
	PromptNAK       PromptResponse = 0
	PromptKeepAlive PromptResponse = 1
)
