package transfer

import "fmt"

// Role is the side of the transfer a Transaction plays.
type Role uint8

const (
	RoleSender Role = iota
	RoleReceiver
)

func (r Role) String() string {
	switch r {
	case RoleSender:
		return "sender"
	case RoleReceiver:
		return "receiver"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// State is a transaction life-cycle phase. Transitions only move forward.
type State uint8

const (
	StateMetadataPending State = iota
	StateMetadataSent
	StateMetadataReceived
	StateTransferring
	StateEOFSent
	StateEOFReceived
	StateAckAwaiting
	StateFinished
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateMetadataPending:
		return "metadata_pending"
	case StateMetadataSent:
		return "metadata_sent"
	case StateMetadataReceived:
		return "metadata_received"
	case StateTransferring:
		return "transferring"
	case StateEOFSent:
		return "eof_sent"
	case StateEOFReceived:
		return "eof_received"
	case StateAckAwaiting:
		return "ack_awaiting"
	case StateFinished:
		return "finished"
	case StateCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Terminal reports whether s is Finished or Canceled.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateCanceled
}

