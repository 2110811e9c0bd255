package pdu

import (
	"fmt"
	"math"
)

// Prompt asks the receiver for a NAK or a KeepAlive.
type Prompt struct {
	Response PromptResponse
}

func (*Prompt) Kind() Kind { return KindPrompt }

func (p *Prompt) appendTo(dst []byte, _ Header) ([]byte, error) {
	return append(dst, uint8(DirectivePrompt), uint8(p.Response&1)<<7), nil
}

func decodePrompt(r *bodyReader, _ Header) (Body, error) {
	b, err := r.u8("response required")
	if err != nil {
		return nil, err
	}
	if r.remaining() != 0 {
		return nil, decodeErr(LengthMismatch, "prompt: %d trailing bytes", r.remaining())
	}
	return &Prompt{Response: PromptResponse(b >> 7)}, nil
}

func (p *Prompt) String() string {
	if p.Response == PromptKeepAlive {
		return "Prompt[keep_alive]"
	}
	return "Prompt[nak]"
}

// KeepAlive reports the receiver's progress. Progress is a 32-bit field
// whatever the large file flag says.
type KeepAlive struct {
	Progress uint64
}

func (*KeepAlive) Kind() Kind { return KindKeepAlive }

func (k *KeepAlive) appendTo(dst []byte, _ Header) ([]byte, error) {
	if k.Progress > math.MaxUint32 {
		return nil, fieldOverflow("keep alive progress", k.Progress, 4)
	}
	dst = append(dst, uint8(DirectiveKeepAlive))
	return appendUintN(dst, k.Progress, 4), nil
}

func decodeKeepAlive(r *bodyReader, _ Header) (Body, error) {
	progress, err := r.uintN(4, "progress")
	if err != nil {
		return nil, err
	}
	if r.remaining() != 0 {
		return nil, decodeErr(LengthMismatch, "keep alive: %d trailing bytes", r.remaining())
	}
	return &KeepAlive{Progress: progress}, nil
}

func (k *KeepAlive) String() string {
	return fmt.Sprintf("KeepAlive[progress=%d]", k.Progress)
}
