package tlv

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/cfdp/internal/testutil/testlog"
)

func TestEncodeDecodeFieldsRoundTripPreservesUnknown(t *testing.T) {
	testlog.Start(t)
	in := []Field{
		{Type: TypeMessageToUser, Value: []byte("hello")},
		{Type: 0x7F, Value: []byte{0xAA, 0xBB}}, // unregistered type
	}
	b, err := EncodeFields(in)
	if err != nil {
		t.Fatalf("encode fields: %v", err)
	}
	if len(b) != FieldsLen(in) {
		t.Fatalf("encoded len=%d want=%d", len(b), FieldsLen(in))
	}
	out, err := DecodeFields(b)
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(out))
	}
	if out[1].Type != 0x7F || !bytes.Equal(out[1].Value, []byte{0xAA, 0xBB}) {
		t.Fatalf("unknown field not preserved: %+v", out[1])
	}
}

func TestDecodeFieldsMalformedHeaderIsDeterministic(t *testing.T) {
	testlog.Start(t)
	_, err := DecodeFields([]byte{1})
	if !errors.Is(err, ErrShortFieldHeader) {
		t.Fatalf("expected ErrShortFieldHeader, got %v", err)
	}
}

func TestDecodeFieldsMalformedLengthIsDeterministic(t *testing.T) {
	testlog.Start(t)
	// type=msg-to-user, len=5, value only 2 bytes
	payload := []byte{TypeMessageToUser, 5, 'a', 'b'}
	_, err := DecodeFields(payload)
	if !errors.Is(err, ErrShortFieldValue) {
		t.Fatalf("expected ErrShortFieldValue, got %v", err)
	}
}

func TestEncodeFieldRejectsOversizedValue(t *testing.T) {
	testlog.Start(t)
	_, err := EncodeField(Field{Type: TypeMessageToUser, Value: make([]byte, 256)})
	if !errors.Is(err, ErrValueTooLong) {
		t.Fatalf("expected ErrValueTooLong, got %v", err)
	}
}

func TestFilestoreRequestRoundTrip(t *testing.T) {
	testlog.Start(t)
	cases := []FilestoreRequest{
		{Action: ActionCreateDirectory, First: "/tmp/out"},
		{Action: ActionDeleteFile, First: "/tmp/out/x"},
		{Action: ActionRenameFile, First: "/a", Second: "/b"},
	}
	for _, in := range cases {
		f, err := in.Field()
		if err != nil {
			t.Fatalf("%s field: %v", in.Action, err)
		}
		got, err := ParseFilestoreRequest(f)
		if err != nil {
			t.Fatalf("%s parse: %v", in.Action, err)
		}
		if got != in {
			t.Fatalf("round trip mismatch got=%+v want=%+v", got, in)
		}
	}
}

func TestFilestoreResponseRoundTrip(t *testing.T) {
	testlog.Start(t)
	in := FilestoreResponse{Action: ActionCreateFile, Status: StatusRejected, First: "/tmp/x", Message: "exists"}
	f, err := in.Field()
	if err != nil {
		t.Fatalf("field: %v", err)
	}
	got, err := ParseFilestoreResponse(f)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != in {
		t.Fatalf("round trip mismatch got=%+v want=%+v", got, in)
	}
}
