package tlv

import "fmt"

// AppendLV appends a length-prefixed value to dst.
func AppendLV(dst []byte, v []byte) ([]byte, error) {
	if len(v) > MaxValueLen {
		return nil, fmt.Errorf("%w: lv len=%d", ErrValueTooLong, len(v))
	}
	dst = append(dst, uint8(len(v)))
	return append(dst, v...), nil
}

// ReadLV reads one length-prefixed value from b and returns the value and
// the remaining bytes.
func ReadLV(b []byte) ([]byte, []byte, error) {
	if len(b) < 1 {
		return nil, nil, ErrShortFieldHeader
	}
	l := int(b[0])
	if len(b)-1 < l {
		return nil, nil, ErrShortFieldValue
	}
	v := make([]byte, l)
	copy(v, b[1:1+l])
	return v, b[1+l:], nil
}

// FilestoreAction is the four-bit action code of a filestore request.
type FilestoreAction uint8

const (
	ActionCreateFile      FilestoreAction = 0
	ActionDeleteFile      FilestoreAction = 1
	ActionRenameFile      FilestoreAction = 2
	ActionAppendFile      FilestoreAction = 3
	ActionReplaceFile     FilestoreAction = 4
	ActionCreateDirectory FilestoreAction = 5
	ActionRemoveDirectory FilestoreAction = 6
	ActionDenyFile        FilestoreAction = 7
	ActionDenyDirectory   FilestoreAction = 8
)

func (a FilestoreAction) String() string {
	switch a {
	case ActionCreateFile:
		return "create_file"
	case ActionDeleteFile:
		return "delete_file"
	case ActionRenameFile:
		return "rename_file"
	case ActionAppendFile:
		return "append_file"
	case ActionReplaceFile:
		return "replace_file"
	case ActionCreateDirectory:
		return "create_directory"
	case ActionRemoveDirectory:
		return "remove_directory"
	case ActionDenyFile:
		return "deny_file"
	case ActionDenyDirectory:
		return "deny_directory"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

// hasSecond reports whether the action carries a second filename.
func (a FilestoreAction) hasSecond() bool {
	switch a {
	case ActionRenameFile, ActionAppendFile, ActionReplaceFile:
		return true
	}
	return false
}

// FilestoreRequest is the decoded value of a filestore request TLV.
type FilestoreRequest struct {
	Action FilestoreAction
	First  string
	Second string
}

func (r FilestoreRequest) Field() (Field, error) {
	v := []byte{uint8(r.Action) << 4}
	v, err := AppendLV(v, []byte(r.First))
	if err != nil {
		return Field{}, err
	}
	if r.Action.hasSecond() {
		if v, err = AppendLV(v, []byte(r.Second)); err != nil {
			return Field{}, err
		}
	}
	return Field{Type: TypeFilestoreRequest, Value: v}, nil
}

func ParseFilestoreRequest(f Field) (FilestoreRequest, error) {
	if f.Type != TypeFilestoreRequest {
		return FilestoreRequest{}, fmt.Errorf("tlv: type %d is not a filestore request", f.Type)
	}
	if len(f.Value) < 1 {
		return FilestoreRequest{}, ErrShortFieldValue
	}
	req := FilestoreRequest{Action: FilestoreAction(f.Value[0] >> 4)}
	first, rest, err := ReadLV(f.Value[1:])
	if err != nil {
		return FilestoreRequest{}, err
	}
	req.First = string(first)
	if req.Action.hasSecond() {
		second, _, err := ReadLV(rest)
		if err != nil {
			return FilestoreRequest{}, err
		}
		req.Second = string(second)
	}
	return req, nil
}

// FilestoreStatus is the four-bit status code of a filestore response.
// Zero is success for every action.
type FilestoreStatus uint8

// The meaning of 0x1 depends on the action (create not allowed, file does
// not exist, ...).
const (
	StatusSuccessful   FilestoreStatus = 0x0
	StatusRejected     FilestoreStatus = 0x1
	StatusNotAllowed   FilestoreStatus = 0x2
	StatusNotPerformed FilestoreStatus = 0xF
)

// FilestoreResponse is the decoded value of a filestore response TLV.
type FilestoreResponse struct {
	Action  FilestoreAction
	Status  FilestoreStatus
	First   string
	Second  string
	Message string
}

func (r FilestoreResponse) Field() (Field, error) {
	v := []byte{uint8(r.Action)<<4 | uint8(r.Status)&0x0F}
	v, err := AppendLV(v, []byte(r.First))
	if err != nil {
		return Field{}, err
	}
	if r.Action.hasSecond() {
		if v, err = AppendLV(v, []byte(r.Second)); err != nil {
			return Field{}, err
		}
	}
	if v, err = AppendLV(v, []byte(r.Message)); err != nil {
		return Field{}, err
	}
	return Field{Type: TypeFilestoreResponse, Value: v}, nil
}

func ParseFilestoreResponse(f Field) (FilestoreResponse, error) {
	if f.Type != TypeFilestoreResponse {
		return FilestoreResponse{}, fmt.Errorf("tlv: type %d is not a filestore response", f.Type)
	}
	if len(f.Value) < 1 {
		return FilestoreResponse{}, ErrShortFieldValue
	}
	resp := FilestoreResponse{
		Action: FilestoreAction(f.Value[0] >> 4),
		Status: FilestoreStatus(f.Value[0] & 0x0F),
	}
	first, rest, err := ReadLV(f.Value[1:])
	if err != nil {
		return FilestoreResponse{}, err
	}
	resp.First = string(first)
	if resp.Action.hasSecond() {
		var second []byte
		if second, rest, err = ReadLV(rest); err != nil {
			return FilestoreResponse{}, err
		}
		resp.Second = string(second)
	}
	msg, _, err := ReadLV(rest)
	if err != nil {
		return FilestoreResponse{}, err
	}
	resp.Message = string(msg)
	return resp, nil
}
