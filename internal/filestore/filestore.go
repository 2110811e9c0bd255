// Package filestore is the destination-side file storage used to deliver
// completed transfers and to run Metadata filestore requests.
package filestore

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/danmuck/cfdp/internal/protocol/tlv"
)

var (
	ErrInvalidPath = errors.New("filestore: invalid path")
	ErrExists      = errors.New("filestore: already exists")
	ErrNotExist    = errors.New("filestore: does not exist")
	ErrNotAllowed  = errors.New("filestore: not allowed")
)

// Store is the filesystem surface a receiver delivers into. Paths are
// slash-separated and absolute within the store.
type Store interface {
	Exists(name string) (bool, error)
	ReadFile(name string) ([]byte, error)
	// WriteFile creates name with data and fails with ErrExists when name
	// is already present.
	WriteFile(name string, data []byte) error
	DeleteFile(name string) error
	RenameFile(from, to string) error
	AppendFile(dst, src string) error
	CreateDirectory(name string) error
	RemoveDirectory(name string) error
}

// Clean normalizes a store path and rejects empty or escaping names.
func Clean(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q escapes the store", ErrInvalidPath, name)
		}
	}
	return path.Clean("/" + name), nil
}

// Parent is the directory holding name.
func Parent(name string) string {
	return path.Dir(path.Clean("/" + name))
}

// Execute runs one filestore request and reports its outcome.
func Execute(s Store, req tlv.FilestoreRequest) tlv.FilestoreResponse {
	resp := tlv.FilestoreResponse{Action: req.Action, First: req.First, Second: req.Second}
	var err error
	switch req.Action {
	case tlv.ActionCreateFile:
		err = s.WriteFile(req.First, nil)
	case tlv.ActionDeleteFile:
		err = s.DeleteFile(req.First)
	case tlv.ActionRenameFile:
		err = s.RenameFile(req.First, req.Second)
	case tlv.ActionAppendFile:
		err = s.AppendFile(req.First, req.Second)
	case tlv.ActionReplaceFile:
		err = replaceFile(s, req.First, req.Second)
	case tlv.ActionCreateDirectory:
		err = s.CreateDirectory(req.First)
	case tlv.ActionRemoveDirectory:
		err = s.RemoveDirectory(req.First)
	case tlv.ActionDenyFile:
		if err = s.DeleteFile(req.First); errors.Is(err, ErrNotExist) {
			err = nil
		}
	case tlv.ActionDenyDirectory:
		if err = s.RemoveDirectory(req.First); errors.Is(err, ErrNotExist) {
			err = nil
		}
	default:
		resp.Status = tlv.StatusNotPerformed
		resp.Message = fmt.Sprintf("unsupported action %s", req.Action)
		return resp
	}
	resp.Status = statusFor(err)
	if err != nil {
		resp.Message = message(err)
	}
	return resp
}

// Deliver writes a completed file image and reports it as a create file
// response.
func Deliver(s Store, name string, data []byte) tlv.FilestoreResponse {
	resp := tlv.FilestoreResponse{Action: tlv.ActionCreateFile, First: name}
	err := s.WriteFile(name, data)
	resp.Status = statusFor(err)
	if err != nil {
		resp.Message = message(err)
	}
	return resp
}

// ExecuteAll runs requests in order. After the first failure the remaining
// requests are reported as not performed. ok is false when any failed.
func ExecuteAll(s Store, reqs []tlv.FilestoreRequest) ([]tlv.FilestoreResponse, bool) {
	out := make([]tlv.FilestoreResponse, 0, len(reqs))
	ok := true
	for _, req := range reqs {
		if !ok {
			out = append(out, tlv.FilestoreResponse{
				Action: req.Action,
				Status: tlv.StatusNotPerformed,
				First:  req.First,
				Second: req.Second,
			})
			continue
		}
		resp := Execute(s, req)
		if resp.Status != tlv.StatusSuccessful {
			ok = false
		}
		out = append(out, resp)
	}
	return out, ok
}

func replaceFile(s Store, dst, src string) error {
	data, err := s.ReadFile(src)
	if err != nil {
		return err
	}
	if err := s.DeleteFile(dst); err != nil {
		return err
	}
	return s.WriteFile(dst, data)
}

// maxMessageLen keeps a response TLV within its one-octet length.
const maxMessageLen = 64

func message(err error) string {
	m := err.Error()
	if len(m) > maxMessageLen {
		m = m[:maxMessageLen]
	}
	return m
}

func statusFor(err error) tlv.FilestoreStatus {
	switch {
	case err == nil:
		return tlv.StatusSuccessful
	case errors.Is(err, ErrNotAllowed), errors.Is(err, ErrInvalidPath):
		return tlv.StatusNotAllowed
	default:
		return tlv.StatusRejected
	}
}
