package api

import (
	"time"

	"github.com/danmuck/cfdp/internal/engine"
	"github.com/danmuck/cfdp/internal/protocol/pdu"
	"github.com/danmuck/cfdp/internal/transfer"
)

// Transfer is the JSON form of a transaction view. Enumerations are
// rendered by name.
type Transfer struct {
	ID              string     `json:"id"`
	Role            string     `json:"role"`
	State           string     `json:"state"`
	Ongoing         bool       `json:"ongoing"`
	Mode            string     `json:"mode"`
	Source          uint64     `json:"source"`
	Destination     uint64     `json:"destination"`
	SourceFile      string     `json:"source_file,omitempty"`
	DestinationPath string     `json:"destination_path"`
	FileSize        uint64     `json:"file_size"`
	Progress        uint64     `json:"progress"`
	PeerProgress    uint64     `json:"peer_progress"`
	Checksum        string     `json:"checksum"`
	Condition       string     `json:"condition"`
	FileStatus      string     `json:"file_status"`
	Retransmissions int        `json:"retransmissions"`
	Responses       []Response `json:"filestore_responses,omitempty"`
	Messages        []string   `json:"messages,omitempty"`
	Fault           string     `json:"fault,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type Response struct {
	Action  string `json:"action"`
	Status  uint8  `json:"status"`
	First   string `json:"first"`
	Second  string `json:"second,omitempty"`
	Message string `json:"message,omitempty"`
}

func transferFromView(v transfer.View) Transfer {
	out := Transfer{
		ID:              v.ID.String(),
		Role:            v.Role.String(),
		State:           v.State.String(),
		Ongoing:         v.IsOngoing(),
		Mode:            v.Mode.String(),
		Source:          uint64(v.Source),
		Destination:     uint64(v.Destination),
		SourceFile:      v.SourceFile,
		DestinationPath: v.DestinationPath,
		FileSize:        v.FileSize,
		Progress:        v.Progress,
		PeerProgress:    v.PeerProgress,
		Checksum:        v.Checksum.String(),
		Condition:       v.Condition.String(),
		FileStatus:      v.FileStatus.String(),
		Retransmissions: v.Retransmissions,
		Messages:        v.Messages,
		Fault:           v.Fault,
		CreatedAt:       v.CreatedAt,
		UpdatedAt:       v.UpdatedAt,
	}
	for _, r := range v.Responses {
		out.Responses = append(out.Responses, Response{
			Action:  r.Action.String(),
			Status:  uint8(r.Status),
			First:   r.First,
			Second:  r.Second,
			Message: r.Message,
		})
	}
	return out
}

// PutRequest is the body of POST /transfers. Payload is base64 in JSON; an
// empty string sends a zero-length file and an absent payload is rejected.
type PutRequest struct {
	Destination uint64   `json:"destination"`
	SourceFile  string   `json:"source_file"`
	TargetPath  string   `json:"target_path"`
	Payload     []byte   `json:"payload"`
	Overwrite   bool     `json:"overwrite"`
	CreatePath  bool     `json:"create_path"`
	Mode        string   `json:"mode"`
	Messages    []string `json:"messages"`
}

func (r PutRequest) toEngine() (engine.PutRequest, error) {
	mode, err := engine.ParseModeOverride(r.Mode)
	if err != nil {
		return engine.PutRequest{}, err
	}
	return engine.PutRequest{
		DestinationEntity: pdu.EntityID(r.Destination),
		SourceFile:        r.SourceFile,
		TargetPath:        r.TargetPath,
		Payload:           r.Payload,
		Overwrite:         r.Overwrite,
		CreatePath:        r.CreatePath,
		Mode:              mode,
		Messages:          r.Messages,
	}, nil
}

type PutResponse struct {
	ID string `json:"id"`
}
