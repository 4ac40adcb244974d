package uploads

import (
	"time"

	"github.com/bryanwahyu/xray-analyzer/internal/domain/analysis"
)

// SessionID identifier type
type SessionID string

// Status enum
type Status string

const (
	StatusIdle      Status = "idle"
	StatusReady     Status = "ready"
	StatusUploading Status = "uploading"
	StatusDone      Status = "done"
	StatusError     Status = "error"
)

// File is a user-selected binary blob staged for submission.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

func (f File) Size() int64 { return int64(len(f.Data)) }

// FileInfo describes a staged file without its bytes.
type FileInfo struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size"`
}

func (f File) Info() FileInfo {
	return FileInfo{Name: f.Name, ContentType: f.ContentType, Size: f.Size()}
}

// Preview is a displayable reference to a staged file's bytes.
type Preview struct {
	Key string `json:"-"`
	URL string `json:"url"`
}

// Session is a point-in-time copy of one upload session.
// Result is set only when Status is done, Error only when Status is error.
type Session struct {
	ID        SessionID                `json:"id"`
	Owner     string                   `json:"owner,omitempty"`
	Status    Status                   `json:"status"`
	Progress  int                      `json:"progress"`
	Attempt   int                      `json:"attempt"`
	File      *FileInfo                `json:"file,omitempty"`
	Preview   *Preview                 `json:"preview,omitempty"`
	Result    *analysis.AnalysisResult `json:"result,omitempty"`
	Error     string                   `json:"error,omitempty"`
	UpdatedAt time.Time                `json:"updated_at"`
}
