package intake

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrFileTooLarge          = errors.New("file too large")
	ErrInvalidType           = errors.New("invalid file type")
	ErrMissingFile           = errors.New("no file uploaded")
	ErrMissingUser           = errors.New("userId is required")
	ErrInvalidPackageDetails = errors.New("invalid packageDetails")
	ErrNotFound              = errors.New("file not found")
)

// isoMillis matches the ISO-8601 form browsers produce (2024-05-01T10:20:30.123Z).
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// Record is the metadata sidecar written next to every stored screenshot.
// Records are immutable once written.
type Record struct {
	OriginalName   string          `json:"originalName"`
	FileName       string          `json:"fileName"`
	Size           int64           `json:"size"`
	MIMEType       string          `json:"mimetype"`
	UserID         string          `json:"userId"`
	UserEmail      string          `json:"userEmail"`
	PackageDetails json.RawMessage `json:"packageDetails"`
	UploadedAt     string          `json:"uploadedAt"`
	FilePath       string          `json:"filePath"`
}

// UploadTime parses UploadedAt; malformed values yield the zero time.
func (r Record) UploadTime() time.Time {
	t, err := time.Parse(time.RFC3339Nano, r.UploadedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// sidecarName returns the metadata file name for a stored file.
func sidecarName(fileName string) string {
	return fileName + sidecarExt
}

const sidecarExt = ".json"
