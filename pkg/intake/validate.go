package intake

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// DefaultMaxBytes is the largest accepted screenshot (10 MiB).
const DefaultMaxBytes int64 = 10 << 20

var allowedTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/gif":  true,
}

var extByType = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
}

// Allowed reports whether mimeType is one of JPEG, PNG or GIF.
func Allowed(mimeType string) bool {
	return allowedTypes[normalizeType(mimeType)]
}

func normalizeType(t string) string {
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return strings.ToLower(mt)
	}
	return strings.ToLower(strings.TrimSpace(t))
}

// resolveType returns the declared part type, sniffing the content when the client
// sent none or a generic one. r is rewound before returning.
func resolveType(declared string, r io.ReadSeeker) (string, error) {
	t := normalizeType(declared)
	if t != "" && t != "application/octet-stream" {
		return t, nil
	}
	mt, err := mimetype.DetectReader(r)
	if err != nil {
		return "", fmt.Errorf("detect content type: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind upload: %w", err)
	}
	return normalizeType(mt.String()), nil
}

const packageDetailsSchema = `{
  "type": "object",
  "properties": {
    "id": {"type": ["string", "number"]},
    "name": {"type": "string"},
    "price": {"type": ["string", "number"]},
    "duration": {"type": "string"},
    "features": {"type": "array", "items": {"type": "string"}}
  }
}`

var packageSchema = jsonschema.MustCompileString("packageDetails.json", packageDetailsSchema)

// parsePackageDetails validates the optional JSON-encoded package blob and returns it
// compacted. An empty string yields nil, which is stored as null.
func parsePackageDetails(raw string) (json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPackageDetails, err)
	}
	if err := packageSchema.Validate(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPackageDetails, err)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPackageDetails, err)
	}
	return json.RawMessage(buf.Bytes()), nil
}
