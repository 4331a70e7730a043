package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// UploadResponse is the body returned by the upload endpoint.
type UploadResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message,omitempty"`
	FileName     string `json:"fileName,omitempty"`
	Size         int64  `json:"size,omitempty"`
	OriginalName string `json:"originalName,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Client posts screenshots to a running intake service.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// UploadFile reads path and sends it as the screenshot part. packageDetails may be nil.
func (c *Client) UploadFile(ctx context.Context, path, mimeType, userID, userEmail string, packageDetails json.RawMessage) (UploadResponse, error) {
	data, err := readFile(path)
	if err != nil {
		return UploadResponse{}, err
	}
	return c.Upload(ctx, filepath.Base(path), mimeType, data, userID, userEmail, packageDetails)
}

func (c *Client) Upload(ctx context.Context, fileName, mimeType string, data []byte, userID, userEmail string, packageDetails json.RawMessage) (UploadResponse, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="screenshot"; filename="%s"`, escapeQuotes(fileName)))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return UploadResponse{}, err
	}
	if _, err := part.Write(data); err != nil {
		return UploadResponse{}, err
	}
	_ = w.WriteField("userId", userID)
	if userEmail != "" {
		_ = w.WriteField("userEmail", userEmail)
	}
	if len(packageDetails) > 0 {
		_ = w.WriteField("packageDetails", string(packageDetails))
	}
	if err := w.Close(); err != nil {
		return UploadResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/upload-payment-screenshot", &body)
	if err != nil {
		return UploadResponse{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return UploadResponse{}, fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	var out UploadResponse
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return UploadResponse{}, fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return UploadResponse{}, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !out.Success {
		return out, fmt.Errorf("upload rejected (status %d): %s", resp.StatusCode, out.Error)
	}
	return out, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
