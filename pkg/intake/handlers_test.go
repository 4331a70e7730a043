package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type formFile struct {
	name, contentType string
	data              []byte
}

func multipartBody(t *testing.T, file *formFile, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if file != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="screenshot"; filename="%s"`, file.name))
		if file.contentType != "" {
			h.Set("Content-Type", file.contentType)
		}
		part, err := w.CreatePart(h)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := part.Write(file.data); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &body, w.FormDataContentType()
}

func newTestRouter(t *testing.T, store *Store, opts ...Option) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(store, nil, opts...).RegisterRoutes(r)
	return r
}

func doUpload(r http.Handler, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/upload-payment-screenshot", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func pngPayload(n int) []byte {
	b := make([]byte, n)
	copy(b, []byte("\x89PNG\r\n\x1a\n"))
	return b
}

func TestUploadTooLargeRejected(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewStore(dir)
	r := newTestRouter(t, s)

	body, ct := multipartBody(t, &formFile{"big.jpg", "image/jpeg", make([]byte, 15<<20)}, map[string]string{"userId": "abc123"})
	rec := doUpload(r, body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	out := decode(t, rec)
	if out["success"] != false || out["error"] != "file too large" {
		t.Fatalf("unexpected body %v", out)
	}
	if names := dirEntries(t, dir); len(names) != 0 {
		t.Fatalf("expected empty upload dir, got %v", names)
	}
}

func TestUploadStoresFileSidecarAndListsNewestFirst(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	s, _ := NewStore(dir, WithClock(func() time.Time { return now }))
	if _, err := s.Save(Upload{Body: strings.NewReader("old"), OriginalName: "old.png", MIMEType: "image/png", UserID: "older"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	now = now.Add(time.Hour)
	r := newTestRouter(t, s)

	payload := pngPayload(2 << 20)
	body, ct := multipartBody(t, &formFile{"receipt.png", "image/png", payload}, map[string]string{
		"userId":         "abc123",
		"userEmail":      "abc@example.com",
		"packageDetails": `{"name": "Premium", "price": 1500}`,
	})
	rec := doUpload(r, body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	out := decode(t, rec)
	fileName, _ := out["fileName"].(string)
	if out["success"] != true || out["originalName"] != "receipt.png" || out["size"] != float64(len(payload)) {
		t.Fatalf("unexpected body %v", out)
	}
	if !strings.HasSuffix(fileName, "_abc123.png") {
		t.Fatalf("fileName = %q", fileName)
	}

	var images, sidecars int
	for _, n := range dirEntries(t, dir) {
		if !strings.Contains(n, "abc123") {
			continue
		}
		if strings.HasSuffix(n, ".json") {
			sidecars++
		} else {
			images++
		}
	}
	if images != 1 || sidecars != 1 {
		t.Fatalf("expected one file and one sidecar, got %d/%d", images, sidecars)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/payment-screenshots", nil)
	lrec := httptest.NewRecorder()
	r.ServeHTTP(lrec, req)
	if lrec.Code != http.StatusOK {
		t.Fatalf("list status = %d", lrec.Code)
	}
	var list struct {
		Success     bool     `json:"success"`
		Count       int      `json:"count"`
		Screenshots []Record `json:"screenshots"`
	}
	if err := json.Unmarshal(lrec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Count != 2 || list.Screenshots[0].FileName != fileName || list.Screenshots[1].UserID != "older" {
		t.Fatalf("unexpected list %+v", list)
	}
	if string(list.Screenshots[0].PackageDetails) != `{"name":"Premium","price":1500}` {
		t.Fatalf("packageDetails = %s", list.Screenshots[0].PackageDetails)
	}
}

func TestUploadValidation(t *testing.T) {
	cases := []struct {
		name   string
		file   *formFile
		fields map[string]string
		want   string
	}{
		{"no file", nil, map[string]string{"userId": "u1"}, "no file uploaded"},
		{"pdf", &formFile{"doc.pdf", "application/pdf", []byte("%PDF-1.4")}, map[string]string{"userId": "u1"}, "invalid file type, only JPEG, PNG and GIF images are allowed"},
		{"missing user", &formFile{"a.png", "image/png", pngPayload(64)}, nil, "userId is required"},
		{"package not object", &formFile{"a.png", "image/png", pngPayload(64)}, map[string]string{"userId": "u1", "packageDetails": `[1,2]`}, ""},
		{"package not json", &formFile{"a.png", "image/png", pngPayload(64)}, map[string]string{"userId": "u1", "packageDetails": `{oops`}, ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			dir := t.TempDir()
			s, _ := NewStore(dir)
			r := newTestRouter(t, s)
			body, ct := multipartBody(t, c.file, c.fields)
			rec := doUpload(r, body, ct)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
			}
			out := decode(t, rec)
			errMsg, _ := out["error"].(string)
			if c.want != "" && errMsg != c.want {
				t.Fatalf("error = %q want %q", errMsg, c.want)
			}
			if c.want == "" && !strings.HasPrefix(errMsg, "invalid packageDetails") {
				t.Fatalf("error = %q", errMsg)
			}
			if names := dirEntries(t, dir); len(names) != 0 {
				t.Fatalf("nothing should be stored, got %v", names)
			}
		})
	}
}

func TestUploadSniffsGenericContentType(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewStore(dir)
	r := newTestRouter(t, s)
	png := append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 64)...)
	body, ct := multipartBody(t, &formFile{"upload", "application/octet-stream", png}, map[string]string{"userId": "u1"})
	rec := doUpload(r, body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	out := decode(t, rec)
	if name, _ := out["fileName"].(string); !strings.HasSuffix(name, "_u1.png") {
		t.Fatalf("fileName = %q", name)
	}
}

func TestUploadNonImageExtensionServedAsImage(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewStore(dir)
	r := newTestRouter(t, s)

	body, ct := multipartBody(t, &formFile{"x.html", "image/png", pngPayload(256)}, map[string]string{"userId": "u1"})
	rec := doUpload(r, body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	fileName, _ := decode(t, rec)["fileName"].(string)
	if !strings.HasSuffix(fileName, "_u1.png") {
		t.Fatalf("fileName = %q", fileName)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/payment-screenshots/"+fileName, nil)
	got := httptest.NewRecorder()
	r.ServeHTTP(got, req)
	if got.Code != http.StatusOK {
		t.Fatalf("serve status = %d", got.Code)
	}
	if typ := got.Header().Get("Content-Type"); typ != "image/png" {
		t.Fatalf("Content-Type = %q", typ)
	}
}

func TestServeScreenshot(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewStore(dir)
	if err := os.WriteFile(filepath.Join(dir, "x_u1.png"), []byte("pngdata"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := newTestRouter(t, s)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/payment-screenshots/x_u1.png", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "pngdata" {
		t.Fatalf("status = %d body=%q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/payment-screenshots/does-not-exist.png", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if out := decode(t, rec); out["error"] != "file not found" {
		t.Fatalf("unexpected body %v", out)
	}
}

func TestGuardProtectsListing(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	gin.SetMode(gin.TestMode)
	r := gin.New()
	deny := func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
	}
	NewHandler(s, nil).RegisterRoutes(r, deny)

	for _, p := range []string{"/api/payment-screenshots", "/api/payment-screenshots/a.png"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, p, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s status = %d", p, rec.Code)
		}
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewStore(dir)
	r := newTestRouter(t, s)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	out := decode(t, rec)
	if out["status"] != "OK" || out["uploadDir"] != s.Dir() {
		t.Fatalf("unexpected body %v", out)
	}
	if _, err := time.Parse(time.RFC3339Nano, out["timestamp"].(string)); err != nil {
		t.Fatalf("timestamp: %v", err)
	}
}

type chanMirror chan Record

func (m chanMirror) Put(ctx context.Context, rec Record) error {
	m <- rec
	return nil
}

func TestUploadMirrorsRecord(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	mirror := make(chanMirror, 1)
	r := newTestRouter(t, s, WithMirror(mirror))
	body, ct := multipartBody(t, &formFile{"a.gif", "image/gif", []byte("GIF89a....")}, map[string]string{"userId": "m1"})
	if rec := doUpload(r, body, ct); rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	select {
	case rec := <-mirror:
		if rec.UserID != "m1" || rec.MIMEType != "image/gif" {
			t.Fatalf("unexpected mirrored record %+v", rec)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("mirror was not called")
	}
}

func TestClientUpload(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewStore(dir)
	srv := httptest.NewServer(newTestRouter(t, s))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	resp, err := c.Upload(context.Background(), "shot.png", "image/png", pngPayload(128), "client1", "c@example.com", json.RawMessage(`{"name":"Basic"}`))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !resp.Success || resp.Size != 128 || !strings.HasSuffix(resp.FileName, "_client1.png") {
		t.Fatalf("unexpected response %+v", resp)
	}
	if _, err := os.Stat(filepath.Join(dir, resp.FileName)); err != nil {
		t.Fatalf("stored file missing: %v", err)
	}

	if _, err := c.Upload(context.Background(), "doc.pdf", "application/pdf", []byte("%PDF"), "client1", "", nil); err == nil {
		t.Fatal("expected rejection for pdf")
	}
}
