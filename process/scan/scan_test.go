package scan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"payproof/models"
	"payproof/pkg/ocr"
)

type fakeRecognizer map[string]ocr.Result

func (f fakeRecognizer) Scan(ctx context.Context, image []byte) ocr.Result {
	if r, ok := f[string(image)]; ok {
		return r
	}
	return ocr.Result{Status: ocr.StatusRecognitionFailed, Err: ocr.ErrNoTransactionID}
}

type memSink struct {
	mu    sync.Mutex
	known map[string]bool
	rows  map[string]models.ScreenshotScan
}

func newMemSink() *memSink {
	return &memSink{known: map[string]bool{}, rows: map[string]models.ScreenshotScan{}}
}

func (m *memSink) Known(ctx context.Context) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]bool{}
	for k, v := range m.known {
		out[k] = v
	}
	return out, nil
}

func (m *memSink) Record(ctx context.Context, s models.ScreenshotScan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[s.FileName] = s
	return nil
}

func (m *memSink) get(name string) (models.ScreenshotScan, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[name]
	return r, ok
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunRecordsEveryScreenshot(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a_u1.png", "img-a")
	writeFile(t, dir, "a_u1.png.json", `{"fileName":"a_u1.png","userId":"u1"}`)
	writeFile(t, dir, "b_u2.jpg", "img-b")
	writeFile(t, dir, "notes.txt", "ignored")
	writeFile(t, dir, "c_u3.gif", "img-c")

	rec := fakeRecognizer{
		"img-a": {Status: ocr.StatusRecognized, TransactionID: "TXA1234567", Rule: "tagged", Text: "TID: TXA1234567"},
		"img-b": {Status: ocr.StatusRecognized, TransactionID: "12345678901", Rule: "numeric"},
	}
	sink := newMemSink()
	sink.known["c_u3.gif"] = true

	sum, err := New(rec, sink, Options{Dir: dir, Workers: 2}, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Scanned != 2 || sum.Recognized != 2 || sum.Skipped != 1 || sum.Failed != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	a, ok := sink.get("a_u1.png")
	if !ok || a.UserID != "u1" || a.TransactionID != "TXA1234567" || a.Rule != "tagged" || a.Failed {
		t.Fatalf("row a = %+v", a)
	}
	if _, ok := sink.get("c_u3.gif"); ok {
		t.Fatalf("known file should be skipped")
	}
}

func TestRunRecordsFailures(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "x.png", "unreadable")
	sink := newMemSink()
	sum, err := New(fakeRecognizer{}, sink, Options{Dir: dir, Workers: 1}, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Failed != 1 || sum.Recognized != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	row, _ := sink.get("x.png")
	if !row.Failed || row.Status != string(ocr.StatusRecognitionFailed) || row.FailedReason == "" {
		t.Fatalf("row = %+v", row)
	}
}

func TestRunDryRunWritesNothing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.png", "img-a")
	sink := newMemSink()
	rec := fakeRecognizer{"img-a": {Status: ocr.StatusRecognized, TransactionID: "TXA1234567"}}
	sum, err := New(rec, sink, Options{Dir: dir, DryRun: true}, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Recognized != 1 || len(sink.rows) != 0 {
		t.Fatalf("summary = %+v rows=%d", sum, len(sink.rows))
	}
}

func TestRunMissingDir(t *testing.T) {
	_, err := New(fakeRecognizer{}, nil, Options{Dir: filepath.Join(t.TempDir(), "nope")}, nil).Run(context.Background())
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestRunCanceled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.png", "img-a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(fakeRecognizer{}, newMemSink(), Options{Dir: dir}, nil).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestWatchScansNewFiles(t *testing.T) {
	dir := t.TempDir()
	sink := newMemSink()
	rec := fakeRecognizer{"img-new": {Status: ocr.StatusRecognized, TransactionID: "NEW1234567", Rule: "alnum"}}
	s := New(rec, sink, Options{Dir: dir, Workers: 1, Settle: 50 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Watch(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	var row models.ScreenshotScan
	var ok bool
	for time.Now().Before(deadline) {
		// rewrite until the watcher is registered and picks the file up
		writeFile(t, dir, "new_u9.png", "img-new")
		time.Sleep(100 * time.Millisecond)
		if row, ok = sink.get("new_u9.png"); ok {
			break
		}
	}
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("watch: %v", err)
	}
	if !ok || row.TransactionID != "NEW1234567" {
		t.Fatalf("row = %+v found=%v", row, ok)
	}
}

func TestListImages(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"b.PNG", "a.jpeg", "a.jpeg.json", "c.webp", "d.gif"} {
		writeFile(t, dir, n, "x")
	}
	if err := os.Mkdir(filepath.Join(dir, "e.png"), 0o755); err != nil {
		t.Fatal(err)
	}
	got, err := ListImages(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a.jpeg", "b.PNG", "d.gif"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}
