// Package scan runs transaction-ID recognition over the intake upload directory
// and records one models.ScreenshotScan per screenshot.
package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"payproof/models"
	"payproof/pkg/intake"
	"payproof/pkg/ocr"
)

const rawTextLimit = 1024

// Recognizer is satisfied by *ocr.Pipeline.
type Recognizer interface {
	Scan(ctx context.Context, image []byte) ocr.Result
}

// Sink stores scan rows. Known returns file names that already have a successful scan.
type Sink interface {
	Known(ctx context.Context) (map[string]bool, error)
	Record(ctx context.Context, scan models.ScreenshotScan) error
}

type Options struct {
	Dir     string
	Workers int
	// DryRun recognizes and logs but never touches the sink.
	DryRun bool
	// Rescan processes files that already have a successful scan.
	Rescan bool
	// Settle is how long a watched file must stay quiet before it is scanned.
	Settle time.Duration
}

// Summary counts what one Run did.
type Summary struct {
	Scanned    int
	Recognized int
	Failed     int
	Skipped    int
}

type Scanner struct {
	rec  Recognizer
	sink Sink
	opts Options
	log  *zap.Logger

	mu    sync.Mutex
	known map[string]bool
}

func New(rec Recognizer, sink Sink, opts Options, log *zap.Logger) *Scanner {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Settle <= 0 {
		opts.Settle = 300 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scanner{rec: rec, sink: sink, opts: opts, log: log, known: map[string]bool{}}
}

// Run scans every image currently in the directory.
func (s *Scanner) Run(ctx context.Context) (Summary, error) {
	if err := s.preload(ctx); err != nil {
		return Summary{}, err
	}
	files, err := ListImages(s.opts.Dir)
	if err != nil {
		return Summary{}, err
	}
	s.log.Info("scanning screenshots",
		zap.String("dir", s.opts.Dir),
		zap.Int("files", len(files)),
		zap.Int("workers", s.opts.Workers),
		zap.Bool("dry_run", s.opts.DryRun))

	ch := make(chan string)
	go func() {
		defer close(ch)
		for _, f := range files {
			select {
			case ch <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	sum := s.pool(ctx, ch)
	return sum, ctx.Err()
}

// Watch scans screenshots as they land in the directory until ctx ends.
func (s *Scanner) Watch(ctx context.Context) error {
	if err := s.preload(ctx); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(s.opts.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.opts.Dir, err)
	}
	s.log.Info("watching for screenshots", zap.String("dir", s.opts.Dir))

	ch := make(chan string, 256)
	done := make(chan Summary, 1)
	go func() { done <- s.pool(ctx, ch) }()

	pending := map[string]time.Time{}
	tick := time.NewTicker(s.opts.Settle / 2)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			close(ch)
			<-done
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				close(ch)
				<-done
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			if isImage(name) {
				pending[name] = time.Now()
			}
		case <-tick.C:
			now := time.Now()
			for name, t := range pending {
				if now.Sub(t) >= s.opts.Settle {
					delete(pending, name)
					ch <- name
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				close(ch)
				<-done
				return nil
			}
			s.log.Warn("watch error", zap.Error(err))
		}
	}
}

func (s *Scanner) preload(ctx context.Context) error {
	if s.opts.DryRun || s.opts.Rescan || s.sink == nil {
		return nil
	}
	known, err := s.sink.Known(ctx)
	if err != nil {
		return fmt.Errorf("load existing scans: %w", err)
	}
	s.mu.Lock()
	s.known = known
	s.mu.Unlock()
	s.log.Debug("preloaded scans", zap.Int("known", len(known)))
	return nil
}

func (s *Scanner) pool(ctx context.Context, ch <-chan string) Summary {
	var scanned, recognized, failed, skipped int64
	var wg sync.WaitGroup
	for i := 0; i < s.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range ch {
				if ctx.Err() != nil {
					continue
				}
				if s.isKnown(name) {
					atomic.AddInt64(&skipped, 1)
					continue
				}
				row, err := s.scanFile(ctx, name)
				if err != nil {
					s.log.Warn("scan failed", zap.String("file", name), zap.Error(err))
					atomic.AddInt64(&failed, 1)
					continue
				}
				atomic.AddInt64(&scanned, 1)
				if row.Failed {
					atomic.AddInt64(&failed, 1)
				} else {
					atomic.AddInt64(&recognized, 1)
				}
			}
		}()
	}
	wg.Wait()
	return Summary{
		Scanned:    int(scanned),
		Recognized: int(recognized),
		Failed:     int(failed),
		Skipped:    int(skipped),
	}
}

func (s *Scanner) isKnown(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.known[name]
}

func (s *Scanner) markKnown(name string) {
	s.mu.Lock()
	s.known[name] = true
	s.mu.Unlock()
}

// scanFile recognizes one screenshot and records the outcome.
func (s *Scanner) scanFile(ctx context.Context, name string) (models.ScreenshotScan, error) {
	full := filepath.Join(s.opts.Dir, name)
	data, err := os.ReadFile(full)
	if err != nil {
		return models.ScreenshotScan{}, fmt.Errorf("read %s: %w", name, err)
	}
	res := s.rec.Scan(ctx, data)
	if errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded) {
		return models.ScreenshotScan{}, res.Err
	}

	row := models.ScreenshotScan{
		FileName:      name,
		UserID:        userFromSidecar(full),
		ContentType:   mimetype.Detect(data).String(),
		TransactionID: res.TransactionID,
		Rule:          res.Rule,
		Status:        string(res.Status),
		RawText:       truncate(ocr.NormalizeText(res.Text), rawTextLimit),
	}
	if res.Status != ocr.StatusRecognized {
		row.Failed = true
		if res.Err != nil {
			row.FailedReason = truncate(res.Err.Error(), 255)
		}
	}
	s.log.Info("screenshot scanned",
		zap.String("file", name),
		zap.String("status", row.Status),
		zap.String("transaction_id", row.TransactionID),
		zap.String("rule", row.Rule),
		zap.Duration("took", res.Duration))

	if s.opts.DryRun || s.sink == nil {
		return row, nil
	}
	if err := s.sink.Record(ctx, row); err != nil {
		return row, fmt.Errorf("record %s: %w", name, err)
	}
	if !row.Failed {
		s.markKnown(name)
	}
	return row, nil
}

// userFromSidecar reads the uploader from the intake metadata, if present.
func userFromSidecar(imagePath string) string {
	b, err := os.ReadFile(imagePath + ".json")
	if err != nil {
		return ""
	}
	var rec intake.Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return ""
	}
	return rec.UserID
}

// ListImages returns the screenshot file names in dir, sorted.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !isImage(e.Name()) {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

func isImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif":
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
