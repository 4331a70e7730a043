package intake

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

var (
	unsafeUserChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)
	imageExts       = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true}
)

// Upload is one validated file handed to Store.Save.
type Upload struct {
	Body           io.Reader
	OriginalName   string
	MIMEType       string
	UserID         string
	UserEmail      string
	PackageDetails json.RawMessage
}

// Store keeps screenshots and their sidecars in a single local directory.
type Store struct {
	dir string
	now func() time.Time
}

type StoreOption func(*Store)

// WithClock overrides the clock used for upload timestamps and stored names.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore resolves dir to an absolute path. It does not touch the filesystem;
// call EnsureDir during startup.
func NewStore(dir string, opts ...StoreOption) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir %q: %w", dir, err)
	}
	s := &Store{dir: abs, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Dir returns the absolute upload directory.
func (s *Store) Dir() string { return s.dir }

// EnsureDir creates the upload directory if it is missing. Safe to call repeatedly.
func (s *Store) EnsureDir() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create upload dir %s: %w", s.dir, err)
	}
	return nil
}

// StoredName derives the on-disk name from the upload time, the user id and the
// original extension, e.g. 2024-05-01T10-20-30-123Z_abc123.png. Only image
// extensions are kept; anything else is replaced by the one for mimeType so the
// file is never served as another content type.
func StoredName(at time.Time, userID, originalName, mimeType string) string {
	ts := strings.NewReplacer(":", "-", ".", "-").Replace(at.UTC().Format(isoMillis))
	user := unsafeUserChars.ReplaceAllString(userID, "_")
	ext := strings.ToLower(filepath.Ext(originalName))
	if !imageExts[ext] {
		ext = extByType[normalizeType(mimeType)]
	}
	return ts + "_" + user + ext
}

// Save writes the file and its sidecar. A name collision overwrites the earlier upload.
func (s *Store) Save(u Upload) (Record, error) {
	if err := s.EnsureDir(); err != nil {
		return Record{}, err
	}
	at := s.now()
	name := StoredName(at, u.UserID, u.OriginalName, u.MIMEType)
	full := filepath.Join(s.dir, name)

	f, err := os.Create(full)
	if err != nil {
		return Record{}, fmt.Errorf("create %s: %w", name, err)
	}
	n, err := io.Copy(f, u.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(full)
		return Record{}, fmt.Errorf("write %s: %w", name, err)
	}

	rec := Record{
		OriginalName:   u.OriginalName,
		FileName:       name,
		Size:           n,
		MIMEType:       u.MIMEType,
		UserID:         u.UserID,
		UserEmail:      u.UserEmail,
		PackageDetails: u.PackageDetails,
		UploadedAt:     at.UTC().Format(isoMillis),
		FilePath:       full,
	}
	meta, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		_ = os.Remove(full)
		return Record{}, fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, sidecarName(name)), meta, 0o644); err != nil {
		_ = os.Remove(full)
		return Record{}, fmt.Errorf("write metadata for %s: %w", name, err)
	}
	return rec, nil
}

// List returns every readable sidecar, newest upload first. Sidecars that fail to
// parse are reported through skip (when non-nil) and left out.
func (s *Store) List(skip func(name string, err error)) ([]Record, error) {
	if err := s.EnsureDir(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read upload dir: %w", err)
	}
	out := []Record{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), sidecarExt) {
			continue
		}
		b, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			if skip != nil {
				skip(e.Name(), err)
			}
			continue
		}
		var rec Record
		if err := json.Unmarshal(b, &rec); err != nil {
			if skip != nil {
				skip(e.Name(), err)
			}
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UploadTime().After(out[j].UploadTime())
	})
	return out, nil
}

// Path returns the absolute path of a stored file. Anything other than a plain
// file name inside the upload directory is reported as ErrNotFound.
func (s *Store) Path(name string) (string, error) {
	if name == "" || name == "." || name == ".." || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) {
		return "", ErrNotFound
	}
	full := filepath.Join(s.dir, name)
	fi, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("stat %s: %w", name, err)
	}
	if fi.IsDir() {
		return "", ErrNotFound
	}
	return full, nil
}
