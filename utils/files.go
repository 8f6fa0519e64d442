package utils

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	config "github.com/phillip/schoolfund-go/config"
)

// FileStore persists uploaded files and returns a reference (URL or path).
type FileStore interface {
	Save(ctx context.Context, kind, filename string, r io.Reader) (string, error)
	Delete(ctx context.Context, ref string) error
}

// NewFileStore uses Cloudinary when it is configured and local disk otherwise.
func NewFileStore(cfg *config.Config) (FileStore, error) {
	if cfg.CloudinaryEnabled() {
		return NewCloudinaryStore(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret)
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStore{Dir: cfg.UploadDir, BaseURL: cfg.PublicBaseURL}, nil
}

// StoredName builds `<unix millis>-<8 random hex><ext>`, keeping the
// original extension in lower case.
func StoredName(original string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(original))
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%d-%s%s", now.UnixMilli(), suffix, ext)
}

// SniffMIME detects the content type of r and rewinds it.
func SniffMIME(r io.ReadSeeker) (string, error) {
	mt, err := mimetype.DetectReader(r)
	if err != nil {
		return "", fmt.Errorf("detect mime type: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return mt.String(), nil
}

// ---------------- local disk ----------------

// LocalStore writes under Dir/<kind>/ and serves from /uploads/<kind>/.
type LocalStore struct {
	Dir     string
	BaseURL string
	Now     func() time.Time
}

func (l *LocalStore) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *LocalStore) Save(ctx context.Context, kind, filename string, r io.Reader) (string, error) {
	dir := filepath.Join(l.Dir, kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s dir: %w", kind, err)
	}

	name := StoredName(filename, l.now())
	full := filepath.Join(dir, name)
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(full)
		return "", fmt.Errorf("write file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(full)
		return "", err
	}

	ref := path.Join("/uploads", kind, name)
	if l.BaseURL != "" {
		ref = l.BaseURL + ref
	}
	slog.DebugContext(ctx, "Stored upload", slog.String("ref", ref))
	return ref, nil
}

func (l *LocalStore) Delete(_ context.Context, ref string) error {
	rel := strings.TrimPrefix(ref, l.BaseURL)
	rel = strings.TrimPrefix(rel, "/uploads/")
	if rel == "" || strings.Contains(rel, "..") {
		return fmt.Errorf("refusing to delete %q", ref)
	}
	err := os.Remove(filepath.Join(l.Dir, filepath.FromSlash(rel)))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
