package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalProvider lays artifacts out under a date-partitioned, job-scoped
// path: <root>/<yyyy>/<mm>/<dd>/<jobID>/<name>.
type LocalProvider struct {
	root string
	now  func() time.Time
}

func NewLocalProvider(root string) *LocalProvider {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	return &LocalProvider{root: abs, now: time.Now}
}

func (p *LocalProvider) Name() string { return "local" }

func (p *LocalProvider) Put(_ context.Context, jobID, localPath, preferredName string) (string, error) {
	now := p.now().UTC()
	dir := filepath.Join(p.root,
		fmt.Sprintf("%04d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%02d", now.Day()),
		jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create storage dir: %w", err)
	}

	name := preferredName
	if name == "" {
		name = filepath.Base(localPath)
	}
	dest := filepath.Join(dir, name)

	// Never clobber: append a numeric suffix on collision.
	for counter := 1; ; counter++ {
		if _, err := os.Stat(dest); os.IsNotExist(err) {
			break
		}
		ext := filepath.Ext(name)
		stem := strings.TrimSuffix(name, ext)
		dest = filepath.Join(dir, fmt.Sprintf("%s-%d%s", stem, counter, ext))
	}

	if err := moveFile(localPath, dest); err != nil {
		return "", fmt.Errorf("store artifact: %w", err)
	}
	return "file://" + dest, nil
}

func (p *LocalProvider) Resolve(_ context.Context, locator string) (io.ReadCloser, FileMetadata, error) {
	path := strings.TrimPrefix(locator, "file://")

	// Locators are server-generated, but stay inside the root regardless.
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil || !strings.HasPrefix(abs, p.root+string(filepath.Separator)) {
		return nil, FileMetadata{}, fmt.Errorf("locator outside storage root")
	}

	f, err := os.Open(abs)
	if err != nil {
		return nil, FileMetadata{}, fmt.Errorf("open artifact: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, FileMetadata{}, fmt.Errorf("stat artifact: %w", err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(abs))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return f, FileMetadata{
		Size:        stat.Size(),
		ContentType: contentType,
		ModTime:     stat.ModTime(),
	}, nil
}

func (p *LocalProvider) URLFor(context.Context, string, time.Duration) (string, error) {
	return "", ErrNoDelegatedURL
}

// moveFile renames, falling back to copy+remove for cross-device moves
// (scratch dirs usually live on a different filesystem than storage).
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dest)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
