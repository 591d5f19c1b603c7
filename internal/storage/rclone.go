package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os/exec"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// RcloneConfig drives the rclone-backed provider.
type RcloneConfig struct {
	Remote    string // rclone remote name, e.g. "gdrive"
	BasePath  string // path prefix inside the remote
	Binary    string
	ServeMode string // "url" to delegate via `rclone link`, anything else streams
}

// RcloneProvider shells out to rclone for remote-backed storage. Locators
// take the form rclone://<remote>/<path>.
type RcloneProvider struct {
	cfg RcloneConfig
	now func() time.Time
}

func NewRcloneProvider(cfg RcloneConfig) *RcloneProvider {
	if cfg.Binary == "" {
		cfg.Binary = "rclone"
	}
	return &RcloneProvider{cfg: cfg, now: time.Now}
}

func (p *RcloneProvider) Name() string { return "rclone" }

func (p *RcloneProvider) remotePath(jobID, name string) string {
	now := p.now().UTC()
	return path.Join(p.cfg.BasePath,
		fmt.Sprintf("%04d/%02d/%02d", now.Year(), now.Month(), now.Day()),
		jobID, name)
}

func (p *RcloneProvider) Put(ctx context.Context, jobID, localPath, preferredName string) (string, error) {
	name := preferredName
	if name == "" {
		name = path.Base(localPath)
	}
	rpath := p.remotePath(jobID, name)
	dest := p.cfg.Remote + ":" + path.Dir(rpath)

	cmd := exec.CommandContext(ctx, p.cfg.Binary, "copyto", localPath, p.cfg.Remote+":"+rpath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		log.Error().Str("job_id", jobID).Str("dest", dest).
			Str("stderr", strings.TrimSpace(stderr.String())).Msg("rclone copy failed")
		return "", fmt.Errorf("rclone copyto: %w", err)
	}
	return "rclone://" + p.cfg.Remote + "/" + rpath, nil
}

func (p *RcloneProvider) split(locator string) (remote, rpath string, err error) {
	trimmed := strings.TrimPrefix(locator, "rclone://")
	if trimmed == locator {
		return "", "", fmt.Errorf("not an rclone locator")
	}
	remote, rpath, ok := strings.Cut(trimmed, "/")
	if !ok || remote == "" || rpath == "" {
		return "", "", fmt.Errorf("malformed rclone locator")
	}
	return remote, rpath, nil
}

func (p *RcloneProvider) Resolve(ctx context.Context, locator string) (io.ReadCloser, FileMetadata, error) {
	remote, rpath, err := p.split(locator)
	if err != nil {
		return nil, FileMetadata{}, err
	}

	meta, err := p.stat(ctx, remote, rpath)
	if err != nil {
		return nil, FileMetadata{}, err
	}

	cmd := exec.CommandContext(ctx, p.cfg.Binary, "cat", remote+":"+rpath)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, FileMetadata{}, err
	}
	if err := cmd.Start(); err != nil {
		return nil, FileMetadata{}, fmt.Errorf("rclone cat: %w", err)
	}
	return &cmdReadCloser{ReadCloser: stdout, cmd: cmd}, meta, nil
}

func (p *RcloneProvider) URLFor(ctx context.Context, locator string, ttl time.Duration) (string, error) {
	if p.cfg.ServeMode != "url" {
		return "", ErrNoDelegatedURL
	}
	remote, rpath, err := p.split(locator)
	if err != nil {
		return "", err
	}

	out, err := exec.CommandContext(ctx, p.cfg.Binary,
		"link", "--expire", ttl.String(), remote+":"+rpath).Output()
	if err != nil {
		return "", fmt.Errorf("rclone link: %w", err)
	}
	link := strings.TrimSpace(string(out))
	if link == "" {
		return "", ErrNoDelegatedURL
	}
	return link, nil
}

func (p *RcloneProvider) stat(ctx context.Context, remote, rpath string) (FileMetadata, error) {
	out, err := exec.CommandContext(ctx, p.cfg.Binary,
		"lsjson", remote+":"+path.Dir(rpath), "--files-only").Output()
	if err != nil {
		return FileMetadata{}, fmt.Errorf("rclone lsjson: %w", err)
	}

	var entries []struct {
		Name    string    `json:"Name"`
		Size    int64     `json:"Size"`
		ModTime time.Time `json:"ModTime"`
	}
	if err := json.Unmarshal(out, &entries); err != nil {
		return FileMetadata{}, fmt.Errorf("parse lsjson output: %w", err)
	}

	want := path.Base(rpath)
	for _, e := range entries {
		if e.Name != want {
			continue
		}
		contentType := mime.TypeByExtension(path.Ext(want))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		return FileMetadata{Size: e.Size, ContentType: contentType, ModTime: e.ModTime}, nil
	}
	return FileMetadata{}, fmt.Errorf("artifact %s not found on remote", rpath)
}

// cmdReadCloser reaps the subprocess when the stream is closed.
type cmdReadCloser struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (c *cmdReadCloser) Close() error {
	err := c.ReadCloser.Close()
	if werr := c.cmd.Wait(); werr != nil && err == nil {
		err = werr
	}
	return err
}
