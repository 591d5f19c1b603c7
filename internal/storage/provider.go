package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/wizdom13/ytdlnis/internal/config"
)

// ErrNoDelegatedURL signals that the provider cannot hand out a direct
// URL; retrieval must stream through the service's download endpoint.
var ErrNoDelegatedURL = errors.New("storage: delegated URLs not supported")

type FileMetadata struct {
	Size        int64
	ContentType string
	ModTime     time.Time
}

// Provider persists finished artifacts and resolves them for retrieval.
type Provider interface {
	Name() string

	// Put moves the local file into storage and returns an opaque locator.
	Put(ctx context.Context, jobID, localPath, preferredName string) (string, error)

	// Resolve opens the artifact behind a locator for streaming.
	Resolve(ctx context.Context, locator string) (io.ReadCloser, FileMetadata, error)

	// URLFor returns a delegated URL valid for ttl, or ErrNoDelegatedURL.
	URLFor(ctx context.Context, locator string, ttl time.Duration) (string, error)
}

// FromConfig builds the configured provider.
func FromConfig(cfg config.StorageConfig) (Provider, error) {
	switch cfg.Provider {
	case "", "local", "filesystem":
		return NewLocalProvider(cfg.Local.Root), nil
	case "rclone":
		if cfg.Rclone.Remote == "" {
			return nil, fmt.Errorf("storage: rclone provider requires a remote")
		}
		return NewRcloneProvider(RcloneConfig{
			Remote:    cfg.Rclone.Remote,
			BasePath:  cfg.Rclone.BasePath,
			Binary:    cfg.Rclone.Binary,
			ServeMode: cfg.Rclone.ServeMode,
		}), nil
	default:
		return nil, fmt.Errorf("storage: unsupported provider %q", cfg.Provider)
	}
}
