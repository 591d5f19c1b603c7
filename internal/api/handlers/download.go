package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/wizdom13/ytdlnis/internal/job"
	"github.com/wizdom13/ytdlnis/internal/storage"
	"github.com/wizdom13/ytdlnis/internal/store"
	"github.com/wizdom13/ytdlnis/internal/token"
)

type DownloadHandler struct {
	store   *store.Store
	signer  *token.Signer
	storage storage.Provider
}

func NewDownloadHandler(st *store.Store, signer *token.Signer, provider storage.Provider) *DownloadHandler {
	return &DownloadHandler{store: st, signer: signer, storage: provider}
}

// Serve streams the artifact behind a signed token. No bearer auth: the
// token itself is the credential, so links can be handed to other tools.
func (h *DownloadHandler) Serve(c echo.Context) error {
	claims, err := h.signer.Verify(c.Param("token"))
	switch {
	case errors.Is(err, token.ErrExpired):
		return c.JSON(http.StatusGone, ErrorBody{Kind: "Expired", Message: "download link expired"})
	case errors.Is(err, token.ErrSignatureMismatch):
		return c.JSON(http.StatusForbidden, ErrorBody{Kind: "Forbidden", Message: "invalid token signature"})
	case err != nil:
		return c.JSON(http.StatusBadRequest, ErrorBody{Kind: "ValidationError", Message: "malformed token"})
	}

	ctx := c.Request().Context()
	rec, err := h.store.Get(ctx, claims.JobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ErrorBody{Kind: "NotFound", Message: "job no longer exists"})
		}
		return c.JSON(http.StatusServiceUnavailable, ErrorBody{Kind: "StoreUnavailable", Message: "state store unavailable"})
	}

	// The token must match the job's current result; a re-run job gets a
	// fresh locator and invalidates old links.
	if rec.Status != job.StatusFinished || rec.Result == nil || rec.Result.Locator != claims.Locator {
		return c.JSON(http.StatusNotFound, ErrorBody{Kind: "NotFound", Message: "artifact no longer available"})
	}

	// Providers with their own link service redirect instead of streaming.
	if url, err := h.storage.URLFor(ctx, claims.Locator, claims.ExpiresAt.Sub(claims.IssuedAt)); err == nil && url != "" {
		return c.Redirect(http.StatusFound, url)
	} else if err != nil && !errors.Is(err, storage.ErrNoDelegatedURL) {
		log.Warn().Err(err).Str("job_id", rec.ID).Msg("delegated url failed, falling back to streaming")
	}

	rc, meta, err := h.storage.Resolve(ctx, claims.Locator)
	if err != nil {
		log.Error().Err(err).Str("job_id", rec.ID).Msg("resolve artifact")
		return c.JSON(http.StatusNotFound, ErrorBody{Kind: "NotFound", Message: "artifact no longer available"})
	}
	defer rc.Close()

	res := c.Response()
	res.Header().Set("Content-Type", meta.ContentType)
	res.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.Result.FileName))

	if rs, ok := rc.(io.ReadSeeker); ok {
		http.ServeContent(res, c.Request(), rec.Result.FileName, meta.ModTime, rs)
		return nil
	}
	if meta.Size > 0 {
		res.Header().Set("Content-Length", fmt.Sprintf("%d", meta.Size))
	}
	return c.Stream(http.StatusOK, meta.ContentType, rc)
}
