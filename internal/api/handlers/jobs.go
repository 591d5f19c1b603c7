package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/wizdom13/ytdlnis/internal/dispatch"
	"github.com/wizdom13/ytdlnis/internal/job"
	"github.com/wizdom13/ytdlnis/internal/store"
	"github.com/wizdom13/ytdlnis/internal/token"
)

type JobsHandler struct {
	store      *store.Store
	dispatcher *dispatch.Dispatcher
	signer     *token.Signer
	baseURL    string
}

func NewJobsHandler(st *store.Store, d *dispatch.Dispatcher, signer *token.Signer, baseURL string) *JobsHandler {
	return &JobsHandler{store: st, dispatcher: d, signer: signer, baseURL: baseURL}
}

// Shared types

type SubmitJobInput struct {
	Body struct {
		URL         string            `json:"url" minLength:"1" doc:"Media page URL to fetch"`
		Format      string            `json:"format,omitempty" doc:"Format selector passed to the fetch tool"`
		PreferAudio bool              `json:"preferAudio,omitempty" doc:"Extract audio only"`
		Filename    string            `json:"filename,omitempty" doc:"Preferred output filename"`
		Headers     map[string]string `json:"headers,omitempty" doc:"Extra HTTP headers for the fetch"`
		Proxy       string            `json:"proxy,omitempty" doc:"Proxy URL for the fetch"`
		Cookie      string            `json:"cookie,omitempty" doc:"Raw cookie file content passed to the fetch tool"`
	}
}

type SubmitJobBody struct {
	ID     string `json:"id" doc:"Job ID"`
	Status string `json:"status" doc:"Job status"`
}

type SubmitJobOutput struct {
	Status int
	Body   SubmitJobBody
}

type JobIDInput struct {
	ID string `path:"id" doc:"Job ID"`
}

type ResultBody struct {
	Mime        string `json:"mime" doc:"Artifact MIME type"`
	FileName    string `json:"fileName" doc:"Artifact filename"`
	SizeBytes   int64  `json:"sizeBytes" doc:"Artifact size in bytes"`
	DownloadURL string `json:"downloadUrl,omitempty" doc:"Signed, expiring download URL"`
}

type ErrorBody struct {
	Kind    string `json:"kind" doc:"Failure category"`
	Message string `json:"message" doc:"Failure detail"`
}

type JobStatusBody struct {
	ID        string      `json:"id" doc:"Job ID"`
	Status    string      `json:"status" doc:"queued, running, finished or failed"`
	Progress  *int        `json:"progress" doc:"Percent complete, null before the download starts"`
	Result    *ResultBody `json:"result,omitempty" doc:"Present once finished"`
	Error     *ErrorBody  `json:"error,omitempty" doc:"Present once failed"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

type JobStatusOutput struct {
	Body JobStatusBody
}

type JobResultBody struct {
	ID        string     `json:"id" doc:"Job ID"`
	Result    ResultBody `json:"result"`
	ExpiresAt time.Time  `json:"expiresAt" doc:"Download URL expiry"`
}

type JobResultOutput struct {
	Body JobResultBody
}

type CancelBody struct {
	ID     string `json:"id" doc:"Job ID"`
	Status string `json:"status" doc:"Operation result"`
}

type CancelOutput struct {
	Body CancelBody
}

// statusBody renders a record for polling. A finished record gets a
// freshly signed download URL on every poll; the locator never leaves.
func (h *JobsHandler) statusBody(rec *job.Record) JobStatusBody {
	body := JobStatusBody{
		ID:        rec.ID,
		Status:    string(rec.Status),
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if rec.Status != job.StatusQueued {
		p := rec.Progress
		body.Progress = &p
	}
	if rec.Result != nil {
		body.Result = &ResultBody{
			Mime:      rec.Result.Mime,
			FileName:  rec.Result.FileName,
			SizeBytes: rec.Result.SizeBytes,
		}
		if rec.Status == job.StatusFinished && rec.Result.Locator != "" {
			tok, _ := h.signer.Issue(rec.ID, rec.Result.Locator)
			body.Result.DownloadURL = h.downloadURL(tok)
		}
	}
	if rec.Error != nil {
		body.Error = &ErrorBody{Kind: string(rec.Error.Kind), Message: rec.Error.Message}
	}
	return body
}

func (h *JobsHandler) downloadURL(tok string) string {
	return h.baseURL + "/api/download/" + tok
}

// Handlers

func (h *JobsHandler) Submit(ctx context.Context, input *SubmitJobInput) (*SubmitJobOutput, error) {
	id, status, created, err := h.dispatcher.Submit(ctx, job.Request{
		URL:         input.Body.URL,
		Format:      input.Body.Format,
		PreferAudio: input.Body.PreferAudio,
		Filename:    input.Body.Filename,
		Headers:     input.Body.Headers,
		Proxy:       input.Body.Proxy,
		Cookie:      input.Body.Cookie,
	})
	if err != nil {
		var verr *dispatch.ValidationError
		if errors.As(err, &verr) {
			return nil, NewAPIError(422, "ValidationError", verr.Reason)
		}
		return nil, NewAPIError(503, "StoreUnavailable", "state store unavailable")
	}

	// Idempotent duplicate submissions return 200 instead of 202.
	out := &SubmitJobOutput{Status: 202, Body: SubmitJobBody{ID: id, Status: string(status)}}
	if !created {
		out.Status = 200
	}
	return out, nil
}

func (h *JobsHandler) Get(ctx context.Context, input *JobIDInput) (*JobStatusOutput, error) {
	rec, err := h.store.Get(ctx, input.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewAPIError(404, "NotFound", "no such job")
		}
		return nil, NewAPIError(503, "StoreUnavailable", "state store unavailable")
	}
	return &JobStatusOutput{Body: h.statusBody(rec)}, nil
}

func (h *JobsHandler) Result(ctx context.Context, input *JobIDInput) (*JobResultOutput, error) {
	rec, err := h.store.Get(ctx, input.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewAPIError(404, "NotFound", "no such job")
		}
		return nil, NewAPIError(503, "StoreUnavailable", "state store unavailable")
	}

	switch rec.Status {
	case job.StatusFinished:
	case job.StatusFailed:
		msg := "job failed"
		if rec.Error != nil {
			msg = rec.Error.Message
		}
		return nil, NewAPIError(409, "Conflict", msg)
	default:
		return nil, NewAPIError(409, "Conflict", "job has not finished yet")
	}
	if rec.Result == nil || rec.Result.Locator == "" {
		return nil, NewAPIError(404, "NotFound", "result is no longer available")
	}

	tok, expiry := h.signer.Issue(rec.ID, rec.Result.Locator)
	return &JobResultOutput{Body: JobResultBody{
		ID: rec.ID,
		Result: ResultBody{
			Mime:        rec.Result.Mime,
			FileName:    rec.Result.FileName,
			SizeBytes:   rec.Result.SizeBytes,
			DownloadURL: h.downloadURL(tok),
		},
		ExpiresAt: expiry,
	}}, nil
}

func (h *JobsHandler) Cancel(ctx context.Context, input *JobIDInput) (*CancelOutput, error) {
	rec, err := h.store.Get(ctx, input.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewAPIError(404, "NotFound", "no such job")
		}
		return nil, NewAPIError(503, "StoreUnavailable", "state store unavailable")
	}
	if rec.Status.Terminal() {
		return nil, NewAPIError(409, "Conflict", "job already reached a terminal state")
	}

	if err := h.store.RequestCancel(ctx, rec.ID); err != nil {
		return nil, NewAPIError(503, "StoreUnavailable", "state store unavailable")
	}

	// Still-queued jobs fail immediately; running jobs are transitioned by
	// the worker once it observes the cancel signal.
	if rec.Status == job.StatusQueued {
		jerr := job.Error{Kind: job.ErrCancelled, Message: "cancelled by client"}
		if applied, err := h.store.Fail(ctx, rec.ID, jerr); err == nil && applied {
			_ = h.store.PublishEvent(ctx, job.Event{JobID: rec.ID, Kind: job.EventFailed, Error: &jerr})
		}
	}

	return &CancelOutput{Body: CancelBody{ID: rec.ID, Status: "cancelling"}}, nil
}
