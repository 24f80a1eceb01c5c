package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/vantage-agent/vantage/internal/apperr"
	"github.com/vantage-agent/vantage/internal/models"
)

var errServerStatus = &apperr.Error{
	Message: "remote store returned %s for %s",
}

// APIClient uploads observations and session time logs to the remote
// store over HTTP. Every request carries an explicit timeout; the caller
// treats failures as retryable and keeps the affected buffer queued.
type APIClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewAPIClient returns a remote store client. requestTimeout bounds each
// request end to end.
func NewAPIClient(
	baseURL, token string,
	requestTimeout time.Duration,
) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: requestTimeout},
	}
}

// batchEnvelope wraps a bulk upload. The remote store may use the batch
// timestamp to deduplicate re-delivered snapshots.
type batchEnvelope struct {
	Records     any       `json:"records"`
	BatchSentAt time.Time `json:"batch_sent_at"`
}

func (a *APIClient) InsertApps(
	ctx context.Context,
	records []models.AppObservation,
) error {
	return a.post(ctx, "/api/apps", batchEnvelope{
		Records:     records,
		BatchSentAt: time.Now(),
	})
}

func (a *APIClient) InsertURLs(
	ctx context.Context,
	records []models.URLObservation,
) error {
	return a.post(ctx, "/api/urls", batchEnvelope{
		Records:     records,
		BatchSentAt: time.Now(),
	})
}

func (a *APIClient) InsertScreenshots(
	ctx context.Context,
	records []models.ScreenshotRecord,
) error {
	return a.post(ctx, "/api/screenshots", batchEnvelope{
		Records:     records,
		BatchSentAt: time.Now(),
	})
}

func (a *APIClient) InsertIdlePeriods(
	ctx context.Context,
	records []models.IdlePeriod,
) error {
	return a.post(ctx, "/api/idle-logs", batchEnvelope{
		Records:     records,
		BatchSentAt: time.Now(),
	})
}

// StartTimeLog registers an opened session with the remote store.
func (a *APIClient) StartTimeLog(
	ctx context.Context,
	sess *models.Session,
) error {
	return a.post(ctx, "/api/time/start", sess)
}

// StopTimeLog registers a closed session with the remote store.
func (a *APIClient) StopTimeLog(
	ctx context.Context,
	sess *models.Session,
) error {
	return a.post(ctx, "/api/time/stop", sess)
}

// CloseStale asks the remote store to force-close any session for the
// user that still has a null end time.
func (a *APIClient) CloseStale(ctx context.Context, userID string) error {
	return a.post(ctx, "/api/time/close-stale", map[string]any{
		"user_id":  userID,
		"end_time": time.Now(),
	})
}

// Upload ships a captured image to the remote store as multipart form
// data, with its metadata attached as a JSON field.
func (a *APIClient) Upload(
	ctx context.Context,
	image []byte,
	meta models.ScreenshotRecord,
) error {
	var buf bytes.Buffer

	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("screenshots", meta.Filename)
	if err != nil {
		return err
	}

	if _, err := part.Write(image); err != nil {
		return err
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	if err := w.WriteField("metadata", string(metaJSON)); err != nil {
		return err
	}

	if err := w.Close(); err != nil {
		return err
	}

	endpoint := "/api/screenshots/batch"

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		a.baseURL+endpoint,
		&buf,
	)
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", w.FormDataContentType())

	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("uploading screenshot: %w", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errServerStatus.Fmt(resp.Status, endpoint)
	}

	return nil
}

func (a *APIClient) post(ctx context.Context, endpoint string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		a.baseURL+endpoint,
		bytes.NewReader(b),
	)
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to %s: %w", endpoint, err)
	}

	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errServerStatus.Fmt(resp.Status, endpoint)
	}

	return nil
}
