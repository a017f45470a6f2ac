// Package publish uploads locally stored reference documents to the Gemini
// Files API from the SQLite job queue.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/brfsskit/sqldraft/internal/dataset"
	"github.com/brfsskit/sqldraft/internal/gemini"
	"github.com/brfsskit/sqldraft/internal/storage"
)

// JobType is the queue type handled by Worker.
const JobType = "publish_info"

// JobStore abstracts the job queue and info-doc operations.
type JobStore interface {
	EnqueueJob(job storage.Job) error
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetInfoDoc(id string) (storage.InfoDoc, error)
	MarkInfoDocPublished(id, remoteName, remoteURI string) error
	MarkInfoDocFailed(id, errMsg string) error
}

// Uploader is the remote side of publishing.
type Uploader interface {
	UploadFile(ctx context.Context, r io.Reader, name, displayName, mimeType string) (gemini.File, error)
	DeleteFile(ctx context.Context, name string) error
}

// ConnectFunc returns an Uploader authorised with the configured key.
type ConnectFunc func(ctx context.Context) (Uploader, error)

// GeminiUploader dials a Gemini client with the key returned by apiKey at
// the time of each job.
func GeminiUploader(c gemini.Connector, apiKey func() string) ConnectFunc {
	return func(ctx context.Context) (Uploader, error) {
		client, err := c.Connect(ctx, apiKey())
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

type payload struct {
	InfoDocID string `json:"info_doc_id"`
}

// Enqueue queues a publish job for the info doc with id docID.
func Enqueue(store JobStore, docID string) (string, error) {
	body, err := json.Marshal(payload{InfoDocID: docID})
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	if err := store.EnqueueJob(storage.Job{ID: id, Type: JobType, PayloadJSON: string(body)}); err != nil {
		return "", fmt.Errorf("enqueueing publish job: %w", err)
	}
	return id, nil
}

// Worker processes publish_info jobs.
type Worker struct {
	store   JobStore
	connect ConnectFunc
	poll    time.Duration
	logger  *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 1s.
func NewWorker(store JobStore, connect ConnectFunc, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Worker{
		store:   store,
		connect: connect,
		poll:    pollInterval,
		logger:  slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("publish iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single publish job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	docID, err := w.processJob(ctx, job)
	if err != nil {
		w.logger.Warn("publish job failed", "job_id", job.ID, "attempt", job.Attempts+1, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		if docID != "" && job.Attempts+1 >= job.MaxAttempts {
			if markErr := w.store.MarkInfoDocFailed(docID, err.Error()); markErr != nil {
				w.logger.Error("failed to record publish failure", "info_doc_id", docID, "error", markErr)
			}
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

// processJob returns the info doc id it worked on, when known, alongside any error.
func (w *Worker) processJob(ctx context.Context, job *storage.Job) (string, error) {
	var p payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		return "", fmt.Errorf("parsing payload: %w", err)
	}

	doc, err := w.store.GetInfoDoc(p.InfoDocID)
	if err != nil {
		return "", fmt.Errorf("loading info doc %s: %w", p.InfoDocID, err)
	}

	up, err := w.connect(ctx)
	if err != nil {
		return doc.ID, fmt.Errorf("connecting to gemini: %w", err)
	}

	name := dataset.Year(doc.Year).ReferenceName()
	// The Files API refuses to overwrite; a previous upload under the same name is removed first.
	if err := up.DeleteFile(ctx, name); err != nil {
		w.logger.Debug("no previous reference document removed", "name", name, "error", err)
	}

	f, err := up.UploadFile(ctx, bytes.NewReader(doc.Content), name, name, doc.MIMEType)
	if err != nil {
		return doc.ID, err
	}

	if err := w.store.MarkInfoDocPublished(doc.ID, f.Name, f.URI); err != nil {
		return doc.ID, fmt.Errorf("recording publication: %w", err)
	}
	w.logger.Info("reference document published", "year", doc.Year, "name", f.Name)
	return doc.ID, nil
}
