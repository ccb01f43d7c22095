// Package pipeline drives one import job: batching pages, calling the
// transcription provider, merging results, persisting records, and
// reporting progress through the job's event log.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/marbindrakon/simple-aircraft-manager-sub000/internal/importer/batch"
	"github.com/marbindrakon/simple-aircraft-manager-sub000/internal/importer/domain"
	"github.com/marbindrakon/simple-aircraft-manager-sub000/internal/importer/job"
	"github.com/marbindrakon/simple-aircraft-manager-sub000/internal/importer/provider"
)

// RecordStore is the domain-record collaborator; implemented outside the
// import core (internal/store).
type RecordStore interface {
	CreateLogEntry(ctx context.Context, aircraftID string, entry domain.LogEntry) (string, error)
}

// DocumentStore is the scanned-document collaborator.
type DocumentStore interface {
	CreateDocument(ctx context.Context, aircraftID, name string) (string, error)
	AttachPage(ctx context.Context, documentID string, index int, page domain.Page) (string, error)
}

// ActivityLog receives the final import summary for the external audit
// feed. Delivery failures are logged, never fatal.
type ActivityLog interface {
	ImportCompleted(ctx context.Context, jobID string, summary job.Summary) error
}

// Request is one import submission.
type Request struct {
	Pages        []domain.Page
	BatchSize    int
	Provider     string
	AircraftID   string
	DocumentName string
	UploadOnly   bool
}

// Config holds orchestrator dependencies.
type Config struct {
	Jobs        *job.Store
	Providers   *provider.Registry
	Records     RecordStore
	Documents   DocumentStore
	Activity    ActivityLog
	Logger      *slog.Logger
	CallTimeout time.Duration
	Matcher     Matcher
}

// Orchestrator runs import jobs. Each job runs on its own goroutine,
// launched at submission; the orchestrator is the only writer of that
// job's log and status.
type Orchestrator struct {
	jobs        *job.Store
	providers   *provider.Registry
	records     RecordStore
	documents   DocumentStore
	activity    ActivityLog
	logger      *slog.Logger
	callTimeout time.Duration
	matcher     Matcher
}

// New creates an orchestrator from its dependencies.
func New(cfg *Config) *Orchestrator {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Orchestrator{
		jobs:        cfg.Jobs,
		providers:   cfg.Providers,
		records:     cfg.Records,
		documents:   cfg.Documents,
		activity:    cfg.Activity,
		logger:      cfg.Logger,
		callTimeout: timeout,
		matcher:     cfg.Matcher,
	}
}

// Submit creates a job for req, starts its goroutine, and returns the job
// id immediately. The job runs to completion or failure regardless of
// whether any client keeps polling.
func (o *Orchestrator) Submit(req Request) string {
	jobID := o.jobs.Create()
	go o.Run(context.Background(), jobID, req)
	return jobID
}

// Run executes one import job. Exported for tests; production callers go
// through Submit.
func (o *Orchestrator) Run(ctx context.Context, jobID string, req Request) {
	logger := o.logger.With(slog.String("job_id", jobID))

	if err := o.jobs.Start(jobID); err != nil {
		logger.Error("Failed to start job", slog.Any("error", err))
		return
	}

	if len(req.Pages) == 0 {
		summary := job.Summary{}
		o.append(logger, jobID, job.Event{
			Type:    job.EventTypeComplete,
			Message: "no pages to import",
			Summary: &summary,
		})
		o.finish(logger, jobID, job.StatusCompleted, &job.Result{Summary: summary})
		return
	}

	prov, err := o.providers.Lookup(req.Provider)
	if err != nil {
		o.append(logger, jobID, job.Event{Type: job.EventTypeError, Message: err.Error()})
		o.finish(logger, jobID, job.StatusFailed, nil)
		return
	}

	spans := batch.Plan(len(req.Pages), req.BatchSize)
	o.append(logger, jobID, job.Event{
		Type:    job.EventTypeInfo,
		Message: fmt.Sprintf("importing %d pages in %d batches via %s", len(req.Pages), len(spans), prov.Name()),
	})

	var summary job.Summary
	merged := newMerger(o.matcher)
	var trailing []domain.LogEntry

	// Batches run strictly in order: each call carries the entries the
	// previous batch confirmed on the shared page.
	for i, span := range spans {
		onRetry := func(attempt int, callErr error) {
			summary.Warnings++
			o.append(logger, jobID, job.Event{
				Type:    job.EventTypeWarning,
				Batch:   i + 1,
				Message: fmt.Sprintf("batch %d/%d attempt %d failed, retrying: %s", i+1, len(spans), attempt, callErr.Error()),
			})
		}
		result, err := provider.Call(ctx, timeoutProvider{prov, o.callTimeout}, req.Pages[span.Start:span.End], trailing, onRetry)
		if err != nil {
			logger.Error("Batch transcription failed",
				slog.Int("batch", i+1),
				slog.Int("total_batches", len(spans)),
				slog.Any("error", err),
			)
			o.append(logger, jobID, job.Event{
				Type:    job.EventTypeError,
				Message: fmt.Sprintf("batch %d/%d failed: %s", i+1, len(spans), err.Error()),
				Batch:   i + 1,
			})
			o.finish(logger, jobID, job.StatusFailed, nil)
			return
		}

		o.append(logger, jobID, job.Event{
			Type:         job.EventTypeBatch,
			Batch:        i + 1,
			TotalBatches: len(spans),
			Message:      fmt.Sprintf("batch %d/%d transcribed (%d tokens)", i+1, len(spans), result.OutputTokens),
		})
		if result.Truncated {
			summary.Warnings++
			o.append(logger, jobID, job.Event{
				Type:    job.EventTypeWarning,
				Batch:   i + 1,
				Message: fmt.Sprintf("batch %d/%d response was truncated by the provider's output limit; entries on pages %d-%d may be incomplete", i+1, len(spans), span.Start+1, span.End),
			})
		}

		hasOverlap := i > 0 && span.Len() > 1
		added, ambiguities := merged.merge(rebase(result.Entries, span), span.Start, hasOverlap)
		for _, amb := range ambiguities {
			summary.Warnings++
			o.append(logger, jobID, job.Event{
				Type:    job.EventTypeWarning,
				Message: fmt.Sprintf("page %d was read differently by batches %d and %d (%q vs %q); keeping both entries for review", amb.Candidate.Page+1, i, i+1, amb.Existing.Preview(40), amb.Candidate.Preview(40)),
			})
		}
		for _, entry := range added {
			o.append(logger, jobID, job.Event{
				Type: job.EventTypeEntry,
				Entry: &job.EntryPreview{
					Page:  entry.Page,
					Date:  entry.Date,
					Hours: entry.Hours,
					Text:  entry.Preview(140),
				},
			})
		}

		trailing = merged.entriesOnPage(span.End - 1)
	}

	entries := merged.result()
	o.persist(ctx, logger, jobID, req, entries, &summary)

	if o.activity != nil {
		if err := o.activity.ImportCompleted(ctx, jobID, summary); err != nil {
			logger.Warn("Failed to publish import summary", slog.Any("error", err))
		}
	}

	o.append(logger, jobID, job.Event{
		Type:    job.EventTypeComplete,
		Message: fmt.Sprintf("import finished: %d entries, %d images, %d warnings, %d errors", summary.EntriesCreated, summary.ImagesUploaded, summary.Warnings, summary.Errors),
		Summary: &summary,
	})
	o.finish(logger, jobID, job.StatusCompleted, &job.Result{Entries: entries, Summary: summary})
}

// persist writes the merged entries and the source pages through the
// store collaborators. Individual failures are recorded as error events;
// transcription already succeeded, so partial persistence does not fail
// the job.
func (o *Orchestrator) persist(ctx context.Context, logger *slog.Logger, jobID string, req Request, entries []domain.LogEntry, summary *job.Summary) {
	if !req.UploadOnly {
		for _, entry := range entries {
			if _, err := o.records.CreateLogEntry(ctx, req.AircraftID, entry); err != nil {
				summary.Errors++
				o.append(logger, jobID, job.Event{
					Type:    job.EventTypeError,
					Message: fmt.Sprintf("failed to save entry from page %d: %s", entry.Page+1, err.Error()),
				})
				continue
			}
			summary.EntriesCreated++
		}
	}

	documentID, err := o.documents.CreateDocument(ctx, req.AircraftID, req.DocumentName)
	if err != nil {
		summary.Errors++
		o.append(logger, jobID, job.Event{
			Type:    job.EventTypeError,
			Message: "failed to create document record: " + err.Error(),
		})
		return
	}

	for i, page := range req.Pages {
		imageID, err := o.documents.AttachPage(ctx, documentID, i, page)
		if err != nil {
			summary.Errors++
			o.append(logger, jobID, job.Event{
				Type:    job.EventTypeError,
				Message: fmt.Sprintf("failed to upload page %d: %s", i+1, err.Error()),
			})
			continue
		}
		summary.ImagesUploaded++
		o.append(logger, jobID, job.Event{
			Type:    job.EventTypeImage,
			ImageID: imageID,
		})
	}
}

func (o *Orchestrator) append(logger *slog.Logger, jobID string, event job.Event) {
	if _, err := o.jobs.Append(jobID, event); err != nil {
		logger.Error("Failed to append job event",
			slog.String("event_type", string(event.Type)),
			slog.Any("error", err),
		)
	}
}

func (o *Orchestrator) finish(logger *slog.Logger, jobID string, status job.Status, result *job.Result) {
	if err := o.jobs.Finish(jobID, status, result); err != nil {
		logger.Error("Failed to finish job", slog.Any("error", err))
	}
	logger.Info("Import job finished", slog.String("status", string(status)))
}

// rebase converts the provider's request-local page indexes into global
// page indexes and clamps strays into the span.
func rebase(entries []domain.LogEntry, span batch.Span) []domain.LogEntry {
	out := make([]domain.LogEntry, 0, len(entries))
	for _, entry := range entries {
		page := span.Start + entry.Page
		if page >= span.End {
			page = span.End - 1
		}
		if page < span.Start {
			page = span.Start
		}
		entry.Page = page
		out = append(out, entry)
	}
	return out
}

// timeoutProvider bounds each call attempt without touching the wrapped
// provider's retry policy or identity.
type timeoutProvider struct {
	provider.Provider
	timeout time.Duration
}

func (t timeoutProvider) Call(ctx context.Context, pages []domain.Page, trailing []domain.LogEntry) (*provider.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Provider.Call(ctx, pages, trailing)
}
