package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marbindrakon/simple-aircraft-manager-sub000/internal/importer/domain"
	"github.com/marbindrakon/simple-aircraft-manager-sub000/internal/importer/job"
	"github.com/marbindrakon/simple-aircraft-manager-sub000/internal/importer/provider"
)

// scriptedProvider replays canned per-call results and records what each
// call received.
type scriptedProvider struct {
	policy provider.Policy
	script func(call int, pages []domain.Page, trailing []domain.LogEntry) (*provider.Result, error)

	mu       sync.Mutex
	calls    int
	received [][]domain.LogEntry
}

func (s *scriptedProvider) Name() string { return "scripted" }

func (s *scriptedProvider) Retry() provider.Policy { return s.policy }

func (s *scriptedProvider) Call(ctx context.Context, pages []domain.Page, trailing []domain.LogEntry) (*provider.Result, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.received = append(s.received, append([]domain.LogEntry(nil), trailing...))
	s.mu.Unlock()
	return s.script(call, pages, trailing)
}

type fakeRecords struct {
	mu      sync.Mutex
	created []domain.LogEntry
	failFor string
}

func (f *fakeRecords) CreateLogEntry(ctx context.Context, aircraftID string, entry domain.LogEntry) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor != "" && entry.Text == f.failFor {
		return "", errors.New("database unavailable")
	}
	f.created = append(f.created, entry)
	return fmt.Sprintf("entry-%d", len(f.created)), nil
}

type fakeDocuments struct {
	mu         sync.Mutex
	createFail bool
	attachFail map[int]bool
	docName    string
	attached   []int
}

func (f *fakeDocuments) CreateDocument(ctx context.Context, aircraftID, name string) (string, error) {
	if f.createFail {
		return "", errors.New("document store unavailable")
	}
	f.docName = name
	return "doc-1", nil
}

func (f *fakeDocuments) AttachPage(ctx context.Context, documentID string, index int, page domain.Page) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attachFail[index] {
		return "", errors.New("upload rejected")
	}
	f.attached = append(f.attached, index)
	return fmt.Sprintf("img-%d", index), nil
}

type fakeActivity struct {
	mu        sync.Mutex
	summaries []job.Summary
}

func (f *fakeActivity) ImportCompleted(ctx context.Context, jobID string, summary job.Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, summary)
	return nil
}

type fixture struct {
	jobs      *job.Store
	records   *fakeRecords
	documents *fakeDocuments
	activity  *fakeActivity
	orch      *Orchestrator
}

func newFixture(t *testing.T, prov provider.Provider) *fixture {
	t.Helper()
	registry := provider.NewRegistry()
	if prov != nil {
		registry.Register(prov)
	}

	f := &fixture{
		jobs:      job.NewStore(0),
		records:   &fakeRecords{},
		documents: &fakeDocuments{},
		activity:  &fakeActivity{},
	}
	f.orch = New(&Config{
		Jobs:        f.jobs,
		Providers:   registry,
		Records:     f.records,
		Documents:   f.documents,
		Activity:    f.activity,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		CallTimeout: time.Second,
	})
	return f
}

// run executes a job synchronously and returns its full event history.
func (f *fixture) run(t *testing.T, req Request) (*job.Snapshot, string) {
	t.Helper()
	jobID := f.jobs.Create()
	f.orch.Run(context.Background(), jobID, req)
	snap, err := f.jobs.Snapshot(jobID, 0)
	require.NoError(t, err)
	return snap, jobID
}

func pages(n int) []domain.Page {
	out := make([]domain.Page, n)
	for i := range out {
		out[i] = domain.Page{
			Name:        fmt.Sprintf("page-%03d.jpg", i+1),
			ContentType: "image/jpeg",
			Data:        []byte{byte(i)},
		}
	}
	return out
}

func eventsOfType(events []job.Event, typ job.EventType) []job.Event {
	var out []job.Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func entryPerBatch(call int, pageCount int) *provider.Result {
	// One entry on the first page of each request.
	return &provider.Result{
		Entries: []domain.LogEntry{{
			Page: 0,
			Date: fmt.Sprintf("2024-01-%02d", call),
			Text: fmt.Sprintf("work order %d completed and inspected", call),
		}},
	}
}

func TestRunHappyPathOverlappingBatches(t *testing.T) {
	prov := &scriptedProvider{
		policy: provider.NoRetry,
		script: func(call int, p []domain.Page, trailing []domain.LogEntry) (*provider.Result, error) {
			return entryPerBatch(call, len(p)), nil
		},
	}
	f := newFixture(t, prov)

	snap, _ := f.run(t, Request{
		Pages:      pages(25),
		BatchSize:  10,
		Provider:   "scripted",
		AircraftID: "ac-1",
	})

	assert.Equal(t, job.StatusCompleted, snap.Status)
	assert.Equal(t, 3, prov.calls)

	// Batch windows are [0,10), [9,19), [18,25): 10, 10, and 7 pages.
	batchEvents := eventsOfType(snap.Events, job.EventTypeBatch)
	require.Len(t, batchEvents, 3)
	assert.Equal(t, 1, batchEvents[0].Batch)
	assert.Equal(t, 3, batchEvents[0].TotalBatches)

	completes := eventsOfType(snap.Events, job.EventTypeComplete)
	require.Len(t, completes, 1, "exactly one terminal complete event")
	assert.Equal(t, snap.Events[len(snap.Events)-1].Seq, completes[0].Seq)

	require.NotNil(t, snap.Result)
	assert.Len(t, snap.Result.Entries, 3)
	assert.Equal(t, 3, snap.Result.Summary.EntriesCreated)
	assert.Equal(t, 25, snap.Result.Summary.ImagesUploaded)
	assert.Len(t, eventsOfType(snap.Events, job.EventTypeImage), 25)
	assert.Len(t, f.records.created, 3)

	require.Len(t, f.activity.summaries, 1)
	assert.Equal(t, snap.Result.Summary, f.activity.summaries[0])
}

func TestRunSinglePageSingleBatch(t *testing.T) {
	prov := &scriptedProvider{
		policy: provider.NoRetry,
		script: func(call int, p []domain.Page, trailing []domain.LogEntry) (*provider.Result, error) {
			return entryPerBatch(call, len(p)), nil
		},
	}
	f := newFixture(t, prov)

	snap, _ := f.run(t, Request{Pages: pages(1), BatchSize: 10, Provider: "scripted"})

	assert.Equal(t, job.StatusCompleted, snap.Status)
	assert.Equal(t, 1, prov.calls)
	require.Len(t, eventsOfType(snap.Events, job.EventTypeBatch), 1)
}

func TestRunBatchSizeOneSequentialNoDuplicates(t *testing.T) {
	prov := &scriptedProvider{
		policy: provider.NoRetry,
		script: func(call int, p []domain.Page, trailing []domain.LogEntry) (*provider.Result, error) {
			require.Len(t, p, 1)
			return entryPerBatch(call, 1), nil
		},
	}
	f := newFixture(t, prov)

	snap, _ := f.run(t, Request{Pages: pages(5), BatchSize: 1, Provider: "scripted"})

	assert.Equal(t, job.StatusCompleted, snap.Status)
	assert.Equal(t, 5, prov.calls)
	require.NotNil(t, snap.Result)
	assert.Len(t, snap.Result.Entries, 5, "non-overlapping batches must not deduplicate")
	assert.Len(t, eventsOfType(snap.Events, job.EventTypeEntry), 5)
}

func TestRunEmptyInputCompletesImmediately(t *testing.T) {
	f := newFixture(t, nil)

	snap, _ := f.run(t, Request{Pages: nil, Provider: "scripted"})

	assert.Equal(t, job.StatusCompleted, snap.Status)
	require.Len(t, snap.Events, 1)
	assert.Equal(t, job.EventTypeComplete, snap.Events[0].Type)
	require.NotNil(t, snap.Result)
	assert.Equal(t, job.Summary{}, snap.Result.Summary)
}

func TestRunUnknownProviderFails(t *testing.T) {
	f := newFixture(t, nil)

	snap, _ := f.run(t, Request{Pages: pages(2), BatchSize: 10, Provider: "missing"})

	assert.Equal(t, job.StatusFailed, snap.Status)
	require.Len(t, eventsOfType(snap.Events, job.EventTypeError), 1)
}

func TestRunTransientRetriesThenSuccess(t *testing.T) {
	// Scenario: batch 2 fails transiently three times, then succeeds.
	prov := &scriptedProvider{
		policy: provider.Policy{MaxAttempts: 4, InitialDelay: time.Millisecond, Multiplier: 2},
		script: func(call int, p []domain.Page, trailing []domain.LogEntry) (*provider.Result, error) {
			if call >= 2 && call <= 4 {
				return nil, provider.Transient(errors.New("rate limited"))
			}
			return entryPerBatch(call, len(p)), nil
		},
	}
	f := newFixture(t, prov)

	snap, _ := f.run(t, Request{Pages: pages(25), BatchSize: 10, Provider: "scripted"})

	assert.Equal(t, job.StatusCompleted, snap.Status)
	assert.Equal(t, 6, prov.calls, "3 batches plus 3 retried attempts")

	// The retry attempts are visible in the log before batch 2 succeeds.
	warnings := eventsOfType(snap.Events, job.EventTypeWarning)
	require.Len(t, warnings, 3)
	for _, w := range warnings {
		assert.Equal(t, 2, w.Batch)
		assert.Contains(t, w.Message, "retrying")
	}
	batchEvents := eventsOfType(snap.Events, job.EventTypeBatch)
	require.Len(t, batchEvents, 3)
	assert.Less(t, warnings[2].Seq, batchEvents[1].Seq)
	assert.Len(t, eventsOfType(snap.Events, job.EventTypeError), 0)
}

func TestRunFatalErrorStopsPipeline(t *testing.T) {
	// Scenario: 4 planned batches, fatal failure on the third call.
	prov := &scriptedProvider{
		policy: provider.Policy{MaxAttempts: 4, InitialDelay: time.Millisecond},
		script: func(call int, p []domain.Page, trailing []domain.LogEntry) (*provider.Result, error) {
			if call == 3 {
				return nil, provider.Fatal(errors.New("invalid api key"))
			}
			return entryPerBatch(call, len(p)), nil
		},
	}
	f := newFixture(t, prov)

	snap, _ := f.run(t, Request{Pages: pages(31), BatchSize: 10, Provider: "scripted"})

	assert.Equal(t, job.StatusFailed, snap.Status)
	assert.Equal(t, 3, prov.calls, "no batch after the failed one is attempted")

	// Events from the successful batches survive.
	batchEvents := eventsOfType(snap.Events, job.EventTypeBatch)
	require.Len(t, batchEvents, 2)
	errorEvents := eventsOfType(snap.Events, job.EventTypeError)
	require.Len(t, errorEvents, 1)
	assert.Equal(t, 3, errorEvents[0].Batch)
	assert.Empty(t, eventsOfType(snap.Events, job.EventTypeComplete))

	// Nothing persisted after a failed transcription.
	assert.Empty(t, f.records.created)
	assert.Empty(t, f.documents.attached)
}

func TestRunRetryExhaustionFailsJob(t *testing.T) {
	prov := &scriptedProvider{
		policy: provider.Policy{MaxAttempts: 2, InitialDelay: time.Millisecond},
		script: func(call int, p []domain.Page, trailing []domain.LogEntry) (*provider.Result, error) {
			return nil, provider.Transient(errors.New("rate limited"))
		},
	}
	f := newFixture(t, prov)

	snap, _ := f.run(t, Request{Pages: pages(3), BatchSize: 10, Provider: "scripted"})

	assert.Equal(t, job.StatusFailed, snap.Status)
	assert.Equal(t, 2, prov.calls)
	errorEvents := eventsOfType(snap.Events, job.EventTypeError)
	require.Len(t, errorEvents, 1)
	assert.Contains(t, errorEvents[0].Message, "retries exhausted")
}

func TestRunTruncatedBatchWarnsAndContinues(t *testing.T) {
	prov := &scriptedProvider{
		policy: provider.NoRetry,
		script: func(call int, p []domain.Page, trailing []domain.LogEntry) (*provider.Result, error) {
			result := entryPerBatch(call, len(p))
			if call == 1 {
				result.Truncated = true
			}
			return result, nil
		},
	}
	f := newFixture(t, prov)

	snap, _ := f.run(t, Request{Pages: pages(25), BatchSize: 10, Provider: "scripted"})

	assert.Equal(t, job.StatusCompleted, snap.Status)
	warnings := eventsOfType(snap.Events, job.EventTypeWarning)
	require.Len(t, warnings, 1)
	assert.Equal(t, 1, warnings[0].Batch)
	assert.Contains(t, warnings[0].Message, "truncated")
	assert.Equal(t, 1, snap.Result.Summary.Warnings)
}

func TestRunTrailingContextCarriedBetweenBatches(t *testing.T) {
	prov := &scriptedProvider{
		policy: provider.NoRetry,
		script: func(call int, p []domain.Page, trailing []domain.LogEntry) (*provider.Result, error) {
			if call == 1 {
				// Entry on the batch's last page (local index 9, global 9).
				return &provider.Result{Entries: []domain.LogEntry{
					{Page: 9, Date: "2024-05-01", Text: "Oil and filter change, serviced with 7qt"},
				}}, nil
			}
			return &provider.Result{}, nil
		},
	}
	f := newFixture(t, prov)

	snap, _ := f.run(t, Request{Pages: pages(25), BatchSize: 10, Provider: "scripted"})
	assert.Equal(t, job.StatusCompleted, snap.Status)

	require.Len(t, prov.received, 3)
	assert.Empty(t, prov.received[0], "first batch has no trailing context")
	require.Len(t, prov.received[1], 1, "second batch receives the overlap page's entries")
	assert.Equal(t, 9, prov.received[1][0].Page)
	assert.Empty(t, prov.received[2], "no entries on page 18 means empty context")
}

func TestRunMergeAmbiguityKeepsBothAndWarns(t *testing.T) {
	prov := &scriptedProvider{
		policy: provider.NoRetry,
		script: func(call int, p []domain.Page, trailing []domain.LogEntry) (*provider.Result, error) {
			switch call {
			case 1:
				return &provider.Result{Entries: []domain.LogEntry{
					{Page: 9, Date: "2024-05-01", Text: "Oil and filter change"},
				}}, nil
			case 2:
				// Same overlap page read as something else entirely.
				return &provider.Result{Entries: []domain.LogEntry{
					{Page: 0, Date: "2024-05-01", Text: "Replaced vacuum pump and drive coupling"},
				}}, nil
			default:
				return &provider.Result{}, nil
			}
		},
	}
	f := newFixture(t, prov)

	snap, _ := f.run(t, Request{Pages: pages(25), BatchSize: 10, Provider: "scripted"})

	assert.Equal(t, job.StatusCompleted, snap.Status)
	warnings := eventsOfType(snap.Events, job.EventTypeWarning)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "keeping both")

	require.NotNil(t, snap.Result)
	assert.Len(t, snap.Result.Entries, 2, "both divergent readings survive")
	assert.Equal(t, 1, snap.Result.Summary.Warnings)
}

func TestRunUploadOnlySkipsRecordCreation(t *testing.T) {
	prov := &scriptedProvider{
		policy: provider.NoRetry,
		script: func(call int, p []domain.Page, trailing []domain.LogEntry) (*provider.Result, error) {
			return entryPerBatch(call, len(p)), nil
		},
	}
	f := newFixture(t, prov)

	snap, _ := f.run(t, Request{
		Pages:        pages(3),
		BatchSize:    10,
		Provider:     "scripted",
		UploadOnly:   true,
		DocumentName: "logbook-vol2.zip",
	})

	assert.Equal(t, job.StatusCompleted, snap.Status)
	assert.Empty(t, f.records.created)
	assert.Equal(t, 0, snap.Result.Summary.EntriesCreated)
	assert.Equal(t, 3, snap.Result.Summary.ImagesUploaded)
	assert.Equal(t, "logbook-vol2.zip", f.documents.docName)
}

func TestRunPersistenceErrorsArePartial(t *testing.T) {
	prov := &scriptedProvider{
		policy: provider.NoRetry,
		script: func(call int, p []domain.Page, trailing []domain.LogEntry) (*provider.Result, error) {
			return &provider.Result{Entries: []domain.LogEntry{
				{Page: 0, Text: "good entry one"},
				{Page: 1, Text: "bad entry"},
				{Page: 2, Text: "good entry two"},
			}}, nil
		},
	}
	f := newFixture(t, prov)
	f.records.failFor = "bad entry"
	f.documents.attachFail = map[int]bool{1: true}

	snap, _ := f.run(t, Request{Pages: pages(3), BatchSize: 10, Provider: "scripted"})

	assert.Equal(t, job.StatusCompleted, snap.Status, "persistence failures do not fail the job")
	assert.Equal(t, 2, snap.Result.Summary.EntriesCreated)
	assert.Equal(t, 2, snap.Result.Summary.ImagesUploaded)
	assert.Equal(t, 2, snap.Result.Summary.Errors)
	assert.Len(t, eventsOfType(snap.Events, job.EventTypeError), 2)
	assert.Len(t, eventsOfType(snap.Events, job.EventTypeImage), 2)

	completes := eventsOfType(snap.Events, job.EventTypeComplete)
	require.Len(t, completes, 1)
	require.NotNil(t, completes[0].Summary)
	assert.Equal(t, 2, completes[0].Summary.Errors)
}

func TestRunDocumentCreateFailureSkipsUploads(t *testing.T) {
	prov := &scriptedProvider{
		policy: provider.NoRetry,
		script: func(call int, p []domain.Page, trailing []domain.LogEntry) (*provider.Result, error) {
			return entryPerBatch(call, len(p)), nil
		},
	}
	f := newFixture(t, prov)
	f.documents.createFail = true

	snap, _ := f.run(t, Request{Pages: pages(2), BatchSize: 10, Provider: "scripted"})

	assert.Equal(t, job.StatusCompleted, snap.Status)
	assert.Equal(t, 0, snap.Result.Summary.ImagesUploaded)
	assert.Equal(t, 1, snap.Result.Summary.Errors)
	assert.Equal(t, 1, snap.Result.Summary.EntriesCreated)
}

func TestSubmitReturnsImmediately(t *testing.T) {
	release := make(chan struct{})
	prov := &scriptedProvider{
		policy: provider.NoRetry,
		script: func(call int, p []domain.Page, trailing []domain.LogEntry) (*provider.Result, error) {
			<-release
			return entryPerBatch(call, len(p)), nil
		},
	}
	f := newFixture(t, prov)

	jobID := f.orch.Submit(Request{Pages: pages(2), BatchSize: 10, Provider: "scripted"})
	require.NotEmpty(t, jobID)

	// The job exists and is observable while the provider call is blocked.
	snap, err := f.jobs.Snapshot(jobID, 0)
	require.NoError(t, err)
	assert.NotEqual(t, job.StatusCompleted, snap.Status)

	close(release)
	require.Eventually(t, func() bool {
		snap, err := f.jobs.Snapshot(jobID, 0)
		return err == nil && snap.Status == job.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)
}
