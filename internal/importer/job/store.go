package job

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrJobNotFound is returned when a job id is unknown to the store.
var ErrJobNotFound = errors.New("job not found")

// ErrJobFinished is returned when writing to a job in a terminal state.
var ErrJobFinished = errors.New("job already finished")

// Store is the in-process registry of import jobs. Each job has a single
// writer (its orchestrator goroutine) and any number of concurrent polling
// readers; entries carry their own lock so polling one job is never
// delayed by writes to another. Jobs are not persisted across restarts.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*jobEntry
	ttl  time.Duration
	now  func() time.Time
}

type jobEntry struct {
	mu         sync.Mutex
	status     Status
	events     []Event
	nextSeq    int64
	result     *Result
	createdAt  time.Time
	finishedAt time.Time
}

// NewStore creates a store evicting terminal jobs after ttl. A non-positive
// ttl disables eviction.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		jobs: make(map[string]*jobEntry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Create registers a new queued job with an empty event log and returns
// its id.
func (s *Store) Create() string {
	id := uuid.New().String()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id] = &jobEntry{
		status:    StatusQueued,
		createdAt: s.now(),
	}
	return id
}

// Start moves a queued job to running.
func (s *Store) Start(id string) error {
	entry, err := s.lookup(id)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.status.Terminal() {
		return ErrJobFinished
	}
	entry.status = StatusRunning
	return nil
}

// Append adds one event to the job's log, assigning the next sequence
// number and a timestamp, and returns the stored event.
func (s *Store) Append(id string, event Event) (Event, error) {
	entry, err := s.lookup(id)
	if err != nil {
		return Event{}, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.status.Terminal() {
		return Event{}, ErrJobFinished
	}

	entry.nextSeq++
	event.Seq = entry.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}
	entry.events = append(entry.events, event)
	return event, nil
}

// Finish moves the job to a terminal status and freezes its log. The
// result may be nil for failed jobs.
func (s *Store) Finish(id string, status Status, result *Result) error {
	if !status.Terminal() {
		return errors.New("finish requires a terminal status")
	}

	entry, err := s.lookup(id)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.status.Terminal() {
		return ErrJobFinished
	}
	entry.status = status
	entry.result = result
	entry.finishedAt = s.now()
	return nil
}

// Snapshot returns the job's status, all events with sequence number
// strictly greater than after, and the result once terminal.
func (s *Store) Snapshot(id string, after int64) (*Snapshot, error) {
	entry, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	// Seq numbers are gapless starting at 1, so events[after:] is the
	// exact tail the cursor asks for.
	events := []Event{}
	if after < 0 {
		after = 0
	}
	if after < int64(len(entry.events)) {
		events = append(events, entry.events[after:]...)
	}

	return &Snapshot{
		Status: entry.status,
		Events: events,
		Result: entry.result,
	}, nil
}

// RunJanitor evicts terminal jobs older than the store TTL until ctx is
// canceled. Eviction only bounds memory; polling a live job never races
// with it because terminal logs are immutable.
func (s *Store) RunJanitor(ctx context.Context, interval time.Duration) {
	if s.ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evictExpired()
		}
	}
}

func (s *Store) evictExpired() {
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.jobs {
		entry.mu.Lock()
		expired := entry.status.Terminal() && entry.finishedAt.Before(cutoff)
		entry.mu.Unlock()
		if expired {
			delete(s.jobs, id)
		}
	}
}

func (s *Store) lookup(id string) (*jobEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return entry, nil
}
