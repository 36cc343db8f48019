// Package queue is the durable ingestion job queue. Jobs survive restarts
// through a JSON snapshot on disk; a single worker goroutine processes them
// in FIFO order of arrival.
package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	ragerr "localrag/internal/errors"
)

// Status is an ingestion job state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether a job in this status will never run again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is one ingestion request and its lifecycle state.
type Job struct {
	ID           string     `json:"id"`
	Path         string     `json:"path"`
	Collection   string     `json:"collection"`
	Status       Status     `json:"status"`
	Progress     string     `json:"progress,omitempty"`
	AddedAt      time.Time  `json:"addedAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

// Runner executes one job. It reports human-readable progress through the
// callback and returns an error to mark the job failed.
type Runner func(ctx context.Context, job Job, progress func(string)) error

// persistThrottle is the minimum interval between snapshots triggered by
// progress-only updates. Status transitions always persist immediately.
const persistThrottle = 2 * time.Second

type document struct {
	Version int   `json:"version"`
	Jobs    []Job `json:"jobs"`
}

// Queue owns the job list, its on-disk snapshot, and the worker.
type Queue struct {
	path   string
	runner Runner
	logger *slog.Logger

	mu          sync.Mutex
	jobs        []*Job
	subscribers map[int]chan []Job
	nextSubID   int
	lastPersist time.Time
	dirty       bool

	wake chan struct{}
	done chan struct{}
}

// New loads the snapshot at path (if any) and applies the restart rule: a job
// that was mid-flight when the process died is marked failed. The worker does
// not run until Start is called.
func New(path string, runner Runner, logger *slog.Logger) (*Queue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		path:        path,
		runner:      runner,
		logger:      logger,
		subscribers: make(map[int]chan []Job),
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Fresh install.
	case err != nil:
		return nil, ragerr.New(ragerr.ErrCodeStoreIO, "read job queue: "+err.Error(), err)
	default:
		var doc document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, ragerr.New(ragerr.ErrCodeStoreCorrupt, "corrupt job queue: "+err.Error(), err)
		}
		now := time.Now().UTC()
		for i := range doc.Jobs {
			j := doc.Jobs[i]
			if j.Status == StatusProcessing {
				j.Status = StatusFailed
				j.ErrorMessage = "interrupted by restart"
				j.CompletedAt = &now
				logger.Warn("job interrupted by restart", "job", j.ID, "path", j.Path)
			}
			q.jobs = append(q.jobs, &j)
		}
	}
	return q, nil
}

// Start launches the worker goroutine. Pending jobs recovered from the
// snapshot are scheduled right away.
func (q *Queue) Start(ctx context.Context) {
	go q.work(ctx)
	q.signal()
}

// Enqueue adds a pending job and wakes the worker.
func (q *Queue) Enqueue(path, collection string) (Job, error) {
	job := &Job{
		ID:         uuid.NewString(),
		Path:       path,
		Collection: collection,
		Status:     StatusPending,
		AddedAt:    time.Now().UTC(),
	}

	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	snapshot, err := q.persistLocked(true)
	q.mu.Unlock()
	if err != nil {
		return Job{}, err
	}

	q.notify(snapshot)
	q.signal()
	q.logger.Info("job enqueued", "job", job.ID, "path", path, "collection", collection)
	return *job, nil
}

// Jobs returns all jobs, oldest first.
func (q *Queue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// Get returns one job by id.
func (q *Queue) Get(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		if j.ID == id {
			return *j, true
		}
	}
	return Job{}, false
}

// Cancel marks a pending job cancelled. Processing jobs cannot be cancelled.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	var target *Job
	for _, j := range q.jobs {
		if j.ID == id {
			target = j
			break
		}
	}
	if target == nil {
		q.mu.Unlock()
		return ragerr.Newf(ragerr.ErrCodeInvalidInput, "no job with id %q", id)
	}
	if target.Status != StatusPending {
		status := target.Status
		q.mu.Unlock()
		return ragerr.Newf(ragerr.ErrCodeInvalidInput, "job %q is %s; only pending jobs can be cancelled", id, status)
	}

	now := time.Now().UTC()
	target.Status = StatusCancelled
	target.CompletedAt = &now
	snapshot, err := q.persistLocked(true)
	q.mu.Unlock()

	q.notify(snapshot)
	return err
}

// Purge removes all terminal jobs and returns how many were dropped.
func (q *Queue) Purge() (int, error) {
	q.mu.Lock()
	kept := q.jobs[:0]
	removed := 0
	for _, j := range q.jobs {
		if j.Status.Terminal() {
			removed++
			continue
		}
		kept = append(kept, j)
	}
	q.jobs = kept
	snapshot, err := q.persistLocked(true)
	q.mu.Unlock()

	if removed > 0 {
		q.notify(snapshot)
	}
	return removed, err
}

// Subscribe registers for job-list updates. Each state change delivers a full
// snapshot; updates to a subscriber with a full buffer are dropped. The
// returned function unsubscribes. The channel is never closed: notify sends
// outside the lock, so a close racing an in-flight send would panic. An
// unsubscribed channel just stops receiving and gets collected.
func (q *Queue) Subscribe() (<-chan []Job, func()) {
	ch := make(chan []Job, 8)

	q.mu.Lock()
	id := q.nextSubID
	q.nextSubID++
	q.subscribers[id] = ch
	q.mu.Unlock()

	return ch, func() {
		q.mu.Lock()
		delete(q.subscribers, id)
		q.mu.Unlock()
	}
}

// Close persists any unthrottled progress updates. The worker stops when its
// context is cancelled; Close only guarantees the snapshot is current.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.dirty {
		return nil
	}
	_, err := q.persistLocked(true)
	return err
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// work is the single worker loop.
func (q *Queue) work(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}

		for {
			if ctx.Err() != nil {
				return
			}
			job, ok := q.claimNext()
			if !ok {
				break
			}
			q.runOne(ctx, job)
		}
	}
}

// claimNext moves the oldest pending job to processing.
func (q *Queue) claimNext() (Job, bool) {
	q.mu.Lock()
	var target *Job
	for _, j := range q.jobs {
		if j.Status != StatusPending {
			continue
		}
		if target == nil || j.AddedAt.Before(target.AddedAt) {
			target = j
		}
	}
	if target == nil {
		q.mu.Unlock()
		return Job{}, false
	}

	now := time.Now().UTC()
	target.Status = StatusProcessing
	target.StartedAt = &now
	snapshot, err := q.persistLocked(true)
	claimed := *target
	q.mu.Unlock()

	if err != nil {
		q.logger.Error("persist job queue", "error", err)
	}
	q.notify(snapshot)
	return claimed, true
}

func (q *Queue) runOne(ctx context.Context, job Job) {
	q.logger.Info("job started", "job", job.ID, "path", job.Path, "collection", job.Collection)

	progress := func(msg string) {
		q.mu.Lock()
		for _, j := range q.jobs {
			if j.ID == job.ID {
				j.Progress = msg
				break
			}
		}
		snapshot, err := q.persistLocked(false)
		q.mu.Unlock()
		if err != nil {
			q.logger.Error("persist job queue", "error", err)
		}
		q.notify(snapshot)
	}

	err := q.runner(ctx, job, progress)

	q.mu.Lock()
	now := time.Now().UTC()
	for _, j := range q.jobs {
		if j.ID != job.ID {
			continue
		}
		j.CompletedAt = &now
		if err != nil {
			j.Status = StatusFailed
			j.ErrorMessage = err.Error()
		} else {
			j.Status = StatusCompleted
		}
		break
	}
	snapshot, perr := q.persistLocked(true)
	q.mu.Unlock()

	if perr != nil {
		q.logger.Error("persist job queue", "error", perr)
	}
	q.notify(snapshot)

	if err != nil {
		q.logger.Error("job failed", "job", job.ID, "error", err)
	} else {
		q.logger.Info("job completed", "job", job.ID)
	}
}

// persistLocked snapshots the job list to disk. Progress-only updates
// (force=false) are throttled; status transitions persist immediately.
// Returns the snapshot for subscriber notification outside the lock.
func (q *Queue) persistLocked(force bool) ([]Job, error) {
	snapshot := q.snapshotLocked()
	if !force && time.Since(q.lastPersist) < persistThrottle {
		q.dirty = true
		return snapshot, nil
	}

	doc := document{Version: 1, Jobs: snapshot}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return snapshot, ragerr.InternalError("encode job queue", err)
	}
	if err := os.MkdirAll(filepath.Dir(q.path), 0o755); err != nil {
		return snapshot, ragerr.Wrap(ragerr.ErrCodeStoreIO, err)
	}
	if err := writeFileAtomic(q.path, data); err != nil {
		return snapshot, ragerr.Wrap(ragerr.ErrCodeStoreIO, err)
	}
	q.lastPersist = time.Now()
	q.dirty = false
	return snapshot, nil
}

func (q *Queue) snapshotLocked() []Job {
	out := make([]Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].AddedAt.Before(out[k].AddedAt) })
	return out
}

// notify fans a snapshot out to subscribers. Must be called without q.mu held
// by the code path that mutated state; the map access itself takes the lock.
func (q *Queue) notify(snapshot []Job) {
	q.mu.Lock()
	chans := make([]chan []Job, 0, len(q.subscribers))
	for _, ch := range q.subscribers {
		chans = append(chans, ch)
	}
	q.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- snapshot:
		default:
			// Drop for slow consumers; they catch up on the next update.
		}
	}
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
