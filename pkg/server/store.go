package server

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/deep-research/pkg/research"
)

// JobStatus is the lifecycle state of a research job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the job can no longer change.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrJobNotRunning = errors.New("job is not running")
	ErrInvalidTopic  = errors.New("topic cannot be empty")
)

// JobConfig holds the per-job overrides chosen at creation time.
type JobConfig struct {
	MaxRounds        int `json:"max_rounds"`
	ResultsPerSearch int `json:"results_per_search"`
}

type Job struct {
	ID        uuid.UUID                `json:"id"`
	Topic     string                   `json:"topic"`
	Status    JobStatus                `json:"status"`
	Config    JobConfig                `json:"config"`
	Progress  *research.Event          `json:"progress,omitempty"`
	Report    *string                  `json:"report,omitempty"`
	Result    *research.ResearchResult `json:"result,omitempty"`
	Error     *string                  `json:"error,omitempty"`
	CreatedAt time.Time                `json:"created_at"`
	UpdatedAt time.Time                `json:"updated_at"`
}

type LogEntry struct {
	ID        int             `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata"`
}

// JobStore persists jobs, their progress and their logs.
type JobStore interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]Job, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status JobStatus, errMsg string) error
	SaveProgress(ctx context.Context, id uuid.UUID, progress research.Event) error
	CompleteJob(ctx context.Context, id uuid.UUID, result *research.ResearchResult) error
	AppendLog(ctx context.Context, id uuid.UUID, entry LogEntry) error
	GetLogs(ctx context.Context, id uuid.UUID) ([]LogEntry, error)
	// MarkInterrupted fails every job left pending or running by a previous
	// process and returns how many were changed.
	MarkInterrupted(ctx context.Context) (int, error)
}

// MemoryStore is a JobStore used when no database is configured. Jobs are
// lost on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*Job
	logs map[uuid.UUID][]LogEntry
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[uuid.UUID]*Job),
		logs: make(map[uuid.UUID][]LogEntry),
		now:  time.Now,
	}
}

func (m *MemoryStore) CreateJob(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	job.CreatedAt, job.UpdatedAt = now, now
	if job.Status == "" {
		job.Status = StatusPending
	}
	stored := *job
	m.jobs[job.ID] = &stored
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	out := *job
	return &out, nil
}

func (m *MemoryStore) ListJobs(_ context.Context, limit int) ([]Job, error) {
	m.mu.RLock()
	jobs := make([]Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, *job)
	}
	m.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (m *MemoryStore) update(id uuid.UUID, fn func(*Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	fn(job)
	job.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id uuid.UUID, status JobStatus, errMsg string) error {
	return m.update(id, func(job *Job) {
		job.Status = status
		if errMsg != "" {
			job.Error = &errMsg
		}
	})
}

func (m *MemoryStore) SaveProgress(_ context.Context, id uuid.UUID, progress research.Event) error {
	return m.update(id, func(job *Job) {
		job.Progress = &progress
	})
}

func (m *MemoryStore) CompleteJob(_ context.Context, id uuid.UUID, result *research.ResearchResult) error {
	return m.update(id, func(job *Job) {
		report := result.FinalReport
		job.Status = StatusCompleted
		job.Report = &report
		job.Result = result
	})
}

func (m *MemoryStore) AppendLog(_ context.Context, id uuid.UUID, entry LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return ErrJobNotFound
	}
	entry.ID = len(m.logs[id]) + 1
	m.logs[id] = append(m.logs[id], entry)
	return nil
}

func (m *MemoryStore) GetLogs(_ context.Context, id uuid.UUID) ([]LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.jobs[id]; !ok {
		return nil, ErrJobNotFound
	}
	return append([]LogEntry(nil), m.logs[id]...), nil
}

func (m *MemoryStore) MarkInterrupted(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	msg := interruptedMessage
	for _, job := range m.jobs {
		if job.Status == StatusPending || job.Status == StatusRunning {
			job.Status = StatusFailed
			job.Error = &msg
			job.UpdatedAt = m.now()
			n++
		}
	}
	return n, nil
}

const interruptedMessage = "interrupted: the server stopped while the job was running"
