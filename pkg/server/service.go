package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mikeboe/deep-research/pkg/research"
)

// OrchestratorFactory builds a session orchestrator logging to logger.
type OrchestratorFactory func(opts research.Options, logger *slog.Logger) *research.Orchestrator

type Service struct {
	Store           JobStore
	Options         research.Options
	NewOrchestrator OrchestratorFactory
	Logger          *slog.Logger

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
	wg      sync.WaitGroup
}

func NewService(store JobStore, opts research.Options, factory OrchestratorFactory, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Store:           store,
		Options:         opts,
		NewOrchestrator: factory,
		Logger:          logger,
		cancels:         make(map[uuid.UUID]context.CancelFunc),
	}
}

type CreateJobRequest struct {
	Topic            string `json:"topic"`
	MaxRounds        int    `json:"max_rounds,omitempty"`
	ResultsPerSearch int    `json:"results_per_search,omitempty"`
}

func (s *Service) CreateJob(ctx context.Context, req CreateJobRequest) (*Job, error) {
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return nil, ErrInvalidTopic
	}

	cfg := JobConfig{MaxRounds: s.Options.MaxRounds, ResultsPerSearch: s.Options.ResultsPerSearch}
	if req.MaxRounds > 0 {
		cfg.MaxRounds = req.MaxRounds
	}
	if req.ResultsPerSearch > 0 {
		cfg.ResultsPerSearch = req.ResultsPerSearch
	}

	job := &Job{ID: uuid.New(), Topic: topic, Status: StatusPending, Config: cfg}
	if err := s.Store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[job.ID] = cancel
	s.mu.Unlock()

	// Start background worker
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(job.ID)
		s.runWorker(workerCtx, *job)
	}()

	return job, nil
}

func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	return s.Store.GetJob(ctx, id)
}

func (s *Service) ListJobs(ctx context.Context) ([]Job, error) {
	return s.Store.ListJobs(ctx, 50)
}

func (s *Service) GetJobLogs(ctx context.Context, jobID uuid.UUID) ([]LogEntry, error) {
	return s.Store.GetLogs(ctx, jobID)
}

// CancelJob stops a running job. The worker records the cancelled status.
func (s *Service) CancelJob(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	s.mu.Unlock()
	if ok {
		cancel()
		return nil
	}
	if _, err := s.Store.GetJob(ctx, id); err != nil {
		return err
	}
	return ErrJobNotRunning
}

// Running reports how many jobs have a live worker.
func (s *Service) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cancels)
}

// Shutdown cancels every running job and waits for the workers to record it.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) release(id uuid.UUID) {
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	delete(s.cancels, id)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func (s *Service) runWorker(ctx context.Context, job Job) {
	// Store writes use their own context so a cancelled job can still be recorded.
	store := context.Background()

	if err := s.Store.UpdateStatus(store, job.ID, StatusRunning, ""); err != nil {
		s.Logger.Error("Failed to mark job running", "job_id", job.ID, "error", err)
	}

	// Configure orchestrator with store logger
	jobLogger := slog.New(NewStoreLogHandler(s.Store, job.ID, s.Logger.Handler())).With("job_id", job.ID.String())

	opts := s.Options
	opts.ResultsPerSearch = job.Config.ResultsPerSearch
	orchestrator := s.NewOrchestrator(opts, jobLogger)

	// Hook for progress persistence
	observer := research.ObserverFunc(func(e research.Event) {
		if err := s.Store.SaveProgress(store, job.ID, e); err != nil {
			jobLogger.Error("Failed to save progress", "error", err)
		}
	})

	result, err := orchestrator.ConductResearch(ctx, job.Topic, job.Config.MaxRounds, observer)
	switch {
	case err == nil:
		if err := s.Store.CompleteJob(store, job.ID, result); err != nil {
			jobLogger.Error("Failed to save final report", "error", err)
		}
	case errors.Is(err, context.Canceled):
		jobLogger.Warn("Research cancelled")
		if err := s.Store.UpdateStatus(store, job.ID, StatusCancelled, "cancelled"); err != nil {
			jobLogger.Error("Failed to mark job cancelled", "error", err)
		}
	default:
		s.failJob(store, job.ID, jobLogger, fmt.Sprintf("Research failed: %v", err))
	}
}

func (s *Service) failJob(ctx context.Context, jobID uuid.UUID, logger *slog.Logger, reason string) {
	logger.Error(reason)
	if err := s.Store.UpdateStatus(ctx, jobID, StatusFailed, reason); err != nil {
		s.Logger.Error("Failed to mark job failed", "job_id", jobID, "error", err)
	}
}
