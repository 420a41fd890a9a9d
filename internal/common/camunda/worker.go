// internal/common/camunda/worker.go
package camunda

import (
	"context"
	"sync"

	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"

	"practice-insights/internal/common/config"
)

type Logger interface {
	Info(msg string, fields map[string]interface{})
}

// WorkerSet tracks opened job workers so they can be closed together.
type WorkerSet struct {
	client zbc.Client
	logger Logger

	mu      sync.Mutex
	workers map[string]worker.JobWorker
}

func NewWorkerSet(client zbc.Client, logger Logger) *WorkerSet {
	return &WorkerSet{
		client:  client,
		logger:  logger,
		workers: make(map[string]worker.JobWorker),
	}
}

// Start opens a job worker for taskType. Disabled workers are skipped and
// Start reports false.
func (s *WorkerSet) Start(taskType string, wcfg config.WorkerConfig, handler worker.JobHandler) bool {
	if !wcfg.Enabled {
		s.logger.Info("worker disabled", map[string]interface{}{"taskType": taskType})
		return false
	}

	jobWorker := s.client.NewJobWorker().
		JobType(taskType).
		Handler(handler).
		MaxJobsActive(wcfg.MaxJobsActive).
		Timeout(config.GetDuration(wcfg.Timeout)).
		Open()

	s.mu.Lock()
	s.workers[taskType] = jobWorker
	s.mu.Unlock()

	s.logger.Info("worker started", map[string]interface{}{
		"taskType":      taskType,
		"maxJobsActive": wcfg.MaxJobsActive,
		"timeout_ms":    wcfg.Timeout,
	})
	return true
}

// TaskTypes lists the running workers.
func (s *WorkerSet) TaskTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.workers))
	for t := range s.workers {
		out = append(out, t)
	}
	return out
}

// Stop closes every worker, waiting for in-flight jobs until ctx is done.
func (s *WorkerSet) Stop(ctx context.Context) {
	s.mu.Lock()
	workers := s.workers
	s.workers = make(map[string]worker.JobWorker)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for taskType, w := range workers {
			w.Close()
			w.AwaitClose()
			s.logger.Info("worker stopped", map[string]interface{}{"taskType": taskType})
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Info("worker shutdown timed out", map[string]interface{}{"error": ctx.Err().Error()})
	}
}
