package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/coursedeck/backend/pkg/queue"
)

// Processor executes one job of a given type.
type Processor interface {
	Process(ctx context.Context, job *queue.Job) error
}

// Worker drains the Redis job queues and dispatches by job type.
type Worker struct {
	queue      *queue.Queue
	processors map[queue.JobType]Processor
	logger     *zap.Logger
}

// New creates a worker with no processors registered.
func New(q *queue.Queue, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:      q,
		processors: make(map[queue.JobType]Processor),
		logger:     logger,
	}
}

// Register binds a processor to a job type.
func (w *Worker) Register(typ queue.JobType, p Processor) {
	w.processors[typ] = p
}

// Run starts the worker loop: dequeue, process, retry on error. Blocks
// until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return
		default:
		}

		job, key, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("worker stopping")
				return
			}
			w.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p, ok := w.processors[job.Type]
		if !ok {
			w.logger.Error("no processor for job type", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
			continue
		}

		w.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			w.logger.Error("job failed", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Error(err))
			if reErr := w.queue.Retry(ctx, key, job); reErr != nil {
				w.logger.Error("retry enqueue failed", zap.Error(reErr), zap.String("job_id", job.ID))
			}
			time.Sleep(queue.RetryBackoff)
		}
	}
}

func decodePayload(job *queue.Job, dst interface{}) error {
	if err := json.Unmarshal(job.Payload, dst); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", job.Type, err)
	}
	return nil
}
