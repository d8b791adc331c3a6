// Package worker implements the department worker skeleton of §4.3: a
// long-lived consumer that parses, extracts, idempotency-checks, runs,
// records, and acks/nacks exactly as the spec's worker loop requires.
package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentfabric/platform/internal/broker"
	"github.com/agentfabric/platform/internal/logger"
	"github.com/agentfabric/platform/internal/metrics"
	"github.com/agentfabric/platform/internal/model"
	"github.com/agentfabric/platform/internal/store"
	"github.com/agentfabric/platform/internal/tenant"
)

// DepartmentHandler runs the domain-specific work for one task. Errors
// returned are treated as retryable logical failures; the Skeleton
// applies RetryPolicy before recording a terminal failed status.
type DepartmentHandler interface {
	// Department names the tag this handler serves (model.DeptXxx).
	Department() string
	// Handle processes one task and returns its output payload.
	Handle(ctx context.Context, msg Message) (output []byte, err error)
}

// Skeleton is the generic worker loop shared by every department. The
// action executor does not use it; hitl.ActionExecutor runs its own
// consumer loop over action.execute.
type Skeleton struct {
	broker  *broker.Broker
	db      *sql.DB
	handler DepartmentHandler
	retry   RetryPolicy
	log     *logger.Logger
}

// NewSkeleton wires a handler to its queue's worker loop.
func NewSkeleton(b *broker.Broker, db *sql.DB, handler DepartmentHandler, retry RetryPolicy, log *logger.Logger) *Skeleton {
	return &Skeleton{broker: b, db: db, handler: handler, retry: retry, log: log}
}

// Run consumes queueName until ctx is cancelled, processing one message
// at a time per §4.3's worker loop.
func (s *Skeleton) Run(ctx context.Context, queueName string) error {
	return s.broker.Consume(ctx, queueName, s.processDelivery)
}

func (s *Skeleton) processDelivery(ctx context.Context, body []byte) (ack bool, err error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		s.log.Error("", "", "worker: malformed message, rejecting to DLQ", err, nil)
		return false, err // parse failure: nack without requeue, per §4.3
	}

	var infraErr error
	var handledAck bool

	txErr := tenant.WithTenant(ctx, s.db, msg.UserID, func(ctx context.Context) error {
		handledAck, infraErr = s.handleWithTenant(ctx, msg)
		return infraErr
	})
	if txErr != nil && infraErr == nil {
		// SetContext itself failed: treat as infrastructural, nack to DLQ.
		s.log.Error(msg.UserID.String(), msg.AnalysisRequestID.String(), "worker: tenant context setup failed", txErr, nil)
		return false, txErr
	}

	return handledAck, infraErr
}

func (s *Skeleton) handleWithTenant(ctx context.Context, msg Message) (ack bool, err error) {
	taskStore := store.NewAgentTaskStore(s.db)

	task, err := taskStore.Get(ctx, msg.TaskID)
	if err != nil {
		return false, fmt.Errorf("worker: load task %s: %w", msg.TaskID, err)
	}

	if model.IsTerminalTaskStatus(task.Status) {
		s.log.TaskInfo(msg.UserID.String(), msg.AnalysisRequestID.String(), msg.TaskID.String(),
			"worker: duplicate delivery of terminal task, acking", nil)
		return true, nil
	}

	now := time.Now()
	if err := taskStore.UpdateStatus(ctx, msg.TaskID, model.TaskRunning, store.StatusUpdate{}); err != nil {
		return false, fmt.Errorf("worker: mark task running: %w", err)
	}

	output, handlerErr := s.runWithRetry(ctx, msg, taskStore)
	elapsed := time.Since(now)
	metrics.TaskDuration.WithLabelValues(s.handler.Department()).Observe(elapsed.Seconds())

	if handlerErr == nil {
		if err := taskStore.UpdateStatus(ctx, msg.TaskID, model.TaskCompleted, store.StatusUpdate{OutputData: output}); err != nil {
			return false, fmt.Errorf("worker: record completion: %w", err)
		}
		metrics.TasksProcessed.WithLabelValues(s.handler.Department(), "completed").Inc()
		return true, nil
	}

	logs := handlerErr.Error()
	if err := taskStore.UpdateStatus(ctx, msg.TaskID, model.TaskFailed, store.StatusUpdate{Logs: &logs}); err != nil {
		return false, fmt.Errorf("worker: record failure: %w", err)
	}
	metrics.TasksProcessed.WithLabelValues(s.handler.Department(), "failed").Inc()
	return true, nil // logical failure recorded: ack per §4.3
}

// runWithRetry runs the handler in-process, applying RetryPolicy's
// backoff between attempts, oscillating the task's recorded status
// between running and retrying as §4.4 requires.
func (s *Skeleton) runWithRetry(ctx context.Context, msg Message, taskStore *store.AgentTaskStore) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= s.retry.MaxAttempts; attempt++ {
		output, err := s.handler.Handle(ctx, msg)
		if err == nil {
			return output, nil
		}
		lastErr = err

		if s.retry.Exhausted(attempt) {
			break
		}

		retryCount := attempt
		if err := taskStore.UpdateStatus(ctx, msg.TaskID, model.TaskRetrying, store.StatusUpdate{RetryCount: &retryCount}); err != nil {
			return nil, fmt.Errorf("worker: record retrying status: %w", err)
		}

		select {
		case <-time.After(s.retry.Delay(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		if err := taskStore.UpdateStatus(ctx, msg.TaskID, model.TaskRunning, store.StatusUpdate{}); err != nil {
			return nil, fmt.Errorf("worker: record resumed running status: %w", err)
		}
	}

	return nil, lastErr
}
