package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentfabric/platform/internal/broker"
	"github.com/agentfabric/platform/internal/logger"
	"github.com/agentfabric/platform/internal/metrics"
	"github.com/agentfabric/platform/internal/model"
	"github.com/agentfabric/platform/internal/store"
	"github.com/agentfabric/platform/internal/tenant"
	"github.com/agentfabric/platform/internal/updatebus"
)

// IngestMessage is the ingest queue's message schema per §6: one message
// per newly-submitted AnalysisRequest.
type IngestMessage struct {
	UserID            uuid.UUID `json:"user_id"`
	AnalysisRequestID uuid.UUID `json:"analysis_request_id"`
	Prompt            string    `json:"prompt"`
	ShopDomain        string    `json:"shop_domain"`
}

// Consumer is the broker capability the driver loop needs.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler broker.Handler) error
}

// PollInterval is how long check_status sleeps between polls of
// non-terminal dispatched tasks, per §4.8's "the graph loops through
// this node until the plan is exhausted" / "worker loop sleeps between
// visits".
const PollInterval = 2 * time.Second

// MaxStepsPerVisit bounds how many graph-node transitions the driver
// runs for a single ingest message delivery before yielding back to the
// broker's receive loop. check_status's self-loop sleeps PollInterval
// between steps, so this is really a ceiling on total wall-clock per
// delivery, not a step-count budget in the usual sense.
const MaxStepsPerVisit = 100000

// Driver consumes the ingest queue and drives each AnalysisRequest's
// Graph to a terminal node, checkpointing before and after every node
// transition per §4.8.
type Driver struct {
	db       *sql.DB
	broker   publisherConsumer
	graphFor func(publisher Publisher) *Graph
	bus      *updatebus.Bus
	log      *logger.Logger
}

// publisherConsumer is satisfied by *broker.Broker: it is both the
// Consumer the driver loop reads ingest from and the Publisher the graph
// dispatches department work through.
type publisherConsumer interface {
	Consumer
	Publisher
}

// NewDriver constructs a Driver. graphFor is called once per delivery so
// the Graph's tenant-scoped AgentTaskStore is freshly bound inside
// tenant.WithTenant for that request.
func NewDriver(db *sql.DB, b publisherConsumer, graphFor func(publisher Publisher) *Graph, bus *updatebus.Bus, log *logger.Logger) *Driver {
	return &Driver{db: db, broker: b, graphFor: graphFor, bus: bus, log: log}
}

// Run consumes the ingest queue until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	return d.broker.Consume(ctx, ingestQueueName, d.processDelivery)
}

const ingestQueueName = "ingest"

func (d *Driver) processDelivery(ctx context.Context, body []byte) (ack bool, err error) {
	var msg IngestMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		d.log.Error("", "", "orchestrator: malformed ingest message, rejecting to DLQ", err, nil)
		return false, err
	}

	var infraErr error
	txErr := tenant.WithTenant(ctx, d.db, msg.UserID, func(ctx context.Context) error {
		infraErr = d.driveRequest(ctx, msg)
		return infraErr
	})
	if txErr != nil && infraErr == nil {
		d.log.Error(msg.UserID.String(), msg.AnalysisRequestID.String(), "orchestrator: tenant context setup failed", txErr, nil)
		return false, txErr
	}
	if infraErr != nil {
		return false, infraErr
	}
	return true, nil
}

// driveRequest implements the "Driver loop" subsection of §4.8.
func (d *Driver) driveRequest(ctx context.Context, msg IngestMessage) error {
	requests := store.NewRequestStore(d.db)
	checkpointer := store.NewCheckpointer(d.db)
	prefsStore := store.NewPreferencesStore(d.db)

	req, err := requests.Get(ctx, msg.AnalysisRequestID)
	if err != nil {
		return fmt.Errorf("orchestrator: load analysis request %s: %w", msg.AnalysisRequestID, err)
	}

	if err := requests.TransitionToProcessing(ctx, msg.AnalysisRequestID); err != nil {
		return fmt.Errorf("orchestrator: mark processing: %w", err)
	}
	d.publishSnapshot(ctx, req, model.RequestProcessing, nil, nil)

	prefs, err := prefsStore.Get(ctx, msg.UserID)
	if err != nil {
		return fmt.Errorf("orchestrator: load user preferences: %w", err)
	}

	s, err := d.resumeOrInit(ctx, checkpointer, msg)
	if err != nil {
		return fmt.Errorf("orchestrator: resume checkpoint: %w", err)
	}

	graph := d.graphFor(d.broker)

	for i := 0; i < MaxStepsPerVisit; i++ {
		if err := checkpointer.Put(ctx, msg.AnalysisRequestID, mustMarshal(s)); err != nil {
			return fmt.Errorf("orchestrator: checkpoint before node %s: %w", s.Node, err)
		}

		nodeStart := time.Now()
		done, err := graph.Step(ctx, prefs, s)
		metrics.OrchestratorNodeDuration.WithLabelValues(s.Node).Observe(time.Since(nodeStart).Seconds())
		if err != nil {
			return fmt.Errorf("orchestrator: node %s failed: %w", s.Node, err)
		}

		if cpErr := checkpointer.Put(ctx, msg.AnalysisRequestID, mustMarshal(s)); cpErr != nil {
			return fmt.Errorf("orchestrator: checkpoint after node %s: %w", s.Node, cpErr)
		}

		if done {
			return d.finish(ctx, requests, req, s)
		}

		if s.Node == nodeCheckStatus {
			select {
			case <-time.After(PollInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("orchestrator: request %s exceeded max graph steps without reaching a terminal node", msg.AnalysisRequestID)
}

// resumeOrInit loads an existing checkpoint for thread_id=AnalysisRequestID
// if one exists, else constructs a fresh initial State. A corrupted
// snapshot surfaces as a fresh plan re-invocation, per §4.8.
func (d *Driver) resumeOrInit(ctx context.Context, checkpointer *store.Checkpointer, msg IngestMessage) (*State, error) {
	raw, ok, err := checkpointer.Get(ctx, msg.AnalysisRequestID)
	if err != nil {
		d.log.Warn(msg.UserID.String(), msg.AnalysisRequestID.String(), "orchestrator: corrupted checkpoint, re-planning from scratch", map[string]interface{}{
			"error": err.Error(),
		})
		return NewState(msg.AnalysisRequestID, msg.UserID, msg.ShopDomain, msg.Prompt), nil
	}
	if !ok {
		return NewState(msg.AnalysisRequestID, msg.UserID, msg.ShopDomain, msg.Prompt), nil
	}

	s, err := UnmarshalState(raw)
	if err != nil {
		d.log.Warn(msg.UserID.String(), msg.AnalysisRequestID.String(), "orchestrator: corrupted checkpoint, re-planning from scratch", map[string]interface{}{
			"error": err.Error(),
		})
		return NewState(msg.AnalysisRequestID, msg.UserID, msg.ShopDomain, msg.Prompt), nil
	}
	return s, nil
}

// finish writes the terminal AnalysisRequest status and publishes the
// final Update Bus snapshot, per §4.8's driver loop step 4.
func (d *Driver) finish(ctx context.Context, requests *store.RequestStore, req *model.AnalysisRequest, s *State) error {
	if s.Error != nil {
		if err := requests.Fail(ctx, req.ID, *s.Error); err != nil {
			return fmt.Errorf("orchestrator: mark request failed: %w", err)
		}
		metrics.RequestsProcessed.WithLabelValues("failed").Inc()
		d.publishSnapshot(ctx, req, model.RequestFailed, nil, s.Error)
		return nil
	}

	summary := ""
	if s.FinalResult != nil {
		summary = *s.FinalResult
	}
	resultData, _ := json.Marshal(s.AggregatedResults)
	if err := requests.Complete(ctx, req.ID, summary, resultData); err != nil {
		return fmt.Errorf("orchestrator: mark request completed: %w", err)
	}
	metrics.RequestsProcessed.WithLabelValues("completed").Inc()
	d.publishSnapshot(ctx, req, model.RequestCompleted, &summary, nil)
	return nil
}

// publishSnapshot emits a best-effort Update Bus snapshot; a publish
// failure is logged, never propagated, per §4.9's at-most-once contract.
func (d *Driver) publishSnapshot(ctx context.Context, req *model.AnalysisRequest, status string, summary, errMsg *string) {
	if d.bus == nil {
		return
	}
	snap := updatebus.Snapshot{
		ID:           req.ID,
		UserID:       req.UserID,
		Prompt:       req.Prompt,
		Status:       status,
		ResultSummary: summary,
		ErrorMessage: errMsg,
		CreatedAt:    req.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	if err := d.bus.Publish(ctx, req.ID, snap); err != nil {
		d.log.Error(req.UserID.String(), req.ID.String(), "orchestrator: update bus publish failed", err, nil)
	}
}

func mustMarshal(s *State) json.RawMessage {
	b, err := s.Marshal()
	if err != nil {
		// State always marshals: every field is a plain JSON-able type.
		// A failure here means a programming error, not a runtime condition
		// worth plumbing through every caller's error return.
		panic(fmt.Sprintf("orchestrator: state marshal invariant violated: %v", err))
	}
	return b
}
