// Package broker declares the fixed queue topology the analysis pipeline
// runs on and wraps amqp091-go with the publish/consume contract every
// worker in the fabric depends on: durable queues, a shared dead-letter
// exchange, bounded prefetch, and explicit ack/nack.
package broker

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/agentfabric/platform/internal/logger"
	"github.com/agentfabric/platform/internal/metrics"
)

// Queue names. These are the fixed topology of the pipeline: one ingest
// queue for the orchestrator, one queue per department worker, and one
// queue for approved-action execution.
const (
	QueueIngest             = "ingest"
	QueueDeptDataRetrieval  = "dept.data_retrieval"
	QueueDeptQuantitative   = "dept.quantitative"
	QueueDeptQualitative    = "dept.qualitative"
	QueueDeptRecommendation = "dept.recommendation"
	QueueDeptComparative    = "dept.comparative"
	QueueDeptPredictive     = "dept.predictive"
	QueueActionExecute      = "action.execute"

	deadLetterExchange = "analysis.dlx"
)

// AllQueues lists every primary queue declared at startup.
var AllQueues = []string{
	QueueIngest,
	QueueDeptDataRetrieval,
	QueueDeptQuantitative,
	QueueDeptQualitative,
	QueueDeptRecommendation,
	QueueDeptComparative,
	QueueDeptPredictive,
	QueueActionExecute,
}

func dlqName(queue string) string { return queue + ".dlq" }

// Broker owns a single AMQP connection and channel, and declares the full
// topology (every queue in AllQueues plus its paired DLQ) on Connect.
type Broker struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	log     *logger.Logger
	prefetch int
}

// Connect dials the broker, opens a channel, sets the requested prefetch
// via Qos, and declares the full fixed topology. Safe to call once per
// process; each worker/executor binary owns its own Broker instance.
func Connect(url string, prefetch int, log *logger.Logger) (*Broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("broker: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("broker: open channel: %w", err)
	}

	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("broker: set qos: %w", err)
	}

	b := &Broker{conn: conn, ch: ch, log: log, prefetch: prefetch}
	if err := b.declareTopology(); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return b, nil
}

// declareTopology declares the shared dead-letter exchange, then for each
// primary queue: its DLQ (bound to the DLX by the primary queue's name),
// and the primary queue itself configured to route nacked/rejected
// messages to the DLX under that same routing key.
func (b *Broker) declareTopology() error {
	if err := b.ch.ExchangeDeclare(deadLetterExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("broker: declare dlx: %w", err)
	}

	for _, queue := range AllQueues {
		dlq := dlqName(queue)

		if _, err := b.ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return fmt.Errorf("broker: declare dlq %s: %w", dlq, err)
		}
		if err := b.ch.QueueBind(dlq, queue, deadLetterExchange, false, nil); err != nil {
			return fmt.Errorf("broker: bind dlq %s: %w", dlq, err)
		}

		args := amqp.Table{
			"x-dead-letter-exchange":    deadLetterExchange,
			"x-dead-letter-routing-key": queue,
		}
		if _, err := b.ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
			return fmt.Errorf("broker: declare queue %s: %w", queue, err)
		}
	}

	return nil
}

// Publish marshals payload as JSON and publishes a persistent message to
// queue via the default exchange (routing key = queue name). Re-publishing
// the same logical message is permitted; consumers are responsible for
// idempotent handling of duplicate delivery.
func (b *Broker) Publish(ctx context.Context, queue string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("broker: marshal payload for %s: %w", queue, err)
	}

	err = b.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("broker: publish to %s: %w", queue, err)
	}
	return nil
}

// Handler processes one delivery body and reports the outcome: ack=true
// acknowledges the message (success or logical failure already recorded);
// ack=false nacks without requeue, routing the message to the queue's DLQ
// (reserved for infrastructural failures — DB unavailable, broker error).
type Handler func(ctx context.Context, body []byte) (ack bool, err error)

// Consume registers handler against queue and blocks until ctx is
// cancelled or the underlying channel closes. Each worker process calls
// Consume once per queue it owns.
func (b *Broker) Consume(ctx context.Context, queue string, handler Handler) error {
	deliveries, err := b.ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("broker: consume %s: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("broker: delivery channel for %s closed", queue)
			}
			b.handleDelivery(ctx, queue, d, handler)
		}
	}
}

func (b *Broker) handleDelivery(ctx context.Context, queue string, d amqp.Delivery, handler Handler) {
	ack, err := handler(ctx, d.Body)
	if err != nil && b.log != nil {
		b.log.Error("", "", fmt.Sprintf("broker: handler error on %s", queue), err, nil)
	}

	if ack {
		if ackErr := d.Ack(false); ackErr != nil && b.log != nil {
			b.log.Error("", "", fmt.Sprintf("broker: ack failed on %s", queue), ackErr, nil)
		}
		return
	}

	metrics.BrokerNacks.WithLabelValues(queue).Inc()
	if nackErr := d.Nack(false, false); nackErr != nil && b.log != nil {
		b.log.Error("", "", fmt.Sprintf("broker: nack failed on %s", queue), nackErr, nil)
	}
}

// Close tears down the channel and connection.
func (b *Broker) Close() error {
	var err error
	if b.ch != nil {
		if cerr := b.ch.Close(); cerr != nil {
			err = cerr
		}
	}
	if b.conn != nil {
		if cerr := b.conn.Close(); cerr != nil {
			err = cerr
		}
	}
	return err
}

// DepartmentQueue maps a department tag (as defined in internal/model) to
// its queue name.
func DepartmentQueue(department string) (string, error) {
	switch department {
	case "data_retrieval":
		return QueueDeptDataRetrieval, nil
	case "quantitative":
		return QueueDeptQuantitative, nil
	case "qualitative":
		return QueueDeptQualitative, nil
	case "recommendation":
		return QueueDeptRecommendation, nil
	case "comparative":
		return QueueDeptComparative, nil
	case "predictive":
		return QueueDeptPredictive, nil
	default:
		return "", fmt.Errorf("broker: unknown department %q", department)
	}
}
