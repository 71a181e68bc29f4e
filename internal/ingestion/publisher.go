package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"PerpScope/internal/event"
)

// Processed-event subjects follow perpscope.events.{event_type}. The
// keeper subscribes to OrderPlaced and TradeExecuted to learn which
// traders are active.
const (
	EventStreamName = "PERPSCOPE_EVENTS"
	EventSubject    = "perpscope.events.>"
)

// OutboundPublisher republishes events after the projector has applied
// and persisted them, for downstream consumers like the keeper.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan *event.Envelope
	log       zerolog.Logger
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan *event.Envelope, log zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		log:       log,
	}
}

// Run drains the input channel until it closes or the context ends.
// Publish failures are non-fatal: downstream consumers can always fall
// back to querying the projections directly.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, env); err != nil {
				op.log.Warn().Err(err).Str("key", env.Key()).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, env *event.Envelope) error {
	data, err := json.Marshal(processedEventJSON{
		BlockNumber: env.BlockNumber,
		TxHash:      env.TxHash,
		LogIndex:    env.LogIndex,
		Timestamp:   env.Timestamp,
		EventType:   env.EventType.String(),
		Payload:     env.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("perpscope.events.%s", env.EventType)
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

type processedEventJSON struct {
	BlockNumber uint64      `json:"block_number"`
	TxHash      string      `json:"tx_hash"`
	LogIndex    uint32      `json:"log_index"`
	Timestamp   int64       `json:"timestamp"`
	EventType   string      `json:"event_type"`
	Payload     interface{} `json:"payload"`
}

// EnsureEventStream creates the processed-events stream.
func EnsureEventStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      EventStreamName,
		Subjects:  []string{EventSubject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", EventStreamName, err)
	}
	return nil
}
