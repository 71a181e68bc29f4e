package keeper

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// FeedConsumerName is the keeper's durable cursor on the processed-event
// stream. The cursor survives restarts alongside the Redis working set.
const FeedConsumerName = "perpscope-keeper"

// Feed tails the indexer's processed-event stream and grows the
// liquidation working set from observed trading activity.
type Feed struct {
	js  jetstream.JetStream
	set WorkingSet
	log zerolog.Logger

	consumeCtx jetstream.ConsumeContext
}

func NewFeed(js jetstream.JetStream, set WorkingSet, log zerolog.Logger) *Feed {
	return &Feed{
		js:  js,
		set: set,
		log: log.With().Str("component", "keeper_feed").Logger(),
	}
}

// Start attaches the durable consumer. Only subjects that name traders
// with open exposure are consumed.
func (f *Feed) Start(ctx context.Context, streamName string) error {
	cons, err := f.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:   FeedConsumerName,
		AckPolicy: jetstream.AckExplicitPolicy,
		FilterSubjects: []string{
			"perpscope.events.OrderPlaced",
			"perpscope.events.TradeExecuted",
			"perpscope.events.PositionUpdated",
		},
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create feed consumer: %w", err)
	}

	consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
		f.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("consume feed: %w", err)
	}
	f.consumeCtx = consumeCtx

	f.log.Info().Str("stream", streamName).Msg("keeper feed started")
	return nil
}

func (f *Feed) Stop() {
	if f.consumeCtx != nil {
		f.consumeCtx.Stop()
	}
}

// feedEvent extracts just the trader addresses from a processed event.
type feedEvent struct {
	EventType string `json:"event_type"`
	Payload   struct {
		Trader string `json:"trader"`
		Buyer  string `json:"buyer"`
		Seller string `json:"seller"`
	} `json:"payload"`
}

func (f *Feed) handle(ctx context.Context, msg jetstream.Msg) {
	var ev feedEvent
	if err := json.Unmarshal(msg.Data(), &ev); err != nil {
		f.log.Warn().Err(err).Str("subject", msg.Subject()).Msg("bad feed message")
		msg.Ack()
		return
	}

	for _, trader := range []string{ev.Payload.Trader, ev.Payload.Buyer, ev.Payload.Seller} {
		if trader == "" {
			continue
		}
		if err := f.set.Add(ctx, trader); err != nil {
			// Leave the message unacked; redelivery retries the add.
			f.log.Error().Err(err).Str("trader", trader).Msg("working set add failed")
			msg.Nak()
			return
		}
	}
	msg.Ack()
}
