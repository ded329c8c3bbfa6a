package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/feichai0017/casefolio/pkg/logger"
)

// HandlerFunc receives decoded job events. Returning an error leaves the message unmarked.
type HandlerFunc func(ctx context.Context, event JobEvent) error

// Subscriber reads job events with a consumer group.
type Subscriber struct {
	group  sarama.ConsumerGroup
	topic  string
	logger logger.Logger
}

func NewSubscriber(cfg KafkaConfig, groupID string, log logger.Logger) (*Subscriber, error) {
	sc := sarama.NewConfig()
	sc.Version = sarama.V3_6_0_0
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	sc.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, groupID, sc)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}
	return &Subscriber{group: group, topic: cfg.Topic, logger: log}, nil
}

// Run consumes until ctx is done.
func (s *Subscriber) Run(ctx context.Context, handle HandlerFunc) error {
	go func() {
		for err := range s.group.Errors() {
			s.logger.Warn("Kafka consumer error", logger.Error(err))
		}
	}()

	h := &groupHandler{handle: handle, logger: s.logger}
	for {
		if err := s.group.Consume(ctx, []string{s.topic}, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) || errors.Is(err, context.Canceled) {
				return nil
			}
			s.logger.Error("Kafka consume failed", logger.Error(err))
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (s *Subscriber) Close() error { return s.group.Close() }

type groupHandler struct {
	handle HandlerFunc
	logger logger.Logger
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if h.deliver(session.Context(), msg) {
				session.MarkMessage(msg, "")
			}
		case <-session.Context().Done():
			return nil
		}
	}
}

// deliver reports whether msg may be marked. Undecodable messages are marked so they are not redelivered forever.
func (h *groupHandler) deliver(ctx context.Context, msg *sarama.ConsumerMessage) bool {
	var event JobEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.logger.Warn("Skipping malformed job event",
			logger.Int("partition", int(msg.Partition)),
			logger.Int64("offset", msg.Offset),
			logger.Error(err),
		)
		return true
	}
	if err := h.handle(ctx, event); err != nil {
		h.logger.Error("Job event handler failed", logger.String("job_id", event.JobID), logger.Error(err))
		return false
	}
	return true
}
