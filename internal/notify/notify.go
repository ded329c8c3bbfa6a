// Package notify publishes job lifecycle events for downstream consumers (case dashboards, audit trail).
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/feichai0017/casefolio/internal/models"
	"github.com/feichai0017/casefolio/pkg/logger"
)

// JobEvent is emitted on every stage transition.
type JobEvent struct {
	JobID       string           `json:"job_id"`
	Kind        models.JobKind   `json:"kind"`
	CaseID      string           `json:"case_id,omitempty"`
	DocumentRef string           `json:"document_ref,omitempty"`
	Stage       string           `json:"stage"`
	Progress    models.Progress  `json:"progress"`
	Error       *models.JobError `json:"error,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

// EventFor snapshots job.
func EventFor(job *models.ProcessingJob) JobEvent {
	return JobEvent{
		JobID:       job.ID,
		Kind:        job.Kind,
		CaseID:      job.CaseID,
		DocumentRef: job.DocumentRef,
		Stage:       job.Stage.String(),
		Progress:    job.Progress,
		Error:       job.Error,
		Timestamp:   job.UpdatedAt,
	}
}

type Publisher interface {
	Publish(ctx context.Context, event JobEvent) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, JobEvent) error { return nil }
func (Nop) Close() error                            { return nil }

type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// KafkaPublisher writes events keyed by job id so one job's events stay ordered within a partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   logger.Logger
}

func NewKafkaPublisher(cfg KafkaConfig, log logger.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	sc := sarama.NewConfig()
	sc.Version = sarama.V3_6_0_0
	sc.ClientID = cfg.ClientID
	if sc.ClientID == "" {
		sc.ClientID = "casefolio"
	}
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Idempotent = true
	sc.Producer.Retry.Max = 5
	sc.Producer.Return.Successes = true
	sc.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	log.Info("Kafka publisher ready", logger.String("topic", cfg.Topic), logger.Int("brokers", len(cfg.Brokers)))
	return NewKafkaPublisherWithProducer(producer, cfg.Topic, log), nil
}

func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string, log logger.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, logger: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event JobEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode job event: %w", err)
	}
	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.JobID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("stage"), Value: []byte(event.Stage)},
		},
	})
	if err != nil {
		return &models.ExternalServiceError{Service: "kafka", Op: "SendMessage", Err: err}
	}
	p.logger.Debug("Published job event",
		logger.String("job_id", event.JobID),
		logger.String("stage", event.Stage),
		logger.Int("partition", int(partition)),
		logger.Int64("offset", offset),
	)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
