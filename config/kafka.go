package config

import (
	"sync"

	"github.com/feichai0017/casefolio/internal/notify"
)

var (
	kafkaOnce   sync.Once
	kafkaConfig *notify.KafkaConfig
)

// GetKafkaConfig returns the job event topic settings. No brokers means events are not published.
func GetKafkaConfig() *notify.KafkaConfig {
	kafkaOnce.Do(func() {
		loadEnv()
		kafkaConfig = &notify.KafkaConfig{
			Brokers:  getList("KAFKA_BROKERS"),
			Topic:    getEnv("KAFKA_JOB_TOPIC", "casefolio.job-events"),
			ClientID: getEnv("KAFKA_CLIENT_ID", "casefolio"),
		}
	})
	return kafkaConfig
}
