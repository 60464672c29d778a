package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/streamsight/streamsight/internal/models"
)

// Producer publishes detection results and heartbeats.
type Producer struct {
	producer       sarama.SyncProducer
	resultTopic    string
	heartbeatTopic string
}

func NewProducer(brokers []string, resultTopic, heartbeatTopic string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}

	return &Producer{
		producer:       producer,
		resultTopic:    resultTopic,
		heartbeatTopic: heartbeatTopic,
	}, nil
}

func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka producer: %w", err)
	}
	return nil
}

// PublishResult sends one detection result, keyed by service id so a
// service's results land on one partition in order.
func (p *Producer) PublishResult(serviceID string, result models.DetectionResult) error {
	payload, err := json.Marshal(resultEnvelope{ServiceID: serviceID, Result: result})
	if err != nil {
		return err
	}

	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.resultTopic,
		Key:   sarama.StringEncoder(serviceID),
		Value: sarama.ByteEncoder(payload),
	})
	return err
}

// SendHeartbeat sends one liveness message.
func (p *Producer) SendHeartbeat(hb models.Heartbeat) error {
	payload, err := json.Marshal(hb)
	if err != nil {
		return err
	}

	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.heartbeatTopic,
		Key:   sarama.StringEncoder(hb.ServiceID),
		Value: sarama.ByteEncoder(payload),
	})
	return err
}

type resultEnvelope struct {
	ServiceID string                 `json:"service_id"`
	Result    models.DetectionResult `json:"result"`
}
