package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/jogardn/agrimarket/internal/circuitbreaker"
	"github.com/sirupsen/logrus"
)

type KafkaProducer struct {
	producer sarama.SyncProducer
	breaker  *circuitbreaker.CircuitBreaker
	logger   *logrus.Logger
	now      func() time.Time
}

func NewKafkaProducer(brokers string, breaker *circuitbreaker.CircuitBreaker, logger *logrus.Logger) (*KafkaProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 5 * time.Second
	config.Version = sarama.V2_6_0_0

	producer, err := sarama.NewSyncProducer(splitBrokers(brokers), config)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return newKafkaProducer(producer, breaker, logger), nil
}

func newKafkaProducer(producer sarama.SyncProducer, breaker *circuitbreaker.CircuitBreaker, logger *logrus.Logger) *KafkaProducer {
	return &KafkaProducer{
		producer: producer,
		breaker:  breaker,
		logger:   logger,
		now:      time.Now,
	}
}

func (p *KafkaProducer) PublishOrderCreated(ctx context.Context, event OrderCreatedEvent) error {
	event.EventTime = p.now().UTC()
	return p.send(ctx, OrderCreatedTopic, event.OrderID, event)
}

func (p *KafkaProducer) PublishOrderStatusChanged(ctx context.Context, event OrderStatusChangedEvent) error {
	event.EventTime = p.now().UTC()
	return p.send(ctx, OrderStatusChangedTopic, event.OrderID, event)
}

// send keys every message by order id so one order's events stay ordered
// within a partition.
func (p *KafkaProducer) send(ctx context.Context, topic, orderID string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(orderID),
		Value: sarama.ByteEncoder(data),
	}

	var partition int32
	var offset int64
	err = p.breaker.Execute(ctx, func(ctx context.Context) error {
		var sendErr error
		partition, offset, sendErr = p.producer.SendMessage(msg)
		return sendErr
	})
	if err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"topic":    topic,
			"order_id": orderID,
		}).Error("Failed to send message to Kafka")
		return err
	}

	p.logger.WithFields(logrus.Fields{
		"topic":     topic,
		"partition": partition,
		"offset":    offset,
		"order_id":  orderID,
	}).Info("Event published to Kafka")
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.producer.Close()
}

func splitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
