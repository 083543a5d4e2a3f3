package mailer

import (
	"context"
	"encoding/json"
	"net/mail"
	"time"

	"event-voucher/internal/domain/notification"
	"event-voucher/internal/pkg/errs"
	"event-voucher/internal/usecase/shared"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Message is what broker transports publish for each issued voucher.
// A downstream mail service owns the actual delivery.
type Message struct {
	Recipient   string    `json:"recipient"`
	VoucherCode string    `json:"voucherCode"`
	EventID     uuid.UUID `json:"eventId"`
	EventName   string    `json:"eventName"`
}

func encodeMessage(recipient string, p notification.Payload) ([]byte, error) {
	to, err := mail.ParseAddress(recipient)
	if err != nil {
		return nil, errs.Mark(errs.Wrap(err, recipient), ErrInvalidRecipient)
	}
	return json.Marshal(Message{
		Recipient:   to.Address,
		VoucherCode: p.VoucherCode,
		EventID:     p.EventID,
		EventName:   p.EventName,
	})
}

// NATSDeliverer publishes voucher messages on a NATS subject. Deliver only
// returns once the server has acknowledged the publish via a flush.
type NATSDeliverer struct {
	conn    *nats.Conn
	subject string
}

var _ shared.Deliverer = (*NATSDeliverer)(nil)

func NewNATSDeliverer(conn *nats.Conn, subject string) *NATSDeliverer {
	return &NATSDeliverer{conn: conn, subject: subject}
}

func DialNATS(url, subject string) (*NATSDeliverer, error) {
	conn, err := nats.Connect(url,
		nats.Name("event-voucher"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, errs.Wrapf(err, "connect nats %s", url)
	}
	return NewNATSDeliverer(conn, subject), nil
}

func (d *NATSDeliverer) Deliver(ctx context.Context, recipient string, payload notification.Payload) error {
	data, err := encodeMessage(recipient, payload)
	if err != nil {
		return err
	}
	if err := d.conn.Publish(d.subject, data); err != nil {
		return errs.Wrap(err, "nats publish")
	}
	// FlushWithContext refuses a ctx without deadline
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, nats.DefaultTimeout)
		defer cancel()
	}
	if err := d.conn.FlushWithContext(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return errs.Wrap(err, "nats flush")
	}
	return nil
}

func (d *NATSDeliverer) Close() error {
	return d.conn.Drain()
}

// KafkaDeliverer writes voucher messages to a Kafka topic keyed by recipient,
// so one guest's messages stay ordered within a partition.
type KafkaDeliverer struct {
	producer sarama.SyncProducer
	topic    string
}

var _ shared.Deliverer = (*KafkaDeliverer)(nil)

func NewKafkaDeliverer(producer sarama.SyncProducer, topic string) *KafkaDeliverer {
	return &KafkaDeliverer{producer: producer, topic: topic}
}

// defaultKafkaTimeout applies when no notify timeout is configured.
const defaultKafkaTimeout = 10 * time.Second

// kafkaConfig bounds every network step and the broker ack wait by timeout,
// so one SendMessage cannot block much longer than one delivery attempt.
func kafkaConfig(timeout time.Duration) *sarama.Config {
	if timeout <= 0 {
		timeout = defaultKafkaTimeout
	}
	cfg := sarama.NewConfig()
	cfg.ClientID = "event-voucher"
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Return.Successes = true
	cfg.Producer.Timeout = timeout
	cfg.Producer.Retry.Max = 1
	cfg.Metadata.Retry.Max = 1
	cfg.Net.MaxOpenRequests = 1
	cfg.Net.DialTimeout = timeout
	cfg.Net.ReadTimeout = timeout
	cfg.Net.WriteTimeout = timeout
	cfg.Version = sarama.V2_8_0_0
	return cfg
}

func DialKafka(brokers []string, topic string, timeout time.Duration) (*KafkaDeliverer, error) {
	producer, err := sarama.NewSyncProducer(brokers, kafkaConfig(timeout))
	if err != nil {
		return nil, errs.Wrapf(err, "connect kafka %v", brokers)
	}
	return NewKafkaDeliverer(producer, topic), nil
}

// Deliver sends synchronously. sarama takes no ctx, so the bound comes from
// the producer timeouts set in kafkaConfig.
func (d *KafkaDeliverer) Deliver(ctx context.Context, recipient string, payload notification.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeMessage(recipient, payload)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: d.topic,
		Key:   sarama.StringEncoder(recipient),
		Value: sarama.ByteEncoder(data),
	}
	if _, _, err := d.producer.SendMessage(msg); err != nil {
		return errs.Wrap(err, "kafka send")
	}
	return nil
}

func (d *KafkaDeliverer) Close() error {
	return d.producer.Close()
}
