package events

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// messageWriter покрывает используемую продюсером часть kafka.Writer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer асинхронно пишет события в топик. Ключом сообщения служит идентификатор заказа,
// поэтому события одного заказа попадают в одну партицию.
type KafkaProducer struct {
	w       messageWriter
	logger  *zap.Logger
	inbox   chan kafka.Message
	closeCh chan struct{}
}

// NewKafkaProducer создаёт продюсер с буфером buf сообщений.
func NewKafkaProducer(brokers []string, topic string, buf int, logger *zap.Logger) *KafkaProducer {
	return newKafkaProducer(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}, buf, logger)
}

func newKafkaProducer(w messageWriter, buf int, logger *zap.Logger) *KafkaProducer {
	if buf <= 0 {
		buf = 256
	}
	return &KafkaProducer{
		w:       w,
		logger:  logger,
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
}

// Run пишет сообщения до отмены ctx, затем дописывает остаток буфера и закрывает writer.
func (p *KafkaProducer) Run(ctx context.Context) error {
	defer close(p.closeCh)
	for {
		select {
		case <-ctx.Done():
			p.drain()
			return p.w.Close()
		case m := <-p.inbox:
			p.write(m)
		}
	}
}

func (p *KafkaProducer) drain() {
	for {
		select {
		case m := <-p.inbox:
			p.write(m)
		default:
			return
		}
	}
}

func (p *KafkaProducer) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.w.WriteMessages(ctx, m); err != nil {
		p.logger.Error("publish event error", zap.Error(err), zap.String("orderID", string(m.Key)))
	}
}

// Publish ставит события в очередь. При переполненном буфере событие отбрасывается с записью в лог.
func (p *KafkaProducer) Publish(_ context.Context, events ...Event) {
	now := time.Now()
	for _, e := range events {
		value, err := Encode(e, now)
		if err != nil {
			p.logger.Error("encode event error", zap.Error(err), zap.String("event", e.Type))
			continue
		}
		msg := kafka.Message{
			Key:   []byte(e.Order.OrderID),
			Value: value,
			Time:  now,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(e.Type)},
			},
		}
		select {
		case p.inbox <- msg:
		default:
			p.logger.Warn("event buffer full, dropping event",
				zap.String("event", e.Type), zap.String("orderID", e.Order.OrderID))
		}
	}
}

// WaitClosed ждёт завершения Run.
func (p *KafkaProducer) WaitClosed() {
	<-p.closeCh
}
