// Package notify delivers human readable messages to users. Delivery is best
// effort: callers log a failure and carry on.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/models"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

type Sink interface {
	Notify(ctx context.Context, n models.Notification) error
}

type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Notify(_ context.Context, n models.Notification) error {
	s.logger.Info("Уведомление",
		zap.Strings("recipients", n.Recipients),
		zap.String("kind", n.Kind),
		zap.String("text", n.Text))
	return nil
}

// Publisher is the part of *amqp.Channel the sink needs.
type Publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink publishes every notification as JSON with the notification kind
// as routing key, for the chat gateway to deliver.
type AMQPSink struct {
	pub      Publisher
	exchange string
	conn     *amqp.Connection
}

func NewAMQPSink(pub Publisher, exchange string) *AMQPSink {
	return &AMQPSink{pub: pub, exchange: exchange}
}

// DialAMQP connects and declares a durable topic exchange.
func DialAMQP(url, exchange string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}
	return &AMQPSink{pub: ch, exchange: exchange, conn: conn}, nil
}

func (s *AMQPSink) Notify(_ context.Context, n models.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return s.pub.Publish(s.exchange, n.Kind, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

func (s *AMQPSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Deliver hands n to sink and logs a failure. It never blocks the caller on
// a delivery error.
func Deliver(ctx context.Context, sink Sink, logger *zap.Logger, n models.Notification) {
	if sink == nil || len(n.Recipients) == 0 {
		return
	}
	if err := sink.Notify(ctx, n); err != nil {
		logger.Warn("Не удалось доставить уведомление",
			zap.Strings("recipients", n.Recipients),
			zap.String("kind", n.Kind),
			zap.Error(err))
	}
}

// Multi delivers to every sink and joins their errors.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, n models.Notification) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []models.Notification
	Err  error
}

func (r *Recorder) Notify(_ context.Context, n models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.Err
}

func (r *Recorder) Sent() []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Notification(nil), r.sent...)
}

var (
	_ Sink = (*LogSink)(nil)
	_ Sink = (*AMQPSink)(nil)
	_ Sink = Multi(nil)
	_ Sink = (*Recorder)(nil)
)
