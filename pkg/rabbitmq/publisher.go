package rabbitmq

import (
	"context"
	"encoding/json"
	amqp "github.com/rabbitmq/amqp091-go"
	"strconv"
	"sync"
	"time"
	"worker-transcribe/config"
	"worker-transcribe/constant"
	"worker-transcribe/dto"
)

// Publisher sends chunk tasks. Delayed tasks park in the retry queue until their
// expiration dead-letters them back into the task exchange.
type Publisher struct {
	mu sync.Mutex
	ch *amqp.Channel
}

func NewPublisher(conn *amqp.Connection, cfg *config.RabbitMQ) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := DeclareTopology(ch, cfg.Kind); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return &Publisher{ch: ch}, nil
}

func (p *Publisher) Enqueue(ctx context.Context, task dto.ChunkTask, priority uint8, delay time.Duration) error {
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}
	if priority > constant.MaxTaskPriority {
		priority = constant.MaxTaskPriority
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Priority:     priority,
		Timestamp:    time.Now(),
		Body:         body,
	}
	exchange := constant.TranscriptionExchange
	if delay > 0 {
		exchange = constant.TranscriptionRetryExchange
		msg.Expiration = strconv.FormatInt(delay.Milliseconds(), 10)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, exchange, constant.TranscriptionRoutingKey, false, false, msg)
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}
