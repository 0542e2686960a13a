package rabbitmq

import (
	amqp "github.com/rabbitmq/amqp091-go"
	"worker-transcribe/constant"
)

// DeclareTopology declares the task exchange and queue, its dead-letter queue, and the
// delay queue whose expired messages flow back into the task exchange.
func DeclareTopology(ch *amqp.Channel, kind string) error {
	if kind == "" {
		kind = amqp.ExchangeDirect
	}

	if err := ch.ExchangeDeclare(constant.TranscriptionExchange, kind, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(constant.TranscriptionDLX, kind, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(constant.TranscriptionRetryExchange, kind, true, false, false, false, nil); err != nil {
		return err
	}

	dlq, err := ch.QueueDeclare(constant.TranscriptionDLQ, true, false, false, false, nil)
	if err != nil {
		return err
	}
	if err := ch.QueueBind(dlq.Name, constant.TranscriptionDLQRouting, constant.TranscriptionDLX, false, nil); err != nil {
		return err
	}

	q, err := ch.QueueDeclare(constant.TranscriptionQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    constant.TranscriptionDLX,
		"x-dead-letter-routing-key": constant.TranscriptionDLQRouting,
		"x-max-priority":            int32(constant.MaxTaskPriority),
	})
	if err != nil {
		return err
	}
	if err := ch.QueueBind(q.Name, constant.TranscriptionRoutingKey, constant.TranscriptionExchange, false, nil); err != nil {
		return err
	}

	retry, err := ch.QueueDeclare(constant.TranscriptionRetryQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    constant.TranscriptionExchange,
		"x-dead-letter-routing-key": constant.TranscriptionRoutingKey,
	})
	if err != nil {
		return err
	}
	return ch.QueueBind(retry.Name, constant.TranscriptionRoutingKey, constant.TranscriptionRetryExchange, false, nil)
}
