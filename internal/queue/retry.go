package queue

import (
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

// DefaultMaxRetries is how often a message is retried before it is moved
// to the dead letter queue.
const DefaultMaxRetries = 10

const retriesHeader = "x-retries"

// Retries returns how often msg has already been retried.
func Retries(msg amqp091.Delivery) int {
	switch v := msg.Headers[retriesHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// HandleProcessingError moves a failed message to the retry queue, or to
// the dead letter queue once maxRetries is reached. The original delivery
// is acked when the republish succeeded and requeued otherwise.
func HandleProcessingError(ch publisher, msg amqp091.Delivery, queueName string, maxRetries int) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	retries := Retries(msg)

	if retries >= maxRetries {
		dlqName := DeadLetterQueue(queueName)
		logger.Info("[Queue] Sending message to DLQ", "dlq", dlqName, "retries", retries)
		pubErr := ch.Publish(
			"",
			dlqName,
			false,
			false,
			amqp091.Publishing{
				ContentType: msg.ContentType,
				Body:        msg.Body,
				Headers:     msg.Headers,
			},
		)
		if pubErr != nil {
			logger.Error("[Queue] Failed to publish to DLQ", "dlq", dlqName, "err", pubErr)
			_ = msg.Nack(false, true)
			return
		}
		_ = msg.Ack(false)
		return
	}

	retryName := RetryQueue(queueName)
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[retriesHeader] = int32(retries + 1)

	pubErr := ch.Publish(
		"",
		retryName,
		false,
		false,
		amqp091.Publishing{
			ContentType: msg.ContentType,
			Body:        msg.Body,
			Headers:     headers,
		},
	)
	if pubErr != nil {
		logger.Error("[Queue] Failed to publish to retry queue", "retry_queue", retryName, "err", pubErr)
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}
