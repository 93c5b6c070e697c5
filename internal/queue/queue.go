package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// IngestQueue carries textbook ingestion jobs.
const IngestQueue = "ingest_queue"

// RetryDelay is how long a failed message waits in the retry queue before
// it is dead-lettered back onto its work queue.
const RetryDelay = 10 * time.Second

type ConnParams struct {
	User     string
	Password string
	Host     string
	Port     string
}

func (p ConnParams) URL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		p.User,
		p.Password,
		p.Host,
		p.Port,
	)
}

func Init(params ConnParams) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(params.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

type declarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
}

// SetupQueues declares every work queue with its dead letter queue and a
// retry queue that feeds back into it after RetryDelay.
func SetupQueues(ch declarer, queueNames []string) error {
	for _, name := range queueNames {
		_, err := ch.QueueDeclare(
			name,
			true,  // durable
			false, // autoDelete
			false, // exclusive
			false, // noWait
			nil,   // args
		)
		if err != nil {
			return fmt.Errorf("failed to declare %s: %w", name, err)
		}

		dlqName := DeadLetterQueue(name)
		_, err = ch.QueueDeclare(
			dlqName,
			true,
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			return fmt.Errorf("failed to declare %s: %w", dlqName, err)
		}

		retryName := RetryQueue(name)
		_, err = ch.QueueDeclare(
			retryName,
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             int32(RetryDelay / time.Millisecond),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("failed to declare %s: %w", retryName, err)
		}
	}

	return nil
}

func DeadLetterQueue(name string) string { return name + "_dlq" }
func RetryQueue(name string) string      { return name + "_retry" }

type publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// PublishFIFO publishes a persistent message to the default exchange.
func PublishFIFO(ch publisher, queueName string, data []byte) error {
	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	}

	return ch.Publish(
		"",
		queueName,
		false,
		false,
		publishing,
	)
}

// Publisher enqueues messages onto one queue. It satisfies the server's
// ingest hook.
type Publisher struct {
	mu        sync.Mutex
	ch        publisher
	queueName string
}

func NewPublisher(ch publisher, queueName string) *Publisher {
	return &Publisher{ch: ch, queueName: queueName}
}

func (p *Publisher) Enqueue(ctx context.Context, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := PublishFIFO(p.ch, p.queueName, body); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.queueName, err)
	}
	return nil
}
