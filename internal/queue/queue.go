package queue

import (
	"fmt"
	"time"

	"github.com/OFFIS-RIT/kinlink/backend/internal/util"
	"github.com/OFFIS-RIT/kinlink/backend/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

// ResolveQueue carries job documents to the worker.
const ResolveQueue = "resolve_queue"

// MaxRetries is how often a failed message is retried before it is moved to
// the dead-letter queue.
const MaxRetries = 10

func Init() *amqp091.Connection {
	user := util.GetEnv("RABBITMQ_USER")
	pass := util.GetEnv("RABBITMQ_PASSWORD")
	host := util.GetEnvString("RABBITMQ_HOST", "localhost")
	port := util.GetEnvString("RABBITMQ_PORT", "5672")

	connURL := fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		user,
		pass,
		host,
		port,
	)

	conn, err := amqp091.Dial(connURL)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}

	return conn
}

// RetryQueue and DeadLetterQueue name the companion queues of a work queue.
func RetryQueue(name string) string      { return name + "_retry" }
func DeadLetterQueue(name string) string { return name + "_dlq" }

// SetupQueues declares each work queue with its dead-letter queue and a
// retry queue that dead-letters back into the work queue after retryDelay.
func SetupQueues(ch *amqp091.Channel, queueNames []string, retryDelay time.Duration) error {
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
			return fmt.Errorf("declare %s: %w", name, err)
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
			return fmt.Errorf("declare %s: %w", dlqName, err)
		}

		retryName := RetryQueue(name)
		_, err = ch.QueueDeclare(
			retryName,
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             int32(retryDelay.Milliseconds()),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("declare %s: %w", retryName, err)
		}
	}

	return nil
}

// Publisher is the part of an AMQP channel used for publishing.
type Publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// PublishFIFO publishes a persistent message to the default exchange.
func PublishFIFO(ch Publisher, queueName string, data []byte) error {
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

// Retries reads the retry counter a message carries.
func Retries(headers amqp091.Table) int {
	switch v := headers["x-retries"].(type) {
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

// Reroute decides where a failed message goes next: back through the retry
// queue with an incremented counter, or to the dead-letter queue once
// MaxRetries is reached. It returns the target queue and the headers to
// publish with.
func Reroute(queueName string, headers amqp091.Table) (string, amqp091.Table) {
	retries := Retries(headers)
	out := amqp091.Table{}
	for k, v := range headers {
		out[k] = v
	}
	if retries >= MaxRetries {
		return DeadLetterQueue(queueName), out
	}
	out["x-retries"] = int32(retries + 1)
	return RetryQueue(queueName), out
}
