package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/kinlink/backend/internal/job"
	"github.com/OFFIS-RIT/kinlink/backend/internal/queue"
	"github.com/OFFIS-RIT/kinlink/backend/internal/storage"
	"github.com/OFFIS-RIT/kinlink/backend/internal/util"
	"github.com/OFFIS-RIT/kinlink/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/kinlink/backend/pkg/logger"
	"github.com/OFFIS-RIT/kinlink/backend/pkg/logger/console"
	"github.com/OFFIS-RIT/kinlink/backend/pkg/store"
	storepgx "github.com/OFFIS-RIT/kinlink/backend/pkg/store/pgx"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		Format: util.GetEnv("LOG_FORMAT"),
	})
	logger.Init(consoleLogger)

	// Init job storage
	files, err := storage.NewStorage(ctx)
	if err != nil {
		logger.Fatal("Could not create storage", "err", err)
	}

	// Init pgx client
	var snapshots store.ResolveStorage
	var locker job.Locker
	if dbURL := util.GetEnv("DATABASE_URL"); dbURL != "" {
		pgConn, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			logger.Fatal("Unable to connect to database", "err", err)
		}
		defer pgConn.Close()
		snapshots = storepgx.NewResolveDBStorageWithConnection(pgConn)

		hostname, _ := os.Hostname()
		locker = leaselock.New(pgConn, leaselock.Options{
			TTL:    util.GetEnvDuration("JOB_LOCK_TTL", 5*time.Minute),
			Wait:   true,
			Holder: hostname,
		})
	} else {
		logger.Warn("DATABASE_URL not set, snapshots and job locks are disabled")
	}

	runner := job.NewRunner(job.NewRunnerParams{
		Storage:              files,
		Store:                snapshots,
		Locker:               locker,
		Parallelism:          util.GetEnvInt("LOAD_PARALLELISM", 4),
		MaxReferenceWarnings: util.GetEnvInt("MAX_REFERENCE_WARNINGS", 20),
	})

	// Init rabbitmq
	conn := queue.Init()
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	err = queue.SetupQueues(ch, []string{queue.ResolveQueue}, util.GetEnvDuration("RETRY_DELAY", 10*time.Second))
	if err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	// one message in flight at a time
	err = ch.Qos(1, 0, false)
	if err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	msgs, err := ch.Consume(
		queue.ResolveQueue,
		fmt.Sprintf("%s_consumer", queue.ResolveQueue),
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queue.ResolveQueue, "err", err)
	}

	logger.Info("Listening for messages", "queue", queue.ResolveQueue)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, exiting...")
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("Message channel closed", "queue", queue.ResolveQueue)
				return
			}
			startTime := time.Now()
			logger.Info("Received message", "queue", queue.ResolveQueue)

			if err := queue.ProcessResolveMessage(ctx, runner, msg.Body); err != nil {
				logger.Error("Error processing message", "queue", queue.ResolveQueue, "err", err)
				handleProcessingError(ch, msg, queue.ResolveQueue)
			} else {
				if err := msg.Ack(false); err != nil {
					logger.Error("Failed to ack message", "err", err)
				}
				logger.Info("Message processed successfully", "queue", queue.ResolveQueue)
			}

			processingDuration := time.Since(startTime)
			hours := int(processingDuration.Hours())
			minutes := int(processingDuration.Minutes()) % 60
			seconds := int(processingDuration.Seconds()) % 60
			logger.Info(
				"Processing time",
				"duration", fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds),
			)
			logger.Info("Waiting for next message")
		}
	}
}

func handleProcessingError(ch *amqp.Channel, msg amqp.Delivery, queueName string) {
	target, headers := queue.Reroute(queueName, msg.Headers)
	if target == queue.DeadLetterQueue(queueName) {
		logger.Info("Sending message to DLQ", "dlq", target)
	}

	pubErr := ch.Publish(
		"",
		target,
		false,
		false,
		amqp.Publishing{
			ContentType:  msg.ContentType,
			Body:         msg.Body,
			Headers:      headers,
			DeliveryMode: amqp.Persistent,
		},
	)
	if pubErr != nil {
		logger.Error("Failed to republish message", "queue", target, "err", pubErr)
		msg.Nack(false, true)
		return
	}
	msg.Ack(false)
}
