package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/internal/config"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/internal/queue"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/internal/storage"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/internal/util"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/logger"
)

func main() {
	util.LoadEnv()
	config.InitLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", "err", err)
	}

	objects, err := storage.NewObjectStore(ctx, cfg.S3)
	if err != nil {
		logger.Fatal("Failed to create S3 client", "err", err)
	}

	aiClient, err := cfg.NewAIClient()
	if err != nil {
		logger.Fatal("Failed to create AI client", "err", err)
	}

	graphStore, err := cfg.NewStore(ctx)
	if err != nil {
		logger.Fatal("Failed to open graph store", "err", err)
	}
	defer graphStore.Close(context.Background())

	graphClient, err := cfg.NewGraphClient()
	if err != nil {
		logger.Fatal("Failed to create graph client", "err", err)
	}

	locker, closeLock, err := cfg.NewIngestLock(ctx)
	if err != nil {
		logger.Fatal("Failed to create ingest lock", "err", err)
	}
	defer closeLock()

	host, _ := os.Hostname()

	conn, err := queue.Init(cfg.Rabbit)
	if err != nil {
		logger.Fatal("Failed to connect to queue", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, []string{queue.IngestQueue}); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	// One message at a time: an ingest rebuilds the shared vector index.
	if err := ch.Qos(1, 0, false); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	msgs, err := ch.Consume(
		queue.IngestQueue,
		queue.IngestQueue+"_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queue.IngestQueue, "err", err)
	}

	logger.Info("Listening for messages", "queue", queue.IngestQueue)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, exiting...")
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("Message channel closed", "queue", queue.IngestQueue)
				return
			}

			startTime := time.Now()
			logger.Info("Received message", "queue", queue.IngestQueue, "retries", queue.Retries(msg))

			processingErr := queue.WithIngestLock(ctx, locker, host+"-", func(ctx context.Context) error {
				_, err := queue.ProcessIngestMessage(ctx, objects, graphClient, aiClient, graphStore, string(msg.Body))
				return err
			})
			if processingErr != nil {
				logger.Error("Error processing message", "queue", queue.IngestQueue, "err", processingErr)
				queue.HandleProcessingError(ch, msg, queue.IngestQueue, queue.DefaultMaxRetries)
			} else {
				if err := msg.Ack(false); err != nil {
					logger.Error("Failed to ack message", "err", err)
				}
				logger.Info("Message processed successfully", "queue", queue.IngestQueue)
			}

			metrics := aiClient.GetMetrics()
			logger.Info(
				"AI Metrics",
				"input_tokens", metrics.InputTokens,
				"output_tokens", metrics.OutputTokens,
				"total_tokens", metrics.TotalTokens,
				"duration", formatDuration(time.Duration(metrics.DurationMs)*time.Millisecond),
			)
			logger.Info("Processing time", "duration", formatDuration(time.Since(startTime)))
			logger.Info("Waiting for next message")
			aiClient.ResetMetrics()
		}
	}
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}
