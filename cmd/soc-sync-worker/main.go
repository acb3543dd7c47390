package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"bitbucket.org/mmdatafocus/hr_sync_backend/config"
	"bitbucket.org/mmdatafocus/hr_sync_backend/socsync"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := config.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	svc, cleanup, err := socsync.Bootstrap(ctx, logger)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "bootstrap"}).Fatal(err)
	}
	defer cleanup()

	client, err := config.GetClient(ctx)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "pubsub"}).Fatal(err)
	}
	topic, err := config.CreateTopicIfNotExists(ctx, client, svc.Settings.Topic)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "pubsub"}).Fatal(err)
	}
	defer topic.Stop()
	sub, err := config.CreateSubscriptionIfNotExists(ctx, client, svc.Settings.Subscription, topic)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "pubsub"}).Fatal(err)
	}
	// Each message may run a whole invocation.
	sub.ReceiveSettings.MaxOutstandingMessages = config.EnvIntDefault("SOC_SYNC_WORKER_CONCURRENCY", 2)

	logger.WithFields(logrus.Fields{"subscription": svc.Settings.Subscription}).Info("soc sync worker receiving")
	if err := socsync.ReceiveContinuations(ctx, sub, svc); err != nil && ctx.Err() == nil {
		logger.WithFields(logrus.Fields{"field": "receive"}).Fatal(err)
	}
}
