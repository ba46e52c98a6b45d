package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	log "github.com/freundallein/communicator/backend/chassis/logging"
	"github.com/redis/go-redis/v9"

	"github.com/freundallein/communicator/backend/chassis/communicator"
	"github.com/freundallein/communicator/backend/chassis/config"
	"github.com/freundallein/communicator/backend/chassis/queue"
	"github.com/freundallein/communicator/backend/producer"
)

func main() {
	appCfg, err := config.Read()
	if err != nil {
		log.WithFields(log.Fields{
			"event": "config_read_failed",
		}).Fatal(err)
	}
	logger := log.Init("producer", appCfg.LogLevel)

	deps := communicator.Dependencies{Logger: logger}
	if driver, _ := queue.ParseDriver(appCfg.Driver); driver == queue.REDISSTREAM {
		client := redis.NewClient(appCfg.RedisOptions())
		defer client.Close()
		deps.Redis = client
	}
	manager, err := communicator.NewFromSettings(appCfg.Driver, appCfg.Settings(), deps)
	if err != nil {
		log.WithFields(log.Fields{
			"event": "init_broker_failed",
		}).Fatal(err)
	}
	log.WithFields(log.Fields{
		"event":  "init_service",
		"driver": manager.Driver(),
	}).Info("producer service initialized")

	cfg := &producer.Config{
		Broker:   manager,
		Topic:    appCfg.Producer.Topic,
		Workers:  appCfg.Producer.Workers,
		Interval: appCfg.Producer.Interval,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	var group sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	producer.Run(ctx, cfg, &group)
	<-done
	log.WithFields(log.Fields{
		"event": "ctx_cancel",
	}).Info("received syscall")
	cancel()
	group.Wait()
}
