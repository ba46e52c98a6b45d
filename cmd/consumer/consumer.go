package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	log "github.com/freundallein/communicator/backend/chassis/logging"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/freundallein/communicator/backend/chassis/communicator"
	"github.com/freundallein/communicator/backend/chassis/config"
	"github.com/freundallein/communicator/backend/chassis/metrics"
	"github.com/freundallein/communicator/backend/chassis/monkey"
	"github.com/freundallein/communicator/backend/chassis/queue"
	"github.com/freundallein/communicator/backend/consumer"
)

func main() {
	appCfg, err := config.Read()
	if err != nil {
		log.WithFields(log.Fields{
			"event": "config_read_failed",
		}).Fatal(err)
	}
	logger := log.Init("consumer", appCfg.LogLevel)

	collectors, err := metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		log.WithFields(log.Fields{
			"event": "metrics_init_failed",
		}).Fatal(err)
	}
	deps := communicator.Dependencies{
		Logger:  logger,
		Metrics: collectors,
		Poller:  appCfg.Poller(),
	}
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
	}).Info("service initialized")

	cfg := &consumer.Config{
		Broker:     manager,
		Topic:      appCfg.Consumer.Topic,
		ForwardTo:  appCfg.Consumer.ForwardTo,
		Workers:    appCfg.Consumer.Workers,
		Monkey:     monkey.New(appCfg.Consumer.ChaosRate, 0),
		RetryDelay: appCfg.Poller().RetryDelay,
	}
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	var group sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	consumer.Run(ctx, cfg, &group)
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    appCfg.MetricsAddr,
		Handler: router,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen: ", err)
		}
	}()
	<-done
	log.WithFields(log.Fields{
		"event": "ctx_cancel",
	}).Info("received syscall")
	cancel()
	if err := srv.Shutdown(context.Background()); err != nil {
		log.Error("server shutdown failed: ", err)
	}
	group.Wait()
}
