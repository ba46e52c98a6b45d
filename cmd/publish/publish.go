package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"
	"time"

	log "github.com/freundallein/communicator/backend/chassis/logging"
	"github.com/redis/go-redis/v9"

	"github.com/freundallein/communicator/backend/chassis/communicator"
	"github.com/freundallein/communicator/backend/chassis/config"
	"github.com/freundallein/communicator/backend/chassis/queue"
)

// readMessage takes the -message flag or, when empty, stdin.
func readMessage(flagValue string, stdin io.Reader) (interface{}, error) {
	raw := []byte(flagValue)
	if flagValue == "" {
		var err error
		if raw, err = io.ReadAll(stdin); err != nil {
			return nil, err
		}
	}
	var message interface{}
	if err := json.Unmarshal(raw, &message); err != nil {
		return nil, err
	}
	return message, nil
}

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup happens before exit.
func run() int {
	topic := flag.String("topic", "", "queue or stream to publish to")
	body := flag.String("message", "", "JSON document, read from stdin when empty")
	timeout := flag.Duration("timeout", 30*time.Second, "publish timeout")
	flag.Parse()

	appCfg, err := config.Read()
	if err != nil {
		log.WithFields(log.Fields{
			"event": "config_read_failed",
		}).Error(err)
		return 1
	}
	logger := log.Init("publish", appCfg.LogLevel)
	if *topic == "" {
		log.WithFields(log.Fields{
			"event": "missing_topic",
		}).Error("-topic is required")
		return 2
	}
	message, err := readMessage(*body, os.Stdin)
	if err != nil {
		log.WithFields(log.Fields{
			"event": "message_read_failed",
		}).Error(err)
		return 1
	}

	driverCfg, err := appCfg.DriverConfig()
	if err != nil {
		log.WithFields(log.Fields{
			"event": "init_broker_failed",
		}).Error(err)
		return 1
	}
	deps := communicator.Dependencies{Logger: logger}
	if driverCfg.Driver() == queue.REDISSTREAM {
		client := redis.NewClient(appCfg.RedisOptions())
		defer client.Close()
		deps.Redis = client
	}
	manager, err := communicator.New(driverCfg, deps)
	if err != nil {
		log.WithFields(log.Fields{
			"event": "init_broker_failed",
		}).Error(err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ok, err := manager.Publish(ctx, *topic, message)
	if err != nil || !ok {
		log.WithFields(log.Fields{
			"event": "publish_failed",
			"topic": *topic,
		}).Error(err)
		return 1
	}
	log.WithFields(log.Fields{
		"event": "message_published",
		"topic": *topic,
	}).Info("message published")
	return 0
}
