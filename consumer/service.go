package consumer

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/freundallein/communicator/backend/chassis/logging"

	"github.com/freundallein/communicator/backend/chassis/monkey"
	"github.com/freundallein/communicator/backend/chassis/protocol"
	"github.com/freundallein/communicator/backend/chassis/queue"
)

// ErrForwardFailed - result could not be published to ForwardTo
var ErrForwardFailed = errors.New("result publish failed")

// Config ...
type Config struct {
	Broker     queue.Broker
	Topic      string
	ForwardTo  string
	Workers    int
	Monkey     *monkey.Monkey
	RetryDelay time.Duration
}

// Handle builds the per-message handler of one worker. Broken messages are
// dropped; a handler or forwarding failure is returned so the broker can
// abandon the message.
func Handle(cfg *Config, workerID int) queue.Handler {
	return func(ctx context.Context, delivery queue.Delivery) error {
		request := &protocol.Request{}
		if err := request.FromJSON(delivery.Raw()); err != nil {
			log.WithFields(log.Fields{
				"event":     "receive_broken_message",
				"worker":    workerID,
				"messageId": delivery.ID(),
			}).Error(err)
			return nil
		}
		log.WithFields(log.Fields{
			"event":     "receive_message",
			"worker":    workerID,
			"messageId": delivery.ID(),
			"taskID":    request.ID,
		}).Info(request)

		if err := cfg.Monkey.RandomizeError(nil); err != nil {
			log.WithFields(log.Fields{
				"event":  "processing_failed",
				"worker": workerID,
				"taskID": request.ID,
			}).Error(err)
			return err
		}
		if cfg.ForwardTo == "" {
			return nil
		}

		response := protocol.NewResponse(request.ID)
		response.Result = map[string]string{"result": "success", "method": request.Method}
		ok, err := cfg.Broker.Publish(ctx, cfg.ForwardTo, response)
		if err == nil && !ok {
			err = ErrForwardFailed
		}
		if err != nil {
			log.WithFields(log.Fields{
				"event":  "result_send_failed",
				"worker": workerID,
				"taskID": request.ID,
			}).Error(err)
			return err
		}
		return nil
	}
}

func worker(ctx context.Context, cfg *Config, workerID int, group *sync.WaitGroup) {
	defer group.Done()
	handler := Handle(cfg, workerID)
	for {
		err := cfg.Broker.Subscribe(ctx, cfg.Topic, handler)
		if ctx.Err() != nil {
			log.WithFields(log.Fields{
				"event":  "ctx_canceled",
				"worker": workerID,
			}).Info("exit goroutine")
			return
		}
		log.WithFields(log.Fields{
			"event":  "subscription_failed",
			"worker": workerID,
			"topic":  cfg.Topic,
		}).Error(err)
		select {
		case <-ctx.Done():
		case <-time.After(cfg.RetryDelay):
		}
	}
}

// Run ...
func Run(ctx context.Context, cfg *Config, group *sync.WaitGroup) {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = queue.RetryDelay
	}
	log.WithFields(log.Fields{
		"event": "start_service",
		"topic": cfg.Topic,
	}).Info("starting ", cfg.Workers, " workers")
	for wrk := 1; wrk <= cfg.Workers; wrk++ {
		group.Add(1)
		go worker(ctx, cfg, wrk, group)
	}
}
