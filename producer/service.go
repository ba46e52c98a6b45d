package producer

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	log "github.com/freundallein/communicator/backend/chassis/logging"

	"github.com/freundallein/communicator/backend/chassis/protocol"
	"github.com/freundallein/communicator/backend/chassis/queue"
)

// Method - JSON-RPC method of generated requests
const Method = "ping"

var letters = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")

// Config ...
type Config struct {
	Broker   queue.Broker
	Topic    string
	Workers  int
	Interval time.Duration
}

func randSeq(rnd *rand.Rand, n int) string {
	b := make([]rune, n)
	for i := range b {
		b[i] = letters[rnd.Intn(len(letters))]
	}
	return string(b)
}

func worker(ctx context.Context, cfg *Config, workerID int, group *sync.WaitGroup) {
	defer group.Done()
	rnd := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.WithFields(log.Fields{
				"event":  "ctx_canceled",
				"worker": workerID,
			}).Info("exit goroutine")
			return
		case <-ticker.C:
			request := protocol.NewRequest(Method, map[string]string{
				"payload": randSeq(rnd, 10),
				"worker":  strconv.Itoa(workerID),
			})
			ok, err := cfg.Broker.Publish(ctx, cfg.Topic, request)
			if err != nil || !ok {
				log.WithFields(log.Fields{
					"event":  "send_message_failed",
					"worker": workerID,
					"taskID": request.ID,
				}).Error(err)
				continue
			}
			log.WithFields(log.Fields{
				"event":  "send_message",
				"worker": workerID,
				"taskID": request.ID,
			}).Debug(request)
		}
	}
}

// Run ...
func Run(ctx context.Context, cfg *Config, group *sync.WaitGroup) {
	log.WithFields(log.Fields{
		"event": "start_service",
		"topic": cfg.Topic,
	}).Info("starting ", cfg.Workers, " workers")
	for wrk := 1; wrk <= cfg.Workers; wrk++ {
		group.Add(1)
		go worker(ctx, cfg, wrk, group)
	}
}
