package redisstream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

type fakeGroup struct {
	cursor  int
	pending map[string]string // entry id -> consumer
	order   []string
}

// fakeRedis is an in-memory stand-in for the stream commands the broker
// issues. Pending entries are always considered idle enough to claim.
type fakeRedis struct {
	mu        sync.Mutex
	seq       int
	streams   map[string][]redis.XMessage
	groups    map[string]*fakeGroup
	consumers []string
	acked     []string
	reads     int

	createErr error
	addErr    error
	readErrs  []error
	ackErr    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		streams: map[string][]redis.XMessage{},
		groups:  map[string]*fakeGroup{},
	}
}

func groupKey(stream, group string) string {
	return stream + "/" + group
}

func (f *fakeRedis) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewStatusCmd(ctx)
	if f.createErr != nil {
		cmd.SetErr(f.createErr)
		return cmd
	}
	if _, ok := f.groups[groupKey(stream, group)]; ok {
		cmd.SetErr(errors.New("BUSYGROUP Consumer Group name already exists"))
		return cmd
	}
	if _, ok := f.streams[stream]; !ok {
		f.streams[stream] = nil
	}
	g := &fakeGroup{pending: map[string]string{}}
	if start == "$" {
		g.cursor = len(f.streams[stream])
	}
	f.groups[groupKey(stream, group)] = g
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeRedis) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewStringCmd(ctx)
	if f.addErr != nil {
		cmd.SetErr(f.addErr)
		return cmd
	}
	values := map[string]interface{}{}
	if m, ok := a.Values.(map[string]interface{}); ok {
		for k, v := range m {
			values[k] = fmt.Sprint(v)
		}
	}
	f.seq++
	id := fmt.Sprintf("%d-0", f.seq)
	f.streams[a.Stream] = append(f.streams[a.Stream], redis.XMessage{ID: id, Values: values})
	cmd.SetVal(id)
	return cmd
}

func (f *fakeRedis) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewXStreamSliceCmd(ctx)
	f.reads++
	f.consumers = append(f.consumers, a.Consumer)
	if len(f.readErrs) > 0 {
		err := f.readErrs[0]
		f.readErrs = f.readErrs[1:]
		if err != nil {
			cmd.SetErr(err)
			return cmd
		}
	}
	stream := a.Streams[0]
	g, ok := f.groups[groupKey(stream, a.Group)]
	if !ok {
		cmd.SetErr(errors.New("NOGROUP No such key or consumer group"))
		return cmd
	}
	entries := f.streams[stream]
	var out []redis.XMessage
	for g.cursor < len(entries) && int64(len(out)) < a.Count {
		entry := entries[g.cursor]
		g.cursor++
		g.pending[entry.ID] = a.Consumer
		g.order = append(g.order, entry.ID)
		out = append(out, entry)
	}
	if len(out) == 0 {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal([]redis.XStream{{Stream: stream, Messages: out}})
	return cmd
}

func (f *fakeRedis) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	if f.ackErr != nil {
		cmd.SetErr(f.ackErr)
		return cmd
	}
	g := f.groups[groupKey(stream, group)]
	var n int64
	for _, id := range ids {
		if _, ok := g.pending[id]; ok {
			delete(g.pending, id)
			f.acked = append(f.acked, id)
			n++
		}
	}
	cmd.SetVal(n)
	return cmd
}

func (f *fakeRedis) XAutoClaim(ctx context.Context, a *redis.XAutoClaimArgs) *redis.XAutoClaimCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewXAutoClaimCmd(ctx)
	g := f.groups[groupKey(a.Stream, a.Group)]
	var out []redis.XMessage
	for _, id := range g.order {
		if _, ok := g.pending[id]; !ok || int64(len(out)) >= a.Count {
			continue
		}
		g.pending[id] = a.Consumer
		for _, entry := range f.streams[a.Stream] {
			if entry.ID == id {
				out = append(out, entry)
			}
		}
	}
	cmd.SetVal(out, "0-0")
	return cmd
}

func (f *fakeRedis) pending(stream, group string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.groups[groupKey(stream, group)].pending)
}

func redisMessage(id string, values map[string]interface{}) redis.XMessage {
	return redis.XMessage{ID: id, Values: values}
}
