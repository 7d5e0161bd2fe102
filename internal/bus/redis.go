package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/ppiankov/swarmgate/internal/model"
)

const channelPrefix = "swarmgate:signal:"

// Redis is a Bus backed by Redis pub/sub, for engagements where agents and
// the operator console run on separate hosts. Semantics match the in-memory
// bus: at-least-once to connected subscribers, no global total order.
type Redis struct {
	client *redis.Client

	mu     sync.Mutex
	subs   []*redisSub
	closed bool
}

type redisSub struct {
	ps      *redis.PubSub
	out     chan model.Signal
	dropped atomic.Uint64
	cancel  context.CancelFunc
}

// NewRedis connects a Redis-backed bus.
func NewRedis(addr, password string, db int) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Redis{client: client}
}

// Ping verifies the connection. Called once at startup; the hot path never
// blocks on transport health checks.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("bus: redis ping: %w", err)
	}
	return nil
}

// Publish broadcasts the signal on the per-type channel.
func (r *Redis) Publish(ctx context.Context, sig model.Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("bus: marshal signal: %w", err)
	}
	if err := r.client.Publish(ctx, channelPrefix+string(sig.Type), data).Err(); err != nil {
		return fmt.Errorf("bus: redis publish: %w", model.ErrSignalDeliveryGap)
	}
	return nil
}

// Subscribe opens a pattern or channel subscription for the given types.
func (r *Redis) Subscribe(types ...model.SignalType) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())

	var ps *redis.PubSub
	if len(types) == 0 {
		ps = r.client.PSubscribe(ctx, channelPrefix+"*")
	} else {
		channels := make([]string, len(types))
		for i, t := range types {
			channels[i] = channelPrefix + string(t)
		}
		ps = r.client.Subscribe(ctx, channels...)
	}

	sub := &redisSub{
		ps:     ps,
		out:    make(chan model.Signal, DefaultBuffer),
		cancel: cancel,
	}

	go sub.pump(ctx)

	r.mu.Lock()
	r.subs = append(r.subs, sub)
	r.mu.Unlock()

	return &Subscription{
		C: sub.out,
		cancel: func() {
			sub.cancel()
			sub.ps.Close()
		},
		dropped: sub.dropped.Load,
	}
}

func (s *redisSub) pump(ctx context.Context) {
	defer close(s.out)
	ch := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var sig model.Signal
			if err := json.Unmarshal([]byte(msg.Payload), &sig); err != nil {
				s.dropped.Add(1)
				continue
			}
			select {
			case s.out <- sig:
			default:
				s.dropped.Add(1)
			}
		}
	}
}

// Close tears down all subscriptions and the client connection.
func (r *Redis) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	for _, sub := range r.subs {
		sub.cancel()
		sub.ps.Close()
	}
	return r.client.Close()
}
