package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cacatua/cacatua/backend/go-services/internal/models"
	"github.com/cacatua/cacatua/backend/go-services/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// RedisBroker fans messages out through Redis pub/sub so every service
// instance sees them. Channel names are "<prefix><channelID>".
type RedisBroker struct {
	client *redis.Client
	prefix string
}

func NewRedisBroker(client *redis.Client, prefix string) *RedisBroker {
	if prefix == "" {
		prefix = "chat:"
	}
	return &RedisBroker{client: client, prefix: prefix}
}

func (b *RedisBroker) Publish(ctx context.Context, m *models.Message) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.prefix+m.ChannelID, payload).Err(); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, b.prefix+channel)
	// wait for the subscription to be confirmed so no publish is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	s := &redisSub{ps: ps, out: make(chan *models.Message), done: make(chan struct{})}
	s.wg.Add(1)
	go s.run()
	return s, nil
}

type redisSub struct {
	ps   *redis.PubSub
	out  chan *models.Message
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
	err  error
}

func (s *redisSub) C() <-chan *models.Message { return s.out }

func (s *redisSub) run() {
	defer s.wg.Done()
	defer close(s.out)
	in := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case raw, ok := <-in:
			if !ok {
				return
			}
			var m models.Message
			if err := json.Unmarshal([]byte(raw.Payload), &m); err != nil {
				logger.Warnf("chat: dropping undecodable message on %s: %v", raw.Channel, err)
				continue
			}
			select {
			case s.out <- &m:
			case <-s.done:
				return
			}
		}
	}
}

func (s *redisSub) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.err = s.ps.Close()
	})
	s.wg.Wait()
	return s.err
}
