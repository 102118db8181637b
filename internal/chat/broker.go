package chat

import (
	"context"
	"sync"

	"github.com/cacatua/cacatua/backend/go-services/internal/models"
	"github.com/cacatua/cacatua/backend/go-services/pkg/logger"
)

// Subscription delivers messages published to one channel. After Close
// returns nothing more is delivered and C is closed.
type Subscription interface {
	C() <-chan *models.Message
	Close() error
}

// Broker fans out newly stored messages to live subscribers.
type Broker interface {
	Publish(ctx context.Context, m *models.Message) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

const subscriberBuffer = 64

// LocalBroker is an in-process Broker for single-instance deployments.
type LocalBroker struct {
	mu   sync.Mutex
	subs map[string]map[*localSub]struct{}
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{subs: make(map[string]map[*localSub]struct{})}
}

type localSub struct {
	broker  *LocalBroker
	channel string
	ch      chan *models.Message
	once    sync.Once
}

func (s *localSub) C() <-chan *models.Message { return s.ch }

func (s *localSub) Close() error {
	s.once.Do(func() {
		b := s.broker
		b.mu.Lock()
		defer b.mu.Unlock()
		if set := b.subs[s.channel]; set != nil {
			delete(set, s)
			if len(set) == 0 {
				delete(b.subs, s.channel)
			}
		}
		// drop anything still buffered
	drain:
		for {
			select {
			case <-s.ch:
			default:
				break drain
			}
		}
		close(s.ch)
	})
	return nil
}

func (b *LocalBroker) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	s := &localSub{broker: b, channel: channel, ch: make(chan *models.Message, subscriberBuffer)}
	b.mu.Lock()
	set := b.subs[channel]
	if set == nil {
		set = make(map[*localSub]struct{})
		b.subs[channel] = set
	}
	set[s] = struct{}{}
	b.mu.Unlock()
	return s, nil
}

func (b *LocalBroker) Publish(ctx context.Context, m *models.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs[m.ChannelID] {
		cp := *m
		select {
		case s.ch <- &cp:
		default:
			logger.Warnf("chat: subscriber on %s is full, dropping message %s", m.ChannelID, m.ID)
		}
	}
	return nil
}

// Subscribers reports how many live subscriptions channel has.
func (b *LocalBroker) Subscribers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}
