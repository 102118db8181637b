// Package chatclient keeps a client-side view of one chat channel on top of
// an authclient.Gateway.
package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cacatua/cacatua/backend/go-services/pkg/authclient"
	"github.com/cacatua/cacatua/backend/go-services/pkg/logger"
	"github.com/google/uuid"
)

const DefaultHistory = 50

var ErrEmptyMessage = errors.New("message text is empty")

// Message mirrors the server's message document. Pending marks an optimistic
// entry the server has not confirmed yet.
type Message struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	ServerID  string    `json:"server_id,omitempty"`
	SenderUID string    `json:"sender_uid"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Pending   bool      `json:"-"`
}

func (m Message) before(o Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

// API is the part of authclient.Gateway a Conversation uses.
type API interface {
	Do(ctx context.Context, method, endpoint string, body []byte) (*authclient.Response, error)
	Stream(ctx context.Context, endpoint string) (*authclient.EventStream, error)
}

type Option func(*Conversation)

// WithSender sets the uid shown on optimistic entries.
func WithSender(uid string) Option { return func(c *Conversation) { c.self = uid } }

// WithServer tags sent messages with a server id.
func WithServer(id string) Option { return func(c *Conversation) { c.server = id } }

func WithClock(now func() time.Time) Option { return func(c *Conversation) { c.now = now } }

// Conversation is an ordered, de-duplicated message list for one channel.
type Conversation struct {
	api     API
	self    string
	server  string
	now     func() time.Time
	updates chan struct{}

	mu      sync.Mutex
	channel string
	msgs    []Message
	watch   *watcher
}

type watcher struct {
	cancel context.CancelFunc
	stream *authclient.EventStream
	done   chan struct{}
}

func New(api API, channel string, opts ...Option) *Conversation {
	c := &Conversation{api: api, channel: channel, now: time.Now, updates: make(chan struct{}, 1)}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Conversation) Channel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

// Messages returns a copy of the current list.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

// Updates signals after every change to the list. Signals coalesce.
func (c *Conversation) Updates() <-chan struct{} { return c.updates }

// Merge inserts or replaces messages by id and keeps the list ordered.
// Messages for another channel are ignored.
func (c *Conversation) Merge(msgs ...Message) {
	c.mu.Lock()
	c.mergeLocked(msgs)
	c.mu.Unlock()
	c.notify()
}

func (c *Conversation) mergeLocked(msgs []Message) {
	for _, m := range msgs {
		if m.ChannelID != "" && m.ChannelID != c.channel {
			continue
		}
		replaced := false
		for i := range c.msgs {
			if c.msgs[i].ID == m.ID {
				c.msgs[i] = m
				replaced = true
				break
			}
		}
		if !replaced {
			c.msgs = append(c.msgs, m)
		}
	}
	sort.SliceStable(c.msgs, func(i, j int) bool { return c.msgs[i].before(c.msgs[j]) })
}

func (c *Conversation) remove(id string) {
	c.mu.Lock()
	for i := range c.msgs {
		if c.msgs[i].ID == id {
			c.msgs = append(c.msgs[:i], c.msgs[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	c.notify()
}

func (c *Conversation) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

// Load fetches the latest history for the channel and merges it in.
func (c *Conversation) Load(ctx context.Context, limit int) error {
	ch := c.Channel()
	resp, err := c.api.Do(ctx, http.MethodGet, fmt.Sprintf("/api/Message/%s?limit=%d", url.PathEscape(ch), limit), nil)
	if err != nil {
		return err
	}
	if resp.Status != http.StatusOK {
		return fmt.Errorf("load history for %s: status %d", ch, resp.Status)
	}
	var body struct {
		Messages []Message `json:"messages"`
	}
	if err := resp.Decode(&body); err != nil {
		return fmt.Errorf("decode history: %w", err)
	}
	c.Merge(body.Messages...)
	return nil
}

// Send appends the message optimistically, then posts it. On failure the
// optimistic entry is removed and the error returned.
func (c *Conversation) Send(ctx context.Context, text string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmptyMessage
	}
	ch := c.Channel()
	pending := Message{
		ID:        "pending-" + uuid.NewString(),
		ChannelID: ch,
		ServerID:  c.server,
		SenderUID: c.self,
		Text:      text,
		CreatedAt: c.now().UTC(),
		Pending:   true,
	}
	c.Merge(pending)

	body, _ := json.Marshal(map[string]string{"text": text, "chatUid": ch, "serverUid": c.server})
	resp, err := c.api.Do(ctx, http.MethodPost, "/api/Message/send-message-async", body)
	if err == nil && resp.Status != http.StatusOK {
		err = fmt.Errorf("send message: status %d", resp.Status)
	}
	var out struct {
		Data Message `json:"data"`
	}
	if err == nil {
		if derr := resp.Decode(&out); derr != nil {
			err = fmt.Errorf("decode sent message: %w", derr)
		} else if out.Data.ID == "" {
			err = errors.New("sent message has no id")
		}
	}
	if err != nil {
		c.remove(pending.ID)
		return Message{}, err
	}

	c.mu.Lock()
	for i := range c.msgs {
		if c.msgs[i].ID == pending.ID {
			c.msgs = append(c.msgs[:i], c.msgs[i+1:]...)
			break
		}
	}
	c.mergeLocked([]Message{out.Data})
	c.mu.Unlock()
	c.notify()
	return out.Data, nil
}

// Watch subscribes to the channel's live feed, replacing any earlier
// subscription. Delivered messages are merged until Close or ctx ends.
func (c *Conversation) Watch(ctx context.Context) error {
	c.Close()
	ch := c.Channel()
	wctx, cancel := context.WithCancel(ctx)
	stream, err := c.api.Stream(wctx, "/api/Message/"+url.PathEscape(ch)+"/stream")
	if err != nil {
		cancel()
		return err
	}
	w := &watcher{cancel: cancel, stream: stream, done: make(chan struct{})}
	c.mu.Lock()
	c.watch = w
	c.mu.Unlock()

	go func() {
		<-wctx.Done()
		_ = stream.Close()
	}()
	go func() {
		defer close(w.done)
		for {
			ev, err := stream.Next()
			if err != nil {
				if wctx.Err() == nil {
					logger.Debugf("stream on %s ended: %v", ch, err)
				}
				return
			}
			if ev.Name != "message" {
				continue
			}
			var m Message
			if err := json.Unmarshal([]byte(ev.Data), &m); err != nil {
				logger.Warnf("skipping malformed message event on %s: %v", ch, err)
				continue
			}
			c.Merge(m)
		}
	}()
	return nil
}

// Close ends the live subscription, if any, and waits for it to stop.
func (c *Conversation) Close() {
	c.mu.Lock()
	w := c.watch
	c.watch = nil
	c.mu.Unlock()
	if w == nil {
		return
	}
	w.cancel()
	_ = w.stream.Close()
	<-w.done
}

// Switch moves the conversation to another channel: the old subscription is
// torn down first, then history is loaded and a new one opened.
func (c *Conversation) Switch(ctx context.Context, channel string) error {
	c.Close()
	c.mu.Lock()
	c.channel = channel
	c.msgs = nil
	c.mu.Unlock()
	c.notify()
	if err := c.Load(ctx, DefaultHistory); err != nil {
		return err
	}
	return c.Watch(ctx)
}
