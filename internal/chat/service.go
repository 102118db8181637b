package chat

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cacatua/cacatua/backend/go-services/internal/models"
	"github.com/cacatua/cacatua/backend/go-services/pkg/logger"
	"github.com/cacatua/cacatua/backend/go-services/pkg/metrics"
	"github.com/google/uuid"
)

const (
	MaxMessageLength = 4000
	DefaultHistory   = 50
	MaxHistory       = 500
)

var (
	ErrEmptyMessage   = errors.New("message text is empty")
	ErrMessageTooLong = errors.New("message text is too long")
	ErrMissingChannel = errors.New("channel id is required")
)

// SendInput is a message as submitted by an authenticated sender.
type SendInput struct {
	ChannelID string
	ServerID  string
	SenderUID string
	Text      string
}

// Service stores messages and publishes them to live subscribers.
type Service struct {
	repo   Repository
	broker Broker
	now    func() time.Time
}

func NewService(repo Repository, broker Broker) *Service {
	return &Service{repo: repo, broker: broker, now: time.Now}
}

// WithClock replaces the source of server-assigned creation times.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Send validates, stores and publishes a message. A failed publish is logged
// only: the message is already stored and reachable through History.
func (s *Service) Send(ctx context.Context, in SendInput) (*models.Message, error) {
	if strings.TrimSpace(in.ChannelID) == "" {
		return nil, ErrMissingChannel
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return nil, ErrMessageTooLong
	}
	m := &models.Message{
		ID:        uuid.NewString(),
		ChannelID: in.ChannelID,
		ServerID:  in.ServerID,
		SenderUID: in.SenderUID,
		Text:      text,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.Insert(ctx, m); err != nil {
		return nil, err
	}
	metrics.ChatMessages.Inc()
	if err := s.broker.Publish(ctx, m); err != nil {
		logger.Warnf("chat: publish %s to %s failed: %v", m.ID, m.ChannelID, err)
	}
	return m, nil
}

// History returns up to limit recent messages of channel, oldest first.
func (s *Service) History(ctx context.Context, channel string, limit int) ([]*models.Message, error) {
	if strings.TrimSpace(channel) == "" {
		return nil, ErrMissingChannel
	}
	switch {
	case limit <= 0:
		limit = DefaultHistory
	case limit > MaxHistory:
		limit = MaxHistory
	}
	return s.repo.ListByChannel(ctx, channel, limit)
}

func (s *Service) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	if strings.TrimSpace(channel) == "" {
		return nil, ErrMissingChannel
	}
	return s.broker.Subscribe(ctx, channel)
}
