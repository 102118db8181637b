package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cacatua/cacatua/backend/go-services/internal/chat"
	"github.com/cacatua/cacatua/backend/go-services/pkg/logger"
	"github.com/cacatua/cacatua/backend/go-services/pkg/middleware"
	"github.com/gin-gonic/gin"
)

// SendMessageRequest is the body of POST /api/Message/send-message-async.
type SendMessageRequest struct {
	Text      string `json:"text"`
	ChatUID   string `json:"chatUid" binding:"required"`
	ServerUID string `json:"serverUid"`
}

// MessageHandler exposes chat history, sending and the live feed.
type MessageHandler struct {
	chat      *chat.Service
	heartbeat time.Duration
}

func NewMessageHandler(svc *chat.Service) *MessageHandler {
	return &MessageHandler{chat: svc, heartbeat: 25 * time.Second}
}

// WithHeartbeat sets the interval of keep-alive events on the stream.
func (h *MessageHandler) WithHeartbeat(d time.Duration) *MessageHandler {
	h.heartbeat = d
	return h
}

// Register routes under /api/Message, all behind auth. limit runs after auth.
func (h *MessageHandler) Register(rg *gin.RouterGroup, auth gin.HandlerFunc, limit ...gin.HandlerFunc) {
	m := rg.Group("/api/Message", append([]gin.HandlerFunc{auth}, limit...)...)
	m.POST("/send-message-async", h.Send)
	m.GET("/:channel", h.History)
	m.GET("/:channel/stream", h.Stream)
}

func (h *MessageHandler) Send(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "chatUid and text are required"})
		return
	}
	msg, err := h.chat.Send(c.Request.Context(), chat.SendInput{
		ChannelID: req.ChatUID,
		ServerID:  req.ServerUID,
		SenderUID: middleware.UID(c),
		Text:      req.Text,
	})
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrMessageTooLong), errors.Is(err, chat.ErrMissingChannel):
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		default:
			logger.Errorf("send message: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to send message"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": msg})
}

func (h *MessageHandler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	msgs, err := h.chat.History(c.Request.Context(), c.Param("channel"), limit)
	if err != nil {
		logger.Errorf("message history: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// Stream is a server-sent event feed of new messages on a channel. It ends
// when the client goes away.
func (h *MessageHandler) Stream(c *gin.Context) {
	channel := c.Param("channel")
	ctx := c.Request.Context()
	sub, err := h.chat.Subscribe(ctx, channel)
	if err != nil {
		logger.Errorf("subscribe %s: %v", channel, err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to subscribe"})
		return
	}
	defer sub.Close()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ready", gin.H{"channel": channel})
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-sub.C():
			if !ok {
				return false
			}
			c.SSEvent("message", msg)
			return true
		case <-ticker.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		}
	})
	logger.Debugf("stream on %s closed for %s", channel, middleware.UID(c))
}
