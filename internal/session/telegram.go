package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/tgfleet/tgfleet/internal/logger"
)

// telegramSession implements Session over the Telegram Bot API. Each session
// runs its own long-polling loop; handlers run sequentially per session so
// inbound events from one bot are processed in arrival order.
type telegramSession struct {
	token       string
	name        string
	logger      *slog.Logger
	sendTimeout time.Duration

	bot *tgbot.Bot

	mu      sync.RWMutex
	handler Handler
	cancel  context.CancelFunc
	closed  bool
}

// NewTelegramFactory returns a Factory that opens Telegram bot sessions.
// Opening validates the token against the platform, so a revoked credential
// fails at registration time with ErrAuth.
func NewTelegramFactory(log *slog.Logger, sendTimeout time.Duration) Factory {
	return func(_ context.Context, token, name string) (Session, error) {
		s := &telegramSession{
			token:       token,
			name:        name,
			logger:      log.With("component", "session", "bot", name),
			sendTimeout: sendTimeout,
		}

		opts := []tgbot.Option{
			tgbot.WithMiddlewares(logger.Middleware(log, name)),
			tgbot.WithDefaultHandler(s.deliver),
			tgbot.WithNotAsyncHandlers(),
		}
		b, err := tgbot.New(token, opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAuth, err)
		}
		s.bot = b
		return s, nil
	}
}

func (s *telegramSession) Token() string { return s.token }
func (s *telegramSession) Name() string  { return s.name }

// SetHandler installs the inbound message handler. Called once by the
// Registry before Start.
func (s *telegramSession) SetHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Start launches the long-polling receive loop. It returns immediately; the
// loop runs until Close cancels it. Starting an already closed session is a
// no-op, so a session torn down between registration and start never leaks
// its polling loop.
func (s *telegramSession) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return
	}
	s.cancel = cancel
	s.mu.Unlock()

	go s.bot.Start(runCtx)
}

// Close cancels the receive loop and releases the connection. Safe to call
// before Start and more than once.
func (s *telegramSession) Close() {
	s.mu.Lock()
	s.closed = true
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// deliver adapts a Telegram update into the platform-independent Message and
// hands it to the installed handler. Non-message updates are ignored.
func (s *telegramSession) deliver(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	s.mu.RLock()
	h := s.handler
	s.mu.RUnlock()
	if h == nil {
		return
	}

	msg := update.Message
	m := &Message{
		ID:     msg.ID,
		ChatID: msg.Chat.ID,
		Text:   msg.Text,
	}
	if msg.From != nil {
		m.From = &Sender{
			ID:        msg.From.ID,
			Username:  msg.From.Username,
			FirstName: msg.From.FirstName,
			LastName:  msg.From.LastName,
		}
	}
	h.OnMessage(ctx, s.token, m)
}

// SendMessage sends text to a chat with the session's bounded timeout.
func (s *telegramSession) SendMessage(ctx context.Context, chatID int64, text string) error {
	ctx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	_, err := s.bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("send to chat %d: %w", chatID, err)
	}
	return nil
}

// ForwardMessage forwards an existing message unmodified to another chat.
func (s *telegramSession) ForwardMessage(ctx context.Context, toChatID, fromChatID int64, messageID int) error {
	ctx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	_, err := s.bot.ForwardMessage(ctx, &tgbot.ForwardMessageParams{
		ChatID:     toChatID,
		FromChatID: fromChatID,
		MessageID:  messageID,
	})
	if err != nil {
		return fmt.Errorf("forward message %d to chat %d: %w", messageID, toChatID, err)
	}
	return nil
}
