// Package notifier posts operator notifications (run results, family
// toggles) to a Telegram chat. Sends are queued and rate limited so a
// burst of events never blocks the agent.
package notifier

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	logx "oratio/pkg/logx"
)

type Config struct {
	Enabled    bool
	Token      string
	ChatID     int64
	RatePerSec int
	QueueSize  int
}

// sender abstracts the Telegram transport for tests.
type sender interface {
	Send(ctx context.Context, text string) error
}

type Service struct {
	cfg     Config
	log     logx.Logger
	send    sender
	limiter *rate.Limiter
	queue   chan string
}

// New builds the notifier. Disabled configs yield a service whose
// Notify is a cheap no-op.
func New(cfg Config, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := newWithSender(cfg, log, nil)
	if !cfg.Enabled {
		return s, nil
	}
	if strings.TrimSpace(cfg.Token) == "" || cfg.ChatID == 0 {
		return nil, errors.New("notifier: token and chat_id are required when enabled")
	}
	bot, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	s.send = &telegramSender{bot: bot, chatID: cfg.ChatID}
	return s, nil
}

func newWithSender(cfg Config, log logx.Logger, send sender) *Service {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		send:    send,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		queue:   make(chan string, cfg.QueueSize),
	}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled && s.send != nil }

// Notify enqueues a message. Never blocks; drops when the queue is
// full or the notifier is disabled.
func (s *Service) Notify(text string) {
	if !s.Enabled() || strings.TrimSpace(text) == "" {
		return
	}
	select {
	case s.queue <- text:
	default:
		s.log.Warn("notifier queue full, dropping message")
	}
}

// Run drains the queue until ctx is canceled. Intended to run under
// the supervisor.
func (s *Service) Run(ctx context.Context) error {
	if !s.Enabled() {
		<-ctx.Done()
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case text := <-s.queue:
			if err := s.limiter.Wait(ctx); err != nil {
				return nil
			}
			sctx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := s.send.Send(sctx, text)
			cancel()
			if err != nil {
				s.log.Warn("notify send failed", logx.Err(err))
			}
		}
	}
}

type telegramSender struct {
	bot    *tele.Bot
	chatID int64
}

func (t *telegramSender) Send(ctx context.Context, text string) error {
	_ = ctx // telebot sends are bounded by the bot's HTTP client timeout
	_, err := t.bot.Send(tele.ChatID(t.chatID), text, &tele.SendOptions{DisableWebPagePreview: true})
	return err
}
