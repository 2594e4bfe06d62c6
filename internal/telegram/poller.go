package telegram

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/leadline/funnelbot/internal/conversation"
	"github.com/leadline/funnelbot/pkg/logging"
)

const (
	defaultPollTimeout = 30 * time.Second
	pollErrorBackoff   = 3 * time.Second
	laneBuffer         = 16
)

// ConversationService answers customer turns. conversation.BotService
// satisfies it.
type ConversationService interface {
	Greet(ctx context.Context, msg conversation.IncomingMessage) (conversation.Reply, error)
	HandleMessage(ctx context.Context, msg conversation.IncomingMessage) (conversation.Reply, error)
}

// BotAPI is the slice of the Bot API the poller uses. Client satisfies it.
type BotAPI interface {
	GetUpdates(ctx context.Context, offset int64, pollTimeout time.Duration) ([]Update, error)
	SendText(ctx context.Context, chatID int64, text string) error
	SendChatAction(ctx context.Context, chatID int64, action string) error
	DeleteWebhook(ctx context.Context, dropPending bool) error
}

// PollerConfig controls update polling.
type PollerConfig struct {
	PollTimeout time.Duration
	DropPending bool
}

// Poller long-polls getUpdates and fans messages out to the conversation
// engine. Messages from the same chat are handled strictly in order;
// different chats proceed concurrently.
type Poller struct {
	api     BotAPI
	service ConversationService
	cfg     PollerConfig
	logger  *logging.Logger

	offset int64
	lanes  map[int64]chan Update
	wg     sync.WaitGroup
}

func NewPoller(api BotAPI, service ConversationService, cfg PollerConfig, logger *logging.Logger) *Poller {
	if api == nil {
		panic("telegram: bot api required")
	}
	if service == nil {
		panic("telegram: conversation service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	return &Poller{
		api:     api,
		service: service,
		cfg:     cfg,
		logger:  logger,
		lanes:   map[int64]chan Update{},
	}
}

// Run polls until the context is cancelled, then waits for in-flight
// messages to finish.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.api.DeleteWebhook(ctx, p.cfg.DropPending); err != nil {
		p.logger.Error("failed to reset webhook, polling anyway", "error", err)
	}
	defer p.closeLanes()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		updates, err := p.api.GetUpdates(ctx, p.offset, p.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Error("getUpdates failed", "error", err)
			if !sleepCtx(ctx, pollErrorBackoff) {
				return ctx.Err()
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= p.offset {
				p.offset = update.UpdateID + 1
			}
			p.dispatch(ctx, update)
		}
	}
}

// dispatch hands the update to its chat's lane, starting one if needed. The
// per-chat lane is what keeps a chat's messages serial.
func (p *Poller) dispatch(ctx context.Context, update Update) {
	msg := update.Message
	if msg == nil || strings.TrimSpace(msg.Text) == "" {
		return
	}
	if msg.From != nil && msg.From.IsBot {
		return
	}

	lane, ok := p.lanes[msg.Chat.ID]
	if !ok {
		lane = make(chan Update, laneBuffer)
		p.lanes[msg.Chat.ID] = lane
		p.wg.Add(1)
		go p.runLane(ctx, lane)
	}
	lane <- update
}

func (p *Poller) runLane(ctx context.Context, lane chan Update) {
	defer p.wg.Done()
	for update := range lane {
		p.handle(ctx, *update.Message)
	}
}

func (p *Poller) handle(ctx context.Context, msg Message) {
	in := conversation.IncomingMessage{
		ChatID: msg.Chat.ID,
		Text:   msg.Text,
	}
	if msg.From != nil {
		in.Username = msg.From.FirstName
		in.TGHandle = msg.From.Username
	}

	var (
		reply conversation.Reply
		err   error
	)
	if isStartCommand(msg.Text) {
		reply, err = p.service.Greet(ctx, in)
	} else {
		if actionErr := p.api.SendChatAction(ctx, msg.Chat.ID, ChatActionTyping); actionErr != nil {
			p.logger.Warn("failed to send typing action", "chat_id", msg.Chat.ID, "error", actionErr)
		}
		reply, err = p.service.HandleMessage(ctx, in)
	}
	if err != nil {
		p.logger.Error("message handling failed", "chat_id", msg.Chat.ID, "error", err)
		return
	}
	if reply.Text == "" {
		return
	}
	if err := p.api.SendText(ctx, msg.Chat.ID, reply.Text); err != nil {
		p.logger.Error("failed to send reply", "chat_id", msg.Chat.ID, "error", err)
	}
}

func (p *Poller) closeLanes() {
	for _, lane := range p.lanes {
		close(lane)
	}
	p.wg.Wait()
}

func isStartCommand(text string) bool {
	text = strings.TrimSpace(text)
	return text == "/start" || strings.HasPrefix(text, "/start ")
}

// sleepCtx waits for d or until the context is cancelled. Reports whether
// the full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
