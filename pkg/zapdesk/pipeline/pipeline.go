// Package pipeline processes inbound messages: filter, log, and (when the
// bot is enabled) generate and send a reply. Processing is synchronous per
// connector event goroutine, so messages of one conversation never reorder.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/zapdesk/zapdesk/pkg/zapdesk/connector"
	"github.com/zapdesk/zapdesk/pkg/zapdesk/events"
	"github.com/zapdesk/zapdesk/pkg/zapdesk/store"
)

// Responder generates assistant replies. Implemented by ai.Generator.
type Responder interface {
	Reply(ctx context.Context, query, conversationID string) string
}

// Sender delivers outbound traffic for a session. Implemented by the
// session manager.
type Sender interface {
	SendComposing(ctx context.Context, sessionID, conversationID string) error
	SendReply(ctx context.Context, sessionID string, ref connector.MessageRef, text string) error
}

// Pipeline is the inbound message processor.
type Pipeline struct {
	store     *store.Store
	responder Responder
	bus       *events.Bus
	logger    *slog.Logger

	sender    Sender
	composing bool
}

// New creates a pipeline. SetSender must be called before messages flow.
func New(st *store.Store, responder Responder, bus *events.Bus, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:     st,
		responder: responder,
		bus:       bus,
		logger:    logger.With("component", "pipeline"),
		composing: true,
	}
}

// SetSender wires the outbound side. Separate from New because the session
// manager and the pipeline reference each other.
func (p *Pipeline) SetSender(s Sender) { p.sender = s }

// SetComposing toggles the typing indicator before replies.
func (p *Pipeline) SetComposing(enabled bool) { p.composing = enabled }

// Handle processes one inbound message to completion.
func (p *Pipeline) Handle(ctx context.Context, sessionID string, msg *connector.Message) {
	// Own echoes and status broadcasts are not conversations; they are
	// dropped before logging.
	if msg.IsSelf || msg.IsBroadcast {
		return
	}

	conversationID := msg.From
	logger := p.logger.With("session", sessionID, "conversation", conversationID)

	// The inbound message is logged whether or not a reply follows.
	if err := p.store.AppendMessage(conversationID, sessionID, store.RoleUser, msg.Body); err != nil {
		logger.Error("logging inbound message failed", "error", err)
		return
	}
	p.publishMessage(conversationID, sessionID, store.RoleUser, msg.Body)

	if !p.store.SettingBool("bot_enabled") {
		logger.Debug("bot disabled, message logged only")
		return
	}

	if p.composing {
		if err := p.sender.SendComposing(ctx, sessionID, conversationID); err != nil {
			// Typing indicator is cosmetic.
			logger.Debug("composing indicator failed", "error", err)
		}
	}

	reply := p.responder.Reply(ctx, msg.Body, conversationID)

	if err := p.sender.SendReply(ctx, sessionID, msg.Ref, reply); err != nil {
		// An undelivered reply is not logged as an assistant turn.
		logger.Error("sending reply failed", "error", err)
		return
	}

	if err := p.store.AppendMessage(conversationID, sessionID, store.RoleAssistant, reply); err != nil {
		logger.Error("logging assistant reply failed", "error", err)
		return
	}
	p.publishMessage(conversationID, sessionID, store.RoleAssistant, reply)
}

func (p *Pipeline) publishMessage(conversationID, sessionID, role, content string) {
	p.bus.PublishMessage(events.MessagePayload{
		ConversationID: conversationID,
		SessionID:      sessionID,
		Role:           role,
		Content:        content,
		Timestamp:      time.Now(),
	})
}
