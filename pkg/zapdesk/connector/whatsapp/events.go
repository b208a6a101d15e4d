// Package whatsapp – events.go maps whatsmeow events onto the connector
// event handler contract.
package whatsapp

import (
	"fmt"
	"strings"

	"github.com/zapdesk/zapdesk/pkg/zapdesk/connector"

	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// handleEvent is the main whatsmeow event dispatcher.
func (w *WhatsApp) handleEvent(rawEvt interface{}) {
	switch evt := rawEvt.(type) {
	case *events.PairSuccess:
		w.logger.Info("whatsapp: device paired",
			"jid", evt.ID, "platform", evt.Platform)
		w.handler.OnAuthenticated()

	case *events.Connected:
		w.connected.Store(true)
		w.logger.Info("whatsapp: online")
		w.handler.OnOnline()

	case *events.Disconnected:
		w.connected.Store(false)
		w.logger.Warn("whatsapp: disconnected")
		w.handler.OnDisconnected("connection lost")

	case *events.StreamReplaced:
		w.connected.Store(false)
		w.logger.Error("whatsapp: stream replaced by another device")
		w.handler.OnDisconnected("stream replaced")

	case *events.LoggedOut:
		w.connected.Store(false)
		reason := "logged out"
		if evt.Reason != 0 {
			reason = evt.Reason.String()
		}
		w.logger.Error("whatsapp: logged out", "reason", reason)
		w.handler.OnAuthFailure(reason)

	case *events.ConnectFailure:
		w.connected.Store(false)
		w.logger.Error("whatsapp: connect failure", "reason", evt.Reason)
		w.handler.OnAuthFailure(fmt.Sprintf("connect failure: %s", evt.Reason))

	case *events.TemporaryBan:
		w.connected.Store(false)
		w.logger.Error("whatsapp: temporary ban",
			"code", evt.Code, "expire", evt.Expire)
		w.handler.OnAuthFailure(fmt.Sprintf("temporary ban until %s", evt.Expire))

	case *events.Message:
		w.handleMessageEvt(evt)
	}
}

// handleMessageEvt converts one inbound message event. Self and broadcast
// traffic is delivered with flags set; filtering is the pipeline's job.
func (w *WhatsApp) handleMessageEvt(evt *events.Message) {
	body := extractText(evt.Message)
	if body == "" {
		return
	}

	chat := evt.Info.Chat.String()
	w.handler.OnMessage(&connector.Message{
		Ref: connector.MessageRef{
			Chat:   chat,
			ID:     string(evt.Info.ID),
			Sender: evt.Info.Sender.String(),
			Body:   body,
		},
		From:        chat,
		Body:        body,
		IsSelf:      evt.Info.IsFromMe,
		IsBroadcast: evt.Info.Chat.Server == "broadcast",
		Timestamp:   evt.Info.Timestamp,
	})
}

// extractText returns the text content of a message, or "" for content the
// responder cannot act on (media without caption, reactions, etc).
func extractText(msg *waProto.Message) string {
	if msg == nil {
		return ""
	}
	if msg.Conversation != nil {
		return msg.GetConversation()
	}
	if ext := msg.ExtendedTextMessage; ext != nil {
		return ext.GetText()
	}
	if img := msg.ImageMessage; img != nil {
		return img.GetCaption()
	}
	if vid := msg.VideoMessage; vid != nil {
		return vid.GetCaption()
	}
	if doc := msg.DocumentMessage; doc != nil {
		return doc.GetCaption()
	}
	return ""
}

// parseJID converts a string identifier to a whatsmeow JID. Accepts a full
// JID ("5511999999999@s.whatsapp.net") or a bare phone number.
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("empty JID")
	}

	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) < 10 {
		return types.JID{}, fmt.Errorf("phone number too short: %s", s)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}
