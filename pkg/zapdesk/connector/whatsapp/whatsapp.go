// Package whatsapp implements the ZapDesk connector on whatsmeow — a native
// Go WhatsApp Web API library. Each instance owns one linked device with its
// own credential database, so multiple sessions run side by side.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/zapdesk/zapdesk/pkg/zapdesk/connector"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for the credential store.
)

// Config holds WhatsApp connector configuration shared by all sessions.
type Config struct {
	// SessionDir is the directory holding one credential database per session.
	SessionDir string `yaml:"session_dir"`

	// DeviceName is shown in the WhatsApp linked devices list.
	DeviceName string `yaml:"device_name"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SessionDir: "./data/sessions",
		DeviceName: "ZapDesk",
	}
}

// WhatsApp implements connector.Connector for one session.
type WhatsApp struct {
	sessionID string
	cfg       Config
	logger    *slog.Logger

	client  *whatsmeow.Client
	handler connector.EventHandler

	connected atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a connector bound to sessionID. The platform connection is
// established by Start.
func New(sessionID string, cfg Config, logger *slog.Logger) (*WhatsApp, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SessionDir == "" {
		cfg.SessionDir = DefaultConfig().SessionDir
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = DefaultConfig().DeviceName
	}

	return &WhatsApp{
		sessionID: sessionID,
		cfg:       cfg,
		logger:    logger.With("component", "whatsapp", "session", sessionID),
	}, nil
}

// SetHandler registers the event handler. Must be called before Start.
func (w *WhatsApp) SetHandler(h connector.EventHandler) {
	w.handler = h
}

// Start opens the credential store and connects. With no existing linked
// device, the QR pairing flow runs in the background and progress is
// reported through the handler.
func (w *WhatsApp) Start(ctx context.Context) error {
	if w.handler == nil {
		return fmt.Errorf("no event handler registered")
	}

	w.ctx, w.cancel = context.WithCancel(ctx)

	dbPath := fmt.Sprintf("%s/%s.db", w.cfg.SessionDir, w.sessionID)
	container, err := sqlstore.New(w.ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", dbPath),
		waLog.Noop)
	if err != nil {
		return fmt.Errorf("creating credential store: %w", err)
	}

	device, err := w.getDevice(w.ctx, container)
	if err != nil {
		return fmt.Errorf("getting device: %w", err)
	}

	store.SetOSInfo(w.cfg.DeviceName, [3]uint32{1, 0, 0})

	w.client = whatsmeow.NewClient(device, waLog.Noop)
	w.client.AddEventHandler(w.handleEvent)
	w.client.EnableAutoReconnect = true
	w.client.InitialAutoReconnect = true

	if w.client.Store.ID == nil {
		w.logger.Info("whatsapp: no linked device, starting QR pairing")
		go func() {
			if err := w.loginWithQR(w.ctx); err != nil {
				w.logger.Warn("whatsapp: QR pairing did not complete", "error", err)
			}
		}()
		return nil
	}

	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}

	w.logger.Info("whatsapp: connecting with existing device",
		"jid", w.client.Store.ID.String())
	return nil
}

// Destroy disconnects and releases the client. Safe to call more than once.
func (w *WhatsApp) Destroy(_ context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}
	if w.client != nil {
		w.client.Disconnect()
	}
	w.connected.Store(false)
	w.logger.Info("whatsapp: destroyed")
	return nil
}

// SendComposing shows a typing indicator in the conversation.
func (w *WhatsApp) SendComposing(ctx context.Context, conversationID string) error {
	if !w.connected.Load() {
		return connector.ErrNotConnected
	}
	jid, err := parseJID(conversationID)
	if err != nil {
		return err
	}
	return w.client.SendChatPresence(ctx, jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
}

// SendReply sends text as a quoted reply to the referenced message. An empty
// reference degrades to a plain message in the chat.
func (w *WhatsApp) SendReply(ctx context.Context, ref connector.MessageRef, text string) error {
	if !w.connected.Load() {
		return connector.ErrNotConnected
	}

	jid, err := parseJID(ref.Chat)
	if err != nil {
		return fmt.Errorf("invalid chat %q: %w", ref.Chat, err)
	}

	if _, err := w.client.SendMessage(ctx, jid, buildReplyMessage(text, ref)); err != nil {
		return fmt.Errorf("sending reply: %w", err)
	}
	return nil
}

// getDevice retrieves the session's device or creates a fresh one.
func (w *WhatsApp) getDevice(ctx context.Context, container *sqlstore.Container) (*store.Device, error) {
	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) > 0 {
		return devices[0], nil
	}
	return container.NewDevice(), nil
}

// loginWithQR drives the QR pairing flow, forwarding each code to the
// handler as a challenge event.
func (w *WhatsApp) loginWithQR(ctx context.Context) error {
	qrChan, err := w.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("getting QR channel: %w", err)
	}

	if err := w.client.Connect(); err != nil {
		w.handler.OnAuthFailure(fmt.Sprintf("connect for pairing: %v", err))
		return fmt.Errorf("connecting for QR: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return fmt.Errorf("QR channel closed")
			}

			switch evt.Event {
			case "code":
				w.logger.Info("whatsapp: QR code issued")
				w.handler.OnChallenge(evt.Code)

			case "success":
				w.logger.Info("whatsapp: pairing complete")
				return nil

			case "timeout":
				w.logger.Warn("whatsapp: QR code expired")
				w.handler.OnAuthFailure("QR pairing timed out")
				return fmt.Errorf("QR pairing timed out")

			default:
				if evt.Error != nil {
					w.logger.Error("whatsapp: QR pairing error", "error", evt.Error)
					w.handler.OnAuthFailure(evt.Error.Error())
					return fmt.Errorf("QR pairing: %w", evt.Error)
				}
			}
		}
	}
}

// buildReplyMessage builds the outbound proto, quoting the original message
// when a reference is present.
func buildReplyMessage(text string, ref connector.MessageRef) *waProto.Message {
	if ref.ID == "" {
		return &waProto.Message{Conversation: proto.String(text)}
	}
	return &waProto.Message{
		ExtendedTextMessage: &waProto.ExtendedTextMessage{
			Text: proto.String(text),
			ContextInfo: &waProto.ContextInfo{
				StanzaID:    proto.String(ref.ID),
				Participant: proto.String(ref.Sender),
				QuotedMessage: &waProto.Message{
					Conversation: proto.String(ref.Body),
				},
			},
		},
	}
}

var _ connector.Connector = (*WhatsApp)(nil)
