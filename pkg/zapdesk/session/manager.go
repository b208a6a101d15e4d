// Package session orchestrates the lifecycle of messaging sessions: creating
// connectors, tracking their status, persisting the session registry, and
// tearing everything down on shutdown.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zapdesk/zapdesk/pkg/zapdesk/connector"
	"github.com/zapdesk/zapdesk/pkg/zapdesk/events"
	"github.com/zapdesk/zapdesk/pkg/zapdesk/store"
)

// Default session bootstrapped when the registry is empty.
const (
	defaultSessionID   = "default"
	defaultDescription = "Primary Device"
)

// MessageSink consumes inbound messages from active sessions. Delivery is
// synchronous on the connector's event goroutine, which preserves
// per-conversation ordering.
type MessageSink interface {
	Handle(ctx context.Context, sessionID string, msg *connector.Message)
}

// handle is the manager's in-memory record of one active session.
type handle struct {
	conn      connector.Connector
	status    string
	challenge string
}

// Manager owns all active sessions.
type Manager struct {
	store   *store.Store
	factory connector.Factory
	sink    MessageSink
	bus     *events.Bus
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*handle
}

// NewManager creates a session manager.
func NewManager(st *store.Store, factory connector.Factory, sink MessageSink, bus *events.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    st,
		factory:  factory,
		sink:     sink,
		bus:      bus,
		logger:   logger.With("component", "sessions"),
		sessions: make(map[string]*handle),
	}
}

// Create registers a session and starts its connector. Creating a session
// that is already active is a no-op. Connector construction errors are
// returned; runtime failures after a successful start surface as status
// changes instead.
func (m *Manager) Create(ctx context.Context, id, description string) error {
	if id == "" {
		return fmt.Errorf("session id is required")
	}

	// The handle is installed before the connector exists so a concurrent
	// Create for the same id sees it and backs off; only one connector is
	// ever constructed per active session.
	h := &handle{status: StatusInitializing}
	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return nil
	}
	m.sessions[id] = h
	m.mu.Unlock()
	m.broadcast(id, StatusInitializing, "")

	if err := m.store.InsertSession(id, description); err != nil {
		m.drop(id)
		return fmt.Errorf("persisting session %q: %w", id, err)
	}

	conn, err := m.factory(id)
	if err != nil {
		m.drop(id)
		return fmt.Errorf("creating connector for %q: %w", id, err)
	}

	m.mu.Lock()
	if m.sessions[id] != h {
		// Deleted while the connector was being constructed.
		m.mu.Unlock()
		if err := conn.Destroy(ctx); err != nil {
			m.logger.Warn("session destroy failed", "session", id, "error", err)
		}
		return nil
	}
	h.conn = conn
	m.mu.Unlock()

	conn.SetHandler(&sessionHandler{manager: m, sessionID: id})

	if err := conn.Start(ctx); err != nil {
		// A failed start leaves the session registered; the operator sees
		// the failure in the status feed and can delete or retry.
		m.logger.Error("session start failed", "session", id, "error", err)
		m.setStatus(id, StatusAuthFailure, "")
	}
	return nil
}

// Delete destroys a session's connector and removes it from the registry.
// Deleting an unknown session is a no-op.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	h, exists := m.sessions[id]
	if exists {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if exists {
		// h.conn is nil while a concurrent Create is still constructing.
		if h.conn != nil {
			if err := h.conn.Destroy(ctx); err != nil {
				// Teardown failures must not block removal.
				m.logger.Warn("session destroy failed", "session", id, "error", err)
			}
		}
		m.broadcast(id, StatusDisconnected, "")
	}

	if err := m.store.DeleteSession(id); err != nil {
		return fmt.Errorf("removing session %q: %w", id, err)
	}
	m.logger.Info("session deleted", "session", id)
	return nil
}

// Statuses joins the persistent registry with in-memory state. Registered
// sessions without an active connector report as disconnected.
func (m *Manager) Statuses() ([]Status, error) {
	registered, err := m.store.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Status, 0, len(registered))
	for _, s := range registered {
		st := Status{
			SessionID:   s.ID,
			Description: s.Description,
			Status:      StatusDisconnected,
		}
		if h, ok := m.sessions[s.ID]; ok {
			st.Status = h.status
			st.Challenge = h.challenge
		}
		out = append(out, st)
	}
	return out, nil
}

// StartAll starts every registered session, bootstrapping a default one when
// the registry is empty. Individual start failures are logged, not fatal.
func (m *Manager) StartAll(ctx context.Context) error {
	registered, err := m.store.ListSessions()
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}

	if len(registered) == 0 {
		m.logger.Info("no sessions registered, bootstrapping default")
		return m.Create(ctx, defaultSessionID, defaultDescription)
	}

	for _, s := range registered {
		if err := m.Create(ctx, s.ID, s.Description); err != nil {
			m.logger.Error("starting session failed", "session", s.ID, "error", err)
		}
	}
	return nil
}

// Shutdown destroys all active sessions in parallel, bounded by the context
// deadline. Sessions stay registered for the next start.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	active := make(map[string]connector.Connector, len(m.sessions))
	for id, h := range m.sessions {
		if h.conn != nil {
			active[id] = h.conn
		}
	}
	m.sessions = make(map[string]*handle)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for id, conn := range active {
		wg.Add(1)
		go func(id string, conn connector.Connector) {
			defer wg.Done()
			if err := conn.Destroy(ctx); err != nil {
				m.logger.Warn("session shutdown failed", "session", id, "error", err)
			}
		}(id, conn)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("all sessions shut down", "count", len(active))
	case <-ctx.Done():
		m.logger.Warn("session shutdown timed out", "count", len(active))
	}
}

// setStatus updates one session's status and broadcasts the change. The
// challenge payload is kept only while the status is scan_qr.
func (m *Manager) setStatus(id, status, challenge string) {
	m.mu.Lock()
	h, ok := m.sessions[id]
	if ok {
		h.status = status
		h.challenge = challenge
	}
	m.mu.Unlock()
	if ok {
		m.broadcast(id, status, challenge)
	}
}

func (m *Manager) broadcast(id, status, challenge string) {
	m.bus.PublishStatus(events.SessionStatus{
		SessionID: id,
		Status:    status,
		Challenge: challenge,
	})
}

// SendComposing shows a typing indicator through the session's connector.
func (m *Manager) SendComposing(ctx context.Context, sessionID, conversationID string) error {
	conn, err := m.connector(sessionID)
	if err != nil {
		return err
	}
	return conn.SendComposing(ctx, conversationID)
}

// SendReply sends a reply through the session's connector.
func (m *Manager) SendReply(ctx context.Context, sessionID string, ref connector.MessageRef, text string) error {
	conn, err := m.connector(sessionID)
	if err != nil {
		return err
	}
	return conn.SendReply(ctx, ref, text)
}

func (m *Manager) connector(sessionID string) (connector.Connector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.sessions[sessionID]
	if !ok || h.conn == nil {
		return nil, fmt.Errorf("session %q is not active", sessionID)
	}
	return h.conn, nil
}

// drop removes a handle that never got a working connector.
func (m *Manager) drop(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// sessionHandler adapts connector events for one session onto the manager.
type sessionHandler struct {
	manager   *Manager
	sessionID string
}

func (h *sessionHandler) OnChallenge(payload string) {
	h.manager.logger.Info("pairing challenge issued", "session", h.sessionID)
	h.manager.setStatus(h.sessionID, StatusScanQR, payload)
}

func (h *sessionHandler) OnAuthenticated() {
	h.manager.logger.Info("session authenticated", "session", h.sessionID)
	h.manager.setStatus(h.sessionID, StatusAuthenticated, "")
}

func (h *sessionHandler) OnOnline() {
	h.manager.logger.Info("session online", "session", h.sessionID)
	h.manager.setStatus(h.sessionID, StatusOnline, "")
}

func (h *sessionHandler) OnAuthFailure(reason string) {
	h.manager.logger.Error("session auth failure",
		"session", h.sessionID, "reason", reason)
	h.manager.setStatus(h.sessionID, StatusAuthFailure, "")
}

func (h *sessionHandler) OnDisconnected(reason string) {
	h.manager.logger.Warn("session disconnected",
		"session", h.sessionID, "reason", reason)
	h.manager.setStatus(h.sessionID, StatusDisconnected, "")
}

func (h *sessionHandler) OnMessage(msg *connector.Message) {
	// Synchronous handoff keeps messages of one conversation in order.
	h.manager.sink.Handle(context.Background(), h.sessionID, msg)
}

var _ connector.EventHandler = (*sessionHandler)(nil)

// ShutdownTimeout is the default grace period for Shutdown callers.
const ShutdownTimeout = 15 * time.Second
