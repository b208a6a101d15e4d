package session

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/zapdesk/zapdesk/pkg/zapdesk/connector"
	"github.com/zapdesk/zapdesk/pkg/zapdesk/events"
	"github.com/zapdesk/zapdesk/pkg/zapdesk/store"
)

type fakeConnector struct {
	mu        sync.Mutex
	handler   connector.EventHandler
	started   bool
	destroyed bool
	startErr  error
}

func (f *fakeConnector) SetHandler(h connector.EventHandler) { f.handler = h }

func (f *fakeConnector) Start(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeConnector) Destroy(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = true
	return nil
}

func (f *fakeConnector) SendComposing(_ context.Context, _ string) error { return nil }

func (f *fakeConnector) SendReply(_ context.Context, _ connector.MessageRef, _ string) error {
	return nil
}

type nullSink struct{}

func (nullSink) Handle(_ context.Context, _ string, _ *connector.Message) {}

func newTestManager(t *testing.T, factory connector.Factory) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return NewManager(st, factory, nullSink{}, events.NewBus(nil), nil), st
}

func singleFactory(conn *fakeConnector) connector.Factory {
	return func(string) (connector.Connector, error) { return conn, nil }
}

func statusOf(t *testing.T, m *Manager, id string) Status {
	t.Helper()
	statuses, err := m.Statuses()
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range statuses {
		if s.SessionID == id {
			return s
		}
	}
	t.Fatalf("session %q not in statuses", id)
	return Status{}
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("registers and starts", func(t *testing.T) {
		conn := &fakeConnector{}
		m, st := newTestManager(t, singleFactory(conn))

		if err := m.Create(ctx, "work", "Work Phone"); err != nil {
			t.Fatal(err)
		}
		if !conn.started {
			t.Error("connector was not started")
		}

		sessions, err := st.ListSessions()
		if err != nil {
			t.Fatal(err)
		}
		if len(sessions) != 1 || sessions[0].ID != "work" {
			t.Errorf("registry = %+v", sessions)
		}
	})

	t.Run("concurrent creates construct one connector", func(t *testing.T) {
		entered := make(chan struct{})
		release := make(chan struct{})
		var calls int32
		var once sync.Once
		m, _ := newTestManager(t, func(string) (connector.Connector, error) {
			atomic.AddInt32(&calls, 1)
			once.Do(func() { close(entered) })
			<-release
			return &fakeConnector{}, nil
		})

		done := make(chan error, 1)
		go func() { done <- m.Create(ctx, "work", "") }()
		<-entered

		// While the first create is mid-construction, a second one for the
		// same id must back off without touching the factory.
		if err := m.Create(ctx, "work", ""); err != nil {
			t.Fatal(err)
		}
		if n := atomic.LoadInt32(&calls); n != 1 {
			t.Errorf("factory calls = %d, want 1", n)
		}

		close(release)
		if err := <-done; err != nil {
			t.Fatal(err)
		}
	})

	t.Run("delete during construction discards the connector", func(t *testing.T) {
		entered := make(chan struct{})
		release := make(chan struct{})
		conn := &fakeConnector{}
		m, _ := newTestManager(t, func(string) (connector.Connector, error) {
			close(entered)
			<-release
			return conn, nil
		})

		done := make(chan error, 1)
		go func() { done <- m.Create(ctx, "work", "") }()
		<-entered

		if err := m.Delete(ctx, "work"); err != nil {
			t.Fatal(err)
		}

		close(release)
		if err := <-done; err != nil {
			t.Fatal(err)
		}

		conn.mu.Lock()
		defer conn.mu.Unlock()
		if conn.started {
			t.Error("connector started after its session was deleted")
		}
		if !conn.destroyed {
			t.Error("orphaned connector was not destroyed")
		}
	})

	t.Run("duplicate create is a no-op", func(t *testing.T) {
		calls := 0
		m, _ := newTestManager(t, func(string) (connector.Connector, error) {
			calls++
			return &fakeConnector{}, nil
		})

		if err := m.Create(ctx, "work", "Work Phone"); err != nil {
			t.Fatal(err)
		}
		if err := m.Create(ctx, "work", "Work Phone"); err != nil {
			t.Fatal(err)
		}
		if calls != 1 {
			t.Errorf("factory calls = %d, want 1", calls)
		}
	})

	t.Run("factory error surfaces", func(t *testing.T) {
		m, _ := newTestManager(t, func(string) (connector.Connector, error) {
			return nil, fmt.Errorf("bad credentials")
		})
		if err := m.Create(ctx, "broken", ""); err == nil {
			t.Error("want error from factory")
		}
	})

	t.Run("start error becomes auth_failure status", func(t *testing.T) {
		conn := &fakeConnector{startErr: fmt.Errorf("network down")}
		m, _ := newTestManager(t, singleFactory(conn))

		if err := m.Create(ctx, "flaky", ""); err != nil {
			t.Fatalf("start errors must not fail creation: %v", err)
		}
		if got := statusOf(t, m, "flaky").Status; got != StatusAuthFailure {
			t.Errorf("status = %q, want %q", got, StatusAuthFailure)
		}
	})

	t.Run("empty id rejected", func(t *testing.T) {
		m, _ := newTestManager(t, singleFactory(&fakeConnector{}))
		if err := m.Create(ctx, "", ""); err == nil {
			t.Error("want error for empty session id")
		}
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("destroys connector and clears registry", func(t *testing.T) {
		conn := &fakeConnector{}
		m, st := newTestManager(t, singleFactory(conn))
		if err := m.Create(ctx, "work", ""); err != nil {
			t.Fatal(err)
		}

		if err := m.Delete(ctx, "work"); err != nil {
			t.Fatal(err)
		}
		if !conn.destroyed {
			t.Error("connector was not destroyed")
		}

		sessions, err := st.ListSessions()
		if err != nil {
			t.Fatal(err)
		}
		if len(sessions) != 0 {
			t.Errorf("registry = %+v, want empty", sessions)
		}
	})

	t.Run("unknown session is a no-op", func(t *testing.T) {
		m, _ := newTestManager(t, singleFactory(&fakeConnector{}))
		if err := m.Delete(ctx, "never-created"); err != nil {
			t.Errorf("got %v, want nil", err)
		}
	})
}

func TestStatuses(t *testing.T) {
	ctx := context.Background()
	conn := &fakeConnector{}
	m, st := newTestManager(t, singleFactory(conn))

	// Registered but never started sessions read as disconnected.
	if err := st.InsertSession("dormant", "Old Phone"); err != nil {
		t.Fatal(err)
	}
	if err := m.Create(ctx, "active", "Current Phone"); err != nil {
		t.Fatal(err)
	}

	if got := statusOf(t, m, "dormant").Status; got != StatusDisconnected {
		t.Errorf("dormant status = %q, want %q", got, StatusDisconnected)
	}
	if got := statusOf(t, m, "active").Status; got != StatusInitializing {
		t.Errorf("active status = %q, want %q", got, StatusInitializing)
	}
}

func TestLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	conn := &fakeConnector{}
	m, _ := newTestManager(t, singleFactory(conn))
	if err := m.Create(ctx, "work", ""); err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		fire func()
		want string
	}{
		{func() { conn.handler.OnChallenge("qr-payload") }, StatusScanQR},
		{func() { conn.handler.OnAuthenticated() }, StatusAuthenticated},
		{func() { conn.handler.OnOnline() }, StatusOnline},
		{func() { conn.handler.OnDisconnected("lost") }, StatusDisconnected},
		{func() { conn.handler.OnOnline() }, StatusOnline},
		{func() { conn.handler.OnAuthFailure("revoked") }, StatusAuthFailure},
	}
	for _, step := range steps {
		step.fire()
		if got := statusOf(t, m, "work"); got.Status != step.want {
			t.Errorf("status = %q, want %q", got.Status, step.want)
		}
	}

	// The challenge payload is only exposed while pairing.
	conn.handler.OnChallenge("qr-payload")
	if got := statusOf(t, m, "work"); got.Challenge != "qr-payload" {
		t.Errorf("challenge = %q, want payload", got.Challenge)
	}
	conn.handler.OnAuthenticated()
	if got := statusOf(t, m, "work"); got.Challenge != "" {
		t.Errorf("challenge = %q, want empty after pairing", got.Challenge)
	}
}

func TestStartAll(t *testing.T) {
	ctx := context.Background()

	t.Run("bootstraps default session on empty registry", func(t *testing.T) {
		m, st := newTestManager(t, singleFactory(&fakeConnector{}))
		if err := m.StartAll(ctx); err != nil {
			t.Fatal(err)
		}

		sessions, err := st.ListSessions()
		if err != nil {
			t.Fatal(err)
		}
		if len(sessions) != 1 || sessions[0].ID != defaultSessionID {
			t.Errorf("registry = %+v, want the default session", sessions)
		}
		if sessions[0].Description != defaultDescription {
			t.Errorf("description = %q, want %q", sessions[0].Description, defaultDescription)
		}
	})

	t.Run("starts every registered session", func(t *testing.T) {
		started := 0
		m, st := newTestManager(t, func(string) (connector.Connector, error) {
			started++
			return &fakeConnector{}, nil
		})
		if err := st.InsertSession("one", ""); err != nil {
			t.Fatal(err)
		}
		if err := st.InsertSession("two", ""); err != nil {
			t.Fatal(err)
		}

		if err := m.StartAll(ctx); err != nil {
			t.Fatal(err)
		}
		if started != 2 {
			t.Errorf("connectors created = %d, want 2", started)
		}
	})
}

func TestShutdown(t *testing.T) {
	ctx := context.Background()
	conns := []*fakeConnector{{}, {}}
	i := 0
	m, st := newTestManager(t, func(string) (connector.Connector, error) {
		c := conns[i]
		i++
		return c, nil
	})
	if err := m.Create(ctx, "one", ""); err != nil {
		t.Fatal(err)
	}
	if err := m.Create(ctx, "two", ""); err != nil {
		t.Fatal(err)
	}

	m.Shutdown(ctx)

	for n, c := range conns {
		c.mu.Lock()
		destroyed := c.destroyed
		c.mu.Unlock()
		if !destroyed {
			t.Errorf("connector %d not destroyed", n)
		}
	}

	// Sessions stay registered for the next start.
	sessions, err := st.ListSessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Errorf("registry = %+v, want both sessions kept", sessions)
	}
}
