package ai

import (
	"context"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zapdesk/zapdesk/pkg/zapdesk/store"
)

type fakeProvider struct {
	configured bool

	embedVec []float32
	embedErr error

	completion  *Completion
	completeErr error

	gotModel       string
	gotTemperature float64
	gotMessages    []Message
}

func (f *fakeProvider) Configured() bool { return f.configured }

func (f *fakeProvider) Embed(_ context.Context, _ string) ([]float32, error) {
	return f.embedVec, f.embedErr
}

func (f *fakeProvider) Complete(_ context.Context, model string, messages []Message, temperature float64) (*Completion, error) {
	f.gotModel = model
	f.gotTemperature = temperature
	f.gotMessages = messages
	return f.completion, f.completeErr
}

func newTestGenerator(t *testing.T, provider Provider) (*Generator, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return NewGenerator(st, provider, nil), st
}

func TestCosineSimilarity(t *testing.T) {
	t.Run("identical vectors score 1", func(t *testing.T) {
		got := cosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3})
		if math.Abs(got-1) > 1e-9 {
			t.Errorf("got %v, want 1", got)
		}
	})

	t.Run("orthogonal vectors score 0", func(t *testing.T) {
		if got := cosineSimilarity([]float32{1, 0}, []float32{0, 1}); got != 0 {
			t.Errorf("got %v, want 0", got)
		}
	})

	t.Run("symmetric", func(t *testing.T) {
		a, b := []float32{0.3, 0.8, 0.1}, []float32{0.5, 0.2, 0.9}
		if cosineSimilarity(a, b) != cosineSimilarity(b, a) {
			t.Error("similarity must be symmetric")
		}
	})

	t.Run("zero vector scores 0", func(t *testing.T) {
		if got := cosineSimilarity([]float32{0, 0}, []float32{1, 1}); got != 0 {
			t.Errorf("got %v, want 0", got)
		}
	})

	t.Run("mismatched lengths score 0", func(t *testing.T) {
		if got := cosineSimilarity([]float32{1}, []float32{1, 2}); got != 0 {
			t.Errorf("got %v, want 0", got)
		}
	})
}

func TestRetrieve(t *testing.T) {
	provider := &fakeProvider{configured: true, embedVec: []float32{1, 0}}
	g, st := newTestGenerator(t, provider)

	// Similarity to the query vector (1,0) is the first component.
	mustInsert := func(content string, vec []float32) {
		t.Helper()
		if _, err := st.InsertKnowledge(nil, content, vec); err != nil {
			t.Fatal(err)
		}
	}
	mustInsert("below threshold", []float32{0.4, float32(math.Sqrt(1 - 0.4*0.4))})
	mustInsert("weak match", []float32{0.5, float32(math.Sqrt(1 - 0.5*0.5))})
	mustInsert("good match", []float32{0.8, float32(math.Sqrt(1 - 0.8*0.8))})
	mustInsert("best match", []float32{1, 0})
	mustInsert("decent match", []float32{0.6, float32(math.Sqrt(1 - 0.6*0.6))})
	mustInsert("no vector", nil)

	block, err := g.retrieve(context.Background(), "query")
	if err != nil {
		t.Fatal(err)
	}

	parts := strings.Split(block, "\n\n")
	if len(parts) != 3 {
		t.Fatalf("want top 3 items, got %d: %q", len(parts), block)
	}
	want := []string{"best match", "good match", "decent match"}
	for i, w := range want {
		if parts[i] != w {
			t.Errorf("rank %d: got %q, want %q", i, parts[i], w)
		}
	}
	if strings.Contains(block, "below threshold") {
		t.Error("similarity exactly at the threshold must be excluded")
	}
}

func TestRetrieveEmptyKnowledge(t *testing.T) {
	provider := &fakeProvider{configured: true, embedErr: context.DeadlineExceeded}
	g, _ := newTestGenerator(t, provider)

	// With no knowledge stored, the query is never embedded.
	block, err := g.retrieve(context.Background(), "query")
	if err != nil {
		t.Fatal(err)
	}
	if block != "" {
		t.Errorf("got %q, want empty context", block)
	}
}

func TestReply(t *testing.T) {
	t.Run("unconfigured provider", func(t *testing.T) {
		g, _ := newTestGenerator(t, &fakeProvider{configured: false})
		got := g.Reply(context.Background(), "hi", "conv")
		if got != fallbackUnconfigured {
			t.Errorf("got %q, want %q", got, fallbackUnconfigured)
		}
	})

	t.Run("budget exhausted", func(t *testing.T) {
		provider := &fakeProvider{configured: true}
		g, st := newTestGenerator(t, provider)
		if err := st.SetSettings(map[string]string{
			"token_limit_daily": "50",
			"tokens_used_today": "0",
		}); err != nil {
			t.Fatal(err)
		}

		got := g.Reply(context.Background(), "hi", "conv")
		if got != fallbackBudget {
			t.Errorf("got %q, want %q", got, fallbackBudget)
		}
	})

	t.Run("retrieval failure", func(t *testing.T) {
		provider := &fakeProvider{configured: true, embedErr: context.DeadlineExceeded}
		g, st := newTestGenerator(t, provider)
		if _, err := st.InsertKnowledge(nil, "item", []float32{1}); err != nil {
			t.Fatal(err)
		}

		got := g.Reply(context.Background(), "hi", "conv")
		if got != fallbackRetrieval {
			t.Errorf("got %q, want %q", got, fallbackRetrieval)
		}
		if used := st.SettingInt("tokens_used_today", -1); used != 0 {
			t.Errorf("tokens_used_today = %d, want reservation refunded", used)
		}
	})

	t.Run("completion failure refunds reservation", func(t *testing.T) {
		provider := &fakeProvider{configured: true, completeErr: context.DeadlineExceeded}
		g, st := newTestGenerator(t, provider)

		got := g.Reply(context.Background(), "hi", "conv")
		if got != fallbackGeneration {
			t.Errorf("got %q, want %q", got, fallbackGeneration)
		}
		if used := st.SettingInt("tokens_used_today", -1); used != 0 {
			t.Errorf("tokens_used_today = %d, want reservation refunded", used)
		}
	})

	t.Run("happy path settles at provider-reported usage", func(t *testing.T) {
		provider := &fakeProvider{
			configured: true,
			completion: &Completion{Text: "hello back", TotalTokens: 123},
		}
		g, st := newTestGenerator(t, provider)

		got := g.Reply(context.Background(), "hi", "conv")
		if got != "hello back" {
			t.Errorf("got %q, want %q", got, "hello back")
		}
		if used := st.SettingInt("tokens_used_today", -1); used != 123 {
			t.Errorf("tokens_used_today = %d, want 123", used)
		}
		if provider.gotModel != "gpt-3.5-turbo" {
			t.Errorf("model = %q", provider.gotModel)
		}
		if provider.gotTemperature != 0.7 {
			t.Errorf("temperature = %v", provider.gotTemperature)
		}
	})
}

func TestBuildMessages(t *testing.T) {
	provider := &fakeProvider{configured: true}
	g, st := newTestGenerator(t, provider)
	g.now = func() time.Time { return time.Now() }

	conv := "conv@s.whatsapp.net"
	if err := st.AppendMessage(conv, "default", store.RoleUser, "earlier question"); err != nil {
		t.Fatal(err)
	}
	if err := st.AppendMessage(conv, "default", store.RoleAssistant, "earlier answer"); err != nil {
		t.Fatal(err)
	}
	if err := st.AppendMessage("other", "default", store.RoleUser, "unrelated"); err != nil {
		t.Fatal(err)
	}

	t.Run("with knowledge context", func(t *testing.T) {
		messages, err := g.buildMessages("current question", conv, "fact one\n\nfact two")
		if err != nil {
			t.Fatal(err)
		}

		if messages[0].Role != "system" {
			t.Fatalf("first message role = %q", messages[0].Role)
		}
		wantSystem := "You are a helpful assistant.\n\nRelevant Knowledge Base Context:\nfact one\n\nfact two"
		if messages[0].Content != wantSystem {
			t.Errorf("system prompt = %q, want %q", messages[0].Content, wantSystem)
		}

		if len(messages) != 4 {
			t.Fatalf("got %d messages, want 4", len(messages))
		}
		if messages[1].Content != "earlier question" || messages[2].Content != "earlier answer" {
			t.Error("history must be included oldest first")
		}
		last := messages[len(messages)-1]
		if last.Role != "user" || last.Content != "current question" {
			t.Errorf("last message = %+v", last)
		}
	})

	t.Run("without knowledge context", func(t *testing.T) {
		messages, err := g.buildMessages("q", conv, "")
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(messages[0].Content, "Relevant Knowledge Base Context") {
			t.Error("empty context must not add the context header")
		}
	})
}
