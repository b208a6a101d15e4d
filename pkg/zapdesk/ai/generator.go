package ai

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/zapdesk/zapdesk/pkg/zapdesk/store"
)

// Retrieval and budget tuning.
const (
	// relevanceThreshold is the strict minimum cosine similarity for a
	// knowledge item to enter the prompt context.
	relevanceThreshold = 0.4

	// maxContextItems caps how many knowledge items the prompt carries.
	maxContextItems = 3

	// historyWindow bounds how far back conversation history is loaded.
	historyWindow = 3 * 24 * time.Hour

	// maxHistoryMessages caps the number of history turns per request.
	maxHistoryMessages = 20

	// budgetEstimate is the token estimate charged against the daily budget
	// before the call; actual usage is recorded afterwards.
	budgetEstimate = 100
)

// User-facing fallback replies. Sent verbatim when generation cannot run.
const (
	fallbackUnconfigured = "I am currently unable to reply because my configuration is incomplete."
	fallbackBudget       = "System Error: Daily token limit reached."
	fallbackRetrieval    = "Sorry, I'm having trouble processing your request right now."
	fallbackGeneration   = "I encountered an error while thinking of a response."
)

// Settings keys the generator reads at request time, so dashboard changes
// apply without a restart.
const (
	keyModel        = "openai_model"
	keySystemPrompt = "system_prompt"
	keyTemperature  = "temperature"
)

// ConfigChecker is implemented by providers that can report whether they
// hold credentials. Providers without it are assumed configured.
type ConfigChecker interface {
	Configured() bool
}

// Generator produces assistant replies: embeds the query, retrieves relevant
// knowledge, assembles recent history, and calls the completion provider
// under the daily token budget. Every failure mode maps to a fixed fallback
// string so the conversation never goes silent.
type Generator struct {
	store    *store.Store
	provider Provider
	logger   *slog.Logger
	now      func() time.Time
}

// NewGenerator creates a generator.
func NewGenerator(st *store.Store, provider Provider, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		store:    st,
		provider: provider,
		logger:   logger.With("component", "generator"),
		now:      time.Now,
	}
}

// Reply generates the assistant reply for one inbound message. It always
// returns a non-empty string; errors are logged and replaced by fallbacks.
func (g *Generator) Reply(ctx context.Context, query, conversationID string) string {
	if cc, ok := g.provider.(ConfigChecker); ok && !cc.Configured() {
		g.logger.Warn("generation skipped: provider not configured")
		return fallbackUnconfigured
	}

	admitted, err := g.store.ReserveBudget(budgetEstimate, g.now())
	if err != nil {
		g.logger.Error("budget check failed", "error", err)
		return fallbackGeneration
	}
	if !admitted {
		g.logger.Warn("daily token budget exhausted", "conversation", conversationID)
		return fallbackBudget
	}

	contextBlock, err := g.retrieve(ctx, query)
	if err != nil {
		g.logger.Error("knowledge retrieval failed", "error", err)
		g.settle(0)
		return fallbackRetrieval
	}

	messages, err := g.buildMessages(query, conversationID, contextBlock)
	if err != nil {
		g.logger.Error("prompt assembly failed", "error", err)
		g.settle(0)
		return fallbackGeneration
	}

	model, err := g.store.Setting(keyModel)
	if err != nil || model == "" {
		g.logger.Error("model setting unavailable", "error", err)
		g.settle(0)
		return fallbackGeneration
	}
	temperature := g.store.SettingFloat(keyTemperature, 0.7)

	completion, err := g.provider.Complete(ctx, model, messages, temperature)
	if err != nil {
		g.logger.Error("completion failed", "model", model, "error", err)
		g.settle(0)
		return fallbackGeneration
	}

	g.settle(completion.TotalTokens)

	if completion.Text == "" {
		return fallbackGeneration
	}
	return completion.Text
}

// settle replaces the reserved estimate with the provider-reported usage.
// Failed calls settle at zero, refunding the reservation.
func (g *Generator) settle(actual int) {
	if err := g.store.AddTokenUsage(actual - budgetEstimate); err != nil {
		g.logger.Error("settling token usage failed", "error", err)
	}
}

// retrieve embeds the query and returns the concatenated content of the top
// knowledge items above the relevance threshold. Empty string means no
// relevant knowledge (not an error).
func (g *Generator) retrieve(ctx context.Context, query string) (string, error) {
	items, err := g.store.KnowledgeEmbeddings()
	if err != nil {
		return "", fmt.Errorf("loading knowledge: %w", err)
	}
	if len(items) == 0 {
		return "", nil
	}

	queryVec, err := g.provider.Embed(ctx, query)
	if err != nil {
		return "", fmt.Errorf("embedding query: %w", err)
	}

	type scored struct {
		content string
		score   float64
	}
	var candidates []scored
	for _, item := range items {
		if len(item.Embedding) == 0 {
			continue
		}
		score := cosineSimilarity(queryVec, item.Embedding)
		if score > relevanceThreshold {
			candidates = append(candidates, scored{item.Content, score})
		}
	}
	if len(candidates) == 0 {
		return "", nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > maxContextItems {
		candidates = candidates[:maxContextItems]
	}

	parts := make([]string, len(candidates))
	for i, c := range candidates {
		parts[i] = c.content
	}
	return strings.Join(parts, "\n\n"), nil
}

// buildMessages assembles the chat request: system prompt (with knowledge
// context appended when present), recent history oldest first, then the
// current query.
func (g *Generator) buildMessages(query, conversationID, contextBlock string) ([]Message, error) {
	persona, err := g.store.Setting(keySystemPrompt)
	if err != nil {
		return nil, fmt.Errorf("reading system prompt: %w", err)
	}

	system := persona
	if contextBlock != "" {
		system = persona + "\n\nRelevant Knowledge Base Context:\n" + contextBlock
	}

	messages := []Message{{Role: "system", Content: system}}

	since := g.now().Add(-historyWindow)
	history, err := g.store.ConversationMessages(conversationID, since, maxHistoryMessages)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	for _, m := range history {
		role := store.RoleUser
		if m.Role == store.RoleAssistant {
			role = store.RoleAssistant
		}
		messages = append(messages, Message{Role: role, Content: m.Content})
	}

	return append(messages, Message{Role: "user", Content: query}), nil
}

// cosineSimilarity computes the cosine similarity of two vectors. Mismatched
// lengths or a zero-magnitude vector score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
