package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSeedDefaults(t *testing.T) {
	s := openTestStore(t)

	t.Run("admin user", func(t *testing.T) {
		u, err := s.UserByUsername("admin")
		require.NoError(t, err)
		assert.True(t, u.CheckPassword("admin123"))
		assert.False(t, u.CheckPassword("wrong"))
	})

	t.Run("settings", func(t *testing.T) {
		v, err := s.Setting("bot_enabled")
		require.NoError(t, err)
		assert.Equal(t, "true", v)

		v, err = s.Setting("openai_model")
		require.NoError(t, err)
		assert.Equal(t, "gpt-3.5-turbo", v)

		assert.Equal(t, 10000, s.SettingInt("token_limit_daily", 0))
	})

	t.Run("categories", func(t *testing.T) {
		cats, err := s.ListCategories()
		require.NoError(t, err)
		require.Len(t, cats, 4)
		assert.Equal(t, "Personal Information", cats[0].Name)
	})

	t.Run("reopen does not reseed", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "reopen.db")
		first, err := Open(path)
		require.NoError(t, err)
		require.NoError(t, first.SetSetting("bot_enabled", "false"))
		require.NoError(t, first.Close())

		second, err := Open(path)
		require.NoError(t, err)
		defer second.Close()
		assert.False(t, second.SettingBool("bot_enabled"))
	})
}

func TestSettings(t *testing.T) {
	s := openTestStore(t)

	t.Run("missing key errors", func(t *testing.T) {
		_, err := s.Setting("no_such_key")
		assert.Error(t, err)
	})

	t.Run("typed readers fall back on garbage", func(t *testing.T) {
		require.NoError(t, s.SetSetting("temperature", "not-a-number"))
		assert.Equal(t, 0.7, s.SettingFloat("temperature", 0.7))
		assert.Equal(t, 42, s.SettingInt("no_such_key", 42))
	})

	t.Run("bulk update", func(t *testing.T) {
		require.NoError(t, s.SetSettings(map[string]string{
			"schedule_start": "22:00",
			"schedule_end":   "06:00",
		}))
		v, err := s.Setting("schedule_start")
		require.NoError(t, err)
		assert.Equal(t, "22:00", v)

		all, err := s.AllSettings()
		require.NoError(t, err)
		assert.Equal(t, "06:00", all["schedule_end"])
	})
}

func TestBudget(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	t.Run("admitted under limit", func(t *testing.T) {
		s := openTestStore(t)
		require.NoError(t, s.SetSettings(map[string]string{
			"token_limit_daily": "1000",
			"tokens_used_today": "900",
			"last_token_reset":  now.Format(dateLayout),
		}))

		ok, err := s.ReserveBudget(100, now)
		require.NoError(t, err)
		assert.True(t, ok, "used+estimate == limit should be admitted")
		assert.Equal(t, 1000, s.SettingInt("tokens_used_today", -1),
			"admission charges the estimate immediately")

		ok, err = s.ReserveBudget(1, now)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("reservations gate concurrent callers", func(t *testing.T) {
		s := openTestStore(t)
		require.NoError(t, s.SetSettings(map[string]string{
			"token_limit_daily": "150",
			"tokens_used_today": "0",
			"last_token_reset":  now.Format(dateLayout),
		}))

		// Two callers check before either records real usage; the second
		// must gate against the first one's reservation.
		first, err := s.ReserveBudget(100, now)
		require.NoError(t, err)
		assert.True(t, first)

		second, err := s.ReserveBudget(100, now)
		require.NoError(t, err)
		assert.False(t, second, "second caller must see the reservation")

		// First caller settles at the provider-reported total.
		require.NoError(t, s.AddTokenUsage(120-100))
		used := s.SettingInt("tokens_used_today", -1)
		assert.Equal(t, 120, used)
		assert.LessOrEqual(t, used, 150)
	})

	t.Run("rollover resets counter", func(t *testing.T) {
		s := openTestStore(t)
		require.NoError(t, s.SetSettings(map[string]string{
			"token_limit_daily": "1000",
			"tokens_used_today": "1000",
			"last_token_reset":  "2026-08-28",
		}))

		ok, err := s.ReserveBudget(100, now)
		require.NoError(t, err)
		assert.True(t, ok, "a new day starts with a fresh budget")

		v, err := s.Setting("last_token_reset")
		require.NoError(t, err)
		assert.Equal(t, "2026-08-29", v)
		assert.Equal(t, 100, s.SettingInt("tokens_used_today", -1),
			"counter reset to zero, then the new reservation charged")
	})

	t.Run("usage accumulates", func(t *testing.T) {
		s := openTestStore(t)
		require.NoError(t, s.SetSetting("tokens_used_today", "10"))
		require.NoError(t, s.AddTokenUsage(250))
		require.NoError(t, s.AddTokenUsage(40))
		assert.Equal(t, 300, s.SettingInt("tokens_used_today", -1))
	})
}

func TestSessions(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.InsertSession("default", "Primary Device"))
	require.NoError(t, s.InsertSession("default", "duplicate is ignored"))

	sessions, err := s.ListSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "Primary Device", sessions[0].Description)

	require.NoError(t, s.DeleteSession("default"))
	require.NoError(t, s.DeleteSession("never-existed"))

	sessions, err = s.ListSessions()
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestMessages(t *testing.T) {
	s := openTestStore(t)

	conv := "5511999999999@s.whatsapp.net"
	require.NoError(t, s.AppendMessage(conv, "default", RoleUser, "hello"))
	require.NoError(t, s.AppendMessage(conv, "default", RoleAssistant, "hi there"))
	require.NoError(t, s.AppendMessage("other@s.whatsapp.net", "default", RoleUser, "unrelated"))

	t.Run("conversation scoped, oldest first", func(t *testing.T) {
		msgs, err := s.ConversationMessages(conv, time.Now().UTC().Add(-time.Hour), 20)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "hello", msgs[0].Content)
		assert.Equal(t, RoleUser, msgs[0].Role)
		assert.Equal(t, "hi there", msgs[1].Content)
	})

	t.Run("since in a non-UTC zone", func(t *testing.T) {
		// Row timestamps are stored without a zone offset; a bound time
		// carrying one must not shift the window by the offset.
		east := time.FixedZone("UTC+14", 14*60*60)
		msgs, err := s.ConversationMessages(conv, time.Now().Add(-time.Hour).In(east), 20)
		require.NoError(t, err)
		assert.Len(t, msgs, 2)
	})

	t.Run("since filter excludes old rows", func(t *testing.T) {
		msgs, err := s.ConversationMessages(conv, time.Now().UTC().Add(time.Hour), 20)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("full log", func(t *testing.T) {
		msgs, err := s.AllConversationMessages(conv)
		require.NoError(t, err)
		assert.Len(t, msgs, 2)
	})

	t.Run("conversation summaries", func(t *testing.T) {
		convs, err := s.Conversations()
		require.NoError(t, err)
		require.Len(t, convs, 2)
		for _, c := range convs {
			assert.NotEmpty(t, c.LastMessage)
		}
	})
}

func TestKnowledge(t *testing.T) {
	s := openTestStore(t)

	id, err := s.InsertKnowledge(nil, "opening hours are 9 to 5", []float32{0.1, 0.2})
	require.NoError(t, err)

	t.Run("embeddings roundtrip", func(t *testing.T) {
		items, err := s.KnowledgeEmbeddings()
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, []float32{0.1, 0.2}, items[0].Embedding)
	})

	t.Run("corrupt embedding tolerated", func(t *testing.T) {
		_, err := s.db.Exec("UPDATE knowledge SET embedding = 'not json' WHERE id = ?", id)
		require.NoError(t, err)

		items, err := s.KnowledgeEmbeddings()
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Nil(t, items[0].Embedding)
	})

	t.Run("update replaces content and vector", func(t *testing.T) {
		require.NoError(t, s.UpdateKnowledge(id, "we are open 24/7", []float32{0.9}))
		items, err := s.KnowledgeEmbeddings()
		require.NoError(t, err)
		assert.Equal(t, "we are open 24/7", items[0].Content)
		assert.Equal(t, []float32{0.9}, items[0].Embedding)
	})

	t.Run("category deletion orphans items", func(t *testing.T) {
		catID, err := s.InsertCategory("FAQ", "frequently asked")
		require.NoError(t, err)
		itemID, err := s.InsertKnowledge(&catID, "categorized", nil)
		require.NoError(t, err)

		require.NoError(t, s.DeleteCategory(catID))

		items, err := s.ListKnowledge()
		require.NoError(t, err)
		for _, item := range items {
			if item.ID == itemID {
				assert.Nil(t, item.CategoryID)
				assert.Empty(t, item.CategoryName)
			}
		}
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.DeleteKnowledge(id))
		items, err := s.KnowledgeEmbeddings()
		require.NoError(t, err)
		for _, item := range items {
			assert.NotEqual(t, id, item.ID)
		}
	})
}

func TestUsers(t *testing.T) {
	s := openTestStore(t)

	u, err := s.UserByUsername("admin")
	require.NoError(t, err)

	t.Run("unknown user", func(t *testing.T) {
		_, err := s.UserByUsername("ghost")
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("profile update", func(t *testing.T) {
		require.NoError(t, s.UpdateUserProfile(u.ID, "Administrator", "admin@example.com"))
		got, err := s.UserByID(u.ID)
		require.NoError(t, err)
		assert.Equal(t, "Administrator", got.DisplayName)
		assert.Equal(t, "admin@example.com", got.Email)
	})

	t.Run("password update", func(t *testing.T) {
		require.NoError(t, s.UpdateUserPassword(u.ID, "new-secret"))
		got, err := s.UserByID(u.ID)
		require.NoError(t, err)
		assert.True(t, got.CheckPassword("new-secret"))
		assert.False(t, got.CheckPassword("admin123"))
	})
}
