package webui

import (
	"net/http"
	"strconv"
)

// ── Settings ──

func (s *Server) handleSettingsList(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.AllSettings()
	if err != nil {
		s.logger.Error("listing settings failed", "error", err)
		writeError(w, http.StatusInternalServerError, "listing settings failed")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// handleSettingsUpdate applies a bulk key/value update in one transaction.
func (s *Server) handleSettingsUpdate(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "no settings provided")
		return
	}
	if err := s.store.SetSettings(body); err != nil {
		s.logger.Error("updating settings failed", "error", err)
		writeError(w, http.StatusInternalServerError, "updating settings failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ── Categories ──

func (s *Server) handleCategoriesList(w http.ResponseWriter, r *http.Request) {
	categories, err := s.store.ListCategories()
	if err != nil {
		s.logger.Error("listing categories failed", "error", err)
		writeError(w, http.StatusInternalServerError, "listing categories failed")
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

func (s *Server) handleCategoryCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := readJSON(r, &body); err != nil || body.Name == "" {
		writeError(w, http.StatusBadRequest, "category name is required")
		return
	}
	id, err := s.store.InsertCategory(body.Name, body.Description)
	if err != nil {
		s.logger.Error("creating category failed", "error", err)
		writeError(w, http.StatusInternalServerError, "creating category failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) handleCategoryDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid category id")
		return
	}
	if err := s.store.DeleteCategory(id); err != nil {
		s.logger.Error("deleting category failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "deleting category failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ── Knowledge ──

func (s *Server) handleKnowledgeList(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ListKnowledge()
	if err != nil {
		s.logger.Error("listing knowledge failed", "error", err)
		writeError(w, http.StatusInternalServerError, "listing knowledge failed")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleKnowledgeCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CategoryID *int64 `json:"category_id"`
		Content    string `json:"content"`
	}
	if err := readJSON(r, &body); err != nil || body.Content == "" {
		writeError(w, http.StatusBadRequest, "knowledge content is required")
		return
	}

	// An embedding failure stores the item without a vector; the retriever
	// skips it until the content is re-saved.
	embedding, err := s.embedder.Embed(r.Context(), body.Content)
	if err != nil {
		s.logger.Warn("embedding knowledge failed, storing without vector", "error", err)
	}

	id, err := s.store.InsertKnowledge(body.CategoryID, body.Content, embedding)
	if err != nil {
		s.logger.Error("creating knowledge failed", "error", err)
		writeError(w, http.StatusInternalServerError, "creating knowledge failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) handleKnowledgeUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid knowledge id")
		return
	}
	var body struct {
		Content string `json:"content"`
	}
	if err := readJSON(r, &body); err != nil || body.Content == "" {
		writeError(w, http.StatusBadRequest, "knowledge content is required")
		return
	}

	embedding, err := s.embedder.Embed(r.Context(), body.Content)
	if err != nil {
		s.logger.Warn("embedding knowledge failed, storing without vector", "error", err)
	}

	if err := s.store.UpdateKnowledge(id, body.Content, embedding); err != nil {
		s.logger.Error("updating knowledge failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "updating knowledge failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleKnowledgeDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid knowledge id")
		return
	}
	if err := s.store.DeleteKnowledge(id); err != nil {
		s.logger.Error("deleting knowledge failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "deleting knowledge failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ── Sessions ──

func (s *Server) handleSessionsList(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.sessions.Statuses()
	if err != nil {
		s.logger.Error("listing sessions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "listing sessions failed")
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID          string `json:"id"`
		Description string `json:"description"`
	}
	if err := readJSON(r, &body); err != nil || body.ID == "" {
		writeError(w, http.StatusBadRequest, "session id is required")
		return
	}
	if err := s.sessions.Create(r.Context(), body.ID, body.Description); err != nil {
		s.logger.Error("creating session failed", "session", body.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "creating session failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "session id is required")
		return
	}
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		s.logger.Error("deleting session failed", "session", id, "error", err)
		writeError(w, http.StatusInternalServerError, "deleting session failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ── Conversations ──

func (s *Server) handleConversationsList(w http.ResponseWriter, r *http.Request) {
	conversations, err := s.store.Conversations()
	if err != nil {
		s.logger.Error("listing conversations failed", "error", err)
		writeError(w, http.StatusInternalServerError, "listing conversations failed")
		return
	}
	writeJSON(w, http.StatusOK, conversations)
}

func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "conversation id is required")
		return
	}
	messages, err := s.store.AllConversationMessages(id)
	if err != nil {
		s.logger.Error("loading conversation failed", "conversation", id, "error", err)
		writeError(w, http.StatusInternalServerError, "loading conversation failed")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// pathID parses the {id} path segment as an int64.
func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}
