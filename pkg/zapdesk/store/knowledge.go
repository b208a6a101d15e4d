package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// KnowledgeItem is one curated knowledge entry with its embedding.
// Embeddings are stored as a JSON array of floats and recomputed whenever
// the content changes.
type KnowledgeItem struct {
	ID           int64     `json:"id"`
	CategoryID   *int64    `json:"category_id,omitempty"`
	CategoryName string    `json:"category_name,omitempty"`
	Content      string    `json:"content"`
	Embedding    []float32 `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Category groups knowledge items. Deleting a category orphans its items
// (category_id set NULL) rather than deleting them.
type Category struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// InsertKnowledge stores a new knowledge item with its embedding.
func (s *Store) InsertKnowledge(categoryID *int64, content string, embedding []float32) (int64, error) {
	emb, err := json.Marshal(embedding)
	if err != nil {
		return 0, fmt.Errorf("encode embedding: %w", err)
	}
	res, err := s.db.Exec(
		"INSERT INTO knowledge (category_id, content, embedding) VALUES (?, ?, ?)",
		categoryID, content, string(emb))
	if err != nil {
		return 0, fmt.Errorf("insert knowledge: %w", err)
	}
	return res.LastInsertId()
}

// UpdateKnowledge replaces an item's content and embedding together.
func (s *Store) UpdateKnowledge(id int64, content string, embedding []float32) error {
	emb, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	if _, err := s.db.Exec(
		"UPDATE knowledge SET content = ?, embedding = ? WHERE id = ?",
		content, string(emb), id,
	); err != nil {
		return fmt.Errorf("update knowledge %d: %w", id, err)
	}
	return nil
}

// DeleteKnowledge removes a knowledge item.
func (s *Store) DeleteKnowledge(id int64) error {
	if _, err := s.db.Exec("DELETE FROM knowledge WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete knowledge %d: %w", id, err)
	}
	return nil
}

// KnowledgeEmbeddings returns every item with its decoded embedding, in
// insertion order. Items with missing or corrupt embeddings come back with
// a nil vector (the retriever skips them).
func (s *Store) KnowledgeEmbeddings() ([]KnowledgeItem, error) {
	rows, err := s.db.Query("SELECT id, content, embedding FROM knowledge ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query knowledge embeddings: %w", err)
	}
	defer rows.Close()

	var out []KnowledgeItem
	for rows.Next() {
		var item KnowledgeItem
		var emb sql.NullString
		if err := rows.Scan(&item.ID, &item.Content, &emb); err != nil {
			return nil, fmt.Errorf("scan knowledge: %w", err)
		}
		if emb.Valid && emb.String != "" {
			// Corrupt embeddings are tolerated, not fatal.
			_ = json.Unmarshal([]byte(emb.String), &item.Embedding)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// ListKnowledge returns all items with category names joined, newest first.
func (s *Store) ListKnowledge() ([]KnowledgeItem, error) {
	rows, err := s.db.Query(`
		SELECT k.id, k.category_id, COALESCE(c.name, ''), k.content, k.created_at
		FROM knowledge k
		LEFT JOIN categories c ON k.category_id = c.id
		ORDER BY k.created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list knowledge: %w", err)
	}
	defer rows.Close()

	var out []KnowledgeItem
	for rows.Next() {
		var item KnowledgeItem
		var catID sql.NullInt64
		if err := rows.Scan(&item.ID, &catID, &item.CategoryName, &item.Content, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan knowledge: %w", err)
		}
		if catID.Valid {
			item.CategoryID = &catID.Int64
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// InsertCategory creates a category.
func (s *Store) InsertCategory(name, description string) (int64, error) {
	res, err := s.db.Exec(
		"INSERT INTO categories (name, description) VALUES (?, ?)", name, description)
	if err != nil {
		return 0, fmt.Errorf("insert category %q: %w", name, err)
	}
	return res.LastInsertId()
}

// DeleteCategory removes a category; items referencing it keep existing with
// a NULL category.
func (s *Store) DeleteCategory(id int64) error {
	if _, err := s.db.Exec("DELETE FROM categories WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete category %d: %w", id, err)
	}
	return nil
}

// ListCategories returns all categories.
func (s *Store) ListCategories() ([]Category, error) {
	rows, err := s.db.Query("SELECT id, name, COALESCE(description, '') FROM categories ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
