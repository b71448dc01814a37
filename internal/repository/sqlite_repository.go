package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"lmdash/internal/model"
)

const activeConversationKey = "active_conversation_id"

type sqliteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) Repository {
	return &sqliteRepository{db: db}
}

func (r *sqliteRepository) CreateConversation(ctx context.Context, title string) (*model.Conversation, error) {
	if title == "" {
		title = model.DefaultTitle
	}
	now := time.Now().UTC()
	conv := &model.Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []model.ChatMessage{},
		ModelIDs:  []string{},
	}
	query := "INSERT INTO conversations (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)"
	if _, err := r.db.ExecContext(ctx, query, conv.ID, conv.Title, conv.CreatedAt, conv.UpdatedAt); err != nil {
		return nil, fmt.Errorf("could not insert conversation: %w", translateWriteError(err))
	}
	return conv, nil
}

func (r *sqliteRepository) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	query := "SELECT id, title, created_at, updated_at FROM conversations WHERE id = ?"
	var conv model.Conversation
	err := r.db.QueryRowContext(ctx, query, id).Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if conv.Messages, err = r.messages(ctx, id); err != nil {
		return nil, err
	}
	if err := r.participants(ctx, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *sqliteRepository) messages(ctx context.Context, conversationID string) ([]model.ChatMessage, error) {
	query := `
		SELECT id, role, content, model_id, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`
	rows, err := r.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []model.ChatMessage{}
	for rows.Next() {
		var msg model.ChatMessage
		var modelID sql.NullString
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &modelID, &msg.CreatedAt); err != nil {
			return nil, err
		}
		if modelID.Valid {
			msg.ModelID = &modelID.String
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (r *sqliteRepository) participants(ctx context.Context, conv *model.Conversation) error {
	query := "SELECT model_id, cleared_at FROM conversation_models WHERE conversation_id = ? ORDER BY model_id"
	rows, err := r.db.QueryContext(ctx, query, conv.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	conv.ModelIDs = []string{}
	for rows.Next() {
		var modelID string
		var clearedAt sql.NullTime
		if err := rows.Scan(&modelID, &clearedAt); err != nil {
			return err
		}
		conv.ModelIDs = append(conv.ModelIDs, modelID)
		if clearedAt.Valid {
			if conv.ClearedAt == nil {
				conv.ClearedAt = make(map[string]time.Time)
			}
			conv.ClearedAt[modelID] = clearedAt.Time
		}
	}
	return rows.Err()
}

// AppendMessage inserts the message and bumps the conversation in a single
// transaction. Ordering comes from the autoincrement seq column, so
// concurrent appends never need a read-modify-write of the message list.
func (r *sqliteRepository) AppendMessage(ctx context.Context, conversationID string, msg model.ChatMessage) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", translateWriteError(err))
	}
	// Ensure transaction is rolled back on error
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "UPDATE conversations SET updated_at = ? WHERE id = ?", time.Now().UTC(), conversationID)
	if err != nil {
		return fmt.Errorf("could not update conversation timestamp: %w", translateWriteError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	insertMsgQuery := `
		INSERT INTO messages (id, conversation_id, role, content, model_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, insertMsgQuery, msg.ID, conversationID, msg.Role, msg.Content, msg.ModelID, msg.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("could not insert message: %w", translateWriteError(err))
	}

	if msg.ModelID != nil {
		participantQuery := "INSERT INTO conversation_models (conversation_id, model_id) VALUES (?, ?) ON CONFLICT DO NOTHING"
		if _, err := tx.ExecContext(ctx, participantQuery, conversationID, *msg.ModelID); err != nil {
			return fmt.Errorf("could not record participant: %w", translateWriteError(err))
		}
	}

	return translateWriteError(tx.Commit())
}

func (r *sqliteRepository) ListConversations(ctx context.Context) ([]model.ConversationSummary, error) {
	query := `
		SELECT c.id, c.title, c.created_at, c.updated_at,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c
		ORDER BY c.updated_at DESC, c.rowid DESC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := []model.ConversationSummary{}
	index := make(map[string]int)
	for rows.Next() {
		var s model.ConversationSummary
		if err := rows.Scan(&s.ID, &s.Title, &s.CreatedAt, &s.UpdatedAt, &s.MessageCount); err != nil {
			return nil, err
		}
		s.ModelIDs = []string{}
		index[s.ID] = len(summaries)
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	modelRows, err := r.db.QueryContext(ctx, "SELECT conversation_id, model_id FROM conversation_models ORDER BY model_id")
	if err != nil {
		return nil, err
	}
	defer modelRows.Close()
	for modelRows.Next() {
		var convID, modelID string
		if err := modelRows.Scan(&convID, &modelID); err != nil {
			return nil, err
		}
		if i, ok := index[convID]; ok {
			summaries[i].ModelIDs = append(summaries[i].ModelIDs, modelID)
		}
	}
	return summaries, modelRows.Err()
}

func (r *sqliteRepository) DeleteConversation(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqliteRepository) DeleteAllConversations(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM conversations"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM app_state WHERE key = ?", activeConversationKey); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *sqliteRepository) SetClearedAt(ctx context.Context, conversationID, modelID string, at time.Time) error {
	query := `
		INSERT INTO conversation_models (conversation_id, model_id, cleared_at) VALUES (?, ?, ?)
		ON CONFLICT (conversation_id, model_id) DO UPDATE SET cleared_at = excluded.cleared_at
	`
	_, err := r.db.ExecContext(ctx, query, conversationID, modelID, at.UTC())
	if err != nil {
		var exists bool
		if qerr := r.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM conversations WHERE id = ?)", conversationID).Scan(&exists); qerr == nil && !exists {
			return ErrNotFound
		}
		return translateWriteError(err)
	}
	return nil
}

func (r *sqliteRepository) EvictOldest(ctx context.Context, keep ...string) (string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id FROM conversations ORDER BY updated_at ASC, rowid ASC")
	if err != nil {
		return "", err
	}
	var victim string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return "", err
		}
		if !slices.Contains(keep, id) {
			victim = id
			break
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", err
	}
	if victim == "" {
		return "", ErrNotFound
	}
	if err := r.DeleteConversation(ctx, victim); err != nil {
		return "", err
	}
	return victim, nil
}

func (r *sqliteRepository) SetActiveConversationID(ctx context.Context, id string) error {
	query := `
		INSERT INTO app_state (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`
	_, err := r.db.ExecContext(ctx, query, activeConversationKey, id)
	return translateWriteError(err)
}

func (r *sqliteRepository) GetActiveConversationID(ctx context.Context) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM app_state WHERE key = ?", activeConversationKey).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}
