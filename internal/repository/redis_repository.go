package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"lmdash/internal/model"
)

// maxTxAttempts bounds optimistic retries when a watched conversation
// changes under a write. Concurrent appends from every model hit the same key.
const maxTxAttempts = 20

type redisRepository struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisRepository stores conversations under keys starting with prefix.
// An empty prefix defaults to "lmdash".
func NewRedisRepository(rdb *redis.Client, prefix string) Repository {
	if prefix == "" {
		prefix = "lmdash"
	}
	return &redisRepository{rdb: rdb, prefix: prefix}
}

// Key Generation Helpers
func (r *redisRepository) conversationKey(id string) string {
	return fmt.Sprintf("%s:conversation:%s", r.prefix, id)
}
func (r *redisRepository) messagesKey(id string) string {
	return fmt.Sprintf("%s:conversation:%s:messages", r.prefix, id)
}
func (r *redisRepository) modelsKey(id string) string {
	return fmt.Sprintf("%s:conversation:%s:models", r.prefix, id)
}
func (r *redisRepository) indexKey() string  { return r.prefix + ":conversations" }
func (r *redisRepository) activeKey() string { return r.prefix + ":active_conversation" }

// indexScore orders the conversation index so that ZRange returns the most
// recently updated conversation first.
func indexScore(t time.Time) float64 { return float64(-t.UnixNano()) }

// --- Conversation Operations ---
func (r *redisRepository) CreateConversation(ctx context.Context, title string) (*model.Conversation, error) {
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
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, r.conversationKey(conv.ID),
		"id", conv.ID,
		"title", conv.Title,
		"created_at", now.Format(time.RFC3339Nano),
		"updated_at", now.Format(time.RFC3339Nano),
	)
	pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: indexScore(now), Member: conv.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("could not store conversation: %w", translateWriteError(err))
	}
	return conv, nil
}

func (r *redisRepository) header(ctx context.Context, id string) (*model.Conversation, error) {
	fields, err := r.rdb.HGetAll(ctx, r.conversationKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	conv := &model.Conversation{ID: fields["id"], Title: fields["title"]}
	if conv.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return nil, fmt.Errorf("bad created_at on conversation %s: %w", id, err)
	}
	if conv.UpdatedAt, err = time.Parse(time.RFC3339Nano, fields["updated_at"]); err != nil {
		return nil, fmt.Errorf("bad updated_at on conversation %s: %w", id, err)
	}
	return conv, nil
}

func (r *redisRepository) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	conv, err := r.header(ctx, id)
	if err != nil {
		return nil, err
	}

	raw, err := r.rdb.LRange(ctx, r.messagesKey(id), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	conv.Messages = make([]model.ChatMessage, 0, len(raw))
	for _, item := range raw {
		var msg model.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("bad message in conversation %s: %w", id, err)
		}
		conv.Messages = append(conv.Messages, msg)
	}

	models, err := r.rdb.HGetAll(ctx, r.modelsKey(id)).Result()
	if err != nil {
		return nil, err
	}
	conv.ModelIDs = make([]string, 0, len(models))
	for modelID, clearedAt := range models {
		conv.ModelIDs = append(conv.ModelIDs, modelID)
		if clearedAt == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, clearedAt)
		if err != nil {
			return nil, fmt.Errorf("bad cleared_at for model %s: %w", modelID, err)
		}
		if conv.ClearedAt == nil {
			conv.ClearedAt = make(map[string]time.Time)
		}
		conv.ClearedAt[modelID] = t
	}
	sort.Strings(conv.ModelIDs)
	return conv, nil
}

// AppendMessage relies on RPUSH being atomic, so concurrent appends to the
// same conversation keep their arrival order without extra locking.
func (r *redisRepository) AppendMessage(ctx context.Context, conversationID string, msg model.ChatMessage) error {
	msg.CreatedAt = msg.CreatedAt.UTC()
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("could not encode message: %w", err)
	}
	return r.updateConversation(ctx, conversationID, func(pipe redis.Pipeliner) {
		now := time.Now().UTC()
		pipe.RPush(ctx, r.messagesKey(conversationID), data)
		pipe.HSet(ctx, r.conversationKey(conversationID), "updated_at", now.Format(time.RFC3339Nano))
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: indexScore(now), Member: conversationID})
		if msg.ModelID != nil {
			pipe.HSetNX(ctx, r.modelsKey(conversationID), *msg.ModelID, "")
		}
	})
}

// updateConversation queues writes against an existing conversation. The
// conversation hash is watched, so a concurrent delete either lands first
// and yields ErrNotFound or aborts the transaction, which is retried.
func (r *redisRepository) updateConversation(ctx context.Context, id string, queue func(pipe redis.Pipeliner)) error {
	key := r.conversationKey(id)
	txf := func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			queue(pipe)
			return nil
		})
		return err
	}

	for range maxTxAttempts {
		err := r.rdb.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return translateWriteError(err)
		}
	}
	return fmt.Errorf("conversation %s changed during %d write attempts: %w", id, maxTxAttempts, redis.TxFailedErr)
}

func (r *redisRepository) ListConversations(ctx context.Context) ([]model.ConversationSummary, error) {
	ids, err := r.rdb.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	summaries := make([]model.ConversationSummary, 0, len(ids))
	for _, id := range ids {
		conv, err := r.header(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		count, err := r.rdb.LLen(ctx, r.messagesKey(id)).Result()
		if err != nil {
			return nil, err
		}
		modelIDs, err := r.rdb.HKeys(ctx, r.modelsKey(id)).Result()
		if err != nil {
			return nil, err
		}
		sort.Strings(modelIDs)
		summaries = append(summaries, model.ConversationSummary{
			ID:           conv.ID,
			Title:        conv.Title,
			CreatedAt:    conv.CreatedAt,
			UpdatedAt:    conv.UpdatedAt,
			MessageCount: int(count),
			ModelIDs:     modelIDs,
		})
	}
	return summaries, nil
}

func (r *redisRepository) DeleteConversation(ctx context.Context, id string) error {
	pipe := r.rdb.TxPipeline()
	del := pipe.Del(ctx, r.conversationKey(id))
	pipe.Del(ctx, r.messagesKey(id), r.modelsKey(id))
	pipe.ZRem(ctx, r.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to execute conversation deletion pipeline: %w", err)
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *redisRepository) DeleteAllConversations(ctx context.Context) error {
	ids, err := r.rdb.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return err
	}
	keys := make([]string, 0, 3*len(ids)+2)
	for _, id := range ids {
		keys = append(keys, r.conversationKey(id), r.messagesKey(id), r.modelsKey(id))
	}
	keys = append(keys, r.indexKey(), r.activeKey())
	return r.rdb.Del(ctx, keys...).Err()
}

func (r *redisRepository) SetClearedAt(ctx context.Context, conversationID, modelID string, at time.Time) error {
	return r.updateConversation(ctx, conversationID, func(pipe redis.Pipeliner) {
		pipe.HSet(ctx, r.modelsKey(conversationID), modelID, at.UTC().Format(time.RFC3339Nano))
	})
}

func (r *redisRepository) EvictOldest(ctx context.Context, keep ...string) (string, error) {
	ids, err := r.rdb.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return "", err
	}
	for i := len(ids) - 1; i >= 0; i-- {
		if slices.Contains(keep, ids[i]) {
			continue
		}
		if err := r.DeleteConversation(ctx, ids[i]); err != nil && !errors.Is(err, ErrNotFound) {
			return "", err
		}
		return ids[i], nil
	}
	return "", ErrNotFound
}

func (r *redisRepository) SetActiveConversationID(ctx context.Context, id string) error {
	return translateWriteError(r.rdb.Set(ctx, r.activeKey(), id, 0).Err())
}

func (r *redisRepository) GetActiveConversationID(ctx context.Context) (string, error) {
	id, err := r.rdb.Get(ctx, r.activeKey()).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return id, err
}
