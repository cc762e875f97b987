package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"studyrag/internal/model"
)

// ConversationCache keeps recent question/answer turns per conversation so
// conversational queries can stay on-topic across requests.
type ConversationCache struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewConversationCache(client *redisv9.Client, ttl time.Duration) *ConversationCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ConversationCache{client: client, ttl: ttl}
}

// GetHistory returns the cached turns for the conversation; a missing key is
// an empty history, not an error.
func (c *ConversationCache) GetHistory(ctx context.Context, userID uint, conversationID string) ([]model.ConversationTurn, error) {
	raw, err := c.client.Get(ctx, c.key(userID, conversationID)).Result()
	if err == redisv9.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get conversation failed: %w", err)
	}

	var turns []model.ConversationTurn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		return nil, fmt.Errorf("unmarshal cached conversation failed: %w", err)
	}
	return turns, nil
}

// AppendExchange stores the latest question/answer pair, keeping at most
// maxTurns entries.
func (c *ConversationCache) AppendExchange(ctx context.Context, userID uint, conversationID, question, answer string, maxTurns int) error {
	turns, err := c.GetHistory(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	turns = append(turns,
		model.ConversationTurn{Role: "user", Content: question},
		model.ConversationTurn{Role: "assistant", Content: answer},
	)
	if maxTurns > 0 && len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}

	payload, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("marshal conversation failed: %w", err)
	}
	if err := c.client.Set(ctx, c.key(userID, conversationID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set conversation failed: %w", err)
	}
	return nil
}

// Clear drops the conversation history.
func (c *ConversationCache) Clear(ctx context.Context, userID uint, conversationID string) error {
	if err := c.client.Del(ctx, c.key(userID, conversationID)).Err(); err != nil {
		return fmt.Errorf("redis delete conversation failed: %w", err)
	}
	return nil
}

func (c *ConversationCache) key(userID uint, conversationID string) string {
	return fmt.Sprintf("study:conversation:%d:%s", userID, conversationID)
}
