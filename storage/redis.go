package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vultisig/vultisig-gather/config"
	"github.com/vultisig/vultisig-gather/contexthelper"
	"github.com/vultisig/vultisig-gather/model"
)

var _ Storage = (*RedisStorage)(nil)

type RedisStorage struct {
	cfg    config.RedisServer
	client *redis.Client
	opts   Options
}

// NewRedisStorage returns a new storage that use redis
func NewRedisStorage(cfg config.RedisServer, opts Options) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.User,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	status := client.Ping(context.Background())
	if status.Err() != nil {
		return nil, status.Err()
	}
	return &RedisStorage{
		cfg:    cfg,
		client: client,
		opts:   opts.withDefaults(),
	}, nil
}

// SetSession adds participants to a session, keeping the existing ones.
func (s *RedisStorage) SetSession(ctx context.Context, key string, participants []string) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	existingParticipants, err := s.GetSession(ctx, key)
	if err != nil {
		return fmt.Errorf("fail to get existing session %s, err: %w", key, err)
	}
	participantsToAdd := mergeParticipants(existingParticipants, participants)
	if len(participantsToAdd) > 0 {
		if result := s.client.RPush(ctx, key, participantsToAdd); result.Err() != nil {
			return fmt.Errorf("fail to set session %s, err: %w", key, result.Err())
		}
	}
	if result := s.client.Expire(ctx, key, s.opts.SessionExpiration); result.Err() != nil {
		return fmt.Errorf("fail to set expiration, err: %w", result.Err())
	}
	return nil
}

// GetSession gets a session with a list of participants.
func (s *RedisStorage) GetSession(ctx context.Context, key string) ([]string, error) {
	if contexthelper.CheckCancellation(ctx) != nil {
		return nil, ctx.Err()
	}
	result, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("fail to get session %s, err: %w", key, err)
	}
	return result, nil
}

// DeleteSession deletes a session.
func (s *RedisStorage) DeleteSession(ctx context.Context, key string) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	if result := s.client.Del(ctx, key); result.Err() != nil {
		return fmt.Errorf("fail to delete session %s, err: %w", key, result.Err())
	}
	return nil
}

// GetMessages gets the mailbox stored under key.
func (s *RedisStorage) GetMessages(ctx context.Context, key string) ([]model.Message, error) {
	if contexthelper.CheckCancellation(ctx) != nil {
		return nil, ctx.Err()
	}
	result, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("fail to get messages %s, err: %w", key, err)
	}
	var messages []model.Message
	for _, item := range result {
		var message model.Message
		if err := json.Unmarshal([]byte(item), &message); err != nil {
			return nil, fmt.Errorf("fail to unmarshal message, err: %w", err)
		}
		messages = append(messages, message)
	}
	return messages, nil
}

// SetMessage stores a message in a mailbox. A message for a slot that is
// already present replaces it in place.
func (s *RedisStorage) SetMessage(ctx context.Context, key string, message model.Message) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	existingMessages, err := s.GetMessages(ctx, key)
	if err != nil {
		return fmt.Errorf("fail to get existing messages, err: %w", err)
	}
	index, skip := placeMessage(existingMessages, message)
	if skip {
		return nil
	}
	buf, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("fail to marshal message, err: %w", err)
	}
	if index >= 0 {
		if err := s.client.LSet(ctx, key, int64(index), string(buf)).Err(); err != nil {
			return fmt.Errorf("fail to replace message, err: %w", err)
		}
	} else if err := s.client.RPush(ctx, key, string(buf)).Err(); err != nil {
		return fmt.Errorf("fail to set message, err: %w", err)
	}
	if result := s.client.Expire(ctx, key, s.opts.SessionExpiration); result.Err() != nil {
		return fmt.Errorf("fail to set expiration, err: %w", result.Err())
	}
	return nil
}

// DeleteMessages deletes a whole mailbox.
func (s *RedisStorage) DeleteMessages(ctx context.Context, key string) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	if status := s.client.Del(ctx, key); status.Err() != nil {
		return fmt.Errorf("fail to delete message, err: %w", status.Err())
	}
	return nil
}

// DeleteMessage deletes a message in the given key with hash equals to the given hash
func (s *RedisStorage) DeleteMessage(ctx context.Context, key, hash string) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	existingMessages, err := s.GetMessages(ctx, key)
	if err != nil {
		return fmt.Errorf("fail to get existing messages, err: %w", err)
	}
	var messageToRemove model.Message
	for _, m := range existingMessages {
		if m.Hash == hash {
			messageToRemove = m
			break
		}
	}
	if messageToRemove.Hash == "" {
		return nil
	}
	buf, err := json.Marshal(messageToRemove)
	if err != nil {
		return fmt.Errorf("fail to marshal message, err: %w", err)
	}
	if err := s.client.LRem(ctx, key, 1, string(buf)).Err(); err != nil {
		return fmt.Errorf("fail to delete message, err: %w", err)
	}
	if result := s.client.Expire(ctx, key, s.opts.SessionExpiration); result.Err() != nil {
		return fmt.Errorf("fail to set expiration, err: %w", result.Err())
	}
	return nil
}

func (s *RedisStorage) SetValue(ctx context.Context, key string, value string) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	if status := s.client.Set(ctx, key, value, s.opts.ValueExpiration); status.Err() != nil {
		return fmt.Errorf("fail to set value %s, err: %w", key, status.Err())
	}
	return nil
}

func (s *RedisStorage) GetValue(ctx context.Context, key string) (string, error) {
	if contexthelper.CheckCancellation(ctx) != nil {
		return "", ctx.Err()
	}
	result, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("fail to get value %s, err: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("fail to get value %s, err: %w", key, err)
	}
	return result, nil
}

func (s *RedisStorage) Close() error {
	return s.client.Close()
}
