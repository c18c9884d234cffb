package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/vultisig/vultisig-gather/contexthelper"
	"github.com/vultisig/vultisig-gather/model"
)

var _ Storage = (*MemoryStorage)(nil)

// MemoryStorage keeps sessions, mailboxes and values in process memory with
// the same expiration rules as RedisStorage.
type MemoryStorage struct {
	// mu serializes read-modify-write sequences on lists.
	mu    sync.Mutex
	cache *cache.Cache
	opts  Options
}

// NewMemoryStorage returns a new storage backed by go-cache.
func NewMemoryStorage(opts Options) *MemoryStorage {
	opts = opts.withDefaults()
	return &MemoryStorage{
		cache: cache.New(opts.SessionExpiration, time.Minute),
		opts:  opts,
	}
}

func (s *MemoryStorage) SetSession(ctx context.Context, key string, participants []string) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.sessionLocked(key)
	updated := append(existing, mergeParticipants(existing, participants)...)
	s.cache.Set(key, updated, s.opts.SessionExpiration)
	return nil
}

func (s *MemoryStorage) GetSession(ctx context.Context, key string) ([]string, error) {
	if contexthelper.CheckCancellation(ctx) != nil {
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionLocked(key), nil
}

func (s *MemoryStorage) sessionLocked(key string) []string {
	v, ok := s.cache.Get(key)
	if !ok {
		return nil
	}
	participants, ok := v.([]string)
	if !ok {
		return nil
	}
	return append([]string(nil), participants...)
}

func (s *MemoryStorage) DeleteSession(ctx context.Context, key string) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	s.cache.Delete(key)
	return nil
}

func (s *MemoryStorage) GetMessages(ctx context.Context, key string) ([]model.Message, error) {
	if contexthelper.CheckCancellation(ctx) != nil {
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messagesLocked(key), nil
}

func (s *MemoryStorage) messagesLocked(key string) []model.Message {
	v, ok := s.cache.Get(key)
	if !ok {
		return nil
	}
	messages, ok := v.([]model.Message)
	if !ok {
		return nil
	}
	return append([]model.Message(nil), messages...)
}

func (s *MemoryStorage) SetMessage(ctx context.Context, key string, message model.Message) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	messages := s.messagesLocked(key)
	index, skip := placeMessage(messages, message)
	if skip {
		return nil
	}
	if index >= 0 {
		messages[index] = message
	} else {
		messages = append(messages, message)
	}
	s.cache.Set(key, messages, s.opts.SessionExpiration)
	return nil
}

func (s *MemoryStorage) DeleteMessages(ctx context.Context, key string) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	s.cache.Delete(key)
	return nil
}

func (s *MemoryStorage) DeleteMessage(ctx context.Context, key, hash string) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	messages := s.messagesLocked(key)
	for i, m := range messages {
		if m.Hash == hash {
			messages = append(messages[:i], messages[i+1:]...)
			s.cache.Set(key, messages, s.opts.SessionExpiration)
			return nil
		}
	}
	return nil
}

func (s *MemoryStorage) SetValue(ctx context.Context, key string, value string) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	s.cache.Set(key, value, s.opts.ValueExpiration)
	return nil
}

func (s *MemoryStorage) GetValue(ctx context.Context, key string) (string, error) {
	if contexthelper.CheckCancellation(ctx) != nil {
		return "", ctx.Err()
	}
	v, ok := s.cache.Get(key)
	if !ok {
		return "", fmt.Errorf("fail to get value %s, err: %w", key, ErrNotFound)
	}
	value, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("fail to get value %s, err: %w", key, ErrNotFound)
	}
	return value, nil
}

func (s *MemoryStorage) Close() error {
	s.cache.Flush()
	return nil
}
