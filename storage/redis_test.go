package storage

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/vultisig/vultisig-gather/config"
	"github.com/vultisig/vultisig-gather/model"
)

// Runs against a live server only when REDIS_ADDR is set.
func TestRedisMessagesReplaceBySlot(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	s, err := NewRedisStorage(config.RedisServer{Addr: addr}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()
	key := MailboxKey(uuid.NewString(), "alice", "")
	defer s.DeleteMessages(ctx, key)

	if err := s.SetMessage(ctx, key, model.Message{SlotID: "a", Body: "one", Hash: "h1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetMessage(ctx, key, model.Message{SlotID: "a", Body: "two", Hash: "h2"}); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetMessages(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Body != "two" {
		t.Fatalf("unexpected mailbox %+v", got)
	}
}
