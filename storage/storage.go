package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vultisig/vultisig-gather/model"
)

var ErrNotFound = errors.New("not found")

// Storage is an interface that defines the methods to be implemented by a storage.
type Storage interface {
	SetSession(ctx context.Context, key string, participants []string) error
	GetSession(ctx context.Context, key string) ([]string, error)
	DeleteSession(ctx context.Context, key string) error
	GetMessages(ctx context.Context, key string) ([]model.Message, error)
	SetMessage(ctx context.Context, key string, message model.Message) error
	DeleteMessages(ctx context.Context, key string) error
	DeleteMessage(ctx context.Context, key string, hash string) error
	SetValue(ctx context.Context, key string, value string) error
	GetValue(ctx context.Context, key string) (string, error)
	Close() error
}

// Options controls how long stored entries live.
type Options struct {
	// SessionExpiration applies to participant lists and mailboxes.
	SessionExpiration time.Duration
	// ValueExpiration applies to plain values such as barrier verdicts and poll results.
	ValueExpiration time.Duration
}

func (o Options) withDefaults() Options {
	if o.SessionExpiration <= 0 {
		o.SessionExpiration = time.Minute * 5
	}
	if o.ValueExpiration <= 0 {
		o.ValueExpiration = time.Hour
	}
	return o
}

// MailboxKey is the key of a participant's mailbox inside a session.
func MailboxKey(sessionID, participantID, messageID string) string {
	if messageID != "" {
		return fmt.Sprintf("%s-%s-%s", sessionID, participantID, messageID)
	}
	return fmt.Sprintf("%s-%s", sessionID, participantID)
}

// PrefixedKey namespaces a session key, e.g. "start-<id>" or "complete-<id>".
func PrefixedKey(prefix, sessionID string) string {
	return fmt.Sprintf("%s-%s", prefix, sessionID)
}

// mergeParticipants returns the participants not yet in existing.
func mergeParticipants(existing, participants []string) []string {
	var participantsToAdd []string
	for _, p := range participants {
		needAdd := true
		for _, existingP := range existing {
			if p == existingP {
				needAdd = false
				break
			}
		}
		for _, added := range participantsToAdd {
			if p == added {
				needAdd = false
				break
			}
		}
		// add the participant if it does not exist
		if needAdd {
			participantsToAdd = append(participantsToAdd, p)
		}
	}
	return participantsToAdd
}

// placeMessage finds where message goes in a mailbox: -1 to append, the index
// of the message it replaces, or skip=true when an identical copy is present.
func placeMessage(existing []model.Message, message model.Message) (index int, skip bool) {
	for i, m := range existing {
		if m.Hash == message.Hash {
			return i, true
		}
		if message.SlotID != "" && m.SlotID == message.SlotID {
			return i, false
		}
	}
	return -1, false
}
