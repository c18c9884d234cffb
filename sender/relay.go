package sender

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/vultisig/vultisig-gather/alias"
	"github.com/vultisig/vultisig-gather/contexthelper"
	"github.com/vultisig/vultisig-gather/model"
	"github.com/vultisig/vultisig-gather/storage"
)

var _ Backend = (*Relay)(nil)

type RelayOptions struct {
	// From is stamped on every message.
	From string
	// MaxBodyLength splits longer bodies into continuation messages. Zero
	// disables splitting.
	MaxBodyLength int
	// NativeChoices keeps option lists structured. Otherwise they are
	// rendered into the body as numbered text.
	NativeChoices bool
}

// Relay is a Backend that delivers rendered slots into participant
// mailboxes, where relay clients poll for them.
//
// A slot location is either a session id, delivering to every participant of
// the session, or DirectLocation(session, participant).
type Relay struct {
	store storage.Storage
	opts  RelayOptions
	seq   atomic.Uint64
}

func NewRelay(store storage.Storage, opts RelayOptions) *Relay {
	if opts.From == "" {
		opts.From = "relay"
	}
	return &Relay{store: store, opts: opts}
}

var relayCombinations = []model.Capability{
	model.CapText | model.CapOptions,
	model.CapText | model.CapAttachments,
	model.CapText | model.CapReference,
}

func (r *Relay) Name() string {
	return "relay"
}

func (r *Relay) Supports(c model.Capability) bool {
	if bits.OnesCount8(uint8(c)) == 1 {
		return true
	}
	for _, combo := range relayCombinations {
		if c == combo {
			return true
		}
	}
	return false
}

func (r *Relay) Allocate(ctx context.Context, location string, n int) ([]model.Slot, error) {
	if contexthelper.CheckCancellation(ctx) != nil {
		return nil, ctx.Err()
	}
	slots := make([]model.Slot, 0, n)
	for i := 0; i < n; i++ {
		slots = append(slots, model.Slot{ID: uuid.NewString(), Location: location})
	}
	return slots, nil
}

func (r *Relay) Render(ctx context.Context, slot model.Slot, s model.Sendable) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	sessionID, participant := ParseLocation(slot.Location)
	if sessionID == "" {
		return fmt.Errorf("slot %s has no location", slot.ID)
	}
	recipients := []string{participant}
	if participant == "" {
		var err error
		recipients, err = r.store.GetSession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("fail to get session %s, err: %w", sessionID, err)
		}
	}

	text, _ := s.Text()
	rec := alias.Record{
		ID:          slot.ID,
		Content:     text,
		Attachments: s.Attachments(),
		Location:    slot.Location,
		Visibility:  model.ParticipantIDs(recipients...),
	}
	if ref := s.Reference(); ref != nil {
		if first := ref.Slots(); len(first) > 0 {
			rec.ReplyTo = first[0].ID
		}
	}
	view := alias.NewBase(rec)
	options, hasOptions := s.Options()
	if hasOptions && !r.opts.NativeChoices {
		view = alias.AnnotateChoices(view, options.Options)
	}
	parts := alias.Split(view, r.opts.MaxBodyLength)
	for i, part := range parts {
		if i > 0 {
			part.SetID(slot.ID + "/" + strconv.Itoa(i))
		}
	}

	for i, part := range parts {
		for _, recipientView := range alias.PerRecipient(part, DirectLocation) {
			pr := recipientView.Record()
			recipient := string(pr.Visibility[0])
			msg := model.Message{
				SessionID: sessionID,
				SlotID:    part.ID(),
				From:      r.opts.From,
				To:        []string{recipient},
				Kind:      s.Capabilities().String(),
				Body:      pr.Content,
				ReplyTo:   pr.ReplyTo,
			}
			if i == 0 {
				msg.Attachments = pr.Attachments
				if tf, ok := s.TextField(); ok {
					msg.Hint = tf.Hint
				}
				if hasOptions {
					msg.MinSelect, msg.MaxSelect = options.Min, options.Max
					if r.opts.NativeChoices {
						msg.Options = options.Options
					}
				}
			}
			hash, err := messageHash(msg)
			if err != nil {
				return err
			}
			msg.Hash = hash
			msg.SequenceNo = r.seq.Add(1)
			_, mailbox := ParseLocation(pr.Location)
			if err := r.store.SetMessage(ctx, storage.MailboxKey(sessionID, mailbox, ""), msg); err != nil {
				return fmt.Errorf("fail to deliver slot %s to %s, err: %w", msg.SlotID, mailbox, err)
			}
		}
	}
	return nil
}

// FormatParticipant renders a plain participant name.
func (r *Relay) FormatParticipant(id model.ParticipantID) string {
	return string(id)
}

// FormatParticipantMarkup renders a mention that relay clients highlight.
func (r *Relay) FormatParticipantMarkup(id model.ParticipantID) string {
	return "@" + string(id)
}

// DirectLocation addresses a single participant's mailbox within a session.
func DirectLocation(sessionID string, participant model.ParticipantID) string {
	session, _ := ParseLocation(sessionID)
	return session + ":" + string(participant)
}

// ParseLocation splits a location into session and optional participant.
func ParseLocation(location string) (sessionID, participant string) {
	sessionID, participant, _ = strings.Cut(location, ":")
	return sessionID, participant
}

// messageHash identifies a rendered message by slot and content, excluding
// its sequence number.
func messageHash(msg model.Message) (string, error) {
	msg.Hash = ""
	msg.SequenceNo = 0
	buf, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("fail to marshal message, err: %w", err)
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:]), nil
}
