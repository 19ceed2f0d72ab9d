package tenalychat

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Composer builds outbound message payloads, assigns a correlation id for
// optimistic display, and hands them to the shared connection. A failed
// transmission marks the pending entry failed; it is never retried
// automatically; retry is a deliberate user action, to avoid duplicate
// sends on flaky connections.
type Composer struct {
	tx        transmitter
	timelines *TimelineStore
	self      string
	now       func() time.Time
	log       zerolog.Logger
}

// NewComposer creates a composer sending through tx on behalf of self.
func NewComposer(tx transmitter, timelines *TimelineStore, self string, log zerolog.Logger) *Composer {
	return &Composer{
		tx:        tx,
		timelines: timelines,
		self:      self,
		now:       time.Now,
		log:       log,
	}
}

// SendText sends a text message in the conversation. The returned Message is
// the optimistic entry already placed in the timeline; its State reports
// whether transmission succeeded.
func (c *Composer) SendText(ctx context.Context, conv Conversation, text string) (Message, error) {
	if strings.TrimSpace(text) == "" {
		return Message{}, fmt.Errorf("empty message text")
	}
	msg := c.newPending(conv)
	msg.Text = text
	return c.transmit(ctx, msg)
}

// SendFile sends a file-attachment message. The attachment descriptor points
// at already-uploaded storage; the upload itself happens outside this core.
func (c *Composer) SendFile(ctx context.Context, conv Conversation, att Attachment) (Message, error) {
	if att.Name == "" || att.Path == "" {
		return Message{}, fmt.Errorf("attachment needs a name and storage path")
	}
	if att.MimeType == "" {
		att.MimeType = guessMimeType(att.Name)
	}
	msg := c.newPending(conv)
	msg.File = &att
	return c.transmit(ctx, msg)
}

func (c *Composer) newPending(conv Conversation) Message {
	return Message{
		CorrelationID:  uuid.NewString(),
		ConversationID: conv.ID,
		From:           c.self,
		To:             conv.Counterpart(c.self),
		AdContext:      conv.AdContext,
		CreatedAt:      c.now(),
		State:          MessagePending,
	}
}

func (c *Composer) transmit(ctx context.Context, msg Message) (Message, error) {
	// Optimistic entry first, so the UI shows the message immediately.
	c.timelines.AppendLive(msg)

	err := c.tx.Send(ctx, &Command{
		Type: CommandSendMessage,
		Payload: SendMessagePayload{
			ConversationID: msg.ConversationID,
			CorrelationID:  msg.CorrelationID,
			Text:           msg.Text,
			File:           msg.File,
			From:           msg.From,
			To:             msg.To,
			AdContext:      msg.AdContext,
		},
		RequestID: msg.CorrelationID,
	})
	if err != nil {
		c.timelines.MarkFailed(msg.ConversationID, msg.CorrelationID)
		msg.State = MessageFailed
		c.log.Warn().Err(err).Str("conversation", msg.ConversationID).Msg("send failed")
		return msg, fmt.Errorf("send message: %w", err)
	}
	return msg, nil
}

// guessMimeType returns the MIME type for a file name.
func guessMimeType(fileName string) string {
	ext := filepath.Ext(fileName)
	if ext == "" {
		return "application/octet-stream"
	}
	// Fallback for types not in Go's builtin registry
	fallback := map[string]string{
		".webp": "image/webp", ".webm": "video/webm", ".heic": "image/heic",
	}
	if m, ok := fallback[ext]; ok {
		return m
	}
	t := mime.TypeByExtension(ext)
	if t != "" {
		if idx := strings.Index(t, ";"); idx > 0 {
			t = strings.TrimSpace(t[:idx])
		}
		return t
	}
	return "application/octet-stream"
}
