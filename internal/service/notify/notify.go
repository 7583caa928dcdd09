// Package notify delivers messages and documents to users.
package notify

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// SendOptions carries optional presentation hints.
type SendOptions struct {
	// Buttons are offered as quick replies, one per row.
	Buttons []string
}

// Notifier is the outbound channel to users. Delivery is best effort.
type Notifier interface {
	SendText(ctx context.Context, chatID, text string, opts SendOptions) (messageID string, err error)
	SendDocument(ctx context.Context, chatID string, data []byte, filename, caption string) error
	EditMessage(ctx context.Context, chatID, messageID, text string) error
}

// Log writes notifications to the log instead of delivering them.
type Log struct {
	seq atomic.Uint64
}

var _ Notifier = (*Log)(nil)

// SendText implements Notifier.
func (l *Log) SendText(_ context.Context, chatID, text string, opts SendOptions) (string, error) {
	id := strconv.FormatUint(l.seq.Add(1), 10)
	log.Info().Str("chat_id", chatID).Str("message_id", id).Strs("buttons", opts.Buttons).Str("text", text).Msg("notify: text")
	return id, nil
}

// SendDocument implements Notifier.
func (l *Log) SendDocument(_ context.Context, chatID string, data []byte, filename, caption string) error {
	log.Info().Str("chat_id", chatID).Str("filename", filename).Int("bytes", len(data)).Str("caption", caption).Msg("notify: document")
	return nil
}

// EditMessage implements Notifier.
func (l *Log) EditMessage(_ context.Context, chatID, messageID, text string) error {
	log.Info().Str("chat_id", chatID).Str("message_id", messageID).Str("text", text).Msg("notify: edit")
	return nil
}
