package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/iliamunaev/paper-order-pipeline/internal/service/shared"
)

// DefaultTelegramURL is the Bot API root.
const DefaultTelegramURL = "https://api.telegram.org"

// TelegramConfig configures the Bot API notifier.
type TelegramConfig struct {
	Token   string
	BaseURL string
	// Retries is the number of extra attempts on transport or 5xx errors.
	Retries    int
	RetryDelay time.Duration
	HTTPClient *http.Client
}

// Telegram delivers notifications through the Telegram Bot API.
type Telegram struct {
	cfg    TelegramConfig
	client *http.Client
}

var _ Notifier = (*Telegram)(nil)

// NewTelegram creates a notifier.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram: token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTelegramURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Telegram{cfg: cfg, client: client}, nil
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// errPermanent marks failures that a retry cannot fix.
type errPermanent struct{ err error }

func (e errPermanent) Error() string { return e.err.Error() }
func (e errPermanent) Unwrap() error { return e.err }

type keyboardButton struct {
	Text string `json:"text"`
}

type replyKeyboard struct {
	Keyboard        [][]keyboardButton `json:"keyboard"`
	ResizeKeyboard  bool               `json:"resize_keyboard"`
	OneTimeKeyboard bool               `json:"one_time_keyboard"`
}

// SendText implements Notifier.
func (t *Telegram) SendText(ctx context.Context, chatID, text string, opts SendOptions) (string, error) {
	body := map[string]any{"chat_id": chatID, "text": text}
	if len(opts.Buttons) > 0 {
		kb := replyKeyboard{ResizeKeyboard: true, OneTimeKeyboard: true}
		for _, b := range opts.Buttons {
			kb.Keyboard = append(kb.Keyboard, []keyboardButton{{Text: b}})
		}
		body["reply_markup"] = kb
	} else {
		body["reply_markup"] = map[string]bool{"remove_keyboard": true}
	}

	var msg struct {
		MessageID int64 `json:"message_id"`
	}
	if err := t.callJSON(ctx, "sendMessage", body, &msg); err != nil {
		return "", err
	}
	return strconv.FormatInt(msg.MessageID, 10), nil
}

// EditMessage implements Notifier.
func (t *Telegram) EditMessage(ctx context.Context, chatID, messageID, text string) error {
	id, err := strconv.ParseInt(messageID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: bad message id %q: %w", messageID, err)
	}
	return t.callJSON(ctx, "editMessageText", map[string]any{
		"chat_id":    chatID,
		"message_id": id,
		"text":       text,
	}, nil)
}

// SendDocument implements Notifier.
func (t *Telegram) SendDocument(ctx context.Context, chatID string, data []byte, filename, caption string) error {
	return t.retry(ctx, "sendDocument", func() (*http.Request, error) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		_ = mw.WriteField("chat_id", chatID)
		if caption != "" {
			_ = mw.WriteField("caption", caption)
		}
		fw, err := mw.CreateFormFile("document", filename)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(data); err != nil {
			return nil, err
		}
		if err := mw.Close(); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint("sendDocument"), &buf)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req, nil
	}, nil)
}

func (t *Telegram) endpoint(method string) string {
	return t.cfg.BaseURL + "/bot" + t.cfg.Token + "/" + method
}

func (t *Telegram) callJSON(ctx context.Context, method string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("telegram: %s: encode: %w", method, err)
	}
	return t.retry(ctx, method, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint(method), bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, out)
}

func (t *Telegram) retry(ctx context.Context, method string, build func() (*http.Request, error), out any) error {
	var err error
	for attempt := 0; attempt <= t.cfg.Retries; attempt++ {
		if attempt > 0 {
			if serr := shared.SleepOrDone(ctx, shared.Backoff(t.cfg.RetryDelay, 10*time.Second, attempt-1)); serr != nil {
				return fmt.Errorf("telegram: %s: %w", method, serr)
			}
			log.Warn().Err(err).Str("method", method).Int("attempt", attempt).Msg("retrying notification")
		}
		var req *http.Request
		req, err = build()
		if err != nil {
			return fmt.Errorf("telegram: %s: %w", method, err)
		}
		err = t.send(req, out)
		if err == nil {
			return nil
		}
		var perm errPermanent
		if errors.As(err, &perm) {
			break
		}
	}
	return fmt.Errorf("telegram: %s: %w", method, err)
}

func (t *Telegram) send(req *http.Request, out any) error {
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	var ar apiResponse
	if err := json.Unmarshal(data, &ar); err != nil {
		return fmt.Errorf("status %d: decode: %w", resp.StatusCode, err)
	}
	if !ar.OK {
		err := fmt.Errorf("status %d: %s", resp.StatusCode, ar.Description)
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return errPermanent{err}
		}
		return err
	}
	if out != nil && len(ar.Result) > 0 {
		if err := json.Unmarshal(ar.Result, out); err != nil {
			return errPermanent{fmt.Errorf("decode result: %w", err)}
		}
	}
	return nil
}
