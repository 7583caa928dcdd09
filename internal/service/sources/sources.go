// Package sources finds references for a document through a Coze workflow.
package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog/log"

	"github.com/iliamunaev/paper-order-pipeline/internal/model"
)

// Lookup returns up to count sources matching keywords.
type Lookup interface {
	FetchSources(ctx context.Context, keywords string, count int) ([]model.Source, error)
}

// DefaultURL is the workflow run endpoint.
const DefaultURL = "https://api.coze.com/v1/workflow/run"

// CozeConfig configures the Coze client.
type CozeConfig struct {
	Token      string
	WorkflowID string
	URL        string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Coze runs a search workflow and parses its output.
type Coze struct {
	cfg    CozeConfig
	client *http.Client
}

var _ Lookup = (*Coze)(nil)

// NewCoze creates a client.
func NewCoze(cfg CozeConfig) (*Coze, error) {
	if cfg.Token == "" || cfg.WorkflowID == "" {
		return nil, errors.New("coze: token and workflow id are required")
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Coze{cfg: cfg, client: client}, nil
}

type runRequest struct {
	WorkflowID string            `json:"workflow_id"`
	Parameters map[string]string `json:"parameters"`
}

type runResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// FetchSources implements Lookup. Only the keywords are sent: the
// workflow returns fewer results when given extra instructions.
func (c *Coze) FetchSources(ctx context.Context, keywords string, count int) ([]model.Source, error) {
	b, err := json.Marshal(runRequest{
		WorkflowID: c.cfg.WorkflowID,
		Parameters: map[string]string{"input": keywords},
	})
	if err != nil {
		return nil, fmt.Errorf("coze: encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("coze: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coze: run workflow: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("coze: read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coze: status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var rr runResponse
	if err := json.Unmarshal(data, &rr); err != nil {
		return nil, fmt.Errorf("coze: decode: %w", err)
	}
	if rr.Code != 0 {
		return nil, fmt.Errorf("coze: workflow error %d: %s", rr.Code, rr.Msg)
	}

	out, err := Parse(rr.Data)
	if err != nil {
		return nil, fmt.Errorf("coze: %w", err)
	}
	if count > 0 && len(out) > count {
		out = out[:count]
	}
	log.Info().Str("keywords", keywords).Int("sources", len(out)).Msg("sources fetched")
	return out, nil
}

var urlRe = regexp.MustCompile(`https?://\S+`)

// Parse decodes the workflow "data" field. It may be a JSON string that
// itself holds the object, or the object directly. Items are objects with
// title and link, or free strings containing a URL.
func Parse(raw json.RawMessage) ([]model.Source, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return []model.Source{}, nil
	}
	var inner string
	if json.Unmarshal(raw, &inner) == nil {
		raw = json.RawMessage(inner)
	}

	var payload struct {
		Output []json.RawMessage `json:"output"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("parse output: %w", err)
	}

	out := make([]model.Source, 0, len(payload.Output))
	for _, item := range payload.Output {
		var obj struct {
			Title string `json:"title"`
			Link  string `json:"link"`
		}
		if json.Unmarshal(item, &obj) == nil {
			if obj.Title != "" && obj.Link != "" {
				out = append(out, model.Source{Title: strings.TrimSpace(obj.Title), URL: strings.TrimSpace(obj.Link)})
			}
			continue
		}
		var s string
		if json.Unmarshal(item, &s) == nil {
			if src, ok := parseLine(s); ok {
				out = append(out, src)
			}
		}
	}
	return out, nil
}

func parseLine(s string) (model.Source, bool) {
	u := urlRe.FindString(s)
	if u == "" {
		return model.Source{}, false
	}
	title := strings.TrimSpace(strings.Replace(s, u, "", 1))
	title = strings.Trim(title, " -–:|")
	if title == "" {
		title = u
	}
	return model.Source{Title: title, URL: strings.TrimRight(u, ".,;)")}, true
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "from": {}, "into": {}, "that": {},
	"this": {}, "its": {}, "their": {}, "about": {}, "on": {}, "of": {}, "in": {},
	"to": {}, "as": {}, "by": {}, "an": {}, "a": {}, "at": {}, "or": {}, "is": {},
	"are": {}, "was": {}, "were": {}, "how": {}, "what": {}, "why": {}, "role": {},
	"impact": {}, "analysis": {}, "study": {}, "features": {}, "aspects": {},
}

// MaxKeywords caps the number of words sent to the lookup.
const MaxKeywords = 8

// Keywords extracts search words from the theme and subject: lowercase,
// without punctuation, stop words or duplicates.
func Keywords(theme, subject string) string {
	seen := make(map[string]struct{})
	var out []string
	for _, w := range strings.FieldsFunc(strings.ToLower(theme+" "+subject), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	}) {
		w = strings.Trim(w, "-")
		if len([]rune(w)) < 3 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
		if len(out) == MaxKeywords {
			break
		}
	}
	return strings.Join(out, " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
