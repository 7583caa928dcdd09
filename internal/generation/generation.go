// Package generation produces documents from a plan by issuing bounded
// concurrent calls to the text generation provider.
package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/iliamunaev/paper-order-pipeline/internal/apperr"
	"github.com/iliamunaev/paper-order-pipeline/internal/document"
	"github.com/iliamunaev/paper-order-pipeline/internal/metrics"
	"github.com/iliamunaev/paper-order-pipeline/internal/model"
	"github.com/iliamunaev/paper-order-pipeline/internal/plan"
	"github.com/iliamunaev/paper-order-pipeline/internal/service/llm"
	"github.com/iliamunaev/paper-order-pipeline/internal/service/pool"
	"github.com/iliamunaev/paper-order-pipeline/internal/service/sources"
	"github.com/iliamunaev/paper-order-pipeline/internal/service/tracker"
)

// Context is the order data every prompt is built from.
type Context struct {
	Subject     string
	WorkType    string
	Theme       string
	Preferences string
	PageCount   int
}

// Request asks for one document.
type Request struct {
	Plan    []string
	Context Context
	// Progress, if set, is called after each section with the number of
	// finished sections. Calls are serialized and done is increasing.
	Progress func(done, total int)
}

// Orchestrator generates documents. It is safe for concurrent use; all
// callers share one pool, so the concurrency bound is process-wide.
type Orchestrator struct {
	provider llm.Provider
	pool     *pool.Pool
	sources  sources.Lookup
	tr       *tracker.Tracker
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSources sets the reference lookup. Without one, documents carry no
// references block.
func WithSources(l sources.Lookup) Option { return func(o *Orchestrator) { o.sources = l } }

// WithTracker counts in-flight provider calls.
func WithTracker(tr *tracker.Tracker) Option { return func(o *Orchestrator) { o.tr = tr } }

// WithMetrics records section outcomes.
func WithMetrics(m *metrics.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// WithClock replaces time.Now for reference access dates.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// New creates an Orchestrator.
func New(p llm.Provider, pl *pool.Pool, opts ...Option) *Orchestrator {
	if p == nil {
		panic("generation.New: nil provider")
	}
	if pl == nil {
		panic("generation.New: nil pool")
	}
	o := &Orchestrator{provider: p, pool: pl, tr: &tracker.Tracker{}, now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Tracker returns the in-flight call tracker.
func (o *Orchestrator) Tracker() *tracker.Tracker { return o.tr }

// complete runs one provider call while holding a pool slot.
func (o *Orchestrator) complete(ctx context.Context, prompt string, params llm.Params) (string, error) {
	var out string
	err := o.pool.Do(ctx, func(ctx context.Context) error {
		o.tr.Inc()
		o.metrics.SetInflightCalls(int(o.tr.Running()))
		defer func() {
			o.tr.Dec()
			o.metrics.SetInflightCalls(int(o.tr.Running()))
		}()

		var err error
		out, err = o.provider.Complete(ctx, prompt, params)
		return err
	})
	return out, err
}

// DerivePlan asks the provider for a plan and fits it to the page count.
// It never fails: when the provider is unavailable the skeleton plan is
// returned.
func (o *Orchestrator) DerivePlan(ctx context.Context, c Context) []string {
	n := plan.Length(c.PageCount)
	out, err := o.complete(ctx, planPrompt(c, n), llm.Params{Temperature: llm.Float32(0.4)})
	if err != nil {
		log.Warn().Err(err).Str("theme", c.Theme).Msg("plan derivation failed, using skeleton plan")
		return plan.Skeleton(c.PageCount)
	}
	entries := plan.Parse(out)
	if len(entries) == 0 {
		log.Warn().Str("theme", c.Theme).Msg("provider returned an empty plan, using skeleton plan")
		return plan.Skeleton(c.PageCount)
	}
	return plan.Fit(entries, c.PageCount)
}

// Generate produces the document for req. A failing section does not stop
// its siblings; it is kept in place with placeholder text. Generate fails
// only when the plan is empty, when no section succeeded, or when ctx ends.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*document.Document, error) {
	entries := append([]string(nil), req.Plan...)
	if len(entries) == 0 {
		return nil, apperr.ErrPlanEmpty
	}
	c := req.Context
	total := len(entries)
	words := plan.WordsPerSection(c.PageCount, total)
	prefs := plan.AttributePreferences(entries, c.Preferences)

	g, gctx := errgroup.WithContext(ctx)

	results := make([]model.SectionResult, total)
	var (
		mu   sync.Mutex
		done int
	)

	record := func(i int, fn func() (string, error)) func() error {
		return func() error {
			start := time.Now()
			text, err := fn()
			if err == nil {
				text, err = Clean(text)
			}
			res := model.SectionResult{Title: entries[i], Text: text, Err: err, Duration: time.Since(start)}
			if err != nil {
				res.Text = model.PlaceholderText
				if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
					log.Warn().Err(err).Int("section", i+1).Str("title", entries[i]).Msg("section generation failed")
				}
			}
			o.metrics.Section(err == nil, res.Duration)

			mu.Lock()
			results[i] = res
			done++
			if req.Progress != nil {
				req.Progress(done, total)
			}
			mu.Unlock()

			// Only cancellation of the caller's context aborts the group.
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return nil
		}
	}

	for i := range entries {
		i := i
		prompt := sectionPrompt(c, entries, i, words, prefs[i])
		g.Go(record(i, func() (string, error) {
			out, err := o.complete(gctx, prompt, llm.Params{MaxTokens: llm.Int(words * 3)})
			if err != nil {
				return "", fmt.Errorf("section %d: %w: %w", i+1, apperr.ErrSectionGeneration, err)
			}
			return out, nil
		}))
	}

	// Sources are fetched while sections generate. The lookup uses the
	// caller's context: gctx is cancelled as soon as Wait returns.
	var (
		srcs    []model.Source
		srcsErr error
	)
	srcDone := make(chan struct{})
	go func() {
		defer close(srcDone)
		srcs, srcsErr = o.fetchSources(ctx, c)
	}()

	err := g.Wait()
	<-srcDone
	if err != nil {
		return nil, err
	}

	ok := 0
	for _, r := range results {
		if r.OK() {
			ok++
		}
	}
	if ok == 0 {
		return nil, fmt.Errorf("generate %d sections: %w", total, apperr.ErrNoUsableSections)
	}

	if srcsErr != nil {
		log.Warn().Err(srcsErr).Str("theme", c.Theme).Msg("source lookup failed, document has no references")
	}
	doc := document.Assemble(document.Input{
		Cover: document.Cover{
			WorkType:  c.WorkType,
			Subject:   c.Subject,
			Theme:     c.Theme,
			PageCount: c.PageCount,
			Date:      o.now(),
		},
		Results:    results,
		Sources:    srcs,
		SourcesErr: srcsErr,
		Accessed:   o.now(),
	})
	log.Info().Int("sections", total).Int("failed", total-ok).Int("references", len(doc.References)).Msg("document assembled")
	return doc, nil
}

var errNoSources = errors.New("no source lookup configured")

func (o *Orchestrator) fetchSources(ctx context.Context, c Context) ([]model.Source, error) {
	if o.sources == nil {
		return nil, errNoSources
	}
	count := 12
	if wt, ok := model.LookupWorkType(c.WorkType); ok {
		count = wt.Sources
	}
	return o.sources.FetchSources(ctx, sources.Keywords(c.Theme, c.Subject), count)
}
