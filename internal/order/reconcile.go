package order

import (
	"context"
	"errors"
	"fmt"
	"html"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/iliamunaev/paper-order-pipeline/internal/apperr"
	"github.com/iliamunaev/paper-order-pipeline/internal/generation"
	"github.com/iliamunaev/paper-order-pipeline/internal/model"
	"github.com/iliamunaev/paper-order-pipeline/internal/plan"
	"github.com/iliamunaev/paper-order-pipeline/internal/service/payment"
	"github.com/iliamunaev/paper-order-pipeline/internal/service/shared"
	"github.com/iliamunaev/paper-order-pipeline/internal/validate"
)

// User facing notices sent by the loop.
const (
	msgPaid      = "Payment received. Your document is being generated, this usually takes a few minutes."
	msgCompleted = "Your document is ready. Thank you for your order!"
	msgCancelled = "The payment was cancelled, so the order is closed. Send /order to start again."
	msgRefunded  = "We could not generate your document. The payment has been refunded."
	msgTimeout   = "We did not receive the payment in time and stopped waiting. If you paid, please contact support."
	msgShutdown  = "The service is restarting and stopped tracking your payment. If you paid, please contact support."

	msgNoReferences = "We could not find references automatically. Please add them to the document yourself."
)

// job is one order waiting for its payment.
type job struct {
	order     model.Order
	draft     model.Draft
	paymentID string
	gateway   payment.Gateway
}

// launch runs the reconciliation loop of j in its own goroutine, bounded
// by the reconcile timeout and the service lifetime.
func (s *Service) launch(j job) {
	s.wg.Add(1)
	s.tr.Inc()
	s.metrics.SetRunningLoops(s.tr.Running())

	go func() {
		defer s.wg.Done()
		defer func() {
			s.tr.Dec()
			s.metrics.SetRunningLoops(s.tr.Running())
		}()

		ctx, cancel := context.WithTimeout(s.base, s.cfg.ReconcileTimeout)
		defer cancel()
		s.reconcile(ctx, j)
	}()
}

// reconcile polls the gateway until the payment is terminal, then fulfils
// or closes the order.
func (s *Service) reconcile(ctx context.Context, j job) {
	l := log.With().Str("order_id", j.order.ID).Str("payment_id", j.paymentID).Logger()
	chat := j.order.ChatID

	for {
		status, err := j.gateway.FindPayment(ctx, j.paymentID)
		if err != nil {
			if ctx.Err() != nil {
				s.stopped(ctx, l, chat)
				return
			}
			err = fmt.Errorf("order %s: %w: %w", j.order.ID, apperr.ErrReconciliation, err)
			l.Error().Err(err).Msg("payment lookup failed, reconciliation halted")
			s.send(ctx, chat, apperr.UserMessage(err))
			return
		}

		if status == payment.StatusSucceeded {
			s.fulfil(ctx, l, j)
			return
		}
		if status.Terminal() {
			l.Info().Str("status", string(status)).Msg("payment not completed")
			s.setStatus(ctx, j.order.ID, model.StatusCancelled, "")
			s.send(ctx, chat, msgCancelled)
			return
		}

		if err := shared.SleepOrDone(ctx, s.cfg.PollInterval); err != nil {
			s.stopped(ctx, l, chat)
			return
		}
	}
}

func (s *Service) stopped(ctx context.Context, l zerolog.Logger, chatID string) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		l.Warn().Msg("reconciliation timed out")
		s.send(ctx, chatID, msgTimeout)
		return
	}
	l.Info().Msg("reconciliation cancelled")
	s.send(ctx, chatID, msgShutdown)
}

// fulfil generates and delivers the document of a paid order. Any failure
// after payment is compensated with a refund.
func (s *Service) fulfil(ctx context.Context, l zerolog.Logger, j job) {
	chat := j.order.ChatID
	if err := s.setStatus(ctx, j.order.ID, model.StatusPaid, ""); err != nil {
		l.Warn().Msg("continuing with generation despite failed paid update")
	}
	l.Info().Msg("payment succeeded")
	s.send(ctx, chat, msgPaid)

	if err := s.produce(ctx, l, j); err != nil {
		l.Error().Err(err).Msg("order fulfilment failed")
		s.compensate(ctx, l, j)
		return
	}

	s.setStatus(ctx, j.order.ID, model.StatusCompleted, "")
	s.send(ctx, chat, msgCompleted)
	l.Info().Msg("order completed")
}

func (s *Service) generationContext(d model.Draft) generation.Context {
	return generation.Context{
		Subject:     html.UnescapeString(d.Subject),
		WorkType:    d.WorkType,
		Theme:       html.UnescapeString(d.Theme),
		Preferences: html.UnescapeString(d.Preferences),
		PageCount:   d.PageCount,
	}
}

// planFor returns the custom plan of d or derives one.
func (s *Service) planFor(ctx context.Context, d model.Draft, gc generation.Context) []string {
	if d.PlanMode == model.PlanCustom && len(d.CustomPlan) >= 2 {
		entries := make([]string, len(d.CustomPlan))
		for i, e := range d.CustomPlan {
			entries[i] = html.UnescapeString(e)
		}
		return plan.Coerce(entries)
	}
	return s.gen.DerivePlan(ctx, gc)
}

// produce generates, renders and delivers the document.
func (s *Service) produce(ctx context.Context, l zerolog.Logger, j job) error {
	chat := j.order.ChatID
	gc := s.generationContext(j.draft)
	entries := s.planFor(ctx, j.draft, gc)

	progressID := s.send(ctx, chat, progressText(0, len(entries)))
	updates := make(chan [2]int, 1)
	edited := make(chan struct{})
	go func() {
		defer close(edited)
		for u := range updates {
			if progressID == "" {
				continue
			}
			ectx, cancel := detached(ctx)
			if err := s.notifier.EditMessage(ectx, chat, progressID, progressText(u[0], u[1])); err != nil {
				l.Debug().Err(err).Msg("progress update failed")
			}
			cancel()
		}
	}()

	doc, err := s.gen.Generate(ctx, generation.Request{
		Plan:    entries,
		Context: gc,
		// Only the latest progress is kept; edits never hold up sections.
		Progress: func(done, total int) {
			select {
			case <-updates:
			default:
			}
			updates <- [2]int{done, total}
		},
	})
	close(updates)
	<-edited
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	if n := doc.Failed(); n > 0 {
		l.Warn().Int("failed_sections", n).Msg("document has placeholder sections")
	}

	pdf, err := s.render.Render(doc)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}

	dctx, cancel := detached(ctx)
	defer cancel()
	name := validate.Filename(j.draft.WorkType+"_"+gc.Theme) + ".pdf"
	caption := fmt.Sprintf("%s: %s", j.draft.WorkType, gc.Theme)
	if err := s.notifier.SendDocument(dctx, chat, pdf, name, caption); err != nil {
		return fmt.Errorf("deliver: %w", err)
	}
	l.Info().Str("filename", name).Int("bytes", len(pdf)).Msg("document delivered")

	if doc.MissingReferences() {
		l.Warn().Strs("warnings", doc.Warnings).Msg("document delivered without references")
		s.send(ctx, chat, msgNoReferences)
	}
	return nil
}

// compensate marks the order failed and refunds it. A failed refund
// leaves the order failed and asks the user to contact support.
func (s *Service) compensate(ctx context.Context, l zerolog.Logger, j job) {
	chat := j.order.ChatID
	s.ensurePaid(ctx, l, j.order.ID)
	s.setStatus(ctx, j.order.ID, model.StatusFailed, "")

	rctx, cancel := detached(ctx)
	defer cancel()
	if err := j.gateway.CreateRefund(rctx, j.paymentID, j.order.Price); err != nil {
		s.metrics.Refund(false)
		if !errors.Is(err, apperr.ErrRefund) {
			err = fmt.Errorf("%w: %w", apperr.ErrRefund, err)
		}
		l.Error().Err(err).Int64("amount", j.order.Price).Msg("refund failed, order left failed")
		s.send(ctx, chat, apperr.UserMessage(err))
		return
	}
	s.metrics.Refund(true)
	l.Info().Int64("amount", j.order.Price).Msg("payment refunded")

	s.setStatus(ctx, j.order.ID, model.StatusRefunded, "")
	s.send(ctx, chat, msgRefunded)
}

// ensurePaid records the paid transition if fulfil could not, so the
// refund that follows can be stored.
func (s *Service) ensurePaid(ctx context.Context, l zerolog.Logger, id string) {
	gctx, cancel := detached(ctx)
	o, err := s.store.GetOrder(gctx, id)
	cancel()
	if err != nil {
		l.Warn().Err(err).Msg("could not load order before refund")
		return
	}
	if o.WasPaid() {
		return
	}
	l.Warn().Msg("recording missed paid status before refund")
	s.setStatus(ctx, id, model.StatusPaid, "")
}

func progressText(done, total int) string {
	return fmt.Sprintf("Generating sections: %d of %d done.", done, total)
}
