// Package intake runs the guided order dialogue: a table driven state
// machine that collects and validates an order draft step by step and
// hands the confirmed draft to the order service.
package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/iliamunaev/paper-order-pipeline/internal/apperr"
	"github.com/iliamunaev/paper-order-pipeline/internal/model"
	"github.com/iliamunaev/paper-order-pipeline/internal/plan"
	"github.com/iliamunaev/paper-order-pipeline/internal/validate"
)

// Step is a position in the dialogue.
type Step string

const (
	StepWorkType    Step = "work_type"
	StepSubject     Step = "subject"
	StepPageCount   Step = "page_count"
	StepTheme       Step = "theme"
	StepPlanChoice  Step = "plan_choice"
	StepCustomPlan  Step = "custom_plan"
	StepPreferences Step = "preferences"
	StepPayment     Step = "payment"
	StepDone        Step = "done"
	StepCancelled   Step = "cancelled"
)

// order is the forward order of the steps, used to clear later fields.
var order = []Step{
	StepWorkType, StepSubject, StepPageCount, StepTheme,
	StepPlanChoice, StepCustomPlan, StepPreferences, StepPayment,
}

// backTargets is where Back leads from each step.
var backTargets = map[Step]Step{
	StepWorkType:    StepWorkType,
	StepSubject:     StepWorkType,
	StepPageCount:   StepSubject,
	StepTheme:       StepPageCount,
	StepPlanChoice:  StepTheme,
	StepCustomPlan:  StepPlanChoice,
	StepPreferences: StepPlanChoice,
	StepPayment:     StepPreferences,
}

// InputClass is the kind of a user message.
type InputClass int

const (
	InputText InputClass = iota
	InputBack
	InputCancel
	InputSkip
	InputPay
)

// Reserved tokens.
const (
	TokenStart   = "/order"
	TokenCancel  = "/cancel"
	TokenBack    = "Back"
	TokenSkip    = "Skip"
	TokenPay     = "Pay"
	OptionAuto   = "Automatic plan"
	OptionCustom = "Custom plan"
)

// Classify maps a message to its input class at step. Skip and Pay are
// only reserved on the steps that accept them.
func Classify(step Step, text string) InputClass {
	switch strings.TrimSpace(text) {
	case TokenBack:
		return InputBack
	case TokenCancel:
		return InputCancel
	case TokenSkip:
		if step == StepPreferences {
			return InputSkip
		}
	case TokenPay:
		if step == StepPayment {
			return InputPay
		}
	}
	return InputText
}

// FormState is the in-progress dialogue of one chat.
type FormState struct {
	ChatID       string
	UserID       string
	Step         Step
	Draft        model.Draft
	History      []Step
	PlanEntered  bool
	LastActivity time.Time
}

// Reply is what the user sees after a message.
type Reply struct {
	Step       Step     `json:"step"`
	Text       string   `json:"text"`
	Options    []string `json:"options,omitempty"`
	Advisory   string   `json:"advisory,omitempty"`
	Done       bool     `json:"done"`
	OrderID    string   `json:"order_id,omitempty"`
	PaymentURL string   `json:"payment_url,omitempty"`
}

// OrderStarter creates the order and its payment for a confirmed draft.
type OrderStarter interface {
	Start(ctx context.Context, c model.Checkout) (model.PaymentLink, error)
}

// Auditor records user actions.
type Auditor interface {
	LogAction(ctx context.Context, userID, action string) error
}

// Audited actions.
const (
	ActionStarted   = "order_started"
	ActionCancelled = "order_cancelled"
)

type transition func(ctx context.Context, f *FormState, text string) Reply

// Machine applies messages to form states. It holds no per-chat state and
// is safe for concurrent use; callers serialize access to each FormState.
type Machine struct {
	starter OrderStarter
	audit   Auditor
	table   map[Step]map[InputClass]transition
}

// NewMachine creates a Machine. audit may be nil.
func NewMachine(starter OrderStarter, audit Auditor) *Machine {
	if starter == nil {
		panic("intake.NewMachine: nil order starter")
	}
	m := &Machine{starter: starter, audit: audit}

	back := m.back
	cancel := m.cancel
	m.table = map[Step]map[InputClass]transition{
		StepWorkType:    {InputText: m.workType, InputBack: back, InputCancel: cancel},
		StepSubject:     {InputText: m.subject, InputBack: back, InputCancel: cancel},
		StepPageCount:   {InputText: m.pageCount, InputBack: back, InputCancel: cancel},
		StepTheme:       {InputText: m.theme, InputBack: back, InputCancel: cancel},
		StepPlanChoice:  {InputText: m.planChoice, InputBack: back, InputCancel: cancel},
		StepCustomPlan:  {InputText: m.customPlan, InputBack: back, InputCancel: cancel},
		StepPreferences: {InputText: m.preferences, InputSkip: m.preferences, InputBack: back, InputCancel: cancel},
		StepPayment:     {InputPay: m.pay, InputBack: back, InputCancel: cancel},
	}
	return m
}

// Begin returns a fresh form state and its first prompt.
func (m *Machine) Begin(ctx context.Context, chatID, userID string, now time.Time) (*FormState, Reply) {
	f := &FormState{ChatID: chatID, UserID: userID, Step: StepWorkType, LastActivity: now}
	m.record(ctx, userID, ActionStarted)
	return f, m.prompt(f)
}

// Handle applies one message to f. Unsupported input re-prompts the
// current step without changing the state.
func (m *Machine) Handle(ctx context.Context, f *FormState, text string) Reply {
	class := Classify(f.Step, text)
	tr, ok := m.table[f.Step][class]
	if !ok {
		r := m.prompt(f)
		r.Text = "Please use one of the offered options.\n\n" + r.Text
		return r
	}
	return tr(ctx, f, strings.TrimSpace(text))
}

func (m *Machine) record(ctx context.Context, userID, action string) {
	if m.audit == nil {
		return
	}
	if err := m.audit.LogAction(ctx, userID, action); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Str("action", action).Msg("failed to record user action")
	}
}

// advance moves f forward to next.
func (m *Machine) advance(f *FormState, next Step) Reply {
	f.History = append(f.History, f.Step)
	f.Step = next
	return m.prompt(f)
}

// invalid re-prompts the current step with the reason err carries.
func (m *Machine) invalid(f *FormState, err error) Reply {
	r := m.prompt(f)
	r.Text = apperr.UserMessage(err) + "\n\n" + r.Text
	return r
}

func (m *Machine) back(_ context.Context, f *FormState, _ string) Reply {
	target := backTargets[f.Step]
	for len(f.History) > 0 {
		last := f.History[len(f.History)-1]
		f.History = f.History[:len(f.History)-1]
		if last == target {
			break
		}
	}
	f.Step = target
	clearFrom(f, target)
	return m.prompt(f)
}

func (m *Machine) cancel(ctx context.Context, f *FormState, _ string) Reply {
	f.Step = StepCancelled
	m.record(ctx, f.UserID, ActionCancelled)
	return Reply{Step: StepCancelled, Text: "Order cancelled.", Options: []string{TokenStart}, Done: true}
}

func (m *Machine) workType(_ context.Context, f *FormState, text string) Reply {
	wt, ok := model.LookupWorkType(text)
	if !ok {
		r := m.prompt(f)
		r.Text = "Please choose a work type from the menu.\n\n" + r.Text
		return r
	}
	f.Draft.WorkType, f.Draft.Price = wt.Name, wt.Price
	return m.advance(f, StepSubject)
}

func (m *Machine) subject(_ context.Context, f *FormState, text string) Reply {
	s, err := validate.Text("subject", text, validate.MaxSubject)
	if err != nil {
		return m.invalid(f, err)
	}
	f.Draft.Subject = s
	return m.advance(f, StepPageCount)
}

func (m *Machine) pageCount(_ context.Context, f *FormState, text string) Reply {
	n, err := validate.PageCount(text, model.PageLimit(f.Draft.WorkType))
	if err != nil {
		return m.invalid(f, err)
	}
	f.Draft.PageCount = n
	return m.advance(f, StepTheme)
}

func (m *Machine) theme(_ context.Context, f *FormState, text string) Reply {
	s, err := validate.Text("theme", text, validate.MaxTheme)
	if err != nil {
		return m.invalid(f, err)
	}
	f.Draft.Theme = s
	return m.advance(f, StepPlanChoice)
}

func (m *Machine) planChoice(_ context.Context, f *FormState, text string) Reply {
	switch {
	case strings.EqualFold(text, OptionAuto):
		f.Draft.PlanMode = model.PlanAuto
		f.Draft.CustomPlan = nil
		return m.advance(f, StepPreferences)
	case strings.EqualFold(text, OptionCustom):
		f.Draft.PlanMode = model.PlanCustom
		return m.advance(f, StepCustomPlan)
	}
	r := m.prompt(f)
	r.Text = "Please choose how the plan should be made.\n\n" + r.Text
	return r
}

var errShortPlan = &validate.Error{Field: "plan", Reason: "The plan needs at least 2 sections, one per line."}

func (m *Machine) customPlan(_ context.Context, f *FormState, text string) Reply {
	s, err := validate.Text("plan", text, validate.MaxCustomPlan)
	if err != nil {
		return m.invalid(f, err)
	}
	entries := plan.ParseCustom(s)
	if len(entries) < 2 {
		return m.invalid(f, errShortPlan)
	}
	f.Draft.CustomPlan = plan.Coerce(entries)
	f.PlanEntered = true

	r := m.advance(f, StepPreferences)
	r.Advisory = plan.Advise(len(entries), f.Draft.PageCount)
	return r
}

func (m *Machine) preferences(_ context.Context, f *FormState, text string) Reply {
	if Classify(f.Step, text) == InputSkip {
		f.Draft.Preferences = model.NoPreferences
		return m.advance(f, StepPayment)
	}
	s, err := validate.Text("preferences", text, validate.MaxPreferences)
	if err != nil {
		return m.invalid(f, err)
	}
	f.Draft.Preferences = s
	return m.advance(f, StepPayment)
}

func (m *Machine) pay(ctx context.Context, f *FormState, _ string) Reply {
	link, err := m.starter.Start(ctx, model.Checkout{UserID: f.UserID, ChatID: f.ChatID, Draft: f.Draft})
	f.Step = StepDone
	if err != nil {
		ev := log.Warn()
		if !errors.Is(err, apperr.ErrRateLimited) {
			ev = log.Error()
		}
		ev.Err(err).Str("chat_id", f.ChatID).Str("user_id", f.UserID).Msg("order start failed")
		return Reply{Step: StepDone, Text: apperr.UserMessage(err), Options: []string{TokenStart}, Done: true}
	}
	return Reply{
		Step:       StepDone,
		Text:       fmt.Sprintf("Your order is created. Pay %d using the link below; the document will be sent here once the payment is confirmed.\n%s", f.Draft.Price, link.URL),
		Done:       true,
		OrderID:    link.OrderID,
		PaymentURL: link.URL,
	}
}

// clearFrom resets every field owned by step and the steps after it.
func clearFrom(f *FormState, step Step) {
	idx := 0
	for i, s := range order {
		if s == step {
			idx = i
			break
		}
	}
	for _, s := range order[idx:] {
		switch s {
		case StepWorkType:
			f.Draft.WorkType, f.Draft.Price = "", 0
		case StepSubject:
			f.Draft.Subject = ""
		case StepPageCount:
			f.Draft.PageCount = 0
		case StepTheme:
			f.Draft.Theme = ""
		case StepPlanChoice:
			f.Draft.PlanMode = ""
		case StepCustomPlan:
			f.Draft.CustomPlan = nil
			f.PlanEntered = false
		case StepPreferences:
			f.Draft.Preferences = ""
		}
	}
}

func workTypeOptions() []string {
	out := make([]string, 0, len(model.WorkTypes))
	for _, wt := range model.WorkTypes {
		out = append(out, fmt.Sprintf("%s - %d", wt.Name, wt.Price))
	}
	return out
}

// prompt renders the question for the current step.
func (m *Machine) prompt(f *FormState) Reply {
	r := Reply{Step: f.Step}
	switch f.Step {
	case StepWorkType:
		r.Text = "Choose the type of work:"
		r.Options = workTypeOptions()
	case StepSubject:
		r.Text = fmt.Sprintf("Enter the subject (up to %d characters):", validate.MaxSubject)
	case StepPageCount:
		r.Text = fmt.Sprintf("Enter the number of pages (1 to %d):", model.PageLimit(f.Draft.WorkType))
	case StepTheme:
		r.Text = fmt.Sprintf("Enter the theme of the work (up to %d characters):", validate.MaxTheme)
	case StepPlanChoice:
		r.Text = "How should the plan be made?"
		r.Options = []string{OptionAuto, OptionCustom}
	case StepCustomPlan:
		r.Text = fmt.Sprintf("Send your plan, one section per line (at least 2 sections, up to %d characters):", validate.MaxCustomPlan)
	case StepPreferences:
		r.Text = fmt.Sprintf("Any wishes for the content? Up to %d characters, or press %s.", validate.MaxPreferences, TokenSkip)
		r.Options = []string{TokenSkip}
	case StepPayment:
		r.Text = summary(f.Draft) + "\n\nPress " + TokenPay + " to continue."
		r.Options = []string{TokenPay}
	}
	if f.Step != StepWorkType {
		r.Options = append(r.Options, TokenBack)
	}
	r.Options = append(r.Options, TokenCancel)
	return r
}

func summary(d model.Draft) string {
	var b strings.Builder
	b.WriteString("Please check your order:\n")
	fmt.Fprintf(&b, "Type: %s\n", d.WorkType)
	fmt.Fprintf(&b, "Subject: %s\n", d.Subject)
	fmt.Fprintf(&b, "Pages: %d\n", d.PageCount)
	fmt.Fprintf(&b, "Theme: %s\n", d.Theme)
	if d.PlanMode == model.PlanCustom {
		fmt.Fprintf(&b, "Plan: %s\n", strings.Join(d.CustomPlan, "; "))
	} else {
		b.WriteString("Plan: automatic\n")
	}
	fmt.Fprintf(&b, "Preferences: %s\n", d.Preferences)
	fmt.Fprintf(&b, "Price: %d", d.Price)
	return b.String()
}
