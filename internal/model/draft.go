package model

import "time"

// PlanMode selects how the document plan is produced.
type PlanMode string

const (
	PlanAuto   PlanMode = "auto"
	PlanCustom PlanMode = "custom"
)

// NoPreferences is stored when the user skips the preferences step.
const NoPreferences = "No particular preferences"

// Draft is the order data collected by the intake dialogue.
type Draft struct {
	WorkType    string   `json:"work_type"`
	Price       int64    `json:"price"`
	Subject     string   `json:"subject"`
	PageCount   int      `json:"page_count"`
	Theme       string   `json:"theme"`
	PlanMode    PlanMode `json:"plan_mode,omitempty"`
	CustomPlan  []string `json:"custom_plan,omitempty"`
	Preferences string   `json:"preferences"`
}

// Checkout is a confirmed draft handed to the order service.
type Checkout struct {
	UserID string
	ChatID string
	Draft  Draft
	// Contact is the receipt e-mail or phone; empty uses the configured one.
	Contact string
}

// PaymentLink is returned to the user once a payment was initiated.
type PaymentLink struct {
	OrderID string `json:"order_id"`
	URL     string `json:"url"`
}

// PlaceholderText replaces the body of a section that failed to generate.
const PlaceholderText = "error generating section"

// SectionResult is the outcome of generating one section. A failed
// section keeps its title and carries PlaceholderText plus the cause.
type SectionResult struct {
	Title    string
	Text     string
	Err      error
	Duration time.Duration
}

// OK reports whether the section produced usable text.
func (r SectionResult) OK() bool { return r.Err == nil }
