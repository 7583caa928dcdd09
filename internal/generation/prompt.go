package generation

import (
	"fmt"
	"strings"

	"github.com/iliamunaev/paper-order-pipeline/internal/plan"
)

func planPrompt(c Context, n int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a plan for a %s on the subject %q.\n", strings.ToLower(c.WorkType), c.Subject)
	fmt.Fprintf(&b, "Theme: %s\n", c.Theme)
	fmt.Fprintf(&b, "The document is %d pages long. Return exactly %d section titles as a numbered list, one per line.\n", c.PageCount, n)
	b.WriteString("The first section must be the Introduction and the last the Conclusion. Do not add any other text.")
	return b.String()
}

func sectionPrompt(c Context, entries []string, i, words int, prefs string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are writing a %s on the subject %q.\n", strings.ToLower(c.WorkType), c.Subject)
	fmt.Fprintf(&b, "Theme: %s\n", c.Theme)
	b.WriteString("Full plan:\n")
	for j, e := range entries {
		fmt.Fprintf(&b, "%d. %s\n", j+1, e)
	}
	fmt.Fprintf(&b, "\nWrite section %d, %q, of about %d words.\n", i+1, entries[i], words)

	switch plan.Classify(entries[i]) {
	case plan.Opening:
		b.WriteString("State the relevance of the theme, the goal and the objectives of the work.\n")
	case plan.Closing:
		b.WriteString("Summarize the findings of the previous sections and give conclusions.\n")
	default:
		b.WriteString("Cover only this section; do not repeat the introduction or the conclusion.\n")
	}
	if prefs != "" {
		fmt.Fprintf(&b, "Follow these wishes of the customer: %s\n", prefs)
	}
	b.WriteString("Write in an academic style, in paragraphs separated by blank lines. Do not repeat the section title and do not address the reader.")
	return b.String()
}
