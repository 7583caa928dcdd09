package generation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/iliamunaev/paper-order-pipeline/internal/apperr"
	"github.com/iliamunaev/paper-order-pipeline/internal/plan"
)

// Minimum usable lengths, in runes.
const (
	MinSectionRunes = 100
	MinCleanedRunes = 200
)

// boilerplateRe matches a leading chatty sentence such as
// "Sure! Here is the introduction:".
var boilerplateRe = regexp.MustCompile(
	`(?i)^[^.!:\n]*\b(sure|certainly|of course|absolutely|great|here is|here's|below is|as requested|let's|let us)\b[^.!:\n]*[.!:]\s*`)

// Clean sanitizes provider output for one section. Output shorter than
// MinSectionRunes is an error. Emoji are removed and a leading boilerplate
// sentence is stripped unless that would leave less than MinCleanedRunes,
// in which case the emoji-free text is kept whole.
func Clean(text string) (string, error) {
	text = strings.TrimSpace(text)
	if n := utf8.RuneCountInString(text); n < MinSectionRunes {
		return "", fmt.Errorf("content too short (%d characters): %w", n, apperr.ErrSectionGeneration)
	}

	stripped := strings.TrimSpace(plan.StripEmoji(text))
	cleaned := strings.TrimSpace(boilerplateRe.ReplaceAllString(stripped, ""))
	if utf8.RuneCountInString(cleaned) < MinCleanedRunes {
		return stripped, nil
	}
	return cleaned, nil
}
