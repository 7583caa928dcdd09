// Package validate normalizes and checks user supplied text.
//
// Every function returns the normalized value on success. Failures are
// *Error values that classify as apperr.ErrValidation.
package validate

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/iliamunaev/paper-order-pipeline/internal/apperr"
)

// Field length limits used by the intake dialogue.
const (
	MaxSubject     = 100
	MaxTheme       = 400
	MaxCustomPlan  = 1000
	MaxPreferences = 500
	MaxContact     = 100
	MaxFilename    = 50
)

// Error is a field level validation failure.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string { return e.Field + ": " + e.Reason }

// Kind classifies the error for apperr.
func (e *Error) Kind() string { return "validation" }

// Is lets errors.Is match apperr.ErrValidation.
func (e *Error) Is(target error) bool { return target == apperr.ErrValidation }

// UserReason is shown back to the user as is.
func (e *Error) UserReason() string { return e.Reason }

func fail(field, format string, args ...any) error {
	return &Error{Field: field, Reason: fmt.Sprintf(format, args...)}
}

var (
	checker = validator.New()

	phoneRe    = regexp.MustCompile(`^\+?[0-9\s\-()]{10,20}$`)
	filenameRe = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
)

// Text trims s, rejects empty or over-long values and HTML-escapes the result.
// Length is counted in runes.
func Text(field, s string, max int) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fail(field, "%s must not be empty", field)
	}
	if n := utf8.RuneCountInString(s); n > max {
		return "", fail(field, "%s is too long (%d characters, at most %d)", field, n, max)
	}
	return html.EscapeString(s), nil
}

// Contact accepts an e-mail address or a phone number.
func Contact(s string) (string, error) {
	s, err := Text("contact", s, MaxContact)
	if err != nil {
		return "", err
	}
	if checker.Var(s, "required,email") == nil || phoneRe.MatchString(s) {
		return s, nil
	}
	return "", fail("contact", "contact must be an e-mail address or a phone number")
}

// Filename makes s safe to use as a file name. It never fails.
func Filename(s string) string {
	s = filenameRe.ReplaceAllString(s, "_")
	if utf8.RuneCountInString(s) > MaxFilename {
		s = string([]rune(s)[:MaxFilename])
	}
	s = strings.Trim(s, " .")
	if s == "" {
		return "default"
	}
	return s
}

// PageCount parses s as a page count within [1, limit].
func PageCount(s string, limit int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fail("page_count", "page count must be a whole number")
	}
	if n < 1 || n > limit {
		return 0, fail("page_count", "page count must be between 1 and %d", limit)
	}
	return n, nil
}
