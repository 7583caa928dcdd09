// Package plan builds and normalizes document plans: the ordered list of
// section titles a document is generated from.
package plan

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Boundary titles forced onto plans that do not open or close properly.
const (
	Introduction = "Introduction"
	Conclusion   = "Conclusion"
)

// Role is the structural role of a section.
type Role int

const (
	Body Role = iota
	Opening
	Closing
)

var (
	numberRe = regexp.MustCompile(`^\s*\d+\s*[.)]?\s*`)
	bulletRe = regexp.MustCompile(`^\s*[-*•]+\s*`)
)

// Length is the number of sections of an automatic plan for pages pages.
func Length(pages int) int {
	return max(3, pages/2)
}

// Classify returns the role of a section title.
func Classify(title string) Role {
	t := strings.ToLower(title)
	switch {
	case strings.Contains(t, "introduc") || strings.HasPrefix(t, "intro"):
		return Opening
	case strings.Contains(t, "conclu") || strings.Contains(t, "summary") || strings.Contains(t, "final remarks"):
		return Closing
	default:
		return Body
	}
}

// Coerce forces the first entry to be an opening and the last a closing
// section. Plans with fewer than two entries are returned unchanged.
func Coerce(entries []string) []string {
	if len(entries) < 2 {
		return entries
	}
	out := append([]string(nil), entries...)
	if Classify(out[0]) != Opening {
		out[0] = Introduction
	}
	if Classify(out[len(out)-1]) != Closing {
		out[len(out)-1] = Conclusion
	}
	return out
}

// Fit pads or truncates entries to Length(pages) and coerces the boundaries.
func Fit(entries []string, pages int) []string {
	n := Length(pages)
	out := make([]string, 0, n)
	for _, e := range entries {
		if len(out) == n {
			break
		}
		out = append(out, e)
	}
	for len(out) < n {
		out = append(out, fmt.Sprintf("Section %d", len(out)+1))
	}
	return Coerce(out)
}

// Skeleton is the plan used when no plan could be derived.
func Skeleton(pages int) []string {
	n := Length(pages)
	out := make([]string, 0, n)
	out = append(out, Introduction)
	for i := 1; i <= n-2; i++ {
		out = append(out, fmt.Sprintf("Chapter %d", i))
	}
	return append(out, Conclusion)
}

// Parse extracts section titles from provider output. A JSON array of
// strings is accepted; otherwise every non-empty line is an entry.
func Parse(output string) []string {
	output = strings.TrimSpace(output)
	var arr []string
	if strings.HasPrefix(output, "[") && json.Unmarshal([]byte(output), &arr) == nil {
		return clean(arr)
	}
	return clean(strings.Split(output, "\n"))
}

// ParseCustom splits user supplied plan text into entries.
func ParseCustom(text string) []string {
	return clean(strings.Split(text, "\n"))
}

func clean(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		l = bulletRe.ReplaceAllString(l, "")
		l = numberRe.ReplaceAllString(l, "")
		l = strings.Trim(StripEmoji(l), " \t*#\"")
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// StripEmoji removes emoji and pictographic symbols from s.
func StripEmoji(s string) string {
	return strings.Map(func(r rune) rune {
		if isEmoji(r) {
			return -1
		}
		return r
	}, s)
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF,
		r >= 0x2600 && r <= 0x27BF,
		r >= 0x2B00 && r <= 0x2BFF,
		r >= 0xFE00 && r <= 0xFE0F,
		r == 0x200D:
		return true
	}
	return false
}

// Advise returns a non-blocking remark when a custom plan size does not
// match the page count, or "" when it looks right.
func Advise(entries, pages int) string {
	want := max(1, pages/2)
	switch {
	case entries < want:
		return fmt.Sprintf("Your plan has %d sections; about %d are recommended for %d pages. Sections will be longer.", entries, want, pages)
	case float64(entries) > float64(want)*1.5:
		return fmt.Sprintf("Your plan has %d sections; about %d are recommended for %d pages. Sections will be shorter.", entries, want, pages)
	}
	return ""
}

// WordsPerSection is the target length of each section.
func WordsPerSection(pages, sections int) int {
	if sections <= 0 {
		return 0
	}
	floor := 400
	switch {
	case pages <= 2:
		floor = 200
	case pages <= 5:
		floor = 300
	}
	return max(floor, pages*275/sections)
}
